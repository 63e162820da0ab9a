// Package dispatch sends announcements to subscribers and answers their commands.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"specials-notifier/metrics"
	"specials-notifier/pkg/notifier"
	"time"

	"golang.org/x/time/rate"
)

// ErrNoProvider is returned by Broadcast when no chat transport is configured.
var ErrNoProvider = errors.New("no chat provider configured")

// Provider delivers a text message to one chat.
type Provider interface {
	Send(ctx context.Context, chatID, text string) error
}

// Store is the subscriber registry used by the dispatcher.
type Store interface {
	SetSubscription(ctx context.Context, chatID string, subscribed bool) error
	Touch(ctx context.Context, chatID string) error
	Subscription(ctx context.Context, chatID string) (notifier.SubscriptionState, error)
	ActiveSubscribers(ctx context.Context) ([]string, error)
	LatestAnnouncement(ctx context.Context) (*notifier.Announcement, error)
}

// DeliveryError reports a failed send to a single recipient.
type DeliveryError struct {
	Err    error
	ChatID string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Config holds dispatcher configuration. Provider and Store are optional.
type Config struct {
	Provider         Provider
	Store            Store
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
	Location         *time.Location   // Zone used for close-of-business; defaults to time.Local
	Now              func() time.Time // Defaults to time.Now
	Keyword          string           // Item that triggers alerts, e.g. "vodka pizza"
	Category         string           // Watched menu category, e.g. "pizza"
	StaticRecipients []string         // Always included in broadcasts
	RatePerSecond    float64          // Outbound pacing; 0 disables
}

// Dispatcher fans out messages and handles subscriber commands.
type Dispatcher struct {
	provider Provider
	store    Store
	logger   *slog.Logger
	metrics  *metrics.Metrics
	limiter  *rate.Limiter
	loc      *time.Location
	now      func() time.Time
	keyword  string
	category string
	static   []string
}

// New creates a new dispatcher.
func New(cfg *Config) *Dispatcher {
	d := &Dispatcher{
		provider: cfg.Provider,
		store:    cfg.Store,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		loc:      cfg.Location,
		now:      cfg.Now,
		keyword:  cfg.Keyword,
		category: cfg.Category,
		static:   cfg.StaticRecipients,
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.loc == nil {
		d.loc = time.Local
	}
	if d.now == nil {
		d.now = time.Now
	}
	if cfg.RatePerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return d
}

// Audience returns the static recipients followed by every active subscriber, without duplicates.
func (d *Dispatcher) Audience(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool, len(d.static))
	var out []string
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}

	for _, id := range d.static {
		add(id)
	}
	if d.store == nil {
		return out, nil
	}

	active, err := d.store.ActiveSubscribers(ctx)
	if err != nil {
		return out, fmt.Errorf("list active subscribers: %w", err)
	}
	for _, id := range active {
		add(id)
	}
	return out, nil
}

// Broadcast sends message to every chat in audience. A failed delivery does
// not stop the remaining ones; all failures are returned joined together.
func (d *Dispatcher) Broadcast(ctx context.Context, message string, audience []string) (int, error) {
	if d.provider == nil {
		d.logger.Warn("Broadcast skipped, no chat provider", "recipients", len(audience))
		return 0, ErrNoProvider
	}

	var errs []error
	sent := 0
	for _, chatID := range audience {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				errs = append(errs, &DeliveryError{ChatID: chatID, Err: err})
				d.metrics.Delivery(false)
				continue
			}
		}

		if err := d.provider.Send(ctx, chatID, message); err != nil {
			d.logger.Warn("Delivery failed", "chat_id", chatID, "error", err)
			errs = append(errs, &DeliveryError{ChatID: chatID, Err: err})
			d.metrics.Delivery(false)
			continue
		}
		sent++
		d.metrics.Delivery(true)
	}

	d.logger.Info("Broadcast finished",
		"recipients", len(audience),
		"sent", sent,
		"failed", len(errs))

	return sent, errors.Join(errs...)
}

// BroadcastToAudience resolves the current audience and broadcasts message to it.
func (d *Dispatcher) BroadcastToAudience(ctx context.Context, message string) (int, error) {
	audience, err := d.Audience(ctx)
	if err != nil {
		// Static recipients are still reachable.
		d.logger.Warn("Failed to resolve full audience", "error", err)
	}
	sent, sendErr := d.Broadcast(ctx, message, audience)
	return sent, errors.Join(err, sendErr)
}
