// Package poll runs the fetch, extract, and announce cycle on a fixed cadence.
package poll

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"specials-notifier/dispatch"
	"specials-notifier/metrics"
	"specials-notifier/pkg/notifier"
	"specials-notifier/scraper"
	"time"
)

// Fetcher retrieves the raw menu document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Store persists announced snapshots.
type Store interface {
	RecordSnapshot(ctx context.Context, label string, items []string, now time.Time) (int, error)
	LatestLabel(ctx context.Context) (label string, ok bool, err error)
}

// Dispatcher broadcasts alerts to the current audience.
type Dispatcher interface {
	BroadcastToAudience(ctx context.Context, message string) (int, error)
}

// Config holds monitor configuration. Store and Dispatcher are optional.
type Config struct {
	Fetcher    Fetcher
	Store      Store
	Dispatcher Dispatcher
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
	URL        string
	Category   string
	Keyword    string
	DateIndex  int
	Interval   time.Duration
}

// Monitor owns the last announced label and drives poll cycles.
type Monitor struct {
	fetcher    Fetcher
	store      Store
	dispatcher Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	trigger    chan struct{}
	lastLabel  *string
	url        string
	category   string
	keyword    string
	dateIndex  int
	interval   time.Duration
}

// New creates a new poll monitor.
func New(cfg Config) *Monitor {
	m := &Monitor{
		fetcher:    cfg.Fetcher,
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		now:        cfg.Now,
		trigger:    make(chan struct{}, 1),
		url:        cfg.URL,
		category:   cfg.Category,
		keyword:    cfg.Keyword,
		dateIndex:  cfg.DateIndex,
		interval:   cfg.Interval,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Trigger requests an immediate cycle. It returns false when one is already pending.
func (m *Monitor) Trigger() bool {
	select {
	case m.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run restores the last announced label and polls until ctx is cancelled.
// It returns nil on cancellation and the fatal error otherwise.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.restore(ctx); err != nil {
		m.logger.Warn("Failed to restore last announced label, starting fresh", "error", err)
	}

	m.logger.Info("Poll loop started",
		"url", m.url,
		"category", m.category,
		"keyword", m.keyword,
		"interval", m.interval.String())

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Poll loop stopping", "reason", ctx.Err())
			return nil
		case <-timer.C:
		case <-m.trigger:
			m.logger.Info("Manual poll triggered")
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		if _, err := m.Cycle(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				m.logger.Info("Poll loop stopping during fetch", "reason", ctx.Err())
				return nil
			}
			if scraper.IsFatal(err) {
				return err
			}
			m.logger.Warn("Poll cycle failed", "error", err)
		}
		timer.Reset(m.interval)
	}
}

func (m *Monitor) restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	label, ok, err := m.store.LatestLabel(ctx)
	if err != nil {
		return fmt.Errorf("load latest label: %w", err)
	}
	if ok {
		m.lastLabel = &label
		m.logger.Info("Restored last announced label", "date_label", label)
	}
	return nil
}

// Cycle runs one fetch and extract pass and announces a changed date label.
// Once a change is detected the rest of the cycle ignores cancellation of ctx.
func (m *Monitor) Cycle(ctx context.Context) (announced bool, err error) {
	start := m.now()

	raw, err := m.fetcher.Fetch(ctx, m.url)
	if err != nil {
		m.metrics.FetchFailed()
		m.metrics.Cycle("error")
		return false, fmt.Errorf("fetch menu: %w", err)
	}

	snap, err := scraper.Extract(bytes.NewReader(raw), m.category, m.dateIndex)
	if err != nil {
		m.metrics.Cycle("error")
		return false, fmt.Errorf("extract menu: %w", err)
	}

	if !HasChanged(snap.DateLabel, m.lastLabel) {
		m.logger.Debug("Menu unchanged", "date_label", snap.DateLabel, "items", len(snap.Items))
		m.metrics.Cycle("unchanged")
		return false, nil
	}

	m.announce(context.WithoutCancel(ctx), snap, start)
	label := snap.DateLabel
	m.lastLabel = &label
	m.metrics.Cycle("announced")
	m.metrics.Announced(float64(start.Unix()))
	return true, nil
}

func (m *Monitor) announce(ctx context.Context, snap *notifier.Snapshot, now time.Time) {
	if m.store != nil {
		inserted, err := m.store.RecordSnapshot(ctx, snap.DateLabel, snap.Items, now)
		if err != nil {
			m.logger.Error("Failed to record snapshot", "date_label", snap.DateLabel, "error", err)
		} else {
			m.logger.Info("Snapshot recorded", "date_label", snap.DateLabel, "inserted", inserted)
		}
	}

	m.logger.Info("Menu changed", "date_label", snap.DateLabel, "summary", dispatch.Summary(snap, m.category, m.keyword))

	if !dispatch.KeywordPresent(snap.Items, m.keyword) {
		return
	}
	if m.dispatcher == nil {
		m.logger.Info("Keyword present but no dispatcher configured", "keyword", m.keyword)
		return
	}

	sent, err := m.dispatcher.BroadcastToAudience(ctx, dispatch.Announcement(snap, m.category, m.keyword))
	if err != nil {
		m.logger.Warn("Announcement broadcast incomplete", "sent", sent, "error", err)
		return
	}
	m.logger.Info("Announcement broadcast", "sent", sent)
}
