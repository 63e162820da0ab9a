// Package telegram connects the dispatcher to the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Handler answers one inbound text message. An empty reply sends nothing.
type Handler func(ctx context.Context, chatID, text string) (string, error)

// Config holds adapter settings.
type Config struct {
	Token             string
	PollTimeout       time.Duration // Long-poll timeout; defaults to 10s
	CommandsPerMinute int           // Per-chat inbound limit; 0 disables
	APIURL            string        // Bot API endpoint; empty uses the public one
	Offline           bool          // Skip the getMe call at construction
}

// Adapter sends and receives Telegram messages.
type Adapter struct {
	bot     *tele.Bot
	logger  *slog.Logger
	limiter *rateLimiter

	mu      sync.Mutex
	running bool
}

// New creates a bot client. Unless cfg.Offline is set the token is verified with Telegram.
func New(cfg Config, logger *slog.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: cfg.Offline,
		OnError: func(err error, c tele.Context) {
			logger.Warn("Telegram handler error", "error", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	a := &Adapter{bot: b, logger: logger}
	if cfg.CommandsPerMinute > 0 {
		a.limiter = newRateLimiter(cfg.CommandsPerMinute, time.Minute)
	}
	return a, nil
}

// Send delivers text to the chat with the given numeric ID.
func (a *Adapter) Send(ctx context.Context, chatID, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := a.bot.Send(tele.ChatID(id), text); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Listen long-polls for inbound text and replies with the result of handle.
// It blocks until ctx is cancelled.
func (a *Adapter) Listen(ctx context.Context, handle Handler) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errors.New("telegram listener already running")
	}
	a.running = true
	a.mu.Unlock()

	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		return a.onText(ctx, c, handle)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.logger.Info("Telegram polling started")
		a.bot.Start() // blocks until Stop
	}()

	<-ctx.Done()
	a.bot.Stop()
	<-done

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
	a.logger.Info("Telegram polling stopped")
	return nil
}

func (a *Adapter) onText(ctx context.Context, c tele.Context, handle Handler) error {
	chat := c.Chat()
	if chat == nil {
		return nil
	}
	chatID := strconv.FormatInt(chat.ID, 10)

	if a.limiter != nil && !a.limiter.allow(chatID) {
		a.logger.Warn("Command rate limit exceeded", "chat_id", chatID)
		return nil
	}

	reply, err := handle(ctx, chatID, c.Text())
	if err != nil {
		a.logger.Error("Command failed", "chat_id", chatID, "error", err)
	}
	if reply == "" {
		return nil
	}
	if err := c.Send(reply); err != nil {
		return fmt.Errorf("reply to %s: %w", chatID, err)
	}
	return nil
}
