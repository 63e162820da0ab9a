// Package main runs a service that watches a restaurant's specials menu and
// alerts Telegram subscribers when a chosen item is on it.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"specials-notifier/config"
	"specials-notifier/dispatch"
	"specials-notifier/metrics"
	"specials-notifier/poll"
	"specials-notifier/scraper"
	"specials-notifier/server"
	"specials-notifier/storage"
	"specials-notifier/telegram"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownNoticeTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("specials-notifier", flag.ContinueOnError)
	configPath := fs.String("config", "config.json", "path to the JSON or YAML config file")
	token := fs.String("telegram-api-key", "", "Telegram bot token (overrides "+config.TokenEnv+")")
	dbPath := fs.String("db", "", "SQLite database path (overrides db-path)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "path", *configPath, "error", err)
		return 1
	}
	if *token != "" {
		cfg.TelegramToken = *token
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid config", "path", *configPath, "error", err)
		return 1
	}

	logger := newLogger(stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("Service stopped with error", "error", err)
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	store, err := storage.Open(ctx, cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close storage", "error", err)
		}
	}()

	var provider dispatch.Provider
	var bot *telegram.Adapter
	if cfg.TelegramToken == "" {
		logger.Info("Mock message mode enabled (no " + config.TokenEnv + ")")
		provider = dispatch.NewMockProvider(logger)
	} else {
		bot, err = telegram.New(telegram.Config{
			Token:             cfg.TelegramToken,
			CommandsPerMinute: cfg.CommandsPerMin,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect to telegram: %w", err)
		}
		provider = bot
	}

	d := dispatch.New(&dispatch.Config{
		Provider:         provider,
		Store:            store,
		Logger:           logger,
		Metrics:          m,
		Location:         loc,
		Keyword:          cfg.Keyword,
		Category:         cfg.Category,
		StaticRecipients: cfg.Recipients,
		RatePerSecond:    cfg.BroadcastRate,
	})

	fetcher := scraper.NewFetcher(&http.Client{Timeout: 30 * time.Second}, logger, cfg.RetryLimit, cfg.RetryWait())
	monitor := poll.New(poll.Config{
		Fetcher:    fetcher,
		Store:      store,
		Dispatcher: d,
		Logger:     logger,
		Metrics:    m,
		URL:        cfg.MenuURL,
		Category:   cfg.Category,
		Keyword:    cfg.Keyword,
		DateIndex:  cfg.DateIndex,
		Interval:   cfg.PollInterval(),
	})

	srv := server.New(&server.Config{
		Store:    store,
		Poller:   monitor,
		Gatherer: reg,
		Logger:   logger,
		Addr:     cfg.HTTPAddr,
	})

	// Side activities stop with the poll loop, whichever way it ends.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Run(runCtx); err != nil {
			logger.Error("HTTP server failed", "error", err)
		}
	}()
	if bot != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bot.Listen(runCtx, d.HandleCommand); err != nil {
				logger.Error("Telegram listener failed", "error", err)
			}
		}()
	}

	notify(logger, daemon.SdNotifyReady)
	runErr := monitor.Run(runCtx)
	notify(logger, daemon.SdNotifyStopping)

	cancel()
	wg.Wait()

	noticeCtx, cancelNotice := context.WithTimeout(context.WithoutCancel(ctx), shutdownNoticeTimeout)
	defer cancelNotice()
	if sent, err := d.BroadcastToAudience(noticeCtx, dispatch.ShutdownNotice); err != nil {
		logger.Warn("Shutdown notice incomplete", "sent", sent, "error", err)
	} else {
		logger.Info("Shutdown notice sent", "sent", sent)
	}

	return runErr
}

// notify reports service state to systemd; it does nothing outside systemd.
func notify(logger *slog.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		logger.Warn("Failed to notify systemd", "state", state, "error", err)
	}
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
