// Package storage handles persistence of announced specials and subscribers.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"specials-notifier/pkg/notifier"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Fixed width so that text ordering matches time ordering.
const timestampLayout = "2006-01-02 15:04:05.000000000"

// PersistenceError reports a failed storage operation after its transaction was rolled back.
type PersistenceError struct {
	Err error
	Op  string
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistenceError checks if an error came from a failed storage operation.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// Store persists specials history and subscriber state in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: the poll loop and the command listener serialize their writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			logger.Warn("Failed to apply pragma", "pragma", pragma, "error", err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	logger.Info("Database ready", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withTx runs fn in a transaction, rolling back on any error.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: op, Err: fmt.Errorf("begin: %w", err)}
	}
	defer func() {
		// No-op after a successful commit.
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return &PersistenceError{Op: op, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: op, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

// RecordSnapshot stores the items announced for label. Rows that already
// exist for (label, item) are left untouched, so repeated calls are no-ops.
// It returns the number of newly inserted rows.
func (s *Store) RecordSnapshot(ctx context.Context, label string, items []string, now time.Time) (int, error) {
	created := now.UTC().Format(timestampLayout)
	var inserted int

	err := s.withTx(ctx, "record snapshot", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO specials(created, sp_date, sp_name) VALUES(?, ?, ?)
			 ON CONFLICT(sp_date, sp_name) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer func() {
			if closeErr := stmt.Close(); closeErr != nil {
				s.logger.Warn("Failed to close statement", "error", closeErr)
			}
		}()

		for _, item := range items {
			res, err := stmt.ExecContext(ctx, created, label, item)
			if err != nil {
				return fmt.Errorf("insert %q: %w", item, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("Snapshot recorded", "date_label", label, "items", len(items), "inserted", inserted)
	return inserted, nil
}

// SetSubscription creates the subscriber if needed and sets its flag.
func (s *Store) SetSubscription(ctx context.Context, chatID string, subscribed bool) error {
	err := s.withTx(ctx, "set subscription", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO subscribers(telegram_chat_id, is_subscribing) VALUES(?, ?)
			 ON CONFLICT(telegram_chat_id) DO UPDATE SET is_subscribing = excluded.is_subscribing`,
			chatID, subscribed)
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Info("Subscription updated", "chat_id", chatID, "subscribed", subscribed)
	return nil
}

// Touch records a chat on first contact without setting its subscription flag.
func (s *Store) Touch(ctx context.Context, chatID string) error {
	return s.withTx(ctx, "touch subscriber", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO subscribers(telegram_chat_id, is_subscribing) VALUES(?, NULL)
			 ON CONFLICT(telegram_chat_id) DO NOTHING`,
			chatID)
		return err
	})
}

// Subscription returns the stored state for chatID; unknown chats are StateNeverSet.
func (s *Store) Subscription(ctx context.Context, chatID string) (notifier.SubscriptionState, error) {
	var flag sql.NullBool
	err := s.db.QueryRowContext(ctx,
		`SELECT is_subscribing FROM subscribers WHERE telegram_chat_id = ?`, chatID).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return notifier.StateNeverSet, nil
	}
	if err != nil {
		return notifier.StateNeverSet, &PersistenceError{Op: "load subscription", Err: err}
	}

	switch {
	case !flag.Valid:
		return notifier.StateNeverSet, nil
	case flag.Bool:
		return notifier.StateSubscribed, nil
	default:
		return notifier.StateUnsubscribed, nil
	}
}

// ActiveSubscribers lists chats whose subscription flag is true.
func (s *Store) ActiveSubscribers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT telegram_chat_id FROM active_subscribers ORDER BY telegram_chat_id`)
	if err != nil {
		return nil, &PersistenceError{Op: "list active subscribers", Err: err}
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("Failed to close rows", "error", closeErr)
		}
	}()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &PersistenceError{Op: "list active subscribers", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list active subscribers", Err: err}
	}
	return ids, nil
}

// Subscribers lists every chat that has contacted the bot, with its state.
func (s *Store) Subscribers(ctx context.Context) ([]notifier.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT telegram_chat_id, is_subscribing FROM subscribers ORDER BY telegram_chat_id`)
	if err != nil {
		return nil, &PersistenceError{Op: "list subscribers", Err: err}
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("Failed to close rows", "error", closeErr)
		}
	}()

	var subs []notifier.Subscriber
	for rows.Next() {
		var sub notifier.Subscriber
		var flag sql.NullBool
		if err := rows.Scan(&sub.ChatID, &flag); err != nil {
			return nil, &PersistenceError{Op: "list subscribers", Err: err}
		}
		switch {
		case !flag.Valid:
			sub.State = notifier.StateNeverSet
		case flag.Bool:
			sub.State = notifier.StateSubscribed
		default:
			sub.State = notifier.StateUnsubscribed
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list subscribers", Err: err}
	}
	return subs, nil
}

// LatestLabel returns the date label of the most recent announcement.
// ok is false when nothing has been recorded yet.
func (s *Store) LatestLabel(ctx context.Context) (label string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT sp_date FROM specials ORDER BY created DESC, rowid DESC LIMIT 1`).Scan(&label)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &PersistenceError{Op: "latest label", Err: err}
	}
	return label, true, nil
}

// LatestItems returns every item recorded in the most recent announcement, in insertion order.
func (s *Store) LatestItems(ctx context.Context) ([]string, error) {
	a, err := s.LatestAnnouncement(ctx)
	if err != nil || a == nil {
		return nil, err
	}
	return a.Items, nil
}

// LatestAnnouncement returns the most recent announcement, or nil if there is none.
func (s *Store) LatestAnnouncement(ctx context.Context) (*notifier.Announcement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT created, sp_date, sp_name FROM specials
		 WHERE created = (SELECT MAX(created) FROM specials)
		 ORDER BY rowid`)
	if err != nil {
		return nil, &PersistenceError{Op: "latest announcement", Err: err}
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("Failed to close rows", "error", closeErr)
		}
	}()

	var a *notifier.Announcement
	for rows.Next() {
		var created, label, name string
		if err := rows.Scan(&created, &label, &name); err != nil {
			return nil, &PersistenceError{Op: "latest announcement", Err: err}
		}
		if a == nil {
			at, err := parseTimestamp(created)
			if err != nil {
				return nil, &PersistenceError{Op: "latest announcement", Err: err}
			}
			a = &notifier.Announcement{AnnouncedOn: at, DateLabel: label}
		}
		a.Items = append(a.Items, name)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "latest announcement", Err: err}
	}
	return a, nil
}

// parseTimestamp accepts both the stored layout and the RFC 3339 form
// database/sql produces when the driver hands back a time.Time.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{timestampLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
