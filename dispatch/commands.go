package dispatch

import (
	"context"
	"fmt"
	"specials-notifier/pkg/notifier"
	"strings"
)

type command int

const (
	cmdOther command = iota
	cmdSubscribe
	cmdUnsubscribe
	cmdSpecials
)

func (c command) String() string {
	switch c {
	case cmdSubscribe:
		return "subscribe"
	case cmdUnsubscribe:
		return "unsubscribe"
	case cmdSpecials:
		return "specials"
	default:
		return "other"
	}
}

// parseCommand accepts plain words as well as Telegram-style "/stop@SomeBot".
func parseCommand(text string) command {
	t := strings.ToLower(strings.TrimSpace(text))
	if strings.HasPrefix(t, "/") {
		t = strings.TrimPrefix(t, "/")
		if i := strings.IndexByte(t, '@'); i >= 0 {
			t = t[:i]
		}
	}

	switch t {
	case "start", "subscribe":
		return cmdSubscribe
	case "stop", "unsubscribe":
		return cmdUnsubscribe
	case "specials":
		return cmdSpecials
	default:
		return cmdOther
	}
}

const (
	msgUnavailable = "Subscriptions are not available right now. Please try again later."
	msgFailure     = "Sorry, something went wrong on our side. Please try again in a few minutes."
)

// HandleCommand answers one inbound message from chatID. The subscribe and
// unsubscribe commands change the stored subscription; a storage failure
// still produces a reply for the chat along with the error.
func (d *Dispatcher) HandleCommand(ctx context.Context, chatID, text string) (string, error) {
	cmd := parseCommand(text)
	d.metrics.Command(cmd.String())

	state := notifier.StateNeverSet
	if d.store != nil {
		var err error
		state, err = d.store.Subscription(ctx, chatID)
		if err != nil {
			return msgFailure, fmt.Errorf("load subscription: %w", err)
		}
	}
	active := state.Active()

	d.logger.Info("Command received",
		"chat_id", chatID,
		"command", cmd.String(),
		"state", state.String())

	// Any first contact records the chat; subscribe writes the row itself.
	if d.store != nil && state == notifier.StateNeverSet && cmd != cmdSubscribe {
		if err := d.store.Touch(ctx, chatID); err != nil {
			d.logger.Warn("Failed to record new chat", "chat_id", chatID, "error", err)
		}
	}

	switch {
	case cmd == cmdSubscribe && !active:
		if d.store == nil {
			return msgUnavailable, nil
		}
		if err := d.store.SetSubscription(ctx, chatID, true); err != nil {
			return msgFailure, fmt.Errorf("subscribe %s: %w", chatID, err)
		}
		return d.welcome() + "\n\n" + d.footer(true), nil

	case cmd == cmdUnsubscribe && active:
		if err := d.store.SetSubscription(ctx, chatID, false); err != nil {
			return msgFailure, fmt.Errorf("unsubscribe %s: %w", chatID, err)
		}
		return d.goodbye() + "\n\n" + d.footer(false), nil

	case cmd == cmdSpecials:
		body, err := d.specials(ctx)
		if err != nil {
			return msgFailure, err
		}
		return body + "\n\n" + d.footer(active), nil

	case active:
		return d.footer(true), nil

	default:
		return d.intro() + "\n\n" + d.footer(false), nil
	}
}

func (d *Dispatcher) specials(ctx context.Context) (string, error) {
	if d.store == nil {
		return d.notYetAnnounced(), nil
	}

	a, err := d.store.LatestAnnouncement(ctx)
	if err != nil {
		return "", fmt.Errorf("load latest announcement: %w", err)
	}
	if a == nil || len(a.Items) == 0 {
		return d.notYetAnnounced(), nil
	}

	menuDate, ok := ParseMenuDate(a.DateLabel, a.AnnouncedOn, d.loc)
	if !ok {
		d.logger.Debug("Menu date label not parseable, using announcement date", "date_label", a.DateLabel)
	}
	cutoff := CloseOfBusiness(menuDate, d.loc)
	if !d.now().In(d.loc).Before(cutoff) {
		return d.notYetAnnounced(), nil
	}

	return fmt.Sprintf("%s %s specials:\n%s",
		menuDate.Format("Monday, January 2"),
		strings.ToLower(d.category),
		strings.Join(a.Items, "\n")), nil
}

func (d *Dispatcher) welcome() string {
	return fmt.Sprintf("You're subscribed! I'll message you whenever %s is on the %s specials menu.",
		strings.ToLower(d.keyword), strings.ToLower(d.category))
}

func (d *Dispatcher) goodbye() string {
	return fmt.Sprintf("You've been unsubscribed and won't get %s alerts anymore.", strings.ToLower(d.keyword))
}

func (d *Dispatcher) intro() string {
	return fmt.Sprintf("Hi! I watch the %s specials menu and send an alert when %s is on it.",
		strings.ToLower(d.category), strings.ToLower(d.keyword))
}

func (d *Dispatcher) notYetAnnounced() string {
	return fmt.Sprintf("Today's %s specials haven't been announced yet.", strings.ToLower(d.category))
}

func (d *Dispatcher) footer(active bool) string {
	if active {
		return fmt.Sprintf(`Send "stop" to unsubscribe, or "specials" to see the current %s specials.`, strings.ToLower(d.category))
	}
	return fmt.Sprintf(`Send "subscribe" to get %s alerts, or "specials" to see the current %s specials.`,
		strings.ToLower(d.keyword), strings.ToLower(d.category))
}
