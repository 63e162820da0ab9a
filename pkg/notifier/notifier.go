// Package notifier contains the core domain types for the specials notification service.
package notifier

import "time"

// Snapshot is one fetch-and-parse result for the watched menu category.
type Snapshot struct {
	DateLabel string   // Human-formatted date scraped from the menu, may be empty
	Items     []string // Item names in document order
}

// Announcement is the most recently persisted snapshot.
type Announcement struct {
	AnnouncedOn time.Time // Wall-clock time the announcement cycle ran
	DateLabel   string
	Items       []string
}

// SubscriptionState is the persisted opt-in flag of a subscriber.
type SubscriptionState int

const (
	StateNeverSet SubscriptionState = iota
	StateSubscribed
	StateUnsubscribed
)

func (s SubscriptionState) String() string {
	switch s {
	case StateSubscribed:
		return "subscribed"
	case StateUnsubscribed:
		return "unsubscribed"
	default:
		return "never-set"
	}
}

// Active reports whether the subscriber should receive broadcasts.
func (s SubscriptionState) Active() bool {
	return s == StateSubscribed
}

// Subscriber is a chat that has contacted the bot at least once.
type Subscriber struct {
	ChatID string
	State  SubscriptionState
}
