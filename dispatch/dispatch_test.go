package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"specials-notifier/pkg/notifier"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu           sync.Mutex
	states       map[string]notifier.SubscriptionState
	announcement *notifier.Announcement
	setErr       error
	touched      []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: make(map[string]notifier.SubscriptionState)}
}

func (f *fakeStore) SetSubscription(ctx context.Context, chatID string, subscribed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	if subscribed {
		f.states[chatID] = notifier.StateSubscribed
	} else {
		f.states[chatID] = notifier.StateUnsubscribed
	}
	return nil
}

func (f *fakeStore) Touch(ctx context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched = append(f.touched, chatID)
	if _, ok := f.states[chatID]; !ok {
		f.states[chatID] = notifier.StateNeverSet
	}
	return nil
}

func (f *fakeStore) Subscription(ctx context.Context, chatID string) (notifier.SubscriptionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[chatID], nil
}

func (f *fakeStore) ActiveSubscribers(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, s := range f.states {
		if s.Active() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeStore) LatestAnnouncement(ctx context.Context) (*notifier.Announcement, error) {
	return f.announcement, nil
}

// fakeProvider records sends and fails for chat IDs listed in fail.
type fakeProvider struct {
	mu   sync.Mutex
	sent map[string][]string
	fail map[string]bool
}

func (p *fakeProvider) Send(ctx context.Context, chatID, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[chatID] {
		return errors.New("chat not found")
	}
	if p.sent == nil {
		p.sent = make(map[string][]string)
	}
	p.sent[chatID] = append(p.sent[chatID], text)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBroadcastContinuesPastFailures(t *testing.T) {
	p := &fakeProvider{fail: map[string]bool{"2": true}}
	d := New(&Config{Provider: p, Logger: testLogger()})

	sent, err := d.Broadcast(context.Background(), "hello", []string{"1", "2", "3"})
	if sent != 2 {
		t.Errorf("Broadcast() sent = %d, want 2", sent)
	}

	var de *DeliveryError
	if !errors.As(err, &de) {
		t.Fatalf("Broadcast() error = %v, want DeliveryError", err)
	}
	if de.ChatID != "2" {
		t.Errorf("DeliveryError.ChatID = %q, want %q", de.ChatID, "2")
	}
	if len(p.sent["1"]) != 1 || len(p.sent["3"]) != 1 {
		t.Errorf("sent = %v, want one message each to 1 and 3", p.sent)
	}
}

func TestBroadcastWithoutProvider(t *testing.T) {
	d := New(&Config{Logger: testLogger()})
	sent, err := d.Broadcast(context.Background(), "hello", []string{"1"})
	if sent != 0 || !errors.Is(err, ErrNoProvider) {
		t.Errorf("Broadcast() = %d, %v; want 0, ErrNoProvider", sent, err)
	}
}

func TestBroadcastRateLimited(t *testing.T) {
	p := &fakeProvider{}
	d := New(&Config{Provider: p, Logger: testLogger(), RatePerSecond: 50})

	start := time.Now()
	sent, err := d.Broadcast(context.Background(), "hi", []string{"1", "2", "3", "4"})
	if err != nil || sent != 4 {
		t.Fatalf("Broadcast() = %d, %v; want 4, nil", sent, err)
	}
	// First send uses the initial token, three more wait ~20ms each.
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("elapsed = %v, want pacing of at least 50ms", elapsed)
	}
}

func TestAudienceMergesStaticAndActive(t *testing.T) {
	store := newFakeStore()
	store.states["a"] = notifier.StateSubscribed
	store.states["b"] = notifier.StateUnsubscribed
	store.states["static-1"] = notifier.StateSubscribed

	d := New(&Config{Store: store, Logger: testLogger(), StaticRecipients: []string{"static-1", "static-2", "static-1"}})
	got, err := d.Audience(context.Background())
	if err != nil {
		t.Fatalf("Audience() error = %v", err)
	}
	want := []string{"static-1", "static-2", "a"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Audience() = %q, want %q", got, want)
	}
}

func TestAudienceWithoutStore(t *testing.T) {
	d := New(&Config{Logger: testLogger(), StaticRecipients: []string{"x"}})
	got, err := d.Audience(context.Background())
	if err != nil || !reflect.DeepEqual(got, []string{"x"}) {
		t.Errorf("Audience() = %q, %v; want [x], nil", got, err)
	}
}

func TestBroadcastToAudience(t *testing.T) {
	store := newFakeStore()
	store.states["a"] = notifier.StateSubscribed
	p := &fakeProvider{}
	d := New(&Config{Provider: p, Store: store, Logger: testLogger(), StaticRecipients: []string{"s"}})

	sent, err := d.BroadcastToAudience(context.Background(), ShutdownNotice)
	if err != nil || sent != 2 {
		t.Fatalf("BroadcastToAudience() = %d, %v; want 2, nil", sent, err)
	}
	if p.sent["a"][0] != ShutdownNotice {
		t.Errorf("sent %q, want shutdown notice", p.sent["a"][0])
	}
}

func TestKeywordPresent(t *testing.T) {
	tests := []struct {
		name    string
		items   []string
		keyword string
		want    bool
	}{
		{"padded mixed case", []string{" Vodka Pizza ", "Cheese"}, "vodka pizza", true},
		{"keyword padded", []string{"Vodka Pizza"}, "  VODKA PIZZA ", true},
		{"substring is not a match", []string{"Spicy Vodka Pizza"}, "vodka pizza", false},
		{"absent", []string{"Margherita"}, "vodka pizza", false},
		{"empty list", nil, "vodka pizza", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KeywordPresent(tt.items, tt.keyword); got != tt.want {
				t.Errorf("KeywordPresent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSummary(t *testing.T) {
	snap := &notifier.Snapshot{DateLabel: "Friday, October 17", Items: []string{"Vodka Pizza", "Clam Pie"}}
	got := Summary(snap, "pizza", "vodka pizza")

	for _, want := range []string{
		"Pizza specials on Friday, October 17:",
		"1. Vodka Pizza",
		"2. Clam Pie",
		"Vodka pizza IS on the specials menu for Friday, October 17",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Summary() missing %q in:\n%s", want, got)
		}
	}

	snap.Items = []string{"Clam Pie"}
	if got := Summary(snap, "pizza", "vodka pizza"); !strings.Contains(got, "IS NOT") {
		t.Errorf("Summary() = %q, want IS NOT verdict", got)
	}
}

func TestAnnouncement(t *testing.T) {
	snap := &notifier.Snapshot{DateLabel: "", Items: []string{"Vodka Pizza", "Clam Pie"}}
	got := Announcement(snap, "Pizza", "vodka pizza")
	if !strings.HasPrefix(got, "Vodka pizza is on the specials menu for today!") {
		t.Errorf("Announcement() = %q", got)
	}
	if !strings.HasSuffix(got, "Vodka Pizza\nClam Pie") {
		t.Errorf("Announcement() = %q, want item list at the end", got)
	}
}

func TestTitleCase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"vodka pizza", "Vodka pizza"},
		{"  pizza ", "Pizza"},
		{"ñoquis", "Ñoquis"},
		{"éclair", "Éclair"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := titleCase(tt.in)
			if got != tt.want {
				t.Errorf("titleCase(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("titleCase(%q) = %q is not valid UTF-8", tt.in, got)
			}
		})
	}
}
