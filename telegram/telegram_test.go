package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// botAPI records sendMessage calls and answers like the Bot API.
type botAPI struct {
	mu   sync.Mutex
	sent []map[string]any
}

func (b *botAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			http.NotFound(w, r)
			return
		}
		var params map[string]any
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Errorf("decode request: %v", err)
		}
		b.mu.Lock()
		b.sent = append(b.sent, params)
		b.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if _, err := io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"ok"}}`); err != nil {
			t.Errorf("write response: %v", err)
		}
	}
}

func (b *botAPI) messages() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]any(nil), b.sent...)
}

func newTestAdapter(t *testing.T, perMinute int) (*Adapter, *botAPI) {
	t.Helper()
	api := &botAPI{}
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	a, err := New(Config{
		Token:             "123:test",
		APIURL:            srv.URL,
		Offline:           true,
		CommandsPerMinute: perMinute,
	}, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a, api
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{Token: "  ", Offline: true}, testLogger()); err == nil {
		t.Error("New() error = nil, want error for empty token")
	}
}

func TestSend(t *testing.T) {
	a, api := newTestAdapter(t, 0)

	if err := a.Send(context.Background(), "42", "Vodka pizza is on the menu!"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	got := api.messages()
	if len(got) != 1 {
		t.Fatalf("sendMessage calls = %d, want 1", len(got))
	}
	if got[0]["chat_id"] != "42" || got[0]["text"] != "Vodka pizza is on the menu!" {
		t.Errorf("sendMessage params = %v", got[0])
	}
}

func TestSendInvalidChatID(t *testing.T) {
	a, api := newTestAdapter(t, 0)

	if err := a.Send(context.Background(), "not-a-number", "hi"); err == nil {
		t.Error("Send() error = nil, want invalid chat id")
	}
	if len(api.messages()) != 0 {
		t.Error("Send() reached the API with an invalid chat id")
	}
}

func TestSendCancelled(t *testing.T) {
	a, api := newTestAdapter(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := a.Send(ctx, "42", "hi"); err == nil {
		t.Error("Send() error = nil, want context error")
	}
	if len(api.messages()) != 0 {
		t.Error("Send() reached the API after cancellation")
	}
}

func TestOnTextRepliesAndLimits(t *testing.T) {
	a, api := newTestAdapter(t, 2)

	var mu sync.Mutex
	var seen []string
	handle := func(ctx context.Context, chatID, text string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, chatID+":"+text)
		return "reply to " + text, nil
	}

	for _, text := range []string{"/start", "specials", "stop"} {
		c := a.bot.NewContext(tele.Update{Message: &tele.Message{
			Chat: &tele.Chat{ID: 42, Type: tele.ChatPrivate},
			Text: text,
		}})
		if err := a.onText(context.Background(), c, handle); err != nil {
			t.Fatalf("onText(%q) error = %v", text, err)
		}
	}

	if want := []string{"42:/start", "42:specials"}; strings.Join(seen, ",") != strings.Join(want, ",") {
		t.Errorf("handled = %v, want %v (third dropped by limit)", seen, want)
	}
	if got := api.messages(); len(got) != 2 || got[1]["text"] != "reply to specials" {
		t.Errorf("replies = %v, want two", got)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2025, 10, 17, 12, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	tests := []struct {
		advance time.Duration
		key     string
		want    bool
	}{
		{0, "a", true},
		{10 * time.Second, "a", true},
		{10 * time.Second, "a", false},
		{0, "b", true},
		{41 * time.Second, "a", true}, // first event left the window
		{0, "a", false},
	}
	for i, tt := range tests {
		now = now.Add(tt.advance)
		if got := rl.allow(tt.key); got != tt.want {
			t.Errorf("step %d: allow(%q) = %v, want %v", i, tt.key, got, tt.want)
		}
	}
}

func TestRateLimiterEvictsIdleChats(t *testing.T) {
	now := time.Date(2025, 10, 17, 12, 0, 0, 0, time.UTC)
	rl := newRateLimiter(5, time.Minute)
	rl.now = func() time.Time { return now }

	for i := range 50 {
		rl.allow(fmt.Sprintf("idle-%d", i))
	}
	now = now.Add(2 * time.Minute)

	for range sweepEvery {
		rl.allow("active")
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.clients) != 1 {
		t.Errorf("tracked chats = %d, want 1 after idle chats left the window", len(rl.clients))
	}
	if _, ok := rl.clients["active"]; !ok {
		t.Error("active chat was evicted")
	}
}
