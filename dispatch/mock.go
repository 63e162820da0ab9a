package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"
)

const mockPreviewRunes = 80

// MockProvider stands in for a chat transport when no bot token is configured.
// It logs a one-line preview of each message and counts deliveries per chat.
type MockProvider struct {
	logger *slog.Logger

	mu    sync.Mutex
	sends map[string]int
}

// NewMockProvider creates a new mock chat provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{logger: logger, sends: make(map[string]int)}
}

// Send records the message for chatID and logs a preview.
func (m *MockProvider) Send(ctx context.Context, chatID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.sends[chatID]++
	n := m.sends[chatID]
	m.mu.Unlock()

	m.logger.Info("MOCK MESSAGE",
		"chat_id", chatID,
		"seq", n,
		"lines", strings.Count(text, "\n")+1,
		"preview", preview(text))
	return nil
}

// Sent returns how many messages chatID has been sent.
func (m *MockProvider) Sent(chatID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sends[chatID]
}

// preview flattens text to one line and cuts it at mockPreviewRunes.
func preview(text string) string {
	flat := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(flat) <= mockPreviewRunes {
		return flat
	}
	return string([]rune(flat)[:mockPreviewRunes]) + "…"
}
