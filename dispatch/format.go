package dispatch

import (
	"fmt"
	"specials-notifier/pkg/notifier"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ShutdownNotice is broadcast when the service stops.
const ShutdownNotice = "The specials bot is going offline for a while. Alerts will resume when it is back."

// KeywordPresent reports whether keyword is one of items, ignoring case and surrounding whitespace.
func KeywordPresent(items []string, keyword string) bool {
	want := strings.ToLower(strings.TrimSpace(keyword))
	for _, item := range items {
		if strings.ToLower(strings.TrimSpace(item)) == want {
			return true
		}
	}
	return false
}

// Summary renders the numbered item list logged for every detected change.
func Summary(snap *notifier.Snapshot, category, keyword string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s specials on %s:\n", titleCase(category), displayLabel(snap.DateLabel))
	for i, item := range snap.Items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item)
	}
	verdict := "IS NOT"
	if KeywordPresent(snap.Items, keyword) {
		verdict = "IS"
	}
	fmt.Fprintf(&b, "%s %s on the specials menu for %s", titleCase(keyword), verdict, displayLabel(snap.DateLabel))
	return b.String()
}

// Announcement renders the alert broadcast to subscribers.
func Announcement(snap *notifier.Snapshot, category, keyword string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is on the specials menu for %s!\n\n", titleCase(keyword), displayLabel(snap.DateLabel))
	fmt.Fprintf(&b, "Today's %s specials:\n", strings.ToLower(category))
	b.WriteString(strings.Join(snap.Items, "\n"))
	return b.String()
}

func displayLabel(label string) string {
	if strings.TrimSpace(label) == "" {
		return "today"
	}
	return label
}

func titleCase(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
