package scraper

import (
	"io"
	"specials-notifier/pkg/notifier"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	sectionSelector      = ".menu-section"
	sectionTitleSelector = ".menu-section-header .menu-section-title"
	itemTitleSelector    = ".menu-item-title"

	// The first section carries the day name, the short date and the long date.
	dateLabelCount = 3
)

// Extract parses a menu page into the snapshot for one category.
// dateIndex selects which of the three date labels in the first section is used.
// A first section without exactly three labels yields an empty DateLabel.
func Extract(r io.Reader, category string, dateIndex int) (*notifier.Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}

	sections := doc.Find(sectionSelector)
	if sections.Length() == 0 {
		return nil, &ParseError{Reason: "no menu sections found"}
	}

	snap := &notifier.Snapshot{}

	labels := sections.First().Find(itemTitleSelector)
	if labels.Length() == dateLabelCount && dateIndex >= 0 && dateIndex < dateLabelCount {
		snap.DateLabel = strings.TrimSpace(labels.Eq(dateIndex).Text())
	}

	target := normalize(category)
	sections.Slice(1, goquery.ToEnd).Each(func(_ int, s *goquery.Selection) {
		title := s.Find(sectionTitleSelector).First().Text()
		if normalize(title) != target {
			return
		}
		s.Find(itemTitleSelector).Each(func(_ int, item *goquery.Selection) {
			if name := strings.TrimSpace(item.Text()); name != "" {
				snap.Items = append(snap.Items, name)
			}
		})
	})

	return snap, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
