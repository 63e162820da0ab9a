package dispatch

import (
	"regexp"
	"strings"
	"time"
)

// Menu date labels as they appear on the page, most specific first.
var menuDateLayouts = []string{
	"Monday, January 2, 2006",
	"Monday, Jan 2, 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"1/2/2006",
	"Monday, January 2",
	"Monday, Jan 2",
	"Monday January 2",
	"Mon, Jan 2",
	"Mon Jan 2",
	"January 2",
	"Jan 2",
	"1/2",
}

var ordinalSuffix = regexp.MustCompile(`(\d)(st|nd|rd|th)\b`)

// ParseMenuDate interprets a scraped date label as a calendar date in loc.
// Labels without a year take the year of announcedOn, adjusted when that
// puts the menu date more than six months away. When the label matches no
// known layout the calendar date of announcedOn is returned and ok is false.
func ParseMenuDate(label string, announcedOn time.Time, loc *time.Location) (date time.Time, ok bool) {
	ref := announcedOn.In(loc)
	clean := strings.Join(strings.Fields(ordinalSuffix.ReplaceAllString(label, "$1")), " ")

	for _, layout := range menuDateLayouts {
		t, err := time.ParseInLocation(layout, clean, loc)
		if err != nil {
			continue
		}
		if strings.Contains(layout, "2006") {
			return t, true
		}

		t = time.Date(ref.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		switch {
		case t.After(ref.AddDate(0, 6, 0)):
			t = t.AddDate(-1, 0, 0)
		case t.Before(ref.AddDate(0, -6, 0)):
			t = t.AddDate(1, 0, 0)
		}
		return t, true
	}

	return time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, loc), false
}

// CloseOfBusiness returns when the menu for menuDate stops being current:
// 02:00 the following day, or 04:00 after a Friday or Saturday.
func CloseOfBusiness(menuDate time.Time, loc *time.Location) time.Time {
	d := menuDate.In(loc)
	hour := 2
	if wd := d.Weekday(); wd == time.Friday || wd == time.Saturday {
		hour = 4
	}
	return time.Date(d.Year(), d.Month(), d.Day()+1, hour, 0, 0, 0, loc)
}
