package enrich

import (
	"strings"
	"time"
)

// DisplayLayout is the long form used in captions.
const DisplayLayout = "January 2, 2006"

var dateLayouts = []string{
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"01/02/2006",
	"1/2/2006",
	"2006-01-02",
}

// FormatDate rewrites a listing date into DisplayLayout. ok is false when no
// known layout matches.
func FormatDate(text string) (string, bool) {
	t, ok := ParseDate(text)
	if !ok {
		return "", false
	}
	return t.Format(DisplayLayout), true
}

// ParseDate accepts the date spellings seen on listing and profile pages.
func ParseDate(text string) (time.Time, bool) {
	s := strings.Join(strings.Fields(text), " ")
	if s == "" {
		return time.Time{}, false
	}
	s = strings.ReplaceAll(s, ".", "")
	s = strings.Replace(s, "Sept ", "Sep ", 1)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
