package tools

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// freeFormLayouts are tried in order once the ISO forms fail.
var freeFormLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"January 2006",
	"Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"Monday, January 2, 2006",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
	"2006/1/2",
	"02.01.2006",
}

var (
	bareYear       = regexp.MustCompile(`^\d{4}$`)
	yearPattern    = regexp.MustCompile(`\b(\d{4})\b`)
	ordinalPattern = regexp.MustCompile(`(\d)(st|nd|rd|th)\b`)
	spacePattern   = regexp.MustCompile(`\s+`)
)

// NormalizeDate resolves free text to a calendar date, trying in order: YYYY-MM-DD,
// YYYY-MM (first of month), YYYY (January 1), common written layouts, and finally any
// 4-digit year in the text. Unresolvable text yields nil.
func NormalizeDate(raw string) *civil.Date {
	d := parseDate(strings.TrimSpace(raw))
	if d == nil || d.Year < 1 || d.Year > 9999 {
		return nil
	}
	return d
}

func parseDate(s string) *civil.Date {
	if s == "" {
		return nil
	}
	if d, err := civil.ParseDate(s); err == nil {
		return &d
	}
	if t, err := time.Parse("2006-01", s); err == nil {
		return dateOf(t)
	}
	if bareYear.MatchString(s) {
		year, _ := strconv.Atoi(s)
		return &civil.Date{Year: year, Month: time.January, Day: 1}
	}

	cleaned := spacePattern.ReplaceAllString(ordinalPattern.ReplaceAllString(s, "$1"), " ")
	for _, layout := range freeFormLayouts {
		if t, err := time.Parse(layout, cleaned); err == nil {
			return dateOf(t)
		}
	}

	// Year zero is skipped so "0000 then 1998" still resolves.
	for _, m := range yearPattern.FindAllStringSubmatch(s, -1) {
		if year, _ := strconv.Atoi(m[1]); year >= 1 {
			return &civil.Date{Year: year, Month: time.January, Day: 1}
		}
	}
	return nil
}

func dateOf(t time.Time) *civil.Date {
	d := civil.DateOf(t)
	return &d
}
