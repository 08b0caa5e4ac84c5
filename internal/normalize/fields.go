// Package normalize maps provider field values onto canonical column values.
// Everything here is pure; bad input degrades to nil or a passthrough value
// instead of an error.
package normalize

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"animehub/internal/providers"
)

const (
	minYear = 1900
	maxYear = 2100
)

var daysInMonth = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

func isLeap(y int) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

// Date renders a partial date as YYYY-MM-DD. Missing month or day default to 1;
// a missing year or any out-of-range part yields nil.
func Date(d providers.PartialDate) *string {
	if d.Year == nil {
		return nil
	}
	y, m, day := *d.Year, 1, 1
	if d.Month != nil {
		m = *d.Month
	}
	if d.Day != nil {
		day = *d.Day
	}

	if y < minYear || y > maxYear || m < 1 || m > 12 {
		return nil
	}
	limit := daysInMonth[m-1]
	if m == 2 && isLeap(y) {
		limit = 29
	}
	if day < 1 || day > limit {
		return nil
	}

	s := fmt.Sprintf("%04d-%02d-%02d", y, m, day)
	return &s
}

// Year returns the year of a partial date when it is in range.
func Year(d providers.PartialDate) *int {
	if d.Year == nil || *d.Year < minYear || *d.Year > maxYear {
		return nil
	}
	y := *d.Year
	return &y
}

var statusTable = map[string]string{
	// AniList
	"RELEASING":        "Currently Airing",
	"FINISHED":         "Finished Airing",
	"NOT_YET_RELEASED": "Not yet aired",
	"HIATUS":           "Hiatus",
	"CANCELLED":        "Cancelled",
	// Kitsu
	"current":    "Currently Airing",
	"finished":   "Finished Airing",
	"tba":        "Not yet aired",
	"unreleased": "Not yet aired",
	"upcoming":   "Not yet aired",
}

// Status maps provider enums onto the canonical vocabulary; unknown values pass through.
func Status(s string) string {
	key := strings.TrimSpace(s)
	if v, ok := statusTable[key]; ok {
		return v
	}
	return s
}

// Score converts a provider score onto 0-10, rounded to two decimals.
// Zero and negative scores mean "unrated" and yield nil.
func Score(v *float64, scale providers.ScoreScale) *float64 {
	if v == nil || *v <= 0 || math.IsNaN(*v) {
		return nil
	}
	s := *v
	if scale == providers.Scale100 {
		s = s / 10
	}
	if s > 10 {
		s = 10
	}
	s = math.Round(s*100) / 100
	return &s
}

var (
	spaceRun   = regexp.MustCompile(`[ \t\r\f\v]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
)

// Synopsis strips markup from a provider description. <br> and block ends become
// newlines and entities are decoded.
func Synopsis(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// io.EOF or a malformed tail; either way keep what was read
			break
		}
		switch tt {
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if string(name) == "br" {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "p", "div", "li":
				b.WriteByte('\n')
			}
		}
	}

	lines := strings.Split(b.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(spaceRun.ReplaceAllString(l, " "))
	}
	out := strings.Join(lines, "\n")
	out = newlineRun.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// Names trims, drops empties and removes exact duplicates, keeping first-seen order.
func Names(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, n := range in {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
