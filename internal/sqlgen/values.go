package sqlgen

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var digitsRe = regexp.MustCompile(`\d[\d,]*`)

// parseAmount turns an extracted amount entity ("50만원", "1,200,000원",
// "$300") into a number. Korean units 만/억 multiply.
func parseAmount(s string) int64 {
	m := digitsRe.FindString(s)
	if m == "" {
		return 0
	}
	n, err := strconv.ParseInt(strings.ReplaceAll(m, ",", ""), 10, 64)
	if err != nil {
		return 0
	}
	switch {
	case strings.Contains(s, "억"):
		n *= 100_000_000
	case strings.Contains(s, "만"):
		n *= 10_000
	}
	return n
}

var daysAgoRe = regexp.MustCompile(`(\d+)\s*(일|주|개월|달)\s*전`)

// resolveDate maps a date entity to an ISO date string. Absolute forms
// pass through; relative Korean/English forms resolve against now.
func resolveDate(s string) string {
	now := time.Now()
	iso := func(t time.Time) string { return t.Format("2006-01-02") }

	if regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`).MatchString(s) {
		return s
	}
	if m := regexp.MustCompile(`(\d{4})년`).FindStringSubmatch(s); m != nil {
		return m[1] + "-01-01"
	}
	if m := daysAgoRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "일":
			return iso(now.AddDate(0, 0, -n))
		case "주":
			return iso(now.AddDate(0, 0, -7*n))
		default:
			return iso(now.AddDate(0, -n, 0))
		}
	}

	switch {
	case strings.Contains(s, "오늘"), strings.Contains(s, "today"):
		return iso(now)
	case strings.Contains(s, "어제"), strings.Contains(s, "yesterday"):
		return iso(now.AddDate(0, 0, -1))
	case strings.Contains(s, "이번 주"), strings.Contains(s, "this week"):
		return iso(now.AddDate(0, 0, -int(now.Weekday())))
	case strings.Contains(s, "지난 주"), strings.Contains(s, "last week"):
		return iso(now.AddDate(0, 0, -7))
	case strings.Contains(s, "이번 달"), strings.Contains(s, "this month"):
		return iso(time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()))
	case strings.Contains(s, "지난 달"), strings.Contains(s, "last month"):
		return iso(now.AddDate(0, -1, 0))
	case strings.Contains(s, "올해"), strings.Contains(s, "this year"):
		return iso(time.Date(now.Year(), 1, 1, 0, 0, 0, 0, now.Location()))
	case strings.Contains(s, "작년"), strings.Contains(s, "last year"):
		return iso(now.AddDate(-1, 0, 0))
	}
	return s
}
