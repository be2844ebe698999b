package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	yearRe      = regexp.MustCompile(`^\d{4}$`)
	yearMonthRe = regexp.MustCompile(`^(\d{4})-(\d{2})$`)
	fullDateRe  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	// Q3 2025, Q3-2025, Q3/2025, 2025-Q3, 2025 Q3, 2025Q3
	quarterRe = regexp.MustCompile(`(?i)^(?:q([1-4])\s*[-/ ]?\s*(\d{4})|(\d{4})\s*[-/ ]?\s*q([1-4]))$`)
)

// NormalizeClaimDate maps a model-supplied date onto YYYY, YYYY-MM or
// YYYY-MM-DD. Quarter notations resolve to the quarter's first month.
// It reports false when raw is not one of the accepted shapes; the
// caller keeps the claim and drops the date.
func NormalizeClaimDate(raw string) (string, bool) {
	s := strings.Trim(strings.TrimSpace(raw), `"'`)
	if s == "" {
		return "", false
	}

	switch {
	case yearRe.MatchString(s):
		return s, true

	case yearMonthRe.MatchString(s):
		m := yearMonthRe.FindStringSubmatch(s)
		month, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 {
			return "", false
		}
		return s, true

	case fullDateRe.MatchString(s):
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return "", false
		}
		return s, true
	}

	if m := quarterRe.FindStringSubmatch(s); m != nil {
		q, year := m[1], m[2]
		if q == "" {
			year, q = m[3], m[4]
		}
		n, _ := strconv.Atoi(q)
		return fmt.Sprintf("%s-%02d", year, (n-1)*3+1), true
	}

	return "", false
}
