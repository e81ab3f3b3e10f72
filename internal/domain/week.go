package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

var weekPattern = regexp.MustCompile(`^(\d{4})CW_(\d{1,2})$`)

// WeekID identifies one calendar week bucket, e.g. "2025CW_30".
// The raw string is kept as-is: "2025CW_9" and "2025CW_09" are different buckets.
type WeekID string

// ParseWeekID validates s against the <year>CW_<week-number> shape.
func ParseWeekID(s string) (WeekID, error) {
	if !weekPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q (expected format 2025CW_30)", ErrInvalidWeekID, s)
	}
	return WeekID(s), nil
}

// IsWeekID reports whether s is a well-formed calendar week identifier.
func IsWeekID(s string) bool {
	return weekPattern.MatchString(s)
}

func (w WeekID) String() string {
	return string(w)
}

// Year returns the year part, or 0 if w is malformed.
func (w WeekID) Year() int {
	year, _ := w.parts()
	return year
}

// Number returns the week-number part, or 0 if w is malformed.
func (w WeekID) Number() int {
	_, number := w.parts()
	return number
}

func (w WeekID) parts() (int, int) {
	m := weekPattern.FindStringSubmatch(string(w))
	if m == nil {
		return 0, 0
	}
	year, _ := strconv.Atoi(m[1])
	number, _ := strconv.Atoi(m[2])
	return year, number
}

// Less orders weeks by (year, week-number) as integers. Ties fall back to the raw string.
func (w WeekID) Less(other WeekID) bool {
	wy, wn := w.parts()
	oy, on := other.parts()
	if wy != oy {
		return wy < oy
	}
	if wn != on {
		return wn < on
	}
	return w < other
}

// SortWeeks sorts weeks in place in ascending calendar order.
func SortWeeks(weeks []WeekID) {
	sort.Slice(weeks, func(i, j int) bool {
		return weeks[i].Less(weeks[j])
	})
}
