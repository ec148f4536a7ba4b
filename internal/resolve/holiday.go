// Package resolve hard-resolves symbolic date and time tokens: named
// holidays to calendar dates and solar anchors to clock times. Both
// resolvers are pure date arithmetic; no lookup tables are persisted.
package resolve

import (
	"strings"
	"time"
)

// HolidayResolver maps a holiday name and year to a date.
type HolidayResolver interface {
	Holiday(name string, year int) (time.Time, bool)
}

// Holidays is the built-in resolver covering the names the scheduler
// accepts in date slots.
type Holidays struct {
	loc *time.Location
}

func NewHolidays(loc *time.Location) *Holidays {
	if loc == nil {
		loc = time.UTC
	}
	return &Holidays{loc: loc}
}

func (h *Holidays) date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, h.loc)
}

// nthWeekday returns the n-th (1-based) weekday of a month; n < 0
// counts from the end.
func (h *Holidays) nthWeekday(year int, month time.Month, wd time.Weekday, n int) time.Time {
	if n > 0 {
		t := h.date(year, month, 1)
		offset := (int(wd) - int(t.Weekday()) + 7) % 7
		return t.AddDate(0, 0, offset+(n-1)*7)
	}
	t := h.date(year, month+1, 1).AddDate(0, 0, -1) // last day of month
	offset := (int(t.Weekday()) - int(wd) + 7) % 7
	return t.AddDate(0, 0, -offset+(n+1)*7)
}

// easter computes Gregorian Easter Sunday (anonymous computus).
func (h *Holidays) easter(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	i := (19*a + b - d - g + 15) % 30
	k := c / 4
	l := c % 4
	m := (32 + 2*e + 2*k - i - l) % 7
	n := (a + 11*i + 22*m) / 451
	month := (i + m - 7*n + 114) / 31
	day := (i+m-7*n+114)%31 + 1
	return h.date(year, time.Month(month), day)
}

// Holiday resolves a name for the given year. Names are matched
// case-insensitively with spaces and apostrophes ignored.
func (h *Holidays) Holiday(name string, year int) (time.Time, bool) {
	key := strings.ToLower(name)
	key = strings.NewReplacer(" ", "", "'", "", "-", "", "_", "").Replace(key)
	switch key {
	case "newyearsday", "newyear":
		return h.date(year, time.January, 1), true
	case "valentinesday":
		return h.date(year, time.February, 14), true
	case "stpatricksday":
		return h.date(year, time.March, 17), true
	case "easter":
		return h.easter(year), true
	case "mothersday":
		return h.nthWeekday(year, time.May, time.Sunday, 2), true
	case "memorialday":
		return h.nthWeekday(year, time.May, time.Monday, -1), true
	case "fathersday":
		return h.nthWeekday(year, time.June, time.Sunday, 3), true
	case "independenceday", "julyfourth", "fourthofjuly":
		return h.date(year, time.July, 4), true
	case "laborday":
		return h.nthWeekday(year, time.September, time.Monday, 1), true
	case "halloween":
		return h.date(year, time.October, 31), true
	case "veteransday":
		return h.date(year, time.November, 11), true
	case "thanksgiving":
		return h.nthWeekday(year, time.November, time.Thursday, 4), true
	case "christmaseve":
		return h.date(year, time.December, 24), true
	case "christmas", "christmasday":
		return h.date(year, time.December, 25), true
	case "newyearseve":
		return h.date(year, time.December, 31), true
	}
	return time.Time{}, false
}

// IsHolidayName reports whether the resolver knows the name at all.
func (h *Holidays) IsHolidayName(name string) bool {
	_, ok := h.Holiday(name, 2000)
	return ok
}
