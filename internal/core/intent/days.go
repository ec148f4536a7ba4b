package intent

import (
	"fmt"
	"strings"
	"time"
)

// Weekday indexes Sunday=0 through Saturday=6, matching the scheduler's
// native numbering.
type Weekday int

const (
	Sunday Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

var weekdayShort = [7]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

func (w Weekday) Short() string {
	if w < 0 || w > 6 {
		return "??"
	}
	return weekdayShort[w]
}

// WeekdayFromShort parses the two-letter iCalendar day token.
func WeekdayFromShort(s string) (Weekday, error) {
	for i, v := range weekdayShort {
		if strings.EqualFold(s, v) {
			return Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("unknown weekday token %q", s)
}

func WeekdayOf(t time.Time) Weekday { return Weekday(int(t.Weekday())) }

// WeekdayMask is a bit set of weekdays, bit i = Weekday(i).
type WeekdayMask uint8

const AllWeek WeekdayMask = 0x7F

func (m WeekdayMask) Has(w Weekday) bool         { return m&(1<<uint(w)) != 0 }
func (m WeekdayMask) With(w Weekday) WeekdayMask { return m | (1 << uint(w)) }
func (m WeekdayMask) IsZero() bool               { return m == 0 }

func (m WeekdayMask) Count() int {
	n := 0
	for w := Sunday; w <= Saturday; w++ {
		if m.Has(w) {
			n++
		}
	}
	return n
}

// Shorts returns the member tokens in fixed SU..SA order.
func (m WeekdayMask) Shorts() []string {
	var out []string
	for w := Sunday; w <= Saturday; w++ {
		if m.Has(w) {
			out = append(out, w.Short())
		}
	}
	return out
}

func (m WeekdayMask) String() string { return strings.Join(m.Shorts(), ",") }

func MaskOf(days ...Weekday) WeekdayMask {
	var m WeekdayMask
	for _, d := range days {
		m = m.With(d)
	}
	return m
}

// Parity selects odd or even calendar dates (day-of-month).
type Parity string

const (
	ParityOdd  Parity = "odd"
	ParityEven Parity = "even"
)

func (p Parity) Matches(t time.Time) bool {
	if p == ParityOdd {
		return t.Day()%2 == 1
	}
	return t.Day()%2 == 0
}

// DaysKind tags the Days variant.
type DaysKind int

const (
	DaysNone DaysKind = iota
	DaysWeekly
	DaysParity
)

// Days is a tagged union: no constraint, a weekly mask, or a date-parity
// token. Weekly masks and parity are mutually exclusive.
type Days struct {
	Kind   DaysKind
	Weekly WeekdayMask
	Parity Parity
}

func NoDays() Days                  { return Days{Kind: DaysNone} }
func WeeklyDays(m WeekdayMask) Days { return Days{Kind: DaysWeekly, Weekly: m} }
func ParityDays(p Parity) Days      { return Days{Kind: DaysParity, Parity: p} }

func (d Days) IsNone() bool { return d.Kind == DaysNone }

// Matches reports whether the given date satisfies the constraint.
func (d Days) Matches(t time.Time) bool {
	switch d.Kind {
	case DaysWeekly:
		return d.Weekly.Has(WeekdayOf(t))
	case DaysParity:
		return d.Parity.Matches(t)
	default:
		return true
	}
}

// CanonicalValue renders the canonical JSON form: nil, {"weekly": [...]},
// or {"parity": "odd"|"even"}.
func (d Days) CanonicalValue() any {
	switch d.Kind {
	case DaysWeekly:
		shorts := d.Weekly.Shorts()
		vals := make([]any, len(shorts))
		for i, s := range shorts {
			vals[i] = s
		}
		return map[string]any{"weekly": vals}
	case DaysParity:
		return map[string]any{"parity": string(d.Parity)}
	default:
		return nil
	}
}

// DaysFromCanonical parses the canonical JSON form back into Days.
func DaysFromCanonical(v any) (Days, error) {
	if v == nil {
		return NoDays(), nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return Days{}, fmt.Errorf("days: unexpected value %T", v)
	}
	if p, ok := m["parity"]; ok {
		s, _ := p.(string)
		if s != string(ParityOdd) && s != string(ParityEven) {
			return Days{}, fmt.Errorf("days: bad parity %q", s)
		}
		return ParityDays(Parity(s)), nil
	}
	if wk, ok := m["weekly"]; ok {
		list, ok := wk.([]any)
		if !ok {
			return Days{}, fmt.Errorf("days: weekly not a list")
		}
		var mask WeekdayMask
		for _, item := range list {
			s, _ := item.(string)
			w, err := WeekdayFromShort(s)
			if err != nil {
				return Days{}, err
			}
			mask = mask.With(w)
		}
		return WeeklyDays(mask), nil
	}
	return Days{}, fmt.Errorf("days: unrecognized form")
}
