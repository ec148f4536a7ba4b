package intent

import (
	"fmt"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// DateSpec is a tagged union: a hard YYYY-MM-DD literal or a named
// holiday. At most one slot is set; the zero value means absent.
type DateSpec struct {
	Hard    string
	Holiday string
}

func HardDate(t time.Time) DateSpec    { return DateSpec{Hard: t.Format(DateLayout)} }
func HardDateString(s string) DateSpec { return DateSpec{Hard: s} }
func HolidayDate(name string) DateSpec { return DateSpec{Holiday: name} }

func (d DateSpec) IsZero() bool     { return d.Hard == "" && d.Holiday == "" }
func (d DateSpec) IsSymbolic() bool { return d.Holiday != "" }

func (d DateSpec) Validate() error {
	if d.Hard != "" && d.Holiday != "" {
		return fmt.Errorf("date spec has both hard %q and symbolic %q", d.Hard, d.Holiday)
	}
	if d.Hard != "" {
		if _, err := time.Parse(DateLayout, d.Hard); err != nil {
			return fmt.Errorf("bad date literal %q: %w", d.Hard, err)
		}
	}
	return nil
}

// HardTime parses the hard literal; only valid when !IsSymbolic.
func (d DateSpec) HardTime(loc *time.Location) (time.Time, error) {
	if d.Hard == "" {
		return time.Time{}, fmt.Errorf("date spec is not hard")
	}
	return time.ParseInLocation(DateLayout, d.Hard, loc)
}

// SolarKind names the supported solar time anchors.
type SolarKind string

const (
	SolarDawn    SolarKind = "Dawn"
	SolarSunRise SolarKind = "SunRise"
	SolarSunSet  SolarKind = "SunSet"
	SolarDusk    SolarKind = "Dusk"
)

func IsSolarKind(s string) bool {
	switch SolarKind(s) {
	case SolarDawn, SolarSunRise, SolarSunSet, SolarDusk:
		return true
	}
	return false
}

// TimeSpec is a tagged union: a hard HH:MM:SS literal or a solar anchor
// with an integer minute offset. At most one form is set.
type TimeSpec struct {
	Hard      string
	Solar     SolarKind
	OffsetMin int
}

func HardTime(s string) TimeSpec { return TimeSpec{Hard: s} }

func SolarTime(kind SolarKind, offsetMin int) TimeSpec {
	return TimeSpec{Solar: kind, OffsetMin: offsetMin}
}

func (t TimeSpec) IsZero() bool     { return t.Hard == "" && t.Solar == "" }
func (t TimeSpec) IsSymbolic() bool { return t.Solar != "" }

func (t TimeSpec) Validate() error {
	if t.Hard != "" && t.Solar != "" {
		return fmt.Errorf("time spec has both hard %q and symbolic %q", t.Hard, t.Solar)
	}
	if t.Hard != "" {
		if _, err := time.Parse(TimeLayout, t.Hard); err != nil {
			return fmt.Errorf("bad time literal %q: %w", t.Hard, err)
		}
	}
	if t.Solar != "" && !IsSolarKind(string(t.Solar)) {
		return fmt.Errorf("unknown solar kind %q", t.Solar)
	}
	return nil
}

// CanonicalValue renders {"hard": "HH:MM:SS"} or
// {"offset_min": n, "solar": "SunSet"}.
func (t TimeSpec) CanonicalValue() any {
	if t.Solar != "" {
		return map[string]any{"offset_min": t.OffsetMin, "solar": string(t.Solar)}
	}
	return map[string]any{"hard": t.Hard}
}

// Timing is the full five-slot schedule descriptor. Dates and times
// each carry either the hard literal or the symbolic token, never both.
type Timing struct {
	StartDate DateSpec
	EndDate   DateSpec
	StartTime TimeSpec
	EndTime   TimeSpec
	Days      Days
}

func (t Timing) Validate() error {
	if err := t.StartDate.Validate(); err != nil {
		return fmt.Errorf("start_date: %w", err)
	}
	if err := t.EndDate.Validate(); err != nil {
		return fmt.Errorf("end_date: %w", err)
	}
	if err := t.StartTime.Validate(); err != nil {
		return fmt.Errorf("start_time: %w", err)
	}
	if err := t.EndTime.Validate(); err != nil {
		return fmt.Errorf("end_time: %w", err)
	}
	return nil
}

// IdentityMap renders the identity participation of this timing: times
// and days always; dates only through their symbolic tokens. Hard dates
// never enter identity.
func (t Timing) IdentityMap() map[string]any {
	m := map[string]any{
		"days":       t.Days.CanonicalValue(),
		"end_time":   t.EndTime.CanonicalValue(),
		"start_time": t.StartTime.CanonicalValue(),
	}
	if t.StartDate.IsSymbolic() {
		m["start_date_symbolic"] = t.StartDate.Holiday
	}
	if t.EndDate.IsSymbolic() {
		m["end_date_symbolic"] = t.EndDate.Holiday
	}
	return m
}

// HardMap renders the fully resolved form used in sub-event state
// hashing and persistence. All slots must be hard by this point.
func (t Timing) HardMap() (map[string]any, error) {
	if t.StartDate.IsSymbolic() || t.EndDate.IsSymbolic() {
		return nil, fmt.Errorf("timing dates not hard-resolved")
	}
	if t.StartTime.IsSymbolic() || t.EndTime.IsSymbolic() {
		return nil, fmt.Errorf("timing times not hard-resolved")
	}
	return map[string]any{
		"days":       t.Days.CanonicalValue(),
		"end_date":   t.EndDate.Hard,
		"end_time":   t.EndTime.Hard,
		"start_date": t.StartDate.Hard,
		"start_time": t.StartTime.Hard,
	}, nil
}

// TimingFromHardMap parses the persisted sub-event timing form.
func TimingFromHardMap(m map[string]any) (Timing, error) {
	var t Timing
	days, err := DaysFromCanonical(m["days"])
	if err != nil {
		return t, err
	}
	t.Days = days
	if s, _ := m["start_date"].(string); s != "" {
		t.StartDate = HardDateString(s)
	}
	if s, _ := m["end_date"].(string); s != "" {
		t.EndDate = HardDateString(s)
	}
	st, _ := m["start_time"].(string)
	if st == "" {
		return t, fmt.Errorf("start_time: missing hard literal")
	}
	et, _ := m["end_time"].(string)
	if et == "" {
		return t, fmt.Errorf("end_time: missing hard literal")
	}
	t.StartTime = HardTime(st)
	t.EndTime = HardTime(et)
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}
