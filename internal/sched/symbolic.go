package sched

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sonroyaalmerol/schedsync/internal/core/intent"
	"github.com/sonroyaalmerol/schedsync/internal/resolve"
)

// ParseTimeSpec reads a scheduler time field: HH:MM[:SS] or a solar
// token with an optional signed minute offset ("SunSet", "SunSet + 30",
// "Dawn-15").
func ParseTimeSpec(s string) (intent.TimeSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return intent.TimeSpec{}, fmt.Errorf("empty time")
	}

	if kind, off, ok := splitSolar(s); ok {
		return intent.SolarTime(kind, off), nil
	}

	hard, err := NormalizeClock(s)
	if err != nil {
		return intent.TimeSpec{}, err
	}
	return intent.HardTime(hard), nil
}

func splitSolar(s string) (intent.SolarKind, int, bool) {
	compact := strings.ReplaceAll(s, " ", "")
	for _, kind := range []intent.SolarKind{intent.SolarDawn, intent.SolarSunRise, intent.SolarSunSet, intent.SolarDusk} {
		if !strings.HasPrefix(compact, string(kind)) {
			continue
		}
		rest := compact[len(kind):]
		if rest == "" {
			return kind, 0, true
		}
		if rest[0] != '+' && rest[0] != '-' {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil {
			continue
		}
		return kind, n, true
	}
	return "", 0, false
}

// FormatTimeSpec renders a TimeSpec back into the scheduler's field
// syntax.
func FormatTimeSpec(t intent.TimeSpec) string {
	if !t.IsSymbolic() {
		return t.Hard
	}
	if t.OffsetMin == 0 {
		return string(t.Solar)
	}
	if t.OffsetMin > 0 {
		return fmt.Sprintf("%s + %d", t.Solar, t.OffsetMin)
	}
	return fmt.Sprintf("%s - %d", t.Solar, -t.OffsetMin)
}

// NormalizeClock expands HH:MM to HH:MM:SS and validates the literal.
func NormalizeClock(s string) (string, error) {
	if len(s) == 5 {
		s += ":00"
	}
	if _, err := time.Parse(intent.TimeLayout, s); err != nil {
		return "", fmt.Errorf("bad time literal %q: %w", s, err)
	}
	return s, nil
}

// ParseDateSpec reads a scheduler date field: YYYY-MM-DD or a holiday
// name known to the resolver.
func ParseDateSpec(s string, holidays resolve.HolidayResolver) (intent.DateSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return intent.DateSpec{}, fmt.Errorf("empty date")
	}
	if _, err := time.Parse(intent.DateLayout, s); err == nil {
		return intent.HardDateString(s), nil
	}
	if _, ok := holidays.Holiday(s, 2000); ok {
		return intent.HolidayDate(s), nil
	}
	return intent.DateSpec{}, fmt.Errorf("unrecognized date %q", s)
}

// FormatDateSpec renders a DateSpec back into the scheduler's field
// syntax.
func FormatDateSpec(d intent.DateSpec) string {
	if d.IsSymbolic() {
		return d.Holiday
	}
	return d.Hard
}
