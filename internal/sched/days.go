package sched

import (
	"strconv"

	"github.com/sonroyaalmerol/schedsync/internal/core/intent"
	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
)

// Day enum values. 0..6 are single weekdays (Sunday=0); the rest are
// named combinations. Values 14/15 select odd/even calendar dates and
// are mutually exclusive with weekday masks.
const (
	DayEveryday  = 7
	DayWeekdays  = 8
	DayWeekend   = 9
	DayMonWedFri = 10
	DayTueThu    = 11
	DaySunToThu  = 12
	DayFriSat    = 13
	DayOddDates  = 14
	DayEvenDates = 15
)

// Bitmask mode: DayMaskFlag set, weekday bits SU=0x04000 descending to
// SA=0x00100.
const (
	DayMaskFlag = 0x10000
	maskSU      = 0x04000
)

func maskBit(w intent.Weekday) int { return maskSU >> uint(w) }

var namedMasks = map[int]intent.WeekdayMask{
	DayEveryday:  intent.AllWeek,
	DayWeekdays:  intent.MaskOf(intent.Monday, intent.Tuesday, intent.Wednesday, intent.Thursday, intent.Friday),
	DayWeekend:   intent.MaskOf(intent.Saturday, intent.Sunday),
	DayMonWedFri: intent.MaskOf(intent.Monday, intent.Wednesday, intent.Friday),
	DayTueThu:    intent.MaskOf(intent.Tuesday, intent.Thursday),
	DaySunToThu:  intent.MaskOf(intent.Sunday, intent.Monday, intent.Tuesday, intent.Wednesday, intent.Thursday),
	DayFriSat:    intent.MaskOf(intent.Friday, intent.Saturday),
}

// DecodeDay translates the scheduler's day field into a Days value.
func DecodeDay(day int) (intent.Days, error) {
	if day&DayMaskFlag != 0 {
		var m intent.WeekdayMask
		for w := intent.Sunday; w <= intent.Saturday; w++ {
			if day&maskBit(w) != 0 {
				m = m.With(w)
			}
		}
		if m.IsZero() {
			return intent.Days{}, syncerr.Invariant("day bitmask has no weekday bits",
				map[string]any{"field": "day", "stored": day})
		}
		return intent.WeeklyDays(m), nil
	}
	if day >= 0 && day <= 6 {
		return intent.WeeklyDays(intent.MaskOf(intent.Weekday(day))), nil
	}
	if m, ok := namedMasks[day]; ok {
		return intent.WeeklyDays(m), nil
	}
	switch day {
	case DayOddDates:
		return intent.ParityDays(intent.ParityOdd), nil
	case DayEvenDates:
		return intent.ParityDays(intent.ParityEven), nil
	}
	return intent.Days{}, syncerr.Invariant("unknown day enum",
		map[string]any{"field": "day", "stored": day})
}

// EncodeDay renders a Days value into the day field, preferring the
// named enums and falling back to bitmask mode. DaysNone encodes as
// everyday; such rows are expected to carry a single-day date range.
func EncodeDay(d intent.Days) int {
	switch d.Kind {
	case intent.DaysParity:
		if d.Parity == intent.ParityOdd {
			return DayOddDates
		}
		return DayEvenDates
	case intent.DaysWeekly:
		if d.Weekly.Count() == 1 {
			for w := intent.Sunday; w <= intent.Saturday; w++ {
				if d.Weekly.Has(w) {
					return int(w)
				}
			}
		}
		for enum, m := range namedMasks {
			if m == d.Weekly {
				return enum
			}
		}
		bits := DayMaskFlag
		for w := intent.Sunday; w <= intent.Saturday; w++ {
			if d.Weekly.Has(w) {
				bits |= maskBit(w)
			}
		}
		return bits
	default:
		return DayEveryday
	}
}

func itoa(n int) string { return strconv.Itoa(n) }

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
