// Package expand turns a recurring calendar base row into concrete
// occurrences inside a horizon.
package expand

import (
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/sonroyaalmerol/schedsync/internal/core/intent"
	"github.com/sonroyaalmerol/schedsync/pkg/ics"
)

// Horizon bounds expansion: [Start, End].
type Horizon struct {
	Start time.Time
	End   time.Time
}

// Expander expands one base row at a time. Instances share no state
// and may be fanned out per UID.
type Expander struct {
	loc *time.Location
}

func New(loc *time.Location) *Expander {
	if loc == nil {
		loc = time.UTC
	}
	return &Expander{loc: loc}
}

var rruleWeekdays = map[string]rrule.Weekday{
	"SU": rrule.SU, "MO": rrule.MO, "TU": rrule.TU, "WE": rrule.WE,
	"TH": rrule.TH, "FR": rrule.FR, "SA": rrule.SA,
}

// Expand produces the ordered occurrences of a base row within the
// horizon, excluding EXDATEs and any extra excluded dates (cancelled
// occurrences). Unknown frequencies downgrade to a single occurrence
// at DTSTART. COUNT is honored before the horizon truncates.
func (e *Expander) Expand(row ics.Row, h Horizon, extraExcluded []time.Time) ([]intent.Occurrence, error) {
	duration := row.End.Sub(row.Start)

	starts, err := e.instanceStarts(row, h)
	if err != nil {
		return nil, err
	}

	excluded := append(append([]time.Time{}, row.ExDates...), extraExcluded...)

	var out []intent.Occurrence
	for _, start := range starts {
		if isExcluded(start, excluded) {
			continue
		}
		end := start.Add(duration)
		if !overlaps(start, end, h.Start, h.End) {
			continue
		}
		out = append(out, intent.Occurrence{
			Start:  start,
			End:    end,
			AllDay: row.IsAllDay,
			TZ:     start.Location().String(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (e *Expander) instanceStarts(row ics.Row, h Horizon) ([]time.Time, error) {
	if row.RRule == nil {
		return []time.Time{row.Start}, nil
	}

	opt := rrule.ROption{
		Interval: row.RRule.Interval,
		Dtstart:  row.Start,
	}
	switch row.RRule.Freq {
	case "DAILY":
		opt.Freq = rrule.DAILY
	case "WEEKLY":
		opt.Freq = rrule.WEEKLY
	default:
		// Unsupported frequency downgrades to the single DTSTART
		// occurrence rather than guessing.
		return []time.Time{row.Start}, nil
	}
	if row.RRule.Count > 0 {
		opt.Count = row.RRule.Count
	}
	if row.RRule.Until != nil {
		opt.Until = *row.RRule.Until
	}
	for _, d := range row.RRule.ByDay {
		wd, ok := rruleWeekdays[d]
		if !ok {
			continue
		}
		opt.Byweekday = append(opt.Byweekday, wd)
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, err
	}

	// Extend the window by the event duration so occurrences that begin
	// before the horizon but still overlap it are kept.
	duration := row.End.Sub(row.Start)
	return rule.Between(h.Start.Add(-duration), h.End, true), nil
}

func isExcluded(start time.Time, excluded []time.Time) bool {
	for _, ex := range excluded {
		if ex.Equal(start) {
			return true
		}
		// Date-valued EXDATE cancels the occurrence on that local day.
		if ex.Hour() == 0 && ex.Minute() == 0 && ex.Second() == 0 && sameDate(ex, start) {
			return true
		}
	}
	return false
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func overlaps(start, end, rangeStart, rangeEnd time.Time) bool {
	if end.Equal(start) {
		return !start.Before(rangeStart) && !start.After(rangeEnd)
	}
	return start.Before(rangeEnd) && end.After(rangeStart)
}
