package ics

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

// Parse lexes an ICS document into rows, one per VEVENT. Malformed
// events are skipped; the document itself must decode.
func Parse(data []byte, loc *time.Location) ([]Row, error) {
	if loc == nil {
		loc = time.Local
	}
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to parse calendar: %w", err)
	}

	var rows []Row
	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent {
			continue
		}
		row, err := parseEvent(comp, loc)
		if err != nil {
			continue // skip malformed events
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseEvent(comp *ical.Component, loc *time.Location) (Row, error) {
	var row Row

	uid := comp.Props.Get(ical.PropUID)
	if uid == nil || uid.Value == "" {
		return row, fmt.Errorf("missing UID")
	}
	row.UID = uid.Value

	if summary := comp.Props.Get(ical.PropSummary); summary != nil {
		row.Summary = summary.Value
	}
	if desc := comp.Props.Get(ical.PropDescription); desc != nil {
		row.Description = desc.Value
	}
	if status := comp.Props.Get(ical.PropStatus); status != nil {
		row.Status = strings.ToUpper(strings.TrimSpace(status.Value))
	}

	dtstart := comp.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		return row, fmt.Errorf("missing DTSTART")
	}
	start, allDay, err := parseDateTimeProp(dtstart, loc)
	if err != nil {
		return row, fmt.Errorf("invalid DTSTART: %w", err)
	}
	row.Start = start
	row.IsAllDay = allDay

	if dtend := comp.Props.Get(ical.PropDateTimeEnd); dtend != nil {
		end, _, err := parseDateTimeProp(dtend, loc)
		if err != nil {
			return row, fmt.Errorf("invalid DTEND: %w", err)
		}
		row.End = end
	} else if allDay {
		row.End = start.Add(24 * time.Hour)
	} else {
		row.End = start
	}

	if rr := comp.Props.Get(ical.PropRecurrenceRule); rr != nil {
		rule, err := parseRRule(rr.Value, loc)
		if err != nil {
			return row, fmt.Errorf("invalid RRULE: %w", err)
		}
		row.RRule = rule
	}

	for _, exProp := range comp.Props.Values(ical.PropExceptionDates) {
		for _, part := range strings.Split(exProp.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, _, err := parseDateTime(part, tzidOf(&exProp), loc)
			if err != nil {
				continue
			}
			row.ExDates = append(row.ExDates, t)
		}
	}

	if recID := comp.Props.Get(ical.PropRecurrenceID); recID != nil {
		t, _, err := parseDateTimeProp(recID, loc)
		if err == nil {
			row.RecurrenceID = &t
		}
	}

	row.Provenance = Provenance{
		UpdatedAtEpoch: epochOf(comp, ical.PropLastModified, loc),
		CreatedAtEpoch: epochOf(comp, ical.PropCreated, loc),
		DTStampEpoch:   epochOf(comp, ical.PropDateTimeStamp, loc),
	}
	return row, nil
}

func epochOf(comp *ical.Component, name string, loc *time.Location) int64 {
	prop := comp.Props.Get(name)
	if prop == nil {
		return 0
	}
	t, _, err := parseDateTimeProp(prop, loc)
	if err != nil {
		return 0
	}
	return t.Unix()
}

func tzidOf(prop *ical.Prop) string {
	if prop == nil {
		return ""
	}
	return prop.Params.Get(ical.ParamTimezoneID)
}

func parseDateTimeProp(prop *ical.Prop, loc *time.Location) (time.Time, bool, error) {
	return parseDateTime(prop.Value, tzidOf(prop), loc)
}

// parseDateTime handles the three ICS shapes: 20060102 (all-day date),
// 20060102T150405 (floating or TZID-qualified), and the UTC Z suffix.
func parseDateTime(s, tzid string, loc *time.Location) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}

	if len(s) == 8 {
		t, err := time.ParseInLocation("20060102", s, loc)
		return t, true, err
	}
	if len(s) == 16 && strings.HasSuffix(s, "Z") {
		t, err := time.Parse("20060102T150405Z", s)
		return t.In(loc), false, err
	}
	if len(s) == 15 {
		t, err := time.ParseInLocation("20060102T150405", s, loc)
		return t, false, err
	}
	t, err := time.Parse(time.RFC3339, s)
	return t.In(loc), false, err
}

// parseRRule splits a FREQ=...;KEY=VALUE rule into the structured
// subset the pipeline understands. Unknown keys are ignored; unknown
// FREQ values are preserved for the expander's downgrade path.
func parseRRule(value string, loc *time.Location) (*RRule, error) {
	rule := &RRule{Interval: 1}
	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("bad RRULE part %q", part)
		}
		key := strings.ToUpper(kv[0])
		val := strings.TrimSpace(kv[1])
		switch key {
		case "FREQ":
			rule.Freq = strings.ToUpper(val)
		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("bad INTERVAL %q", val)
			}
			rule.Interval = n
		case "COUNT":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("bad COUNT %q", val)
			}
			rule.Count = n
		case "UNTIL":
			t, _, err := parseDateTime(val, "", loc)
			if err != nil {
				return nil, fmt.Errorf("bad UNTIL %q", val)
			}
			rule.Until = &t
		case "BYDAY":
			for _, d := range strings.Split(val, ",") {
				d = strings.TrimSpace(d)
				if d != "" {
					rule.ByDay = append(rule.ByDay, strings.ToUpper(d))
				}
			}
		}
	}
	if rule.Freq == "" {
		return nil, fmt.Errorf("RRULE missing FREQ")
	}
	return rule, nil
}
