package ics

import (
	"bytes"
	"time"

	"github.com/emersion/go-ical"
)

// ExportEvent is one VEVENT to emit; used to publish unmanaged
// scheduler rows as an ICS document.
type ExportEvent struct {
	UID         string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	AllDay      bool
}

// Export builds a VCALENDAR document from the given events.
func Export(events []ExportEvent, prodID string) ([]byte, error) {
	cal := &ical.Calendar{
		Component: &ical.Component{
			Name:  ical.CompCalendar,
			Props: ical.Props{},
		},
	}
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropVersion, "2.0")

	for _, ev := range events {
		comp := &ical.Component{
			Name:  ical.CompEvent,
			Props: ical.Props{},
		}
		comp.Props.SetText(ical.PropUID, ev.UID)
		comp.Props.SetText(ical.PropSummary, ev.Summary)
		if ev.Description != "" {
			comp.Props.SetText(ical.PropDescription, ev.Description)
		}
		comp.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
		if ev.AllDay {
			start := ical.NewProp(ical.PropDateTimeStart)
			start.SetValueType(ical.ValueDate)
			start.Value = ev.Start.Format("20060102")
			comp.Props.Set(start)
			end := ical.NewProp(ical.PropDateTimeEnd)
			end.SetValueType(ical.ValueDate)
			end.Value = ev.End.Format("20060102")
			comp.Props.Set(end)
		} else {
			comp.Props.SetDateTime(ical.PropDateTimeStart, ev.Start.UTC())
			comp.Props.SetDateTime(ical.PropDateTimeEnd, ev.End.UTC())
		}
		cal.Children = append(cal.Children, comp)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
