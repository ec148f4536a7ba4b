// Package calclient pushes reconciler actions whose target is the
// calendar back to the CalDAV server: managed events are created,
// updated, or removed so the feed converges on the target manifest.
package calclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/schedsync/internal/core/intent"
	"github.com/sonroyaalmerol/schedsync/internal/core/manifest"
	"github.com/sonroyaalmerol/schedsync/internal/core/reconcile"
	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
)

const prodID = "-//schedsync//Calendar Sync//EN"

type Writer struct {
	baseURL      string
	username     string
	password     string
	calendarPath string
	logger       zerolog.Logger
}

func New(baseURL, username, password, calendarPath string, logger zerolog.Logger) *Writer {
	return &Writer{
		baseURL:      baseURL,
		username:     username,
		password:     password,
		calendarPath: calendarPath,
		logger:       logger,
	}
}

// Enabled reports whether an outbound calendar endpoint is configured.
// Without one, calendar-targeted actions are logged and skipped.
func (w *Writer) Enabled() bool { return w.baseURL != "" }

// Apply executes the calendar-targeted writes of a plan. Failures are
// I/O errors; the caller decides whether the run aborts.
func (w *Writer) Apply(ctx context.Context, actions []reconcile.Action) error {
	var calActions []reconcile.Action
	for _, a := range actions {
		if a.Target == reconcile.SourceCalendar && a.Executable() {
			calActions = append(calActions, a)
		}
	}
	if len(calActions) == 0 {
		return nil
	}
	if !w.Enabled() {
		w.logger.Warn().Int("actions", len(calActions)).
			Msg("calendar writes skipped, no caldav endpoint configured")
		return nil
	}

	client, err := w.client()
	if err != nil {
		return err
	}
	calPath, err := w.findCalendarPath(ctx, client)
	if err != nil {
		return err
	}

	for _, a := range calActions {
		path := eventPath(calPath, a.Event)
		switch a.Type {
		case reconcile.ActionCreate, reconcile.ActionUpdate:
			cal, err := toICalendar(a.Event)
			if err != nil {
				return err
			}
			if _, err := client.PutCalendarObject(ctx, path, cal); err != nil {
				return syncerr.IO("put calendar object", err)
			}
		case reconcile.ActionDelete:
			if err := client.RemoveAll(ctx, path); err != nil {
				return syncerr.IO("remove calendar object", err)
			}
		}
		w.logger.Info().Str("type", string(a.Type)).Str("id", a.IdentityHash).
			Str("path", path).Msg("calendar write applied")
	}
	return nil
}

func (w *Writer) client() (*caldav.Client, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	client, err := caldav.NewClient(
		webdav.HTTPClientWithBasicAuth(httpClient, w.username, w.password), w.baseURL)
	if err != nil {
		return nil, syncerr.IO("create caldav client", err)
	}
	return client, nil
}

func (w *Writer) findCalendarPath(ctx context.Context, client *caldav.Client) (string, error) {
	if w.calendarPath != "" {
		return w.calendarPath, nil
	}
	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", syncerr.IO("find principal", err)
	}
	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", syncerr.IO("find calendar home set", err)
	}
	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return "", syncerr.IO("find calendars", err)
	}
	if len(cals) == 0 {
		return "", syncerr.IO("find calendars", fmt.Errorf("no calendars found"))
	}
	return cals[0].Path, nil
}

func eventPath(calPath string, ev *manifest.Event) string {
	uid := eventUID(ev)
	if !strings.HasSuffix(calPath, "/") {
		calPath += "/"
	}
	return calPath + uid + ".ics"
}

func eventUID(ev *manifest.Event) string {
	if ev != nil && ev.Correlation.SourceUID != "" {
		return ev.Correlation.SourceUID
	}
	return uuid.NewString()
}

// toICalendar renders a manifest event as a VCALENDAR. Each sub-event
// becomes one VEVENT; a multi-day range emits an RRULE reproducing the
// range's day mask, and symbolic companions come back as description
// directives so a round-trip preserves them.
func toICalendar(ev *manifest.Event) (*ical.Calendar, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)

	uid := eventUID(ev)
	for i, sub := range ev.SubEvents {
		timing, err := intent.TimingFromHardMap(sub.Timing)
		if err != nil {
			return nil, syncerr.Invariant("sub-event timing unreadable",
				map[string]any{"id": ev.IdentityHash, "field": err.Error()})
		}
		comp, err := toVEvent(ev, sub, timing, subUID(uid, i))
		if err != nil {
			return nil, err
		}
		cal.Children = append(cal.Children, comp)
	}
	return cal, nil
}

func subUID(uid string, i int) string {
	if i == 0 {
		return uid
	}
	return fmt.Sprintf("%s-%d", uid, i+1)
}

func toVEvent(ev *manifest.Event, sub manifest.SubEvent, timing intent.Timing, uid string) (*ical.Component, error) {
	start, err := combine(timing.StartDate.Hard, timing.StartTime.Hard)
	if err != nil {
		return nil, syncerr.Invariant("bad sub-event start", map[string]any{"id": ev.IdentityHash})
	}
	end, err := combine(timing.StartDate.Hard, timing.EndTime.Hard)
	if err != nil {
		return nil, syncerr.Invariant("bad sub-event end", map[string]any{"id": ev.IdentityHash})
	}

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	event.Props.SetText(ical.PropSummary, summaryFor(ev))
	if desc := descriptionFor(sub); desc != "" {
		event.Props.SetText(ical.PropDescription, desc)
	}

	allDay, _ := sub.Payload["all_day"].(bool)
	if allDay {
		prop := ical.NewProp(ical.PropDateTimeStart)
		prop.SetValueType(ical.ValueDate)
		prop.Value = strings.ReplaceAll(timing.StartDate.Hard, "-", "")
		event.Props.Set(prop)
	} else {
		event.Props.SetDateTime(ical.PropDateTimeStart, start)
		event.Props.SetDateTime(ical.PropDateTimeEnd, end)
	}

	if rule := rruleFor(timing); rule != "" {
		prop := ical.NewProp(ical.PropRecurrenceRule)
		prop.Value = rule
		event.Props.Set(prop)
	}
	return event.Component, nil
}

// combine joins a date and a time literal into a local time.Time.
func combine(date, clock string) (time.Time, error) {
	return time.ParseInLocation(intent.DateLayout+" "+intent.TimeLayout, date+" "+clock, time.Local)
}

func summaryFor(ev *manifest.Event) string {
	typ, _ := ev.Identity["type"].(string)
	target, _ := ev.Identity["target"].(string)
	switch intent.EventType(typ) {
	case intent.TypeCommand:
		return "command: " + target
	case intent.TypeSequence:
		return "sequence: " + target
	default:
		return target
	}
}

// descriptionFor restores the symbolic timing directives recorded in
// the sub-event payload.
func descriptionFor(sub manifest.SubEvent) string {
	symbolic, _ := sub.Payload["symbolic"].(map[string]any)
	if len(symbolic) == 0 {
		return ""
	}
	var lines []string
	if v, ok := symbolic["start_time"].(string); ok {
		lines = append(lines, "X-SYNC-START: "+v)
	}
	if v, ok := symbolic["end_time"].(string); ok {
		lines = append(lines, "X-SYNC-END: "+v)
	}
	if v, ok := symbolic["start_date"].(string); ok {
		lines = append(lines, "X-SYNC-START-DATE: "+v)
	}
	if v, ok := symbolic["end_date"].(string); ok {
		lines = append(lines, "X-SYNC-END-DATE: "+v)
	}
	return strings.Join(lines, "\n")
}

// rruleFor expresses a multi-day range as a recurrence rule. Weekly
// masks map to FREQ=WEEKLY;BYDAY; everything else recurs daily within
// the range. Single-date sub-events carry no rule.
func rruleFor(timing intent.Timing) string {
	if timing.StartDate.Hard == timing.EndDate.Hard {
		return ""
	}
	until := strings.ReplaceAll(timing.EndDate.Hard, "-", "") + "T235959Z"
	if timing.Days.Kind == intent.DaysWeekly && timing.Days.Weekly != intent.AllWeek {
		return fmt.Sprintf("FREQ=WEEKLY;BYDAY=%s;UNTIL=%s",
			strings.Join(timing.Days.Weekly.Shorts(), ","), until)
	}
	return "FREQ=DAILY;UNTIL=" + until
}
