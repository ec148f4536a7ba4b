package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/sonroyaalmerol/schedsync/internal/core/intent"
	"github.com/sonroyaalmerol/schedsync/internal/core/manifest"
	"github.com/sonroyaalmerol/schedsync/internal/core/normalize"
	"github.com/sonroyaalmerol/schedsync/internal/sched"
	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
	"github.com/sonroyaalmerol/schedsync/pkg/ics"
)

// Apply executes a plan: the draft is saved first so a crash between
// the schedule write and the state write is recoverable, then the
// schedule file is rewritten, calendar writes go out, and the durable
// state advances.
func (p *Pipeline) Apply(ctx context.Context, plan *PlanResult) error {
	target := plan.Result.Target

	if err := p.store.SaveDraft(ctx, target); err != nil {
		return err
	}

	rows, err := AuthorRows(target, plan.Rows)
	if err != nil {
		return err
	}
	if err := sched.WriteFile(p.cfg.Source.ScheduleFile, rows); err != nil {
		return err
	}

	if err := p.writer.Apply(ctx, plan.Result.Actions); err != nil {
		return err
	}

	mtime, err := sched.FileMtimeEpoch(p.cfg.Source.ScheduleFile)
	if err != nil {
		return err
	}
	for _, id := range target.SortedIDs() {
		plan.Timestamps.Observe(id, target.Events[id].StateHash, mtime)
	}
	plan.Timestamps.ScheduleMtimeEpoch = mtime

	if err := p.store.SaveManifest(ctx, target); err != nil {
		return err
	}
	if err := p.store.SaveTimestamps(ctx, plan.Timestamps); err != nil {
		return err
	}
	if err := p.store.SaveTombstones(ctx, plan.Tombstones); err != nil {
		return err
	}
	if err := p.store.ClearDraft(ctx); err != nil {
		return err
	}

	p.logger.Info().Int("rows", len(rows)).Str("run_id", plan.RunID).Msg("plan applied")
	return nil
}

// AuthorRows renders the target manifest as the scheduler file:
// managed events become tagged rows, one per sub-event, and rows this
// system does not manage pass through byte-for-byte.
func AuthorRows(target *manifest.Manifest, currentRows []sched.Row) ([]sched.Row, error) {
	var rows []sched.Row
	for _, row := range currentRows {
		if !row.IsManaged() {
			rows = append(rows, row)
		}
	}
	for _, id := range target.SortedIDs() {
		ev := target.Events[id]
		if !ev.Ownership.Managed {
			continue
		}
		evRows, err := rowsForEvent(ev)
		if err != nil {
			return nil, err
		}
		rows = append(rows, evRows...)
	}
	return rows, nil
}

func rowsForEvent(ev *manifest.Event) ([]sched.Row, error) {
	typ, _ := ev.Identity["type"].(string)
	target, _ := ev.Identity["target"].(string)
	seriesDays := identityDaysOf(ev)

	rows := make([]sched.Row, 0, len(ev.SubEvents))
	for _, sub := range ev.SubEvents {
		timing, err := intent.TimingFromHardMap(sub.Timing)
		if err != nil {
			return nil, syncerr.Invariant("sub-event timing unreadable",
				map[string]any{"id": ev.IdentityHash, "field": err.Error()})
		}
		symbolic, _ := sub.Payload["symbolic"].(map[string]any)

		row := sched.Row{
			Type:      typ,
			Enabled:   boolToInt(sub.Behavior.Enabled),
			Day:       sched.EncodeDay(timing.Days),
			StartTime: fieldOr(symbolic, "start_time", timing.StartTime.Hard),
			EndTime:   fieldOr(symbolic, "end_time", timing.EndTime.Hard),
			StartDate: fieldOr(symbolic, "start_date", timing.StartDate.Hard),
			EndDate:   fieldOr(symbolic, "end_date", timing.EndDate.Hard),
			Repeat:    sched.EncodeRepeat(sub.Behavior.Repeat),
			StopType:  sched.EncodeStopType(string(sub.Behavior.StopType)),
			Tag: sched.FormatTag(sched.Tag{
				UID:        tagUID(ev),
				RangeStart: timing.StartDate.Hard,
				RangeEnd:   timing.EndDate.Hard,
				Days:       sched.FormatDaysToken(seriesDays),
			}),
		}
		if intent.EventType(typ) == intent.TypeCommand {
			row.Command = target
			row.Args = argsOf(sub.Payload)
		} else {
			row.Target = target
			if intent.EventType(typ) == intent.TypeSequence && !strings.HasSuffix(target, ".fseq") {
				row.Target = target + ".fseq"
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func tagUID(ev *manifest.Event) string {
	if ev.Correlation.SourceUID != "" {
		return ev.Correlation.SourceUID
	}
	return ev.IdentityHash
}

// identityDaysOf reads the series-level days out of the event identity.
// Tags carry those, not the per-segment mask, so the rows of a split
// series re-ingest under the one series identity.
func identityDaysOf(ev *manifest.Event) intent.Days {
	timing, _ := ev.Identity["timing"].(map[string]any)
	if timing == nil {
		return intent.NoDays()
	}
	d, err := intent.DaysFromCanonical(timing["days"])
	if err != nil {
		return intent.NoDays()
	}
	return d
}

func fieldOr(symbolic map[string]any, key, hard string) string {
	if v, ok := symbolic[key].(string); ok && v != "" {
		return v
	}
	return hard
}

func argsOf(payload map[string]any) []string {
	list, _ := payload["args"].([]any)
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Adopt imports currently unmanaged scheduler rows into the manifest as
// unmanaged events. With no ids every unmanaged row is adopted. The
// merged manifest lands in the draft first; the durable manifest only
// advances once the draft is on disk.
func (p *Pipeline) Adopt(ctx context.Context, ids []string) (int, error) {
	rows, err := sched.ReadFile(p.cfg.Source.ScheduleFile)
	if err != nil {
		return 0, err
	}
	now := time.Now().In(p.loc)
	res := p.resolvers(now)
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	current, err := p.store.LoadManifest(ctx)
	if err != nil {
		return 0, err
	}
	if current == nil {
		current = manifest.New(now.Unix())
	}

	var adoptees []*intent.Intent
	for _, row := range rows {
		if row.IsManaged() {
			continue
		}
		in, _, err := normalize.FromSchedulerRow(row, res, p.cfg.Sync.Scope, "adopt")
		if err != nil {
			return 0, err
		}
		if in == nil || current.Events[in.IdentityHash] != nil {
			continue
		}
		if len(wanted) > 0 && !wanted[in.IdentityHash] {
			continue
		}
		adoptees = append(adoptees, in)
	}
	if len(adoptees) == 0 {
		return 0, nil
	}

	add, err := manifest.Plan(adoptees, now.Unix())
	if err != nil {
		return 0, err
	}
	for _, id := range add.SortedIDs() {
		if err := manifest.Upsert(current, add.Events[id]); err != nil {
			return 0, err
		}
	}
	if err := p.store.SaveDraft(ctx, current); err != nil {
		return 0, err
	}
	if err := p.store.SaveManifest(ctx, current); err != nil {
		return 0, err
	}
	if err := p.store.ClearDraft(ctx); err != nil {
		return 0, err
	}
	p.logger.Info().Int("adopted", len(adoptees)).Msg("scheduler rows adopted")
	return len(adoptees), nil
}

// ExportICS publishes the schedule's unmanaged rows as an ICS document
// so externally authored entries stay visible on calendar clients.
func (p *Pipeline) ExportICS(ctx context.Context) ([]byte, error) {
	rows, err := sched.ReadFile(p.cfg.Source.ScheduleFile)
	if err != nil {
		return nil, err
	}
	now := time.Now().In(p.loc)
	res := p.resolvers(now)

	var events []ics.ExportEvent
	for _, row := range rows {
		if row.IsManaged() {
			continue
		}
		in, _, err := normalize.FromSchedulerRow(row, res, p.cfg.Sync.Scope, "export")
		if err != nil {
			return nil, err
		}
		if in == nil {
			continue
		}
		sub := in.SubEvents[0]
		start, err := time.ParseInLocation(intent.DateLayout+" "+intent.TimeLayout,
			sub.Timing.StartDate.Hard+" "+sub.Timing.StartTime.Hard, p.loc)
		if err != nil {
			continue
		}
		end, err := time.ParseInLocation(intent.DateLayout+" "+intent.TimeLayout,
			sub.Timing.StartDate.Hard+" "+sub.Timing.EndTime.Hard, p.loc)
		if err != nil {
			continue
		}
		allDay, _ := sub.Payload["all_day"].(bool)
		events = append(events, ics.ExportEvent{
			UID:     in.IdentityHash,
			Summary: exportSummary(in),
			Start:   start,
			End:     end,
			AllDay:  allDay,
		})
	}
	return ics.Export(events, "-//schedsync//Schedule Export//EN")
}

func exportSummary(in *intent.Intent) string {
	switch in.Identity.Type {
	case intent.TypeCommand:
		return "command: " + in.Identity.Target
	case intent.TypeSequence:
		return "sequence: " + in.Identity.Target
	default:
		return in.Identity.Target
	}
}
