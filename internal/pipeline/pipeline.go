// Package pipeline wires the full run: fetch and normalize both
// sources concurrently, reconcile against the last-applied manifest,
// and apply the plan to the schedule file, the calendar, and the
// state store.
package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/sonroyaalmerol/schedsync/internal/calclient"
	"github.com/sonroyaalmerol/schedsync/internal/config"
	"github.com/sonroyaalmerol/schedsync/internal/core/expand"
	"github.com/sonroyaalmerol/schedsync/internal/core/intent"
	"github.com/sonroyaalmerol/schedsync/internal/core/manifest"
	"github.com/sonroyaalmerol/schedsync/internal/core/normalize"
	"github.com/sonroyaalmerol/schedsync/internal/core/reconcile"
	"github.com/sonroyaalmerol/schedsync/internal/core/snapshot"
	"github.com/sonroyaalmerol/schedsync/internal/fetch"
	"github.com/sonroyaalmerol/schedsync/internal/resolve"
	"github.com/sonroyaalmerol/schedsync/internal/sched"
	"github.com/sonroyaalmerol/schedsync/internal/state"
	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
	"github.com/sonroyaalmerol/schedsync/pkg/ics"
)

type Pipeline struct {
	cfg     *config.Config
	logger  zerolog.Logger
	store   state.Store
	fetcher *fetch.Fetcher
	writer  *calclient.Writer
	loc     *time.Location
}

func New(cfg *config.Config, store state.Store, logger zerolog.Logger) (*Pipeline, error) {
	loc, err := time.LoadLocation(cfg.Location.Timezone)
	if err != nil {
		return nil, syncerr.IO("load timezone", err)
	}
	return &Pipeline{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		fetcher: fetch.New(cfg.Source.FetchTimeout, cfg.Source.CacheTTL, logger),
		writer: calclient.New(cfg.CalDAV.URL, cfg.CalDAV.Username,
			cfg.CalDAV.Password, cfg.CalDAV.Calendar, logger),
		loc: loc,
	}, nil
}

func (p *Pipeline) resolvers(now time.Time) normalize.Resolvers {
	return normalize.Resolvers{
		Holidays: resolve.NewHolidays(p.loc),
		Solar:    resolve.NewSun(),
		Lat:      p.cfg.Location.Latitude,
		Lon:      p.cfg.Location.Longitude,
		Year:     now.Year(),
		Loc:      p.loc,
	}
}

// PlanResult carries everything Apply needs besides the plan itself.
type PlanResult struct {
	Result   *reconcile.Result
	Diff     manifest.Diff
	Warnings []syncerr.Warning

	Rows          []sched.Row
	Timestamps    *state.Timestamps
	Tombstones    reconcile.Tombstones
	ScheduleMtime int64
	RunID         string
}

// Plan runs both sources through normalization and reconciles. It
// mutates no external state beyond the fetch cache.
func (p *Pipeline) Plan(ctx context.Context) (*PlanResult, error) {
	runID := uuid.NewString()
	now := time.Now().In(p.loc)
	res := p.resolvers(now)
	scope := p.cfg.Sync.Scope

	var (
		calIntents   []*intent.Intent
		calWarnings  []syncerr.Warning
		schedIntents []*intent.Intent
		schedWarns   []syncerr.Warning
		rows         []sched.Row
		schedMtime   int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		calIntents, calWarnings, err = p.calendarIntents(gctx, now, res, scope, runID)
		return err
	})
	g.Go(func() error {
		var err error
		rows, err = sched.ReadFile(p.cfg.Source.ScheduleFile)
		if err != nil {
			return err
		}
		schedMtime, err = sched.FileMtimeEpoch(p.cfg.Source.ScheduleFile)
		if err != nil {
			return err
		}
		schedIntents, schedWarns, err = normalize.FromSchedulerRows(rows, res, scope, runID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	warnings := append(calWarnings, schedWarns...)

	calManifest, err := manifest.Plan(calIntents, now.Unix())
	if err != nil {
		return nil, err
	}
	schedManifest, err := manifest.Plan(schedIntents, now.Unix())
	if err != nil {
		return nil, err
	}

	current, err := p.store.LoadManifest(ctx)
	if err != nil {
		return nil, err
	}
	// A leftover draft means an apply or adopt died between writes;
	// resume from it rather than from the pre-crash manifest.
	draft, err := p.store.LoadDraft(ctx)
	if err != nil {
		return nil, err
	}
	if draft != nil {
		p.logger.Warn().Msg("draft manifest left by an interrupted run, resuming from it")
		current = draft
	}
	if current == nil {
		current = manifest.New(now.Unix())
	}
	timestamps, err := p.store.LoadTimestamps(ctx)
	if err != nil {
		return nil, err
	}
	tombstones, err := p.store.LoadTombstones(ctx)
	if err != nil {
		return nil, err
	}

	schedUpdatedAt := deriveSchedulerUpdatedAt(schedManifest, timestamps, schedMtime)
	calUpdatedAt := deriveCalendarUpdatedAt(calManifest, now.Unix())
	recordAbsences(tombstones, current, calManifest, schedManifest,
		p.calendarConfigured(), scope, now.Unix(), schedMtime)

	result, err := reconcile.Reconcile(reconcile.Inputs{
		Cal:                calManifest,
		Sched:              schedManifest,
		Current:            current,
		CalUpdatedAt:       calUpdatedAt,
		SchedUpdatedAt:     schedUpdatedAt,
		Tombstones:         tombstones,
		CalSnapshotEpoch:   now.Unix(),
		SchedSnapshotEpoch: schedMtime,
		Mode:               reconcile.SyncMode(p.cfg.Sync.Mode),
		Scope:              scope,
		TieWinner:          reconcile.Source(p.cfg.Sync.TieWinner),
		Now:                now.Unix(),
	})
	if err != nil {
		return nil, err
	}

	diff, err := manifest.Compare(result.Target, current)
	if err != nil {
		return nil, err
	}

	p.logger.Info().
		Int("calendar_events", len(calManifest.Events)).
		Int("scheduler_events", len(schedManifest.Events)).
		Int("creates", len(diff.Creates)).
		Int("updates", len(diff.Updates)).
		Int("deletes", len(diff.Deletes)).
		Int("warnings", len(warnings)).
		Str("run_id", runID).
		Msg("plan computed")

	return &PlanResult{
		Result:        result,
		Diff:          diff,
		Warnings:      warnings,
		Rows:          rows,
		Timestamps:    timestamps,
		Tombstones:    tombstones,
		ScheduleMtime: schedMtime,
		RunID:         runID,
	}, nil
}

func (p *Pipeline) calendarConfigured() bool { return p.cfg.Source.ICSURL != "" }

// calendarIntents fetches and lexes the feed, snapshots it into
// bundles, and normalizes each bundle with a per-UID expander fan-out.
func (p *Pipeline) calendarIntents(ctx context.Context, now time.Time,
	res normalize.Resolvers, scope, runID string) ([]*intent.Intent, []syncerr.Warning, error) {

	if !p.calendarConfigured() {
		return nil, nil, nil
	}
	body, err := p.fetcher.Fetch(ctx, p.cfg.Source.ICSURL)
	if err != nil {
		return nil, nil, err
	}
	rows, err := ics.Parse(body, p.loc)
	if err != nil {
		return nil, nil, err
	}
	bundles, warnings, err := snapshot.Build(rows)
	if err != nil {
		return nil, warnings, err
	}

	horizon := expand.Horizon{
		Start: now,
		End:   now.AddDate(0, 0, p.cfg.Sync.HorizonDays),
	}
	expander := expand.New(p.loc)

	var mu sync.Mutex
	var intents []*intent.Intent
	g, _ := errgroup.WithContext(ctx)
	for _, uid := range snapshot.UIDs(bundles) {
		bundle := bundles[uid]
		g.Go(func() error {
			excluded := append([]time.Time{}, bundle.CancelledDates...)
			for _, ov := range bundle.Overrides {
				excluded = append(excluded, ov.OriginalStart)
			}
			occs, err := expander.Expand(bundle.Base, horizon, excluded)
			if err != nil {
				return err
			}
			ins, warns, err := normalize.FromBundle(bundle, occs, res, scope, runID)
			if err != nil {
				return err
			}
			mu.Lock()
			intents = append(intents, ins...)
			warnings = append(warnings, warns...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, warnings, err
	}
	sort.SliceStable(intents, func(i, j int) bool {
		return intents[i].IdentityHash < intents[j].IdentityHash
	})
	return intents, warnings, nil
}

// deriveSchedulerUpdatedAt turns the schedule file's single mtime into
// per-event timestamps: an event whose state hash changed since the
// last run carries the current mtime, an unchanged one keeps its
// remembered epoch.
func deriveSchedulerUpdatedAt(m *manifest.Manifest, ts *state.Timestamps, mtime int64) map[string]int64 {
	out := make(map[string]int64, len(m.Events))
	live := make(map[string]bool, len(m.Events))
	for _, id := range m.SortedIDs() {
		out[id] = ts.Observe(id, m.Events[id].StateHash, mtime)
		live[id] = true
	}
	ts.Prune(live)
	ts.ScheduleMtimeEpoch = mtime
	return out
}

// deriveCalendarUpdatedAt prefers per-row provenance; rows without a
// LAST-MODIFIED fall back to the snapshot epoch.
func deriveCalendarUpdatedAt(m *manifest.Manifest, snapshotEpoch int64) map[string]int64 {
	out := make(map[string]int64, len(m.Events))
	for id, ev := range m.Events {
		if ev.Provenance.UpdatedAtEpoch > 0 {
			out[id] = ev.Provenance.UpdatedAtEpoch
		} else {
			out[id] = snapshotEpoch
		}
	}
	return out
}

// recordAbsences maintains tombstones: an identity a source re-shows
// loses its tombstone, and an identity the last-applied manifest holds
// that a source no longer shows gains one stamped at the first run the
// absence was observed. Calendar absences are only recorded when the
// feed was actually read and the event belongs to the active scope.
func recordAbsences(t reconcile.Tombstones, current, cal, schedm *manifest.Manifest,
	calRead bool, scope string, calEpoch, schedEpoch int64) {

	for id := range cal.Events {
		t.Delete(reconcile.SourceCalendar, id)
	}
	for id := range schedm.Events {
		t.Delete(reconcile.SourceScheduler, id)
	}

	for id, ev := range current.Events {
		if !ev.Ownership.Managed {
			continue
		}
		if calRead && cal.Events[id] == nil && ev.Correlation.CalendarScope == scope {
			if _, ok := t.Get(reconcile.SourceCalendar, id); !ok {
				t.Set(reconcile.SourceCalendar, id, calEpoch)
			}
		}
		if schedm.Events[id] == nil {
			if _, ok := t.Get(reconcile.SourceScheduler, id); !ok {
				t.Set(reconcile.SourceScheduler, id, schedEpoch)
			}
		}
	}
}
