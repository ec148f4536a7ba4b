// Package ics lexes ICS documents into untyped per-VEVENT rows. Line
// unfolding, property splitting, TZID and UTC suffix handling live
// here; semantic interpretation belongs to the core.
package ics

import (
	"time"
)

// RRule is the structured subset of RRULE the scheduler side can
// express. Unknown frequencies are preserved verbatim in Freq and
// downgraded later by the expander.
type RRule struct {
	Freq     string
	Interval int
	Count    int
	Until    *time.Time
	ByDay    []string
}

// Provenance carries the source timestamps of a row.
type Provenance struct {
	UpdatedAtEpoch int64
	CreatedAtEpoch int64
	DTStampEpoch   int64
}

// Row is one lexed VEVENT. The core assumes rows are well-formed;
// malformed VEVENTs are skipped during parsing.
type Row struct {
	UID          string
	Summary      string
	Description  string
	Start        time.Time
	End          time.Time
	IsAllDay     bool
	RRule        *RRule
	ExDates      []time.Time
	RecurrenceID *time.Time
	Status       string
	Provenance   Provenance
}

// IsOverride reports whether the row modifies a single occurrence of a
// recurring parent.
func (r *Row) IsOverride() bool { return r.RecurrenceID != nil }

// IsCancelled reports a cancellation row.
func (r *Row) IsCancelled() bool { return r.Status == "CANCELLED" }
