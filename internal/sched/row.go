// Package sched reads and writes the player scheduler's on-disk state:
// a flat JSON list of ranged entries with date windows, day selectors,
// and start/end times, plus the management tag that marks rows authored
// by this system.
package sched

import (
	"strings"
)

// Row is one scheduler entry exactly as persisted.
type Row struct {
	Type      string   `json:"type"`
	Target    string   `json:"target,omitempty"`
	Command   string   `json:"command,omitempty"`
	Args      []string `json:"args,omitempty"`
	Enabled   int      `json:"enabled"`
	Day       int      `json:"day"`
	StartTime string   `json:"startTime"`
	EndTime   string   `json:"endTime"`
	StartDate string   `json:"startDate"`
	EndDate   string   `json:"endDate"`
	Repeat    int      `json:"repeat"`
	StopType  int      `json:"stopType"`
	Tag       string   `json:"tag,omitempty"`
}

// TargetName returns the row's executable target: the playlist or
// sequence name, or the command.
func (r Row) TargetName() string {
	if r.Command != "" {
		return r.Command
	}
	return r.Target
}

// IsManaged reports whether the row carries a well-formed management
// tag.
func (r Row) IsManaged() bool {
	_, err := ParseTag(r.Tag)
	return err == nil
}

// StopType codes used by the scheduler.
const (
	StopCodeGraceful     = 0
	StopCodeHard         = 1
	StopCodeGracefulLoop = 2
)

// Repeat codes: 0 none, 1 immediate, n>1 every n minutes.
const (
	RepeatCodeNone      = 0
	RepeatCodeImmediate = 1
)

func DecodeStopType(code int) string {
	switch code {
	case StopCodeHard:
		return "hard"
	case StopCodeGracefulLoop:
		return "graceful_loop"
	default:
		return "graceful"
	}
}

func EncodeStopType(s string) int {
	switch s {
	case "hard":
		return StopCodeHard
	case "graceful_loop":
		return StopCodeGracefulLoop
	default:
		return StopCodeGraceful
	}
}

func DecodeRepeat(code int) string {
	switch {
	case code == RepeatCodeNone:
		return "none"
	case code == RepeatCodeImmediate:
		return "immediate"
	case code > 1:
		return "every:" + itoa(code)
	default:
		return "none"
	}
}

func EncodeRepeat(s string) int {
	switch {
	case s == "immediate":
		return RepeatCodeImmediate
	case strings.HasPrefix(s, "every:"):
		return atoiDefault(strings.TrimPrefix(s, "every:"), RepeatCodeNone)
	default:
		return RepeatCodeNone
	}
}
