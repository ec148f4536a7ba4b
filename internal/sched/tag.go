package sched

import (
	"fmt"
	"strings"

	"github.com/sonroyaalmerol/schedsync/internal/core/intent"
)

// TagPrefix versions the management tag format. Rows carrying a tag of
// this version are managed by this system; all other rows pass through
// verbatim.
const TagPrefix = "GCS:v1"

// Tag is the parsed management tag of a managed row.
type Tag struct {
	UID        string
	RangeStart string
	RangeEnd   string
	Days       string
}

// FormatTag renders |GCS:v1|uid=<uid>|range=<start..end>|days=<days>|.
func FormatTag(t Tag) string {
	return fmt.Sprintf("|%s|uid=%s|range=%s..%s|days=%s|",
		TagPrefix, t.UID, t.RangeStart, t.RangeEnd, t.Days)
}

// ParseTag reads a management tag back; an error means the row is not
// managed by this system.
func ParseTag(s string) (Tag, error) {
	var tag Tag
	s = strings.Trim(strings.TrimSpace(s), "|")
	if s == "" {
		return tag, fmt.Errorf("no tag")
	}
	parts := strings.Split(s, "|")
	if parts[0] != TagPrefix {
		return tag, fmt.Errorf("unknown tag version %q", parts[0])
	}
	for _, part := range parts[1:] {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return tag, fmt.Errorf("bad tag part %q", part)
		}
		switch kv[0] {
		case "uid":
			tag.UID = kv[1]
		case "range":
			se := strings.SplitN(kv[1], "..", 2)
			if len(se) != 2 {
				return tag, fmt.Errorf("bad tag range %q", kv[1])
			}
			tag.RangeStart, tag.RangeEnd = se[0], se[1]
		case "days":
			tag.Days = kv[1]
		}
	}
	if tag.UID == "" {
		return tag, fmt.Errorf("tag missing uid")
	}
	return tag, nil
}

// FormatDaysToken renders the tag's days slot: a comma list of weekday
// shorts, a parity word, or "none".
func FormatDaysToken(d intent.Days) string {
	switch d.Kind {
	case intent.DaysWeekly:
		return d.Weekly.String()
	case intent.DaysParity:
		return string(d.Parity)
	default:
		return "none"
	}
}

// ParseDaysToken reads the days slot back into a Days value.
func ParseDaysToken(s string) (intent.Days, error) {
	switch s {
	case "":
		return intent.Days{}, fmt.Errorf("empty days token")
	case "none":
		return intent.NoDays(), nil
	case string(intent.ParityOdd):
		return intent.ParityDays(intent.ParityOdd), nil
	case string(intent.ParityEven):
		return intent.ParityDays(intent.ParityEven), nil
	}
	var m intent.WeekdayMask
	for _, part := range strings.Split(s, ",") {
		w, err := intent.WeekdayFromShort(part)
		if err != nil {
			return intent.Days{}, err
		}
		m = m.With(w)
	}
	return intent.WeeklyDays(m), nil
}
