package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// Schedule kinds.
const (
	KindAt    = "at"
	KindEvery = "every"
	KindCron  = "cron"
)

// Schedule is the parsed firing rule of a job. Exactly one of the kind
// fields is meaningful.
type Schedule struct {
	Kind     string `json:"kind"`
	CronExpr string `json:"cron_expr,omitempty"`
	EveryMs  int64  `json:"every_ms,omitempty"`
	AtMs     int64  `json:"at_ms,omitempty"`     // unix ms
	AnchorMs int64  `json:"anchor_ms,omitempty"` // interval origin for every schedules
	Timezone string `json:"timezone,omitempty"`
}

// ParseSchedule builds a Schedule from the tool-facing fields. Exactly one
// of cronExpr, every, at must be given. Cron expressions are not validated
// here: a job with a bad expression is still stored and listed, it just
// never arms.
func ParseSchedule(cronExpr string, every time.Duration, at string, timezone string) (Schedule, error) {
	cronExpr = strings.TrimSpace(cronExpr)
	at = strings.TrimSpace(at)

	given := 0
	if cronExpr != "" {
		given++
	}
	if every > 0 {
		given++
	}
	if at != "" {
		given++
	}
	if given != 1 {
		return Schedule{}, fmt.Errorf("exactly one of cron, every, at is required")
	}

	sched := Schedule{Timezone: strings.TrimSpace(timezone)}

	switch {
	case at != "":
		ts, err := parseAt(at, sched.Timezone)
		if err != nil {
			return Schedule{}, err
		}
		sched.Kind = KindAt
		sched.AtMs = ts.UnixMilli()
	case every > 0:
		if every < time.Second {
			return Schedule{}, fmt.Errorf("every interval must be at least 1s")
		}
		sched.Kind = KindEvery
		sched.EveryMs = every.Milliseconds()
	default:
		sched.Kind = KindCron
		sched.CronExpr = cronExpr
	}
	return sched, nil
}

// Next returns the next firing after now, or ok=false when the schedule is
// exhausted (a past one-shot).
func (s Schedule) Next(now time.Time) (time.Time, bool, error) {
	switch s.Kind {
	case KindAt:
		at := time.UnixMilli(s.AtMs)
		if !now.Before(at) {
			return time.Time{}, false, nil
		}
		return at, true, nil
	case KindEvery:
		if s.EveryMs <= 0 {
			return time.Time{}, false, fmt.Errorf("every schedule missing interval")
		}
		if s.AnchorMs > 0 {
			// Fixed cadence from the anchor: the next multiple of the
			// interval strictly after now, so job runtime never drifts
			// the grid.
			elapsed := now.UnixMilli() - s.AnchorMs
			if elapsed < 0 {
				elapsed = 0
			}
			next := s.AnchorMs + (elapsed/s.EveryMs+1)*s.EveryMs
			return time.UnixMilli(next), true, nil
		}
		return now.Add(time.Duration(s.EveryMs) * time.Millisecond), true, nil
	case KindCron:
		if s.CronExpr == "" {
			return time.Time{}, false, fmt.Errorf("cron schedule missing expression")
		}
		ref := now
		if s.Timezone != "" {
			if loc, err := time.LoadLocation(s.Timezone); err == nil {
				ref = now.In(loc)
			}
		}
		next, err := gronx.NextTickAfter(s.CronExpr, ref, false)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("evaluate cron expression: %w", err)
		}
		return next, true, nil
	default:
		return time.Time{}, false, fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}

// Describe renders the schedule for listings.
func (s Schedule) Describe() string {
	switch s.Kind {
	case KindAt:
		return "at " + time.UnixMilli(s.AtMs).Format(time.RFC3339)
	case KindEvery:
		return "every " + (time.Duration(s.EveryMs) * time.Millisecond).String()
	case KindCron:
		if s.Timezone != "" {
			return fmt.Sprintf("cron %q (%s)", s.CronExpr, s.Timezone)
		}
		return fmt.Sprintf("cron %q", s.CronExpr)
	default:
		return "unknown"
	}
}

func parseAt(value, tz string) (time.Time, error) {
	layouts := []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04"}
	if tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			for _, layout := range layouts {
				if parsed, err := time.ParseInLocation(layout, value, loc); err == nil {
					return parsed, nil
				}
			}
		}
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		// Relative form: "+20m" style offsets arrive without the sign.
		return time.Now().Add(d), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", value)
}
