// Package schedulegate decides whether a mission's schedule trigger is
// due to fire for a given instant.
package schedulegate

import (
	"strings"
	"time"

	"novacore/internal/domain/mission"
)

// Decision is the outcome of a gate check.
type Decision struct {
	Due      bool
	Reason   string
	DayStamp string
}

var shortWeekday = map[time.Weekday]string{
	time.Sunday:    "sun",
	time.Monday:    "mon",
	time.Tuesday:   "tue",
	time.Wednesday: "wed",
	time.Thursday:  "thu",
	time.Friday:    "fri",
	time.Saturday:  "sat",
}

// Check evaluates whether m is due to run at now. If the mission has no
// schedule-trigger node, the gate is open (manual/webhook path).
func Check(m *mission.Mission, now time.Time) Decision {
	trigger, ok := m.ScheduleTrigger()
	if !ok {
		return Decision{Due: true, Reason: "no schedule-trigger: gate open"}
	}

	tz := trigger.StringField("timezone")
	if tz == "" {
		tz = m.Settings.Timezone
	}
	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	local := now.In(loc)
	today := local.Format("2006-01-02")

	mode := trigger.StringField("mode")
	switch mode {
	case "interval":
		return checkInterval(m, trigger, local)
	case "once":
		if m.LastSentLocalDate == "" {
			return Decision{Due: true, Reason: "first and only run", DayStamp: today}
		}
		return Decision{Due: false, Reason: "once-mode already sent", DayStamp: today}
	case "daily":
		if m.LastSentLocalDate != today {
			return Decision{Due: true, Reason: "daily not yet sent today", DayStamp: today}
		}
		return Decision{Due: false, Reason: "Already ran today", DayStamp: today}
	case "weekly":
		if m.LastSentLocalDate == today {
			return Decision{Due: false, Reason: "Already ran today", DayStamp: today}
		}
		days := stringSliceField(trigger, "days")
		weekday := shortWeekday[local.Weekday()]
		if !containsFold(days, weekday) {
			return Decision{Due: false, Reason: "not a scheduled weekday", DayStamp: today}
		}
		return Decision{Due: true, Reason: "weekly day match", DayStamp: today}
	default:
		return Decision{Due: true, Reason: "unknown schedule mode: gate open", DayStamp: today}
	}
}

func checkInterval(m *mission.Mission, trigger mission.Node, local time.Time) Decision {
	today := local.Format("2006-01-02")
	if m.LastRunAt == nil {
		return Decision{Due: true, Reason: "first run", DayStamp: today}
	}
	minutes := intField(trigger, "intervalMinutes")
	if minutes <= 0 {
		minutes = 1
	}
	elapsed := local.Sub(m.LastRunAt.In(local.Location()))
	if elapsed >= time.Duration(minutes)*time.Minute {
		return Decision{Due: true, Reason: "interval elapsed", DayStamp: today}
	}
	return Decision{Due: false, Reason: "interval not yet elapsed", DayStamp: today}
}

func stringSliceField(n mission.Node, name string) []string {
	v, ok := n.Field(name)
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func intField(n mission.Node, name string) int {
	v, ok := n.Field(name)
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	default:
		return 0
	}
}

func containsFold(list []string, want string) bool {
	for _, item := range list {
		if strings.EqualFold(item, want) {
			return true
		}
	}
	return false
}
