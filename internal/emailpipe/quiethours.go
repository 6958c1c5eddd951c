package emailpipe

import (
	"strconv"
	"strings"
	"time"

	"errwatch/internal/model"
)

// quietHoursActive implements the three-case minutes-of-day comparison
// from the quiet hours test: equal bounds means never active, an
// ascending range is a half-open interval, and a range that wraps
// midnight is active outside the gap between end and start.
func quietHoursActive(qh model.QuietHours, now time.Time) bool {
	if !qh.Enabled {
		return false
	}
	loc := time.UTC
	if qh.Timezone != "" {
		if parsed, err := time.LoadLocation(qh.Timezone); err == nil {
			loc = parsed
		}
	}
	local := now.In(loc)
	current := local.Hour()*60 + local.Minute()

	start, ok1 := parseHHMM(qh.Start)
	end, ok2 := parseHHMM(qh.End)
	if !ok1 || !ok2 {
		return false
	}
	if start == end {
		return false
	}
	if start < end {
		return current >= start && current < end
	}
	return current >= start || current < end
}

func parseHHMM(s string) (int, bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return h*60 + m, true
}

// cadenceWindow returns the elapsed duration required before a
// digest-mode member's next send.
func cadenceWindow(cadence model.DigestCadence) time.Duration {
	if cadence == model.CadenceWeekly {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}
