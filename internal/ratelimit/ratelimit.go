// Package ratelimit estimates when a rate-limited backend becomes
// usable again, from the reset phrasing in its output.
package ratelimit

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zakelfassi/Ralph-Kit/internal/backend"
)

// SafetyMargin is added to every estimate so a conservative vendor
// clock doesn't make us retry a few seconds early.
const SafetyMargin = 300 * time.Second

// Per-backend fallback cooldowns when the output carries no reset
// phrasing. The vendors reset on materially different cadences; keep
// these separate.
const (
	DefaultClaudeCooldown = 5*time.Hour + SafetyMargin
	DefaultCodexCooldown  = 1 * time.Hour
)

// Reset phrasings seen in backend output.
// Relative: "resets in 20 minutes". Absolute: "resets at 3:45pm".
var (
	relativePattern = regexp.MustCompile(`(?i)resets?\s+in\s+(\d+)\s*(seconds?|secs?|minutes?|mins?|hours?|hrs?)`)
	absolutePattern = regexp.MustCompile(`(?i)resets?\s+at\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?`)
)

// EstimateResume returns how long to wait before retrying id, derived
// from output. Always positive; falls back to the per-backend default
// when no reset phrasing is found. now anchors absolute clock times.
func EstimateResume(output string, id backend.ID, now time.Time) time.Duration {
	if d, ok := parseRelative(output); ok {
		return d + SafetyMargin
	}
	if d, ok := parseAbsolute(output, now); ok {
		return d + SafetyMargin
	}

	if id == backend.Claude {
		return DefaultClaudeCooldown
	}
	return DefaultCodexCooldown
}

func parseRelative(output string) (time.Duration, bool) {
	m := relativePattern.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}

	n, err := strconv.Atoi(m[1])
	if err != nil || n < 0 {
		return 0, false
	}

	switch {
	case strings.HasPrefix(strings.ToLower(m[2]), "s"):
		return time.Duration(n) * time.Second, true
	case strings.HasPrefix(strings.ToLower(m[2]), "m"):
		return time.Duration(n) * time.Minute, true
	default:
		return time.Duration(n) * time.Hour, true
	}
}

func parseAbsolute(output string, now time.Time) (time.Duration, bool) {
	m := absolutePattern.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}

	hour, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	minute := 0
	if m[2] != "" {
		minute, err = strconv.Atoi(m[2])
		if err != nil {
			return 0, false
		}
	}

	// 12-hour clock: "12am" is midnight (hour 0) and "12pm" is noon
	// (hour 12), not hour 24.
	switch strings.ToLower(m[3]) {
	case "am":
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour != 12 {
			hour += 12
		}
	}

	if hour > 23 || minute > 59 {
		return 0, false
	}

	target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !target.After(now) {
		target = target.Add(24 * time.Hour)
	}
	return target.Sub(now), true
}
