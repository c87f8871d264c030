package leakybucket

import (
	"strconv"
	"strings"
	"time"
)

var ratePeriods = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
}

// ParseRate converts a rate like "5", "0.5/s", "30/m" or "100/h" into a leak
// interval. A bare number means units per second.
func ParseRate(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	period := time.Second

	if count, unit, ok := strings.Cut(value, "/"); ok {
		p, known := ratePeriods[strings.ToLower(strings.TrimSpace(unit))]
		if !known {
			return 0, false
		}
		value, period = strings.TrimSpace(count), p
	}

	rate, err := strconv.ParseFloat(value, 64)
	if err != nil || rate <= 0 {
		return 0, false
	}

	return time.Duration(float64(period) / rate), true
}

// ParseLimits reads burst and rate settings, keeping the fallback for
// whatever is missing or malformed.
func ParseLimits(rate, burst string, fallback Limits) Limits {
	limits := fallback

	if interval, ok := ParseRate(rate); ok && interval > 0 {
		limits.LeakInterval = interval
	}

	if c, err := strconv.ParseUint(strings.TrimSpace(burst), 10, 32); err == nil && c > 0 {
		limits.Capacity = TLevel(c)
	}

	return limits
}
