package normalize

import (
	"fmt"
	"strings"
	"time"
)

var (
	localDateTimeLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
	}
	localTimeLayouts = []string{"15:04:05", "15:04", "3:04pm", "3:04 pm", "3pm"}
	instantLayouts   = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05Z0700", "2006-01-02 15:04:05Z07:00"}
)

// timeInput is what a provider tells us about one instant.
type timeInput struct {
	Instant  string // explicit UTC or offset-qualified timestamp
	Local    string // local date-time, or just a date when Clock is set
	Clock    string // local wall clock, optional
	Timezone string // IANA name declared by the source
}

func (in timeInput) empty() bool {
	return strings.TrimSpace(in.Instant) == "" && strings.TrimSpace(in.Local) == ""
}

// resolveTime turns a provider time into a UTC instant and the IANA zone it
// belongs to. Precedence: explicit instant, then local time in the source zone,
// then local time in the fallback zone.
func resolveTime(in timeInput, fallbackTZ string) (time.Time, string, error) {
	zone := pickZone(in.Timezone, fallbackTZ)

	if s := strings.TrimSpace(in.Instant); s != "" {
		for _, layout := range instantLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				if zone == "" {
					zone = "UTC"
				}
				return t.UTC(), zone, nil
			}
		}
	}

	local := strings.TrimSpace(in.Local)
	if local == "" {
		return time.Time{}, "", fmt.Errorf("%w: no instant or local time", ErrUnresolvableTime)
	}
	if zone == "" {
		return time.Time{}, "", fmt.Errorf("%w: local time %q without timezone", ErrUnresolvableTime, local)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: load zone %q: %v", ErrUnresolvableTime, zone, err)
	}

	if t, ok := parseLocal(local, strings.TrimSpace(in.Clock), loc); ok {
		return t.UTC(), zone, nil
	}
	return time.Time{}, "", fmt.Errorf("%w: unparseable local time %q %q", ErrUnresolvableTime, local, in.Clock)
}

func parseLocal(local, clock string, loc *time.Location) (time.Time, bool) {
	if clock == "" {
		for _, layout := range localDateTimeLayouts {
			if t, err := time.ParseInLocation(layout, local, loc); err == nil {
				return t, true
			}
		}
	}
	day, err := time.ParseInLocation(time.DateOnly, local, loc)
	if err != nil {
		return time.Time{}, false
	}
	if clock == "" {
		return day, true
	}
	for _, layout := range localTimeLayouts {
		if c, err := time.Parse(layout, strings.ToLower(clock)); err == nil {
			return time.Date(day.Year(), day.Month(), day.Day(), c.Hour(), c.Minute(), c.Second(), 0, loc), true
		}
	}
	return time.Time{}, false
}

// pickZone returns the first loadable zone name.
func pickZone(candidates ...string) string {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, err := time.LoadLocation(c); err == nil {
			return c
		}
	}
	return ""
}
