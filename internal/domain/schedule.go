package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	ErrConfigInvalid = errors.New("invalid schedule definition")
	ErrModelNotFound = errors.New("model not found")
	ErrStoreCorrupt  = errors.New("schedule store is corrupt")
)

// TimeOfDay is a wall-clock hour:minute, independent of any date or zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay accepts "HH:MM" and "HH:MM:SS"; seconds are ignored.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: bad hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day %q: bad minute", s)
	}
	if len(parts) == 3 {
		if sec, err := strconv.Atoi(parts[2]); err != nil || sec < 0 || sec > 59 {
			return TimeOfDay{}, fmt.Errorf("time of day %q: bad second", s)
		}
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Minutes returns the minute of the day, 0..1439.
func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

type ScheduleDefinition struct {
	ModelID         string    `json:"model_id"         yaml:"model_id"         validate:"required,max=256"`
	TargetURL       string    `json:"target_url"       yaml:"target_url"       validate:"required,url,max=2048"`
	From            TimeOfDay `json:"from"             yaml:"from"`
	To              TimeOfDay `json:"to"               yaml:"to"`
	WrapsMidnight   bool      `json:"wraps_midnight"   yaml:"wraps_midnight"`
	IntervalMinutes int       `json:"interval_minutes" yaml:"interval_minutes" validate:"min=1"`
	Timezone        string    `json:"timezone"         yaml:"timezone"         validate:"required"`
	Enabled         bool      `json:"enabled"          yaml:"enabled"`
}

var validate = validator.New()

// Validate checks the definition before it may reach the store. Every
// failure wraps ErrConfigInvalid.
func (d *ScheduleDefinition) Validate(maxIntervalMinutes int) error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	u, err := url.Parse(d.TargetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: target_url must be an absolute http(s) URL", ErrConfigInvalid)
	}
	if maxIntervalMinutes > 0 && d.IntervalMinutes > maxIntervalMinutes {
		return fmt.Errorf("%w: interval_minutes %d exceeds maximum %d", ErrConfigInvalid, d.IntervalMinutes, maxIntervalMinutes)
	}

	from, to := d.From.Minutes(), d.To.Minutes()
	switch {
	case from == to:
		return fmt.Errorf("%w: window %s-%s is empty", ErrConfigInvalid, d.From, d.To)
	case to < from && !d.WrapsMidnight:
		return fmt.Errorf("%w: to %s is before from %s; set wraps_midnight for overnight windows", ErrConfigInvalid, d.To, d.From)
	case to > from && d.WrapsMidnight:
		return fmt.Errorf("%w: wraps_midnight set but %s-%s does not cross midnight", ErrConfigInvalid, d.From, d.To)
	}

	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrConfigInvalid, d.Timezone, err)
	}
	for _, edge := range []TimeOfDay{d.From, d.To} {
		if day, ok := findDSTGap(edge, loc, time.Now()); ok {
			return fmt.Errorf("%w: %s does not exist in %s on %s (DST gap)", ErrConfigInvalid, edge, d.Timezone, day.Format(time.DateOnly))
		}
	}
	return nil
}

// findDSTGap reports the first day in the year after from on which t is not
// a valid local time in loc.
func findDSTGap(t TimeOfDay, loc *time.Location, from time.Time) (time.Time, bool) {
	start := from.In(loc)
	for i := 0; i < 366; i++ {
		day := time.Date(start.Year(), start.Month(), start.Day()+i, t.Hour, t.Minute, 0, 0, loc)
		if day.Hour() != t.Hour || day.Minute() != t.Minute {
			return day, true
		}
	}
	return time.Time{}, false
}

// EndpointID extracts the RunPod endpoint id from /v2/<id>/openai style URLs,
// falling back to the full URL.
func (d *ScheduleDefinition) EndpointID() string {
	_, rest, ok := strings.Cut(d.TargetURL, "/v2/")
	if !ok {
		return d.TargetURL
	}
	id, _, _ := strings.Cut(rest, "/")
	if id == "" {
		return d.TargetURL
	}
	return id
}
