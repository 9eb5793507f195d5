package dispatcher

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultStartDelay    = time.Minute
	DefaultEventDuration = time.Hour
)

var ErrStartNotInFuture = errors.New("start time must be in the future")

// layouts accepted for event times; the zone-less ones are read in the
// handler's location
var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseEventTime parses an ISO-8601 timestamp. An empty string yields nil.
func ParseEventTime(value string, loc *time.Location) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return &t, nil
	}
	// "Z"-less offsets such as +0900 are common in hand-written payloads
	if t, err := time.Parse("2006-01-02T15:04:05Z0700", value); err == nil {
		return &t, nil
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognised timestamp %q", value)
}

// EventWindow applies the scheduling rules: a missing start becomes
// now+1m, a missing end becomes start+1h, a start that is not strictly after
// now is rejected and an end that is not strictly after start is moved to
// start+1h.
func EventWindow(now time.Time, start, end *time.Time) (time.Time, time.Time, error) {
	s := now.Add(DefaultStartDelay)
	if start != nil {
		s = *start
	}
	if !s.After(now) {
		return time.Time{}, time.Time{}, ErrStartNotInFuture
	}

	e := s.Add(DefaultEventDuration)
	if end != nil && end.After(s) {
		e = *end
	}
	return s, e, nil
}
