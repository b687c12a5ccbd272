package calendar

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mprlab/meeagent/internal/extract"
)

// ErrMissingStart indicates the event has no start date/time to shape from.
var ErrMissingStart = errors.New("calendar.payload.missing_start")

// DefaultEventDuration is assumed when a timed event has no usable end.
const DefaultEventDuration = 30 * time.Minute

var dateOnlyPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// EventTime is one side of a Google Calendar event interval. Exactly one of
// Date (all-day) or DateTime (timed) is set.
type EventTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// EventPayload is the Google Calendar event body sent to the proxy. Derived
// fresh per add action, never stored.
type EventPayload struct {
	Summary     string    `json:"summary,omitempty"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       EventTime `json:"start"`
	End         EventTime `json:"end"`
}

// PayloadFrom shapes an extracted event into a calendar payload.
// Deterministic: a date-only start yields an all-day payload whose end date
// is exclusive per the calendar API's convention, so a single-day event ends
// the day after it starts. Any other parseable start yields a timed payload
// with a defaulted timezone and, when the end is missing or invalid, an end
// of start + defaultDuration.
func PayloadFrom(event extract.EventLite, defaultDuration time.Duration) (EventPayload, error) {
	if event.Start == "" {
		return EventPayload{}, ErrMissingStart
	}
	if defaultDuration <= 0 {
		defaultDuration = DefaultEventDuration
	}

	summary := strings.TrimSpace(event.Title)
	if summary == "" {
		summary = "Untitled"
	}
	payload := EventPayload{
		Summary:     summary,
		Description: strings.TrimSpace(event.Description),
		Location:    strings.TrimSpace(event.Location),
	}

	if dateOnlyPattern.MatchString(event.Start) {
		endDate := event.Start
		if event.End != "" && dateOnlyPattern.MatchString(event.End) {
			endDate = event.End
		}
		exclusiveEnd, err := nextCalendarDay(endDate)
		if err != nil {
			return EventPayload{}, fmt.Errorf("calendar.payload.bad_end_date: %w", err)
		}
		payload.Start = EventTime{Date: event.Start}
		payload.End = EventTime{Date: exclusiveEnd}
		return payload, nil
	}

	startAt, parseErr := parseLoose(event.Start)
	if parseErr != nil {
		return EventPayload{}, fmt.Errorf("calendar.payload.bad_start: %w", parseErr)
	}

	timezone := event.Timezone
	if timezone == "" {
		timezone = localZoneName()
	}

	endValue := ""
	if event.End != "" && !dateOnlyPattern.MatchString(event.End) {
		if _, endErr := parseLoose(event.End); endErr == nil {
			endValue = event.End
		}
	}
	if endValue == "" {
		endValue = startAt.Add(defaultDuration).Format(time.RFC3339)
	}

	payload.Start = EventTime{DateTime: event.Start, TimeZone: timezone}
	payload.End = EventTime{DateTime: endValue, TimeZone: timezone}
	return payload, nil
}

// parseLoose accepts RFC 3339 with or without an offset, and bare dates.
func parseLoose(value string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02",
	}
	var lastErr error
	for _, layout := range layouts {
		parsed, err := time.Parse(layout, value)
		if err == nil {
			return parsed, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// nextCalendarDay advances a YYYY-MM-DD date by one day in UTC, avoiding
// timezone drift.
func nextCalendarDay(value string) (string, error) {
	parsed, err := time.ParseInLocation("2006-01-02", value, time.UTC)
	if err != nil {
		return "", err
	}
	return parsed.AddDate(0, 0, 1).Format("2006-01-02"), nil
}

// localZoneName resolves the environment's IANA zone, falling back to UTC
// when the runtime cannot name it.
func localZoneName() string {
	name := time.Now().Location().String()
	if name == "" || name == "Local" {
		return "UTC"
	}
	return name
}
