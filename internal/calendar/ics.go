package calendar

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"github.com/mprlab/meeagent/internal/extract"
)

// icsProductID identifies this exporter in generated calendars.
const icsProductID = "-//MEE//Extractor//EN"

var filenameSlugPattern = regexp.MustCompile(`[^a-zA-Z0-9-_]+`)

// BuildICS renders one extracted event as a downloadable VCALENDAR. All-day
// events are encoded with VALUE=DATE; timed events in UTC basic format. Text
// fields are escaped per RFC 5545 by the encoder.
func BuildICS(event extract.EventLite, now time.Time) (string, error) {
	if event.Start == "" {
		return "", ErrMissingStart
	}

	vevent := ical.NewComponent(ical.CompEvent)
	vevent.Props.SetText(ical.PropUID, uuid.NewString()+"@mee")
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())

	allDay := event.AllDay || dateOnlyPattern.MatchString(event.Start)
	if allDay {
		startProp, startErr := dateProp(ical.PropDateTimeStart, event.Start)
		if startErr != nil {
			return "", startErr
		}
		vevent.Props.Set(startProp)
		if event.End != "" {
			endProp, endErr := dateProp(ical.PropDateTimeEnd, event.End)
			if endErr != nil {
				return "", endErr
			}
			vevent.Props.Set(endProp)
		}
	} else {
		startAt, startErr := parseLoose(event.Start)
		if startErr != nil {
			return "", fmt.Errorf("calendar.ics.bad_start: %w", startErr)
		}
		vevent.Props.SetDateTime(ical.PropDateTimeStart, startAt.UTC())
		if event.End != "" {
			if endAt, endErr := parseLoose(event.End); endErr == nil {
				vevent.Props.SetDateTime(ical.PropDateTimeEnd, endAt.UTC())
			}
		}
	}

	summary := strings.TrimSpace(event.Title)
	if summary == "" {
		summary = "Untitled"
	}
	vevent.Props.SetText(ical.PropSummary, summary)
	if event.Location != "" {
		vevent.Props.SetText(ical.PropLocation, event.Location)
	}
	if event.URL != "" {
		vevent.Props.SetText(ical.PropURL, event.URL)
	}
	if event.Description != "" {
		vevent.Props.SetText(ical.PropDescription, event.Description)
	}

	calendarDoc := ical.NewCalendar()
	calendarDoc.Props.SetText(ical.PropVersion, "2.0")
	calendarDoc.Props.SetText(ical.PropProductID, icsProductID)
	calendarDoc.Props.SetText(ical.PropCalendarScale, "GREGORIAN")
	calendarDoc.Props.SetText(ical.PropMethod, "PUBLISH")
	calendarDoc.Children = append(calendarDoc.Children, vevent)

	var builder strings.Builder
	if encodeErr := ical.NewEncoder(&builder).Encode(calendarDoc); encodeErr != nil {
		return "", fmt.Errorf("calendar.ics.encode: %w", encodeErr)
	}
	return builder.String(), nil
}

// ICSFilename derives a download name like 2024-08-30-team-standup.ics.
func ICSFilename(event extract.EventLite) string {
	datePart := "event"
	if len(event.Start) >= 10 {
		datePart = event.Start[:10]
	}
	namePart := strings.Trim(filenameSlugPattern.ReplaceAllString(event.Title, "-"), "-")
	if namePart == "" {
		namePart = "event"
	}
	if len(namePart) > 60 {
		namePart = namePart[:60]
	}
	return fmt.Sprintf("%s-%s.ics", datePart, namePart)
}

// dateProp encodes a YYYY-MM-DD value as a VALUE=DATE property.
func dateProp(name string, value string) (*ical.Prop, error) {
	parsed, parseErr := time.ParseInLocation("2006-01-02", value[:min(len(value), 10)], time.UTC)
	if parseErr != nil {
		return nil, fmt.Errorf("calendar.ics.bad_date: %w", parseErr)
	}
	prop := ical.NewProp(name)
	prop.SetValueType(ical.ValueDate)
	prop.Value = parsed.Format("20060102")
	return prop, nil
}
