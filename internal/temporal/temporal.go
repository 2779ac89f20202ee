// Package temporal derives time-of-day and link-age features from the
// server-side click timestamp.
package temporal

import (
	"time"

	"github.com/clicklens/clicklens/internal/model"
)

// Day parts by hour of day.
const (
	DayPartNight     = "night"     // 0-5
	DayPartMorning   = "morning"   // 6-11
	DayPartAfternoon = "afternoon" // 12-17
	DayPartEvening   = "evening"   // 18-23
)

var peakHours = map[int]bool{
	6: true, 7: true, 8: true, 9: true,
	12: true, 13: true,
	18: true, 19: true, 20: true, 21: true, 22: true, 23: true,
}

// Extractor computes temporal features in a fixed reporting location.
type Extractor struct {
	loc *time.Location
}

// NewExtractor returns an Extractor for loc. A nil loc means UTC.
func NewExtractor(loc *time.Location) *Extractor {
	if loc == nil {
		loc = time.UTC
	}
	return &Extractor{loc: loc}
}

// Location returns the reporting location.
func (e *Extractor) Location() *time.Location {
	return e.loc
}

// Extract derives features for a click at clickedAt on a link created at
// linkCreatedAt. Link age is clamped at zero so clock skew between the link
// store and this process never yields a negative age.
func (e *Extractor) Extract(clickedAt, linkCreatedAt time.Time) model.Temporal {
	local := clickedAt.In(e.loc)
	dow := Weekday(local.Weekday())
	_, week := local.ISOWeek()

	var age int64
	if !linkCreatedAt.IsZero() {
		age = int64(clickedAt.Sub(linkCreatedAt) / time.Second)
		if age < 0 {
			age = 0
		}
	}

	return model.Temporal{
		HourOfDay:                local.Hour(),
		DayOfWeek:                dow,
		IsWeekend:                dow >= 5,
		WeekOfYear:               week,
		Month:                    int(local.Month()),
		DayPart:                  DayPart(local.Hour()),
		IsPeakHour:               IsPeakHour(local.Hour()),
		SecondsSinceLinkCreation: age,
	}
}

// Weekday maps time.Weekday (Sunday = 0) to Monday = 0 ... Sunday = 6.
func Weekday(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// DayPart buckets an hour of day.
func DayPart(hour int) string {
	switch {
	case hour < 6:
		return DayPartNight
	case hour < 12:
		return DayPartMorning
	case hour < 18:
		return DayPartAfternoon
	default:
		return DayPartEvening
	}
}

// IsPeakHour reports whether hour falls in a typical engagement peak:
// early morning, lunch or evening.
func IsPeakHour(hour int) bool {
	return peakHours[hour]
}
