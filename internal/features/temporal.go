package features

import "time"

// TemporalFeatures holds the calendar features derived from a timestamp.
// These depend on no history and are present on every row.
type TemporalFeatures struct {
	MinuteOfHour int64 // [0,59]
	HourOfDay    int64 // [0,23]
	DayOfWeek    int64 // Monday=0 .. Sunday=6
	WeekOfYear   int64 // ISO-8601 week [1,53]
}

// ExtractTemporal derives calendar features from a millisecond timestamp
// in the given location. Go numbers weekdays Sunday=0; the feature
// contract is Monday=0, so the weekday is rotated.
func ExtractTemporal(timestampMs int64, loc *time.Location) TemporalFeatures {
	t := time.UnixMilli(timestampMs).In(loc)
	_, isoWeek := t.ISOWeek()
	return TemporalFeatures{
		MinuteOfHour: int64(t.Minute()),
		HourOfDay:    int64(t.Hour()),
		DayOfWeek:    int64((int(t.Weekday()) + 6) % 7),
		WeekOfYear:   int64(isoWeek),
	}
}
