package model

import (
	"fmt"
	"time"
)

// DayFlag is one boolean fact for one calendar day. Every flag table has
// exactly this shape and at most one row per day.
type DayFlag struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Day       time.Time `gorm:"type:date;not null;uniqueIndex" json:"day"`
	Value     bool      `gorm:"not null;default:false" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Occupancy records whether the rental was booked on a day.
type Occupancy struct {
	DayFlag
}

func (Occupancy) TableName() string { return "occupancy" }

// Presence records whether someone was home on a day.
type Presence struct {
	DayFlag
}

func (Presence) TableName() string { return "presence" }

// Telework records a remote-work day.
type Telework struct {
	DayFlag
}

func (Telework) TableName() string { return "telework" }

// Fireplace records a day the fireplace was lit.
type Fireplace struct {
	DayFlag
}

func (Fireplace) TableName() string { return "fireplace" }

// ActivityReport is a free-form intimate activity log entry. Several
// entries may exist for the same day.
type ActivityReport struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Day          time.Time `gorm:"type:date;not null;index" json:"day"`
	OralGiven    bool      `gorm:"not null;default:false" json:"oral_given"`
	OralReceived bool      `gorm:"not null;default:false" json:"oral_received"`
	Doggy        bool      `gorm:"not null;default:false" json:"doggy"`
	Missionary   bool      `gorm:"not null;default:false" json:"missionary"`
	Cowgirl      bool      `gorm:"not null;default:false" json:"cowgirl"`
	Anal         bool      `gorm:"not null;default:false" json:"anal"`
	Spanking     bool      `gorm:"not null;default:false" json:"spanking"`
	Note         string    `gorm:"type:varchar(512)" json:"note,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (ActivityReport) TableName() string { return "activity_reports" }

// SensorReading is one hourly value for a named sensor.
type SensorReading struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Sensor    string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_sensor_hour" json:"sensor"`
	Hour      time.Time `gorm:"not null;uniqueIndex:idx_sensor_hour" json:"hour"`
	Value     float64   `gorm:"not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SensorReading) TableName() string { return "sensor_readings" }

// DateLayout is the wire and URL format of a calendar day.
const DateLayout = "2006-01-02"

// DayOf normalizes t to midnight UTC of its own calendar date, so the same
// wall-clock day always maps to the same key whatever t's location.
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD string into a normalized day.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q: %w", s, err)
	}
	return t, nil
}

// FormatDay is the inverse of ParseDay.
func FormatDay(t time.Time) string {
	return t.Format(DateLayout)
}

// HourOf truncates t to the start of its UTC hour.
func HourOf(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// IsWeekend reports whether day falls on Saturday or Sunday.
func IsWeekend(day time.Time) bool {
	wd := day.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
