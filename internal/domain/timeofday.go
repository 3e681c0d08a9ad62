package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time without a date, stored as TIME.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay accepts "15:04" or "15:04:05" (seconds are dropped).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
}

// TimeOfDayOf extracts the wall-clock component of t.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}
}

// Offset is the duration since midnight.
func (t TimeOfDay) Offset() time.Duration {
	return time.Duration(t.Hour)*time.Hour + time.Duration(t.Minute)*time.Minute
}

// On places t on the calendar date of d.
func (t TimeOfDay) On(d time.Time) time.Time {
	return DateOf(d).Add(t.Offset())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Value implements driver.Valuer.
func (t TimeOfDay) Value() (driver.Value, error) {
	return t.String() + ":00", nil
}

// Scan implements sql.Scanner. Postgres TIME columns arrive as text.
func (t *TimeOfDay) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case time.Time:
		*t = TimeOfDayOf(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into TimeOfDay", src)
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalJSON renders "HH:MM".
func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts "HH:MM" or "HH:MM:SS".
func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
