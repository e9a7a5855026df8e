// Package jsontime provides time values that marshal to the wire formats
// the session protocol uses.
package jsontime

import (
	"encoding/json"
	"time"
)

// Milli is a time.Time carried as Unix milliseconds in JSON. The session
// protocol stamps every control message with one.
type Milli time.Time

// Now returns the current instant as a Milli.
func Now() Milli {
	return Milli(time.Now())
}

// Time converts back to a time.Time.
func (m Milli) Time() time.Time { return time.Time(m) }

// IsZero reports whether m is the zero instant.
func (m Milli) IsZero() bool { return time.Time(m).IsZero() }

// Before reports whether m is before other.
func (m Milli) Before(other Milli) bool {
	return time.Time(m).Before(time.Time(other))
}

// Sub returns m - other.
func (m Milli) Sub(other Milli) time.Duration {
	return time.Time(m).Sub(time.Time(other))
}

// String formats the instant in RFC 3339 with millisecond precision.
func (m Milli) String() string {
	return time.Time(m).Format("2006-01-02T15:04:05.000Z07:00")
}

// MarshalJSON implements json.Marshaler.
func (m Milli) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(m).UnixMilli())
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Milli) UnmarshalJSON(b []byte) error {
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}
	*m = Milli(time.UnixMilli(ms))
	return nil
}
