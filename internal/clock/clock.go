// Package clock decomposes wall-clock time into the two-part representation
// the matching engine and store use for ordering and range queries: a date
// part (calendar-day key) and an intraday part (milliseconds since midnight).
package clock

import "time"

// Time is a monotonic millisecond timestamp split so that comparisons never
// have to reason about calendar rollover inside the matching predicates.
type Time struct {
	DatePart     int32 // days since epoch, UTC
	IntradayPart int32 // milliseconds since UTC midnight of DatePart
}

// Now returns the current wall-clock time decomposed into Time.
func Now() Time {
	return From(time.Now())
}

// From decomposes an arbitrary time.Time into Time.
func From(t time.Time) Time {
	u := t.UTC()
	midnight := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return Time{
		DatePart:     int32(midnight.Unix() / 86400),
		IntradayPart: int32(u.Sub(midnight).Milliseconds()),
	}
}

// ToTime reconstructs a time.Time from a decomposed Time.
func (t Time) ToTime() time.Time {
	midnight := time.Unix(int64(t.DatePart)*86400, 0).UTC()
	return midnight.Add(time.Duration(t.IntradayPart) * time.Millisecond)
}

// Before reports whether t sorts strictly earlier than o under (date, intraday) order.
func (t Time) Before(o Time) bool {
	if t.DatePart != o.DatePart {
		return t.DatePart < o.DatePart
	}
	return t.IntradayPart < o.IntradayPart
}

// MaxDate is the sentinel date part meaning "no expiration".
const MaxDate int32 = 1<<31 - 1

// NeverExpires is the default expiration_time: +∞-date, 0 intraday.
func NeverExpires() Time {
	return Time{DatePart: MaxDate, IntradayPart: 0}
}
