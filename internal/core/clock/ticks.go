package clock

import "time"

// TickUnit is the resolution of wire timestamps.
const TickUnit = 100 * time.Nanosecond

// ToTicks converts t to 100 ns units since the Unix epoch.
func ToTicks(t time.Time) int64 {
	return t.UnixNano() / int64(TickUnit)
}

// FromTicks is the inverse of ToTicks. The result is in UTC.
func FromTicks(ticks int64) time.Time {
	return time.Unix(0, ticks*int64(TickUnit)).UTC()
}
