package clock

import "time"

// Clock provides time-related functions that can be mocked for testing
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using actual system time in UTC.
// Billing periods are UTC calendar months.
type RealClock struct{}

// Now returns the current system time
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a Clock frozen at a single instant
type Fixed time.Time

// Now returns the frozen instant
func (f Fixed) Now() time.Time {
	return time.Time(f)
}
