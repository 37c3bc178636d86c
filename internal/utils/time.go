package utils

import (
	"time"
)

// NowUTC returns current time in UTC.
func NowUTC() time.Time {
	return time.Now().UTC()
}

// Clock lets services take the time from tests.
type Clock func() time.Time

func (c Clock) Now() time.Time {
	if c == nil {
		return NowUTC()
	}
	return c()
}
