package service

import "time"

// Clock returns the current time. Services use a nil Clock as the wall
// clock; tests inject a fixed or advancing one.
type Clock func() time.Time

func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
