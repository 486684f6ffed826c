package jfrogclient

import "time"

// Clock is injected so discovery's "today's date" is testable without
// depending on the local wall clock.
type Clock interface {
	Now() time.Time
}

// systemClock is the production Clock, backed by time.Now.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
