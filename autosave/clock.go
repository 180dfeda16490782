package autosave

import "time"

// Timer is a cancellable delayed task.
type Timer interface {
	Stop() bool
}

// Clock schedules delayed tasks. The real clock runs them on their own
// goroutine; tests substitute a manual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// RealClock is backed by the time package.
var RealClock Clock = realClock{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
