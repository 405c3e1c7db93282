package reconnect

import "time"

// Task is a cancellable scheduled callback.
type Task interface {
	// Stop cancels the task. It reports whether the call prevented the callback from running.
	Stop() bool
}

// Scheduler runs callbacks after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Task
}

type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, f func()) Task {
	return time.AfterFunc(d, f)
}

// SystemScheduler schedules with time.AfterFunc.
var SystemScheduler Scheduler = timerScheduler{}
