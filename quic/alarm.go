package quic

import "time"

// Clock is a monotonic clock.
type Clock interface {
	Now() time.Time
}

// AlarmDelegate runs when an alarm fires.
type AlarmDelegate interface {
	OnAlarm()
}

// AlarmDelegateFunc adapts a function to AlarmDelegate.
type AlarmDelegateFunc func()

func (f AlarmDelegateFunc) OnAlarm() { f() }

// Alarm is one reschedulable deadline. It is a single slot, not a queue:
// every Update replaces the previous deadline.
type Alarm interface {
	// Update sets the deadline. If the alarm is already set and the new
	// deadline is within granularity of the current one, nothing changes.
	Update(deadline time.Time, granularity time.Duration)

	// Cancel unsets the alarm. A firing that has not reached the delegate yet
	// is dropped. Cancel does not wait for a delegate that is already running.
	Cancel()

	IsSet() bool

	// Deadline returns the pending deadline, or the zero time if unset.
	Deadline() time.Time
}

// AlarmFactory creates alarms bound to a delegate.
type AlarmFactory interface {
	CreateAlarm(delegate AlarmDelegate) Alarm
}
