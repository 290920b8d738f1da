package quicgo

import (
	"sync"
	"time"

	"github.com/okdaichi/posixquic/quic"
)

// SystemClock is the wall clock with its monotonic reading.
var SystemClock quic.Clock = systemClock{}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// NewAlarmFactory returns a factory of alarms backed by runtime timers and
// scheduled against clock.
func NewAlarmFactory(clock quic.Clock) quic.AlarmFactory {
	if clock == nil {
		clock = SystemClock
	}
	return &alarmFactory{clock: clock}
}

type alarmFactory struct {
	clock quic.Clock
}

func (f *alarmFactory) CreateAlarm(delegate quic.AlarmDelegate) quic.Alarm {
	return &timerAlarm{
		clock:    f.clock,
		delegate: delegate,
	}
}

var _ quic.Alarm = (*timerAlarm)(nil)

// timerAlarm owns at most one runtime timer for its whole life. Updates
// reset it in place. The deadline field is the guard: a firing left over from
// a cancelled or moved deadline finds it zero or in the future and stops.
type timerAlarm struct {
	clock    quic.Clock
	delegate quic.AlarmDelegate

	mu       sync.Mutex
	timer    *time.Timer
	deadline time.Time // zero when unset
}

func (a *timerAlarm) Update(deadline time.Time, granularity time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.deadline.IsZero() && absDuration(deadline.Sub(a.deadline)) < granularity {
		return
	}

	a.deadline = deadline
	a.schedule()
}

// schedule must be called with mu held.
func (a *timerAlarm) schedule() {
	d := a.deadline.Sub(a.clock.Now())
	if d < 0 {
		d = 0
	}

	if a.timer == nil {
		a.timer = time.AfterFunc(d, a.fire)
		return
	}
	a.timer.Stop()
	a.timer.Reset(d)
}

func (a *timerAlarm) fire() {
	a.mu.Lock()
	if a.deadline.IsZero() {
		// Cancelled
		a.mu.Unlock()
		return
	}
	if a.clock.Now().Before(a.deadline) {
		// Superseded by a later deadline while this firing was in flight
		a.schedule()
		a.mu.Unlock()
		return
	}
	a.deadline = time.Time{}
	a.mu.Unlock()

	a.delegate.OnAlarm()
}

func (a *timerAlarm) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.deadline = time.Time{}
	if a.timer != nil {
		a.timer.Stop()
	}
}

func (a *timerAlarm) IsSet() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.deadline.IsZero()
}

func (a *timerAlarm) Deadline() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deadline
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
