package quicgo

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/okdaichi/posixquic/quic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCountingAlarm() (quic.Alarm, *atomic.Int32, chan struct{}) {
	var fired atomic.Int32
	ch := make(chan struct{}, 8)
	alarm := NewAlarmFactory(nil).CreateAlarm(quic.AlarmDelegateFunc(func() {
		fired.Add(1)
		ch <- struct{}{}
	}))
	return alarm, &fired, ch
}

func TestTimerAlarm_Fires(t *testing.T) {
	alarm, fired, ch := newCountingAlarm()

	alarm.Update(time.Now().Add(10*time.Millisecond), 0)
	assert.True(t, alarm.IsSet())

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("alarm did not fire")
	}

	assert.Equal(t, int32(1), fired.Load())
	assert.False(t, alarm.IsSet())
	assert.True(t, alarm.Deadline().IsZero())
}

func TestTimerAlarm_CancelPreventsFiring(t *testing.T) {
	alarm, fired, _ := newCountingAlarm()

	alarm.Update(time.Now().Add(20*time.Millisecond), 0)
	alarm.Cancel()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
	assert.False(t, alarm.IsSet())
}

func TestTimerAlarm_UpdateReplacesDeadline(t *testing.T) {
	alarm, fired, ch := newCountingAlarm()

	alarm.Update(time.Now().Add(20*time.Millisecond), 0)
	later := time.Now().Add(200 * time.Millisecond)
	alarm.Update(later, 0)
	assert.Equal(t, later, alarm.Deadline())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load(), "the first deadline must not fire")

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("alarm did not fire at the replaced deadline")
	}
	assert.Equal(t, int32(1), fired.Load())
}

func TestTimerAlarm_GranularityKeepsDeadline(t *testing.T) {
	alarm, _, _ := newCountingAlarm()
	defer alarm.Cancel()

	first := time.Now().Add(time.Hour)
	alarm.Update(first, time.Second)
	alarm.Update(first.Add(500*time.Millisecond), time.Second)
	assert.Equal(t, first, alarm.Deadline())

	alarm.Update(first.Add(2*time.Second), time.Second)
	assert.Equal(t, first.Add(2*time.Second), alarm.Deadline())
}

func TestTimerAlarm_PastDeadlineFiresImmediately(t *testing.T) {
	alarm, _, ch := newCountingAlarm()

	alarm.Update(time.Now().Add(-time.Second), 0)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("alarm did not fire")
	}
}

func TestTimerAlarm_RearmFromDelegate(t *testing.T) {
	var alarm quic.Alarm
	var fired atomic.Int32
	done := make(chan struct{})
	alarm = NewAlarmFactory(nil).CreateAlarm(quic.AlarmDelegateFunc(func() {
		if fired.Add(1) == 1 {
			alarm.Update(time.Now().Add(5*time.Millisecond), 0)
			return
		}
		close(done)
	}))

	alarm.Update(time.Now().Add(5*time.Millisecond), 0)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("rearmed alarm did not fire")
	}
	require.Equal(t, int32(2), fired.Load())
}
