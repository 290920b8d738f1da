package visitor

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/okdaichi/posixquic/quic"
	"github.com/stretchr/testify/mock"
)

var _ quic.Connection = (*MockQUICConnection)(nil)

// MockQUICConnection is a mock implementation of quic.Connection using testify/mock.
// Clock and alarms are the fakes below.
type MockQUICConnection struct {
	mock.Mock

	clock  *fakeClock
	alarms *manualAlarmFactory
}

func newMockConnection(clock *fakeClock) *MockQUICConnection {
	return &MockQUICConnection{
		clock:  clock,
		alarms: &manualAlarmFactory{clock: clock},
	}
}

func (m *MockQUICConnection) ID() uint64 {
	return 1
}

func (m *MockQUICConnection) Perspective() quic.Perspective {
	return quic.PerspectiveServer
}

func (m *MockQUICConnection) PeerAddress() net.Addr {
	args := m.Called()
	return args.Get(0).(net.Addr)
}

func (m *MockQUICConnection) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4433}
}

func (m *MockQUICConnection) Context() context.Context {
	return context.Background()
}

func (m *MockQUICConnection) Close(cause quic.CloseCause, behavior quic.CloseBehavior) error {
	args := m.Called(cause, behavior)
	return args.Error(0)
}

func (m *MockQUICConnection) AlarmFactory() quic.AlarmFactory {
	return m.alarms
}

func (m *MockQUICConnection) Clock() quic.Clock {
	return m.clock
}

func (m *MockQUICConnection) AcceptStream(ctx context.Context) (quic.Stream, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(quic.Stream), args.Error(1)
}

func (m *MockQUICConnection) OpenStream() (quic.Stream, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(quic.Stream), args.Error(1)
}

func (m *MockQUICConnection) SetVisitor(v quic.Visitor) {
	m.Called(v)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type manualAlarmFactory struct {
	clock  *fakeClock
	alarms []*manualAlarm
}

func (f *manualAlarmFactory) CreateAlarm(delegate quic.AlarmDelegate) quic.Alarm {
	a := &manualAlarm{delegate: delegate}
	f.alarms = append(f.alarms, a)
	return a
}

// manualAlarm fires only from advance.
type manualAlarm struct {
	delegate quic.AlarmDelegate
	deadline time.Time
	updates  int
}

func (a *manualAlarm) Update(deadline time.Time, granularity time.Duration) {
	a.updates++
	a.deadline = deadline
}

func (a *manualAlarm) Cancel() {
	a.deadline = time.Time{}
}

func (a *manualAlarm) IsSet() bool {
	return !a.deadline.IsZero()
}

func (a *manualAlarm) Deadline() time.Time {
	return a.deadline
}

// advance moves the clock to t and fires the alarm once if it is due.
func (f *manualAlarmFactory) advance(t time.Time) {
	f.clock.set(t)
	for _, a := range f.alarms {
		if a.IsSet() && !t.Before(a.deadline) {
			a.deadline = time.Time{}
			a.delegate.OnAlarm()
		}
	}
}
