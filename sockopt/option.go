// Package sockopt holds the per-socket option vector of a descriptor.
//
// Options are a fixed-size array indexed by Option. Unknown ids never fail:
// Get returns 0 and Set reports no change.
package sockopt

import (
	"math"
	"strconv"
	"sync/atomic"
	"time"
)

// Option identifies a socket option.
type Option int

const (
	// AckTimeoutSecs closes a connection when a sent packet is not
	// acknowledged within this many seconds. 0 disables the check.
	AckTimeoutSecs Option = iota

	// IdleTimeoutSecs is the idle timeout handed to the engine at listen/dial time.
	// Clients send keep-alives, so servers use it to detect dead peers.
	IdleTimeoutSecs

	// StreamWmem is the send buffer size of a stream in bytes. A stream is
	// reported writable while fewer bytes than this are queued.
	StreamWmem

	// UDPRmem and UDPWmem size the underlying UDP socket buffers.
	// Server-side connections share the listener's socket.
	UDPRmem
	UDPWmem

	optionCount
)

// DefaultStreamWmem is used when StreamWmem is 0.
const DefaultStreamWmem = 5 << 20

func (o Option) String() string {
	switch o {
	case AckTimeoutSecs:
		return "ack_timeout_secs"
	case IdleTimeoutSecs:
		return "idle_timeout_secs"
	case StreamWmem:
		return "stream_wmem"
	case UDPRmem:
		return "udp_rmem"
	case UDPWmem:
		return "udp_wmem"
	default:
		return "option(" + strconv.Itoa(int(o)) + ")"
	}
}

// Valid reports whether o is a known option.
func (o Option) Valid() bool {
	return o >= 0 && o < optionCount
}

// Options is safe for concurrent use. The zero value has every option set to 0.
type Options struct {
	values [optionCount]atomic.Int64
}

// New returns a zeroed option vector.
func New() *Options {
	return &Options{}
}

// Set stores value and reports whether the stored value changed.
// Out-of-range options are ignored and report false.
func (o *Options) Set(opt Option, value int64) bool {
	if !opt.Valid() {
		return false
	}

	v := &o.values[opt]
	for {
		old := v.Load()
		if old == value {
			return false
		}
		if v.CompareAndSwap(old, value) {
			return true
		}
	}
}

// Get returns the stored value, or 0 for an out-of-range option.
func (o *Options) Get(opt Option) int64 {
	if !opt.Valid() {
		return 0
	}
	return o.values[opt].Load()
}

// maxSeconds is the largest number of seconds a time.Duration holds.
const maxSeconds = math.MaxInt64 / int64(time.Second)

// Seconds reads opt as a number of seconds. Zero and negative values give 0;
// values past the range of time.Duration saturate.
func (o *Options) Seconds(opt Option) time.Duration {
	secs := o.Get(opt)
	switch {
	case secs <= 0:
		return 0
	case secs > maxSeconds:
		return math.MaxInt64
	default:
		return time.Duration(secs) * time.Second
	}
}

// Clone returns an independent copy.
func (o *Options) Clone() *Options {
	c := New()
	for i := range o.values {
		c.values[i].Store(o.values[i].Load())
	}
	return c
}

// Each calls fn for every option in id order.
func (o *Options) Each(fn func(opt Option, value int64)) {
	for i := range o.values {
		fn(Option(i), o.values[i].Load())
	}
}
