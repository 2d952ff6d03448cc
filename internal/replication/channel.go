package replication

import (
	"slices"
	"sync"
)

// Channel delivers frames reliably and in order.
type Channel interface {
	Send(frame []byte) error
}

// Loopback is an in-memory Channel. Producers may run on any goroutine; the
// consumer drains on the simulation goroutine.
type Loopback struct {
	mu     sync.Mutex
	frames [][]byte
}

// NewLoopback creates an empty loopback channel.
func NewLoopback() *Loopback {
	return &Loopback{}
}

// Send queues a copy of frame.
func (l *Loopback) Send(frame []byte) error {
	l.mu.Lock()
	l.frames = append(l.frames, slices.Clone(frame))
	l.mu.Unlock()
	return nil
}

// Drain returns and clears the queued frames in send order.
func (l *Loopback) Drain() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.frames
	l.frames = nil
	return out
}

// Len returns the number of queued frames.
func (l *Loopback) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)
}

// Fanout sends every frame to all attached channels.
type Fanout struct {
	mu    sync.Mutex
	sinks []Channel
}

// Attach adds a receiving channel.
func (f *Fanout) Attach(c Channel) {
	f.mu.Lock()
	f.sinks = append(f.sinks, c)
	f.mu.Unlock()
}

// Send delivers frame to every attached channel and returns the first error.
func (f *Fanout) Send(frame []byte) error {
	f.mu.Lock()
	sinks := slices.Clone(f.sinks)
	f.mu.Unlock()

	var first error
	for _, c := range sinks {
		if err := c.Send(frame); err != nil && first == nil {
			first = err
		}
	}
	return first
}
