// Package lifecycle tracks process draining and in-flight streaming turns
// so shutdown can stop admitting new turns and wait for running ones.
package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
)

type Lifecycle struct {
	draining atomic.Bool

	mu      sync.Mutex
	streams int
	idle    chan struct{}
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// BeginStream registers a streaming turn. It fails once draining has begun.
// The returned func must be called when the stream ends.
func (l *Lifecycle) BeginStream() (end func(), ok bool) {
	if l == nil {
		return func() {}, true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.draining.Load() {
		return nil, false
	}
	l.streams++
	var once sync.Once
	return func() { once.Do(l.endStream) }, true
}

func (l *Lifecycle) endStream() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.streams--
	if l.streams == 0 && l.idle != nil {
		close(l.idle)
		l.idle = nil
	}
}

// ActiveStreams returns the number of running streams.
func (l *Lifecycle) ActiveStreams() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.streams
}

// WaitStreams blocks until no stream is running or ctx ends.
func (l *Lifecycle) WaitStreams(ctx context.Context) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	if l.streams == 0 {
		l.mu.Unlock()
		return nil
	}
	if l.idle == nil {
		l.idle = make(chan struct{})
	}
	idle := l.idle
	l.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
