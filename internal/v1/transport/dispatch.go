package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/AaronAPerez/game-wrld/chat/internal/v1/logging"
	"go.uber.org/zap"
)

// dispatcher runs inbound handlers and lifecycle callbacks on one goroutine, in the
// order they were queued. Pushing never blocks, so the read loop keeps draining
// completions while a handler waits on Invoke.
type dispatcher struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

// push queues fn. It reports false once the dispatcher is closed.
func (d *dispatcher) push(fn func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()
	d.signal()
	return true
}

// close lets the goroutine exit after the queued work has run.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		closed := d.closed
		d.mu.Unlock()

		if len(batch) == 0 {
			if closed {
				return
			}
			<-d.wake
			continue
		}
		for _, fn := range batch {
			d.invoke(fn)
		}
	}
}

func (d *dispatcher) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error(context.Background(), "Recovered from panic in hub callback", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	fn()
}
