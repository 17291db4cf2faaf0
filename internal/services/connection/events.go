package connection

import (
	"sync"

	"safechat/internal/domain"
)

// Events are the caller's hooks into a connection. Any of them may be nil.
//
// All callbacks for one connection attempt run sequentially on a dedicated
// goroutine. OnClosed is the last callback of an attempt and fires exactly
// once per attempt that got past StartConnection's argument checks.
type Events struct {
	OnStateChange func(domain.ConnectionState)
	OnEstablished func()
	OnClosed      func()
	OnMessage     func(text string)
}

// dispatcher runs queued callbacks in order on its own goroutine. After
// seal, later posts are dropped and the goroutine exits once drained.
type dispatcher struct {
	mu     sync.Mutex
	queue  []func()
	sealed bool
	wake   chan struct{}
	done   chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *dispatcher) post(fn func()) { d.enqueue(fn, false) }

// seal queues fn as the final callback.
func (d *dispatcher) seal(fn func()) { d.enqueue(fn, true) }

func (d *dispatcher) enqueue(fn func(), last bool) {
	d.mu.Lock()
	if d.sealed {
		d.mu.Unlock()
		return
	}
	if fn != nil {
		d.queue = append(d.queue, fn)
	}
	if last {
		d.sealed = true
	}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		batch, sealed := d.queue, d.sealed
		d.queue = nil
		d.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}
		if sealed {
			return
		}
		<-d.wake
	}
}
