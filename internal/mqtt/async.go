package mqtt

import (
	"errors"
	"sync"
	"sync/atomic"

	log "github.com/inconshreveable/log15"

	"github.com/sweeney/dcf77-sensor/internal/logic"
)

// DefaultQueueDepth is the number of events AsyncPublisher holds before dropping.
const DefaultQueueDepth = 64

// ErrQueueFull is returned when an event is dropped because the queue is full.
var ErrQueueFull = errors.New("mqtt: publish queue full")

// ErrPublisherClosed is returned for events submitted after Close.
var ErrPublisherClosed = errors.New("mqtt: publisher closed")

// queued is one pending publish; exactly one field is set.
type queued struct {
	frame  *logic.FrameEvent
	system *SystemEvent
}

// AsyncPublisher hands events to a worker goroutine that publishes them
// through the wrapped Publisher in submission order. Submitting never
// waits on the broker.
type AsyncPublisher struct {
	inner Publisher
	queue chan queued
	done  chan struct{}
	log   log.Logger

	mu     sync.Mutex
	closed bool

	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewAsyncPublisher starts a worker publishing through inner.
// depth <= 0 uses DefaultQueueDepth.
func NewAsyncPublisher(inner Publisher, depth int) *AsyncPublisher {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	a := &AsyncPublisher{
		inner: inner,
		queue: make(chan queued, depth),
		done:  make(chan struct{}),
		log:   log.New("module", "mqtt"),
	}
	go a.run()
	return a
}

func (a *AsyncPublisher) run() {
	defer close(a.done)
	for q := range a.queue {
		var err error
		if q.frame != nil {
			err = a.inner.PublishFrame(*q.frame)
		} else {
			err = a.inner.PublishSystem(*q.system)
		}
		if err != nil {
			a.failed.Add(1)
			a.log.Warn("publish error", "err", err)
		}
	}
}

func (a *AsyncPublisher) enqueue(q queued) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrPublisherClosed
	}
	select {
	case a.queue <- q:
		return nil
	default:
		a.dropped.Add(1)
		return ErrQueueFull
	}
}

// PublishFrame queues a frame for publishing.
func (a *AsyncPublisher) PublishFrame(event logic.FrameEvent) error {
	return a.enqueue(queued{frame: &event})
}

// PublishSystem queues a system event for publishing.
func (a *AsyncPublisher) PublishSystem(event SystemEvent) error {
	return a.enqueue(queued{system: &event})
}

// IsConnected delegates to the wrapped publisher when it reports connection state.
func (a *AsyncPublisher) IsConnected() bool {
	if cs, ok := a.inner.(ConnectionStatus); ok {
		return cs.IsConnected()
	}
	return false
}

// Dropped returns the number of events rejected because the queue was full.
func (a *AsyncPublisher) Dropped() uint64 {
	return a.dropped.Load()
}

// Failed returns the number of queued events the wrapped publisher rejected.
func (a *AsyncPublisher) Failed() uint64 {
	return a.failed.Load()
}

// Close stops accepting events, waits for the queue to drain, and closes
// the wrapped publisher.
func (a *AsyncPublisher) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return a.inner.Close()
}
