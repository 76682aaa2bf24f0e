package syncer

import (
	"sync"

	"github.com/cairnlog/cairn/internal/wire"
)

// Stats summarizes one successful sync exchange.
type Stats struct {
	Received  int `json:"received"`
	Sent      int `json:"sent"`
	Conflicts int `json:"conflicts"`
}

// Progress reports per-batch event classification counts after a SEND batch
// has been applied.
type Progress struct {
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`
	Conflicts int `json:"conflicts"`
	Parked    int `json:"parked"`
}

// Observer receives sync lifecycle notifications.
//
// Notifications are dispatched asynchronously on a single goroutine: a slow
// observer delays later notifications but never blocks protocol progress.
// Embed NopObserver to implement a subset.
type Observer interface {
	OnSync(remoteID string, stats Stats)
	OnConflict(remoteID string, conflict wire.Conflict)
	OnError(remoteID string, err error)
	OnProgress(remoteID string, progress Progress)
}

// NopObserver implements Observer with no-ops.
type NopObserver struct{}

func (NopObserver) OnSync(string, Stats)             {}
func (NopObserver) OnConflict(string, wire.Conflict) {}
func (NopObserver) OnError(string, error)            {}
func (NopObserver) OnProgress(string, Progress)      {}

// dispatcher serializes observer notifications on one background goroutine.
//
// The pending queue is unbounded so the protocol path never blocks on a slow
// observer. The signal channel has a buffer of 1: multiple enqueues coalesce
// into one wakeup, the drain loop empties the queue each pass.
type dispatcher struct {
	observer Observer

	mu      sync.Mutex
	pending []func(Observer)
	closed  bool

	signal chan struct{}
	done   chan struct{}
}

func newDispatcher(observer Observer) *dispatcher {
	if observer == nil {
		observer = NopObserver{}
	}
	d := &dispatcher{
		observer: observer,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

// enqueue queues one notification. Never blocks. Dropped after Close.
func (d *dispatcher) enqueue(notify func(Observer)) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.pending = append(d.pending, notify)
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for range d.signal {
		for {
			d.mu.Lock()
			if len(d.pending) == 0 {
				d.mu.Unlock()
				break
			}
			notify := d.pending[0]
			d.pending = d.pending[1:]
			d.mu.Unlock()

			notify(d.observer)
		}
	}

	// Drain anything enqueued between the last wakeup and Close.
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()
	for _, notify := range pending {
		notify(d.observer)
	}
}

// Close stops the dispatcher after delivering every queued notification.
func (d *dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.signal)
	<-d.done
}
