package grpcbridge

import (
	"context"
	"sync"

	bigbuff "github.com/joeycumines/go-bigbuff"
	"google.golang.org/grpc/codes"
)

// EventKind identifies the category of a stream Event.
type EventKind int32

const (
	// EventMessage carries one received stream message in Data.
	EventMessage EventKind = iota
	// EventFinished signals clean stream completion, Code is codes.OK.
	EventFinished
	// EventError signals stream failure, Code and Message describe it.
	EventError
)

// String implements fmt.Stringer.
func (x EventKind) String() string {
	switch x {
	case EventMessage:
		return "message"
	case EventFinished:
		return "finished"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single stream notification, delivered to subscribers in
// the order the underlying stream produced it.
type Event struct {
	// Stream is the handle of the originating stream.
	Stream int64
	// Kind categorises the event.
	Kind EventKind
	// Data is the received payload, set only for EventMessage.
	Data []byte
	// Code is the final status code, set for EventFinished and EventError.
	Code codes.Code
	// Message is the formatted status description, set for EventError.
	Message string
}

// dispatcher decouples stream worker goroutines from event consumers:
// workers append to an unbounded queue and never block on delivery, a
// single pump goroutine publishes in FIFO order to all subscribers.
type dispatcher struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []Event
	closed  bool

	ctx      context.Context
	cancel   context.CancelFunc
	notifier bigbuff.Notifier
	done     chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	d.ctx, d.cancel = context.WithCancel(context.Background())
	go d.pump()
	return d
}

// enqueue appends an event for delivery. It reports false, dropping
// the event, once the dispatcher has been closed.
func (d *dispatcher) enqueue(ev Event) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.pending = append(d.pending, ev)
	d.mu.Unlock()
	d.cond.Signal()
	return true
}

func (d *dispatcher) pump() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.pending) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.pending) == 0 {
			d.mu.Unlock()
			return
		}
		ev := d.pending[0]
		d.pending[0] = Event{}
		d.pending = d.pending[1:]
		d.mu.Unlock()

		d.notifier.PublishContext(d.ctx, nil, ev)
	}
}

// subscribe accepts any `target` that is a channel which can receive
// Event values. The returned cancel func MUST be called, unless `ctx`
// is cancelled.
// WARNING: Sends to `target` are blocking, and subscribers must
// therefore always receive promptly.
func (d *dispatcher) subscribe(ctx context.Context, target any) context.CancelFunc {
	return d.notifier.SubscribeCancel(ctx, nil, target)
}

// close stops the pump and releases subscribers. Events still pending
// at close are dropped. Safe to call more than once.
func (d *dispatcher) close() {
	d.mu.Lock()
	alreadyClosed := d.closed
	d.closed = true
	d.mu.Unlock()
	d.cond.Broadcast()
	d.cancel()
	if !alreadyClosed {
		<-d.done
	}
}
