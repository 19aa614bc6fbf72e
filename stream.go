package grpcbridge

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// streamKind distinguishes the three streaming call shapes.
type streamKind int32

const (
	serverStreaming streamKind = iota
	clientStreaming
	bidiStreaming
)

// String implements fmt.Stringer.
func (x streamKind) String() string {
	switch x {
	case serverStreaming:
		return "server-streaming"
	case clientStreaming:
		return "client-streaming"
	case bidiStreaming:
		return "bidirectional"
	default:
		return "unknown"
	}
}

// streamCallbacks receives engine events. All three are invoked from
// the engine's reader goroutine; recipients must dispatch to their own
// consumer and must not block.
type streamCallbacks struct {
	onMessage  func(handle int64, data []byte)
	onFinished func(handle int64, code codes.Code, message string)
	onError    func(handle int64, code codes.Code, message string)
}

// streamEngine drives one in-flight streaming call: a reader goroutine
// always, plus a writer goroutine draining a FIFO queue for
// client-streaming and bidirectional calls. The engine holds a
// non-owning reference to the shared connection; the channel manager
// governs its lifetime.
//
// Once the active flag is cleared no further sends succeed and no
// further message callbacks fire.
type streamEngine struct {
	handle    int64
	kind      streamKind
	conn      grpc.ClientConnInterface
	method    string
	initial   []byte
	ctx       context.Context
	cancelCtx context.CancelFunc
	cb        streamCallbacks
	logb      func(LogLevel) *logiface.Builder[logiface.Event]

	active     atomic.Bool
	writesDone atomic.Bool

	queueMu     sync.Mutex
	queueCond   *sync.Cond
	queue       [][]byte
	queueClosed bool

	stream grpc.ClientStream
	wg     sync.WaitGroup
}

func newStreamEngine(
	handle int64,
	kind streamKind,
	conn grpc.ClientConnInterface,
	method string,
	initial []byte,
	ctx context.Context,
	cancel context.CancelFunc,
	cb streamCallbacks,
	logb func(LogLevel) *logiface.Builder[logiface.Event],
) *streamEngine {
	x := &streamEngine{
		handle:    handle,
		kind:      kind,
		conn:      conn,
		method:    method,
		initial:   initial,
		ctx:       ctx,
		cancelCtx: cancel,
		cb:        cb,
		logb:      logb,
	}
	x.queueCond = sync.NewCond(&x.queueMu)
	return x
}

// start opens the transport stream and spawns the worker goroutines.
// A second call is a logged no-op. Internal failures are reported
// through the error callback; start itself never blocks beyond the
// synchronous call setup (and, for server-streaming, the single
// request write).
func (x *streamEngine) start() {
	if x.active.Swap(true) {
		x.logb(LogWarn).Int64("stream", x.handle).Log("stream already started")
		return
	}

	x.logb(LogDebug).
		Int64("stream", x.handle).
		Stringer("kind", x.kind).
		Str("method", x.method).
		Log("starting stream")

	desc := &grpc.StreamDesc{
		ClientStreams: x.kind != serverStreaming,
		ServerStreams: x.kind != clientStreaming,
	}
	cs, err := x.conn.NewStream(x.ctx, desc, x.method, grpc.ForceCodec(rawCodec{}))
	if err != nil {
		x.logb(LogError).Int64("stream", x.handle).Err(err).Log("failed to start stream")
		x.abortStart(err)
		return
	}
	x.stream = cs

	switch {
	case x.kind == serverStreaming:
		// One request, many responses: the write path completes
		// synchronously before the read loop begins. A zero-length
		// payload is a valid encoded message and is still written.
		if err := cs.SendMsg(&rawMessage{data: x.initial}); err != nil {
			// SendMsg aborts the stream; RecvMsg yields the
			// authoritative status.
			var m rawMessage
			rerr := cs.RecvMsg(&m)
			x.logb(LogError).Int64("stream", x.handle).Err(rerr).Log("failed to write initial request")
			x.abortStart(rerr)
			return
		}
		if err := cs.CloseSend(); err != nil {
			x.logb(LogError).Int64("stream", x.handle).Err(err).Log("failed to half-close stream")
			x.abortStart(err)
			return
		}
		x.writesDone.Store(true)
	case x.initial != nil:
		// Client-streaming / bidirectional: queue the initial payload
		// so the writer sends it first, in order with later sends.
		x.queueMu.Lock()
		x.queue = append(x.queue, append([]byte(nil), x.initial...))
		x.queueMu.Unlock()
		x.queueCond.Signal()
	}

	x.wg.Add(1)
	go x.readLoop()

	if x.kind != serverStreaming {
		x.wg.Add(1)
		go x.writeLoop()
	}
}

// abortStart reports a start-phase failure and returns the engine to
// inactive without spawning workers.
func (x *streamEngine) abortStart(err error) {
	x.cancelCtx()
	x.active.Store(false)
	if x.cb.onError != nil {
		x.cb.onError(x.handle, codeOfError(err), DescribeError(err))
	}
}

// readLoop receives messages until the transport reports end-of-stream,
// then interprets the terminal error as the final call status: io.EOF
// is a clean finish, anything else is the authoritative failure. The
// active flag is cleared as the very last step.
func (x *streamEngine) readLoop() {
	defer x.wg.Done()
	defer x.cancelCtx()

	var terminal error
	for {
		var m rawMessage
		if err := x.stream.RecvMsg(&m); err != nil {
			terminal = err
			break
		}
		if !x.active.Load() {
			// Cancelled while a read was in flight: drain without
			// delivering, the transport will error out shortly.
			continue
		}
		x.logb(LogTrace).Int64("stream", x.handle).Int("bytes", len(m.data)).Log("stream message received")
		if x.cb.onMessage != nil {
			x.cb.onMessage(x.handle, m.data)
		}
	}

	if errors.Is(terminal, io.EOF) {
		x.logb(LogDebug).Int64("stream", x.handle).Log("stream finished")
		if x.cb.onFinished != nil {
			x.cb.onFinished(x.handle, codes.OK, "")
		}
	} else {
		s := status.Convert(terminal)
		x.logb(LogError).
			Int64("stream", x.handle).
			Stringer("kind", KindOf(s.Code())).
			Str("status", Describe(s)).
			Log("stream failed")
		if trailers := x.stream.Trailer(); len(trailers) > 0 {
			x.logb(LogDebug).Int64("stream", x.handle).Str("trailers", DescribeTrailers(trailers)).Log("stream trailers")
		}
		if x.cb.onError != nil {
			x.cb.onError(x.handle, s.Code(), Describe(s))
		}
	}

	x.active.Store(false)
}

// writeLoop drains the outgoing queue in FIFO order. A failed write
// aborts the loop silently: the reader's terminal status is the
// authoritative failure, reporting here would duplicate it. When the
// queue is closed and empty the loop half-closes the stream, exactly
// once.
func (x *streamEngine) writeLoop() {
	defer x.wg.Done()

	for x.active.Load() {
		payload, ok := x.dequeue()
		if !ok {
			break
		}
		if err := x.stream.SendMsg(&rawMessage{data: payload}); err != nil {
			x.logb(LogDebug).Int64("stream", x.handle).Err(err).Log("stream write failed, deferring to reader for status")
			return
		}
		x.logb(LogTrace).Int64("stream", x.handle).Int("bytes", len(payload)).Log("stream message written")
	}

	if x.active.Load() && !x.writesDone.Swap(true) {
		x.logb(LogDebug).Int64("stream", x.handle).Log("half-closing stream")
		_ = x.stream.CloseSend()
	}
}

// dequeue blocks until a payload is available or the queue is closed
// and empty. The second return value is false only in the latter case.
func (x *streamEngine) dequeue() ([]byte, bool) {
	x.queueMu.Lock()
	defer x.queueMu.Unlock()
	for len(x.queue) == 0 && !x.queueClosed {
		x.queueCond.Wait()
	}
	if len(x.queue) == 0 {
		return nil, false
	}
	payload := x.queue[0]
	x.queue[0] = nil
	x.queue = x.queue[1:]
	return payload, true
}

// send queues a payload for the writer. It never blocks on I/O; only
// the queue mutex is contended briefly. The payload is copied, so the
// caller may reuse its buffer. Rejected when the engine is inactive,
// the stream is server-streaming, or writes are already closed.
func (x *streamEngine) send(payload []byte) bool {
	if !x.active.Load() {
		x.logb(LogWarn).Int64("stream", x.handle).Log("cannot send on inactive stream")
		return false
	}
	if x.kind == serverStreaming {
		x.logb(LogError).Int64("stream", x.handle).Log("cannot send on server-streaming stream")
		return false
	}
	if x.writesDone.Load() {
		x.logb(LogWarn).Int64("stream", x.handle).Log("cannot send after writes closed")
		return false
	}

	x.queueMu.Lock()
	if x.queueClosed {
		x.queueMu.Unlock()
		return false
	}
	x.queue = append(x.queue, append([]byte(nil), payload...))
	n := len(x.queue)
	x.queueMu.Unlock()
	x.queueCond.Signal()

	x.logb(LogTrace).Int64("stream", x.handle).Int("queued", n).Log("stream message queued")
	return true
}

// closeSend marks the outgoing queue closed and wakes the writer,
// which will half-close the stream after draining. A logged no-op for
// server-streaming, whose writes close during start.
func (x *streamEngine) closeSend() {
	if x.kind == serverStreaming {
		x.logb(LogDebug).Int64("stream", x.handle).Log("close-send ignored on server-streaming stream")
		return
	}
	x.logb(LogDebug).Int64("stream", x.handle).Log("closing send side")
	x.closeQueue()
}

func (x *streamEngine) closeQueue() {
	x.queueMu.Lock()
	x.queueClosed = true
	x.queueMu.Unlock()
	x.queueCond.Broadcast()
}

// cancel triggers transport-level cancellation and clears the active
// flag. Safe to call repeatedly and after natural completion. The
// pending reader operations fail, driving the reader to its normal
// exit-and-report path; cancellation is observed as an error callback,
// not a separate code path.
func (x *streamEngine) cancel() {
	if !x.active.Swap(false) {
		return
	}
	x.logb(LogDebug).Int64("stream", x.handle).Log("cancelling stream")
	x.cancelCtx()
	x.closeQueue()
}

// isActive reports whether the engine still accepts operations.
func (x *streamEngine) isActive() bool {
	return x.active.Load()
}

// stop tears the engine down: cancel, release the writer's wait, then
// join both workers. The workers always exit on their own; they are
// never abandoned. Safe to call more than once.
func (x *streamEngine) stop() {
	x.cancel()
	x.closeQueue()
	x.wg.Wait()
}
