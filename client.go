package grpcbridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
)

// ErrClosed is returned by operations on a [Client] after [Client.Close].
var ErrClosed = errors.New("grpcbridge: client closed")

// Client is the host-facing facade: one shared channel, unary calls,
// and streaming calls addressed by integer handles. All methods are
// safe for concurrent use. Stream notifications are delivered through
// the event queue (see [Client.Subscribe]); the host is expected to
// drain its subscribed channel from a single consumer goroutine or
// thread.
type Client struct {
	logger   *logiface.Logger[logiface.Event]
	logLevel atomic.Int32
	dialCtx  context.Context
	channel  channelManager
	events   *dispatcher

	mu      sync.Mutex
	streams map[int64]*streamEngine
	nextID  int64
	closed  bool
}

// clientOptions holds configuration for a [Client] instance.
type clientOptions struct {
	logger   *logiface.Logger[logiface.Event]
	logLevel LogLevel
	dialCtx  context.Context
}

// Option configures a [Client] instance. Options are applied during
// client construction.
type Option interface {
	applyOption(*clientOptions) error
}

// optionFunc implements [Option] via a closure.
type optionFunc struct {
	fn func(*clientOptions) error
}

func (o *optionFunc) applyOption(opts *clientOptions) error {
	return o.fn(opts)
}

// WithLogger configures the structured logger. Callers with a typed
// logiface logger can generify it via its Logger method. Passing nil
// returns an error during client construction; use
// [WithLogLevel](LogNone) to silence output instead.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionFunc{fn: func(opts *clientOptions) error {
		if logger == nil {
			return errors.New("grpcbridge: logger must not be nil")
		}
		opts.logger = logger
		return nil
	}}
}

// WithLogLevel configures the initial verbosity. The level remains
// adjustable at runtime via [Client.SetLogLevel]. Values outside
// [LogNone, LogTrace] return an error during client construction.
func WithLogLevel(level LogLevel) Option {
	return &optionFunc{fn: func(opts *clientOptions) error {
		if level < LogNone || level > LogTrace {
			return errors.New("grpcbridge: log level out of range")
		}
		opts.logLevel = level
		return nil
	}}
}

// WithDialContext configures the parent context for every call the
// client issues. Cancelling it aborts all in-flight calls. Defaults
// to [context.Background]. Passing nil returns an error during client
// construction.
func WithDialContext(ctx context.Context) Option {
	return &optionFunc{fn: func(opts *clientOptions) error {
		if ctx == nil {
			return errors.New("grpcbridge: dial context must not be nil")
		}
		opts.dialCtx = ctx
		return nil
	}}
}

// resolveOptions applies the given options to a default
// [clientOptions].
func resolveOptions(opts []Option) (*clientOptions, error) {
	cfg := &clientOptions{
		logLevel: LogInfo,
		dialCtx:  context.Background(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyOption(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.logger == nil {
		cfg.logger = defaultLogger()
	}
	return cfg, nil
}

// New constructs a [Client]. The client starts disconnected; call
// [Client.Connect] before issuing RPCs.
func New(opts ...Option) (*Client, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	c := &Client{
		logger:  cfg.logger,
		dialCtx: cfg.dialCtx,
		events:  newDispatcher(),
		streams: make(map[int64]*streamEngine),
	}
	c.logLevel.Store(int32(cfg.logLevel))
	return c, nil
}

// Connect establishes (or replaces) the client's channel. The
// underlying connection is lazy; use [Client.IsConnected] to observe
// liveness. A nil opts uses defaults (insecure transport, no
// keepalive, no retry).
func (c *Client) Connect(endpoint string, opts *ChannelOptions) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	if opts == nil {
		opts = &ChannelOptions{}
	}
	if err := c.channel.connect(endpoint, opts); err != nil {
		c.logErr().Str("endpoint", endpoint).Err(err).Log("failed to create channel")
		return err
	}
	c.logInfo().Str("endpoint", endpoint).Log("channel created")
	return nil
}

// IsConnected reports whether the channel exists and its connectivity
// state is Ready or Idle.
func (c *Client) IsConnected() bool {
	return c.channel.isConnected()
}

// Endpoint returns the target of the current channel, or the empty
// string when disconnected.
func (c *Client) Endpoint() string {
	return c.channel.endpoint()
}

// Unary issues a blocking unary RPC with an opaque request payload and
// returns the opaque response payload. The method name must be fully
// qualified, "/package.Service/Method". Deadline and metadata come
// from opts; a nil opts means no deadline and no extra metadata.
//
// Failure is reported through the error return, never by collapsing
// into an empty payload: a nil error with empty bytes is a genuine
// empty response message.
func (c *Client) Unary(method string, request []byte, opts *CallOptions) ([]byte, error) {
	conn := c.channel.clientConn()
	if conn == nil {
		c.logErr().Str("method", method).Log("unary call without channel")
		return nil, ErrNotConnected
	}

	ctx, cancel := opts.callContext(c.dialCtx)
	defer cancel()

	c.logDebug().Str("method", method).Int("bytes", len(request)).Log("unary call")

	var resp rawMessage
	if err := conn.Invoke(ctx, method, &rawMessage{data: request}, &resp, grpc.ForceCodec(rawCodec{})); err != nil {
		c.logErr().Str("method", method).Str("status", DescribeError(err)).Log("unary call failed")
		return nil, err
	}

	c.logTrace().Str("method", method).Int("bytes", len(resp.data)).Log("unary response")
	return resp.data, nil
}

// ServerStreamStart begins a server-streaming call: the single request
// payload is written and the send side closed before any responses
// arrive. Returns the stream handle, or a value <= 0 on immediate
// failure. Start-phase errors surface as an error event carrying the
// returned handle.
func (c *Client) ServerStreamStart(method string, request []byte, opts *CallOptions) int64 {
	return c.startStream(serverStreaming, method, request, opts)
}

// ClientStreamStart begins a client-streaming call. Payloads are
// queued via [Client.Send] and the single response arrives as a
// message event before the finished event. Returns the stream handle,
// or a value <= 0 on immediate failure.
func (c *Client) ClientStreamStart(method string, opts *CallOptions) int64 {
	return c.startStream(clientStreaming, method, nil, opts)
}

// BidiStreamStart begins a bidirectional-streaming call. Returns the
// stream handle, or a value <= 0 on immediate failure.
func (c *Client) BidiStreamStart(method string, opts *CallOptions) int64 {
	return c.startStream(bidiStreaming, method, nil, opts)
}

func (c *Client) startStream(kind streamKind, method string, request []byte, opts *CallOptions) int64 {
	conn := c.channel.clientConn()
	if conn == nil {
		c.logErr().Str("method", method).Stringer("kind", kind).Log("stream start without channel")
		return 0
	}

	ctx, cancel := opts.callContext(c.dialCtx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		c.logWarn().Str("method", method).Log("stream start on closed client")
		return 0
	}
	c.nextID++
	handle := c.nextID
	eng := newStreamEngine(handle, kind, conn, method, request, ctx, cancel, streamCallbacks{
		onMessage:  c.onStreamMessage,
		onFinished: c.onStreamFinished,
		onError:    c.onStreamError,
	}, c.logB)
	c.streams[handle] = eng
	c.mu.Unlock()

	// Outside the registry mutex: start performs blocking call setup.
	eng.start()
	return handle
}

// onStreamMessage is invoked from a stream's reader goroutine.
func (c *Client) onStreamMessage(handle int64, data []byte) {
	c.events.enqueue(Event{Stream: handle, Kind: EventMessage, Data: data})
}

// onStreamFinished deregisters the stream before enqueueing, so a
// consumer observing the finished event never finds the handle live.
func (c *Client) onStreamFinished(handle int64, code codes.Code, message string) {
	c.removeStream(handle)
	c.events.enqueue(Event{Stream: handle, Kind: EventFinished, Code: code, Message: message})
}

func (c *Client) onStreamError(handle int64, code codes.Code, message string) {
	c.removeStream(handle)
	c.events.enqueue(Event{Stream: handle, Kind: EventError, Code: code, Message: message})
}

func (c *Client) removeStream(handle int64) {
	c.mu.Lock()
	delete(c.streams, handle)
	c.mu.Unlock()
}

func (c *Client) lookupStream(handle int64) *streamEngine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[handle]
}

// Send queues a payload on a live client-streaming or bidirectional
// stream. It never blocks on network I/O. Reports false when the
// handle is unknown, the stream is no longer active, or its send side
// is closed.
func (c *Client) Send(handle int64, payload []byte) bool {
	eng := c.lookupStream(handle)
	if eng == nil {
		c.logWarn().Int64("stream", handle).Log("send on unknown stream")
		return false
	}
	return eng.send(payload)
}

// CloseSend half-closes a stream's send side after all queued payloads
// drain. Unknown handles are a logged no-op.
func (c *Client) CloseSend(handle int64) {
	eng := c.lookupStream(handle)
	if eng == nil {
		c.logWarn().Int64("stream", handle).Log("close-send on unknown stream")
		return
	}
	eng.closeSend()
}

// Cancel aborts a stream. The handle is deregistered immediately,
// before this method returns; the cancellation itself surfaces as an
// error event once the transport reports it. Unknown handles are a
// logged no-op, so cancelling an already finished stream is safe.
func (c *Client) Cancel(handle int64) {
	c.mu.Lock()
	eng := c.streams[handle]
	delete(c.streams, handle)
	c.mu.Unlock()
	if eng == nil {
		c.logDebug().Int64("stream", handle).Log("cancel on unknown stream")
		return
	}
	eng.cancel()
}

// ActiveStreams returns the handles of streams still registered, in no
// particular order.
func (c *Client) ActiveStreams() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	handles := make([]int64, 0, len(c.streams))
	for handle := range c.streams {
		handles = append(handles, handle)
	}
	return handles
}

// Subscribe accepts any `target` that is a channel which can receive
// [Event] values, typically `chan Event` or `chan any`. The returned
// cancel func MUST be called, unless `ctx` is cancelled.
// WARNING: Sends to `target` are blocking; the consumer must always
// receive promptly.
func (c *Client) Subscribe(ctx context.Context, target any) context.CancelFunc {
	return c.events.subscribe(ctx, target)
}

// Close tears the client down: cancels and joins every stream, stops
// event delivery, and closes the channel. Events not yet consumed are
// dropped. Subsequent operations fail; Close itself is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	engines := make([]*streamEngine, 0, len(c.streams))
	for _, eng := range c.streams {
		engines = append(engines, eng)
	}
	c.streams = make(map[int64]*streamEngine)
	c.mu.Unlock()

	// Stop outside the mutex: engine callbacks re-enter removeStream.
	for _, eng := range engines {
		eng.stop()
	}

	c.events.close()
	c.channel.close()

	c.logInfo().Log("client closed")
	return nil
}
