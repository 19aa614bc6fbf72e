package grpcbridge

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// mockClientConn implements grpc.ClientConnInterface for testing.
// Its behavior is controlled by the onNewStream function field.
type mockClientConn struct {
	grpc.ClientConnInterface
	onNewStream func(ctx context.Context, desc *grpc.StreamDesc, method string, opts ...grpc.CallOption) (grpc.ClientStream, error)
}

func (m *mockClientConn) NewStream(ctx context.Context, desc *grpc.StreamDesc, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	if m.onNewStream != nil {
		return m.onNewStream(ctx, desc, method, opts...)
	}
	return nil, status.Error(codes.Unimplemented, "onNewStream not implemented")
}

// mockClientStream implements grpc.ClientStream for testing.
// Its behavior is controlled by its function fields.
type mockClientStream struct {
	grpc.ClientStream
	onSendMsg   func(m any) error
	onRecvMsg   func(m any) error
	onCloseSend func() error
	onTrailer   func() metadata.MD
	onContext   func() context.Context
	onHeader    func() (metadata.MD, error)
}

func (m *mockClientStream) SendMsg(msg any) error { return m.onSendMsg(msg) }
func (m *mockClientStream) RecvMsg(msg any) error { return m.onRecvMsg(msg) }
func (m *mockClientStream) CloseSend() error {
	if m.onCloseSend != nil {
		return m.onCloseSend()
	}
	return nil
}
func (m *mockClientStream) Trailer() metadata.MD {
	if m.onTrailer != nil {
		return m.onTrailer()
	}
	return nil
}
func (m *mockClientStream) Context() context.Context {
	if m.onContext != nil {
		return m.onContext()
	}
	return context.Background()
}
func (m *mockClientStream) Header() (metadata.MD, error) {
	if m.onHeader != nil {
		return m.onHeader()
	}
	return nil, nil
}

// nopLogB suppresses engine logging in tests. The nil builder is a
// no-op per logiface semantics.
func nopLogB(LogLevel) *logiface.Builder[logiface.Event] { return nil }

// recordedEvent captures one stream callback invocation.
type recordedEvent struct {
	handle  int64
	kind    EventKind
	data    []byte
	code    codes.Code
	message string
}

// recordingCallbacks forwards every callback onto ch, preserving order.
func recordingCallbacks(ch chan<- recordedEvent) streamCallbacks {
	return streamCallbacks{
		onMessage: func(handle int64, data []byte) {
			ch <- recordedEvent{handle: handle, kind: EventMessage, data: data}
		},
		onFinished: func(handle int64, code codes.Code, message string) {
			ch <- recordedEvent{handle: handle, kind: EventFinished, code: code, message: message}
		},
		onError: func(handle int64, code codes.Code, message string) {
			ch <- recordedEvent{handle: handle, kind: EventError, code: code, message: message}
		},
	}
}

func newTestEngine(t *testing.T, kind streamKind, conn grpc.ClientConnInterface, initial []byte, ch chan<- recordedEvent) *streamEngine {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	eng := newStreamEngine(7, kind, conn, "/test.Echo/Stream", initial, ctx, cancel, recordingCallbacks(ch), nopLogB)
	t.Cleanup(eng.stop)
	return eng
}

func waitRecorded(t *testing.T, ch <-chan recordedEvent) recordedEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stream callback")
		return recordedEvent{}
	}
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

// startLoopbackServer runs an in-process gRPC server that routes every
// method to handler via the unknown-service path, speaking raw bytes.
// Returns the listen address.
func startLoopbackServer(t *testing.T, handler grpc.StreamHandler) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := grpc.NewServer(
		grpc.ForceServerCodec(rawCodec{}),
		grpc.UnknownServiceHandler(handler),
	)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

// echoHandler implements the loopback test service: unary echo, a
// server-streamed feed, client-stream summarisation, bidi echo, plus
// always-fail and never-return methods.
func echoHandler(srv any, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	switch method {
	case "/test.Echo/Unary":
		var m rawMessage
		if err := stream.RecvMsg(&m); err != nil {
			return err
		}
		return stream.SendMsg(&rawMessage{data: m.data})
	case "/test.Echo/Feed":
		var m rawMessage
		if err := stream.RecvMsg(&m); err != nil {
			return err
		}
		for i := 0; i < 3; i++ {
			sample, err := structpb.NewStruct(map[string]any{"seq": i})
			if err != nil {
				return err
			}
			b, err := proto.Marshal(sample)
			if err != nil {
				return err
			}
			if err := stream.SendMsg(&rawMessage{data: b}); err != nil {
				return err
			}
		}
		return nil
	case "/test.Echo/Collect":
		var n int
		for {
			var m rawMessage
			err := stream.RecvMsg(&m)
			if err != nil {
				break
			}
			n++
		}
		summary, err := structpb.NewStruct(map[string]any{"count": n})
		if err != nil {
			return err
		}
		b, err := proto.Marshal(summary)
		if err != nil {
			return err
		}
		return stream.SendMsg(&rawMessage{data: b})
	case "/test.Echo/Chat":
		for {
			var m rawMessage
			if err := stream.RecvMsg(&m); err != nil {
				return nil
			}
			if err := stream.SendMsg(&rawMessage{data: m.data}); err != nil {
				return err
			}
		}
	case "/test.Echo/Headers":
		var m rawMessage
		if err := stream.RecvMsg(&m); err != nil {
			return err
		}
		md, _ := metadata.FromIncomingContext(stream.Context())
		fields := map[string]any{}
		for _, k := range []string{"x-request-id", "x-token"} {
			if vs := md.Get(k); len(vs) > 0 {
				fields[k] = vs[0]
			}
		}
		reply, err := structpb.NewStruct(fields)
		if err != nil {
			return err
		}
		b, err := proto.Marshal(reply)
		if err != nil {
			return err
		}
		return stream.SendMsg(&rawMessage{data: b})
	case "/test.Echo/Fail":
		return status.Error(codes.NotFound, "no such thing")
	case "/test.Echo/Sleep":
		<-stream.Context().Done()
		return status.FromContextError(stream.Context().Err()).Err()
	default:
		return status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}
}

// newLoopbackClient connects a quiet client to a fresh echoHandler
// server.
func newLoopbackClient(t *testing.T) *Client {
	t.Helper()
	addr := startLoopbackServer(t, echoHandler)
	c, err := New(WithLogLevel(LogNone))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Connect(addr, nil))
	return c
}

// structPayload builds a serialized structpb payload.
func structPayload(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	b, err := proto.Marshal(s)
	require.NoError(t, err)
	return b
}

// structFields parses a serialized structpb payload back to a map.
func structFields(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var s structpb.Struct
	require.NoError(t, proto.Unmarshal(b, &s))
	return s.AsMap()
}
