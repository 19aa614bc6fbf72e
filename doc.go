// Package grpcbridge provides a byte-oriented gRPC client facade for
// embedding into host runtimes and scripting layers. It speaks raw
// serialized payloads over a payload-agnostic codec, addresses streams
// by integer handles, and delivers stream notifications through an
// event queue drained by a single consumer, so a host with its own
// threading model never shares gRPC objects across its boundary.
//
// # Overview
//
// A [Client] owns at most one channel at a time. Unary calls block the
// caller; streaming calls return immediately with a positive handle
// and report everything else as [Event] values:
//
//	client, _ := grpcbridge.New()
//	defer client.Close()
//
//	_ = client.Connect("localhost:50051", nil)
//
//	events := make(chan grpcbridge.Event, 16)
//	cancel := client.Subscribe(context.Background(), events)
//	defer cancel()
//
//	resp, err := client.Unary("/my.package.MyService/Echo", reqBytes, nil)
//
//	handle := client.ServerStreamStart("/my.package.MyService/Watch", reqBytes, nil)
//	for ev := range events {
//	    switch ev.Kind {
//	    case grpcbridge.EventMessage:
//	        // ev.Data is one serialized response message
//	    case grpcbridge.EventFinished:
//	        // clean end of stream
//	    case grpcbridge.EventError:
//	        // ev.Code, ev.Message describe the failure
//	    }
//	}
//
// All four streaming shapes the transport offers are covered: unary
// via [Client.Unary], and server-streaming, client-streaming, and
// bidirectional streams via their Start methods plus [Client.Send],
// [Client.CloseSend], and [Client.Cancel].
//
// # Payloads
//
// The facade never inspects message contents. Callers hand it
// serialized protobuf bytes (or anything else the remote end's codec
// accepts) and receive serialized bytes back. Marshalling lives on the
// host side of the boundary, typically driven by descriptors the host
// already owns.
//
// # Streams
//
// Each live stream runs one reader goroutine, and for client-streaming
// and bidirectional shapes one writer goroutine draining a FIFO queue.
// [Client.Send] only appends to that queue and therefore never blocks
// on the network. Payloads are delivered in the order they were sent.
// When the transport reports end-of-stream the final status arrives as
// exactly one finished or error event, the handle is deregistered
// first, and no further events for that handle follow.
//
// Cancellation is asynchronous: [Client.Cancel] requests transport
// cancellation and the resulting error event is the signal that the
// stream is gone.
//
// # Events
//
// Subscribers receive every event in stream order. Delivery to a
// subscriber's channel is blocking, which is what makes ordering
// possible; hosts bridging into an environment with its own main
// thread should drain the channel from a single goroutine and forward
// via whatever call-deferral mechanism that environment provides.
//
// # Configuration
//
// Channel behaviour is controlled per-connect through
// [ChannelOptions] (TLS, keepalive, retry backoff, message size caps,
// authority override) and per-call through [CallOptions] (deadline in
// milliseconds, outgoing metadata). Both have FromMap constructors for
// hosts that deal in loosely-typed option dictionaries.
//
// Logging uses [logiface] with a stumpy JSON backend by default, and a
// runtime-adjustable verbosity switch from [LogNone] to [LogTrace].
//
// [logiface]: github.com/joeycumines/logiface
package grpcbridge
