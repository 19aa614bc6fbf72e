package grpcbridge

import (
	"context"
	"time"

	grpcmetadata "google.golang.org/grpc/metadata"
)

// CallOptions configures a single RPC. The zero value means no
// deadline and no outgoing metadata. Consumed into the call context at
// call time; not retained afterwards.
type CallOptions struct {
	// DeadlineMS is the call deadline, in milliseconds from now.
	// Zero or negative means no deadline.
	DeadlineMS int64
	// Metadata is applied as outgoing request headers.
	Metadata map[string]string
}

// CallOptionsFromMap builds a [CallOptions] from a host-supplied
// key/value map. Recognised keys: deadline_ms (integer), metadata
// (map of string to string). Unknown keys and wrong-typed values are
// ignored.
func CallOptionsFromMap(m map[string]any) *CallOptions {
	var opts CallOptions
	if m == nil {
		return &opts
	}
	if v, ok := mapInt(m, "deadline_ms"); ok {
		opts.DeadlineMS = int64(v)
	}
	switch md := m["metadata"].(type) {
	case map[string]string:
		opts.Metadata = md
	case map[string]any:
		out := make(map[string]string, len(md))
		for k, v := range md {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
		opts.Metadata = out
	}
	return &opts
}

// callContext derives the per-call context: deadline applied when set,
// metadata attached as outgoing headers. The returned cancel must be
// called when the RPC completes to release resources.
func (x *CallOptions) callContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	if x == nil {
		return ctx, cancel
	}
	if x.DeadlineMS > 0 {
		timeoutCtx, timeoutCancel := context.WithTimeout(ctx, time.Duration(x.DeadlineMS)*time.Millisecond)
		oldCancel := cancel
		ctx = timeoutCtx
		cancel = func() {
			timeoutCancel()
			oldCancel()
		}
	}
	if len(x.Metadata) > 0 {
		md := grpcmetadata.New(x.Metadata)
		ctx = grpcmetadata.NewOutgoingContext(ctx, md)
	}
	return ctx, cancel
}
