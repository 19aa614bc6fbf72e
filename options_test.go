package grpcbridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpcmetadata "google.golang.org/grpc/metadata"
)

func TestChannelOptionsFromMap(t *testing.T) {
	t.Run("nil map", func(t *testing.T) {
		opts := ChannelOptionsFromMap(nil)
		require.NotNil(t, opts)
		assert.Equal(t, ChannelOptions{}, *opts)
	})

	t.Run("all keys", func(t *testing.T) {
		opts := ChannelOptionsFromMap(map[string]any{
			"max_retries":                3,
			"keepalive_seconds":          int64(30),
			"enable_tls":                 true,
			"authority":                  "svc.internal",
			"max_send_message_length":    float64(1 << 20),
			"max_receive_message_length": -1,
		})
		assert.Equal(t, ChannelOptions{
			MaxRetries:              3,
			KeepaliveSeconds:        30,
			EnableTLS:               true,
			Authority:               "svc.internal",
			MaxSendMessageLength:    1 << 20,
			MaxReceiveMessageLength: -1,
		}, *opts)
	})

	t.Run("unknown keys and wrong types ignored", func(t *testing.T) {
		opts := ChannelOptionsFromMap(map[string]any{
			"max_retries":  "three",
			"enable_tls":   1,
			"authority":    42,
			"no_such_key":  true,
			"extra_nested": map[string]any{"x": 1},
		})
		assert.Equal(t, ChannelOptions{}, *opts)
	})
}

func TestChannelOptions_DialOptions(t *testing.T) {
	// Dial options are opaque; shape is asserted by count per feature
	// toggled. Credentials are always present.
	base := len((&ChannelOptions{}).dialOptions())
	assert.Equal(t, 1, base)

	full := &ChannelOptions{
		MaxRetries:              2,
		KeepaliveSeconds:        15,
		EnableTLS:               true,
		Authority:               "svc",
		MaxSendMessageLength:    1024,
		MaxReceiveMessageLength: 1024,
	}
	// credentials + backoff + keepalive + authority + call defaults.
	assert.Equal(t, 5, len(full.dialOptions()))
}

func TestMessageCap(t *testing.T) {
	n, ok := messageCap(1024)
	assert.True(t, ok)
	assert.Equal(t, 1024, n)

	n, ok = messageCap(-1)
	assert.True(t, ok)
	assert.Equal(t, int(1<<31-1), n)

	_, ok = messageCap(0)
	assert.False(t, ok)
	_, ok = messageCap(-7)
	assert.False(t, ok)
}

func TestCallOptionsFromMap(t *testing.T) {
	t.Run("nil map", func(t *testing.T) {
		opts := CallOptionsFromMap(nil)
		require.NotNil(t, opts)
		assert.Zero(t, opts.DeadlineMS)
		assert.Empty(t, opts.Metadata)
	})

	t.Run("typed metadata", func(t *testing.T) {
		opts := CallOptionsFromMap(map[string]any{
			"deadline_ms": 250,
			"metadata":    map[string]string{"x-request-id": "abc"},
		})
		assert.Equal(t, int64(250), opts.DeadlineMS)
		assert.Equal(t, map[string]string{"x-request-id": "abc"}, opts.Metadata)
	})

	t.Run("loose metadata", func(t *testing.T) {
		opts := CallOptionsFromMap(map[string]any{
			"metadata": map[string]any{"x-request-id": "abc", "bad": 7},
		})
		assert.Equal(t, map[string]string{"x-request-id": "abc"}, opts.Metadata)
	})
}

func TestCallOptions_CallContext(t *testing.T) {
	t.Run("nil options", func(t *testing.T) {
		var opts *CallOptions
		ctx, cancel := opts.callContext(context.Background())
		defer cancel()
		_, hasDeadline := ctx.Deadline()
		assert.False(t, hasDeadline)
		_, hasMD := grpcmetadata.FromOutgoingContext(ctx)
		assert.False(t, hasMD)
	})

	t.Run("deadline applied", func(t *testing.T) {
		ctx, cancel := (&CallOptions{DeadlineMS: 500}).callContext(context.Background())
		defer cancel()
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(500*time.Millisecond), deadline, 250*time.Millisecond)
	})

	t.Run("metadata attached", func(t *testing.T) {
		opts := &CallOptions{Metadata: map[string]string{"X-Token": "secret"}}
		ctx, cancel := opts.callContext(context.Background())
		defer cancel()
		md, ok := grpcmetadata.FromOutgoingContext(ctx)
		require.True(t, ok)
		// grpc metadata keys are lowercased.
		assert.Equal(t, []string{"secret"}, md.Get("x-token"))
	})

	t.Run("cancel releases", func(t *testing.T) {
		ctx, cancel := (&CallOptions{DeadlineMS: 60_000}).callContext(context.Background())
		cancel()
		assert.Error(t, ctx.Err())
	})
}
