package grpcbridge

import (
	"crypto/tls"
	"math"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// ChannelOptions configures channel creation. The zero value is a
// plaintext channel with transport defaults. Immutable once passed to
// [Client.Connect].
type ChannelOptions struct {
	// MaxRetries toggles bounded reconnect backoff when positive.
	MaxRetries int
	// KeepaliveSeconds is the keepalive ping interval. Zero disables
	// client keepalive.
	KeepaliveSeconds int
	// EnableTLS selects TLS transport credentials instead of plaintext.
	EnableTLS bool
	// Authority overrides the :authority pseudo-header when non-empty.
	Authority string
	// MaxSendMessageLength caps outgoing message size in bytes.
	// Zero keeps the transport default; -1 lifts the cap entirely.
	MaxSendMessageLength int
	// MaxReceiveMessageLength caps incoming message size in bytes.
	// Zero keeps the transport default; -1 lifts the cap entirely.
	MaxReceiveMessageLength int
}

// ChannelOptionsFromMap builds a [ChannelOptions] from a host-supplied
// key/value map. Unknown keys and wrong-typed values are ignored, so a
// partially-valid map still yields a usable record. Recognised keys:
// max_retries, keepalive_seconds, enable_tls, authority,
// max_send_message_length, max_receive_message_length.
func ChannelOptionsFromMap(m map[string]any) *ChannelOptions {
	var opts ChannelOptions
	if m == nil {
		return &opts
	}
	if v, ok := mapInt(m, "max_retries"); ok {
		opts.MaxRetries = v
	}
	if v, ok := mapInt(m, "keepalive_seconds"); ok {
		opts.KeepaliveSeconds = v
	}
	if v, ok := m["enable_tls"].(bool); ok {
		opts.EnableTLS = v
	}
	if v, ok := m["authority"].(string); ok {
		opts.Authority = v
	}
	if v, ok := mapInt(m, "max_send_message_length"); ok {
		opts.MaxSendMessageLength = v
	}
	if v, ok := mapInt(m, "max_receive_message_length"); ok {
		opts.MaxReceiveMessageLength = v
	}
	return &opts
}

// mapInt reads an integer map value, tolerating the numeric types a
// host boundary typically produces (int, int64, float64).
func mapInt(m map[string]any, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// dialOptions converts the record into transport dial options.
func (x *ChannelOptions) dialOptions() []grpc.DialOption {
	var out []grpc.DialOption

	if x.EnableTLS {
		out = append(out, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
	} else {
		out = append(out, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	if x.MaxRetries > 0 {
		cfg := backoff.DefaultConfig
		cfg.BaseDelay = 1 * time.Second
		cfg.MaxDelay = 5 * time.Second
		out = append(out, grpc.WithConnectParams(grpc.ConnectParams{Backoff: cfg}))
	}

	if x.KeepaliveSeconds > 0 {
		out = append(out, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                time.Duration(x.KeepaliveSeconds) * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}))
	}

	if x.Authority != "" {
		out = append(out, grpc.WithAuthority(x.Authority))
	}

	var callOpts []grpc.CallOption
	if n, ok := messageCap(x.MaxSendMessageLength); ok {
		callOpts = append(callOpts, grpc.MaxCallSendMsgSize(n))
	}
	if n, ok := messageCap(x.MaxReceiveMessageLength); ok {
		callOpts = append(callOpts, grpc.MaxCallRecvMsgSize(n))
	}
	if len(callOpts) > 0 {
		out = append(out, grpc.WithDefaultCallOptions(callOpts...))
	}

	return out
}

// messageCap resolves a configured message-size limit: positive values
// apply as-is, -1 means unlimited, anything else keeps the default.
func messageCap(n int) (int, bool) {
	switch {
	case n > 0:
		return n, true
	case n == -1:
		return math.MaxInt32, true
	default:
		return 0, false
	}
}
