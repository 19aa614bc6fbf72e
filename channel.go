package grpcbridge

import (
	"errors"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
)

// ErrNotConnected is returned by operations that require a live
// channel when none exists.
var ErrNotConnected = errors.New("grpcbridge: not connected")

// channelManager owns at most one transport channel. The connection is
// shared read-only with every active stream engine; the manager only
// guards the slot itself.
type channelManager struct {
	mu     sync.Mutex
	conn   *grpc.ClientConn
	target string
}

// connect creates a channel to the endpoint, replacing any previously
// held channel. The old channel, if any, is closed first: unlike a
// refcounted handle it would otherwise leak its transport resources.
// No I/O is performed; the connection is established lazily.
func (x *channelManager) connect(endpoint string, opts *ChannelOptions) error {
	if opts == nil {
		opts = &ChannelOptions{}
	}
	conn, err := grpc.NewClient(endpoint, opts.dialOptions()...)
	if err != nil {
		return fmt.Errorf("grpcbridge: create channel to %q: %w", endpoint, err)
	}

	x.mu.Lock()
	old := x.conn
	x.conn = conn
	x.target = endpoint
	x.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// close releases the channel. Idempotent.
func (x *channelManager) close() {
	x.mu.Lock()
	conn := x.conn
	x.conn = nil
	x.target = ""
	x.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// clientConn returns the live connection, or nil when closed. Never
// blocks.
func (x *channelManager) clientConn() *grpc.ClientConn {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.conn
}

// endpoint returns the target of the current channel, or "".
func (x *channelManager) endpoint() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.target
}

// isConnected is a best-effort liveness probe: a channel exists and its
// connectivity state is Ready or Idle. It does not guarantee the next
// call will succeed.
func (x *channelManager) isConnected() bool {
	conn := x.clientConn()
	if conn == nil {
		return false
	}
	switch conn.GetState() {
	case connectivity.Ready, connectivity.Idle:
		return true
	default:
		return false
	}
}
