package transport

import (
	"context"
	"github.com/zeroc-ice/ice-sub018/rpc/common"
	"net"
	"time"
)

// --------------------------------------------------------------------------
// Connector (one per transport medium)
// --------------------------------------------------------------------------

// IConnector defines the transport-specific operations needed to open and
// accept stream connections
type IConnector interface {
	// Dial establishes a single connection to the endpoint
	Dial(endpoint common.Endpoint, timeout time.Duration) (net.Conn, error)

	// Listen creates a listener bound to the endpoint
	Listen(endpoint common.Endpoint) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.TransportConfig) error
}

// --------------------------------------------------------------------------
// Dispatcher (inbound requests)
// --------------------------------------------------------------------------

// IDispatcher routes requests that arrive on a connection to local objects.
// The object adapter implements it, installing one on a client connection
// makes the connection bidirectional.
type IDispatcher interface {
	// Dispatch handles req, which arrived on conn. The returned reply is sent
	// back for twoway requests and discarded otherwise.
	Dispatch(conn IConnection, req *common.Message) *common.Message
}

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

// ConnectionState is the lifecycle state of a connection
type ConnectionState int32

const (
	StateActive ConnectionState = iota
	StateClosing
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// IConnection is a session with one peer. It carries twoway, oneway and
// batched requests in both directions.
type IConnection interface {
	// Invoke sends a twoway request and waits for the matching reply.
	// A timeout of zero waits until ctx is done or the connection closes.
	Invoke(ctx context.Context, req *common.Message, timeout time.Duration) (*common.Message, error)

	// SendOneway writes a request that expects no reply
	SendOneway(req *common.Message) error

	// EnqueueBatch appends a request to the batch queue of the connection,
	// it may flush the queue if the auto-flush threshold is crossed
	EnqueueBatch(req *common.Message) error

	// FlushBatchRequests writes all queued requests as a single frame
	FlushBatchRequests() (FlushResult, error)

	// SetAdapter installs the dispatcher for requests sent by the peer
	SetAdapter(adapter IDispatcher) error

	// Adapter returns the installed dispatcher or nil
	Adapter() IDispatcher

	// Close discards queued batch requests, fails outstanding invocations and closes the connection
	Close() error

	// State returns the current lifecycle state
	State() ConnectionState

	// Endpoint returns the remote endpoint as a string
	Endpoint() string

	// Incoming reports whether the peer opened the connection
	Incoming() bool
}

// --------------------------------------------------------------------------
// Flush result
// --------------------------------------------------------------------------

// FlushResult reports the outcome of a batch flush
type FlushResult struct {
	completed         bool
	sent              bool
	sentSynchronously bool
}

// NewFlushResult creates a flush result
func NewFlushResult(completed, sent, sentSynchronously bool) FlushResult {
	return FlushResult{completed: completed, sent: sent, sentSynchronously: sentSynchronously}
}

// IsCompleted reports whether marshaling of the flush finished
func (r FlushResult) IsCompleted() bool { return r.completed }

// IsSent reports whether the bytes were handed to the transport
func (r FlushResult) IsSent() bool { return r.sent }

// SentSynchronously reports whether the flush was sent without blocking the caller
func (r FlushResult) SentSynchronously() bool { return r.sentSynchronously }
