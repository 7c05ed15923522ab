package base

import (
	"context"
	"errors"
	"fmt"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/zeroc-ice/ice-sub018/rpc/common"
	"github.com/zeroc-ice/ice-sub018/rpc/serializer"
	"github.com/zeroc-ice/ice-sub018/rpc/transport"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger(common.LoggerTransport)

// closeTimeout bounds the write of the close connection frame
const closeTimeout = time.Second

// -----------------------------------------------------------
// Connection
// -----------------------------------------------------------

// Connection is a session with one peer over a stream socket. It multiplexes
// concurrent twoway invocations by request id, writes oneway requests
// immediately and owns the batch queue for batched requests. Requests sent by
// the peer are dispatched to the installed adapter on a bounded worker pool.
// The read loop never waits for a worker, replies are read while all workers
// are busy.
type Connection struct {
	conn       net.Conn
	endpoint   string
	incoming   bool
	config     common.ConnectionConfig
	serializer serializer.IRPCSerializer

	state         atomic.Int32
	nextRequestID atomic.Uint64
	pending       *xsync.MapOf[uint64, chan *common.Message]
	batch         *BatchQueue

	writeMu sync.Mutex // serializes frame writes

	mu      sync.Mutex // protects adapter and onClose
	adapter transport.IDispatcher
	onClose []func(*Connection)

	workers chan struct{} // semaphore limiting concurrent dispatches

	batchMu     sync.Mutex          // protects received
	received    [][]*common.Message // received batches, dispatched in order
	batchSignal chan struct{}       // wakes the batch dispatcher
	readDone    chan struct{}       // closed when the read loop returned

	closed   chan struct{}
	closeErr error // set before closed is closed
}

// newConnection creates a connection in the active state without starting the read loop
func newConnection(conn net.Conn, endpoint string, incoming bool, s serializer.IRPCSerializer, config common.ConnectionConfig) *Connection {
	// minimum one worker per connection
	workers := config.MaxWorkersPerConn
	if workers < 1 {
		workers = 1
	}

	c := &Connection{
		conn:       conn,
		endpoint:   endpoint,
		incoming:   incoming,
		config:     config,
		serializer: s,
		pending:    xsync.NewMapOf[uint64, chan *common.Message](),
		workers:     make(chan struct{}, workers),
		batchSignal: make(chan struct{}, 1),
		readDone:    make(chan struct{}),
		closed:      make(chan struct{}),
	}
	c.batch = NewBatchQueue(config.BatchAutoFlushSize, c.writeBatch)
	return c
}

// Connect turns an outgoing socket into a connection. The peer must send a
// validate connection frame within timeout, otherwise conn is closed and an
// error is returned.
func Connect(conn net.Conn, endpoint string, s serializer.IRPCSerializer, config common.ConnectionConfig, timeout time.Duration) (*Connection, error) {
	c := newConnection(conn, endpoint, false, s, config)

	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
	}

	f, buf, err := readFrame(conn, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to validate connection to %s: %w", endpoint, err)
	}
	if f.typ != frameValidateConnection {
		conn.Close()
		return nil, fmt.Errorf("failed to validate connection to %s: unexpected %s frame", endpoint, f.typ)
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to clear read deadline: %w", err)
	}

	connectionsOpenedOutgoing.Inc()
	Logger.Infof("Connected to %s", endpoint)

	c.start(buf)
	return c, nil
}

// Accept turns an accepted socket into a connection that dispatches to
// adapter. It sends the validate connection frame before reading.
func Accept(conn net.Conn, s serializer.IRPCSerializer, config common.ConnectionConfig, adapter transport.IDispatcher) (*Connection, error) {
	c := newConnection(conn, conn.RemoteAddr().String(), true, s, config)
	c.adapter = adapter

	if err := c.write(func() error { return writeFrame(conn, frameValidateConnection, 0, nil) }); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to validate connection from %s: %w", c.endpoint, err)
	}

	connectionsOpenedIncoming.Inc()
	Logger.Debugf("Accepted connection from %s", c.endpoint)

	c.start(nil)
	return c, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IConnection)
// --------------------------------------------------------------------------

func (c *Connection) Invoke(ctx context.Context, req *common.Message, timeout time.Duration) (*common.Message, error) {
	if c.State() != transport.StateActive {
		return nil, c.closedError()
	}

	data, err := c.serializer.Serialize(*req)
	if err != nil {
		return nil, &common.MarshalError{Reason: err.Error()}
	}

	// Register the request before sending it
	requestID := c.nextRequestID.Add(1)
	replyCh := make(chan *common.Message, 1)
	c.pending.Store(requestID, replyCh)
	defer c.pending.Delete(requestID)

	if err := c.write(func() error { return writeFrame(c.conn, frameRequest, requestID, data) }); err != nil {
		return nil, err
	}

	// Wait for reply, close or timeout
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-c.closed:
		// a reply may have arrived right before the close
		select {
		case reply := <-replyCh:
			return reply, nil
		default:
			return nil, c.closeErr
		}
	case <-timeoutCh:
		return nil, &common.TimeoutError{Operation: req.Operation, Timeout: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Connection) SendOneway(req *common.Message) error {
	if c.State() != transport.StateActive {
		return c.closedError()
	}
	return c.writeMessage(frameRequest, 0, req)
}

func (c *Connection) EnqueueBatch(req *common.Message) error {
	if c.State() != transport.StateActive {
		return c.closedError()
	}

	data, err := c.serializer.Serialize(*req)
	if err != nil {
		return &common.MarshalError{Reason: err.Error()}
	}
	return c.batch.Enqueue(data)
}

func (c *Connection) FlushBatchRequests() (transport.FlushResult, error) {
	return c.batch.Flush()
}

func (c *Connection) SetAdapter(adapter transport.IDispatcher) error {
	if adapter == nil {
		return errors.New("object adapter must not be nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.adapter {
	case nil:
		c.adapter = adapter
		Logger.Infof("Connection %s dispatches to local object adapter", c.endpoint)
		return nil
	case adapter:
		return nil
	default:
		return &common.AdapterAlreadySetError{Endpoint: c.endpoint}
	}
}

func (c *Connection) Adapter() transport.IDispatcher {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adapter
}

func (c *Connection) Close() error {
	c.shutdown(&common.ConnectionClosedError{Endpoint: c.endpoint, Graceful: true}, true)
	return nil
}

func (c *Connection) State() transport.ConnectionState {
	return transport.ConnectionState(c.state.Load())
}

func (c *Connection) Endpoint() string {
	return c.endpoint
}

func (c *Connection) Incoming() bool {
	return c.incoming
}

// --------------------------------------------------------------------------
// Additional public methods
// --------------------------------------------------------------------------

// OnClose registers a callback that runs once the connection is closed.
// If the connection is already closed the callback runs immediately.
func (c *Connection) OnClose(callback func(*Connection)) {
	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		callback(c)
	default:
		c.onClose = append(c.onClose, callback)
		c.mu.Unlock()
	}
}

// Done returns a channel that is closed when the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

// BatchQueue returns the batch queue of the connection
func (c *Connection) BatchQueue() *BatchQueue {
	return c.batch
}

// --------------------------------------------------------------------------
// Writing
// --------------------------------------------------------------------------

// write runs fn while holding the write lock. A failed write closes the connection.
func (c *Connection) write(fn func() error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.State() != transport.StateActive {
		return c.closedError()
	}

	if c.config.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}

	if err := fn(); err != nil {
		closeErr := &common.ConnectionClosedError{Endpoint: c.endpoint, Err: err}
		// the caller may hold the batch queue lock which shutdown needs
		go c.shutdown(closeErr, false)
		return closeErr
	}
	return nil
}

// writeMessage serializes msg and writes it as a single frame
func (c *Connection) writeMessage(typ frameType, requestID uint64, msg *common.Message) error {
	data, err := c.serializer.Serialize(*msg)
	if err != nil {
		return &common.MarshalError{Reason: err.Error()}
	}
	return c.write(func() error { return writeFrame(c.conn, typ, requestID, data) })
}

// writeBatch is the flush func of the batch queue
func (c *Connection) writeBatch(requests [][]byte) error {
	Logger.Debugf("Flushing %d batch requests to %s", len(requests), c.endpoint)
	return c.write(func() error { return writeBatchFrame(c.conn, requests) })
}

// --------------------------------------------------------------------------
// Reading and dispatching
// --------------------------------------------------------------------------

// start launches the read loop and the batch dispatcher
func (c *Connection) start(buf []byte) {
	go c.dispatchBatches()
	go c.readLoop(buf)
}

// readLoop reads frames until the connection fails or is closed
func (c *Connection) readLoop(buf []byte) {
	defer close(c.readDone)

	var (
		f   frame
		err error
	)
	for {
		f, buf, err = readFrame(c.conn, buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				Logger.Debugf("Connection %s closed by peer without close frame", c.endpoint)
			}
			c.shutdown(&common.ConnectionClosedError{Endpoint: c.endpoint, Err: err}, false)
			return
		}

		switch f.typ {
		case frameReply:
			c.handleReply(f)
		case frameRequest:
			c.handleRequest(f)
		case frameRequestBatch:
			if err := c.handleBatch(f); err != nil {
				Logger.Errorf("Invalid batch from %s: %v", c.endpoint, err)
				c.shutdown(&common.ConnectionClosedError{Endpoint: c.endpoint, Err: err}, true)
				return
			}
		case frameCloseConnection:
			Logger.Debugf("Connection %s closed by peer", c.endpoint)
			c.shutdown(&common.ConnectionClosedError{Endpoint: c.endpoint, Graceful: true}, false)
			return
		case frameValidateConnection:
			// only meaningful during establishment
		default:
			err := fmt.Errorf("unexpected %s frame", f.typ)
			c.shutdown(&common.ConnectionClosedError{Endpoint: c.endpoint, Err: err}, false)
			return
		}
	}
}

// handleReply hands a reply to the waiting invocation
func (c *Connection) handleReply(f frame) {
	reply := &common.Message{}
	if err := c.serializer.Deserialize(f.payload, reply); err != nil {
		Logger.Errorf("Failed to decode reply %d from %s: %v", f.requestID, c.endpoint, err)
		reply = &common.Message{MsgType: common.MsgTReply, Status: common.ReplyUnknownException, Err: "invalid reply: " + err.Error()}
	}

	replyCh, found := c.pending.LoadAndDelete(f.requestID)
	if !found {
		// the invocation timed out or was cancelled
		Logger.Warningf("Received reply for unknown request ID %d from %s", f.requestID, c.endpoint)
		return
	}
	replyCh <- reply
}

// handleRequest decodes a single request and dispatches it on a worker
func (c *Connection) handleRequest(f frame) {
	req := &common.Message{}
	if err := c.serializer.Deserialize(f.payload, req); err != nil {
		Logger.Errorf("Failed to decode request from %s: %v", c.endpoint, err)
		if f.requestID != 0 {
			reply := common.NewErrorReply(req, &common.UnknownError{Reason: "invalid request: " + err.Error()})
			if err := c.writeMessage(frameReply, f.requestID, reply); err != nil {
				Logger.Debugf("Failed to write reply to %s: %v", c.endpoint, err)
			}
		}
		return
	}

	// the slot is taken by the goroutine, the read loop must keep reading replies
	go func() {
		c.workers <- struct{}{}
		defer func() { <-c.workers }()
		c.dispatch(f.requestID, req)
	}()
}

// handleBatch decodes all requests of a batch and queues them for ordered
// dispatch. Requests that can not be decoded are skipped.
func (c *Connection) handleBatch(f frame) error {
	entries, err := splitBatch(f.payload, f.count)
	if err != nil {
		return err
	}

	requests := make([]*common.Message, 0, len(entries))
	for i, entry := range entries {
		req := &common.Message{}
		if err := c.serializer.Deserialize(entry, req); err != nil {
			Logger.Warningf("Skipping batch request %d/%d from %s: %v", i+1, len(entries), c.endpoint, err)
			continue
		}
		requests = append(requests, req)
	}

	Logger.Debugf("Received batch of %d requests from %s", len(requests), c.endpoint)

	c.batchMu.Lock()
	c.received = append(c.received, requests)
	c.batchMu.Unlock()

	select {
	case c.batchSignal <- struct{}{}:
	default:
	}
	return nil
}

// dispatchBatches dispatches received batches one after another in arrival
// order. Batches received before the read loop ended are still dispatched.
func (c *Connection) dispatchBatches() {
	for {
		if requests, ok := c.nextBatch(); ok {
			c.runBatch(requests)
			continue
		}

		select {
		case <-c.batchSignal:
		case <-c.readDone:
			for requests, ok := c.nextBatch(); ok; requests, ok = c.nextBatch() {
				c.runBatch(requests)
			}
			return
		}
	}
}

// nextBatch removes the oldest received batch
func (c *Connection) nextBatch() ([]*common.Message, bool) {
	c.batchMu.Lock()
	defer c.batchMu.Unlock()

	if len(c.received) == 0 {
		return nil, false
	}
	requests := c.received[0]
	c.received[0] = nil
	c.received = c.received[1:]
	return requests, true
}

// runBatch dispatches the requests of one batch on a single worker
func (c *Connection) runBatch(requests []*common.Message) {
	c.workers <- struct{}{}
	defer func() { <-c.workers }()
	for _, req := range requests {
		c.dispatch(0, req)
	}
}

// dispatch runs one request through the adapter and writes the reply for twoway requests
func (c *Connection) dispatch(requestID uint64, req *common.Message) {
	var reply *common.Message

	adapter := c.Adapter()
	if adapter == nil {
		if requestID == 0 {
			Logger.Debugf("Dropping oneway request %s on %q from %s, no object adapter", req.Operation, req.Identity.String(), c.endpoint)
			return
		}
		reply = common.NewErrorReply(req, &common.ObjectNotExistError{RequestFailed: common.RequestFailed{
			Identity:  req.Identity,
			Facet:     req.Facet,
			Operation: req.Operation,
		}})
	} else {
		start := time.Now()
		reply = adapter.Dispatch(c, req)
		Logger.Debugf("Dispatched %s on %q from %s took %s", req.Operation, req.Identity.String(), c.endpoint, time.Since(start))
	}

	// oneway and batch requests get no reply, failures are only logged
	if requestID == 0 {
		if reply != nil && reply.Status != common.ReplyOK {
			Logger.Debugf("Oneway request %s on %q failed: %s", req.Operation, req.Identity.String(), reply.Status)
		}
		return
	}
	if reply == nil {
		reply = common.NewReply(nil)
	}
	if err := c.writeMessage(frameReply, requestID, reply); err != nil {
		Logger.Debugf("Failed to write reply to %s: %v", c.endpoint, err)
	}
}

// --------------------------------------------------------------------------
// Closing
// --------------------------------------------------------------------------

// shutdown moves the connection to closed. Waiting invocations fail with
// closeErr and queued batch requests are discarded. Only the first call has
// an effect. shutdown never waits for a blocked write.
func (c *Connection) shutdown(closeErr *common.ConnectionClosedError, sendClose bool) {
	if !c.state.CompareAndSwap(int32(transport.StateActive), int32(transport.StateClosing)) {
		return
	}

	// release writes blocked on a peer that does not read, they hold writeMu
	// and possibly the batch queue lock
	if err := c.conn.SetWriteDeadline(time.Now()); err != nil {
		Logger.Debugf("Failed to set write deadline on %s: %v", c.endpoint, err)
	}

	// the close frame is skipped if another write still owns the socket
	if sendClose && c.writeMu.TryLock() {
		if err := c.conn.SetWriteDeadline(time.Now().Add(closeTimeout)); err == nil {
			if err := writeFrame(c.conn, frameCloseConnection, 0, nil); err != nil {
				Logger.Debugf("Failed to send close frame to %s: %v", c.endpoint, err)
			}
		}
		c.writeMu.Unlock()
	}

	c.closeErr = closeErr
	close(c.closed)
	if err := c.conn.Close(); err != nil {
		Logger.Debugf("Error closing connection %s: %v", c.endpoint, err)
	}

	if n := c.batch.Discard(closeErr); n > 0 {
		batchDiscarded.Add(n)
		Logger.Debugf("Discarded %d batch requests of connection %s", n, c.endpoint)
	}

	c.state.Store(int32(transport.StateClosed))
	connectionsClosed.Inc()

	if closeErr.Err != nil && !errors.Is(closeErr.Err, net.ErrClosed) {
		Logger.Warningf("Connection %s closed: %v", c.endpoint, closeErr.Err)
	} else {
		Logger.Infof("Connection %s closed", c.endpoint)
	}

	c.mu.Lock()
	callbacks := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	for _, callback := range callbacks {
		callback(c)
	}
}

// closedError returns the error for operations on a connection that is not active
func (c *Connection) closedError() error {
	select {
	case <-c.closed:
		return c.closeErr
	default:
		return &common.ConnectionClosedError{Endpoint: c.endpoint, Graceful: true}
	}
}
