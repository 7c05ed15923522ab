package base

import (
	"context"
	"errors"
	"github.com/zeroc-ice/ice-sub018/rpc/common"
	"github.com/zeroc-ice/ice-sub018/rpc/serializer"
	"github.com/zeroc-ice/ice-sub018/rpc/transport"
	"net"
	"sync"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Test helpers
// --------------------------------------------------------------------------

// recordingDispatcher echoes the params of every request and records the operations.
// Requests for the identity "missing" fail with ObjectNotExist, the operation
// "block" waits until release is closed.
type recordingDispatcher struct {
	mu      sync.Mutex
	ops     []string
	release chan struct{}
	seen    chan string
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{release: make(chan struct{}), seen: make(chan string, 100)}
}

func (d *recordingDispatcher) Dispatch(_ transport.IConnection, req *common.Message) *common.Message {
	if req.Identity.Name == "missing" {
		d.seen <- req.Operation
		return common.NewErrorReply(req, &common.ObjectNotExistError{RequestFailed: common.RequestFailed{Identity: req.Identity, Operation: req.Operation}})
	}
	if req.Operation == "block" {
		<-d.release
	}
	d.mu.Lock()
	d.ops = append(d.ops, req.Operation)
	d.mu.Unlock()
	d.seen <- req.Operation
	return common.NewReply(req.Params)
}

func (d *recordingDispatcher) operations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ops...)
}

// waitSeen waits until n requests reached the dispatcher
func (d *recordingDispatcher) waitSeen(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-d.seen:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d requests were dispatched", i, n)
		}
	}
}

// connectedPair returns a client connection and the matching server connection over loopback TCP
func connectedPair(t *testing.T, serverAdapter transport.IDispatcher, config common.ConnectionConfig) (*Connection, *Connection) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer listener.Close()

	s := serializer.NewBinarySerializer()
	serverCh := make(chan *Connection, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			t.Errorf("accept failed: %v", err)
			serverCh <- nil
			return
		}
		c, err := Accept(conn, s, config, serverAdapter)
		if err != nil {
			t.Errorf("Accept failed: %v", err)
		}
		serverCh <- c
	}()

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	client, err := Connect(conn, listener.Addr().String(), s, config, time.Second)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	server := <-serverCh
	if server == nil {
		t.FailNow()
	}

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func request(name, op string, params []byte) *common.Message {
	return common.NewRequest(common.Identity{Name: name}, "", op, common.ModeNormal, nil, params)
}

var testConfig = common.ConnectionConfig{MaxWorkersPerConn: 4}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestConnectionInvoke(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	client, _ := connectedPair(t, dispatcher, testConfig)

	reply, err := client.Invoke(context.Background(), request("obj", "echo", []byte("hello")), time.Second)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if reply.Status != common.ReplyOK || string(reply.Params) != "hello" {
		t.Errorf("unexpected reply %+v", reply)
	}

	reply, err = client.Invoke(context.Background(), request("missing", "echo", nil), time.Second)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	var notExist *common.ObjectNotExistError
	if !errors.As(reply.ReplyError(), &notExist) {
		t.Errorf("expected ObjectNotExistError, got %v", reply.ReplyError())
	}
}

func TestConnectionConcurrentInvocations(t *testing.T) {
	client, _ := connectedPair(t, newRecordingDispatcher(), testConfig)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte{byte(i)}
			reply, err := client.Invoke(context.Background(), request("obj", "echo", payload), 5*time.Second)
			if err != nil {
				t.Errorf("Invoke %d failed: %v", i, err)
				return
			}
			if len(reply.Params) != 1 || reply.Params[0] != byte(i) {
				t.Errorf("reply %d carries %v", i, reply.Params)
			}
		}(i)
	}
	wg.Wait()
}

// TestConnectionBatchOrderAndPoison checks that batched requests arrive in
// order and that a request for an unknown identity does not stop the others
func TestConnectionBatchOrderAndPoison(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	client, _ := connectedPair(t, dispatcher, testConfig)

	for _, req := range []*common.Message{
		request("obj", "first", nil),
		request("missing", "poison", nil),
		request("obj", "second", nil),
		request("obj", "third", nil),
	} {
		if err := client.EnqueueBatch(req); err != nil {
			t.Fatalf("EnqueueBatch failed: %v", err)
		}
	}
	if len(dispatcher.operations()) != 0 {
		t.Fatalf("batched requests were sent before the flush")
	}

	result, err := client.FlushBatchRequests()
	if err != nil {
		t.Fatalf("FlushBatchRequests failed: %v", err)
	}
	if !result.IsCompleted() || !result.IsSent() {
		t.Errorf("unexpected flush result %+v", result)
	}

	dispatcher.waitSeen(t, 4)
	ops := dispatcher.operations()
	want := []string{"first", "second", "third"}
	if len(ops) != len(want) {
		t.Fatalf("executed %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("executed %v, want %v", ops, want)
			break
		}
	}
}

func TestConnectionOneway(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	client, _ := connectedPair(t, dispatcher, testConfig)

	if err := client.SendOneway(request("obj", "notify", nil)); err != nil {
		t.Fatalf("SendOneway failed: %v", err)
	}
	dispatcher.waitSeen(t, 1)
}

// TestConnectionBidirectional checks that the server can call back over the
// connection the client opened, once the client installed an adapter
func TestConnectionBidirectional(t *testing.T) {
	client, server := connectedPair(t, newRecordingDispatcher(), testConfig)

	// without an adapter the client rejects the request
	reply, err := server.Invoke(context.Background(), request("callback", "ping", nil), time.Second)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if reply.Status != common.ReplyObjectNotExist {
		t.Fatalf("expected ObjectNotExist without adapter, got %s", reply.Status)
	}

	local := newRecordingDispatcher()
	if err := client.SetAdapter(local); err != nil {
		t.Fatalf("SetAdapter failed: %v", err)
	}

	reply, err = server.Invoke(context.Background(), request("callback", "ping", []byte("x")), time.Second)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if reply.Status != common.ReplyOK || string(reply.Params) != "x" {
		t.Errorf("unexpected reply %+v", reply)
	}
	if ops := local.operations(); len(ops) != 1 || ops[0] != "ping" {
		t.Errorf("local adapter saw %v", ops)
	}
}

func TestConnectionSetAdapterTwice(t *testing.T) {
	client, _ := connectedPair(t, newRecordingDispatcher(), testConfig)

	first := newRecordingDispatcher()
	if err := client.SetAdapter(first); err != nil {
		t.Fatalf("SetAdapter failed: %v", err)
	}
	if err := client.SetAdapter(first); err != nil {
		t.Errorf("setting the same adapter again must be a no-op, got %v", err)
	}

	var alreadySet *common.AdapterAlreadySetError
	if err := client.SetAdapter(newRecordingDispatcher()); !errors.As(err, &alreadySet) {
		t.Errorf("expected AdapterAlreadySetError, got %v", err)
	}
	if client.Adapter() != first {
		t.Errorf("adapter was replaced")
	}
	if err := client.SetAdapter(nil); err == nil {
		t.Errorf("nil adapter must be rejected")
	}
}

func TestConnectionInvokeTimeout(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	defer close(dispatcher.release)
	client, _ := connectedPair(t, dispatcher, testConfig)

	_, err := client.Invoke(context.Background(), request("obj", "block", nil), 50*time.Millisecond)
	var timeoutErr *common.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if client.State() != transport.StateActive {
		t.Errorf("a timeout must not close the connection")
	}
}

// TestConnectionCloseCancels checks that closing fails outstanding invocations,
// discards the batch queue and rejects later requests
func TestConnectionCloseCancels(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	defer close(dispatcher.release)
	client, _ := connectedPair(t, dispatcher, testConfig)

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Invoke(context.Background(), request("obj", "block", nil), 0)
		errCh <- err
	}()

	if err := client.EnqueueBatch(request("obj", "queued", nil)); err != nil {
		t.Fatalf("EnqueueBatch failed: %v", err)
	}
	if client.BatchQueue().Len() != 1 {
		t.Fatalf("expected one queued request")
	}

	// give the invocation time to be sent
	time.Sleep(50 * time.Millisecond)
	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	var closedErr *common.ConnectionClosedError
	select {
	case err := <-errCh:
		if !errors.As(err, &closedErr) {
			t.Errorf("expected ConnectionClosedError, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("outstanding invocation was not cancelled")
	}

	if client.BatchQueue().Len() != 0 {
		t.Errorf("batch queue not discarded on close")
	}
	if err := client.EnqueueBatch(request("obj", "late", nil)); !errors.As(err, &closedErr) {
		t.Errorf("EnqueueBatch after close = %v, want ConnectionClosedError", err)
	}
	if err := client.SendOneway(request("obj", "late", nil)); !errors.As(err, &closedErr) {
		t.Errorf("SendOneway after close = %v, want ConnectionClosedError", err)
	}
	if client.State() != transport.StateClosed {
		t.Errorf("state is %s after close", client.State())
	}
}

func TestConnectionPeerClose(t *testing.T) {
	client, server := connectedPair(t, newRecordingDispatcher(), testConfig)

	closed := make(chan struct{})
	client.OnClose(func(*Connection) { close(closed) })

	server.Close()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatalf("client did not notice the close of the peer")
	}

	_, err := client.Invoke(context.Background(), request("obj", "echo", nil), time.Second)
	var closedErr *common.ConnectionClosedError
	if !errors.As(err, &closedErr) {
		t.Fatalf("expected ConnectionClosedError, got %v", err)
	}
	if !closedErr.Graceful {
		t.Errorf("close announced by the peer must be graceful")
	}

	// callbacks registered after the close run immediately
	ran := false
	client.OnClose(func(*Connection) { ran = true })
	if !ran {
		t.Errorf("late OnClose callback did not run")
	}
}

func TestConnectionAutoFlush(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	config := testConfig
	config.BatchAutoFlushSize = 1
	client, _ := connectedPair(t, dispatcher, config)

	// every serialized request is larger than one byte
	if err := client.EnqueueBatch(request("obj", "auto", nil)); err != nil {
		t.Fatalf("EnqueueBatch failed: %v", err)
	}
	if client.BatchQueue().Size() != 0 {
		t.Errorf("size counter is %d after auto-flush", client.BatchQueue().Size())
	}
	dispatcher.waitSeen(t, 1)
}

// TestConnectionRepliesWhileWorkersBusy checks that replies are read while all
// workers of an adopted connection are blocked and more requests are waiting
func TestConnectionRepliesWhileWorkersBusy(t *testing.T) {
	config := common.ConnectionConfig{MaxWorkersPerConn: 1}
	client, server := connectedPair(t, newRecordingDispatcher(), config)

	local := newRecordingDispatcher()
	defer close(local.release)
	if err := client.SetAdapter(local); err != nil {
		t.Fatalf("SetAdapter failed: %v", err)
	}

	// the first request takes the only worker, the second one waits for it
	for i := 0; i < 2; i++ {
		if err := server.SendOneway(request("obj", "block", nil)); err != nil {
			t.Fatalf("SendOneway failed: %v", err)
		}
	}
	time.Sleep(50 * time.Millisecond)

	reply, err := client.Invoke(context.Background(), request("obj", "echo", []byte("ping")), 2*time.Second)
	if err != nil {
		t.Fatalf("Invoke while workers are busy failed: %v", err)
	}
	if string(reply.Params) != "ping" {
		t.Errorf("reply params = %q, want ping", reply.Params)
	}
}

// TestConnectionCloseWithBlockedWrite checks that Close does not wait for
// writes to a peer that stopped reading
func TestConnectionCloseWithBlockedWrite(t *testing.T) {
	local, peer := net.Pipe()
	defer peer.Close()

	// the peer validates the connection and never reads
	go func() {
		_ = writeFrame(peer, frameValidateConnection, 0, nil)
	}()

	config := common.ConnectionConfig{MaxWorkersPerConn: 1, BatchAutoFlushSize: 1}
	client, err := Connect(local, "pipe", serializer.NewBinarySerializer(), config, time.Second)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	invokeErr := make(chan error, 1)
	go func() {
		_, err := client.Invoke(context.Background(), request("obj", "echo", []byte("data")), 0)
		invokeErr <- err
	}()
	batchErr := make(chan error, 1)
	go func() {
		batchErr <- client.EnqueueBatch(request("obj", "queued", nil))
	}()

	// give both writes time to block
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*closeTimeout {
		t.Errorf("Close took %s", elapsed)
	}
	if client.State() != transport.StateClosed {
		t.Errorf("state is %s after close", client.State())
	}

	var closedErr *common.ConnectionClosedError
	for name, ch := range map[string]chan error{"Invoke": invokeErr, "EnqueueBatch": batchErr} {
		select {
		case err := <-ch:
			if !errors.As(err, &closedErr) {
				t.Errorf("%s = %v, want ConnectionClosedError", name, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("%s still blocked after close", name)
		}
	}
}
