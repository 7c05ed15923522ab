package client

import (
	"context"
	"fmt"
	"github.com/stretchr/testify/require"
	"github.com/zeroc-ice/ice-sub018/rpc/common"
	"github.com/zeroc-ice/ice-sub018/rpc/serializer"
	"github.com/zeroc-ice/ice-sub018/rpc/server"
	"github.com/zeroc-ice/ice-sub018/rpc/transport"
	"github.com/zeroc-ice/ice-sub018/rpc/transport/base"
	"github.com/zeroc-ice/ice-sub018/rpc/transport/tcp"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Test fixture
// --------------------------------------------------------------------------

// Operations of the test servant
var (
	opEcho     = Operation{Name: "echo", ReturnsValue: true}
	opRecord   = Operation{Name: "record"}
	opContext  = Operation{Name: "context", Mode: common.ModeNonmutating, ReturnsValue: true}
	opBlock    = Operation{Name: "block"}
	opFail     = Operation{Name: "fail"}
	opCallback = Operation{Name: "callback", ReturnsValue: true}
	opHello    = Operation{Name: "hello", ReturnsValue: true}
)

// testServer is an object adapter on loopback TCP hosting the identity "test"
type testServer struct {
	adapter *server.ObjectAdapter
	comm    *Communicator // used by the servant to call back

	mu       sync.Mutex
	recorded []string

	entered chan struct{}
	release chan struct{}
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	s := serializer.NewBinarySerializer()
	config := common.ServerConfig{Endpoints: []common.Endpoint{{Transport: common.TransportTCP, Host: "127.0.0.1"}}}

	ts := &testServer{
		adapter: server.NewObjectAdapter("test", config, s, tcp.NewConnector()),
		entered: make(chan struct{}, 10),
		release: make(chan struct{}),
	}

	comm, err := NewCommunicator(common.ClientConfig{}, s, tcp.NewConnector())
	require.NoError(t, err)
	ts.comm = comm

	servant := server.NewFuncServant("::Test::Servant", map[string]server.OperationFunc{
		opEcho.Name: func(c *server.Current, in *serializer.InputStream, out *serializer.OutputStream) error {
			msg, err := in.ReadString()
			if err != nil {
				return err
			}
			return out.WriteString(msg)
		},
		opRecord.Name: func(c *server.Current, in *serializer.InputStream, out *serializer.OutputStream) error {
			entry, err := in.ReadString()
			if err != nil {
				return err
			}
			ts.mu.Lock()
			ts.recorded = append(ts.recorded, entry)
			ts.mu.Unlock()
			return nil
		},
		opContext.Name: func(c *server.Current, in *serializer.InputStream, out *serializer.OutputStream) error {
			return out.WriteStringDict(c.Ctx)
		},
		opBlock.Name: func(c *server.Current, in *serializer.InputStream, out *serializer.OutputStream) error {
			ts.entered <- struct{}{}
			<-ts.release
			return nil
		},
		opFail.Name: func(c *server.Current, in *serializer.InputStream, out *serializer.OutputStream) error {
			return &common.UserError{Reason: "rejected", Payload: []byte{1, 2}}
		},
		opCallback.Name: func(c *server.Current, in *serializer.InputStream, out *serializer.OutputStream) error {
			name, err := in.ReadString()
			if err != nil {
				return err
			}
			receiver := ts.comm.FixedProxy(c.Con, common.Identity{Name: name})
			reply, err := receiver.Invoke(context.Background(), opHello, func(o *serializer.OutputStream) error {
				return o.WriteString("from server")
			})
			if err != nil {
				return err
			}
			msg, err := reply.ReadString()
			if err != nil {
				return err
			}
			return out.WriteString(msg)
		},
	})
	require.NoError(t, ts.adapter.Add(common.Identity{Name: "test"}, servant))
	require.NoError(t, ts.adapter.Activate())

	// cleanups run in reverse order: blocked servants are released first
	t.Cleanup(ts.adapter.Deactivate)
	t.Cleanup(comm.Destroy)
	t.Cleanup(func() { close(ts.release) })
	return ts
}

// proxyString returns the stringified proxy of the test object
func (ts *testServer) proxyString() string {
	return "test:" + common.EndpointsString(ts.adapter.Endpoints())
}

func (ts *testServer) records() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]string(nil), ts.recorded...)
}

func newTestCommunicator(t *testing.T, config common.ClientConfig) *Communicator {
	t.Helper()
	comm, err := NewCommunicator(config, serializer.NewBinarySerializer(), tcp.NewConnector())
	require.NoError(t, err)
	t.Cleanup(comm.Destroy)
	return comm
}

func writeString(s string) ParamWriter {
	return func(out *serializer.OutputStream) error {
		return out.WriteString(s)
	}
}

// --------------------------------------------------------------------------
// Twoway
// --------------------------------------------------------------------------

func TestTwowayInvocation(t *testing.T) {
	ts := startTestServer(t)
	comm := newTestCommunicator(t, common.ClientConfig{TimeoutSecond: 5})

	p, err := comm.StringToProxy(ts.proxyString())
	require.NoError(t, err)

	in, err := p.Invoke(context.Background(), opEcho, writeString("hello"))
	require.NoError(t, err)
	msg, err := in.ReadString()
	require.NoError(t, err)
	require.Equal(t, "hello", msg)

	require.NoError(t, p.Ping(context.Background()))

	ok, err := p.IsA(context.Background(), "::Test::Servant")
	require.NoError(t, err)
	require.True(t, ok)

	ids, err := p.Ids(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"::Test::Servant", server.ObjectTypeID}, ids)

	id, err := p.ID(context.Background())
	require.NoError(t, err)
	require.Equal(t, "::Test::Servant", id)

	cast, ok, err := CheckedCast(context.Background(), p.WithOneway(), "::Test::Servant")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, common.Oneway, cast.Mode())

	_, ok, err = CheckedCast(context.Background(), p, "::Test::Other")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestConcurrentTwowayInvocations(t *testing.T) {
	ts := startTestServer(t)
	comm := newTestCommunicator(t, common.ClientConfig{TimeoutSecond: 5})
	p, err := comm.StringToProxy(ts.proxyString())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			want := strings.Repeat("x", i)
			in, err := p.Invoke(context.Background(), opEcho, writeString(want))
			if err != nil {
				errs <- err
				return
			}
			if got, err := in.ReadString(); err != nil || got != want {
				errs <- fmt.Errorf("got reply %q, %v for request %q", got, err, want)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, comm.Connections(), 1)
}

func TestRemoteErrors(t *testing.T) {
	ts := startTestServer(t)
	comm := newTestCommunicator(t, common.ClientConfig{TimeoutSecond: 5})
	p, err := comm.StringToProxy(ts.proxyString())
	require.NoError(t, err)

	_, err = p.Invoke(context.Background(), opFail, nil)
	var userErr *common.UserError
	require.ErrorAs(t, err, &userErr)
	require.Equal(t, "rejected", userErr.Reason)
	require.Equal(t, []byte{1, 2}, userErr.Payload)

	var notExist *common.ObjectNotExistError
	err = p.WithIdentity(common.Identity{Name: "nobody"}).Ping(context.Background())
	require.ErrorAs(t, err, &notExist)
	require.Equal(t, "nobody", notExist.Identity.Name)

	var facetErr *common.FacetNotExistError
	require.ErrorAs(t, p.WithFacet("admin").Ping(context.Background()), &facetErr)

	var opErr *common.OperationNotExistError
	_, err = p.Invoke(context.Background(), Operation{Name: "dance"}, nil)
	require.ErrorAs(t, err, &opErr)
}

// --------------------------------------------------------------------------
// Local checks
// --------------------------------------------------------------------------

func TestModeGuard(t *testing.T) {
	ts := startTestServer(t)
	comm := newTestCommunicator(t, common.ClientConfig{})
	p, err := comm.StringToProxy(ts.proxyString())
	require.NoError(t, err)

	proxies := map[string]Proxy{
		"oneway":         p.WithOneway(),
		"batch oneway":   p.WithBatchOneway(),
		"datagram":       p.WithDatagram(),
		"batch datagram": p.WithBatchDatagram(),
	}
	for name, proxy := range proxies {
		t.Run(name, func(t *testing.T) {
			var twowayOnly *common.TwowayOnlyError
			_, err := proxy.Invoke(context.Background(), opEcho, writeString("x"))
			require.ErrorAs(t, err, &twowayOnly)
			require.Equal(t, opEcho.Name, twowayOnly.Operation)

			_, err = proxy.Ids(context.Background())
			require.ErrorAs(t, err, &twowayOnly)
		})
	}

	// nothing reached the transport
	require.Empty(t, comm.Connections())
}

func TestMarshalErrorBeforeSend(t *testing.T) {
	ts := startTestServer(t)
	comm := newTestCommunicator(t, common.ClientConfig{})
	p, err := comm.StringToProxy(ts.proxyString())
	require.NoError(t, err)

	_, err = p.Invoke(context.Background(), opRecord, func(out *serializer.OutputStream) error {
		return out.WriteOctet(300)
	})
	var marshalErr *common.MarshalError
	require.ErrorAs(t, err, &marshalErr)
	require.Empty(t, comm.Connections())

	// the same call with a valid argument succeeds
	_, err = p.Invoke(context.Background(), opRecord, writeString("ok"))
	require.NoError(t, err)
	require.Equal(t, []string{"ok"}, ts.records())
}

func TestIllegalIdentity(t *testing.T) {
	comm := newTestCommunicator(t, common.ClientConfig{})
	p := comm.NewProxy(common.Identity{Category: "only"}, common.Endpoint{Transport: common.TransportTCP, Host: "127.0.0.1", Port: 1})

	var illegal *common.IllegalIdentityError
	require.ErrorAs(t, p.Ping(context.Background()), &illegal)
	require.Empty(t, comm.Connections())
}

// --------------------------------------------------------------------------
// Connections
// --------------------------------------------------------------------------

func TestConnectionSharing(t *testing.T) {
	ts := startTestServer(t)
	comm := newTestCommunicator(t, common.ClientConfig{})

	p1, err := comm.StringToProxy(ts.proxyString())
	require.NoError(t, err)
	p2 := comm.NewProxy(common.Identity{Name: "other"}, ts.adapter.Endpoints()...)

	require.Nil(t, p1.GetCachedConnection())

	c1, err := p1.GetConnection(context.Background())
	require.NoError(t, err)
	c2, err := p2.WithOneway().GetConnection(context.Background())
	require.NoError(t, err)
	require.True(t, c1 == c2, "proxies to the same endpoints must share the connection")
	require.True(t, p2.GetCachedConnection() == c1)
}

func TestConcurrentConnect(t *testing.T) {
	ts := startTestServer(t)
	comm := newTestCommunicator(t, common.ClientConfig{})
	p, err := comm.StringToProxy(ts.proxyString())
	require.NoError(t, err)

	conns := make([]transport.IConnection, 20)
	var wg sync.WaitGroup
	for i := range conns {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			conns[i], _ = p.GetConnection(context.Background())
		}()
	}
	wg.Wait()

	for _, conn := range conns {
		require.NotNil(t, conn)
		require.True(t, conn == conns[0])
	}
	require.Len(t, comm.Connections(), 1)
}

func TestNoEndpoint(t *testing.T) {
	comm := newTestCommunicator(t, common.ClientConfig{ConnectTimeoutSecond: 2})

	var noEndpoint *common.NoEndpointError
	err := comm.NewProxy(common.Identity{Name: "test"}).Ping(context.Background())
	require.ErrorAs(t, err, &noEndpoint)

	// a port nobody listens on
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	p := comm.NewProxy(common.Identity{Name: "test"}, common.Endpoint{Transport: common.TransportTCP, Host: "127.0.0.1", Port: port})
	_, err = p.GetConnection(context.Background())
	require.ErrorAs(t, err, &noEndpoint)
	require.Error(t, noEndpoint.Err)
	require.Empty(t, comm.Connections())
}

func TestFallbackToSecondEndpoint(t *testing.T) {
	ts := startTestServer(t)
	comm := newTestCommunicator(t, common.ClientConfig{ConnectTimeoutSecond: 2})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	dead := common.Endpoint{Transport: common.TransportTCP, Host: "127.0.0.1", Port: port}
	p := comm.NewProxy(common.Identity{Name: "test"}, append([]common.Endpoint{dead}, ts.adapter.Endpoints()...)...)
	require.NoError(t, p.Ping(context.Background()))
}

func TestCloseCancelsOutstandingInvocations(t *testing.T) {
	ts := startTestServer(t)
	comm := newTestCommunicator(t, common.ClientConfig{})
	p, err := comm.StringToProxy(ts.proxyString())
	require.NoError(t, err)

	conn, err := p.GetConnection(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Invoke(context.Background(), opBlock, nil)
		errCh <- err
	}()

	select {
	case <-ts.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("request did not reach the servant")
	}
	require.NoError(t, conn.Close())

	select {
	case err := <-errCh:
		var closed *common.ConnectionClosedError
		require.ErrorAs(t, err, &closed)
	case <-time.After(5 * time.Second):
		t.Fatal("invocation was not cancelled by the close")
	}

	// the next invocation establishes a new connection
	require.NoError(t, p.Ping(context.Background()))
	newConn := p.GetCachedConnection()
	require.NotNil(t, newConn)
	require.False(t, newConn == conn)
	require.Equal(t, transport.StateClosed, conn.State())
}

func TestDestroy(t *testing.T) {
	ts := startTestServer(t)
	comm, err := NewCommunicator(common.ClientConfig{}, serializer.NewBinarySerializer(), tcp.NewConnector())
	require.NoError(t, err)

	p, err := comm.StringToProxy(ts.proxyString())
	require.NoError(t, err)
	conn, err := p.GetConnection(context.Background())
	require.NoError(t, err)

	comm.Destroy()
	comm.Destroy()

	require.Equal(t, transport.StateClosed, conn.State())
	var destroyed *common.CommunicatorDestroyedError
	require.ErrorAs(t, p.Ping(context.Background()), &destroyed)
	_, err = p.GetConnection(context.Background())
	require.ErrorAs(t, err, &destroyed)
}

// --------------------------------------------------------------------------
// Timeouts
// --------------------------------------------------------------------------

func TestInvocationTimeout(t *testing.T) {
	ts := startTestServer(t)
	comm := newTestCommunicator(t, common.ClientConfig{TimeoutSecond: 30})
	p, err := comm.StringToProxy(ts.proxyString())
	require.NoError(t, err)

	var timeoutErr *common.TimeoutError

	_, err = p.WithInvocationTimeout(100*time.Millisecond).Invoke(context.Background(), opBlock, nil)
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, 100*time.Millisecond, timeoutErr.Timeout)

	// the call option wins over the proxy timeout
	_, err = p.WithInvocationTimeout(time.Minute).Invoke(context.Background(), opBlock, nil, WithTimeout(50*time.Millisecond))
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, 50*time.Millisecond, timeoutErr.Timeout)

	// the connection stays usable after a timeout
	require.NoError(t, p.Ping(context.Background()))
}

func TestInvocationContextCancel(t *testing.T) {
	ts := startTestServer(t)
	comm := newTestCommunicator(t, common.ClientConfig{})
	p, err := comm.StringToProxy(ts.proxyString())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Invoke(ctx, opBlock, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// --------------------------------------------------------------------------
// Context propagation
// --------------------------------------------------------------------------

func TestContextPrecedence(t *testing.T) {
	ts := startTestServer(t)
	comm := newTestCommunicator(t, common.ClientConfig{ImplicitContext: common.ImplicitContextShared})
	comm.ImplicitContext().Set(common.Context{"a": "1", "c": "1"})

	p, err := comm.StringToProxy(ts.proxyString())
	require.NoError(t, err)
	p = p.WithContext(common.Context{"a": "2", "b": "2"})

	in, err := p.Invoke(context.Background(), opContext, nil, WithCallContext(common.Context{"b": "3"}))
	require.NoError(t, err)
	got, err := in.ReadStringDict()
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a": "2", "b": "3", "c": "1"}, got)

	// the sources are not modified by the merge
	require.Equal(t, common.Context{"a": "1", "c": "1"}, comm.ImplicitContext().Get())
	require.Equal(t, common.Context{"a": "2", "b": "2"}, p.Context())

	// implicit context changes apply to later invocations
	comm.ImplicitContext().Put("d", "4")
	in, err = p.Invoke(context.Background(), opContext, nil)
	require.NoError(t, err)
	got, err = in.ReadStringDict()
	require.NoError(t, err)
	require.Equal(t, map[string]string{"a": "2", "b": "2", "c": "1", "d": "4"}, got)
}

func TestImplicitContextDisabled(t *testing.T) {
	ts := startTestServer(t)
	comm := newTestCommunicator(t, common.ClientConfig{ImplicitContext: common.ImplicitContextNone})
	require.Nil(t, comm.ImplicitContext())

	p, err := comm.StringToProxy(ts.proxyString())
	require.NoError(t, err)
	in, err := p.Invoke(context.Background(), opContext, nil, WithCallContext(common.Context{"k": "v"}))
	require.NoError(t, err)
	got, err := in.ReadStringDict()
	require.NoError(t, err)
	require.Equal(t, map[string]string{"k": "v"}, got)

	_, err = NewCommunicator(common.ClientConfig{ImplicitContext: "per-thread"}, serializer.NewBinarySerializer(), tcp.NewConnector())
	require.Error(t, err)
}

// --------------------------------------------------------------------------
// Oneway and batch
// --------------------------------------------------------------------------

func TestOnewayAndDatagram(t *testing.T) {
	ts := startTestServer(t)
	comm := newTestCommunicator(t, common.ClientConfig{})
	p, err := comm.StringToProxy(ts.proxyString())
	require.NoError(t, err)

	in, err := p.WithOneway().Invoke(context.Background(), opRecord, writeString("oneway"))
	require.NoError(t, err)
	require.Nil(t, in)
	require.NoError(t, p.WithDatagram().Ping(context.Background()))
	_, err = p.WithDatagram().Invoke(context.Background(), opRecord, writeString("datagram"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(ts.records()) == 2 }, 5*time.Second, 10*time.Millisecond)
	require.ElementsMatch(t, []string{"oneway", "datagram"}, ts.records())
}

func TestBatchOnewayFlush(t *testing.T) {
	ts := startTestServer(t)
	comm := newTestCommunicator(t, common.ClientConfig{})
	p, err := comm.StringToProxy(ts.proxyString())
	require.NoError(t, err)
	batch := p.WithBatchOneway()

	for _, entry := range []string{"1", "2", "3"} {
		in, err := batch.Invoke(context.Background(), opRecord, writeString(entry))
		require.NoError(t, err)
		require.Nil(t, in)
	}
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, ts.records(), "batch requests must not be sent before the flush")

	result, err := batch.FlushBatchRequests()
	require.NoError(t, err)
	require.True(t, result.IsCompleted())
	require.True(t, result.IsSent())

	require.Eventually(t, func() bool { return len(ts.records()) == 3 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"1", "2", "3"}, ts.records())
}

func TestEmptyFlush(t *testing.T) {
	ts := startTestServer(t)
	comm := newTestCommunicator(t, common.ClientConfig{})
	p, err := comm.StringToProxy(ts.proxyString())
	require.NoError(t, err)

	check := func(result transport.FlushResult, err error) {
		t.Helper()
		require.NoError(t, err)
		require.True(t, result.IsCompleted())
		require.True(t, result.IsSent())
		require.True(t, result.SentSynchronously())
	}

	// no connection yet
	check(p.WithBatchOneway().FlushBatchRequests())
	check(comm.FlushBatchRequests())

	conn, err := p.GetConnection(context.Background())
	require.NoError(t, err)
	check(conn.FlushBatchRequests())
	check(p.FlushBatchRequests())
	check(comm.FlushBatchRequests())
}

func TestBatchAutoFlush(t *testing.T) {
	ts := startTestServer(t)
	comm := newTestCommunicator(t, common.ClientConfig{BatchAutoFlushSizeKB: 1})
	p, err := comm.StringToProxy(ts.proxyString())
	require.NoError(t, err)
	batch := p.WithBatchOneway()

	conn, err := batch.GetConnection(context.Background())
	require.NoError(t, err)
	queue := conn.(*base.Connection).BatchQueue()

	payload := strings.Repeat("x", 300)
	sent := 0
	for i := 0; i < 10; i++ {
		_, err := batch.Invoke(context.Background(), opRecord, writeString(payload))
		require.NoError(t, err)
		sent++
		if queue.Len() == 0 {
			break
		}
		require.LessOrEqual(t, queue.Size(), 1024, "queue grew past the threshold without a flush")
	}

	require.Zero(t, queue.Size())
	require.Greater(t, sent, 1)
	require.LessOrEqual(t, sent, 4)
	require.Eventually(t, func() bool { return len(ts.records()) == sent }, 5*time.Second, 10*time.Millisecond)
}

func TestBatchPoisonImmunity(t *testing.T) {
	ts := startTestServer(t)
	comm := newTestCommunicator(t, common.ClientConfig{})
	p, err := comm.StringToProxy(ts.proxyString())
	require.NoError(t, err)
	batch := p.WithBatchOneway()

	_, err = batch.Invoke(context.Background(), opRecord, writeString("before"))
	require.NoError(t, err)
	_, err = batch.WithIdentity(common.Identity{Name: "missing"}).Invoke(context.Background(), opRecord, writeString("lost"))
	require.NoError(t, err)
	_, err = batch.Invoke(context.Background(), opRecord, writeString("after"))
	require.NoError(t, err)

	_, err = comm.FlushBatchRequests()
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(ts.records()) == 2 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"before", "after"}, ts.records())

	// the connection survived the failed request
	require.NoError(t, p.Ping(context.Background()))
}

func TestBatchDiscardedOnClose(t *testing.T) {
	ts := startTestServer(t)
	comm := newTestCommunicator(t, common.ClientConfig{})
	p, err := comm.StringToProxy(ts.proxyString())
	require.NoError(t, err)
	batch := p.WithBatchOneway()

	_, err = batch.Invoke(context.Background(), opRecord, writeString("discarded"))
	require.NoError(t, err)

	conn := batch.GetCachedConnection()
	require.NotNil(t, conn)
	require.NoError(t, conn.Close())

	var closed *common.ConnectionClosedError
	require.ErrorAs(t, conn.EnqueueBatch(common.NewRequest(common.Identity{Name: "test"}, "", opRecord.Name, common.ModeNormal, nil, nil)), &closed)

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, ts.records())
}

// --------------------------------------------------------------------------
// Bidirectional connections
// --------------------------------------------------------------------------

func TestBidirectionalCallback(t *testing.T) {
	ts := startTestServer(t)
	comm := newTestCommunicator(t, common.ClientConfig{TimeoutSecond: 5})
	p, err := comm.StringToProxy(ts.proxyString())
	require.NoError(t, err)

	conn, err := p.GetConnection(context.Background())
	require.NoError(t, err)

	// without an adapter the callback is rejected by the client
	var notExist *common.ObjectNotExistError
	_, err = p.Invoke(context.Background(), opCallback, writeString("receiver"))
	require.ErrorAs(t, err, &notExist)

	type callback struct {
		msg      string
		sameConn bool
	}
	received := make(chan callback, 1)
	callbacks := server.NewObjectAdapter("callbacks", common.ServerConfig{}, comm.Serializer())
	require.NoError(t, callbacks.Add(common.Identity{Name: "receiver"}, server.NewFuncServant("::Test::Receiver", map[string]server.OperationFunc{
		opHello.Name: func(c *server.Current, in *serializer.InputStream, out *serializer.OutputStream) error {
			msg, err := in.ReadString()
			if err != nil {
				return err
			}
			received <- callback{msg: msg, sameConn: c.Con == conn}
			return out.WriteString("ack " + msg)
		},
	})))

	require.NoError(t, conn.SetAdapter(callbacks))
	require.NoError(t, conn.SetAdapter(callbacks))

	var alreadySet *common.AdapterAlreadySetError
	other := server.NewObjectAdapter("other", common.ServerConfig{}, comm.Serializer())
	require.ErrorAs(t, conn.SetAdapter(other), &alreadySet)
	require.True(t, conn.Adapter() == transport.IDispatcher(callbacks))

	in, err := p.Invoke(context.Background(), opCallback, writeString("receiver"))
	require.NoError(t, err)
	reply, err := in.ReadString()
	require.NoError(t, err)
	require.Equal(t, "ack from server", reply)
	got := <-received
	require.Equal(t, "from server", got.msg)
	require.True(t, got.sameConn, "callback must arrive on the outgoing connection")

	// the client still has exactly one connection
	require.Len(t, comm.Connections(), 1)
}

func TestBidirectionalCallbacksExceedWorkers(t *testing.T) {
	ts := startTestServer(t)
	comm := newTestCommunicator(t, common.ClientConfig{TimeoutSecond: 10})
	p, err := comm.StringToProxy(ts.proxyString())
	require.NoError(t, err)

	conn, err := p.GetConnection(context.Background())
	require.NoError(t, err)

	callbacks := server.NewObjectAdapter("callbacks", common.ServerConfig{}, comm.Serializer())
	require.NoError(t, callbacks.Add(common.Identity{Name: "receiver"}, server.NewFuncServant("::Test::Receiver", map[string]server.OperationFunc{
		opHello.Name: func(c *server.Current, in *serializer.InputStream, out *serializer.OutputStream) error {
			msg, err := in.ReadString()
			if err != nil {
				return err
			}
			return out.WriteString("ack " + msg)
		},
	})))
	require.NoError(t, conn.SetAdapter(callbacks))

	// every dispatch on the server holds a worker until its callback returns
	calls := 2*common.DefaultMaxWorkersPerConn + 8
	errs := make(chan error, calls)
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in, err := p.Invoke(context.Background(), opCallback, writeString("receiver"))
			if err == nil {
				var reply string
				if reply, err = in.ReadString(); err == nil && reply != "ack from server" {
					err = fmt.Errorf("unexpected reply %q", reply)
				}
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, comm.Connections(), 1)
}
