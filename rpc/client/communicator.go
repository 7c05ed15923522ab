package client

import (
	"context"
	"fmt"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/zeroc-ice/ice-sub018/rpc/common"
	"github.com/zeroc-ice/ice-sub018/rpc/serializer"
	"github.com/zeroc-ice/ice-sub018/rpc/transport"
	"github.com/zeroc-ice/ice-sub018/rpc/transport/base"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"strings"
	"sync/atomic"
)

var (
	Logger = logger.GetLogger(common.LoggerClient)
)

// Communicator owns everything proxies share: the configuration, the
// serializer, the implicit context and the table of outgoing connections.
// There is exactly one connection per endpoint list and communicator.
type Communicator struct {
	config     common.ClientConfig
	serializer serializer.IRPCSerializer
	connectors map[string]transport.IConnector

	// nil if the implicit context is disabled
	implicit *common.ImplicitContext

	// endpoint list (string form) -> connection
	connections *xsync.MapOf[string, *base.Connection]
	connecting  singleflight.Group

	destroyed atomic.Bool
}

// NewCommunicator creates a communicator. The connectors are looked up by the
// transport of each endpoint.
//
// Usage:
//
//	comm, err := client.NewCommunicator(config, serializer.NewBinarySerializer(), tcp.NewConnector())
//	hello, err := comm.StringToProxy("hello:tcp -h localhost -p 10000")
//	err = hello.Ping(ctx)
func NewCommunicator(config common.ClientConfig, s serializer.IRPCSerializer, connectors ...transport.IConnector) (*Communicator, error) {
	if len(connectors) == 0 {
		return nil, fmt.Errorf("at least one connector is required")
	}

	c := &Communicator{
		config:      config,
		serializer:  s,
		connectors:  make(map[string]transport.IConnector, len(connectors)),
		connections: xsync.NewMapOf[string, *base.Connection](),
	}
	for _, connector := range connectors {
		c.connectors[connector.GetName()] = connector
	}

	switch config.ImplicitContext {
	case common.ImplicitContextShared:
		c.implicit = common.NewImplicitContext()
	case common.ImplicitContextNone, "":
	default:
		return nil, fmt.Errorf("invalid implicit context %q, must be one of %s, %s",
			config.ImplicitContext, common.ImplicitContextShared, common.ImplicitContextNone)
	}

	Logger.Debugf("Created communicator %s", strings.ReplaceAll(config.String(), "\n", " "))
	return c, nil
}

// --------------------------------------------------------------------------
// Proxy factories
// --------------------------------------------------------------------------

// NewProxy creates a twoway proxy for id reachable through endpoints
func (c *Communicator) NewProxy(id common.Identity, endpoints ...common.Endpoint) Proxy {
	return Proxy{
		communicator: c,
		identity:     id,
		endpoints:    append([]common.Endpoint(nil), endpoints...),
		mode:         common.Twoway,
	}
}

// FixedProxy creates a twoway proxy that always uses conn. A servant uses it
// to call back over the connection a request arrived on.
func (c *Communicator) FixedProxy(conn transport.IConnection, id common.Identity) Proxy {
	return Proxy{
		communicator: c,
		identity:     id,
		mode:         common.Twoway,
		fixed:        conn,
	}
}

// StringToProxy parses a stringified proxy of the form
//
//	<identity> [-f <facet>] [-t|-o|-O|-d|-D] [:<endpoint>[:<endpoint>...]]
func (c *Communicator) StringToProxy(s string) (Proxy, error) {
	head, endpointsStr, hasEndpoints := strings.Cut(strings.TrimSpace(s), ":")

	fields := strings.Fields(head)
	if len(fields) == 0 {
		return Proxy{}, fmt.Errorf("invalid proxy %q: missing identity", s)
	}

	id, err := common.ParseIdentity(fields[0])
	if err != nil {
		return Proxy{}, fmt.Errorf("invalid proxy %q: %w", s, err)
	}
	p := c.NewProxy(id)

	for i := 1; i < len(fields); i++ {
		if fields[i] == "-f" {
			if i+1 >= len(fields) {
				return Proxy{}, fmt.Errorf("invalid proxy %q: -f requires a facet", s)
			}
			i++
			p.facet = fields[i]
			continue
		}
		mode, ok := common.ParseInvocationModeFlag(fields[i])
		if !ok {
			return Proxy{}, fmt.Errorf("invalid proxy %q: unknown option %s", s, fields[i])
		}
		p.mode = mode
	}

	if hasEndpoints {
		if p.endpoints, err = common.ParseEndpoints(endpointsStr); err != nil {
			return Proxy{}, fmt.Errorf("invalid proxy %q: %w", s, err)
		}
	}
	return p, nil
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// ImplicitContext returns the implicit context, nil if it is disabled
func (c *Communicator) ImplicitContext() *common.ImplicitContext {
	return c.implicit
}

// Config returns the configuration of the communicator
func (c *Communicator) Config() common.ClientConfig {
	return c.config
}

// Serializer returns the serializer used for all connections
func (c *Communicator) Serializer() serializer.IRPCSerializer {
	return c.serializer
}

// Connections returns all open outgoing connections
func (c *Communicator) Connections() []transport.IConnection {
	conns := make([]transport.IConnection, 0, c.connections.Size())
	c.connections.Range(func(_ string, conn *base.Connection) bool {
		conns = append(conns, conn)
		return true
	})
	return conns
}

// --------------------------------------------------------------------------
// Batch flushing and shutdown
// --------------------------------------------------------------------------

// FlushBatchRequests flushes the batch queues of all connections in parallel.
// The flags of the result hold only if they hold for every connection.
func (c *Communicator) FlushBatchRequests() (transport.FlushResult, error) {
	conns := c.Connections()
	results := make([]transport.FlushResult, len(conns))

	var g errgroup.Group
	for i, conn := range conns {
		i, conn := i, conn
		g.Go(func() error {
			var err error
			results[i], err = conn.FlushBatchRequests()
			return err
		})
	}
	err := g.Wait()

	completed, sent, sync := true, true, true
	for _, r := range results {
		completed = completed && r.IsCompleted()
		sent = sent && r.IsSent()
		sync = sync && r.SentSynchronously()
	}
	return transport.NewFlushResult(completed, sent, sync), err
}

// Destroy closes all connections. Queued batch requests are discarded and
// every later invocation fails with a CommunicatorDestroyedError.
func (c *Communicator) Destroy() {
	if !c.destroyed.CompareAndSwap(false, true) {
		return
	}

	var g errgroup.Group
	for _, conn := range c.Connections() {
		g.Go(conn.Close)
	}
	_ = g.Wait()

	Logger.Infof("Communicator destroyed")
}

// --------------------------------------------------------------------------
// Connection management
// --------------------------------------------------------------------------

// cachedConnection returns the active connection for endpoints without connecting.
// The result is a nil interface if there is none.
func (c *Communicator) cachedConnection(endpoints []common.Endpoint) transport.IConnection {
	conn, ok := c.connections.Load(common.EndpointsString(endpoints))
	if !ok || conn.State() != transport.StateActive {
		return nil
	}
	return conn
}

// getConnection returns the shared connection for endpoints, establishing it
// if needed. Concurrent callers for the same endpoints wait for a single
// establishment. The endpoints are tried in order.
func (c *Communicator) getConnection(ctx context.Context, proxy string, endpoints []common.Endpoint) (transport.IConnection, error) {
	if c.destroyed.Load() {
		return nil, &common.CommunicatorDestroyedError{}
	}
	if len(endpoints) == 0 {
		return nil, &common.NoEndpointError{Proxy: proxy}
	}
	if conn := c.cachedConnection(endpoints); conn != nil {
		return conn, nil
	}

	key := common.EndpointsString(endpoints)
	resultCh := c.connecting.DoChan(key, func() (interface{}, error) {
		if conn := c.cachedConnection(endpoints); conn != nil {
			return conn, nil
		}
		return c.establish(key, endpoints)
	})

	select {
	case result := <-resultCh:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.(transport.IConnection), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// establish connects to the first reachable endpoint and registers the connection under key
func (c *Communicator) establish(key string, endpoints []common.Endpoint) (transport.IConnection, error) {
	var lastErr error
	for _, ep := range endpoints {
		conn, err := c.connect(ep)
		if err != nil {
			Logger.Debugf("Failed to connect to %s: %v", ep, err)
			lastErr = err
			continue
		}

		c.connections.Store(key, conn)
		conn.OnClose(func(closed *base.Connection) {
			// only remove the entry if it still refers to this connection
			c.connections.Compute(key, func(current *base.Connection, loaded bool) (*base.Connection, bool) {
				return current, !loaded || current == closed
			})
		})

		// Destroy may have run while connecting
		if c.destroyed.Load() {
			conn.Close()
			return nil, &common.CommunicatorDestroyedError{}
		}
		return conn, nil
	}
	return nil, &common.NoEndpointError{Proxy: key, Err: lastErr}
}

// connect opens and validates a connection to a single endpoint
func (c *Communicator) connect(ep common.Endpoint) (*base.Connection, error) {
	connector, ok := c.connectors[ep.Transport]
	if !ok {
		return nil, fmt.Errorf("no connector for transport %q", ep.Transport)
	}

	timeout := c.config.ConnectTimeout()
	netConn, err := connector.Dial(ep, timeout)
	if err != nil {
		return nil, err
	}

	if err := connector.UpgradeConnection(netConn, c.config.Transport); err != nil {
		netConn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %w", ep, err)
	}

	return base.Connect(netConn, ep.String(), c.serializer, c.config.ConnectionConfig(), timeout)
}
