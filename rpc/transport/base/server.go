package base

import (
	"errors"
	"fmt"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/zeroc-ice/ice-sub018/rpc/common"
	"github.com/zeroc-ice/ice-sub018/rpc/serializer"
	"github.com/zeroc-ice/ice-sub018/rpc/transport"
	"net"
	"sync/atomic"
)

// -----------------------------------------------------------
// Listener
// -----------------------------------------------------------

// Listener accepts connections on one endpoint and attaches the dispatcher to each of them
type Listener struct {
	connector   transport.IConnector
	listener    net.Listener
	endpoint    common.Endpoint
	serializer  serializer.IRPCSerializer
	config      common.ServerConfig
	dispatcher  transport.IDispatcher
	connections *xsync.MapOf[*Connection, struct{}]
	closed      atomic.Bool
	done        chan struct{}
}

// Listen creates a listener for the endpoint. Connections are only accepted once Serve is called.
func Listen(connector transport.IConnector, endpoint common.Endpoint, s serializer.IRPCSerializer, config common.ServerConfig, dispatcher transport.IDispatcher) (*Listener, error) {
	listener, err := connector.Listen(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener: %w", err)
	}

	return &Listener{
		connector:   connector,
		listener:    listener,
		endpoint:    boundEndpoint(endpoint, listener.Addr()),
		serializer:  s,
		config:      config,
		dispatcher:  dispatcher,
		connections: xsync.NewMapOf[*Connection, struct{}](),
		done:        make(chan struct{}),
	}, nil
}

// Endpoint returns the endpoint the listener is bound to, with the port
// resolved if port 0 was requested
func (l *Listener) Endpoint() common.Endpoint {
	return l.endpoint
}

// Serve accepts connections until the listener is closed
func (l *Listener) Serve() {
	defer close(l.done)

	Logger.Infof("Starting %s listener on %s with %d workers per connection",
		l.connector.GetName(), l.endpoint, l.config.ConnectionConfig().MaxWorkersPerConn)

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if l.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}

		// Handle the connection in a goroutine
		go l.handleConnection(conn)
	}
}

// Close stops accepting and closes all connections accepted by this listener
func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := l.listener.Close()

	l.connections.Range(func(c *Connection, _ struct{}) bool {
		c.Close()
		return true
	})
	return err
}

// Done returns a channel that is closed when Serve returns
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Connections returns the currently open incoming connections
func (l *Listener) Connections() []*Connection {
	conns := make([]*Connection, 0, l.connections.Size())
	l.connections.Range(func(c *Connection, _ struct{}) bool {
		conns = append(conns, c)
		return true
	})
	return conns
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection sets up one accepted connection
func (l *Listener) handleConnection(conn net.Conn) {
	if err := l.connector.UpgradeConnection(conn, l.config.Transport); err != nil {
		Logger.Errorf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	c, err := Accept(conn, l.serializer, l.config.ConnectionConfig(), l.dispatcher)
	if err != nil {
		Logger.Errorf("%v", err)
		return
	}

	l.connections.Store(c, struct{}{})
	c.OnClose(func(c *Connection) {
		l.connections.Delete(c)
	})

	// the listener may have been closed while the connection was set up
	if l.closed.Load() {
		c.Close()
	}
}

// boundEndpoint returns ep with the port the listener actually bound
func boundEndpoint(ep common.Endpoint, addr net.Addr) common.Endpoint {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok && ep.Transport == common.TransportTCP {
		ep.Port = tcpAddr.Port
	}
	return ep
}
