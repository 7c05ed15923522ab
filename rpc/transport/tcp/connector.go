package tcp

import (
	"fmt"
	"github.com/zeroc-ice/ice-sub018/rpc/common"
	"github.com/zeroc-ice/ice-sub018/rpc/transport"
	"net"
	"time"
)

// connector implements the transport.IConnector interface for TCP sockets
type connector struct{}

// NewConnector creates the TCP connector
func NewConnector() transport.IConnector {
	return &connector{}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IConnector)
// --------------------------------------------------------------------------

func (c *connector) GetName() string {
	return common.TransportTCP
}

func (c *connector) Dial(endpoint common.Endpoint, timeout time.Duration) (net.Conn, error) {
	if endpoint.Transport != common.TransportTCP {
		return nil, fmt.Errorf("tcp connector can not dial %s endpoint", endpoint.Transport)
	}
	return net.DialTimeout("tcp", endpoint.Address(), timeout)
}

func (c *connector) Listen(endpoint common.Endpoint) (net.Listener, error) {
	if endpoint.Transport != common.TransportTCP {
		return nil, fmt.Errorf("tcp connector can not listen on %s endpoint", endpoint.Transport)
	}

	// Create TCP socket listener
	listener, err := net.Listen("tcp", endpoint.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP socket: %w", err)
	}

	return listener, nil
}

// UpgradeConnection applies the TCPConf and SocketConf settings to a TCP connection
func (c *connector) UpgradeConnection(conn net.Conn, config common.TransportConfig) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}

	// Disable Nagle's algorithm (TCPNoDelay) if configured
	if err := tcpConn.SetNoDelay(config.TCPNoDelay); err != nil {
		return err
	}

	// Set socket buffer sizes if configured
	if config.WriteBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(config.WriteBufferSize); err != nil {
			return err
		}
	}
	if config.ReadBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(config.ReadBufferSize); err != nil {
			return err
		}
	}

	// Enable TCP keep-alive if configured
	if config.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		keepAlivePeriod := time.Duration(config.TCPKeepAliveSec) * time.Second
		if err := tcpConn.SetKeepAlivePeriod(keepAlivePeriod); err != nil {
			return err
		}
	}

	// Linger of 0 would reset the connection on close and lose the close frame,
	// so only positive values are applied
	if config.TCPLingerSec > 0 {
		if err := tcpConn.SetLinger(config.TCPLingerSec); err != nil {
			return err
		}
	}

	return nil
}
