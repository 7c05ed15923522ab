package unix

import (
	"fmt"
	"github.com/zeroc-ice/ice-sub018/rpc/common"
	"github.com/zeroc-ice/ice-sub018/rpc/transport"
	"net"
	"os"
	"time"
)

// connector implements the transport.IConnector interface for Unix sockets
type connector struct{}

// NewConnector creates the Unix socket connector
func NewConnector() transport.IConnector {
	return &connector{}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IConnector)
// --------------------------------------------------------------------------

func (c *connector) GetName() string {
	return common.TransportUnix
}

func (c *connector) Dial(endpoint common.Endpoint, timeout time.Duration) (net.Conn, error) {
	if endpoint.Transport != common.TransportUnix {
		return nil, fmt.Errorf("unix connector can not dial %s endpoint", endpoint.Transport)
	}
	return net.DialTimeout("unix", endpoint.Path, timeout)
}

func (c *connector) Listen(endpoint common.Endpoint) (net.Listener, error) {
	if endpoint.Transport != common.TransportUnix {
		return nil, fmt.Errorf("unix connector can not listen on %s endpoint", endpoint.Transport)
	}
	socketPath := endpoint.Path

	// Remove existing socket file if it exists
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}

	// Create Unix socket listener
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create Unix socket: %w", err)
	}

	return listener, nil
}

// UpgradeConnection applies the SocketConf buffer sizes, TCP options do not apply
func (c *connector) UpgradeConnection(conn net.Conn, config common.TransportConfig) error {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}

	if config.WriteBufferSize > 0 {
		if err := unixConn.SetWriteBuffer(config.WriteBufferSize); err != nil {
			return err
		}
	}
	if config.ReadBufferSize > 0 {
		if err := unixConn.SetReadBuffer(config.ReadBufferSize); err != nil {
			return err
		}
	}
	return nil
}
