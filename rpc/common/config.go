package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when a configuration value is left at zero
const (
	DefaultBatchAutoFlushSize = 1024 * 1024 // 1 MB
	DefaultConnectTimeout     = 10 * time.Second
	DefaultMaxWorkersPerConn  = 16
)

// Values for ClientConfig.ImplicitContext
const (
	ImplicitContextShared = "shared"
	ImplicitContextNone   = "none"
)

// --------------------------------------------------------------------------
// Transport configuration structs
// --------------------------------------------------------------------------

// SocketConf holds socket buffer settings shared by all stream transports
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds TCP specific socket settings
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// TransportConfig bundles the socket settings applied to every connection
type TransportConfig struct {
	SocketConf
	TCPConf
}

// --------------------------------------------------------------------------
// Connection configuration
// --------------------------------------------------------------------------

// ConnectionConfig holds the settings a single connection needs.
// It is derived from the client or the server configuration.
type ConnectionConfig struct {
	// BatchAutoFlushSize is the queue size in bytes above which batched
	// requests are flushed automatically. Zero or less disables auto-flush.
	BatchAutoFlushSize int

	// MaxWorkersPerConn limits concurrent dispatches of inbound requests
	MaxWorkersPerConn int

	// WriteTimeout bounds a single frame write, zero means no deadline
	WriteTimeout time.Duration
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig configures a communicator
type ClientConfig struct {
	// TimeoutSecond is the default invocation timeout of twoway calls, zero means no timeout
	TimeoutSecond int
	// ConnectTimeoutSecond bounds connection establishment including validation
	ConnectTimeoutSecond int
	// BatchAutoFlushSizeKB is the auto-flush threshold of each connection's batch queue
	BatchAutoFlushSizeKB int
	// ImplicitContext is either "shared" or "none"
	ImplicitContext string
	// MaxWorkersPerConn limits dispatches of requests sent by the peer (bidirectional use)
	MaxWorkersPerConn int

	Transport TransportConfig

	// Logging configuration
	LogLevel string
}

// InvocationTimeout returns the configured default invocation timeout
func (c *ClientConfig) InvocationTimeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// ConnectTimeout returns the connect timeout, falling back to the default
func (c *ClientConfig) ConnectTimeout() time.Duration {
	if c.ConnectTimeoutSecond <= 0 {
		return DefaultConnectTimeout
	}
	return time.Duration(c.ConnectTimeoutSecond) * time.Second
}

// ConnectionConfig derives the per connection settings
func (c *ClientConfig) ConnectionConfig() ConnectionConfig {
	conf := ConnectionConfig{
		BatchAutoFlushSize: c.BatchAutoFlushSizeKB * 1024,
		MaxWorkersPerConn:  c.MaxWorkersPerConn,
		WriteTimeout:       c.InvocationTimeout(),
	}
	if c.BatchAutoFlushSizeKB == 0 {
		conf.BatchAutoFlushSize = DefaultBatchAutoFlushSize
	}
	if conf.MaxWorkersPerConn <= 0 {
		conf.MaxWorkersPerConn = DefaultMaxWorkersPerConn
	}
	return conf
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Invocation Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Connect Timeout", c.ConnectTimeout().String())
	addField("Batch Auto Flush", fmt.Sprintf("%d KB", c.ConnectionConfig().BatchAutoFlushSize/1024))
	addField("Implicit Context", c.ImplicitContext)
	addField("Workers Per Conn", strconv.Itoa(c.ConnectionConfig().MaxWorkersPerConn))

	addTransportFields(addSection, addField, c.Transport)

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig configures an object adapter
type ServerConfig struct {
	// Endpoints the adapter listens on
	Endpoints []Endpoint

	// TimeoutSecond bounds writes of replies, zero means no deadline
	TimeoutSecond int64

	// MaxWorkersPerConn limits concurrent dispatches per incoming connection
	MaxWorkersPerConn int

	// BatchAutoFlushSizeKB applies to requests sent back over incoming connections
	BatchAutoFlushSizeKB int

	Transport TransportConfig

	// Logging configuration
	LogLevel string
}

// ConnectionConfig derives the per connection settings
func (c *ServerConfig) ConnectionConfig() ConnectionConfig {
	conf := ConnectionConfig{
		BatchAutoFlushSize: c.BatchAutoFlushSizeKB * 1024,
		MaxWorkersPerConn:  c.MaxWorkersPerConn,
		WriteTimeout:       time.Duration(c.TimeoutSecond) * time.Second,
	}
	if c.BatchAutoFlushSizeKB == 0 {
		conf.BatchAutoFlushSize = DefaultBatchAutoFlushSize
	}
	if conf.MaxWorkersPerConn <= 0 {
		conf.MaxWorkersPerConn = DefaultMaxWorkersPerConn
	}
	return conf
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("Object Adapter")
	for i, ep := range c.Endpoints {
		addField(fmt.Sprintf("Endpoint %d", i), ep.String())
	}
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Workers Per Conn", strconv.Itoa(c.ConnectionConfig().MaxWorkersPerConn))

	addTransportFields(addSection, addField, c.Transport)

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// addTransportFields prints the socket settings shared by client and server
func addTransportFields(addSection func(string), addField func(string, string), t TransportConfig) {
	addSection("Transport")
	addField("Write Buffer", fmt.Sprintf("%d bytes", t.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", t.ReadBufferSize))
	addField("TCP No Delay", strconv.FormatBool(t.TCPNoDelay))
	addField("TCP Keep Alive", fmt.Sprintf("%d sec", t.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", t.TCPLingerSec))
}
