package util

import (
	"fmt"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zeroc-ice/ice-sub018/rpc/common"
	"github.com/zeroc-ice/ice-sub018/rpc/serializer"
	"github.com/zeroc-ice/ice-sub018/rpc/transport"
	"github.com/zeroc-ice/ice-sub018/rpc/transport/tcp"
	"github.com/zeroc-ice/ice-sub018/rpc/transport/unix"
	"strings"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables read by the cli
	EnvPrefix = "ice"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupTransportFlags adds the socket options shared by client and server commands
func SetupTransportFlags(cmd *cobra.Command) {
	key := "transport-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket write buffer (in KB, 0 keeps the system default)"))

	key = "transport-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket read buffer (in KB, 0 keeps the system default)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (tcp endpoints only)"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval (in seconds, tcp endpoints only)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, 0, WrapString("The linger time on close (in seconds, tcp endpoints only)"))

	key = "max-workers-per-conn"
	cmd.PersistentFlags().Int(key, common.DefaultMaxWorkersPerConn, WrapString("How many requests sent by the peer are dispatched concurrently per connection"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// SetupClientFlags adds the communicator flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The default invocation timeout of twoway calls in seconds (0 disables the timeout)"))

	key = "connect-timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout for establishing a connection in seconds"))

	key = "batch-auto-flush-size"
	cmd.PersistentFlags().Int(key, 1024, WrapString("Batched requests of a connection are sent automatically once their size exceeds this value (in KB, a negative value disables auto flush)"))

	key = "implicit-context"
	cmd.PersistentFlags().String(key, common.ImplicitContextShared, WrapString("Whether the communicator has an implicit context (shared, none)"))

	SetupTransportFlags(cmd)
}

// InitConfig loads the env files and makes viper read environment variables
// of the form ICE_<FLAG> (e.g. ICE_BATCH_AUTO_FLUSH_SIZE=64)
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetTransportConfig reads the socket options from viper
func GetTransportConfig() common.TransportConfig {
	return common.TransportConfig{
		SocketConf: common.SocketConf{
			WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
			ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
		},
		TCPConf: common.TCPConf{
			TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
			TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
		},
	}
}

// GetClientConfig reads the communicator configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		TimeoutSecond:        viper.GetInt("timeout"),
		ConnectTimeoutSecond: viper.GetInt("connect-timeout"),
		BatchAutoFlushSizeKB: viper.GetInt("batch-auto-flush-size"),
		ImplicitContext:      viper.GetString("implicit-context"),
		MaxWorkersPerConn:    viper.GetInt("max-workers-per-conn"),
		Transport:            GetTransportConfig(),
		LogLevel:             viper.GetString("log-level"),
	}
}

// GetSerializer creates the serializer selected with --serializer
func GetSerializer() (serializer.IRPCSerializer, error) {
	return serializer.ByName(viper.GetString("serializer"))
}

// GetConnectors returns a connector for every supported transport.
// The transport of a connection is chosen by its endpoint.
func GetConnectors() []transport.IConnector {
	return []transport.IConnector{tcp.NewConnector(), unix.NewConnector()}
}

// ParseContext parses a context of the form key=value,key=value
func ParseContext(s string) (common.Context, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	ctx := common.Context{}
	for _, entry := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid context entry %q (expected key=value)", entry)
		}
		ctx[key] = strings.TrimSpace(value)
	}
	return ctx, nil
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
