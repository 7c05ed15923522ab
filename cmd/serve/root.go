package serve

import (
	"errors"
	"fmt"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cmdUtil "github.com/zeroc-ice/ice-sub018/cmd/util"
	"github.com/zeroc-ice/ice-sub018/rpc/client"
	"github.com/zeroc-ice/ice-sub018/rpc/common"
	"github.com/zeroc-ice/ice-sub018/rpc/server"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

var (
	Logger = logger.GetLogger(common.LoggerRPC)

	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start an object adapter hosting the echo servant",
		Long:    `Start an object adapter hosting the echo servant under the identity "echo". The configuration can be set via command line flags or environment variables. The format of the environment variables is ICE_<flag> (e.g. ICE_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "tcp -h 0.0.0.0 -p 10000", cmdUtil.WrapString("The endpoints the adapter listens on, separated by ':' (e.g. 'tcp -h localhost -p 10000:unix -p /tmp/ice.sock')"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for writing a reply (0 disables the timeout)"))

	key = "batch-auto-flush-size"
	ServeCmd.PersistentFlags().Int(key, 1024, cmdUtil.WrapString("Auto flush threshold of batched callbacks sent over incoming connections (in KB)"))

	key = "identity"
	ServeCmd.PersistentFlags().String(key, "echo", cmdUtil.WrapString("The identity of the echo servant"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("If set, metrics are served in prometheus format on http://<metrics-endpoint>/metrics (e.g. localhost:9100)"))

	cmdUtil.SetupTransportFlags(ServeCmd)
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	endpoints, err := common.ParseEndpoints(viper.GetString("endpoint"))
	if err != nil {
		return err
	}
	if len(endpoints) == 0 {
		return errors.New("at least one endpoint is required")
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.Endpoints = endpoints
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.MaxWorkersPerConn = viper.GetInt("max-workers-per-conn")
	serveCmdConfig.BatchAutoFlushSizeKB = viper.GetInt("batch-auto-flush-size")
	serveCmdConfig.Transport = cmdUtil.GetTransportConfig()
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	common.SetLogScope("serve " + viper.GetString("identity"))
	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// run starts the adapter and blocks until the process is interrupted
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	id, err := common.ParseIdentity(viper.GetString("identity"))
	if err != nil {
		return err
	}

	// the communicator only creates the proxies for callbacks
	comm, err := client.NewCommunicator(common.ClientConfig{TimeoutSecond: int(serveCmdConfig.TimeoutSecond)}, s, cmdUtil.GetConnectors()...)
	if err != nil {
		return err
	}
	defer comm.Destroy()

	adapter := server.NewObjectAdapter("echo", *serveCmdConfig, s, cmdUtil.GetConnectors()...)
	if err := adapter.Add(id, NewEchoServant(comm)); err != nil {
		return err
	}
	if err := adapter.Activate(); err != nil {
		return err
	}
	defer adapter.Deactivate()

	fmt.Println(serveCmdConfig.String())
	for _, ep := range adapter.Endpoints() {
		fmt.Printf("serving %s:%s\n", id.String(), ep.String())
	}

	if addr := viper.GetString("metrics-endpoint"); addr != "" {
		go serveMetrics(addr)
	}

	// wait for a signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	Logger.Infof("Shutting down")
	return nil
}

// serveMetrics exposes all counters in prometheus format
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	Logger.Infof("Serving metrics on http://%s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		Logger.Errorf("Metrics endpoint failed: %v", err)
	}
}
