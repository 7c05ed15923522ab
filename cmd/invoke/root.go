package invoke

import (
	"github.com/spf13/cobra"
	"github.com/zeroc-ice/ice-sub018/cmd/util"
	"github.com/zeroc-ice/ice-sub018/rpc/client"
	"github.com/zeroc-ice/ice-sub018/rpc/common"
)

var (
	communicator *client.Communicator

	// Commands holds all commands that invoke remote objects
	Commands = []*cobra.Command{callCmd, perfTestCmd}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	for _, cmd := range Commands {
		cmd.PersistentPreRunE = setupCommunicator
		cmd.PersistentPostRun = destroyCommunicator
		util.SetupClientFlags(cmd)
	}
}

// setupCommunicator creates the communicator shared by all invocations of a command
func setupCommunicator(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	config := util.GetClientConfig()
	common.SetLogScope(cmd.Name())
	if err := common.InitLoggers(config.LogLevel); err != nil {
		return err
	}

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	communicator, err = client.NewCommunicator(*config, s, util.GetConnectors()...)
	return err
}

// destroyCommunicator closes all connections once the command finished
func destroyCommunicator(_ *cobra.Command, _ []string) {
	if communicator != nil {
		communicator.Destroy()
	}
}
