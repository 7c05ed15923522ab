package cmd

import (
	"fmt"
	"github.com/spf13/cobra"
	"github.com/zeroc-ice/ice-sub018/cmd/invoke"
	"github.com/zeroc-ice/ice-sub018/cmd/serve"
	"github.com/zeroc-ice/ice-sub018/cmd/util"
	"github.com/zeroc-ice/ice-sub018/rpc/serializer"
	"os"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "ice",
		Short: "remote object invocation",
		Long: fmt.Sprintf(`ice (v%s)

Invoke operations on remote objects with twoway, oneway and batched
oneway calls over shared, bidirectional connections.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of ice",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ice v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(invoke.Commands...)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, serializer.NameBinary, util.WrapString("serializer to use (binary, json, gob), must match the server"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
