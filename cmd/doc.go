// Package cmd implements the command-line interface. It provides commands for
// hosting an object adapter and for invoking operations on remote objects.
//
// The package is organized into several subpackages:
//
//   - serve: Starts an object adapter hosting the echo servant
//   - invoke: Commands using a communicator (call, perf)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See ice -help for a list of all commands.
package cmd
