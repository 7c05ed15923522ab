// Package unix implements the Unix domain socket connector of the RPC transport
// for "unix -p <path>" endpoints. It is meant for peers on the same machine,
// everything above the socket is shared with TCP through the base package.
//
// Key Components:
//
//   - connector: Dials socket paths and creates listeners, removing a stale socket
//     file first
package unix
