// Package tcp implements the TCP connector of the RPC transport. It dials and
// listens on "tcp -h <host> -p <port>" endpoints and applies the TCPConf and
// SocketConf settings (no delay, keep-alive, linger, buffer sizes) to every
// connection. Framing, batching and dispatch are provided by the base package.
package tcp
