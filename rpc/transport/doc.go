// Package transport defines the contracts between the invocation core and the
// network. Concrete stream transports (TCP, Unix sockets) only provide an
// IConnector, everything else lives in the base package.
//
// Key Components:
//
//   - IConnector: Dials, listens and tunes sockets for one transport medium.
//
//   - IConnection: A session with one peer carrying twoway, oneway and batched
//     requests. Exactly one connection exists per destination and communicator.
//
//   - IDispatcher: Receives requests sent by the peer. An object adapter installed
//     on a client connection makes that connection bidirectional.
//
//   - FlushResult: The three completion flags reported by a batch flush.
package transport
