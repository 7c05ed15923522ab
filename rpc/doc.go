// Package rpc provides the invocation core for remote objects: proxies,
// shared connections with batched oneway requests and bidirectional dispatch.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures used across the RPC system, including
//     identities, endpoints, contexts, the Message protocol, errors,
//     configuration structures, and logging.
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     and the parameter streams used to encode operation arguments.
//
//   - transport: The connection abstraction and its stream implementation in
//     transport/base, plus connectors for TCP and Unix sockets.
//
//   - client: The communicator and immutable proxies, which invoke operations
//     as twoway, oneway, datagram or batched requests.
//
//   - server: Object adapters and servants, which dispatch incoming requests,
//     including requests arriving on outgoing connections.
package rpc
