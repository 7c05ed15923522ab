// Package common provides the data structures and utilities shared by all rpc
// packages: object identities, request contexts, endpoints, the message
// protocol, the error taxonomy, configuration and logging.
//
// The package focuses on:
//   - Value types that describe where a request goes (Identity, Endpoint)
//   - Context layering with a well defined merge precedence
//   - The Message used for requests and replies
//   - Errors returned by invocations, matchable with errors.As
//   - Configuration structures for the communicator and the object adapter
//
// Key Components:
//
//   - Context / ResolveContext: the per invocation context is computed from the
//     implicit (communicator wide), proxy bound and call site contexts. Higher
//     layers overwrite duplicate keys of lower ones; no layer is modified.
//
//   - ImplicitContext: the communicator wide context, safe for concurrent use.
//     Invocations take a snapshot, later changes never affect calls in flight.
//
//   - Message: one structure for requests and replies. The request id travels
//     in the frame header of the transport, not in the message.
//
//   - ClientConfig / ServerConfig: configuration of the communicator and the
//     object adapter, including the batch auto-flush threshold.
//
//   - Logger: custom logging implementation that integrates with Dragonboat's
//     logging package while providing consistent formatting across the application.
package common
