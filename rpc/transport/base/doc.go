// Package base implements the connection layer shared by all stream transports.
// Transport packages (tcp, unix) only contribute a transport.IConnector.
//
// Frame format (all integers big endian):
//
//	type(1) | requestID(8) | count(4) | length(4) | payload(length)
//
// A request batch carries count entries, each prefixed with its length (uint32).
// Request id 0 marks oneway requests and control frames. The accepting side sends
// a validate connection frame first, the connecting side waits for it before the
// connection becomes active. A close connection frame announces a graceful close.
//
// Key Components:
//
//   - Connection: A session with one peer. Twoway invocations are correlated with
//     their replies by request id, so many can be outstanding at once. Requests sent
//     by the peer are dispatched to the installed adapter on a bounded worker pool,
//     batches are dispatched one request after another in their original order.
//
//   - BatchQueue: Serialized batch requests of one connection. Enqueue flushes
//     automatically once the queued size exceeds the configured threshold, Flush
//     writes everything as a single frame. Closing the connection discards the queue.
//
//   - Listener: Accepts connections on one endpoint and attaches the object adapter.
//
// Performance Optimizations:
//
//   - Frames are written with net.Buffers, so header, length prefixes and payloads
//     of a batch go out in a single vectored write.
//
//   - The read loop reuses its buffer, payloads are decoded before the next read.
//
// Thread Safety:
//
//	All public methods are thread-safe. Frame writes are serialized by a per
//	connection mutex, the batch queue has its own mutex which is always taken
//	before the write mutex.
//
//	The read loop never waits for a dispatch worker, so replies are read while
//	all workers are busy (e.g. with callbacks over the same connection). Closing
//	sets an expired write deadline first, writes blocked on a peer that stopped
//	reading fail instead of holding the locks.
package base
