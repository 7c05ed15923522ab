// Package client implements the invoking side: the communicator, proxies and
// the invocation of operations on remote objects.
//
// Key Components:
//
//   - Communicator: Owns the configuration, the implicit context and one shared
//     connection per endpoint list. Concurrent requests for a connection that is
//     not yet established wait for a single connection attempt.
//
//   - Proxy: Immutable reference to a remote object. WithOneway, WithBatchOneway,
//     WithContext and the other With* methods return new proxies. Proxies to the
//     same endpoints share their connection.
//
//   - Invoke: Sends an operation according to the mode of the proxy. Twoway calls
//     block until the reply arrives or the timeout elapses, oneway and datagram
//     calls return after the write and batch calls after queuing.
//
// The context of a request is the implicit context, overlaid with the proxy
// context, overlaid with the context passed with WithCallContext.
//
// Usage Example:
//
//	// Create the communicator
//	config := common.ClientConfig{
//	  TimeoutSecond:        5,
//	  BatchAutoFlushSizeKB: 1024,
//	  ImplicitContext:      common.ImplicitContextShared,
//	}
//	comm, _ := client.NewCommunicator(config, serializer.NewBinarySerializer(), tcp.NewConnector())
//	defer comm.Destroy()
//
//	// Call an operation
//	hello, _ := comm.StringToProxy("hello:tcp -h localhost -p 10000")
//	in, err := hello.Invoke(ctx, client.Operation{Name: "sayHello", ReturnsValue: true},
//	  func(out *serializer.OutputStream) error { return out.WriteString("bob") })
//	greeting, err := in.ReadString()
//
//	// Queue oneway requests and send them together
//	batch := hello.WithBatchOneway()
//	batch.Invoke(ctx, client.Operation{Name: "log"}, writeEntry)
//	batch.FlushBatchRequests()
//
// Bidirectional Connections:
//
//	An object adapter installed on an outgoing connection with SetAdapter
//	receives the requests the server sends back over that connection. On the
//	server, Communicator.FixedProxy(current.Con, id) creates the proxy for it.
//
// Thread Safety:
//
//	Communicator and Proxy are safe for concurrent use. Many twoway calls can
//	be outstanding on one connection at the same time.
package client
