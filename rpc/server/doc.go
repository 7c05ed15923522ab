// Package server implements the receiving side of the RPC core: the object
// adapter that maps identities to servants and dispatches requests to them.
//
// Key Components:
//
//   - ObjectAdapter: Servant registry keyed by identity and facet. It implements
//     transport.IDispatcher, so it serves requests from its own listeners as well
//     as requests arriving on an outgoing connection it was installed on.
//
//   - Object: The capability set every dispatch target provides (ice_isA, ice_ping,
//     ice_ids, ice_id). ObjectBase is the default implementation, servants embed it
//     and override single methods where needed.
//
//   - Servant: An Object that dispatches its own operations. NewFuncServant builds
//     one from a map of operation functions.
//
//   - Current: Describes the request being dispatched, including the connection it
//     arrived on and its context.
//
// Error Mapping:
//
//	A missing identity is reported as ObjectNotExist, a missing facet as FacetNotExist
//	and an unknown operation as OperationNotExist. A *common.UserError returned by a
//	servant becomes a user exception, every other error or panic an unknown exception.
//
// Usage Example:
//
//	config := common.ServerConfig{Endpoints: []common.Endpoint{{Transport: "tcp", Host: "0.0.0.0", Port: 10000}}}
//	adapter := server.NewObjectAdapter("demo", config, serializer.NewBinarySerializer(), tcp.NewConnector())
//
//	hello := server.NewFuncServant("::Demo::Hello", map[string]server.OperationFunc{
//	  "sayHello": func(c *server.Current, in *serializer.InputStream, out *serializer.OutputStream) error {
//	    return out.WriteString("hello")
//	  },
//	})
//	adapter.Add(common.Identity{Name: "hello"}, hello)
//
//	if err := adapter.Activate(); err != nil {
//	  log.Fatalf("Adapter error: %v", err)
//	}
//
// Thread Safety:
//
//	Dispatch is safe for concurrent use. Servants are called concurrently from the
//	worker pools of all connections and must synchronize their own state.
package server
