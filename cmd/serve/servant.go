package serve

import (
	"context"
	"github.com/zeroc-ice/ice-sub018/rpc/client"
	"github.com/zeroc-ice/ice-sub018/rpc/common"
	"github.com/zeroc-ice/ice-sub018/rpc/serializer"
	"github.com/zeroc-ice/ice-sub018/rpc/server"
	"sync/atomic"
	"time"
)

// EchoTypeID is the type id of the demo servant
const EchoTypeID = "::Demo::Echo"

// Operations of the demo servant
var (
	OpEcho     = client.Operation{Name: "echo", Mode: common.ModeIdempotent, ReturnsValue: true}
	OpSleep    = client.Operation{Name: "sleep", Mode: common.ModeIdempotent}
	OpCount    = client.Operation{Name: "count"}
	OpCallback = client.Operation{Name: "callback", ReturnsValue: true}
)

// NewEchoServant creates the demo servant.
//
//   - echo(string) string: returns its argument
//   - sleep(int ms): returns after the given time
//   - count(): increments a counter, a twoway reply carries the new value
//   - callback(string identity, string message) string: invokes echo on the
//     given identity over the connection the request arrived on
//
// comm creates the proxies used for callbacks.
func NewEchoServant(comm *client.Communicator) *server.FuncServant {
	var count atomic.Int64

	return server.NewFuncServant(EchoTypeID, map[string]server.OperationFunc{
		OpEcho.Name: func(c *server.Current, in *serializer.InputStream, out *serializer.OutputStream) error {
			msg, err := in.ReadString()
			if err != nil {
				return err
			}
			return out.WriteString(msg)
		},
		OpSleep.Name: func(c *server.Current, in *serializer.InputStream, out *serializer.OutputStream) error {
			ms, err := in.ReadInt()
			if err != nil {
				return err
			}
			time.Sleep(time.Duration(ms) * time.Millisecond)
			return nil
		},
		OpCount.Name: func(c *server.Current, in *serializer.InputStream, out *serializer.OutputStream) error {
			out.WriteLong(count.Add(1))
			return nil
		},
		OpCallback.Name: func(c *server.Current, in *serializer.InputStream, out *serializer.OutputStream) error {
			name, err := in.ReadString()
			if err != nil {
				return err
			}
			msg, err := in.ReadString()
			if err != nil {
				return err
			}
			id, err := common.ParseIdentity(name)
			if err != nil {
				return err
			}

			reply, err := comm.FixedProxy(c.Con, id).Invoke(context.Background(), OpEcho, func(o *serializer.OutputStream) error {
				return o.WriteString(msg)
			}, client.WithCallContext(c.Ctx))
			if err != nil {
				Logger.Warningf("Callback to %q failed: %v", name, err)
				return err
			}

			echoed, err := reply.ReadString()
			if err != nil {
				return err
			}
			return out.WriteString(echoed)
		},
	})
}
