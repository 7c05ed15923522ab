package invoke

import (
	"context"
	"fmt"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zeroc-ice/ice-sub018/cmd/serve"
	"github.com/zeroc-ice/ice-sub018/cmd/util"
	"github.com/zeroc-ice/ice-sub018/rpc/client"
	"github.com/zeroc-ice/ice-sub018/rpc/common"
	"github.com/zeroc-ice/ice-sub018/rpc/serializer"
	"github.com/zeroc-ice/ice-sub018/rpc/server"
	"github.com/zeroc-ice/ice-sub018/rpc/transport/base"
	"strconv"
	"strings"
)

var (
	callCmd = &cobra.Command{
		Use:   "call [proxy] [operation] [args...]",
		Short: "Invokes an operation on a remote object",
		Long: `Invokes an operation on a remote object. Supported operations:

  ping              checks that the object exists
  ids               lists the type ids of the object
  id                prints the most derived type id
  isA [typeID]      checks whether the object implements typeID
  echo [message]    echo servant: returns the message
  sleep [ms]        echo servant: returns after ms milliseconds
  count             echo servant: increments the counter of the servant
  callback [msg]    echo servant: the servant calls back over the same connection`,
		Example: `  ice call "echo:tcp -h localhost -p 10000" echo hello
  ice call "echo:tcp -h localhost -p 10000" count --mode batch --repeat 100`,
		Args: cobra.MinimumNArgs(2),
		RunE: runCall,
	}
)

func init() {
	key := "mode"
	callCmd.Flags().String(key, "twoway", util.WrapString("The invocation mode (twoway, oneway, batch, datagram, batch-datagram)"))

	key = "context"
	callCmd.Flags().String(key, "", util.WrapString("Context sent with the call (e.g. user=alice,trace=1)"))

	key = "repeat"
	callCmd.Flags().Int(key, 1, util.WrapString("How many times to send the call"))
}

func runCall(_ *cobra.Command, args []string) error {
	proxy, err := communicator.StringToProxy(args[0])
	if err != nil {
		return err
	}

	if proxy, err = withMode(proxy, viper.GetString("mode")); err != nil {
		return err
	}

	var opts []client.CallOption
	ctx, err := util.ParseContext(viper.GetString("context"))
	if err != nil {
		return err
	}
	if ctx != nil {
		opts = append(opts, client.WithCallContext(ctx))
	}

	repeat := viper.GetInt("repeat")
	for i := 0; i < repeat; i++ {
		if err := call(proxy, args[1], args[2:], opts); err != nil {
			return err
		}
	}

	if proxy.IsBatch() {
		queued := queuedRequests(proxy)
		result, err := proxy.FlushBatchRequests()
		if err != nil {
			return err
		}
		fmt.Printf("flushed %d queued requests: completed=%v, sent=%v, sentSynchronously=%v\n",
			queued, result.IsCompleted(), result.IsSent(), result.SentSynchronously())
	}
	return nil
}

// call invokes a single operation and prints the result
func call(proxy client.Proxy, operation string, args []string, opts []client.CallOption) error {
	bg := context.Background()

	requireArgs := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s expects %d arguments, got %d", operation, n, len(args))
		}
		return nil
	}

	switch operation {
	case "ping":
		if err := proxy.Ping(bg, opts...); err != nil {
			return err
		}
		fmt.Printf("ping %s: ok\n", proxy.Identity().String())

	case "ids":
		ids, err := proxy.Ids(bg, opts...)
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(ids, "\n"))

	case "id":
		id, err := proxy.ID(bg, opts...)
		if err != nil {
			return err
		}
		fmt.Println(id)

	case "isA":
		if err := requireArgs(1); err != nil {
			return err
		}
		ok, err := proxy.IsA(bg, args[0], opts...)
		if err != nil {
			return err
		}
		fmt.Printf("isA %s: %v\n", args[0], ok)

	case serve.OpEcho.Name:
		if err := requireArgs(1); err != nil {
			return err
		}
		in, err := proxy.Invoke(bg, serve.OpEcho, func(out *serializer.OutputStream) error {
			return out.WriteString(args[0])
		}, opts...)
		if err != nil {
			return err
		}
		msg, err := in.ReadString()
		if err != nil {
			return err
		}
		fmt.Println(msg)

	case serve.OpSleep.Name:
		if err := requireArgs(1); err != nil {
			return err
		}
		ms, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("ms must be a number: %w", err)
		}
		if _, err := proxy.Invoke(bg, serve.OpSleep, func(out *serializer.OutputStream) error {
			return out.WriteInt(ms)
		}, opts...); err != nil {
			return err
		}
		if proxy.IsTwoway() {
			fmt.Printf("slept %dms\n", ms)
		}

	case serve.OpCount.Name:
		in, err := proxy.Invoke(bg, serve.OpCount, nil, opts...)
		if err != nil {
			return err
		}
		// only twoway calls return the counter
		if in != nil {
			count, err := in.ReadLong()
			if err != nil {
				return err
			}
			fmt.Printf("count=%d\n", count)
		}

	case serve.OpCallback.Name:
		if err := requireArgs(1); err != nil {
			return err
		}
		return callback(proxy, args[0], opts)

	default:
		return fmt.Errorf("unknown operation %s", operation)
	}
	return nil
}

// callback installs an adapter on the connection of proxy and asks the
// server to call back into it
func callback(proxy client.Proxy, msg string, opts []client.CallOption) error {
	bg := context.Background()

	conn, err := proxy.GetConnection(bg)
	if err != nil {
		return err
	}

	adapter, ok := conn.Adapter().(*server.ObjectAdapter)
	if !ok {
		adapter = server.NewObjectAdapter("callback", common.ServerConfig{}, communicator.Serializer())
		if err := conn.SetAdapter(adapter); err != nil {
			return err
		}
	}
	id, err := adapter.AddWithUUID(serve.NewEchoServant(communicator))
	if err != nil {
		return err
	}
	defer adapter.Remove(id)

	in, err := proxy.Invoke(bg, serve.OpCallback, func(out *serializer.OutputStream) error {
		if err := out.WriteString(id.String()); err != nil {
			return err
		}
		return out.WriteString(msg)
	}, opts...)
	if err != nil {
		return err
	}

	echoed, err := in.ReadString()
	if err != nil {
		return err
	}
	fmt.Printf("callback to %s returned %q\n", id.String(), echoed)
	return nil
}

// queuedRequests returns the number of batch requests waiting on the
// connection of p. Auto-flush may already have sent part of the requests.
func queuedRequests(p client.Proxy) int {
	if conn, ok := p.GetCachedConnection().(*base.Connection); ok {
		return conn.BatchQueue().Len()
	}
	return 0
}

// withMode derives a proxy with the named invocation mode
func withMode(p client.Proxy, mode string) (client.Proxy, error) {
	switch mode {
	case "twoway":
		return p.WithTwoway(), nil
	case "oneway":
		return p.WithOneway(), nil
	case "batch":
		return p.WithBatchOneway(), nil
	case "datagram":
		return p.WithDatagram(), nil
	case "batch-datagram":
		return p.WithBatchDatagram(), nil
	default:
		return p, fmt.Errorf("invalid mode %s (expected one of: twoway, oneway, batch, datagram, batch-datagram)", mode)
	}
}
