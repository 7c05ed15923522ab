package client

import (
	"context"
	"fmt"
	"github.com/VictoriaMetrics/metrics"
	"github.com/zeroc-ice/ice-sub018/rpc/common"
	"github.com/zeroc-ice/ice-sub018/rpc/serializer"
	"time"
)

// --------------------------------------------------------------------------
// Invocation
// --------------------------------------------------------------------------

// Invoke sends op to the target object using the mode of the proxy.
//
// All checks that fail locally (identity, mode, parameter encoding) happen
// before a connection is obtained, so nothing is sent for a rejected call.
// For twoway proxies Invoke blocks until the reply arrives, the effective
// timeout elapses or ctx is done and returns a stream over the results. For
// all other modes it returns once the request is written or queued, with a
// nil stream.
func (p Proxy) Invoke(ctx context.Context, op Operation, write ParamWriter, opts ...CallOption) (*serializer.InputStream, error) {
	if p.communicator != nil && p.communicator.destroyed.Load() {
		return nil, &common.CommunicatorDestroyedError{}
	}
	if !p.identity.IsValid() {
		return nil, &common.IllegalIdentityError{Identity: p.identity}
	}
	if op.ReturnsValue && !p.mode.IsTwoway() {
		return nil, &common.TwowayOnlyError{Operation: op.Name}
	}

	var options callOptions
	for _, opt := range opts {
		opt(&options)
	}

	out := serializer.NewOutputStream()
	if write != nil {
		if err := write(out); err != nil {
			return nil, err
		}
	}

	req := common.NewRequest(p.identity, p.facet, op.Name, op.Mode, p.resolveContext(options.context), out.Bytes())

	conn, err := p.GetConnection(ctx)
	if err != nil {
		return nil, err
	}

	metrics.GetOrCreateCounter(fmt.Sprintf(`ice_invocations_total{mode=%q}`, p.mode.String())).Inc()

	switch {
	case p.mode.IsTwoway():
		timeout := p.effectiveTimeout(options.timeout)
		reply, err := conn.Invoke(ctx, req, timeout)
		if err != nil {
			return nil, err
		}
		if err := reply.ReplyError(); err != nil {
			return nil, err
		}
		return serializer.NewInputStream(reply.Params), nil

	case p.mode.IsBatch():
		return nil, conn.EnqueueBatch(req)

	default:
		// datagrams share the stream connection and behave like oneway requests
		return nil, conn.SendOneway(req)
	}
}

// resolveContext merges the implicit, proxy and call context for one invocation
func (p Proxy) resolveContext(call common.Context) common.Context {
	var implicit common.Context
	if p.communicator != nil && p.communicator.implicit != nil {
		implicit = p.communicator.implicit.Get()
	}
	return common.ResolveContext(implicit, p.context, call)
}

// effectiveTimeout picks the call timeout, then the proxy timeout, then the
// communicator default. The result is zero if there is no timeout.
func (p Proxy) effectiveTimeout(call time.Duration) time.Duration {
	timeout := call
	if timeout == 0 {
		timeout = p.timeout
	}
	if timeout == 0 && p.communicator != nil {
		timeout = p.communicator.config.InvocationTimeout()
	}
	if timeout < 0 {
		return 0
	}
	return timeout
}

// --------------------------------------------------------------------------
// Built-in operations
// --------------------------------------------------------------------------

// Ping checks that the target object exists. It may be used with any mode.
func (p Proxy) Ping(ctx context.Context, opts ...CallOption) error {
	_, err := p.Invoke(ctx, opPing, nil, opts...)
	return err
}

// IsA reports whether the target object implements typeID
func (p Proxy) IsA(ctx context.Context, typeID string, opts ...CallOption) (bool, error) {
	in, err := p.Invoke(ctx, opIsA, func(out *serializer.OutputStream) error {
		return out.WriteString(typeID)
	}, opts...)
	if err != nil {
		return false, err
	}
	return in.ReadBool()
}

// Ids returns the type ids of all interfaces the target object implements
func (p Proxy) Ids(ctx context.Context, opts ...CallOption) ([]string, error) {
	in, err := p.Invoke(ctx, opIds, nil, opts...)
	if err != nil {
		return nil, err
	}
	return in.ReadStringSeq()
}

// ID returns the most derived type id of the target object
func (p Proxy) ID(ctx context.Context, opts ...CallOption) (string, error) {
	in, err := p.Invoke(ctx, opID, nil, opts...)
	if err != nil {
		return "", err
	}
	return in.ReadString()
}

// CheckedCast asks the target object whether it implements typeID and
// returns a twoway proxy if it does. ok is false if it does not.
func CheckedCast(ctx context.Context, p Proxy, typeID string) (Proxy, bool, error) {
	ok, err := p.WithTwoway().IsA(ctx, typeID)
	if err != nil || !ok {
		return Proxy{}, false, err
	}
	return p, true, nil
}
