package client

import (
	"context"
	"fmt"
	"github.com/zeroc-ice/ice-sub018/rpc/common"
	"github.com/zeroc-ice/ice-sub018/rpc/transport"
	"strings"
	"time"
)

// Proxy is an immutable reference to a remote object. All With* methods return
// a new proxy and never modify the receiver, so a proxy can be shared freely
// between goroutines.
type Proxy struct {
	communicator *Communicator

	identity  common.Identity
	facet     string
	endpoints []common.Endpoint
	mode      common.InvocationMode
	context   common.Context

	// zero: communicator default, negative: no timeout
	timeout time.Duration

	// if set, all invocations use this connection instead of the endpoints
	fixed transport.IConnection
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Communicator returns the communicator the proxy was created by
func (p Proxy) Communicator() *Communicator { return p.communicator }

// Identity returns the identity of the target object
func (p Proxy) Identity() common.Identity { return p.identity }

// Facet returns the facet of the target object
func (p Proxy) Facet() string { return p.facet }

// Endpoints returns a copy of the endpoints of the proxy
func (p Proxy) Endpoints() []common.Endpoint {
	return append([]common.Endpoint(nil), p.endpoints...)
}

// Mode returns the invocation mode
func (p Proxy) Mode() common.InvocationMode { return p.mode }

// IsTwoway reports whether invocations wait for a reply
func (p Proxy) IsTwoway() bool { return p.mode.IsTwoway() }

// IsBatch reports whether invocations are queued instead of sent
func (p Proxy) IsBatch() bool { return p.mode.IsBatch() }

// Context returns a copy of the proxy bound context
func (p Proxy) Context() common.Context { return p.context.Clone() }

// InvocationTimeout returns the timeout set on the proxy, zero if the
// communicator default applies
func (p Proxy) InvocationTimeout() time.Duration { return p.timeout }

// FixedConnection returns the connection the proxy is bound to, nil if it is not bound
func (p Proxy) FixedConnection() transport.IConnection { return p.fixed }

// --------------------------------------------------------------------------
// Derivation
// --------------------------------------------------------------------------

// WithIdentity returns a proxy for another object at the same endpoints
func (p Proxy) WithIdentity(id common.Identity) Proxy {
	p.identity = id
	return p.clone()
}

// WithFacet returns a proxy for another facet of the same object
func (p Proxy) WithFacet(facet string) Proxy {
	p.facet = facet
	return p.clone()
}

// WithContext returns a proxy whose requests carry ctx. The map is copied.
func (p Proxy) WithContext(ctx common.Context) Proxy {
	p = p.clone()
	p.context = ctx.Clone()
	return p
}

// WithEndpoints returns a proxy using endpoints
func (p Proxy) WithEndpoints(endpoints ...common.Endpoint) Proxy {
	p = p.clone()
	p.endpoints = append([]common.Endpoint(nil), endpoints...)
	return p
}

// WithTwoway returns a proxy that waits for replies
func (p Proxy) WithTwoway() Proxy { return p.withMode(common.Twoway) }

// WithOneway returns a proxy that sends requests without waiting for a reply
func (p Proxy) WithOneway() Proxy { return p.withMode(common.Oneway) }

// WithBatchOneway returns a proxy that queues requests on the connection
func (p Proxy) WithBatchOneway() Proxy { return p.withMode(common.BatchOneway) }

// WithDatagram returns a proxy that sends requests as datagrams
func (p Proxy) WithDatagram() Proxy { return p.withMode(common.Datagram) }

// WithBatchDatagram returns a proxy that queues datagram requests on the connection
func (p Proxy) WithBatchDatagram() Proxy { return p.withMode(common.BatchDatagram) }

// WithInvocationTimeout returns a proxy with its own twoway timeout.
// Zero restores the communicator default, a negative value disables the timeout.
func (p Proxy) WithInvocationTimeout(timeout time.Duration) Proxy {
	p.timeout = timeout
	return p.clone()
}

// WithFixedConnection returns a proxy that always uses conn. A nil conn
// returns a proxy that uses its endpoints again.
func (p Proxy) WithFixedConnection(conn transport.IConnection) Proxy {
	p.fixed = conn
	return p.clone()
}

func (p Proxy) withMode(mode common.InvocationMode) Proxy {
	p.mode = mode
	return p.clone()
}

// clone copies the reference typed fields so that the result shares nothing mutable
func (p Proxy) clone() Proxy {
	p.endpoints = append([]common.Endpoint(nil), p.endpoints...)
	p.context = p.context.Clone()
	return p
}

// --------------------------------------------------------------------------
// Comparison and formatting
// --------------------------------------------------------------------------

// Equal compares two proxies by value
func (p Proxy) Equal(other Proxy) bool {
	return p.communicator == other.communicator &&
		p.identity == other.identity &&
		p.facet == other.facet &&
		p.mode == other.mode &&
		p.timeout == other.timeout &&
		p.fixed == other.fixed &&
		common.EqualEndpoints(p.endpoints, other.endpoints) &&
		p.context.Equal(other.context)
}

// String renders the proxy in the form accepted by Communicator.StringToProxy.
// The bound context, timeout and fixed connection are not part of it.
func (p Proxy) String() string {
	var sb strings.Builder
	sb.WriteString(p.identity.String())
	if p.facet != "" {
		sb.WriteString(" -f ")
		sb.WriteString(p.facet)
	}
	sb.WriteString(" ")
	sb.WriteString(p.mode.Flag())
	if len(p.endpoints) > 0 {
		sb.WriteString(":")
		sb.WriteString(common.EndpointsString(p.endpoints))
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// Connections
// --------------------------------------------------------------------------

// GetConnection returns the connection used by the proxy, establishing it if
// needed. This blocks until the connection is validated or ctx is done.
func (p Proxy) GetConnection(ctx context.Context) (transport.IConnection, error) {
	if p.fixed != nil {
		if p.fixed.State() != transport.StateActive {
			return nil, &common.ConnectionClosedError{Endpoint: p.fixed.Endpoint()}
		}
		return p.fixed, nil
	}
	if p.communicator == nil {
		return nil, fmt.Errorf("proxy %q has no communicator", p.String())
	}
	return p.communicator.getConnection(ctx, p.String(), p.endpoints)
}

// GetCachedConnection returns the connection of the proxy if one is
// established, nil otherwise. It never connects.
func (p Proxy) GetCachedConnection() transport.IConnection {
	if p.fixed != nil {
		if p.fixed.State() != transport.StateActive {
			return nil
		}
		return p.fixed
	}
	if p.communicator == nil || len(p.endpoints) == 0 {
		return nil
	}
	return p.communicator.cachedConnection(p.endpoints)
}

// FlushBatchRequests flushes the batch queue of the cached connection. Without
// a connection there is nothing queued and the result reports success.
func (p Proxy) FlushBatchRequests() (transport.FlushResult, error) {
	conn := p.GetCachedConnection()
	if conn == nil {
		return transport.NewFlushResult(true, true, true), nil
	}
	return conn.FlushBatchRequests()
}
