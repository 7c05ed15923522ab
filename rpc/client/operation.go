package client

import (
	"github.com/zeroc-ice/ice-sub018/rpc/common"
	"github.com/zeroc-ice/ice-sub018/rpc/serializer"
	"time"
)

// Operation describes a remote operation as generated stubs would declare it
type Operation struct {
	Name string
	Mode common.OperationMode

	// ReturnsValue is set for operations with a return value or out
	// parameters. They can only be invoked with a twoway proxy.
	ReturnsValue bool
}

// ParamWriter encodes the input parameters of an operation. A nil writer
// sends no parameters.
type ParamWriter func(out *serializer.OutputStream) error

// Built-in object operations
var (
	opPing = Operation{Name: "ice_ping", Mode: common.ModeNonmutating}
	opIsA  = Operation{Name: "ice_isA", Mode: common.ModeNonmutating, ReturnsValue: true}
	opIds  = Operation{Name: "ice_ids", Mode: common.ModeNonmutating, ReturnsValue: true}
	opID   = Operation{Name: "ice_id", Mode: common.ModeNonmutating, ReturnsValue: true}
)

// --------------------------------------------------------------------------
// Call options
// --------------------------------------------------------------------------

// CallOption configures a single invocation
type CallOption func(*callOptions)

type callOptions struct {
	context common.Context
	timeout time.Duration
}

// WithCallContext adds ctx to a single invocation. Its entries override the
// proxy and implicit context.
func WithCallContext(ctx common.Context) CallOption {
	return func(o *callOptions) {
		o.context = ctx
	}
}

// WithTimeout overrides the twoway timeout of a single invocation.
// A negative value disables the timeout.
func WithTimeout(timeout time.Duration) CallOption {
	return func(o *callOptions) {
		o.timeout = timeout
	}
}
