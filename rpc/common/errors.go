package common

import (
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Local errors (raised before anything is sent)
// --------------------------------------------------------------------------

// TwowayOnlyError is returned when an operation that returns a value is
// invoked on a oneway, datagram or batch proxy. No bytes are sent.
type TwowayOnlyError struct {
	Operation string
}

func (e *TwowayOnlyError) Error() string {
	return fmt.Sprintf("operation %s can only be invoked with a twoway proxy", e.Operation)
}

// MarshalError is returned when a parameter can not be represented by its wire type
type MarshalError struct {
	Reason string
}

func (e *MarshalError) Error() string {
	return "marshal error: " + e.Reason
}

// IllegalIdentityError is returned for an identity with an empty name
type IllegalIdentityError struct {
	Identity Identity
}

func (e *IllegalIdentityError) Error() string {
	return fmt.Sprintf("illegal identity: %q", e.Identity.String())
}

// CommunicatorDestroyedError is returned by any invocation after the
// communicator has been destroyed
type CommunicatorDestroyedError struct{}

func (e *CommunicatorDestroyedError) Error() string {
	return "communicator destroyed"
}

// AdapterAlreadySetError is returned when a second, different adapter is set on a connection
type AdapterAlreadySetError struct {
	Endpoint string
}

func (e *AdapterAlreadySetError) Error() string {
	return fmt.Sprintf("connection to %s already has an object adapter", e.Endpoint)
}

// --------------------------------------------------------------------------
// Connection errors
// --------------------------------------------------------------------------

// NoEndpointError is returned when no endpoint of a proxy could be connected
type NoEndpointError struct {
	Proxy string
	Err   error // last connect error, may be nil if there were no endpoints
}

func (e *NoEndpointError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("no suitable endpoint available for proxy %q", e.Proxy)
	}
	return fmt.Sprintf("no suitable endpoint available for proxy %q: %v", e.Proxy, e.Err)
}

func (e *NoEndpointError) Unwrap() error {
	return e.Err
}

// ConnectionClosedError is returned for all calls depending on a connection
// that was closed, locally or by the peer
type ConnectionClosedError struct {
	Endpoint string
	Graceful bool
	Err      error // transport error that caused the close, if any
}

func (e *ConnectionClosedError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("connection to %s closed: %v", e.Endpoint, e.Err)
	case e.Graceful:
		return fmt.Sprintf("connection to %s closed gracefully", e.Endpoint)
	default:
		return fmt.Sprintf("connection to %s closed", e.Endpoint)
	}
}

func (e *ConnectionClosedError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when no reply arrived within the invocation timeout
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("invocation of %s timed out after %s", e.Operation, e.Timeout)
}

// --------------------------------------------------------------------------
// Dispatch errors (reported by the remote peer)
// --------------------------------------------------------------------------

// RequestFailed holds the request coordinates shared by the dispatch errors
type RequestFailed struct {
	Identity  Identity
	Facet     string
	Operation string
}

func (r RequestFailed) describe() string {
	if r.Facet == "" {
		return fmt.Sprintf("identity %q operation %s", r.Identity.String(), r.Operation)
	}
	return fmt.Sprintf("identity %q facet %q operation %s", r.Identity.String(), r.Facet, r.Operation)
}

// ObjectNotExistError is returned when the target identity is not registered at the peer
type ObjectNotExistError struct {
	RequestFailed
}

func (e *ObjectNotExistError) Error() string {
	return "object does not exist: " + e.describe()
}

// FacetNotExistError is returned when the identity exists but not the facet
type FacetNotExistError struct {
	RequestFailed
}

func (e *FacetNotExistError) Error() string {
	return "facet does not exist: " + e.describe()
}

// OperationNotExistError is returned when the servant does not implement the operation
type OperationNotExistError struct {
	RequestFailed
}

func (e *OperationNotExistError) Error() string {
	return "operation does not exist: " + e.describe()
}

// UserError is an application level failure returned by a servant. The
// payload is the encoded error as produced by the servant.
type UserError struct {
	Reason  string
	Payload []byte
}

func (e *UserError) Error() string {
	return "user error: " + e.Reason
}

// UnknownError is returned for any other failure during dispatch at the peer
type UnknownError struct {
	Reason string
}

func (e *UnknownError) Error() string {
	return "unknown error: " + e.Reason
}
