package server

import (
	"github.com/zeroc-ice/ice-sub018/rpc/common"
	"github.com/zeroc-ice/ice-sub018/rpc/serializer"
	"github.com/zeroc-ice/ice-sub018/rpc/transport"
	"sort"
)

// ObjectTypeID is the type id every object implements
const ObjectTypeID = "::Ice::Object"

// --------------------------------------------------------------------------
// Dispatch targets
// --------------------------------------------------------------------------

// Object is the capability set every dispatch target provides. The adapter
// answers the built-in operations ice_isA, ice_ping, ice_ids and ice_id
// through it. Embed ObjectBase for the default behavior.
type Object interface {
	IceIsA(typeID string, current *Current) bool
	IcePing(current *Current)
	IceIds(current *Current) []string
	IceID(current *Current) string
}

// Servant is an Object that handles the remaining operations itself
type Servant interface {
	Object

	// Dispatch handles current.Operation. Parameters are read from in, results
	// are written to out. Returning a *common.UserError sends a user exception,
	// a *common.OperationNotExistError reports an unknown operation, any other
	// error is reported as unknown exception.
	Dispatch(current *Current, in *serializer.InputStream, out *serializer.OutputStream) error
}

// Current describes the request being dispatched
type Current struct {
	Adapter   *ObjectAdapter
	Con       transport.IConnection // connection the request arrived on
	Identity  common.Identity
	Facet     string
	Operation string
	Mode      common.OperationMode
	Ctx       common.Context
}

// requestFailed returns the coordinates used by dispatch errors
func (c *Current) requestFailed() common.RequestFailed {
	return common.RequestFailed{Identity: c.Identity, Facet: c.Facet, Operation: c.Operation}
}

// --------------------------------------------------------------------------
// Default object implementation
// --------------------------------------------------------------------------

// ObjectBase implements Object from a list of type ids, the first one is the most derived type
type ObjectBase struct {
	TypeIDs []string
}

func (o ObjectBase) IceIsA(typeID string, _ *Current) bool {
	if typeID == ObjectTypeID {
		return true
	}
	for _, id := range o.TypeIDs {
		if id == typeID {
			return true
		}
	}
	return false
}

func (o ObjectBase) IcePing(_ *Current) {}

// IceIds returns all type ids in sorted order
func (o ObjectBase) IceIds(_ *Current) []string {
	ids := append([]string{ObjectTypeID}, o.TypeIDs...)
	sort.Strings(ids)

	// drop duplicates
	out := ids[:0]
	for i, id := range ids {
		if i == 0 || id != ids[i-1] {
			out = append(out, id)
		}
	}
	return out
}

func (o ObjectBase) IceID(_ *Current) string {
	if len(o.TypeIDs) == 0 {
		return ObjectTypeID
	}
	return o.TypeIDs[0]
}

// --------------------------------------------------------------------------
// Function based servant
// --------------------------------------------------------------------------

// OperationFunc implements a single operation of a FuncServant
type OperationFunc func(current *Current, in *serializer.InputStream, out *serializer.OutputStream) error

// FuncServant is a servant built from one function per operation
type FuncServant struct {
	ObjectBase
	ops map[string]OperationFunc
}

// NewFuncServant creates a servant of the given type that dispatches to ops
func NewFuncServant(typeID string, ops map[string]OperationFunc) *FuncServant {
	copied := make(map[string]OperationFunc, len(ops))
	for name, fn := range ops {
		copied[name] = fn
	}
	return &FuncServant{
		ObjectBase: ObjectBase{TypeIDs: []string{typeID}},
		ops:        copied,
	}
}

func (s *FuncServant) Dispatch(current *Current, in *serializer.InputStream, out *serializer.OutputStream) error {
	fn, ok := s.ops[current.Operation]
	if !ok {
		return &common.OperationNotExistError{RequestFailed: current.requestFailed()}
	}
	return fn(current, in, out)
}
