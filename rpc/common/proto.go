package common

import (
	"encoding/json"
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and replies.
// Which fields are used depends on the type of message.
// The request id is not part of the message, it is carried by the frame header.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Request only fields
	Identity  Identity      `json:"identity,omitempty"`
	Facet     string        `json:"facet,omitempty"`
	Operation string        `json:"operation,omitempty"`
	Mode      OperationMode `json:"mode,omitempty"`
	Context   Context       `json:"context,omitempty"`

	// Encoded parameters (request) or results (reply)
	Params []byte `json:"params,omitempty"`

	// Reply only fields
	Status ReplyStatus `json:"status,omitempty"`
	Err    string      `json:"err,omitempty"` // Empty if no error, otherwise contains the error message
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewRequest creates a new request message
func NewRequest(id Identity, facet, operation string, mode OperationMode, ctx Context, params []byte) *Message {
	return &Message{
		MsgType:   MsgTRequest,
		Identity:  id,
		Facet:     facet,
		Operation: operation,
		Mode:      mode,
		Context:   ctx,
		Params:    params,
	}
}

// NewReply creates a successful reply carrying the encoded results
func NewReply(params []byte) *Message {
	return &Message{
		MsgType: MsgTReply,
		Status:  ReplyOK,
		Params:  params,
	}
}

// NewErrorReply creates a reply for a failed dispatch of req.
// The status is derived from the type of err.
func NewErrorReply(req *Message, err error) *Message {
	msg := &Message{
		MsgType:   MsgTReply,
		Identity:  req.Identity,
		Facet:     req.Facet,
		Operation: req.Operation,
		Status:    ReplyUnknownException,
		Err:       err.Error(),
	}

	var userErr *UserError
	switch {
	case errors.As(err, new(*ObjectNotExistError)):
		msg.Status = ReplyObjectNotExist
	case errors.As(err, new(*FacetNotExistError)):
		msg.Status = ReplyFacetNotExist
	case errors.As(err, new(*OperationNotExistError)):
		msg.Status = ReplyOperationNotExist
	case errors.As(err, &userErr):
		msg.Status = ReplyUserException
		msg.Err = userErr.Reason
		msg.Params = userErr.Payload
	}
	return msg
}

// ReplyError converts a non OK reply back into the matching error
func (m *Message) ReplyError() error {
	failed := RequestFailed{Identity: m.Identity, Facet: m.Facet, Operation: m.Operation}
	switch m.Status {
	case ReplyOK:
		return nil
	case ReplyUserException:
		return &UserError{Reason: m.Err, Payload: m.Params}
	case ReplyObjectNotExist:
		return &ObjectNotExistError{failed}
	case ReplyFacetNotExist:
		return &FacetNotExistError{failed}
	case ReplyOperationNotExist:
		return &OperationNotExistError{failed}
	default:
		return &UnknownError{Reason: m.Err}
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

const (
	MsgTUnknown MessageType = iota
	MsgTRequest             // A request for an operation on an object
	MsgTReply               // The reply to a twoway request
)

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTRequest:
		return "request"
	case MsgTReply:
		return "reply"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "request":
		*t = MsgTRequest
	case "reply":
		*t = MsgTReply
	case "unknown":
		*t = MsgTUnknown
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}
	return nil
}

// --------------------------------------------------------------------------
// Reply Status
// --------------------------------------------------------------------------

// ReplyStatus is the outcome of a dispatch reported in a reply
type ReplyStatus uint8

const (
	ReplyOK ReplyStatus = iota
	ReplyUserException
	ReplyObjectNotExist
	ReplyFacetNotExist
	ReplyOperationNotExist
	ReplyUnknownException
)

func (s ReplyStatus) String() string {
	switch s {
	case ReplyOK:
		return "ok"
	case ReplyUserException:
		return "user exception"
	case ReplyObjectNotExist:
		return "object not exist"
	case ReplyFacetNotExist:
		return "facet not exist"
	case ReplyOperationNotExist:
		return "operation not exist"
	default:
		return "unknown exception"
	}
}

// --------------------------------------------------------------------------
// Operation Mode
// --------------------------------------------------------------------------

// OperationMode classifies an operation. It is sent with each request and only
// used to decide whether an invocation may be retried.
type OperationMode uint8

const (
	ModeNormal OperationMode = iota
	ModeNonmutating
	ModeIdempotent
)

func (m OperationMode) String() string {
	switch m {
	case ModeNonmutating:
		return "nonmutating"
	case ModeIdempotent:
		return "idempotent"
	default:
		return "normal"
	}
}

// --------------------------------------------------------------------------
// Invocation Mode
// --------------------------------------------------------------------------

// InvocationMode decides how a proxy sends its requests
type InvocationMode uint8

const (
	Twoway InvocationMode = iota
	Oneway
	BatchOneway
	Datagram
	BatchDatagram
)

// IsTwoway reports whether the caller waits for a reply
func (m InvocationMode) IsTwoway() bool {
	return m == Twoway
}

// IsBatch reports whether requests are queued instead of sent
func (m InvocationMode) IsBatch() bool {
	return m == BatchOneway || m == BatchDatagram
}

func (m InvocationMode) String() string {
	switch m {
	case Twoway:
		return "twoway"
	case Oneway:
		return "oneway"
	case BatchOneway:
		return "batch oneway"
	case Datagram:
		return "datagram"
	case BatchDatagram:
		return "batch datagram"
	default:
		return "unknown"
	}
}

// Flag returns the option used for the mode in a stringified proxy
func (m InvocationMode) Flag() string {
	switch m {
	case Oneway:
		return "-o"
	case BatchOneway:
		return "-O"
	case Datagram:
		return "-d"
	case BatchDatagram:
		return "-D"
	default:
		return "-t"
	}
}

// ParseInvocationModeFlag is the inverse of InvocationMode.Flag
func ParseInvocationModeFlag(flag string) (InvocationMode, bool) {
	switch flag {
	case "-t":
		return Twoway, true
	case "-o":
		return Oneway, true
	case "-O":
		return BatchOneway, true
	case "-d":
		return Datagram, true
	case "-D":
		return BatchDatagram, true
	default:
		return Twoway, false
	}
}
