package protocol

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ValentinKolb/msgpackrpc/rpc/common"
	"github.com/ValentinKolb/msgpackrpc/rpc/serializer"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// MessageType is the first element of every envelope
type MessageType int

const (
	MessageTypeRequest      MessageType = 0
	MessageTypeResponse     MessageType = 1
	MessageTypeNotification MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeRequest:
		return "Request"
	case MessageTypeResponse:
		return "Response"
	case MessageTypeNotification:
		return "Notification"
	default:
		return fmt.Sprintf("MessageType(%d)", int(t))
	}
}

// arity returns the number of envelope elements of the message type
func (t MessageType) arity() int64 {
	if t == MessageTypeNotification {
		return 3
	}
	return 4
}

// --------------------------------------------------------------------------
// Response
// --------------------------------------------------------------------------

// Response is a decoded response envelope. Error and Result hold the raw MessagePack
// encoding of the error and result slots.
type Response struct {
	MessageID uint32
	SessionID int64
	Error     []byte
	Result    []byte

	serializer serializer.IRPCSerializer
}

// ResponseHandler completes a pending request. Exactly one of resp and err is non-nil.
type ResponseHandler func(resp *Response, err error)

// NewResponse creates a response from raw slots
func NewResponse(s serializer.IRPCSerializer, id uint32, errorSlot, resultSlot []byte) *Response {
	return &Response{MessageID: id, Error: errorSlot, Result: resultSlot, serializer: s}
}

// Failed reports whether the error slot holds something other than nil
func (r *Response) Failed() bool {
	return len(r.Error) > 0 && !(len(r.Error) == 1 && r.Error[0] == msgpcode.Nil)
}

// Err converts the error slot into an RPCError, it returns nil for successful responses.
// A string error slot is taken as the error code and a detail map in the result slot
// fills the remaining fields.
func (r *Response) Err() *common.RPCError {
	if !r.Failed() {
		return nil
	}

	var code interface{}
	if err := r.serializer.Unmarshal(r.Error, &code); err != nil {
		return &common.RPCError{
			Code:             common.ErrorCodeUnexpectedResponse,
			Message:          "The error slot of the response could not be decoded.",
			DebugInformation: err.Error(),
		}
	}

	var detail interface{}
	if len(r.Result) > 0 {
		_ = r.serializer.Unmarshal(r.Result, &detail)
	}

	name, ok := code.(string)
	if !ok {
		return &common.RPCError{Code: common.ErrorCodeRemoteRuntime, Message: fmt.Sprint(code), Detail: detail}
	}

	rpcErr := &common.RPCError{Code: common.ErrorCode(name)}
	m, ok := detail.(map[string]interface{})
	if !ok {
		rpcErr.Detail = detail
		return rpcErr
	}
	rpcErr.Message, _ = m[common.DetailKeyMessage].(string)
	rpcErr.DebugInformation, _ = m[common.DetailKeyDebugInformation].(string)
	rpcErr.ParameterName, _ = m[common.DetailKeyParameterName].(string)
	return rpcErr
}

// Decode decodes the result into v, or returns the remote error
func (r *Response) Decode(v interface{}) error {
	if rpcErr := r.Err(); rpcErr != nil {
		return rpcErr
	}
	if v == nil || len(r.Result) == 0 {
		return nil
	}
	return r.serializer.Unmarshal(r.Result, v)
}

// --------------------------------------------------------------------------
// Invocation
// --------------------------------------------------------------------------

// Invocation is a decoded request or notification handed to the dispatcher.
// If Err is set the message was refused and must not be invoked.
type Invocation struct {
	Type       MessageType
	MessageID  uint32
	Method     string
	Args       *Arguments
	Err        *common.RPCError
	SessionID  int64
	RemoteAddr string
	ReceivedAt time.Time
}

// IsNotification reports whether the caller expects no response
func (inv *Invocation) IsNotification() bool {
	return inv.Type == MessageTypeNotification
}

// --------------------------------------------------------------------------
// Arguments
// --------------------------------------------------------------------------

// Arguments decodes the argument array of an invocation one element at a time
type Arguments struct {
	raw   []byte
	count int
	next  int
	dec   *msgpack.Decoder
	s     serializer.IRPCSerializer
}

// NewArguments reads the array header of raw
func NewArguments(s serializer.IRPCSerializer, raw []byte) (*Arguments, error) {
	dec := s.NewDecoder(bytes.NewReader(raw))
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidArgument, err)
	}
	if n < 0 {
		n = 0
	}
	return &Arguments{raw: raw, count: n, dec: dec, s: s}, nil
}

// Len returns the number of arguments
func (a *Arguments) Len() int {
	return a.count
}

// Remaining returns the number of arguments not decoded yet
func (a *Arguments) Remaining() int {
	return a.count - a.next
}

// Raw returns the encoded argument array
func (a *Arguments) Raw() []byte {
	return a.raw
}

// Next decodes the next argument into v. name is reported in the ArgumentError.
func (a *Arguments) Next(name string, v interface{}) error {
	if a.next >= a.count {
		return common.NewArgumentError(name, "Argument '%s' is missing.", name)
	}
	a.next++
	if err := a.s.Unpack(a.dec, v); err != nil {
		return common.NewInvalidArgumentError(name, err)
	}
	return nil
}

// Scan decodes the next len(dst) arguments, they are named arg0, arg1, ...
func (a *Arguments) Scan(dst ...interface{}) error {
	for _, v := range dst {
		if err := a.Next(fmt.Sprintf("arg%d", a.next), v); err != nil {
			return err
		}
	}
	return nil
}

// Values decodes every remaining argument into interface{} values
func (a *Arguments) Values() ([]interface{}, error) {
	out := make([]interface{}, 0, a.Remaining())
	for a.Remaining() > 0 {
		var v interface{}
		if err := a.Next(fmt.Sprintf("arg%d", a.next), &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
