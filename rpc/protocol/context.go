package protocol

import (
	"bytes"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/msgpackrpc/rpc/buffer"
	"github.com/ValentinKolb/msgpackrpc/rpc/common"
	"github.com/ValentinKolb/msgpackrpc/rpc/serializer"
	"github.com/ValentinKolb/msgpackrpc/rpc/unpack"
	"github.com/vmihailenco/msgpack/v5"
)

// BoundTransport is the part of a transport a context needs to know about
type BoundTransport interface {
	RemoteAddr() string
}

type binding struct {
	transport BoundTransport
}

// --------------------------------------------------------------------------
// MessageContext
// --------------------------------------------------------------------------

// MessageContext is the state shared by every pooled context variant.
// A context is used by one goroutine at a time, only the binding is atomic.
type MessageContext struct {
	sessions *atomic.Int64
	debug    bool

	sessionID        int64
	sessionStartedAt time.Time

	messageID    uint32
	hasMessageID bool

	completedSynchronously bool
	bytesTransferred       int64

	binding atomic.Pointer[binding]
}

func (c *MessageContext) init(sessions *atomic.Int64, debug bool) {
	if sessions == nil {
		sessions = new(atomic.Int64)
	}
	c.sessions = sessions
	c.debug = debug
}

// Bind attaches the context to a transport. Binding a bound context is an invariant
// violation: it panics in debug mode and returns ErrAlreadyBound otherwise.
func (c *MessageContext) Bind(t BoundTransport) error {
	if t == nil {
		return common.Invariant(c.debug, common.ErrTransportClosed)
	}
	if !c.binding.CompareAndSwap(nil, &binding{transport: t}) {
		return common.Invariant(c.debug, ErrAlreadyBound)
	}
	return nil
}

// Unbind detaches the context and returns the previous transport (nil if unbound)
func (c *MessageContext) Unbind() BoundTransport {
	if b := c.binding.Swap(nil); b != nil {
		return b.transport
	}
	return nil
}

// BoundTransport returns the bound transport or nil
func (c *MessageContext) BoundTransport() BoundTransport {
	if b := c.binding.Load(); b != nil {
		return b.transport
	}
	return nil
}

// IsBound reports whether the context is bound
func (c *MessageContext) IsBound() bool {
	return c.binding.Load() != nil
}

// RemoteAddr returns the address of the bound transport or an empty string
func (c *MessageContext) RemoteAddr() string {
	if t := c.BoundTransport(); t != nil {
		return t.RemoteAddr()
	}
	return ""
}

// RenewSessionID assigns the next id of the owning manager and restarts the session clock
func (c *MessageContext) RenewSessionID() int64 {
	c.sessionID = c.sessions.Add(1)
	c.sessionStartedAt = time.Now()
	return c.sessionID
}

func (c *MessageContext) SessionID() int64 { return c.sessionID }

func (c *MessageContext) SessionStartedAt() time.Time { return c.sessionStartedAt }

// MessageID returns the message id and whether one was decoded or assigned
func (c *MessageContext) MessageID() (uint32, bool) {
	return c.messageID, c.hasMessageID
}

func (c *MessageContext) SetMessageID(id uint32) {
	c.messageID = id
	c.hasMessageID = true
}

func (c *MessageContext) clearMessageID() {
	c.messageID = 0
	c.hasMessageID = false
}

func (c *MessageContext) CompletedSynchronously() bool { return c.completedSynchronously }

func (c *MessageContext) SetCompletedSynchronously(v bool) { c.completedSynchronously = v }

func (c *MessageContext) BytesTransferred() int64 { return c.bytesTransferred }

func (c *MessageContext) AddBytesTransferred(n int) { c.bytesTransferred += int64(n) }

// Clear resets every field except the owning counter
func (c *MessageContext) Clear() {
	c.sessionID = 0
	c.sessionStartedAt = time.Time{}
	c.clearMessageID()
	c.completedSynchronously = false
	c.bytesTransferred = 0
	c.binding.Store(nil)
}

// --------------------------------------------------------------------------
// Inbound state
// --------------------------------------------------------------------------

// inbound holds the decoding state of a receiving context
type inbound struct {
	stream *buffer.SegmentStream
	root   *unpack.Unpacker
	header *unpack.Subtree
	stage  Stage

	messageType MessageType
	headerCount int64
	// discard is the number of sibling values left to skip in StageDiscard
	discard int64
}

func (in *inbound) init() {
	in.stream = buffer.NewSegmentStream()
	in.root = unpack.New(in.stream)
}

// resetMessage prepares the state for the next envelope in the stream
func (in *inbound) resetMessage() {
	in.root.Reset(in.stream)
	in.header = nil
	in.stage = StageUnpackHeader
	in.messageType = 0
	in.headerCount = 0
	in.discard = 0
}

// clearInbound drops every buffered byte and returns the released backing buffers
func (in *inbound) clearInbound() [][]byte {
	released := in.stream.Reset()
	in.resetMessage()
	return released
}

// Stream returns the receive buffer the transport appends to
func (in *inbound) Stream() *buffer.SegmentStream {
	return in.stream
}

// Stage returns the current decoding stage
func (in *inbound) Stage() Stage {
	return in.stage
}

// ClientResponseContext decodes inbound responses on a client connection
type ClientResponseContext struct {
	MessageContext
	inbound

	errorStart  int64
	resultStart int64
	errorBytes  []byte
	resultBytes []byte
}

// NewClientResponseContext creates a context that draws session ids from sessions
func NewClientResponseContext(sessions *atomic.Int64, debug bool) *ClientResponseContext {
	c := &ClientResponseContext{}
	c.MessageContext.init(sessions, debug)
	c.inbound.init()
	c.resetFields()
	return c
}

func (c *ClientResponseContext) resetFields() {
	c.errorStart, c.resultStart = -1, -1
	c.errorBytes, c.resultBytes = nil, nil
}

// Clear resets the context including its receive buffer
func (c *ClientResponseContext) Clear() {
	c.MessageContext.Clear()
	c.clearInbound()
	c.resetFields()
}

// ServerRequestContext decodes inbound requests and notifications on a server connection
type ServerRequestContext struct {
	MessageContext
	inbound

	method    string
	argsStart int64
	argsBytes []byte
	argsValid bool
}

// NewServerRequestContext creates a context that draws session ids from sessions
func NewServerRequestContext(sessions *atomic.Int64, debug bool) *ServerRequestContext {
	c := &ServerRequestContext{}
	c.MessageContext.init(sessions, debug)
	c.inbound.init()
	c.resetFields()
	return c
}

func (c *ServerRequestContext) resetFields() {
	c.method = ""
	c.argsStart = -1
	c.argsBytes = nil
	c.argsValid = false
}

// Clear resets the context including its receive buffer
func (c *ServerRequestContext) Clear() {
	c.MessageContext.Clear()
	c.clearInbound()
	c.resetFields()
}

// --------------------------------------------------------------------------
// Outbound contexts
// --------------------------------------------------------------------------

// outbound holds an encoder bound to the context's own buffer
type outbound struct {
	buf bytes.Buffer
	enc *msgpack.Encoder
	s   serializer.IRPCSerializer
}

func (o *outbound) init(s serializer.IRPCSerializer) {
	o.s = s
	o.enc = s.NewEncoder(&o.buf)
	o.enc.SetSortMapKeys(true)
}

// Bytes returns the encoded message, valid until the next Set/Serialize call
func (o *outbound) Bytes() []byte {
	return o.buf.Bytes()
}

func (o *outbound) encodeArgs(args []interface{}) error {
	if err := o.enc.EncodeArrayLen(len(args)); err != nil {
		return err
	}
	for _, a := range args {
		if err := o.s.Pack(o.enc, a); err != nil {
			return err
		}
	}
	return nil
}

// ClientRequestContext encodes outbound requests and notifications
type ClientRequestContext struct {
	MessageContext
	outbound
}

// NewClientRequestContext creates a context encoding with s
func NewClientRequestContext(sessions *atomic.Int64, debug bool, s serializer.IRPCSerializer) *ClientRequestContext {
	c := &ClientRequestContext{}
	c.MessageContext.init(sessions, debug)
	c.outbound.init(s)
	return c
}

// SetRequest encodes [0, id, method, args]
func (c *ClientRequestContext) SetRequest(id uint32, method string, args []interface{}) error {
	c.buf.Reset()
	c.SetMessageID(id)
	enc := c.enc
	if err := enc.EncodeArrayLen(4); err != nil {
		return err
	}
	if err := enc.EncodeInt(int64(MessageTypeRequest)); err != nil {
		return err
	}
	if err := enc.EncodeUint(uint64(id)); err != nil {
		return err
	}
	if err := enc.EncodeString(method); err != nil {
		return err
	}
	return c.encodeArgs(args)
}

// SetNotification encodes [2, method, args]
func (c *ClientRequestContext) SetNotification(method string, args []interface{}) error {
	c.buf.Reset()
	c.clearMessageID()
	enc := c.enc
	if err := enc.EncodeArrayLen(3); err != nil {
		return err
	}
	if err := enc.EncodeInt(int64(MessageTypeNotification)); err != nil {
		return err
	}
	if err := enc.EncodeString(method); err != nil {
		return err
	}
	return c.encodeArgs(args)
}

// Clear resets the context and its buffer
func (c *ClientRequestContext) Clear() {
	c.MessageContext.Clear()
	c.buf.Reset()
}

// ServerResponseContext encodes outbound responses
type ServerResponseContext struct {
	MessageContext
	outbound
}

// NewServerResponseContext creates a context encoding with s
func NewServerResponseContext(sessions *atomic.Int64, debug bool, s serializer.IRPCSerializer) *ServerResponseContext {
	c := &ServerResponseContext{}
	c.MessageContext.init(sessions, debug)
	c.outbound.init(s)
	return c
}

// Serialize encodes [1, id, nil, result] or, if rpcErr is set, [1, id, code, detail].
// A result that cannot be encoded is replaced by a RemoteRuntimeError.
func (c *ServerResponseContext) Serialize(id uint32, result interface{}, rpcErr *common.RPCError) error {
	c.SetMessageID(id)
	if rpcErr == nil {
		err := c.writeResult(id, result)
		if err == nil {
			return nil
		}
		Logger.Warningf("Failed to serialize result of message %d: %v", id, err)
		rpcErr = &common.RPCError{
			Code:             common.ErrorCodeRemoteRuntime,
			Message:          "The result could not be serialized.",
			DebugInformation: err.Error(),
		}
	}
	return c.writeError(id, rpcErr)
}

func (c *ServerResponseContext) writeResponseHeader(id uint32) error {
	c.buf.Reset()
	if err := c.enc.EncodeArrayLen(4); err != nil {
		return err
	}
	if err := c.enc.EncodeInt(int64(MessageTypeResponse)); err != nil {
		return err
	}
	return c.enc.EncodeUint(uint64(id))
}

func (c *ServerResponseContext) writeResult(id uint32, result interface{}) error {
	if err := c.writeResponseHeader(id); err != nil {
		return err
	}
	if err := c.enc.EncodeNil(); err != nil {
		return err
	}
	return c.s.Pack(c.enc, result)
}

func (c *ServerResponseContext) writeError(id uint32, rpcErr *common.RPCError) error {
	if err := c.writeResponseHeader(id); err != nil {
		return err
	}
	if err := c.enc.EncodeString(string(rpcErr.Code)); err != nil {
		return err
	}
	return c.enc.Encode(rpcErr.DetailMap(c.debug))
}

// Clear resets the context and its buffer
func (c *ServerResponseContext) Clear() {
	c.MessageContext.Clear()
	c.buf.Reset()
}
