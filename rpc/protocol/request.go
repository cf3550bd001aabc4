package protocol

import (
	"context"
	"time"

	"github.com/ValentinKolb/msgpackrpc/rpc/common"
	"github.com/ValentinKolb/msgpackrpc/rpc/serializer"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// RequestPipeline decodes the requests and notifications arriving on a server connection
// and hands each of them to a dispatch function
type RequestPipeline struct {
	pipeline
	c        *ServerRequestContext
	s        serializer.IRPCSerializer
	dispatch func(inv *Invocation)
}

// NewRequestPipeline creates a pipeline over the receive buffer of c. dispatch runs on the
// receiving goroutine and must not block for long.
func NewRequestPipeline(c *ServerRequestContext, s serializer.IRPCSerializer, dispatch func(inv *Invocation), handlers PipelineHandlers) *RequestPipeline {
	p := &RequestPipeline{c: c, s: s, dispatch: dispatch}
	p.pipeline = pipeline{
		in:          &c.inbound,
		mc:          &c.MessageContext,
		handlers:    handlers,
		stage:       p.runStage,
		terminal:    p.refuse,
		resetFields: c.resetFields,
	}
	return p
}

// Context returns the context the pipeline decodes into
func (p *RequestPipeline) Context() *ServerRequestContext {
	return p.c
}

// Append hands a received chunk to the pipeline
func (p *RequestPipeline) Append(chunk []byte) {
	p.append(chunk)
}

// Process decodes and dispatches every complete message in the buffer. It returns false
// when a partial message remains and true when the buffer was drained.
func (p *RequestPipeline) Process(ctx context.Context) bool {
	return p.process(ctx)
}

func (p *RequestPipeline) runStage(s Stage) (step, *rejection) {
	c := p.c
	switch s {
	case StageUnpackType:
		st, rej := c.readType(MessageTypeRequest, MessageTypeNotification)
		if rej == nil && st == stepContinue {
			if c.messageType == MessageTypeRequest {
				c.stage = StageUnpackID
			} else {
				c.stage = StageUnpackMethod
			}
		}
		return st, rej

	case StageUnpackID:
		st, rej := c.readID(&c.MessageContext)
		if rej == nil && st == stepContinue {
			c.stage = StageUnpackMethod
		}
		return st, rej

	case StageUnpackMethod:
		it, st, rej := c.readElement()
		if rej != nil || st != stepContinue {
			return st, rej
		}
		method, err := it.AsString()
		if err != nil {
			return 0, reject(ErrInvalidMethod, c.siblings(it))
		}
		c.method = method
		c.stage = StageUnpackArguments
		return stepContinue, nil

	case StageUnpackArguments:
		b, st, rej := c.capture(&c.argsStart)
		if rej == nil && st == stepContinue {
			c.argsBytes = b
			c.argsValid = len(b) > 0 && isArrayCode(b[0])
			c.stage = StageDispatch
		}
		return st, rej

	case StageDispatch:
		p.dispatchInvocation()
		return p.next(), nil
	}
	return 0, p.unexpectedStage(s)
}

func (p *RequestPipeline) dispatchInvocation() {
	c := p.c
	inv := p.newInvocation()

	if !c.argsValid {
		inv.Err = common.NewArgumentError("args", "Arguments must be an array.")
	} else if args, err := NewArguments(p.s, c.argsBytes); err != nil {
		inv.Err = common.NewInvalidArgumentError("args", err)
	} else {
		inv.Args = args
	}

	common.Trace(p.handlers.Tracer, common.TraceDispatchRequest, "session %d dispatches %s %q (msgid %d)", c.sessionID, inv.Type, inv.Method, inv.MessageID)
	p.dispatch(inv)
}

// refuse answers a request that could not be decoded
func (p *RequestPipeline) refuse(id uint32) {
	inv := p.newInvocation()
	inv.Type = MessageTypeRequest
	inv.MessageID = id
	inv.Err = common.NewRPCError(common.ErrorCodeMessageRefused, "The request could not be decoded.")
	p.dispatch(inv)
}

func (p *RequestPipeline) newInvocation() *Invocation {
	c := p.c
	inv := &Invocation{
		Type:       c.messageType,
		Method:     c.method,
		SessionID:  c.sessionID,
		RemoteAddr: c.RemoteAddr(),
		ReceivedAt: time.Now(),
	}
	inv.MessageID, _ = c.MessageID()
	return inv
}

func isArrayCode(c byte) bool {
	return msgpcode.IsFixedArray(c) || c == msgpcode.Array16 || c == msgpcode.Array32
}
