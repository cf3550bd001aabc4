package protocol

import (
	"context"

	"github.com/ValentinKolb/msgpackrpc/rpc/common"
	"github.com/ValentinKolb/msgpackrpc/rpc/serializer"
)

// ResponsePipeline decodes the responses arriving on a client connection and completes
// the matching entries of a PendingRequestTable
type ResponsePipeline struct {
	pipeline
	c     *ClientResponseContext
	table *PendingRequestTable
	s     serializer.IRPCSerializer
}

// NewResponsePipeline creates a pipeline over the receive buffer of c
func NewResponsePipeline(c *ClientResponseContext, table *PendingRequestTable, s serializer.IRPCSerializer, handlers PipelineHandlers) *ResponsePipeline {
	p := &ResponsePipeline{c: c, table: table, s: s}
	p.pipeline = pipeline{
		in:          &c.inbound,
		mc:          &c.MessageContext,
		handlers:    handlers,
		stage:       p.runStage,
		terminal:    p.completeRejected,
		resetFields: c.resetFields,
	}
	return p
}

// Context returns the context the pipeline decodes into
func (p *ResponsePipeline) Context() *ClientResponseContext {
	return p.c
}

// Append hands a received chunk to the pipeline. The chunk must not be modified until it
// is passed to the Recycle handler.
func (p *ResponsePipeline) Append(chunk []byte) {
	p.append(chunk)
}

// Process decodes and dispatches every complete response in the buffer. It returns false
// when a partial message remains and true when the buffer was drained.
func (p *ResponsePipeline) Process(ctx context.Context) bool {
	return p.process(ctx)
}

func (p *ResponsePipeline) runStage(s Stage) (step, *rejection) {
	c := p.c
	switch s {
	case StageUnpackType:
		st, rej := c.readType(MessageTypeResponse)
		if rej == nil && st == stepContinue {
			c.stage = StageUnpackID
		}
		return st, rej

	case StageUnpackID:
		st, rej := c.readID(&c.MessageContext)
		if rej == nil && st == stepContinue {
			c.stage = StageUnpackError
		}
		return st, rej

	case StageUnpackError:
		b, st, rej := c.capture(&c.errorStart)
		if rej == nil && st == stepContinue {
			c.errorBytes = b
			c.stage = StageUnpackResult
		}
		return st, rej

	case StageUnpackResult:
		b, st, rej := c.capture(&c.resultStart)
		if rej == nil && st == stepContinue {
			c.resultBytes = b
			c.stage = StageDispatch
		}
		return st, rej

	case StageDispatch:
		p.dispatch()
		return p.next(), nil
	}
	return 0, p.unexpectedStage(s)
}

func (p *ResponsePipeline) dispatch() {
	c := p.c
	resp := NewResponse(p.s, c.messageID, c.errorBytes, c.resultBytes)
	resp.SessionID = c.sessionID

	if p.table.TryRemoveAndInvoke(resp.MessageID, resp, nil) {
		return
	}

	common.Trace(p.handlers.Tracer, common.TraceOrphanResponse, "session %d received response %d without pending request", c.sessionID, resp.MessageID)
	if p.handlers.OnOrphan != nil {
		p.handlers.OnOrphan(resp)
	} else {
		Logger.Warningf("Dropped response %d without pending request (session %d)", resp.MessageID, c.sessionID)
	}
}

// completeRejected fails the pending request of a response that could not be decoded
func (p *ResponsePipeline) completeRejected(id uint32) {
	err := common.NewRPCError(common.ErrorCodeUnexpectedResponse, "The response to message %d could not be decoded.", id)
	if !p.table.TryRemoveAndInvoke(id, nil, err) {
		Logger.Debugf("Rejected response %d has no pending request", id)
	}
}
