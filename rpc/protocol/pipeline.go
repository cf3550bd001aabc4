package protocol

import (
	"context"
	"fmt"
	"io"

	"github.com/ValentinKolb/msgpackrpc/rpc/common"
	"github.com/ValentinKolb/msgpackrpc/rpc/unpack"
)

// PipelineHandlers are the callbacks a pipeline reports to. Every field is optional.
type PipelineHandlers struct {
	// OnProtocolError is called once per rejected message, before the message is terminated
	OnProtocolError func(perr *ProtocolError)
	// OnOrphan is called for responses without a pending request
	OnOrphan func(resp *Response)
	// Recycle receives backing buffers that no longer hold unconsumed bytes
	Recycle func(buf []byte)
	Tracer  common.Tracer
}

// rejection terminates the current message. discard is the number of sibling values
// still to skip, or corrupt when the buffered bytes cannot be parsed.
type rejection struct {
	err     error
	discard int64
}

const corrupt = -1

func reject(err error, discard int64) *rejection {
	return &rejection{err: err, discard: discard}
}

func corruptBytes(err error) *rejection {
	return &rejection{err: err, discard: corrupt}
}

var needEvents = map[Stage]common.TraceEvent{
	StageUnpackHeader:    common.TraceNeedRequestHeader,
	StageUnpackType:      common.TraceNeedMessageType,
	StageUnpackID:        common.TraceNeedMessageID,
	StageUnpackMethod:    common.TraceNeedMethod,
	StageUnpackArguments: common.TraceNeedArguments,
	StageUnpackError:     common.TraceNeedError,
	StageUnpackResult:    common.TraceNeedResult,
}

// --------------------------------------------------------------------------
// Shared driver
// --------------------------------------------------------------------------

// pipeline runs the stages common to both directions and delegates the rest
type pipeline struct {
	in       *inbound
	mc       *MessageContext
	handlers PipelineHandlers

	// stage runs one direction specific stage
	stage func(s Stage) (step, *rejection)
	// terminal completes a message whose id was decoded before it was rejected
	terminal func(id uint32)
	// resetFields drops the direction specific fields of the finished message
	resetFields func()
}

func (p *pipeline) append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	p.in.stream.Append(chunk)
	p.mc.AddBytesTransferred(len(chunk))
	common.Trace(p.handlers.Tracer, common.TraceReceiveInboundData, "session %d received %d bytes", p.mc.sessionID, len(chunk))
}

// process runs stages until more bytes are needed (false) or the buffer is drained (true)
func (p *pipeline) process(ctx context.Context) bool {
	for ctx.Err() == nil {
		var (
			s   step
			rej *rejection
		)

		switch p.in.stage {
		case StageUnpackHeader:
			s, rej = p.in.readEnvelope()
		case StageDiscard:
			s, rej = p.in.discardSiblings()
			if s == stepContinue && rej == nil {
				s = p.next()
			}
		default:
			s, rej = p.stage(p.in.stage)
		}

		if rej != nil {
			s = p.fail(rej)
		}

		switch s {
		case stepNeedMore:
			if ev, ok := needEvents[p.in.stage]; ok {
				common.Trace(p.handlers.Tracer, ev, "session %d needs more data (%d bytes buffered)", p.mc.sessionID, p.in.stream.Len())
			}
			return false
		case stepDrained:
			return true
		}
	}
	return false
}

// fail reports the rejection and terminates the current message
func (p *pipeline) fail(rej *rejection) step {
	id, hasID := p.mc.MessageID()
	perr := &ProtocolError{
		Err:              rej.err,
		Corrupt:          rej.discard == corrupt,
		Stage:            p.in.stage,
		SessionID:        p.mc.sessionID,
		SessionStartedAt: p.mc.sessionStartedAt,
		MessageID:        id,
		HasMessageID:     hasID,
		RemoteAddr:       p.mc.RemoteAddr(),
		Data:             p.in.stream.ToArray(),
	}

	common.Trace(p.handlers.Tracer, common.TraceDeserializationError, "%v", perr)
	if p.handlers.OnProtocolError != nil {
		p.handlers.OnProtocolError(perr)
	} else {
		Logger.Warningf("Rejected message: %v", perr)
	}

	if hasID {
		p.mc.clearMessageID()
		p.terminal(id)
	}

	if rej.discard == corrupt {
		_, _ = p.in.stream.Seek(0, io.SeekEnd)
		return p.next()
	}
	p.in.discard = rej.discard
	p.in.stage = StageDiscard
	return stepContinue
}

// next finishes the current message and prepares for the next envelope
func (p *pipeline) next() step {
	p.resetFields()
	p.mc.clearMessageID()
	for _, buf := range p.in.stream.Compact() {
		if p.handlers.Recycle != nil {
			p.handlers.Recycle(buf)
		}
	}
	p.in.resetMessage()
	return stepContinue
}

func (p *pipeline) unexpectedStage(s Stage) *rejection {
	common.Trace(p.handlers.Tracer, common.TraceUnexpectedLastOperation, "session %d in stage %s", p.mc.sessionID, s)
	return corruptBytes(common.Invariant(p.mc.debug, fmt.Errorf("%w: %s", ErrUnexpectedStage, s)))
}

// --------------------------------------------------------------------------
// Element readers
// --------------------------------------------------------------------------

// readEnvelope reads the array header of the next message
func (in *inbound) readEnvelope() (step, *rejection) {
	if in.stream.Remaining() == 0 {
		return stepDrained, nil
	}

	ok, err := in.root.Read()
	if err != nil {
		return 0, corruptBytes(err)
	}
	if !ok {
		return stepNeedMore, nil
	}

	it := in.root.Item()
	if !it.IsArrayHeader() {
		return 0, reject(fmt.Errorf("%w: got %s", ErrInvalidEnvelope, it.Kind), it.ChildCount())
	}

	in.headerCount = int64(it.Count)
	if in.headerCount != 3 && in.headerCount != 4 {
		return 0, reject(fmt.Errorf("%w: %d elements", ErrInvalidArity, in.headerCount), in.headerCount)
	}

	in.header, _ = in.root.ReadSubtree()
	in.stage = StageUnpackType
	return stepContinue, nil
}

// readElement reads the next element of the envelope
func (in *inbound) readElement() (unpack.Item, step, *rejection) {
	ok, err := in.header.Read()
	if err != nil {
		return unpack.Item{}, 0, corruptBytes(err)
	}
	if !ok {
		return unpack.Item{}, stepNeedMore, nil
	}
	return in.header.Item(), stepContinue, nil
}

// siblings returns the number of values that follow the element it in the envelope
func (in *inbound) siblings(it unpack.Item) int64 {
	return in.header.Remaining() + it.ChildCount()
}

// readType reads the type tag and checks it against allowed and the envelope arity
func (in *inbound) readType(allowed ...MessageType) (step, *rejection) {
	it, s, rej := in.readElement()
	if rej != nil || s != stepContinue {
		return s, rej
	}

	v, err := it.AsInt32()
	if err != nil {
		return 0, reject(fmt.Errorf("%w: %v", ErrInvalidMessageType, err), in.siblings(it))
	}

	t := MessageType(v)
	valid := false
	for _, a := range allowed {
		if a == t {
			valid = true
			break
		}
	}
	if !valid {
		return 0, reject(fmt.Errorf("%w: %d", ErrInvalidMessageType, v), in.siblings(it))
	}
	if t.arity() != in.headerCount {
		return 0, reject(fmt.Errorf("%w: %s with %d elements", ErrInvalidArity, t, in.headerCount), in.siblings(it))
	}

	in.messageType = t
	return stepContinue, nil
}

// readID reads the message id into mc
func (in *inbound) readID(mc *MessageContext) (step, *rejection) {
	it, s, rej := in.readElement()
	if rej != nil || s != stepContinue {
		return s, rej
	}

	id, err := it.AsUint32()
	if err != nil {
		return 0, reject(fmt.Errorf("%w: %v", ErrInvalidMessageID, err), in.siblings(it))
	}
	mc.SetMessageID(id)
	return stepContinue, nil
}

// capture skips the next element and returns a copy of its bytes. start keeps the
// offset of the element across calls and is -1 before the first attempt.
func (in *inbound) capture(start *int64) ([]byte, step, *rejection) {
	if *start < 0 {
		*start = in.stream.Position()
	}

	ok, err := in.header.Skip()
	if err != nil {
		return nil, 0, corruptBytes(err)
	}
	if !ok {
		return nil, stepNeedMore, nil
	}

	end := in.stream.Position()
	b, err := in.stream.Bytes(*start, end-*start)
	if err != nil {
		return nil, 0, corruptBytes(err)
	}
	return b, stepContinue, nil
}

// discardSiblings skips the rest of a rejected message
func (in *inbound) discardSiblings() (step, *rejection) {
	ok, err := in.root.SkipItems(in.discard)
	if err != nil {
		return 0, corruptBytes(err)
	}
	if !ok {
		return stepNeedMore, nil
	}
	return stepContinue, nil
}
