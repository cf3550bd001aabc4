package protocol

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/msgpackrpc/rpc/common"
)

type responseFixture struct {
	pipeline *ResponsePipeline
	table    *PendingRequestTable
	results  map[uint32][]string
	errs     map[uint32][]error
	orphans  []uint32
	rejected []*ProtocolError
}

func newResponseFixture(ids ...uint32) *responseFixture {
	f := &responseFixture{
		table:   NewPendingRequestTable(false),
		results: make(map[uint32][]string),
		errs:    make(map[uint32][]error),
	}
	for _, id := range ids {
		f.register(id)
	}

	var sessions atomic.Int64
	c := NewClientResponseContext(&sessions, false)
	c.RenewSessionID()
	f.pipeline = NewResponsePipeline(c, f.table, testSerializer, PipelineHandlers{
		OnProtocolError: func(perr *ProtocolError) { f.rejected = append(f.rejected, perr) },
		OnOrphan:        func(resp *Response) { f.orphans = append(f.orphans, resp.MessageID) },
	})
	return f
}

func (f *responseFixture) register(id uint32) {
	_ = f.table.Register(id, func(resp *Response, err error) {
		if err != nil {
			f.errs[id] = append(f.errs[id], err)
			return
		}
		var s string
		if err := resp.Decode(&s); err != nil {
			f.errs[id] = append(f.errs[id], err)
			return
		}
		f.results[id] = append(f.results[id], s)
	})
}

func TestResponsePipelineResumable(t *testing.T) {
	for _, chunk := range []int{1, 2, 3, 5, 7, 1 << 20} {
		f := newResponseFixture(1, 2, 3)
		data := encode(t,
			[]interface{}{1, 1, nil, "one"},
			[]interface{}{1, 2, nil, string(make([]byte, 300))},
			[]interface{}{1, 3, nil, "three"},
		)

		if !feed(f.pipeline, data, chunk) {
			t.Errorf("chunk %d: expected drained buffer after last chunk", chunk)
		}
		for _, id := range []uint32{1, 2, 3} {
			if len(f.results[id]) != 1 {
				t.Errorf("chunk %d: message %d delivered %d times (errors %v)", chunk, id, len(f.results[id]), f.errs[id])
			}
		}
		if f.results[1][0] != "one" || f.results[3][0] != "three" || len(f.results[2][0]) != 300 {
			t.Errorf("chunk %d: unexpected results %v", chunk, f.results)
		}
		if f.table.Len() != 0 {
			t.Errorf("chunk %d: %d requests still pending", chunk, f.table.Len())
		}
		if s := f.pipeline.Context().Stream(); s.Len() != 0 {
			t.Errorf("chunk %d: %d bytes left in stream", chunk, s.Len())
		}
	}
}

func TestResponsePipelinePartialMessage(t *testing.T) {
	f := newResponseFixture(1)
	data := encode(t, []interface{}{1, 1, nil, "partial"})

	f.pipeline.Append(data[:len(data)-2])
	if f.pipeline.Process(context.Background()) {
		t.Fatalf("expected Process to report a partial message")
	}
	if got := f.pipeline.Context().Stage(); got != StageUnpackResult {
		t.Errorf("expected stage %s, got %s", StageUnpackResult, got)
	}

	f.pipeline.Append(data[len(data)-2:])
	if !f.pipeline.Process(context.Background()) {
		t.Fatalf("expected Process to drain the buffer")
	}
	if len(f.results[1]) != 1 || f.results[1][0] != "partial" {
		t.Errorf("unexpected results %v", f.results)
	}
}

func TestResponsePipelinePipelining(t *testing.T) {
	f := newResponseFixture(10, 11)
	data := encode(t, []interface{}{1, 10, nil, "a"}, []interface{}{1, 11, nil, "b"})

	f.pipeline.Append(data)
	if !f.pipeline.Process(context.Background()) {
		t.Fatalf("expected both messages to be dispatched in one call")
	}
	if len(f.results[10]) != 1 || len(f.results[11]) != 1 {
		t.Errorf("expected both responses delivered, got %v", f.results)
	}
}

func TestResponsePipelineOrphan(t *testing.T) {
	var traced []common.TraceEvent
	f := newResponseFixture(1)
	f.pipeline.handlers.Tracer = common.TraceFunc(func(ev common.TraceEvent, _ string, _ ...interface{}) {
		traced = append(traced, ev)
	})

	if !f.table.Remove(1) {
		t.Fatalf("expected pending request to be removed")
	}
	feed(f.pipeline, encode(t, []interface{}{1, 1, nil, "late"}, []interface{}{1, 99, nil, "unknown"}), 4)

	if len(f.results[1]) != 0 {
		t.Errorf("removed request must not be completed")
	}
	if len(f.orphans) != 2 || f.orphans[0] != 1 || f.orphans[1] != 99 {
		t.Errorf("expected orphans [1 99], got %v", f.orphans)
	}

	found := false
	for _, ev := range traced {
		if ev == common.TraceOrphanResponse {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an OrphanResponse trace event, got %v", traced)
	}
}

func TestResponsePipelineRejects(t *testing.T) {
	tests := []struct {
		name    string
		message interface{}
		want    error
	}{
		{"arity 3", []interface{}{1, 5, nil}, ErrInvalidArity},
		{"arity 5", []interface{}{1, 5, nil, "x", "extra"}, ErrInvalidArity},
		{"arity 2", []interface{}{1, 5}, ErrInvalidArity},
		{"request type", []interface{}{0, 5, "m", []interface{}{}}, ErrInvalidMessageType},
		{"unknown type", []interface{}{7, 5, nil, nil}, ErrInvalidMessageType},
		{"string type", []interface{}{"1", 5, nil, nil}, ErrInvalidMessageType},
		{"negative id", []interface{}{1, -1, nil, nil}, ErrInvalidMessageID},
		{"id too large", []interface{}{1, uint64(1) << 33, nil, nil}, ErrInvalidMessageID},
		{"nested id", []interface{}{1, []interface{}{1, 2}, nil, nil}, ErrInvalidMessageID},
		{"not an array", map[string]interface{}{"a": 1, "b": []interface{}{1}}, ErrInvalidEnvelope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, chunk := range []int{1, 64} {
				f := newResponseFixture(6)
				data := encode(t, tt.message, []interface{}{1, 6, nil, "ok"})

				if !feed(f.pipeline, data, chunk) {
					t.Fatalf("chunk %d: pipeline did not drain", chunk)
				}
				if len(f.rejected) != 1 {
					t.Fatalf("chunk %d: expected one rejection, got %d", chunk, len(f.rejected))
				}
				if !errors.Is(f.rejected[0], tt.want) {
					t.Errorf("chunk %d: expected %v, got %v", chunk, tt.want, f.rejected[0])
				}
				if f.rejected[0].Corrupt {
					t.Errorf("chunk %d: structurally valid message reported as corrupt", chunk)
				}
				if len(f.results[6]) != 1 || f.results[6][0] != "ok" {
					t.Errorf("chunk %d: following message not delivered: %v %v", chunk, f.results, f.errs)
				}
			}
		})
	}
}

func TestResponsePipelineCorruptBytes(t *testing.T) {
	f := newResponseFixture(4, 5)

	// msgid 4 is decoded before the invalid format code
	f.pipeline.Append([]byte{0x94, 0x01, 0x04, 0xc1, 0x01, 0x02})
	if !f.pipeline.Process(context.Background()) {
		t.Fatalf("corrupt buffer must be discarded")
	}
	if len(f.rejected) != 1 || !f.rejected[0].Corrupt {
		t.Fatalf("expected one corrupt rejection, got %v", f.rejected)
	}
	if len(f.rejected[0].Data) != 6 {
		t.Errorf("expected the buffered bytes in the rejection, got %d bytes", len(f.rejected[0].Data))
	}
	if len(f.errs[4]) != 1 {
		t.Fatalf("expected message 4 to fail once, got %v", f.errs[4])
	}
	if !errors.Is(f.errs[4][0], &common.RPCError{Code: common.ErrorCodeUnexpectedResponse}) {
		t.Errorf("expected UnexpectedResponseError, got %v", f.errs[4][0])
	}

	// the connection stays usable
	feed(f.pipeline, encode(t, []interface{}{1, 5, nil, "after"}), 3)
	if len(f.results[5]) != 1 {
		t.Errorf("message after corruption not delivered: %v", f.errs)
	}
}

func TestResponsePipelineOversizedCount(t *testing.T) {
	f := newResponseFixture()
	f.pipeline.Append([]byte{0xdd, 0xff, 0xff, 0xff, 0xff})
	f.pipeline.Process(context.Background())

	if len(f.rejected) != 1 || !f.rejected[0].Corrupt {
		t.Fatalf("expected one corrupt rejection, got %v", f.rejected)
	}
	if f.pipeline.Context().Stream().Len() != 0 {
		t.Errorf("expected the stream to be emptied")
	}
}

func TestResponsePipelineErrorResponse(t *testing.T) {
	f := newResponseFixture(3)
	feed(f.pipeline, encode(t, []interface{}{
		1, 3, string(common.ErrorCodeNoMethod),
		map[string]interface{}{common.DetailKeyMessage: "nope", common.DetailKeyParameterName: "p"},
	}), 2)

	if len(f.errs[3]) != 1 {
		t.Fatalf("expected one error for message 3, got %v / %v", f.errs, f.results)
	}
	var rpcErr *common.RPCError
	if !errors.As(f.errs[3][0], &rpcErr) {
		t.Fatalf("expected *common.RPCError, got %T", f.errs[3][0])
	}
	if rpcErr.Code != common.ErrorCodeNoMethod || rpcErr.Message != "nope" || rpcErr.ParameterName != "p" {
		t.Errorf("unexpected error %+v", rpcErr)
	}
}

func TestResponseErrNonStringCode(t *testing.T) {
	resp := NewResponse(testSerializer, 1, encode(t, 17), encode(t, "detail"))
	rpcErr := resp.Err()
	if rpcErr == nil || rpcErr.Code != common.ErrorCodeRemoteRuntime || rpcErr.Detail != "detail" {
		t.Errorf("unexpected error %+v", rpcErr)
	}

	ok := NewResponse(testSerializer, 1, encode(t, nil), encode(t, 5))
	if ok.Failed() || ok.Err() != nil {
		t.Errorf("nil error slot must not fail")
	}
	var n int
	if err := ok.Decode(&n); err != nil || n != 5 {
		t.Errorf("Decode = %d, %v", n, err)
	}
}
