package protocol

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/msgpackrpc/rpc/common"
	"github.com/vmihailenco/msgpack/v5"
)

type fakeTransport string

func (f fakeTransport) RemoteAddr() string { return string(f) }

func TestMessageContextBinding(t *testing.T) {
	var sessions atomic.Int64
	c := NewClientResponseContext(&sessions, false)

	if err := c.Bind(fakeTransport("a")); err != nil {
		t.Fatalf("first bind failed: %v", err)
	}
	if err := c.Bind(fakeTransport("b")); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("expected ErrAlreadyBound, got %v", err)
	}
	if c.RemoteAddr() != "a" {
		t.Errorf("binding changed to %q", c.RemoteAddr())
	}
	if prev := c.Unbind(); prev != fakeTransport("a") {
		t.Errorf("Unbind returned %v", prev)
	}
	if err := c.Bind(fakeTransport("b")); err != nil {
		t.Errorf("bind after unbind failed: %v", err)
	}
}

func TestMessageContextDoubleBindPanicsInDebugMode(t *testing.T) {
	c := NewServerRequestContext(nil, true)
	_ = c.Bind(fakeTransport("a"))

	defer func() {
		if recover() == nil {
			t.Errorf("expected panic on double bind in debug mode")
		}
	}()
	_ = c.Bind(fakeTransport("b"))
}

func TestMessageContextSessions(t *testing.T) {
	var sessions atomic.Int64
	a := NewClientResponseContext(&sessions, false)
	b := NewServerRequestContext(&sessions, false)

	if a.RenewSessionID() != 1 || b.RenewSessionID() != 2 || a.RenewSessionID() != 3 {
		t.Errorf("session ids are not drawn from the shared counter")
	}
	if a.SessionStartedAt().IsZero() {
		t.Errorf("session start not recorded")
	}
}

func TestMessageContextClear(t *testing.T) {
	var sessions atomic.Int64
	c := NewClientResponseContext(&sessions, false)
	c.RenewSessionID()
	c.SetMessageID(5)
	c.SetCompletedSynchronously(true)
	_ = c.Bind(fakeTransport("a"))
	c.Stream().Append([]byte{0x94, 0x01})
	c.AddBytesTransferred(2)

	c.Clear()

	if _, ok := c.MessageID(); ok || c.SessionID() != 0 || c.CompletedSynchronously() ||
		c.BytesTransferred() != 0 || c.IsBound() || c.Stream().Len() != 0 || c.Stage() != StageUnpackHeader {
		t.Errorf("context not cleared: %+v", c)
	}
	if c.errorStart != -1 || c.resultStart != -1 {
		t.Errorf("capture offsets not reset")
	}
}

func TestServerResponseContextErrors(t *testing.T) {
	tests := []struct {
		name      string
		debug     bool
		result    interface{}
		rpcErr    *common.RPCError
		wantCode  string
		wantDebug bool
	}{
		{
			name:     "argument error",
			rpcErr:   common.NewArgumentError("p", "Argument 'p' is invalid."),
			wantCode: string(common.ErrorCodeArgument),
		},
		{
			name:      "debug information in debug mode",
			debug:     true,
			rpcErr:    &common.RPCError{Code: common.ErrorCodeRemoteRuntime, Message: "m", DebugInformation: "trace"},
			wantCode:  string(common.ErrorCodeRemoteRuntime),
			wantDebug: true,
		},
		{
			name:     "no debug information otherwise",
			rpcErr:   &common.RPCError{Code: common.ErrorCodeRemoteRuntime, Message: "m", DebugInformation: "trace"},
			wantCode: string(common.ErrorCodeRemoteRuntime),
		},
		{
			name:     "unserializable result",
			result:   make(chan int),
			wantCode: string(common.ErrorCodeRemoteRuntime),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewServerResponseContext(nil, tt.debug, testSerializer)
			if err := c.Serialize(3, tt.result, tt.rpcErr); err != nil {
				t.Fatalf("Serialize failed: %v", err)
			}

			var msg []interface{}
			if err := msgpack.Unmarshal(c.Bytes(), &msg); err != nil {
				t.Fatalf("invalid envelope: %v", err)
			}
			if len(msg) != 4 {
				t.Fatalf("expected 4 elements, got %v", msg)
			}
			if msg[2] != tt.wantCode {
				t.Errorf("expected code %s, got %v", tt.wantCode, msg[2])
			}
			detail, ok := msg[3].(map[string]interface{})
			if !ok {
				t.Fatalf("expected detail map, got %T", msg[3])
			}
			if _, ok := detail[common.DetailKeyMessage]; !ok {
				t.Errorf("detail map has no message: %v", detail)
			}
			if _, ok := detail[common.DetailKeyDebugInformation]; ok != tt.wantDebug {
				t.Errorf("debug information present = %v, want %v", ok, tt.wantDebug)
			}
		})
	}
}
