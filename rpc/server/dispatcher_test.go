package server

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/ValentinKolb/msgpackrpc/rpc/common"
	"github.com/ValentinKolb/msgpackrpc/rpc/protocol"
	"github.com/ValentinKolb/msgpackrpc/rpc/serializer"
)

func invocation(t *testing.T, method string, args ...interface{}) *protocol.Invocation {
	t.Helper()
	s := serializer.NewMsgpackSerializer()
	if args == nil {
		args = []interface{}{}
	}
	raw, err := s.Marshal(args)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	a, err := protocol.NewArguments(s, raw)
	if err != nil {
		t.Fatalf("NewArguments failed: %v", err)
	}
	return &protocol.Invocation{Type: protocol.MessageTypeRequest, MessageID: 1, Method: method, Args: a}
}

func newTestDispatcher(t *testing.T, limit float64, burst int) *Dispatcher {
	t.Helper()
	d := NewDispatcher(limit, burst)
	add := func(ctx context.Context, args *protocol.Arguments) (interface{}, error) {
		var a, b int64
		if err := args.Scan(&a, &b); err != nil {
			return nil, err
		}
		return a + b, nil
	}
	if err := d.RegisterFunc("add", add); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := d.Register("upper", Unary("text", func(_ context.Context, s string) (string, error) {
		out := []byte(s)
		for i, c := range out {
			if c >= 'a' && c <= 'z' {
				out[i] = c - 32
			}
		}
		return string(out), nil
	})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return d
}

func TestDispatcherHandle(t *testing.T) {
	d := newTestDispatcher(t, 0, 0)

	tests := []struct {
		name      string
		inv       *protocol.Invocation
		want      interface{}
		code      common.ErrorCode
		parameter string
	}{
		{"add", invocation(t, "add", 2, 3), int64(5), "", ""},
		{"unary", invocation(t, "upper", "abc"), "ABC", "", ""},
		{"missing argument", invocation(t, "add", 2), nil, common.ErrorCodeArgument, "arg1"},
		{"invalid argument", invocation(t, "upper", 42), nil, common.ErrorCodeArgument, "text"},
		{"unknown method", invocation(t, "nope"), nil, common.ErrorCodeNoMethod, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Handle(context.Background(), tt.inv)
			if tt.code == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !reflect.DeepEqual(got, tt.want) {
					t.Errorf("expected %#v, got %#v", tt.want, got)
				}
				return
			}

			var rpcErr *common.RPCError
			if !errors.As(err, &rpcErr) {
				t.Fatalf("expected an RPCError, got %v", err)
			}
			if rpcErr.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, rpcErr.Code)
			}
			if rpcErr.ParameterName != tt.parameter {
				t.Errorf("expected parameter %q, got %q", tt.parameter, rpcErr.ParameterName)
			}
		})
	}
}

func TestDispatcherRegister(t *testing.T) {
	d := newTestDispatcher(t, 0, 0)

	if err := d.Register("add", HandlerFunc(func(context.Context, *protocol.Arguments) (interface{}, error) {
		return nil, nil
	})); err == nil {
		t.Error("expected an error for a duplicate method")
	}
	if err := d.Register("", nil); !errors.Is(err, common.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}

	want := []string{"add", "upper"}
	if got := d.Methods(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestDispatcherThrottling(t *testing.T) {
	// one token, refilled every 1000 seconds
	d := newTestDispatcher(t, 0.001, 1)
	before := common.ServerThrottled.Get()

	if _, err := d.Handle(context.Background(), invocation(t, "add", 1, 1)); err != nil {
		t.Fatalf("first call failed: %v", err)
	}

	_, err := d.Handle(context.Background(), invocation(t, "add", 1, 1))
	var rpcErr *common.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != common.ErrorCodeServerBusy {
		t.Fatalf("expected ServerBusyError, got %v", err)
	}
	if got := common.ServerThrottled.Get() - before; got != 1 {
		t.Errorf("expected 1 throttled request, got %d", got)
	}
}
