package serve

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/msgpackrpc/rpc/common"
	"github.com/ValentinKolb/msgpackrpc/rpc/protocol"
	"github.com/ValentinKolb/msgpackrpc/rpc/server"
)

// maxSleep bounds the sleep method
const maxSleep = time.Minute

// RegisterBuiltins registers the demo methods of mprpc serve
func RegisterBuiltins(s *server.RPCServer) error {
	methods := map[string]server.Invoker{
		"echo":       server.HandlerFunc(echo),
		"add":        server.HandlerFunc(add),
		"ping":       server.HandlerFunc(ping),
		"sleep":      server.Unary("millis", sleep),
		"notify.log": server.HandlerFunc(notifyLog),
	}
	for name, invoker := range methods {
		if err := s.Register(name, invoker); err != nil {
			return err
		}
	}
	return nil
}

// echo returns its single argument, or all arguments as an array
func echo(_ context.Context, args *protocol.Arguments) (interface{}, error) {
	values, err := args.Values()
	if err != nil {
		return nil, err
	}
	if len(values) == 1 {
		return values[0], nil
	}
	return values, nil
}

// add sums integers, or floats if any argument is a float
func add(_ context.Context, args *protocol.Arguments) (interface{}, error) {
	var isum int64
	var fsum float64
	isFloat := false

	for i := 0; args.Remaining() > 0; i++ {
		name := fmt.Sprintf("arg%d", i)
		var v interface{}
		if err := args.Next(name, &v); err != nil {
			return nil, err
		}
		switch n := v.(type) {
		case int8, int16, int32, int64, uint8, uint16, uint32, uint64:
			iv, _ := toInt64(n)
			isum += iv
			fsum += float64(iv)
		case float32:
			isFloat = true
			fsum += float64(n)
		case float64:
			isFloat = true
			fsum += n
		default:
			return nil, common.NewArgumentError(name, "Argument '%s' must be a number.", name)
		}
	}

	if isFloat {
		return fsum, nil
	}
	return isum, nil
}

func ping(context.Context, *protocol.Arguments) (interface{}, error) {
	return "pong", nil
}

// sleep waits for the given milliseconds, bounded by the execution timeout
func sleep(ctx context.Context, millis int64) (int64, error) {
	d := time.Duration(millis) * time.Millisecond
	if d < 0 || d > maxSleep {
		return 0, common.NewArgumentError("millis", "Sleep must be between 0 and %s.", maxSleep)
	}

	start := time.Now()
	select {
	case <-time.After(d):
		return time.Since(start).Milliseconds(), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// notifyLog writes its arguments to the server log
func notifyLog(_ context.Context, args *protocol.Arguments) (interface{}, error) {
	values, err := args.Values()
	if err != nil {
		return nil, err
	}
	server.Logger.Infof("notify.log: %v", values)
	return nil, nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}
