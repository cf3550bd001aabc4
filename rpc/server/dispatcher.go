package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ValentinKolb/msgpackrpc/rpc/common"
	"github.com/ValentinKolb/msgpackrpc/rpc/protocol"
	"golang.org/x/time/rate"
)

// Invoker is the target of a method call
type Invoker interface {
	// Invoke decodes args and runs the method. The result is serialized into the result
	// slot of the response; a returned error is classified with common.ToRPCError.
	Invoke(ctx context.Context, args *protocol.Arguments) (interface{}, error)
}

// HandlerFunc adapts a function to the Invoker interface
type HandlerFunc func(ctx context.Context, args *protocol.Arguments) (interface{}, error)

func (f HandlerFunc) Invoke(ctx context.Context, args *protocol.Arguments) (interface{}, error) {
	return f(ctx, args)
}

// Unary adapts a function with a single typed argument. The argument is decoded with the
// serializer of the connection and reported as param in an ArgumentError.
func Unary[A any, R any](param string, fn func(ctx context.Context, arg A) (R, error)) Invoker {
	return HandlerFunc(func(ctx context.Context, args *protocol.Arguments) (interface{}, error) {
		var arg A
		if err := args.Next(param, &arg); err != nil {
			return nil, err
		}
		return fn(ctx, arg)
	})
}

// Dispatcher maps method names to invokers. Registration is expected to happen before
// the server starts; Handle may be called concurrently.
type Dispatcher struct {
	mu      sync.RWMutex
	methods map[string]Invoker
	limiter *rate.Limiter
}

// NewDispatcher creates an empty dispatcher. A positive limit throttles dispatches to
// limit per second with the given burst, surplus requests fail with ServerBusyError.
func NewDispatcher(limit float64, burst int) *Dispatcher {
	d := &Dispatcher{methods: make(map[string]Invoker)}
	if limit > 0 {
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
	return d
}

// Register adds an invoker for method, registering a name twice is an error
func (d *Dispatcher) Register(method string, invoker Invoker) error {
	if method == "" || invoker == nil {
		return fmt.Errorf("%w: method name and invoker are required", common.ErrInvalidArgument)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.methods[method]; ok {
		return fmt.Errorf("method %q is already registered", method)
	}
	d.methods[method] = invoker
	return nil
}

// RegisterFunc is Register for a plain function
func (d *Dispatcher) RegisterFunc(method string, fn func(ctx context.Context, args *protocol.Arguments) (interface{}, error)) error {
	return d.Register(method, HandlerFunc(fn))
}

// Methods returns the registered method names in sorted order
func (d *Dispatcher) Methods() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle is the transport.ServerHandleFunc of the dispatcher
func (d *Dispatcher) Handle(ctx context.Context, inv *protocol.Invocation) (interface{}, error) {
	if d.limiter != nil && !d.limiter.Allow() {
		common.ServerThrottled.Inc()
		return nil, common.NewRPCError(common.ErrorCodeServerBusy, "The server is too busy, retry later.")
	}

	d.mu.RLock()
	invoker, ok := d.methods[inv.Method]
	d.mu.RUnlock()
	if !ok {
		Logger.Debugf("No method %q (session %d, %s)", inv.Method, inv.SessionID, inv.RemoteAddr)
		return nil, common.NewRPCError(common.ErrorCodeNoMethod, "Method '%s' is not found.", inv.Method)
	}

	start := time.Now()
	result, err := invoker.Invoke(ctx, inv.Args)
	Logger.Debugf("Invoked %q for %s in %s", inv.Method, inv.RemoteAddr, time.Since(start))
	return result, err
}
