package common

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"
)

// ErrorCode is the identifier of an RPC error as it appears in the error slot of a response
type ErrorCode string

const (
	ErrorCodeTimeout            ErrorCode = "RPCError.TimeoutError"
	ErrorCodeTransport          ErrorCode = "RPCError.TransportError"
	ErrorCodeMessageRefused     ErrorCode = "RPCError.MessageRefusedError"
	ErrorCodeNoMethod           ErrorCode = "RPCError.CallError.NoMethodError"
	ErrorCodeArgument           ErrorCode = "RPCError.CallError.ArgumentError"
	ErrorCodeServerBusy         ErrorCode = "RPCError.ServerError.ServerBusyError"
	ErrorCodeRemoteRuntime      ErrorCode = "RPCError.RemoteRuntimeError"
	ErrorCodeUnexpectedResponse ErrorCode = "RPCError.ClientError.UnexpectedResponseError"
)

// keys of the detail map sent in the result slot of an error response
const (
	DetailKeyMessage          = "Message"
	DetailKeyDebugInformation = "DebugInformation"
	DetailKeyParameterName    = "ParameterName"
	DetailKeyClientTimeout    = "ClientTimeout"
)

var (
	// ErrInvalidArgument marks handler errors caused by bad arguments, see ToRPCError
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrShutdown is returned by operations started after shutdown began
	ErrShutdown = errors.New("rpc: shutdown in progress")
	// ErrTransportClosed is returned for operations on a closed transport
	ErrTransportClosed = errors.New("rpc: transport is closed")
	// ErrForeignTransport is returned when a transport is returned to a manager that did not issue it
	ErrForeignTransport = errors.New("rpc: transport is not owned by this manager")
)

// --------------------------------------------------------------------------
// RPCError
// --------------------------------------------------------------------------

// RPCError is a structured error that travels inside a response envelope
type RPCError struct {
	Code             ErrorCode
	Message          string
	DebugInformation string
	ParameterName    string
	// Detail holds the raw detail value if the remote side sent something other than a detail map
	Detail interface{}
}

func (e *RPCError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches two RPC errors with the same code
func (e *RPCError) Is(target error) bool {
	var other *RPCError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code && other.Message == ""
}

// DetailMap returns the detail map sent in the result slot
func (e *RPCError) DetailMap(debug bool) map[string]interface{} {
	m := map[string]interface{}{DetailKeyMessage: e.Message}
	if debug && e.DebugInformation != "" {
		m[DetailKeyDebugInformation] = e.DebugInformation
	}
	if e.ParameterName != "" {
		m[DetailKeyParameterName] = e.ParameterName
	}
	return m
}

// NewRPCError creates an RPC error with a formatted message
func NewRPCError(code ErrorCode, format string, args ...interface{}) *RPCError {
	return &RPCError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewArgumentError creates an ArgumentError for the named parameter
func NewArgumentError(parameter string, format string, args ...interface{}) *RPCError {
	return &RPCError{
		Code:          ErrorCodeArgument,
		Message:       fmt.Sprintf(format, args...),
		ParameterName: parameter,
	}
}

// NewInvalidArgumentError creates the ArgumentError sent when an argument cannot be decoded
func NewInvalidArgumentError(parameter string, cause error) *RPCError {
	e := NewArgumentError(parameter, "Argument '%s' is invalid.", parameter)
	if cause != nil {
		e.DebugInformation = cause.Error()
	}
	return e
}

// NewTimeoutError creates a TimeoutError for a call that waited for timeout
func NewTimeoutError(timeout time.Duration) *RPCError {
	return &RPCError{
		Code:    ErrorCodeTimeout,
		Message: fmt.Sprintf("Request timed out after %s.", timeout),
		Detail:  map[string]interface{}{DetailKeyClientTimeout: timeout.String()},
	}
}

// ToRPCError classifies an invocation error:
//   - an *RPCError anywhere in the chain passes through unchanged
//   - ErrInvalidArgument becomes an ArgumentError
//   - context deadlines become a TimeoutError
//   - everything else becomes a RemoteRuntimeError whose text is only kept in debug mode
func ToRPCError(err error, debug bool) *RPCError {
	if err == nil {
		return nil
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	var out *RPCError
	switch {
	case errors.Is(err, ErrInvalidArgument):
		out = &RPCError{Code: ErrorCodeArgument, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		out = &RPCError{Code: ErrorCodeTimeout, Message: "Execution timed out."}
	default:
		out = &RPCError{Code: ErrorCodeRemoteRuntime, Message: "An unexpected exception occurred in the server."}
	}
	if debug {
		out.DebugInformation = err.Error()
	}
	return out
}

// --------------------------------------------------------------------------
// TransportError
// --------------------------------------------------------------------------

// SocketOperation names the I/O operation that failed
type SocketOperation string

const (
	OpConnect  SocketOperation = "connect"
	OpAccept   SocketOperation = "accept"
	OpSend     SocketOperation = "send"
	OpReceive  SocketOperation = "receive"
	OpShutdown SocketOperation = "shutdown"
)

// TransportError describes a socket level failure
type TransportError struct {
	Operation  SocketOperation
	Errno      syscall.Errno
	RemoteAddr string
	Err        error
}

// NewTransportError wraps err and extracts the OS error code if there is one
func NewTransportError(op SocketOperation, remote string, err error) *TransportError {
	te := &TransportError{Operation: op, RemoteAddr: remote, Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		te.Errno = errno
	}
	return te
}

func (e *TransportError) Error() string {
	if e.Errno != 0 {
		return fmt.Sprintf("transport error on %s (%s, errno %d): %v", e.Operation, e.RemoteAddr, int(e.Errno), e.Err)
	}
	return fmt.Sprintf("transport error on %s (%s): %v", e.Operation, e.RemoteAddr, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ToRPCError converts the transport error into the error delivered to pending calls
func (e *TransportError) ToRPCError() *RPCError {
	return &RPCError{Code: ErrorCodeTransport, Message: e.Error()}
}

// IsTimeout reports whether err is an I/O deadline error
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// --------------------------------------------------------------------------
// Invariants
// --------------------------------------------------------------------------

// Invariant reports a violated internal invariant. In debug mode it panics,
// otherwise the error is returned so the single operation can fail.
func Invariant(debug bool, err error) error {
	if err != nil && debug {
		panic(fmt.Sprintf("invariant violated: %v", err))
	}
	return err
}
