package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("protocol")

var (
	// ErrAlreadyBound is returned when a bound context is bound a second time
	ErrAlreadyBound = errors.New("protocol: context is already bound to a transport")
	// ErrDuplicateMessageID is returned when a message id is registered twice
	ErrDuplicateMessageID = errors.New("protocol: message id is already pending")

	// ErrInvalidEnvelope is returned when a message is not an array
	ErrInvalidEnvelope = errors.New("protocol: message is not an array")
	// ErrInvalidArity is returned when the envelope has the wrong number of elements
	ErrInvalidArity = errors.New("protocol: invalid message arity")
	// ErrInvalidMessageType is returned for unknown or unexpected type tags
	ErrInvalidMessageType = errors.New("protocol: invalid message type")
	// ErrInvalidMessageID is returned when the message id is not a uint32
	ErrInvalidMessageID = errors.New("protocol: invalid message id")
	// ErrInvalidMethod is returned when the method name is not a string
	ErrInvalidMethod = errors.New("protocol: method is not a string")
)

// ProtocolError describes a message that was rejected while decoding
type ProtocolError struct {
	// Err is one of the ErrInvalid* errors or an unpack error
	Err error
	// Corrupt is set when the buffered bytes could not be parsed at all and were discarded
	Corrupt bool
	Stage   Stage

	SessionID        int64
	SessionStartedAt time.Time
	MessageID        uint32
	HasMessageID     bool
	RemoteAddr       string

	// Data holds a copy of every byte that was buffered when the error occurred
	Data []byte
}

func (e *ProtocolError) Error() string {
	if e.HasMessageID {
		return fmt.Sprintf("protocol error in %s (session %d, msgid %d, remote %s): %v",
			e.Stage, e.SessionID, e.MessageID, e.RemoteAddr, e.Err)
	}
	return fmt.Sprintf("protocol error in %s (session %d, remote %s): %v", e.Stage, e.SessionID, e.RemoteAddr, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ErrUnexpectedStage is returned when a pipeline reaches a stage that does not belong to it
var ErrUnexpectedStage = errors.New("protocol: unexpected stage")
