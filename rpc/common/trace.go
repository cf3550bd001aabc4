package common

import (
	"fmt"

	"github.com/lni/dragonboat/v4/logger"
)

var traceLogger = logger.GetLogger("rpc")

// TraceEvent identifies a traced runtime event
type TraceEvent int

const (
	TraceStartServer             TraceEvent = 1
	TraceStartListen             TraceEvent = 2
	TraceBoundSocket             TraceEvent = 1001
	TraceCloseTransport          TraceEvent = 1002
	TraceUnexpectedLastOperation TraceEvent = 1091
	TraceReceiveInboundData      TraceEvent = 1101
	TraceDeserializeRequest      TraceEvent = 1111
	TraceNeedRequestHeader       TraceEvent = 1112
	TraceNeedMessageType         TraceEvent = 1113
	TraceNeedMessageID           TraceEvent = 1114
	TraceNeedMethod              TraceEvent = 1115
	TraceNeedArguments           TraceEvent = 1116
	TraceNeedError               TraceEvent = 1117
	TraceNeedResult              TraceEvent = 1118
	TraceDispatchRequest         TraceEvent = 1131
	TraceSerializeResponse       TraceEvent = 1141
	TraceSendOutboundData        TraceEvent = 1151
	TraceSentOutboundData        TraceEvent = 1152
	TraceAcceptInboundTcp        TraceEvent = 1201
	TraceOrphanResponse          TraceEvent = 1301
	TraceDeserializationError    TraceEvent = 1311
	TraceSocketError             TraceEvent = 1401
)

var traceEventNames = map[TraceEvent]string{
	TraceStartServer:             "StartServer",
	TraceStartListen:             "StartListen",
	TraceBoundSocket:             "BoundSocket",
	TraceCloseTransport:          "CloseTransport",
	TraceUnexpectedLastOperation: "UnexpectedLastOperation",
	TraceReceiveInboundData:      "ReceiveInboundData",
	TraceDeserializeRequest:      "DeserializeRequest",
	TraceNeedRequestHeader:       "NeedRequestHeader",
	TraceNeedMessageType:         "NeedMessageType",
	TraceNeedMessageID:           "NeedMessageId",
	TraceNeedMethod:              "NeedMethod",
	TraceNeedArguments:           "NeedArguments",
	TraceNeedError:               "NeedError",
	TraceNeedResult:              "NeedResult",
	TraceDispatchRequest:         "DispatchRequest",
	TraceSerializeResponse:       "SerializeResponse",
	TraceSendOutboundData:        "SendOutboundData",
	TraceSentOutboundData:        "SentOutboundData",
	TraceAcceptInboundTcp:        "AcceptInboundTcp",
	TraceOrphanResponse:          "OrphanResponse",
	TraceDeserializationError:    "DeserializationError",
	TraceSocketError:             "SocketError",
}

func (e TraceEvent) String() string {
	if name, ok := traceEventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("TraceEvent(%d)", int(e))
}

// Tracer receives runtime events. Implementations must not block.
type Tracer interface {
	Trace(event TraceEvent, format string, args ...interface{})
}

// TraceFunc adapts a function to the Tracer interface
type TraceFunc func(event TraceEvent, format string, args ...interface{})

func (f TraceFunc) Trace(event TraceEvent, format string, args ...interface{}) {
	f(event, format, args...)
}

// LogTracer writes every event to the debug log
var LogTracer Tracer = TraceFunc(func(event TraceEvent, format string, args ...interface{}) {
	traceLogger.Debugf("[%d %s] %s", int(event), event, fmt.Sprintf(format, args...))
})

// NopTracer drops every event
var NopTracer Tracer = TraceFunc(func(TraceEvent, string, ...interface{}) {})

// Trace sends an event to t. A nil tracer is ignored and a panicking tracer is contained.
func Trace(t Tracer, event TraceEvent, format string, args ...interface{}) {
	if t == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	t.Trace(event, format, args...)
}
