package protocol

import "fmt"

// Stage is the position of a pipeline inside the message it is decoding
type Stage int

const (
	StageUnpackHeader Stage = iota
	StageUnpackType
	StageUnpackID
	StageUnpackMethod
	StageUnpackArguments
	StageUnpackError
	StageUnpackResult
	StageDispatch
	StageDiscard
)

func (s Stage) String() string {
	switch s {
	case StageUnpackHeader:
		return "UnpackHeader"
	case StageUnpackType:
		return "UnpackType"
	case StageUnpackID:
		return "UnpackID"
	case StageUnpackMethod:
		return "UnpackMethod"
	case StageUnpackArguments:
		return "UnpackArguments"
	case StageUnpackError:
		return "UnpackError"
	case StageUnpackResult:
		return "UnpackResult"
	case StageDispatch:
		return "Dispatch"
	case StageDiscard:
		return "Discard"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// step is the outcome of running one stage
type step int

const (
	// stepContinue runs the next stage immediately
	stepContinue step = iota
	// stepNeedMore suspends the pipeline until more bytes are appended
	stepNeedMore
	// stepDrained reports that every buffered byte was consumed
	stepDrained
)
