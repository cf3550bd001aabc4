package common

import "testing"

func TestTrace(t *testing.T) {
	var got []TraceEvent
	tracer := TraceFunc(func(event TraceEvent, _ string, _ ...interface{}) {
		got = append(got, event)
	})

	Trace(tracer, TraceBoundSocket, "session %d", 1)
	Trace(nil, TraceBoundSocket, "ignored")
	Trace(TraceFunc(func(TraceEvent, string, ...interface{}) { panic("tracer") }), TraceSocketError, "contained")

	if len(got) != 1 || got[0] != TraceBoundSocket {
		t.Errorf("expected [BoundSocket], got %v", got)
	}
	if TraceOrphanResponse.String() != "OrphanResponse" {
		t.Errorf("unexpected name %q", TraceOrphanResponse.String())
	}
	if TraceEvent(9999).String() != "TraceEvent(9999)" {
		t.Errorf("unexpected name %q", TraceEvent(9999).String())
	}
}

func TestParseLogLevel(t *testing.T) {
	for _, level := range []string{"debug", "INFO", "warn", "warning", "error"} {
		if _, err := ParseLogLevel(level); err != nil {
			t.Errorf("%s: unexpected error %v", level, err)
		}
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Error("expected an error for an unknown level")
	}
}
