package protocol

import (
	"fmt"

	"github.com/ValentinKolb/msgpackrpc/rpc/common"
	"github.com/puzpuzpuz/xsync/v3"
)

// PendingRequestTable maps message ids of in-flight requests to their completion handlers.
// Every entry is removed exactly once, whoever removes it owns the completion.
type PendingRequestTable struct {
	handlers *xsync.MapOf[uint32, ResponseHandler]
	debug    bool
}

// NewPendingRequestTable creates an empty table
func NewPendingRequestTable(debug bool) *PendingRequestTable {
	return &PendingRequestTable{
		handlers: xsync.NewMapOf[uint32, ResponseHandler](),
		debug:    debug,
	}
}

// Register adds a handler. It must be called before the request is written.
func (t *PendingRequestTable) Register(id uint32, h ResponseHandler) error {
	if _, loaded := t.handlers.LoadOrStore(id, h); loaded {
		return common.Invariant(t.debug, fmt.Errorf("%w: %d", ErrDuplicateMessageID, id))
	}
	return nil
}

// TryRemoveAndInvoke removes the handler of id and calls it. It returns false if no
// handler was registered (orphan response, or the request timed out or was cancelled).
func (t *PendingRequestTable) TryRemoveAndInvoke(id uint32, resp *Response, err error) bool {
	h, ok := t.handlers.LoadAndDelete(id)
	if !ok {
		return false
	}
	invoke(id, h, resp, err)
	return true
}

// Remove removes the handler of id without calling it
func (t *PendingRequestTable) Remove(id uint32) bool {
	_, ok := t.handlers.LoadAndDelete(id)
	return ok
}

// FailAll completes every pending request with err and returns how many were completed
func (t *PendingRequestTable) FailAll(err error) int {
	var ids []uint32
	t.handlers.Range(func(id uint32, _ ResponseHandler) bool {
		ids = append(ids, id)
		return true
	})

	n := 0
	for _, id := range ids {
		if t.TryRemoveAndInvoke(id, nil, err) {
			n++
		}
	}
	return n
}

// Len returns the number of pending requests
func (t *PendingRequestTable) Len() int {
	return t.handlers.Size()
}

// invoke calls h and contains a panicking handler
func invoke(id uint32, h ResponseHandler, resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("Response handler of message %d panicked: %v", id, r)
		}
	}()
	h(resp, err)
}
