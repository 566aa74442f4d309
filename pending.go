package pollrpc

import (
	"reflect"
	"sync"
)

// pendingCall correlates a wire id with the caller waiting for it.
type pendingCall struct {
	caller Caller
	id     uint32
}

// pendingTable tracks outstanding calls by correlation id and owns the id pool.
// Callbacks are never invoked while the table lock is held.
type pendingTable struct {
	calls map[uint32]pendingCall
	ids   IDPool
	mu    sync.Mutex
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[uint32]pendingCall)}
}

// add allocates a correlation id for caller.
func (pt *pendingTable) add(caller Caller, id uint32) uint32 {
	wire := pt.ids.Get()

	pt.mu.Lock()
	pt.calls[wire] = pendingCall{caller: caller, id: id}
	pt.mu.Unlock()

	return wire
}

// take removes and returns the call registered under wire, freeing the id.
func (pt *pendingTable) take(wire uint32) (pendingCall, bool) {
	pt.mu.Lock()
	pc, ok := pt.calls[wire]
	delete(pt.calls, wire)
	pt.mu.Unlock()

	if ok {
		pt.ids.Put(wire)
	}

	return pc, ok
}

// removeCaller drops every call of c and frees their correlation ids.
// Callers of a non-comparable type can never match.
func (pt *pendingTable) removeCaller(c Caller) {
	if c == nil || !reflect.TypeOf(c).Comparable() {
		return
	}

	var freed []uint32

	pt.mu.Lock()

	for wire, pc := range pt.calls {
		if pc.caller == c {
			delete(pt.calls, wire)
			freed = append(freed, wire)
		}
	}

	pt.mu.Unlock()

	for _, wire := range freed {
		pt.ids.Put(wire)
	}
}

// reset drops every call without notifying its caller and frees their ids.
func (pt *pendingTable) reset() {
	pt.mu.Lock()
	calls := pt.calls
	pt.calls = make(map[uint32]pendingCall)
	pt.mu.Unlock()

	for wire := range calls {
		pt.ids.Put(wire)
	}
}

func (pt *pendingTable) len() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	return len(pt.calls)
}
