package pollrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"
)

// ErrNilReceiver is returned when registering a nil [Receiver].
var ErrNilReceiver = errors.New("pollrpc: nil receiver")

// ReceiverMux maps procedure names to [Receiver] implementations.
// Procedure names are case-sensitive.
//
// ReceiverMux is safe for concurrent use. A [Client] owns one, and a single
// ReceiverMux may also back [ProcessRequest] and [HTTPHandler].
type ReceiverMux struct {
	receivers map[string]Receiver
	mu        sync.RWMutex
}

// NewReceiverMux creates and returns a new, empty [*ReceiverMux].
func NewReceiverMux() *ReceiverMux {
	return &ReceiverMux{receivers: make(map[string]Receiver)}
}

// Register associates r with procedure, replacing any previous registration.
func (m *ReceiverMux) Register(procedure string, r Receiver) error {
	if r == nil {
		return fmt.Errorf("procedure '%s': %w", procedure, ErrNilReceiver)
	}

	m.mu.Lock()
	m.receivers[procedure] = r
	m.mu.Unlock()

	return nil
}

// RegisterFunc is [ReceiverMux.Register] for a plain function.
func (m *ReceiverMux) RegisterFunc(procedure string, f func(context.Context, string, []Value) (Value, error)) error {
	if f == nil {
		return fmt.Errorf("procedure '%s': %w", procedure, ErrNilReceiver)
	}

	return m.Register(procedure, ReceiverFunc(f))
}

// Unregister removes the receiver of procedure when r is nil or is the registered receiver.
//
// Receivers are matched by identity. Function receivers are matched by their code pointer,
// so two closures of the same function literal are considered identical.
func (m *ReceiverMux) Unregister(procedure string, r Receiver) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.receivers[procedure]
	if !ok {
		return
	}

	if r == nil || sameReceiver(cur, r) {
		delete(m.receivers, procedure)
	}
}

func sameReceiver(a, b Receiver) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}

	if ta.Comparable() {
		return a == b
	}

	if ta.Kind() == reflect.Func {
		return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
	}

	return false
}

// Lookup returns the receiver registered for procedure.
func (m *ReceiverMux) Lookup(procedure string) (Receiver, bool) {
	m.mu.RLock()
	r, ok := m.receivers[procedure]
	m.mu.RUnlock()

	return r, ok
}

// Procedures returns the sorted names of all registered procedures.
func (m *ReceiverMux) Procedures() []string {
	m.mu.RLock()

	names := make([]string, 0, len(m.receivers))
	for name := range m.receivers {
		names = append(names, name)
	}

	m.mu.RUnlock()

	slices.Sort(names)

	return names
}

// invoke runs r, turning a panic into [ErrInternalError].
func invoke(ctx context.Context, cb *Callbacks, r Receiver, procedure string, params []Value) (result Value, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			cb.runOnReceiverPanic(ctx, procedure, params, rec)

			result, err = Value{}, ErrInternalError.WithData(String(fmt.Sprint(rec)))
		}
	}()

	return r.CallProcedure(ctx, procedure, params)
}

// serveCall runs the receiver for the call object msg and returns the encoded reply,
// which is nil for notifications. ok is false when msg is not a call at all.
//
// Calls for unknown procedures are answered with [ErrMethodNotFound] carrying the procedure name.
func (m *ReceiverMux) serveCall(ctx context.Context, log *slog.Logger, cb *Callbacks, msg Value) (reply []byte, ok bool) {
	method, ok := field(msg, "method", KindString)
	if !ok {
		return nil, false
	}

	procedure, _ := method.AsString()
	idVal, hasID := field(msg, "id", KindInteger)
	id, _ := idVal.AsInteger()

	r, found := m.Lookup(procedure)
	if !found {
		if !hasID {
			log.WarnContext(ctx, "Notification for unknown procedure dropped", "procedure", procedure)

			return nil, true
		}

		return encodeError(ErrMethodNotFound.WithData(String(procedure)), id), true
	}

	var params []Value

	if p, ok := field(msg, "params", KindArray); ok {
		params = p.Elems()
	}

	result, err := invoke(ctx, cb, r, procedure, params)

	switch {
	case !hasID:
		if err != nil {
			log.DebugContext(ctx, "Notification receiver failed", "procedure", procedure, "error", err)
		}

		return nil, true
	case err != nil:
		return encodeError(asError(err), id), true
	}

	return encodeResult(result, id), true
}
