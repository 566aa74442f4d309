package pollrpc

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSender records every request body and answers with fn.
type mockSender struct {
	fn     func(ctx context.Context, body []byte) ([]byte, error)
	bodies [][]byte
	mu     sync.Mutex
}

func (m *mockSender) SendRequest(ctx context.Context, body []byte) ([]byte, error) {
	m.mu.Lock()
	m.bodies = append(m.bodies, append([]byte(nil), body...))
	m.mu.Unlock()

	return m.fn(ctx, body)
}

func (m *mockSender) attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.bodies)
}

// callsPerRequest returns the number of messages in each request sent so far.
func (m *mockSender) callsPerRequest(t *testing.T) []int {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]int, 0, len(m.bodies))

	for _, body := range m.bodies {
		frames, err := NewFramer(0).Feed(body)
		require.NoError(t, err)

		out = append(out, len(frames))
	}

	return out
}

// serving answers requests from mux.
func serving(mux *ReceiverMux) func(context.Context, []byte) ([]byte, error) {
	return func(ctx context.Context, body []byte) ([]byte, error) {
		return ProcessRequest(ctx, body, mux), nil
	}
}

// errorRecorder is a Caller collecting error replies.
type errorRecorder struct {
	results []Value
	errors  []*Error
}

func (r *errorRecorder) OnProcedureResult(v Value, _ uint32) {
	r.results = append(r.results, v)
}

func (r *errorRecorder) OnProcedureError(code int64, message string, data Value, _ uint32) {
	r.errors = append(r.errors, &Error{Code: code, Message: message, Data: data})
}

func (r *errorRecorder) count() int {
	return len(r.results) + len(r.errors)
}

func newRequestClient(t *testing.T, sender RequestSender, cfg RequestClientConfig) *RequestClient {
	t.Helper()

	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}

	rc := NewRequestClient(sender, cfg)
	t.Cleanup(rc.Close)

	return rc
}

func TestRequestClient_Call(t *testing.T) {
	sender := &mockSender{fn: serving(testMux(t))}
	rc := newRequestClient(t, sender, RequestClientConfig{})

	rec := new(errorRecorder)
	require.NoError(t, rc.CallRemoteProcedure("add", []Value{Integer(1), Integer(2)}, rec, 9))
	pump(t, func() bool { return rec.count() == 1 }, rc)

	require.Len(t, rec.results, 1)
	assert.True(t, rec.results[0].Equal(Integer(3)))
	assert.Equal(t, 0, rc.pending.len())

	result, err := Call(t.Context(), rc, "ping")
	require.NoError(t, err)
	assert.True(t, result.Equal(String("pong")))

	_, err = Call(t.Context(), rc, "fail")

	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, int64(123), rpcErr.Code)
}

func TestRequestClient_RetriesExhausted(t *testing.T) {
	sender := &mockSender{fn: func(context.Context, []byte) ([]byte, error) {
		return nil, fmt.Errorf("%w: boom", ErrNoConnection)
	}}
	rc := newRequestClient(t, sender, RequestClientConfig{AutoRetries: 2})

	rec := new(errorRecorder)
	require.NoError(t, rc.CallRemoteProcedure("add", []Value{Integer(1), Integer(2)}, rec, 1))
	pump(t, func() bool { return rec.count() == 1 }, rc)

	assert.Equal(t, 3, sender.attempts())
	require.Len(t, rec.errors, 1)
	assert.Equal(t, CodeInternalError, rec.errors[0].Code)
	assert.Equal(t, "Sending of request unsuccessful.", rec.errors[0].Message)
	assert.Equal(t, 0, rc.pending.len())
}

func TestRequestClient_RecoversAfterRetry(t *testing.T) {
	mux := testMux(t)
	failures := 1

	sender := &mockSender{}
	sender.fn = func(ctx context.Context, body []byte) ([]byte, error) {
		if failures > 0 {
			failures--
			return nil, ErrNoConnection
		}

		return ProcessRequest(ctx, body, mux), nil
	}

	rc := newRequestClient(t, sender, RequestClientConfig{AutoRetries: 1})

	result, err := Call(t.Context(), rc, "add", Integer(2), Integer(2))
	require.NoError(t, err)
	assert.True(t, result.Equal(Integer(4)))
	assert.Equal(t, 2, sender.attempts())
}

func TestRequestClient_BadResponseNotRetried(t *testing.T) {
	sender := &mockSender{fn: func(context.Context, []byte) ([]byte, error) {
		return nil, fmt.Errorf("%w: status 500", ErrBadResponse)
	}}
	rc := newRequestClient(t, sender, RequestClientConfig{AutoRetries: 5})

	rec := new(errorRecorder)
	require.NoError(t, rc.CallRemoteProcedure("add", nil, rec, 1))
	pump(t, func() bool { return rec.count() == 1 }, rc)

	assert.Equal(t, 1, sender.attempts())
	require.Len(t, rec.errors, 1)
	assert.Equal(t, CodeInternalError, rec.errors[0].Code)
	assert.Equal(t, "Bad response from server.", rec.errors[0].Message)
}

func TestRequestClient_NotificationFailureSilent(t *testing.T) {
	sender := &mockSender{fn: func(context.Context, []byte) ([]byte, error) {
		return nil, ErrNoConnection
	}}

	var invalid int

	rc := newRequestClient(t, sender, RequestClientConfig{
		Callbacks: Callbacks{OnInvalidMessage: func(context.Context, Value) { invalid++ }},
	})

	require.NoError(t, rc.CallRemoteProcedure("ping", nil, nil, 0))
	pump(t, func() bool { return sender.attempts() == 1 }, rc)

	rc.Close()
	rc.Update()
	assert.Zero(t, invalid)
}

// gatedSender blocks its first request until released.
func gatedSender(t *testing.T, mux *ReceiverMux) (*mockSender, <-chan struct{}, chan<- struct{}) {
	t.Helper()

	started := make(chan struct{})
	release := make(chan struct{})

	var once sync.Once

	sender := &mockSender{fn: func(ctx context.Context, body []byte) ([]byte, error) {
		once.Do(func() {
			close(started)
			<-release
		})

		return ProcessRequest(ctx, body, mux), nil
	}}

	return sender, started, release
}

func TestRequestClient_MaxBatch(t *testing.T) {
	sender, started, release := gatedSender(t, testMux(t))
	rc := newRequestClient(t, sender, RequestClientConfig{MaxBatch: 2})

	rec := new(errorRecorder)
	require.NoError(t, rc.CallRemoteProcedure("ping", nil, rec, 0))
	<-started

	for i := range 5 {
		require.NoError(t, rc.CallRemoteProcedure("add", []Value{Integer(int64(i)), Integer(1)}, rec, uint32(i)+1))
	}

	close(release)
	pump(t, func() bool { return rec.count() == 6 }, rc)

	assert.Equal(t, []int{1, 2, 2, 1}, sender.callsPerRequest(t))
	assert.Len(t, rec.results, 6)
}

func TestRequestClient_QueuedCallsShareRequest(t *testing.T) {
	sender, started, release := gatedSender(t, testMux(t))
	rc := newRequestClient(t, sender, RequestClientConfig{})

	first := new(errorRecorder)
	require.NoError(t, rc.CallRemoteProcedure("ping", nil, first, 0))
	<-started

	removed, kept := new(errorRecorder), new(errorRecorder)
	require.NoError(t, rc.CallRemoteProcedure("ping", nil, removed, 1))
	require.NoError(t, rc.CallRemoteProcedure("ping", nil, kept, 2))
	require.NoError(t, rc.CallRemoteProcedure("ping", nil, nil, 3))
	rc.RemoveProcedureCaller(removed)

	close(release)
	pump(t, func() bool { return first.count() == 1 && kept.count() == 1 }, rc)

	assert.Equal(t, []int{1, 3}, sender.callsPerRequest(t))
	assert.Zero(t, removed.count())
}

func TestRequestClient_InvalidResponse(t *testing.T) {
	sender := &mockSender{fn: func(context.Context, []byte) ([]byte, error) {
		return []byte(`{"jsonrpc":"2.0","method":"surprise"} [{"jsonrpc":"2.0","id":1}]`), nil
	}}

	var invalid []Value

	rc := newRequestClient(t, sender, RequestClientConfig{
		Callbacks: Callbacks{OnInvalidMessage: func(_ context.Context, msg Value) { invalid = append(invalid, msg) }},
	})

	require.NoError(t, rc.CallRemoteProcedure("ping", nil, nil, 0))
	pump(t, func() bool { return len(invalid) == 2 }, rc)
}

func TestRequestClient_MaxMessageSize(t *testing.T) {
	t.Run("Outgoing", func(t *testing.T) {
		sender := &mockSender{fn: serving(testMux(t))}
		rc := newRequestClient(t, sender, RequestClientConfig{MaxMessageSize: 64})

		rec := new(errorRecorder)
		err := rc.CallRemoteProcedure("echo", []Value{String(strings.Repeat("x", 100))}, rec, 1)
		require.ErrorIs(t, err, ErrJSONTooLarge)
		assert.Zero(t, rc.pending.len())
		assert.Zero(t, rc.pending.ids.Outstanding())

		result, err := Call(t.Context(), rc, "ping")
		require.NoError(t, err)
		assert.True(t, result.Equal(String("pong")))
		assert.Equal(t, 1, sender.attempts())
	})

	t.Run("Incoming", func(t *testing.T) {
		big := fmt.Sprintf(`{"jsonrpc":"2.0","result":%q,"id":1}`, strings.Repeat("x", 100))
		sender := &mockSender{fn: func(context.Context, []byte) ([]byte, error) {
			return []byte(big), nil
		}}

		decodeErrs := make(chan error, 1)

		rc := newRequestClient(t, sender, RequestClientConfig{
			MaxMessageSize: 64,
			Callbacks: Callbacks{OnDecodingError: func(_ context.Context, _ []byte, err error) {
				decodeErrs <- err
			}},
		})

		rec := new(errorRecorder)
		require.NoError(t, rc.CallRemoteProcedure("ping", nil, rec, 1))

		select {
		case err := <-decodeErrs:
			require.ErrorIs(t, err, ErrJSONTooLarge)
		case <-time.After(waitFor):
			require.FailNow(t, "oversized response was not reported")
		}

		rc.Update()
		assert.Zero(t, rec.count())
	})
}

func TestRequestClient_ReceiveUnsupported(t *testing.T) {
	rc := newRequestClient(t, &mockSender{fn: serving(NewReceiverMux())}, RequestClientConfig{})

	err := rc.RegisterCallReceiver("echo", ReceiverFunc(addReceiver))
	require.ErrorIs(t, err, ErrReceiveUnsupported)

	rc.UnregisterCallReceiver("echo", nil)
}

func TestRequestClient_Close(t *testing.T) {
	exits := 0

	rc := NewRequestClient(&mockSender{fn: serving(NewReceiverMux())}, RequestClientConfig{
		Logger: quietLogger(),
		Callbacks: Callbacks{OnExit: func(_ context.Context, err error) {
			assert.NoError(t, err)
			exits++
		}},
	})

	rc.Close()
	rc.Close()

	assert.Equal(t, 1, exits)
	require.ErrorIs(t, rc.CallRemoteProcedure("ping", nil, nil, 0), ErrClosed)
}
