package pollrpc

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testMux serves the procedures used by the HTTP tests.
func testMux(t *testing.T) *ReceiverMux {
	t.Helper()

	mux := NewReceiverMux()
	require.NoError(t, mux.RegisterFunc("add", addReceiver))
	require.NoError(t, mux.RegisterFunc("ping", func(context.Context, string, []Value) (Value, error) {
		return String("pong"), nil
	}))
	require.NoError(t, mux.RegisterFunc("fail", func(context.Context, string, []Value) (Value, error) {
		return Value{}, NewError(123, "test error")
	}))
	require.NoError(t, mux.RegisterFunc("method", func(ctx context.Context, _ string, _ []Value) (Value, error) {
		req, ok := ctx.Value(CtxHTTPRequest).(*http.Request)
		if !ok {
			return String("context key not found"), nil
		}

		return String(req.Method), nil
	}))

	return mux
}

// parseReplies splits a concatenated reply body into messages.
func parseReplies(t *testing.T, body []byte) []Value {
	t.Helper()

	frames, err := NewFramer(0).Feed(body)
	require.NoError(t, err)

	out := make([]Value, 0, len(frames))

	for _, frame := range frames {
		v, err := ParseValue(frame)
		require.NoError(t, err)

		out = append(out, v)
	}

	return out
}

func TestProcessRequest(t *testing.T) {
	mux := testMux(t)

	tests := []struct {
		name    string
		body    string
		results map[int64]Value
		errors  map[int64]int64
	}{
		{
			name:    "Single",
			body:    `{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`,
			results: map[int64]Value{1: Integer(3)},
		},
		{
			name:    "Concatenated",
			body:    `{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}{"jsonrpc":"2.0","method":"ping","id":2}`,
			results: map[int64]Value{1: Integer(3), 2: String("pong")},
		},
		{
			name:    "Array",
			body:    `[{"jsonrpc":"2.0","method":"add","params":[2,2],"id":1},{"jsonrpc":"2.0","method":"fail","id":2}]`,
			results: map[int64]Value{1: Integer(4)},
			errors:  map[int64]int64{2: 123},
		},
		{
			name:   "UnknownMethod",
			body:   `{"jsonrpc":"2.0","method":"nope","id":5}`,
			errors: map[int64]int64{5: CodeMethodNotFound},
		},
		{
			name:   "InvalidParams",
			body:   `{"jsonrpc":"2.0","method":"add","params":["a"],"id":6}`,
			errors: map[int64]int64{6: CodeInvalidParams},
		},
		{
			name:    "NoVersionStillServed",
			body:    `{"method":"ping","id":7}`,
			results: map[int64]Value{7: String("pong")},
		},
		{
			name:    "GarbageSkipped",
			body:    `{"jsonrpc":"2.0","method":"ping","id":1} {"broken": } 42 {"jsonrpc":"2.0","method":"ping","id":2}`,
			results: map[int64]Value{1: String("pong"), 2: String("pong")},
		},
		{
			name: "NotificationsOnly",
			body: `{"jsonrpc":"2.0","method":"ping"}[{"jsonrpc":"2.0","method":"add","params":[1,1]}]`,
		},
		{
			name: "Empty",
			body: ``,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := ProcessRequest(t.Context(), []byte(tc.body), mux)

			if len(tc.results)+len(tc.errors) == 0 {
				assert.Empty(t, out)
				return
			}

			replies := parseReplies(t, out)
			require.Len(t, replies, len(tc.results)+len(tc.errors))

			for _, reply := range replies {
				resp, isResponse, ok := parseResponse(reply)
				require.True(t, isResponse)
				require.True(t, ok, reply.String())

				if want, found := tc.results[int64(resp.id)]; found {
					assert.True(t, want.Equal(resp.result), "id %d: got %s", resp.id, resp.result)
					continue
				}

				want, found := tc.errors[int64(resp.id)]
				require.True(t, found, "unexpected reply %s", reply)
				require.NotNil(t, resp.err)
				assert.Equal(t, want, resp.err.Code)
			}
		})
	}
}

func TestProcessRequest_MethodNotFoundData(t *testing.T) {
	out := ProcessRequest(t.Context(), []byte(`{"jsonrpc":"2.0","method":"nope","id":1}`), NewReceiverMux())

	replies := parseReplies(t, out)
	require.Len(t, replies, 1)

	resp, _, ok := parseResponse(replies[0])
	require.True(t, ok)
	require.NotNil(t, resp.err)
	assert.Equal(t, CodeMethodNotFound, resp.err.Code)
	assert.True(t, resp.err.Data.Equal(String("nope")))
}

func TestProcessRequest_InvalidMessageCallback(t *testing.T) {
	var invalid []Value

	cb := &Callbacks{OnInvalidMessage: func(_ context.Context, msg Value) { invalid = append(invalid, msg) }}

	out := processRequest(t.Context(), quietLogger(), cb, []byte(`[42,{"jsonrpc":"2.0","result":1,"id":1}]`), testMux(t))
	assert.Empty(t, out)
	assert.Len(t, invalid, 2)
}

func TestHTTPHandler_ServeHTTP(t *testing.T) {
	handler := NewHTTPHandler(testMux(t))
	handler.Logger = quietLogger()
	handler.MaxBytes = 256

	server := httptest.NewServer(handler)
	defer server.Close()

	post := func(t *testing.T, contentType, body string) (*http.Response, []byte) {
		t.Helper()

		resp, err := http.Post(server.URL, contentType, strings.NewReader(body))
		require.NoError(t, err)

		defer resp.Body.Close()

		out, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		return resp, out
	}

	t.Run("Call", func(t *testing.T) {
		resp, body := post(t, "application/json", `{"jsonrpc":"2.0","method":"add","params":[20,22],"id":3}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		replies := parseReplies(t, body)
		require.Len(t, replies, 1)

		r, _, ok := parseResponse(replies[0])
		require.True(t, ok)
		assert.Equal(t, uint32(3), r.id)
		assert.True(t, r.result.Equal(Integer(42)))
	})

	t.Run("ContextRequest", func(t *testing.T) {
		_, body := post(t, "application/json; charset=utf-8", `{"jsonrpc":"2.0","method":"method","id":1}`)

		replies := parseReplies(t, body)
		require.Len(t, replies, 1)

		r, _, ok := parseResponse(replies[0])
		require.True(t, ok)
		assert.True(t, r.result.Equal(String(http.MethodPost)))
	})

	t.Run("Notification", func(t *testing.T) {
		resp, body := post(t, "application/json", `{"jsonrpc":"2.0","method":"ping"}`)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Empty(t, body)
	})

	t.Run("UnsupportedMediaType", func(t *testing.T) {
		resp, _ := post(t, "text/plain", `{"jsonrpc":"2.0","method":"ping","id":1}`)
		assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	})

	t.Run("TooLarge", func(t *testing.T) {
		params := strings.Repeat("1,", 200) + "1"
		resp, _ := post(t, "application/json", `{"jsonrpc":"2.0","method":"add","params":[`+params+`],"id":1}`)
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	})
}
