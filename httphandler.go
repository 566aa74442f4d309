package pollrpc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
)

// ContextKey is used as keys for context values.
type ContextKey int

const (
	// Key for the underlying *http.Request.
	CtxHTTPRequest ContextKey = iota
)

// ProcessRequest runs every call in body against mux and returns the concatenated replies.
//
// Body may hold several JSON values back to back; arrays are handled element by element.
// Undecodable values and values that are not calls are skipped. Notifications produce no
// reply, so the result is empty when body held nothing but notifications.
func ProcessRequest(ctx context.Context, body []byte, mux *ReceiverMux) []byte {
	return processRequest(ctx, slog.Default(), new(Callbacks), body, mux)
}

func processRequest(ctx context.Context, log *slog.Logger, cb *Callbacks, body []byte, mux *ReceiverMux) []byte {
	var out bytes.Buffer

	frames, err := NewFramer(0).Feed(body)
	if err != nil {
		cb.runOnDecodingError(ctx, nil, err)
	}

	for _, frame := range frames {
		msg, err := ParseValue(frame)
		if err != nil {
			log.DebugContext(ctx, "Undecodable request skipped", "error", err)
			cb.runOnDecodingError(ctx, frame, err)

			continue
		}

		serveEntity(ctx, log, cb, &out, msg, mux)
	}

	return out.Bytes()
}

func serveEntity(ctx context.Context, log *slog.Logger, cb *Callbacks, out *bytes.Buffer, msg Value, mux *ReceiverMux) {
	switch msg.Kind() {
	case KindArray:
		for _, elem := range msg.Elems() {
			serveEntity(ctx, log, cb, out, elem, mux)
		}

		return
	case KindObject:
		if reply, ok := mux.serveCall(ctx, log, cb, msg); ok {
			out.Write(reply)

			return
		}
	}

	log.WarnContext(ctx, "Invalid request skipped", "message", msg.String())
	cb.runOnInvalidMessage(ctx, msg)
}

// HTTPHandler serves JSON-RPC calls posted over HTTP, for use with [RequestClient] and [HTTPSender].
//
// HTTPHandler will set the context key of [CtxHTTPRequest] with the current [*http.Request].
type HTTPHandler struct {
	mux *ReceiverMux
	// Logger defaults to [slog.Default].
	Logger    *slog.Logger
	Callbacks Callbacks
	// MaxBytes limits the request body when positive.
	MaxBytes int64
}

// NewHTTPHandler returns an [*HTTPHandler] dispatching to mux.
func NewHTTPHandler(mux *ReceiverMux) *HTTPHandler {
	return &HTTPHandler{mux: mux}
}

// ServeHTTP implements [http.Handler].
func (h *HTTPHandler) ServeHTTP(resp http.ResponseWriter, req *http.Request) {
	// Only handle json
	if mt, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type")); mt != "application/json" {
		resp.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}

	body := req.Body

	if h.MaxBytes > 0 {
		body = http.MaxBytesReader(resp, body, h.MaxBytes)
	}

	buf, err := io.ReadAll(body)
	if err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			resp.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}

		resp.WriteHeader(http.StatusBadRequest)

		return
	}

	log := h.Logger
	if log == nil {
		log = slog.Default()
	}

	ctx := context.WithValue(req.Context(), CtxHTTPRequest, req)

	reply := processRequest(ctx, log, &h.Callbacks, buf, h.mux)

	if len(reply) == 0 {
		resp.WriteHeader(http.StatusNoContent)
		return
	}

	resp.Header().Set("Content-Type", "application/json")
	_, _ = resp.Write(reply)
}
