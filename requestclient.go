package pollrpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

var (
	// ErrNoConnection marks a transport failure. Requests failing with it are retried.
	ErrNoConnection = errors.New("pollrpc: no connection")
	// ErrBadResponse marks a response that could not be used. It is not retried.
	ErrBadResponse = errors.New("pollrpc: bad response")
	// ErrReceiveUnsupported is returned when registering receivers on a [RequestClient].
	ErrReceiveUnsupported = errors.New("pollrpc: request based clients cannot receive calls")
)

const (
	sendFailedMessage  = "Sending of request unsuccessful."
	badResponseMessage = "Bad response from server."
)

// RequestSender delivers one request body and returns the response body.
//
// Implementations wrap [ErrNoConnection] for failures worth retrying and [ErrBadResponse]
// when the peer answered with something unusable.
type RequestSender interface {
	SendRequest(ctx context.Context, body []byte) ([]byte, error)
}

// RequestClientConfig configures a [RequestClient].
type RequestClientConfig struct {
	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	Callbacks Callbacks

	// AutoRetries is the number of extra attempts after a request failed with [ErrNoConnection].
	AutoRetries int

	// MaxBatch limits how many queued calls are sent in one request. Zero means no limit.
	MaxBatch int

	// MaxMessageSize limits outgoing calls and each message of a response.
	// Zero selects [DefaultMaxMessageSize]; negative disables the limit.
	MaxMessageSize int
}

// outboundRequest is an encoded call waiting to be sent.
type outboundRequest struct {
	msg       []byte
	wire      uint32
	hasCaller bool
}

// RequestClient is an [RPC] over a request/response transport such as HTTP.
//
// Queued calls are sent together in a single request by a background goroutine.
// Results are delivered by [RequestClient.Update], like with [Client]. A RequestClient
// can only make calls; it cannot receive them.
type RequestClient struct {
	sender   RequestSender
	pending  *pendingTable
	outbound *queue[outboundRequest]
	inbound  *queue[Value]
	ctx      context.Context //nolint:containedctx //Lives as long as the client
	cancel   context.CancelFunc
	done     chan struct{}
	log      *slog.Logger
	cfg      RequestClientConfig
	closed   atomic.Bool
}

// NewRequestClient starts a [*RequestClient] sending through sender.
// Call [RequestClient.Close] to stop its goroutine.
//
// Example:
//
//	rc := pollrpc.NewRequestClient(pollrpc.NewHTTPSender("http://127.0.0.1:8080/rpc"), pollrpc.RequestClientConfig{AutoRetries: 2})
//	defer rc.Close()
func NewRequestClient(sender RequestSender, cfg RequestClientConfig) *RequestClient {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cfg.AutoRetries = max(cfg.AutoRetries, 0)

	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	rc := &RequestClient{
		sender:   sender,
		pending:  newPendingTable(),
		outbound: newQueue[outboundRequest](),
		inbound:  newQueue[Value](),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		log:      cfg.Logger,
		cfg:      cfg,
	}

	go rc.run()

	return rc
}

// CallRemoteProcedure implements [RPC]. The call is sent by the background goroutine
// with the other calls queued at the same time.
//
// Returns [ErrJSONTooLarge] when the encoded call exceeds [RequestClientConfig.MaxMessageSize].
func (rc *RequestClient) CallRemoteProcedure(procedure string, params []Value, caller Caller, id uint32) error {
	if rc.closed.Load() {
		return ErrClosed
	}

	req := outboundRequest{hasCaller: caller != nil}

	if caller != nil {
		req.wire = rc.pending.add(caller, id)
	}

	req.msg = encodeRequest(procedure, params, req.wire, req.hasCaller)

	if rc.cfg.MaxMessageSize > 0 && len(req.msg) > rc.cfg.MaxMessageSize {
		if req.hasCaller {
			rc.pending.take(req.wire)
		}

		return fmt.Errorf("%w: call to '%s' is %d bytes", ErrJSONTooLarge, procedure, len(req.msg))
	}

	rc.outbound.push(req)

	return nil
}

// RegisterCallReceiver always fails with [ErrReceiveUnsupported].
func (rc *RequestClient) RegisterCallReceiver(procedure string, _ Receiver) error {
	rc.log.WarnContext(rc.ctx, "Request based client cannot receive calls", "procedure", procedure)

	return fmt.Errorf("procedure '%s': %w", procedure, ErrReceiveUnsupported)
}

// UnregisterCallReceiver only logs, since nothing can be registered.
func (rc *RequestClient) UnregisterCallReceiver(procedure string, _ Receiver) {
	rc.log.WarnContext(rc.ctx, "Request based client cannot receive calls", "procedure", procedure)
}

// RemoveProcedureCaller implements [RPC].
func (rc *RequestClient) RemoveProcedureCaller(c Caller) {
	rc.pending.removeCaller(c)
}

// Update implements [RPC]. Only responses are accepted; anything else is reported
// through [Callbacks.OnInvalidMessage].
func (rc *RequestClient) Update() {
	for {
		msg, ok := rc.inbound.pop()
		if !ok {
			return
		}

		rc.dispatch(msg)
	}
}

func (rc *RequestClient) dispatch(msg Value) {
	if msg.Kind() == KindArray {
		for _, elem := range msg.Elems() {
			rc.dispatch(elem)
		}

		return
	}

	resp, isResponse, ok := parseResponse(msg)
	if !isResponse || !ok {
		rc.log.WarnContext(rc.ctx, "Invalid response dropped", "message", msg.String())
		rc.cfg.Callbacks.runOnInvalidMessage(rc.ctx, msg)

		return
	}

	resolve(rc.ctx, rc.log, rc.pending, resp)
}

// Close stops the background goroutine and waits for it. Unsent calls are abandoned.
// It is safe to call Close more than once.
func (rc *RequestClient) Close() {
	if rc.closed.Swap(true) {
		<-rc.done

		return
	}

	rc.cancel()
	<-rc.done
}

// run is the background goroutine.
func (rc *RequestClient) run() {
	defer close(rc.done)
	defer rc.cfg.Callbacks.runOnExit(rc.ctx, nil)

	var backlog []outboundRequest

	for {
		select {
		case <-rc.ctx.Done():
			return
		case <-rc.outbound.wake:
		}

		backlog = append(backlog, rc.outbound.drain()...)

		for len(backlog) > 0 && rc.ctx.Err() == nil {
			n := len(backlog)
			if rc.cfg.MaxBatch > 0 {
				n = min(n, rc.cfg.MaxBatch)
			}

			rc.send(backlog[:n])
			backlog = append(backlog[:0], backlog[n:]...)
			backlog = append(backlog, rc.outbound.drain()...)
		}
	}
}

// send delivers batch, retrying while the sender reports [ErrNoConnection], and stages
// the responses. When sending fails every call with a caller receives an internal error.
func (rc *RequestClient) send(batch []outboundRequest) {
	var body bytes.Buffer

	for _, req := range batch {
		body.Write(req.msg)
	}

	var (
		resp []byte
		err  error
	)

	for attempt := range rc.cfg.AutoRetries + 1 {
		resp, err = rc.sender.SendRequest(rc.ctx, body.Bytes())
		if err == nil || !errors.Is(err, ErrNoConnection) || rc.ctx.Err() != nil {
			break
		}

		rc.log.DebugContext(rc.ctx, "Request failed", "attempt", attempt+1, "error", err)
	}

	if rc.ctx.Err() != nil {
		return
	}

	if err != nil {
		message := badResponseMessage
		if errors.Is(err, ErrNoConnection) {
			message = sendFailedMessage
		}

		rc.log.WarnContext(rc.ctx, "Request unsuccessful", "calls", len(batch), "error", err)

		failed := make([]Value, 0, len(batch))

		for _, req := range batch {
			if req.hasCaller {
				failed = append(failed, failureResponse(req.wire, message))
			}
		}

		rc.inbound.push(failed...)

		return
	}

	frames, ferr := NewFramer(rc.cfg.MaxMessageSize).Feed(resp)
	if ferr != nil {
		rc.cfg.Callbacks.runOnDecodingError(rc.ctx, resp, ferr)
	}

	msgs := make([]Value, 0, len(frames))

	for _, frame := range frames {
		msg, err := ParseValue(frame)
		if err != nil {
			rc.log.WarnContext(rc.ctx, "Undecodable response dropped", "error", err)
			rc.cfg.Callbacks.runOnDecodingError(rc.ctx, frame, err)

			continue
		}

		msgs = append(msgs, msg)
	}

	rc.inbound.push(msgs...)
}

// failureResponse builds the error response delivered for a call that could not be sent.
func failureResponse(wire uint32, message string) Value {
	return Object(map[string]Value{
		"jsonrpc": String(protocolVersion),
		"id":      Integer(int64(wire)),
		"error":   NewError(CodeInternalError, message).Value(),
	})
}

var _ RPC = (*RequestClient)(nil)
