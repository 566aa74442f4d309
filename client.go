package pollrpc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ConnectionState describes the connection of a [Client].
type ConnectionState int32

const (
	NotConnected ConnectionState = iota
	Connecting
	Connected
	// ConnectionError is reported when dialing or negotiation failed.
	ConnectionError
)

var connectionStateNames = [...]string{"NotConnected", "Connecting", "Connected", "ConnectionError"}

func (s ConnectionState) String() string {
	if int(s) < len(connectionStateNames) && s >= 0 {
		return connectionStateNames[s]
	}

	return fmt.Sprintf("ConnectionState(%d)", int32(s))
}

const (
	// DefaultPingSendPeriod is how long the connection may stay silent before a ping is sent.
	DefaultPingSendPeriod = 5 * time.Second
	// DefaultPingTimeout is how long the peer may stay silent before the connection is dropped.
	DefaultPingTimeout = 20 * time.Second
	// DefaultConnectTimeout bounds dialing and negotiation.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultPollInterval is the tick of the background goroutine, and of [Server.Serve].
	DefaultPollInterval = 10 * time.Millisecond
	// DefaultMaxMessageSize is the largest message, in bytes, sent or accepted.
	DefaultMaxMessageSize = 4 << 20
	// DefaultReadBufferSize is the size of each read from the connection.
	DefaultReadBufferSize = 16 << 10

	// PingDisabled may be used for [ClientConfig.PingSendPeriod] and [ClientConfig.PingTimeout].
	PingDisabled time.Duration = -1
)

var (
	ErrNotConnected = errors.New("pollrpc: not connected")
	ErrPingTimeout  = errors.New("pollrpc: ping timeout")
	ErrClosed       = errors.New("pollrpc: client closed")
)

// ClientConfig configures a connection made by [Client.Connect] or [Client.UseStream].
// Zero values select the matching Default constant.
type ClientConfig struct {
	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Negotiator, when set, runs a handshake right after dialing.
	Negotiator Negotiator

	// TLSConfig is used for the tls and wss schemes.
	TLSConfig *tls.Config

	Callbacks Callbacks

	// PingSendPeriod is the idle time after which a ping is sent. Negative disables pings.
	PingSendPeriod time.Duration

	// PingTimeout is the time without receiving anything after which the connection is
	// dropped. Negative disables the check.
	PingTimeout time.Duration

	ConnectTimeout time.Duration
	PollInterval   time.Duration

	// MaxMessageSize limits both outgoing calls and incoming messages. Negative disables the limit.
	MaxMessageSize int

	ReadBufferSize int

	// CompressionLevel is the zlib level used when the Negotiator asks for compression.
	// Zero selects [DefaultCompressionLevel].
	CompressionLevel int
}

func (cfg ClientConfig) withDefaults() ClientConfig {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.PingSendPeriod == 0 {
		cfg.PingSendPeriod = DefaultPingSendPeriod
	}

	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = DefaultPingTimeout
	}

	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}

	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}

	if cfg.CompressionLevel == 0 {
		cfg.CompressionLevel = DefaultCompressionLevel
	}

	return cfg
}

// clientRun is one connection attempt and its background goroutine.
type clientRun struct {
	ctx    context.Context //nolint:containedctx //Lives as long as the connection
	cancel context.CancelFunc
	done   chan struct{}
	log    *slog.Logger
	remote atomic.Value
	cfg    ClientConfig
}

// Client is a bi-directional JSON-RPC 2.0 peer over a persistent connection.
//
// All network I/O happens on a background goroutine. Received messages are only
// processed, and callbacks only run, when the owner calls [Client.Update], typically
// once per iteration of its main loop.
//
// Client implements [RPCClient]. It is safe for concurrent use, but callbacks are
// invoked from whichever goroutine calls Update.
//
// Example:
//
//	client := pollrpc.NewClient()
//	client.Connect("tcp:127.0.0.1:9090", pollrpc.ClientConfig{})
//	defer client.Disconnect()
//
//	_ = client.CallRemoteProcedure("add", []pollrpc.Value{pollrpc.Integer(1), pollrpc.Integer(2)}, &pollrpc.CallerFuncs{
//	    OnResult: func(result pollrpc.Value, _ uint32) { fmt.Println(result) },
//	}, 1)
//
//	for client.IsConnected() {
//	    client.Update()
//	    time.Sleep(10 * time.Millisecond)
//	}
type Client struct {
	mux      *ReceiverMux
	pending  *pendingTable
	outbound *queue[[]byte]
	inbound  *queue[Value]
	run      *clientRun
	lastRecv atomic.Int64
	recvSnap atomic.Int64
	live     atomic.Int32
	state    atomic.Int32
	sending  atomic.Bool
	mu       sync.Mutex
}

// NewClient returns a disconnected [*Client].
func NewClient() *Client {
	return &Client{
		mux:      NewReceiverMux(),
		pending:  newPendingTable(),
		outbound: newQueue[[]byte](),
		inbound:  newQueue[Value](),
	}
}

// Connect disconnects any current connection and starts connecting to address in the
// background. See [DialStream] for the supported address schemes.
//
// The state is [Connecting] when Connect returns. The outcome is reported by
// [Client.State] after a later [Client.Update]. Calls still pending from an earlier
// connection are dropped without a callback.
func (c *Client) Connect(address string, cfg ClientConfig) {
	c.start(cfg, func(ctx context.Context, cfg ClientConfig) (io.ReadWriteCloser, error) {
		dctx, stop := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer stop()

		stream, err := DialStream(dctx, address, cfg.TLSConfig)
		if err != nil {
			return nil, err
		}

		if cfg.Negotiator == nil {
			return stream, nil
		}

		return negotiate(ctx, stream, cfg.Negotiator, cfg.ConnectTimeout, cfg.CompressionLevel)
	})
}

// UseStream runs the client over an already established stream, skipping dialing and
// negotiation. The stream is closed when the client disconnects.
func (c *Client) UseStream(stream io.ReadWriteCloser, cfg ClientConfig) {
	c.start(cfg, func(context.Context, ClientConfig) (io.ReadWriteCloser, error) {
		return stream, nil
	})
}

func (c *Client) start(cfg ClientConfig, open openFunc) {
	c.Disconnect()

	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	run := &clientRun{ctx: ctx, cancel: cancel, done: make(chan struct{}), cfg: cfg, log: cfg.Logger}

	c.outbound.drain()
	c.inbound.drain()
	c.pending.reset()
	c.sending.Store(false)
	c.setLastReceive(time.Now())
	c.live.Store(int32(Connecting))
	c.state.Store(int32(Connecting))

	c.mu.Lock()
	c.run = run
	c.mu.Unlock()

	go c.loop(run, open)
}

func (c *Client) current() *clientRun {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.run
}

// CallRemoteProcedure implements [RPC].
//
// Returns [ErrNotConnected] unless the client is connecting or connected, and
// [ErrJSONTooLarge] when the encoded call exceeds [ClientConfig.MaxMessageSize].
// Pending calls survive a disconnect until the next [Client.Connect] or [Client.UseStream];
// use [Client.RemoveProcedureCaller] to drop them sooner.
func (c *Client) CallRemoteProcedure(procedure string, params []Value, caller Caller, id uint32) error {
	switch ConnectionState(c.live.Load()) {
	case Connecting, Connected:
	default:
		return ErrNotConnected
	}

	var wire uint32

	if caller != nil {
		wire = c.pending.add(caller, id)
	}

	msg := encodeRequest(procedure, params, wire, caller != nil)

	if run := c.current(); run != nil && run.cfg.MaxMessageSize > 0 && len(msg) > run.cfg.MaxMessageSize {
		if caller != nil {
			c.pending.take(wire)
		}

		return fmt.Errorf("%w: procedure '%s' encodes to %d bytes", ErrJSONTooLarge, procedure, len(msg))
	}

	c.outbound.push(msg)

	return nil
}

// RegisterCallReceiver implements [RPC]. A previous receiver for procedure is replaced.
func (c *Client) RegisterCallReceiver(procedure string, r Receiver) error {
	return c.mux.Register(procedure, r)
}

// UnregisterCallReceiver implements [RPC].
func (c *Client) UnregisterCallReceiver(procedure string, r Receiver) {
	c.mux.Unregister(procedure, r)
}

// RemoveProcedureCaller implements [RPC].
func (c *Client) RemoveProcedureCaller(caller Caller) {
	c.pending.removeCaller(caller)
}

// Receivers returns the receiver table of the client.
func (c *Client) Receivers() *ReceiverMux {
	return c.mux
}

// Update implements [RPC]. It refreshes the values reported by [Client.State] and
// [Client.LastReceiveTime], then dispatches every message received so far.
//
// Receivers may call Update themselves; remaining messages are then processed by the inner call.
func (c *Client) Update() {
	c.state.Store(c.live.Load())
	c.recvSnap.Store(c.lastRecv.Load())

	ctx, log, cb := context.Background(), slog.Default(), new(Callbacks)

	if run := c.current(); run != nil {
		ctx, log, cb = run.ctx, run.log, &run.cfg.Callbacks
	}

	for {
		msg, ok := c.inbound.pop()
		if !ok {
			return
		}

		c.dispatch(ctx, log, cb, msg)
	}
}

// State returns the connection state as of the last [Client.Update].
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// IsConnected reports whether the client was connecting or connected as of the last [Client.Update].
func (c *Client) IsConnected() bool {
	switch c.State() {
	case Connecting, Connected:
		return true
	}

	return false
}

// LastReceiveTime returns when data was last received, as of the last [Client.Update].
func (c *Client) LastReceiveTime() time.Time {
	return time.Unix(0, c.recvSnap.Load())
}

func (c *Client) setLastReceive(t time.Time) {
	c.lastRecv.Store(t.UnixNano())
}

func (c *Client) lastReceive() time.Time {
	return time.Unix(0, c.lastRecv.Load())
}

// RemoteAddr returns the address of the peer, or nil when it is unknown.
func (c *Client) RemoteAddr() net.Addr {
	run := c.current()
	if run == nil {
		return nil
	}

	addr, _ := run.remote.Load().(net.Addr)

	return addr
}

// Flush blocks until every queued message has been written, or the connection ends.
func (c *Client) Flush() {
	run := c.current()
	if run == nil {
		return
	}

	ticker := time.NewTicker(run.cfg.PollInterval)
	defer ticker.Stop()

	for c.outbound.len() > 0 || c.sending.Load() {
		select {
		case <-run.done:
			return
		case <-ticker.C:
		}
	}
}

// Disconnect closes the connection and waits for the background goroutine to exit.
// Unsent messages are discarded. It is safe to call Disconnect more than once.
func (c *Client) Disconnect() {
	run := c.current()
	if run == nil {
		return
	}

	run.cancel()
	<-run.done

	c.state.Store(c.live.Load())
}

var _ RPCClient = (*Client)(nil)
