package pollrpc

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

var (
	ErrAcceptTimeout = errors.New("pollrpc: accept timed out")
	ErrMissingTLS    = errors.New("pollrpc: tls scheme requires a tls config")
)

// ServerConfig configures a [Server].
type ServerConfig struct {
	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Negotiator, when set, runs a handshake on every accepted connection.
	Negotiator Negotiator

	// TLSConfig is required for the tls schemes.
	TLSConfig *tls.Config

	// Client is the template for the clients serving accepted connections.
	// Servers never send pings, so Client.PingSendPeriod is ignored.
	Client ClientConfig

	// PingTimeout drops peers that stay silent for longer. Zero selects [DefaultPingTimeout],
	// negative disables the check.
	PingTimeout time.Duration

	// AcceptRate limits accepted connections per second. Zero means unlimited.
	AcceptRate float64
	// AcceptBurst is the number of connections accepted at once regardless of AcceptRate. Defaults to 1.
	AcceptBurst int
}

// Server accepts connections and serves each one with a [*Client].
//
// Accepted clients answer [PingMethod] calls so that peers with ping timeouts stay
// connected, and never send pings of their own.
type Server struct {
	ln      net.Listener
	limiter *rate.Limiter
	log     *slog.Logger
	tls     *tls.Config
	cfg     ServerConfig
	closed  atomic.Bool
}

// Listen opens a listener on listenURI.
//
// Supported schemes: tcp, tcp4, tcp6, unix, tls, tls4, tls6
//
// Example uris: 'tcp:127.0.0.1:9090', 'tcp::9090', 'unix:///tmp/mysocket', 'tls::9443'
func Listen(listenURI string, cfg ServerConfig) (*Server, error) {
	uri, err := url.Parse(listenURI)
	if err != nil {
		return nil, err
	}

	var (
		network = uri.Scheme
		addr    = hostPort(listenURI, uri)
		tlsConf *tls.Config
	)

	switch uri.Scheme {
	case "tcp", "tcp4", "tcp6":
	case "unix":
		addr = uri.Path
	case "tls", "tls4", "tls6":
		if cfg.TLSConfig == nil {
			return nil, ErrMissingTLS
		}

		network = "tcp" + strings.TrimPrefix(uri.Scheme, "tls")
		tlsConf = cfg.TLSConfig
	default:
		return nil, ErrUnknownScheme
	}

	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}

	return newServer(ln, tlsConf, cfg), nil
}

// NewServer serves connections accepted from ln.
func NewServer(ln net.Listener, cfg ServerConfig) *Server {
	return newServer(ln, nil, cfg)
}

func newServer(ln net.Listener, tlsConf *tls.Config, cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = DefaultPingTimeout
	}

	if cfg.Client.Logger == nil {
		cfg.Client.Logger = cfg.Logger
	}

	cfg.Client.PingSendPeriod = PingDisabled
	cfg.Client.PingTimeout = cfg.PingTimeout
	cfg.Client.Negotiator = nil
	cfg.Client = cfg.Client.withDefaults()

	s := &Server{ln: ln, tls: tlsConf, cfg: cfg, log: cfg.Logger}

	if cfg.AcceptRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), max(cfg.AcceptBurst, 1))
	}

	return s
}

// IsGood reports whether the server is listening.
func (s *Server) IsGood() bool {
	return s.ln != nil && !s.closed.Load()
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Close stops listening. Clients already accepted are not affected.
func (s *Server) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	return s.ln.Close()
}

// Accept waits for the next connection, for at most timeout when timeout is positive,
// and returns a client serving it.
//
// Returns [ErrAcceptTimeout] when no connection arrived in time and an error wrapping
// [ErrNegotiation] when the peer failed the handshake; its connection is closed.
func (s *Server) Accept(ctx context.Context, timeout time.Duration) (*Client, error) {
	actx := ctx

	if timeout > 0 {
		var stop context.CancelFunc

		actx, stop = context.WithTimeout(ctx, timeout)
		defer stop()
	}

	conn, err := s.acceptConn(actx)
	if err != nil {
		return nil, err
	}

	return s.adopt(ctx, conn)
}

type deadlineListener interface {
	SetDeadline(t time.Time) error
}

func (s *Server) acceptConn(ctx context.Context) (net.Conn, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, acceptError(ctx, err)
		}
	}

	if dl, ok := s.ln.(deadlineListener); ok {
		deadline, _ := ctx.Deadline()
		_ = dl.SetDeadline(deadline)

		fired := make(chan struct{})
		stop := context.AfterFunc(ctx, func() {
			_ = dl.SetDeadline(time.Unix(1, 0))
			close(fired)
		})

		// The deadline must not be touched once Accept returns.
		defer func() {
			if !stop() {
				<-fired
			}
		}()
	}

	conn, err := s.ln.Accept()
	if err != nil {
		return nil, acceptError(ctx, err)
	}

	if s.tls != nil {
		conn = tls.Server(conn, s.tls)
	}

	return conn, nil
}

func acceptError(ctx context.Context, err error) error {
	var ne net.Error

	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return errors.Join(err, ctx.Err())
	case ctx.Err() != nil, errors.As(err, &ne) && ne.Timeout():
		return ErrAcceptTimeout
	}

	return err
}

// adopt negotiates on stream and starts a server side client on it.
func (s *Server) adopt(ctx context.Context, stream io.ReadWriteCloser) (*Client, error) {
	if s.cfg.Negotiator != nil {
		var err error

		stream, err = negotiate(ctx, stream, s.cfg.Negotiator, s.cfg.Client.ConnectTimeout, s.cfg.Client.CompressionLevel)
		if err != nil {
			return nil, err
		}
	}

	client := NewClient()
	_ = client.RegisterCallReceiver(PingMethod, ReceiverFunc(answerPing))
	client.UseStream(stream, s.cfg.Client)

	return client, nil
}

func answerPing(context.Context, string, []Value) (Value, error) {
	return Nil(), nil
}

// Serve accepts connections until ctx is cancelled or the listener fails.
// Each peer is served on its own goroutine: binder is called once, then the client is
// updated every [ClientConfig.PollInterval] until the peer disconnects.
//
// The listener is closed when the context is cancelled. Serve waits for all peers to finish.
func (s *Server) Serve(ctx context.Context, binder Binder) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	sctx, stop := context.WithCancel(ctx)
	defer stop()

	// Close listener on context cancel
	context.AfterFunc(sctx, func() { _ = s.Close() })

	for {
		conn, err := s.acceptConn(sctx)
		if err != nil {
			if errors.Is(err, ErrAcceptTimeout) && sctx.Err() == nil {
				continue
			}

			return errors.Join(err, ctx.Err())
		}

		wg.Add(1)

		go func() {
			defer wg.Done()

			client, err := s.adopt(sctx, conn)
			if err != nil {
				s.log.WarnContext(sctx, "Peer rejected", "remote", conn.RemoteAddr(), "error", err)

				return
			}

			s.servePeer(sctx, client, binder)
		}()
	}
}

// servePeer binds client and pumps it until it disconnects or ctx ends.
func (s *Server) servePeer(ctx context.Context, client *Client, binder Binder) {
	pctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	defer client.Disconnect()

	if binder != nil {
		binder.Bind(pctx, client, cancel)
	}

	ticker := time.NewTicker(s.cfg.Client.PollInterval)
	defer ticker.Stop()

	for {
		client.Update()

		if !client.IsConnected() {
			s.log.DebugContext(pctx, "Peer disconnected", "remote", client.RemoteAddr())

			return
		}

		select {
		case <-pctx.Done():
			return
		case <-ticker.C:
		}
	}
}
