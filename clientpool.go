package pollrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/jackc/puddle/v2"
)

const (
	// DefaultPoolDialTimeout specifies the default timeout (30 seconds) for a new connection of the
	// pool to leave the [Connecting] state. See [ClientPoolConfig.DialTimeout].
	DefaultPoolDialTimeout = 30
	// DefaultPoolIdleTimeout specifies the default timeout (300 seconds or 5 minutes)
	// after which idle clients in the pool are disconnected. See [ClientPoolConfig.IdleTimeout].
	DefaultPoolIdleTimeout = 300
)

// ErrRetriesExceeded is returned by [ClientPool] methods when every attempt failed because
// the connection was lost. The error of the last attempt is joined with this error.
var ErrRetriesExceeded = errors.New("pollrpc: retries exceeded")

// ClientPoolConfig holds configuration parameters for creating a [ClientPool].
type ClientPoolConfig struct {
	// URI of the server. See [DialStream] for supported schemes.
	URI string

	// Client configures every connection of the pool.
	Client ClientConfig

	// IdleTimeout defines the maximum duration a client can remain idle in the pool
	// before being disconnected. Defaults to [DefaultPoolIdleTimeout] seconds if zero.
	// A negative value disables idle connection closing.
	IdleTimeout time.Duration

	// DialTimeout specifies the maximum time allowed for a new client to connect.
	// Defaults to [DefaultPoolDialTimeout] seconds if zero or negative.
	DialTimeout time.Duration

	// Retries specifies how many times an operation is retried on a new connection after
	// the connection it used was lost. Defaults to 1 if zero or negative.
	Retries int

	// MaxSize defines the maximum number of clients in the pool (both idle and in-use).
	// If zero or negative, it defaults to `min(runtime.NumCPU(), runtime.GOMAXPROCS(-1)) * 2`.
	MaxSize int32

	// AcquireOnCreate, if true, connects one client when the pool is created and fails
	// [NewClientPool] if that is not possible.
	AcquireOnCreate bool
}

// ClientPool keeps connected [*Client]s to one server for use by several goroutines.
//
// A client acquired from the pool is used by one goroutine at a time, which is also the
// goroutine calling its Update.
type ClientPool struct {
	pool    *puddle.Pool[*Client]
	idle    *time.Timer
	retries int
	closed  bool
	mu      sync.Mutex
}

// PooledClient is a [*Client] borrowed from a [ClientPool]. It must be released.
type PooledClient struct {
	res *puddle.Resource[*Client]
}

// Client returns the borrowed client.
func (pc *PooledClient) Client() *Client {
	return pc.res.Value()
}

// Release returns the client to the pool, or drops it when it lost its connection.
func (pc *PooledClient) Release() {
	releaseMaybeRetry(pc.res, nil)
}

// NewClientPool creates a new [ClientPool].
//
// Example:
//
//	pool, err := pollrpc.NewClientPool(context.Background(), pollrpc.ClientPoolConfig{
//	    URI:     "tcp:localhost:9090",
//	    MaxSize: 10,
//	})
//	if err != nil {
//	    log.Fatalf("Failed to create client pool: %v", err)
//	}
//	defer pool.Close()
//
//	sum, err := pool.Call(ctx, "add", pollrpc.Integer(1), pollrpc.Integer(2))
func NewClientPool(nctx context.Context, config ClientPoolConfig) (*ClientPool, error) {
	if config.IdleTimeout == 0 {
		config.IdleTimeout = time.Duration(DefaultPoolIdleTimeout) * time.Second
	}

	if config.DialTimeout <= 0 {
		config.DialTimeout = time.Duration(DefaultPoolDialTimeout) * time.Second
	}

	if config.MaxSize <= 0 {
		//nolint:gosec,mnd //How many cpus do you think we have? Puddle requires int32.
		config.MaxSize = int32(min(runtime.NumCPU(), runtime.GOMAXPROCS(-1)) * 2)
	}

	pool, err := puddle.NewPool[*Client](&puddle.Config[*Client]{
		Constructor: func(ctx context.Context) (*Client, error) {
			dialCtx, stop := context.WithTimeout(ctx, config.DialTimeout)
			defer stop()

			return connectClient(dialCtx, config.URI, config.Client)
		},
		Destructor: func(client *Client) { client.Disconnect() },
		MaxSize:    config.MaxSize,
	})
	if err != nil {
		return nil, err
	}

	if config.AcquireOnCreate {
		res, err := pool.Acquire(nctx)
		if err != nil {
			defer pool.Close()
			return nil, err
		}

		defer res.Release()
	}

	cpool := &ClientPool{pool: pool}
	cpool.retries = max(config.Retries, 1) + 1

	if config.IdleTimeout > 0 {
		cpool.idle = time.AfterFunc(config.IdleTimeout, func() {
			cpool.mu.Lock()
			defer cpool.mu.Unlock()

			if cpool.closed {
				return
			}

			nextWait := config.IdleTimeout

			for _, res := range cpool.pool.AcquireAllIdle() {
				idleTime := res.IdleDuration()
				if idleTime >= config.IdleTimeout {
					res.Destroy()
				} else {
					nextWait = min(nextWait, config.IdleTimeout-idleTime)
					res.ReleaseUnused()
				}
			}

			cpool.idle.Reset(nextWait)
		})
	}

	return cpool, nil
}

// connectClient connects a new client and waits until it leaves the [Connecting] state.
func connectClient(ctx context.Context, uri string, cfg ClientConfig) (*Client, error) {
	client := NewClient()
	client.Connect(uri, cfg)

	ticker := time.NewTicker(cfg.withDefaults().PollInterval)
	defer ticker.Stop()

	for {
		client.Update()

		switch state := client.State(); state {
		case Connected:
			return client, nil
		case Connecting:
		default:
			client.Disconnect()

			return nil, fmt.Errorf("%w: %s (%s)", ErrNotConnected, uri, state)
		}

		select {
		case <-ctx.Done():
			client.Disconnect()

			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close disconnects idle clients, waits for borrowed ones to be released and disconnects those too.
// It is safe to call Close multiple times.
func (cp *ClientPool) Close() {
	cp.mu.Lock()
	if cp.closed {
		cp.mu.Unlock()
		return
	}

	cp.closed = true

	if cp.idle != nil {
		cp.idle.Stop()
	}
	cp.mu.Unlock()

	cp.pool.Close()
}

// Reset disconnects all idle clients and marks borrowed ones to be dropped on release.
func (cp *ClientPool) Reset() {
	cp.pool.Reset()
}

// Acquire borrows a connected client, connecting a new one when none is idle.
// Clients that lost their connection while idle are dropped and replaced.
func (cp *ClientPool) Acquire(ctx context.Context) (*PooledClient, error) {
	var err error

	for range cp.retries {
		res, aerr := cp.pool.Acquire(ctx)
		if aerr != nil {
			return nil, aerr
		}

		client := res.Value()
		client.Update()

		if client.State() == Connected {
			return &PooledClient{res: res}, nil
		}

		err = fmt.Errorf("%w: %s", ErrNotConnected, client.State())

		res.Destroy()
	}

	return nil, errors.Join(ErrRetriesExceeded, err)
}

// releaseMaybeRetry releases res after an operation that ended with err, reporting
// whether the operation is worth retrying on another connection.
func releaseMaybeRetry(res *puddle.Resource[*Client], err error) (needsRetry bool) {
	client := res.Value()
	client.Update()

	if err == nil {
		if client.State() != Connected {
			res.Destroy()
		} else {
			res.Release()
		}

		return false
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		res.Release()

		return false
	case errors.Is(err, ErrNotConnected), errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, os.ErrClosed):
		res.Destroy()

		return true
	}

	// JSON-RPC errors and local failures leave the connection usable
	if client.State() != Connected {
		res.Destroy()
	} else {
		res.Release()
	}

	return false
}

// Call borrows a client, makes the call with [Call] and returns the client to the pool.
// The call is retried on another client when the connection is lost before the reply arrives,
// so procedures called this way should be safe to repeat.
func (cp *ClientPool) Call(ctx context.Context, procedure string, params ...Value) (result Value, err error) {
	for range cp.retries {
		if cerr := ctx.Err(); cerr != nil {
			return Value{}, cerr
		}

		pc, aerr := cp.Acquire(ctx)
		if aerr != nil {
			return Value{}, aerr
		}

		result, err = Call(ctx, pc.Client(), procedure, params...)

		if needsRetry := releaseMaybeRetry(pc.res, err); needsRetry {
			continue
		}

		return result, err
	}

	return Value{}, errors.Join(ErrRetriesExceeded, err)
}

// Notify borrows a client, sends a notification, waits for it to be written and returns
// the client to the pool.
func (cp *ClientPool) Notify(ctx context.Context, procedure string, params ...Value) (err error) {
	for range cp.retries {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		pc, aerr := cp.Acquire(ctx)
		if aerr != nil {
			return aerr
		}

		client := pc.Client()

		err = client.CallRemoteProcedure(procedure, params, nil, 0)
		if err == nil {
			client.Flush()
		}

		if needsRetry := releaseMaybeRetry(pc.res, err); needsRetry {
			continue
		}

		return err
	}

	return errors.Join(ErrRetriesExceeded, err)
}
