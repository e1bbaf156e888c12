package internal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/puddle/v2"
	"github.com/lychee-technology/formsync"
	"go.uber.org/zap"
)

// Conn is the slice of a relational connection the pipeline uses.
// *pgx.Conn satisfies it, as does a pgxmock connection.
type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Dialer opens a new relational connection.
type Dialer func(ctx context.Context) (Conn, error)

// PgxDialer dials Postgres with a parsed pgx config.
func PgxDialer(cfg *pgx.ConnConfig) Dialer {
	return func(ctx context.Context) (Conn, error) {
		return pgx.ConnectConfig(ctx, cfg.Copy())
	}
}

type poolEntry struct {
	conn Conn
	used bool
}

// ConnPool is a fixed-capacity pool of validated connections. A connection is owned by
// exactly one caller between Acquire and Release.
type ConnPool struct {
	name            string
	pool            *puddle.Pool[*poolEntry]
	acquireTimeout  time.Duration
	validateTimeout time.Duration
}

// NewConnPool creates a pool of at most size connections.
func NewConnPool(name string, size int, dial Dialer, acquireTimeout, validateTimeout time.Duration) (*ConnPool, error) {
	if size <= 0 {
		return nil, formsync.NewValidationError("poolSize", "pool size must be greater than 0")
	}
	if validateTimeout <= 0 {
		validateTimeout = 2 * time.Second
	}
	p, err := puddle.NewPool(&puddle.Config[*poolEntry]{
		Constructor: func(ctx context.Context) (*poolEntry, error) {
			conn, err := dial(ctx)
			if err != nil {
				return nil, err
			}
			return &poolEntry{conn: conn}, nil
		},
		Destructor: func(e *poolEntry) {
			ctx, cancel := context.WithTimeout(context.Background(), validateTimeout)
			defer cancel()
			if err := e.conn.Close(ctx); err != nil {
				zap.S().Debugw("close discarded connection", "pool", name, "error", err)
			}
		},
		MaxSize: int32(size),
	})
	if err != nil {
		return nil, err
	}
	return &ConnPool{
		name:            name,
		pool:            p,
		acquireTimeout:  acquireTimeout,
		validateTimeout: validateTimeout,
	}, nil
}

// Name returns the pool's label.
func (p *ConnPool) Name() string { return p.name }

// Acquire checks out a validated connection using the pool's default timeout.
func (p *ConnPool) Acquire(ctx context.Context) (*PooledConn, error) {
	return p.AcquireTimeout(ctx, p.acquireTimeout)
}

// AcquireTimeout checks out a validated connection, failing with pool_exhausted when
// none becomes available within timeout. Idle connections that fail validation are
// discarded and the checkout is retried.
func (p *ConnPool) AcquireTimeout(ctx context.Context, timeout time.Duration) (*PooledConn, error) {
	acquireCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for {
		res, err := p.pool.Acquire(acquireCtx)
		if err != nil {
			return nil, p.acquireError(ctx, err)
		}

		entry := res.Value()
		if err := p.validate(acquireCtx, entry.conn); err != nil {
			res.Destroy()
			emitAcquire(p.name, outcomeInvalid)
			if !entry.used {
				return nil, formsync.NewConnectionUnavailableError("postgres", err)
			}
			zap.S().Warnw("discarding connection that failed validation", "pool", p.name, "error", err)
			continue
		}

		emitAcquire(p.name, outcomeSuccess)
		return &PooledConn{res: res, pool: p}, nil
	}
}

func (p *ConnPool) acquireError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, puddle.ErrClosedPool):
		return formsync.NewSyncError(formsync.ErrorTypeConnectionUnavailable, formsync.ErrCodePoolClosed,
			"pool "+p.name+" is closed")
	case ctx.Err() != nil:
		return formsync.NewCancelledError(ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		emitAcquire(p.name, outcomeExhausted)
		return formsync.NewPoolExhaustedError(p.name, err)
	default:
		emitAcquire(p.name, outcomeFailure)
		return formsync.NewConnectionUnavailableError("postgres", err)
	}
}

func (p *ConnPool) validate(ctx context.Context, conn Conn) error {
	vctx, cancel := context.WithTimeout(ctx, p.validateTimeout)
	defer cancel()
	return conn.Ping(vctx)
}

// Ping checks out a connection and returns it, proving the pool can serve callers.
func (p *ConnPool) Ping(ctx context.Context) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// PoolStats is a snapshot of pool occupancy.
type PoolStats struct {
	Max      int32 `json:"max"`
	Total    int32 `json:"total"`
	Acquired int32 `json:"acquired"`
	Idle     int32 `json:"idle"`
}

// Stats returns current occupancy.
func (p *ConnPool) Stats() PoolStats {
	s := p.pool.Stat()
	return PoolStats{
		Max:      s.MaxResources(),
		Total:    s.TotalResources(),
		Acquired: s.AcquiredResources(),
		Idle:     s.IdleResources(),
	}
}

// Close closes idle connections and waits for checked-out ones to be returned.
func (p *ConnPool) Close() {
	p.pool.Close()
}

// PooledConn is a connection checked out of a ConnPool.
type PooledConn struct {
	res  *puddle.Resource[*poolEntry]
	pool *ConnPool
	once sync.Once
}

// Conn returns the underlying connection. It must not be used after Release.
func (c *PooledConn) Conn() Conn {
	return c.res.Value().conn
}

// Release validates the connection and returns it to the pool, or closes it when
// validation fails. Calling Release more than once is a no-op.
func (c *PooledConn) Release() {
	c.once.Do(func() {
		entry := c.res.Value()
		ctx, cancel := context.WithTimeout(context.Background(), c.pool.validateTimeout)
		defer cancel()
		if err := entry.conn.Ping(ctx); err != nil {
			zap.S().Warnw("discarding connection on release", "pool", c.pool.name, "error", err)
			c.res.Destroy()
			return
		}
		entry.used = true
		c.res.Release()
	})
}

// Discard closes the connection instead of returning it.
func (c *PooledConn) Discard() {
	c.once.Do(func() {
		c.res.Destroy()
	})
}

// withConn runs fn with a connection checked out of pool, releasing it afterwards.
func withConn(ctx context.Context, pool *ConnPool, fn func(conn Conn) error) error {
	pc, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer pc.Release()
	return fn(pc.Conn())
}
