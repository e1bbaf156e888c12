package internal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lychee-technology/formsync"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is a Conn whose ping outcome can be flipped by the test.
type fakeConn struct {
	id      int
	mu      sync.Mutex
	pingErr error
	closed  atomic.Bool
}

func (c *fakeConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (c *fakeConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

func (c *fakeConn) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("not implemented")
}

func (c *fakeConn) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func (c *fakeConn) Close(ctx context.Context) error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) setPingErr(err error) {
	c.mu.Lock()
	c.pingErr = err
	c.mu.Unlock()
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
}

func (d *fakeDialer) dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	c := &fakeConn{id: len(d.conns) + 1}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func TestConnPool_AcquireRelease_ReusesConnection(t *testing.T) {
	d := &fakeDialer{}
	pool, err := NewConnPool("sync", 2, d.dial, time.Second, time.Second)
	require.NoError(t, err)
	defer pool.Close()

	pc, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	first := pc.Conn()
	pc.Release()
	pc.Release() // no-op

	pc2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, pc2.Conn())
	pc2.Release()

	assert.Equal(t, 1, d.dialed())
	stats := pool.Stats()
	assert.Equal(t, int32(2), stats.Max)
	assert.Equal(t, int32(0), stats.Acquired)
}

func TestConnPool_AcquireTimesOutWhenExhausted(t *testing.T) {
	d := &fakeDialer{}
	pool, err := NewConnPool("light", 1, d.dial, 50*time.Millisecond, time.Second)
	require.NoError(t, err)
	defer pool.Close()

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	_, err = pool.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, formsync.IsErrorType(err, formsync.ErrorTypePoolExhausted), "got %v", err)
}

func TestConnPool_ReleaseDiscardsInvalidConnection(t *testing.T) {
	d := &fakeDialer{}
	pool, err := NewConnPool("sync", 1, d.dial, time.Second, time.Second)
	require.NoError(t, err)
	defer pool.Close()

	pc, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	fc := pc.Conn().(*fakeConn)
	fc.setPingErr(errors.New("broken pipe"))
	pc.Release()

	require.Eventually(t, fc.closed.Load, time.Second, 5*time.Millisecond)

	pc2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pc2.Release()
	assert.NotSame(t, fc, pc2.Conn())
	assert.Equal(t, 2, d.dialed())
}

func TestConnPool_AcquireSkipsStaleIdleConnection(t *testing.T) {
	d := &fakeDialer{}
	pool, err := NewConnPool("sync", 1, d.dial, time.Second, time.Second)
	require.NoError(t, err)
	defer pool.Close()

	pc, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	fc := pc.Conn().(*fakeConn)
	pc.Release()

	// The server dropped the idle connection after it was returned.
	fc.setPingErr(errors.New("connection reset"))

	pc2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pc2.Release()
	assert.NotSame(t, fc, pc2.Conn())
}

func TestConnPool_DialFailureIsConnectionUnavailable(t *testing.T) {
	d := &fakeDialer{err: errors.New("connection refused")}
	pool, err := NewConnPool("sync", 1, d.dial, time.Second, time.Second)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, formsync.IsErrorType(err, formsync.ErrorTypeConnectionUnavailable), "got %v", err)
}

func TestConnPool_FreshConnectionFailingValidation(t *testing.T) {
	pool, err := NewConnPool("sync", 1, func(ctx context.Context) (Conn, error) {
		return &fakeConn{pingErr: errors.New("auth handshake incomplete")}, nil
	}, time.Second, time.Second)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, formsync.IsErrorType(err, formsync.ErrorTypeConnectionUnavailable))
}

func TestConnPool_CancelledContext(t *testing.T) {
	d := &fakeDialer{}
	pool, err := NewConnPool("sync", 1, d.dial, time.Second, time.Second)
	require.NoError(t, err)
	defer pool.Close()

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, formsync.IsErrorType(err, formsync.ErrorTypeCancelled), "got %v", err)
}

func TestConnPool_Discard(t *testing.T) {
	d := &fakeDialer{}
	pool, err := NewConnPool("sync", 1, d.dial, time.Second, time.Second)
	require.NoError(t, err)
	defer pool.Close()

	pc, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	fc := pc.Conn().(*fakeConn)
	pc.Discard()
	pc.Release() // no-op after discard

	require.Eventually(t, fc.closed.Load, time.Second, 5*time.Millisecond)
}

func TestConnPool_WithPgxmockConnection(t *testing.T) {
	mock, err := pgxmock.NewConn()
	require.NoError(t, err)

	pool, err := NewConnPool("sync", 1, func(ctx context.Context) (Conn, error) {
		return mock, nil
	}, time.Second, time.Second)
	require.NoError(t, err)
	defer pool.Close()

	// validated on checkout and again before it goes back to the pool
	mock.ExpectPing()
	mock.ExpectExec("SELECT 1").WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectPing()

	err = withConn(context.Background(), pool, func(conn Conn) error {
		_, err := conn.Exec(context.Background(), "SELECT 1")
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConnPool_PgxmockPingFailureOnCheckout(t *testing.T) {
	mock, err := pgxmock.NewConn()
	require.NoError(t, err)

	pool, err := NewConnPool("sync", 1, func(ctx context.Context) (Conn, error) {
		return mock, nil
	}, time.Second, time.Second)
	require.NoError(t, err)
	defer pool.Close()

	mock.ExpectPing().WillReturnError(errors.New("server closed the connection"))
	mock.ExpectClose()

	_, err = pool.Acquire(context.Background())
	assert.True(t, formsync.IsErrorType(err, formsync.ErrorTypeConnectionUnavailable))
}

func TestNewConnPool_RejectsZeroSize(t *testing.T) {
	_, err := NewConnPool("sync", 0, (&fakeDialer{}).dial, time.Second, time.Second)
	require.Error(t, err)
}
