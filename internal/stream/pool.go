package stream

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool hands out dedicated connections for streaming sessions. A session keeps
// its connection checked out until the stream ends, so the pool ceiling is the
// ceiling on concurrently open streams.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
}

// Conn is the slice of a database connection a session needs: one-shot
// commands (LISTEN/UNLISTEN), the bounded snapshot query, and blocking
// delivery of asynchronous notifications.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) error
	Snapshot(ctx context.Context, sql string, args ...any) ([]map[string]any, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Release()
}

// NewPool adapts a pgx pool to the session-facing Pool seam.
func NewPool(pool *pgxpool.Pool) Pool {
	return &pgxPool{pool: pool}
}

type pgxPool struct {
	pool *pgxpool.Pool
}

func (p *pgxPool) Acquire(ctx context.Context) (Conn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxConn{conn: conn}, nil
}

type pgxConn struct {
	conn *pgxpool.Conn
}

func (c *pgxConn) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := c.conn.Exec(ctx, sql, args...)
	return err
}

// Snapshot runs the query and returns rows as loose maps. The stream is a
// transit layer; it does not model the watched table as a domain entity.
func (c *pgxConn) Snapshot(ctx context.Context, sql string, args ...any) ([]map[string]any, error) {
	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToMap)
}

func (c *pgxConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return c.conn.Conn().WaitForNotification(ctx)
}

func (c *pgxConn) Release() {
	c.conn.Release()
}
