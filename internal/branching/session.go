package branching

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DataConn is the subset of *pgx.Conn the session layer needs. Tests
// substitute a fake; production code always gets a real connection.
type DataConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close(ctx context.Context) error
}

// Session is a live connection bound to one branch endpoint with one freshly
// minted credential. It is exclusively owned by the caller that opened it and
// provides no internal synchronization; it must be closed before the branch
// it is bound to is deleted.
type Session struct {
	Branch   string
	Endpoint string
	Host     string

	conn   DataConn
	closed bool
}

// Statements run with auto-commit semantics: each is its own implicit
// transaction unless the caller groups them explicitly.
func (s *Session) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return s.conn.Exec(ctx, sql, args...)
}

func (s *Session) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return s.conn.Query(ctx, sql, args...)
}

func (s *Session) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return s.conn.QueryRow(ctx, sql, args...)
}

// Close releases the underlying connection. Closing an already-closed
// session is a no-op, never an error.
func (s *Session) Close(ctx context.Context) error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	if s.conn == nil {
		return nil
	}
	return s.conn.Close(ctx)
}
