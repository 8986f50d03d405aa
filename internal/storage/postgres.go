package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/KevinKickass/dbscada/internal/decoder"
	"github.com/KevinKickass/dbscada/internal/types"
)

const (
	defaultInsertTimeout = 10 * time.Second
	closeTimeout         = 2 * time.Second
)

// Conn is the part of *pgx.Conn the sink uses.
type Conn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Close(ctx context.Context) error
	IsClosed() bool
}

type DialFunc func(ctx context.Context, dsn string) (Conn, error)

func dialPgx(ctx context.Context, dsn string) (Conn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Sink owns a single PostgreSQL connection and writes one row per record,
// each in its own transaction. It never reconnects on its own; the poll
// loop calls Connect again after a loss.
type Sink struct {
	dsn           string
	dial          DialFunc
	insertTimeout time.Duration
	statements    map[types.TableID]string
	logger        *zap.Logger

	mu    sync.Mutex
	conn  Conn
	state atomic.Int32
}

type Option func(*Sink)

func WithDialer(dial DialFunc) Option {
	return func(s *Sink) { s.dial = dial }
}

func WithInsertTimeout(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.insertTimeout = d
		}
	}
}

// NewSink prepares the INSERT statement of every layout up front.
func NewSink(dsn string, layouts []*decoder.Layout, logger *zap.Logger, opts ...Option) *Sink {
	s := &Sink{
		dsn:           dsn,
		dial:          dialPgx,
		insertTimeout: defaultInsertTimeout,
		statements:    make(map[types.TableID]string, len(layouts)),
		logger:        logger,
	}
	s.state.Store(int32(types.StateDisconnected))

	for _, l := range layouts {
		s.statements[l.Table] = InsertStatement(l)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InsertStatement builds the parameterized INSERT for a layout.
func InsertStatement(l *decoder.Layout) string {
	cols := l.Columns()
	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
		params[i] = fmt.Sprintf("$%d", i+1)
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier{string(l.Table)}.Sanitize(),
		strings.Join(quoted, ", "),
		strings.Join(params, ", "))
}

func (s *Sink) State() types.ConnectionState {
	return types.ConnectionState(s.state.Load())
}

func (s *Sink) IsConnected() bool {
	return s.State() == types.StateConnected
}

// Connect opens the database connection. On failure the sink stays Disconnected.
func (s *Sink) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil && !s.conn.IsClosed() {
		return nil
	}

	conn, err := s.dial(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("%w: postgres: %v", types.ErrConnection, err)
	}

	s.conn = conn
	s.state.Store(int32(types.StateConnected))
	s.logger.Info("Database connected")
	return nil
}

// Insert writes one record and commits. Returns ErrConnectionLost when the
// link is gone (the sink is then Disconnected) and ErrConstraint when the
// server rejected the row.
func (s *Sink) Insert(ctx context.Context, rec types.TelemetryRecord) error {
	stmt, ok := s.statements[rec.Table]
	if !ok {
		return fmt.Errorf("%w: no insert statement for table %q", types.ErrConfig, rec.Table)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || s.conn.IsClosed() {
		s.dropLocked()
		return fmt.Errorf("%w: not connected", types.ErrConnectionLost)
	}

	ctx, cancel := context.WithTimeout(ctx, s.insertTimeout)
	defer cancel()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return s.failLocked(rec.Table, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, stmt, rec.Args()...); err != nil {
		return s.failLocked(rec.Table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return s.failLocked(rec.Table, err)
	}
	return nil
}

// Close is idempotent.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropLocked()
}

func (s *Sink) failLocked(table types.TableID, err error) error {
	classified := classify(err, s.conn != nil && s.conn.IsClosed())
	if errors.Is(classified, types.ErrConnectionLost) {
		s.logger.Warn("Database connection lost", zap.String("table", string(table)), zap.Error(err))
		s.dropLocked()
	}
	return fmt.Errorf("insert %s: %w", table, classified)
}

func (s *Sink) dropLocked() error {
	s.state.Store(int32(types.StateDisconnected))
	if s.conn == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	err := s.conn.Close(ctx)
	s.conn = nil
	return err
}

// classify maps driver errors onto the error taxonomy. Server errors of
// class 08 and the admin/crash shutdown codes mean the link is gone. So does
// a network-level failure or a connection pgx has already closed. Anything
// else, including client-side encode failures, drops only this row.
func classify(err error, connClosed bool) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if isConnectionCode(pgErr.Code) {
			return fmt.Errorf("%w: %s (SQLSTATE %s)", types.ErrConnectionLost, pgErr.Message, pgErr.Code)
		}
		return fmt.Errorf("%w: %s (SQLSTATE %s)", types.ErrConstraint, pgErr.Message, pgErr.Code)
	}
	if connClosed || isNetworkError(err) {
		return fmt.Errorf("%w: %v", types.ErrConnectionLost, err)
	}
	return fmt.Errorf("%w: %v", types.ErrConstraint, err)
}

func isNetworkError(err error) bool {
	if pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isConnectionCode(code string) bool {
	if strings.HasPrefix(code, "08") {
		return true
	}
	switch code {
	case "57P01", "57P02", "57P03":
		return true
	}
	return false
}
