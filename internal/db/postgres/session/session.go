// Copyright 2025 Greenmask
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
	"github.com/xhit/go-str2duration/v2"

	"github.com/greenmaskio/pgmaskdump/internal/domains"
)

const (
	serializableIsolationLevel = "serializable"
	rollbackTimeout            = 30 * time.Second
)

var (
	errSessionNotStarted     = errors.New("session is not started")
	errSessionAlreadyStarted = errors.New("session is already started")
	errSnapshotExported      = errors.New("snapshot is already exported")
	errSessionFinished       = errors.New("session is already rolled back")
)

type Options struct {
	LockTimeout      time.Duration
	StatementTimeout time.Duration
}

// NewOptions - parses the timeouts. Both accept extended duration syntax (1d2h30m)
func NewOptions(lockTimeout, statementTimeout string) (Options, error) {
	var opts Options
	var err error
	if lockTimeout != "" {
		if opts.LockTimeout, err = str2duration.ParseDuration(lockTimeout); err != nil {
			return opts, fmt.Errorf("cannot parse lock_timeout: %w", err)
		}
	}
	if statementTimeout != "" {
		if opts.StatementTimeout, err = str2duration.ParseDuration(statementTimeout); err != nil {
			return opts, fmt.Errorf("cannot parse statement_timeout: %w", err)
		}
	}
	return opts, nil
}

// Session - a single connection holding one SERIALIZABLE transaction. Every statement of the dump runs inside
// this transaction and the transaction is never committed.
type Session struct {
	dbCfg *domains.DatabaseConfig
	opts  Options

	mx         sync.Mutex
	conn       *pgx.Conn
	tx         pgx.Tx
	snapshot   string
	rolledBack bool
}

func New(dbCfg *domains.DatabaseConfig, opts Options) *Session {
	return &Session{
		dbCfg: dbCfg,
		opts:  opts,
	}
}

// Begin - connects and opens the transaction with SERIALIZABLE isolation level. The isolation level is verified
// after it was set.
func (s *Session) Begin(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.conn != nil {
		return errSessionAlreadyStarted
	}

	conn, err := connect(ctx, s.dbCfg.GetPgDSN())
	if err != nil {
		return fmt.Errorf("%w: %w", domains.ErrConnection, err)
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		closeConn(conn)
		return fmt.Errorf("%w: unable to start transaction: %w", domains.ErrConnection, err)
	}

	if err = setupTx(ctx, tx, s.opts); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			log.Debug().Err(rbErr).Msg("unable to rollback transaction")
		}
		closeConn(conn)
		return err
	}

	s.conn = conn
	s.tx = tx
	log.Debug().
		Str("Database", s.dbCfg.Redacted()).
		Msg("serializable transaction started")
	return nil
}

func connect(ctx context.Context, dsn string) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		closeConn(conn)
		return nil, err
	}
	return conn, nil
}

func setupTx(ctx context.Context, tx pgx.Tx, opts Options) error {
	if _, err := tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE"); err != nil {
		return fmt.Errorf("%w: cannot set transaction isolation level: %w", domains.ErrIsolation, err)
	}

	var level string
	if err := tx.QueryRow(ctx, "SHOW transaction_isolation").Scan(&level); err != nil {
		return fmt.Errorf("%w: cannot verify transaction isolation level: %w", domains.ErrIsolation, err)
	}
	if !strings.EqualFold(level, serializableIsolationLevel) {
		return fmt.Errorf("%w: expected %s got %s", domains.ErrIsolation, serializableIsolationLevel, level)
	}

	if opts.LockTimeout > 0 {
		q := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", opts.LockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, q); err != nil {
			return fmt.Errorf("cannot set lock_timeout: %w", err)
		}
	}
	if opts.StatementTimeout > 0 {
		q := fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", opts.StatementTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, q); err != nil {
			return fmt.Errorf("cannot set statement_timeout: %w", err)
		}
	}
	return nil
}

// ExportSnapshot - exports the transaction snapshot. The token stays valid while the transaction is open and is
// used by pg_dump to see exactly the same data. Must be called before any modification.
func (s *Session) ExportSnapshot(ctx context.Context) (string, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if err := s.checkActive(); err != nil {
		return "", err
	}
	if s.snapshot != "" {
		return "", errSnapshotExported
	}

	log.Debug().Msg("performing snapshot export")
	var snapshot string
	if err := s.tx.QueryRow(ctx, "SELECT pg_export_snapshot()").Scan(&snapshot); err != nil {
		return "", fmt.Errorf("cannot export snapshot: %w", err)
	}
	s.snapshot = snapshot
	return snapshot, nil
}

func (s *Session) Snapshot() string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.snapshot
}

// Tx - the dump transaction. Returns nil before Begin
func (s *Session) Tx() pgx.Tx {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.tx
}

func (s *Session) activeTx() (pgx.Tx, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if err := s.checkActive(); err != nil {
		return nil, err
	}
	return s.tx, nil
}

func (s *Session) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx, err := s.activeTx()
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return tx.Exec(ctx, sql, args...)
}

func (s *Session) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	tx, err := s.activeTx()
	if err != nil {
		return nil, err
	}
	return tx.Query(ctx, sql, args...)
}

// CopyTo - runs COPY ... TO STDOUT on the transaction connection, so the rows changed inside the transaction
// are the ones that get copied
func (s *Session) CopyTo(ctx context.Context, w io.Writer, sql string) (pgconn.CommandTag, error) {
	tx, err := s.activeTx()
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	return tx.Conn().PgConn().CopyTo(ctx, w, sql)
}

func (s *Session) checkActive() error {
	if s.rolledBack {
		return errSessionFinished
	}
	if s.tx == nil {
		return errSessionNotStarted
	}
	return nil
}

// Rollback - aborts the transaction. Only the first call does the work, the rest are no-ops. The rollback is
// executed on a context detached from the caller cancellation so it still runs after an interrupt. An already
// aborted transaction or a broken connection are not reported as errors.
func (s *Session) Rollback(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.rolledBack {
		return nil
	}
	s.rolledBack = true
	if s.tx == nil {
		return nil
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	if err := s.tx.Rollback(rctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) || s.conn.IsClosed() {
			log.Debug().Err(err).Msg("transaction is already closed")
			return nil
		}
		return fmt.Errorf("unable to rollback transaction: %w", err)
	}
	log.Debug().Msg("transaction rolled back")
	return nil
}

// Close - rolls back the transaction if it is still open and closes the connection
func (s *Session) Close(ctx context.Context) error {
	rbErr := s.Rollback(ctx)

	s.mx.Lock()
	defer s.mx.Unlock()
	if s.conn == nil {
		return rbErr
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	if err := s.conn.Close(cctx); err != nil {
		return errors.Join(rbErr, fmt.Errorf("error closing connection: %w", err))
	}
	return rbErr
}

func closeConn(conn *pgx.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		log.Debug().Err(err).Msg("error closing connection")
	}
}
