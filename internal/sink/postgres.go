package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/openpdi/internal/core"
)

// PostgresSink loads rows into a TEXT-column table with COPY. The whole run
// is one transaction: rows become visible when Flush commits.
type PostgresSink struct {
	pool  *pgxpool.Pool
	owned bool
	opts  Options

	tx      pgx.Tx
	columns []string
	batch   [][]any
}

// OpenPostgres connects to dsn and returns a sink that owns the pool.
func OpenPostgres(ctx context.Context, dsn string, opts Options) (*PostgresSink, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolConfig.MaxConns = 2
	poolConfig.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := NewPostgres(pool, opts)
	s.owned = true
	return s, nil
}

// NewPostgres returns a sink writing through an existing pool.
func NewPostgres(pool *pgxpool.Pool, opts Options) *PostgresSink {
	return &PostgresSink{pool: pool, opts: opts}
}

func (s *PostgresSink) WriteHeader(ctx context.Context, header core.Header) error {
	if s.opts.Table == "" {
		return errors.New("postgres sink: table name required")
	}
	if s.tx != nil {
		return errors.New("postgres sink: header already written")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	table := pgx.Identifier{s.opts.Table}.Sanitize()
	if s.opts.Replace {
		if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("drop table: %w", err)
		}
	}

	defs := make([]string, len(header))
	for i, label := range header {
		defs[i] = pgx.Identifier{label}.Sanitize() + " TEXT"
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", "))
	if _, err := tx.Exec(ctx, ddl); err != nil {
		tx.Rollback(ctx)
		return fmt.Errorf("create table: %w", err)
	}

	s.tx = tx
	s.columns = append([]string(nil), header...)
	s.batch = make([][]any, 0, s.opts.batchSize())
	return nil
}

func (s *PostgresSink) WriteRow(ctx context.Context, row core.Row) error {
	if s.tx == nil {
		return errors.New("postgres sink: header not written")
	}
	vals := make([]any, len(row))
	for i, v := range row {
		vals[i] = text(v)
	}
	s.batch = append(s.batch, vals)
	if len(s.batch) >= s.opts.batchSize() {
		return s.copyBatch(ctx)
	}
	return nil
}

func (s *PostgresSink) copyBatch(ctx context.Context) error {
	if len(s.batch) == 0 {
		return nil
	}
	_, err := s.tx.CopyFrom(ctx, pgx.Identifier{s.opts.Table}, s.columns, pgx.CopyFromRows(s.batch))
	if err != nil {
		return fmt.Errorf("copy %d rows: %w", len(s.batch), err)
	}
	s.batch = s.batch[:0]
	return nil
}

func (s *PostgresSink) Flush(ctx context.Context) error {
	if s.tx == nil {
		return errors.New("postgres sink: header not written")
	}
	if err := s.copyBatch(ctx); err != nil {
		return err
	}
	if err := s.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.tx = nil
	return nil
}

// Close rolls back anything not flushed and closes an owned pool.
func (s *PostgresSink) Close() error {
	if s.tx != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.tx.Rollback(ctx)
		cancel()
		s.tx = nil
	}
	if s.owned {
		s.pool.Close()
	}
	return nil
}
