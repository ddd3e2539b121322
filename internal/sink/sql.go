package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/openpdi/internal/core"
)

// SQLSink writes rows to a SQLite or MySQL table of TEXT columns using
// multi-row INSERT statements inside one transaction.
type SQLSink struct {
	db     *sql.DB
	driver string
	owned  bool
	opts   Options

	tx      *sql.Tx
	columns []string
	insert  string // INSERT ... VALUES prefix
	tuple   string // "(?, ?, ...)"
	batch   []any
	pending int
}

// OpenSQL opens a database/sql connection. driver is "sqlite" or "mysql";
// dsn is in the driver's own format.
func OpenSQL(ctx context.Context, driver, dsn string, opts Options) (*SQLSink, error) {
	if driver == "sqlite" && !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := NewSQL(db, driver, opts)
	s.owned = true
	return s, nil
}

// NewSQL returns a sink writing through db. driver selects identifier
// quoting.
func NewSQL(db *sql.DB, driver string, opts Options) *SQLSink {
	return &SQLSink{db: db, driver: driver, opts: opts}
}

func (s *SQLSink) quote(ident string) string {
	if s.driver == "mysql" {
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (s *SQLSink) WriteHeader(ctx context.Context, header core.Header) error {
	if s.opts.Table == "" {
		return errors.New("sql sink: table name required")
	}
	if s.tx != nil {
		return errors.New("sql sink: header already written")
	}
	if len(header) == 0 {
		return errors.New("sql sink: empty header")
	}

	table := s.quote(s.opts.Table)
	if s.opts.Replace {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("drop table: %w", err)
		}
	}

	defs := make([]string, len(header))
	cols := make([]string, len(header))
	marks := make([]string, len(header))
	for i, label := range header {
		cols[i] = s.quote(label)
		defs[i] = cols[i] + " TEXT"
		marks[i] = "?"
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", "))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	s.tx = tx
	s.columns = append([]string(nil), header...)
	s.insert = fmt.Sprintf("INSERT INTO %s (%s) VALUES ", table, strings.Join(cols, ", "))
	s.tuple = "(" + strings.Join(marks, ", ") + ")"
	s.batch = make([]any, 0, s.opts.batchSize()*len(header))
	return nil
}

func (s *SQLSink) WriteRow(ctx context.Context, row core.Row) error {
	if s.tx == nil {
		return errors.New("sql sink: header not written")
	}
	if len(row) != len(s.columns) {
		return fmt.Errorf("row has %d values, table has %d columns", len(row), len(s.columns))
	}
	for _, v := range row {
		s.batch = append(s.batch, text(v))
	}
	s.pending++
	if s.pending >= s.opts.batchSize() {
		return s.insertBatch(ctx)
	}
	return nil
}

func (s *SQLSink) insertBatch(ctx context.Context) error {
	if s.pending == 0 {
		return nil
	}
	tuples := make([]string, s.pending)
	for i := range tuples {
		tuples[i] = s.tuple
	}
	if _, err := s.tx.ExecContext(ctx, s.insert+strings.Join(tuples, ", "), s.batch...); err != nil {
		return fmt.Errorf("insert %d rows: %w", s.pending, err)
	}
	s.batch = s.batch[:0]
	s.pending = 0
	return nil
}

func (s *SQLSink) Flush(ctx context.Context) error {
	if s.tx == nil {
		return errors.New("sql sink: header not written")
	}
	if err := s.insertBatch(ctx); err != nil {
		return err
	}
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.tx = nil
	return nil
}

// Close rolls back anything not flushed and closes an owned database.
func (s *SQLSink) Close() error {
	if s.tx != nil {
		s.tx.Rollback()
		s.tx = nil
	}
	if s.owned {
		return s.db.Close()
	}
	return nil
}
