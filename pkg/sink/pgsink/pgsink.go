// Package pgsink stores lap reports in a postgres table, one row per lap.
package pgsink

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"

	"github.com/mpapenbr/iracelog-sectortiming/log"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/model"
	"github.com/mpapenbr/iracelog-sectortiming/pkg/sink"
)

const DefaultTable = "lap_sector_times"

// Beginner is satisfied by *pgxpool.Pool and *pgx.Conn
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Sink struct {
	db    Beginner
	table string
	l     *log.Logger
}

type Option func(s *Sink)

func WithTable(table string) Option {
	return func(s *Sink) {
		s.table = table
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Sink) {
		s.l = l
	}
}

func New(db Beginner, opts ...Option) *Sink {
	ret := &Sink{
		db:    db,
		table: DefaultTable,
		l:     log.Default().Named("sink.pg"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (s *Sink) Name() string { return "postgres" }

func (s *Sink) Write(ctx context.Context, report *model.LapReport) error {
	stmt, args := InsertStatement(s.table, sink.ToRow(report))
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, stmt, args...); err != nil {
			return fmt.Errorf("insert lap %d: %w", report.Lap.LapNumber, err)
		}
		return nil
	})
}

// Close closes the pool if the sink was created with one.
func (s *Sink) Close() error {
	if c, ok := s.db.(interface{ Close() }); ok {
		c.Close()
	}
	return nil
}

// InsertStatement builds an insert statement for row. Columns are sorted by
// name, the table may be schema qualified.
func InsertStatement(table string, row map[string]any) (stmt string, args []any) {
	cols := lo.Keys(row)
	slices.Sort(cols)
	args = lo.Map(cols, func(c string, _ int) any { return row[c] })
	quoted := lo.Map(cols, func(c string, _ int) string {
		return pgx.Identifier{c}.Sanitize()
	})
	placeholders := lo.Map(cols, func(_ string, i int) string {
		return fmt.Sprintf("$%d", i+1)
	})
	stmt = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier(strings.Split(table, ".")).Sanitize(),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "))
	return stmt, args
}
