package database

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	errx "github.com/Chative-whatsapp-agent/server/internal/core/error"
	"github.com/Chative-whatsapp-agent/server/internal/metrics"
	logx "github.com/Chative-whatsapp-agent/server/pkg/logger"
)

// Tables written by the assistant.
const (
	TableServiceActions = "service_actions"
	TableReminders      = "reminders"
	TableUserQueries    = "user_queries"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

const schema = `
CREATE TABLE IF NOT EXISTS service_actions (
	id         UUID PRIMARY KEY,
	user_id    TEXT NOT NULL,
	action     TEXT NOT NULL,
	status     TEXT NOT NULL,
	reference  TEXT,
	details    JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS reminders (
	id                UUID PRIMARY KEY,
	user_id           TEXT NOT NULL,
	text              TEXT NOT NULL,
	remind_at         TIMESTAMPTZ NOT NULL,
	calendar_event_id TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS user_queries (
	id         UUID PRIMARY KEY,
	user_id    TEXT NOT NULL,
	query      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS service_actions_user_idx ON service_actions (user_id, created_at);
CREATE INDEX IF NOT EXISTS reminders_user_idx ON reminders (user_id, remind_at);
`

var columnName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Store is generic CRUD over an allow-list of tables keyed by a UUID id column.
type Store struct {
	pool   *pgxpool.Pool
	tables map[string]bool
}

// NewStore allows the given tables, or the assistant's own tables when none are given.
func NewStore(pool *pgxpool.Pool, tables ...string) *Store {
	if len(tables) == 0 {
		tables = []string{TableServiceActions, TableReminders, TableUserQueries}
	}
	allowed := make(map[string]bool, len(tables))
	for _, t := range tables {
		allowed[t] = true
	}
	return &Store{pool: pool, tables: allowed}
}

// EnsureSchema creates the assistant tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		logx.Error().Err(err).Msg("failed to create integration tables")
		return errx.WrapPostgres(err)
	}
	return nil
}

// Insert stores a row, assigning an id when absent, and returns it.
func (s *Store) Insert(ctx context.Context, table string, values map[string]any) (map[string]any, error) {
	if err := s.checkTable(table); err != nil {
		return nil, err
	}
	row := make(map[string]any, len(values)+1)
	for k, v := range values {
		row[k] = v
	}
	if _, ok := row["id"]; !ok {
		row["id"] = uuid.NewString()
	}

	sql, args, err := buildInsert(table, row)
	if err != nil {
		return nil, err
	}
	return s.queryOne(ctx, "insert", sql, args...)
}

// Select returns rows matching all equality filters, newest first when the table has created_at.
func (s *Store) Select(ctx context.Context, table string, filters map[string]any, limit int) ([]map[string]any, error) {
	if err := s.checkTable(table); err != nil {
		return nil, err
	}
	sql, args, err := buildSelect(table, filters, limit)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, s.fail("select", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, s.fail("select", err)
	}
	metrics.IntegrationCalls.WithLabelValues("database", "success").Inc()
	return out, nil
}

// Update sets the given columns on the row with id and returns it.
func (s *Store) Update(ctx context.Context, table, id string, values map[string]any) (map[string]any, error) {
	if err := s.checkTable(table); err != nil {
		return nil, err
	}
	sql, args, err := buildUpdate(table, id, values)
	if err != nil {
		return nil, err
	}
	return s.queryOne(ctx, "update", sql, args...)
}

// Delete removes the row with id; a missing row is a not-found error.
func (s *Store) Delete(ctx context.Context, table, id string) error {
	if err := s.checkTable(table); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = $1", pgx.Identifier{table}.Sanitize()), id)
	if err != nil {
		return s.fail("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return errx.WrapPostgres(pgx.ErrNoRows)
	}
	metrics.IntegrationCalls.WithLabelValues("database", "success").Inc()
	return nil
}

// Tables lists the allowed table names.
func (s *Store) Tables() []string {
	out := make([]string, 0, len(s.tables))
	for t := range s.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (s *Store) queryOne(ctx context.Context, op, sql string, args ...any) (map[string]any, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, s.fail(op, err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToMap)
	if err != nil {
		return nil, s.fail(op, err)
	}
	metrics.IntegrationCalls.WithLabelValues("database", "success").Inc()
	return row, nil
}

func (s *Store) fail(op string, err error) error {
	metrics.IntegrationCalls.WithLabelValues("database", "error").Inc()
	if err != pgx.ErrNoRows {
		logx.Error().Err(err).Str("op", op).Msg("database integration call failed")
	}
	return errx.WrapPostgres(err)
}

func (s *Store) checkTable(table string) error {
	if !s.tables[table] {
		return errx.Validation(fmt.Sprintf("table %q is not available", table))
	}
	return nil
}

func buildInsert(table string, values map[string]any) (string, []any, error) {
	cols, err := sortedColumns(values)
	if err != nil {
		return "", nil, err
	}
	if len(cols) == 0 {
		return "", nil, errx.Validation("no values to insert")
	}

	names := make([]string, len(cols))
	params := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		names[i] = pgx.Identifier{c}.Sanitize()
		params[i] = fmt.Sprintf("$%d", i+1)
		args[i] = values[c]
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		pgx.Identifier{table}.Sanitize(), strings.Join(names, ", "), strings.Join(params, ", "))
	return sql, args, nil
}

func buildSelect(table string, filters map[string]any, limit int) (string, []any, error) {
	cols, err := sortedColumns(filters)
	if err != nil {
		return "", nil, err
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s", pgx.Identifier{table}.Sanitize())
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		args = append(args, filters[c])
		fmt.Fprintf(&b, "%s = $%d", pgx.Identifier{c}.Sanitize(), len(args))
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY created_at DESC LIMIT $%d", len(args))
	return b.String(), args, nil
}

func buildUpdate(table, id string, values map[string]any) (string, []any, error) {
	delete(values, "id")
	cols, err := sortedColumns(values)
	if err != nil {
		return "", nil, err
	}
	if len(cols) == 0 {
		return "", nil, errx.Validation("no values to update")
	}

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		args = append(args, values[c])
		sets[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), len(args))
	}
	args = append(args, id)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d RETURNING *",
		pgx.Identifier{table}.Sanitize(), strings.Join(sets, ", "), len(args))
	return sql, args, nil
}

func sortedColumns(values map[string]any) ([]string, error) {
	cols := make([]string, 0, len(values))
	for k := range values {
		if !columnName.MatchString(k) {
			return nil, errx.Validation(fmt.Sprintf("invalid column name %q", k))
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols, nil
}
