package verdict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/temirov/auditgate/internal/evidence"
)

const (
	createTableTemplateConstant = `CREATE TABLE IF NOT EXISTS %[1]s (
	sequence BIGSERIAL PRIMARY KEY,
	task_id TEXT NOT NULL,
	audit_id TEXT NOT NULL,
	status TEXT NOT NULL,
	confidence_score DOUBLE PRECISION NOT NULL,
	result_timestamp TIMESTAMPTZ NOT NULL,
	stored_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	result JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_task_idx ON %[1]s (task_id, result_timestamp DESC)`
	insertResultTemplateConstant = `INSERT INTO %s (task_id, audit_id, status, confidence_score, result_timestamp, result)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING sequence, stored_at`
	selectResultsTemplateConstant = `SELECT sequence, stored_at, result FROM %s
WHERE ($1 = '' OR task_id = $1) AND ($2 = '' OR status = $2)
ORDER BY result_timestamp DESC, sequence DESC
LIMIT $3 OFFSET $4`
	countResultsTemplateConstant = `SELECT count(*) FROM %s
WHERE ($1 = '' OR task_id = $1) AND ($2 = '' OR status = $2)`
	historyLimitConstant             = 1 << 30
	invalidTableNameTemplateConstant = "invalid history table name %q"
	postgresConnectTemplateConstant  = "unable to connect to audit history database: %w"
	postgresSchemaTemplateConstant   = "unable to prepare audit history table %s: %w"
	postgresInsertTemplateConstant   = "unable to insert audit result into %s: %w"
	postgresQueryTemplateConstant    = "unable to query audit history %s: %w"
	postgresDecodeTemplateConstant   = "unable to decode audit result %d from %s: %w"
	missingPoolMessageConstant       = "postgres history store requires a connection pool"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PostgresPool is the subset of *pgxpool.Pool the store uses.
type PostgresPool interface {
	Exec(executionContext context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(executionContext context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(executionContext context.Context, sql string, arguments ...any) pgx.Row
}

// PostgresHistoryStore keeps results in an insert-only table.
type PostgresHistoryStore struct {
	pool  PostgresPool
	table string
	close func()
}

// ValidateTableName accepts plain unquoted SQL identifiers only.
func ValidateTableName(table string) error {
	if !tableNamePattern.MatchString(table) {
		return fmt.Errorf(invalidTableNameTemplateConstant, table)
	}
	return nil
}

// OpenPostgresHistoryStore connects to dsn and creates the table if needed.
func OpenPostgresHistoryStore(executionContext context.Context, dsn string, table string) (*PostgresHistoryStore, error) {
	if tableError := ValidateTableName(table); tableError != nil {
		return nil, tableError
	}
	pool, connectError := pgxpool.New(executionContext, dsn)
	if connectError != nil {
		return nil, fmt.Errorf(postgresConnectTemplateConstant, connectError)
	}
	store, storeError := NewPostgresHistoryStore(pool, table)
	if storeError != nil {
		pool.Close()
		return nil, storeError
	}
	store.close = pool.Close
	if schemaError := store.EnsureSchema(executionContext); schemaError != nil {
		pool.Close()
		return nil, schemaError
	}
	return store, nil
}

// NewPostgresHistoryStore wraps an existing pool.
func NewPostgresHistoryStore(pool PostgresPool, table string) (*PostgresHistoryStore, error) {
	if pool == nil {
		return nil, errors.New(missingPoolMessageConstant)
	}
	if tableError := ValidateTableName(table); tableError != nil {
		return nil, tableError
	}
	return &PostgresHistoryStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the history table and its index.
func (store *PostgresHistoryStore) EnsureSchema(executionContext context.Context) error {
	if _, execError := store.pool.Exec(executionContext, fmt.Sprintf(createTableTemplateConstant, store.table)); execError != nil {
		return fmt.Errorf(postgresSchemaTemplateConstant, store.table, execError)
	}
	return nil
}

// Close releases the pool when the store opened it.
func (store *PostgresHistoryStore) Close() {
	if store.close != nil {
		store.close()
	}
}

// Append inserts result as a new row.
func (store *PostgresHistoryStore) Append(executionContext context.Context, result evidence.AuditResult) (StoredResult, error) {
	encoded, encodeError := json.Marshal(result)
	if encodeError != nil {
		return StoredResult{}, fmt.Errorf(postgresInsertTemplateConstant, store.table, encodeError)
	}
	stored := StoredResult{Result: result}
	row := store.pool.QueryRow(executionContext, fmt.Sprintf(insertResultTemplateConstant, store.table),
		result.TaskID, result.AuditID, string(result.Status), result.ConfidenceScore, result.Timestamp, encoded)
	if scanError := row.Scan(&stored.Sequence, &stored.StoredAt); scanError != nil {
		return StoredResult{}, fmt.Errorf(postgresInsertTemplateConstant, store.table, scanError)
	}
	stored.StoredAt = stored.StoredAt.UTC()
	return stored, nil
}

// History returns every result for taskID, newest first.
func (store *PostgresHistoryStore) History(executionContext context.Context, taskID string) ([]StoredResult, error) {
	return store.query(executionContext, Filter{TaskID: taskID}, historyLimitConstant, 0)
}

// List returns a page of matching results, newest first.
func (store *PostgresHistoryStore) List(executionContext context.Context, filter Filter, page Page) (Listing, error) {
	page = page.Normalize()
	var total int
	countRow := store.pool.QueryRow(executionContext, fmt.Sprintf(countResultsTemplateConstant, store.table), filter.TaskID, string(filter.Status))
	if scanError := countRow.Scan(&total); scanError != nil {
		return Listing{}, fmt.Errorf(postgresQueryTemplateConstant, store.table, scanError)
	}
	results, queryError := store.query(executionContext, filter, page.Size, page.Offset())
	if queryError != nil {
		return Listing{}, queryError
	}
	return Listing{Results: results, Total: total, Page: page}, nil
}

func (store *PostgresHistoryStore) query(executionContext context.Context, filter Filter, limit int, offset int) ([]StoredResult, error) {
	rows, queryError := store.pool.Query(executionContext, fmt.Sprintf(selectResultsTemplateConstant, store.table), filter.TaskID, string(filter.Status), limit, offset)
	if queryError != nil {
		return nil, fmt.Errorf(postgresQueryTemplateConstant, store.table, queryError)
	}
	defer rows.Close()

	results := []StoredResult{}
	for rows.Next() {
		var stored StoredResult
		var encoded []byte
		if scanError := rows.Scan(&stored.Sequence, &stored.StoredAt, &encoded); scanError != nil {
			return nil, fmt.Errorf(postgresQueryTemplateConstant, store.table, scanError)
		}
		if decodeError := json.Unmarshal(encoded, &stored.Result); decodeError != nil {
			return nil, fmt.Errorf(postgresDecodeTemplateConstant, stored.Sequence, store.table, decodeError)
		}
		stored.StoredAt = stored.StoredAt.UTC()
		results = append(results, stored)
	}
	if rowsError := rows.Err(); rowsError != nil {
		return nil, fmt.Errorf(postgresQueryTemplateConstant, store.table, rowsError)
	}
	return results, nil
}
