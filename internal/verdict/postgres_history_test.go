package verdict_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/temirov/auditgate/internal/evidence"
	"github.com/temirov/auditgate/internal/verdict"
)

const postgresDSNEnvironmentVariableConstant = "AUDITGATE_TEST_POSTGRES_DSN"

type scriptedRow struct {
	values []any
}

func (row scriptedRow) Scan(destinations ...any) error {
	for index, destination := range destinations {
		switch typed := destination.(type) {
		case *int64:
			*typed = row.values[index].(int64)
		case *int:
			*typed = row.values[index].(int)
		case *time.Time:
			*typed = row.values[index].(time.Time)
		}
	}
	return nil
}

type recordingPool struct {
	statements []string
	arguments  [][]any
	row        scriptedRow
}

func (pool *recordingPool) Exec(executionContext context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	pool.statements = append(pool.statements, sql)
	pool.arguments = append(pool.arguments, arguments)
	return pgconn.CommandTag{}, nil
}

func (pool *recordingPool) Query(executionContext context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	return nil, fmt.Errorf("unexpected query")
}

func (pool *recordingPool) QueryRow(executionContext context.Context, sql string, arguments ...any) pgx.Row {
	pool.statements = append(pool.statements, sql)
	pool.arguments = append(pool.arguments, arguments)
	return pool.row
}

func TestValidateTableName(testInstance *testing.T) {
	testCases := []struct {
		name        string
		table       string
		expectError bool
	}{
		{name: "default", table: "audit_results"},
		{name: "mixed_case", table: "AuditResults2"},
		{name: "leading_digit", table: "1results", expectError: true},
		{name: "injection", table: "results; DROP TABLE users", expectError: true},
		{name: "empty", table: "", expectError: true},
	}

	for testCaseIndex, testCase := range testCases {
		testInstance.Run(fmt.Sprintf(verdictSubtestTemplateConstant, testCaseIndex, testCase.name), func(subTest *testing.T) {
			validationError := verdict.ValidateTableName(testCase.table)
			if testCase.expectError {
				require.Error(subTest, validationError)
				return
			}
			require.NoError(subTest, validationError)
		})
	}
}

func TestPostgresHistoryStoreAppendInsertsRow(testInstance *testing.T) {
	storedAt := time.Date(2026, time.June, 10, 9, 0, 0, 0, time.UTC)
	pool := &recordingPool{row: scriptedRow{values: []any{int64(7), storedAt}}}
	store, storeError := verdict.NewPostgresHistoryStore(pool, "audit_results")
	require.NoError(testInstance, storeError)

	require.NoError(testInstance, store.EnsureSchema(context.Background()))
	stored, appendError := store.Append(context.Background(), auditResult("task-9", evidence.AuditStatusCritical, 0))
	require.NoError(testInstance, appendError)
	require.Equal(testInstance, int64(7), stored.Sequence)
	require.Equal(testInstance, storedAt, stored.StoredAt)

	require.Len(testInstance, pool.statements, 2)
	require.Contains(testInstance, pool.statements[0], "CREATE TABLE IF NOT EXISTS audit_results")
	require.Contains(testInstance, pool.statements[1], "INSERT INTO audit_results")
	require.Equal(testInstance, "task-9", pool.arguments[1][0])
	require.Equal(testInstance, "Critical", pool.arguments[1][2])

	_, nilPoolError := verdict.NewPostgresHistoryStore(nil, "audit_results")
	require.Error(testInstance, nilPoolError)
}

func TestPostgresHistoryStoreAgainstDatabase(testInstance *testing.T) {
	dsn := os.Getenv(postgresDSNEnvironmentVariableConstant)
	if len(dsn) == 0 {
		testInstance.Skipf("%s is not set", postgresDSNEnvironmentVariableConstant)
	}
	table := fmt.Sprintf("audit_results_test_%d", time.Now().UnixNano())
	store, openError := verdict.OpenPostgresHistoryStore(context.Background(), dsn, table)
	require.NoError(testInstance, openError)
	testInstance.Cleanup(store.Close)

	for index, status := range []evidence.AuditStatus{evidence.AuditStatusFailed, evidence.AuditStatusPassed} {
		_, appendError := store.Append(context.Background(), auditResult("task-db", status, time.Duration(index)*time.Minute))
		require.NoError(testInstance, appendError)
	}
	history, historyError := store.History(context.Background(), "task-db")
	require.NoError(testInstance, historyError)
	require.Len(testInstance, history, 2)
	require.Equal(testInstance, evidence.AuditStatusPassed, history[0].Result.Status)

	listing, listError := store.List(context.Background(), verdict.Filter{Status: evidence.AuditStatusFailed}, verdict.Page{Number: 1, Size: 5})
	require.NoError(testInstance, listError)
	require.Equal(testInstance, 1, listing.Total)
}
