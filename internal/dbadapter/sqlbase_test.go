package dbadapter

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBase(t *testing.T) *SQLBase {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	// A bare ":memory:" database is per-connection; pin the pool to a
	// single connection (mirroring sqlitepure.Open) so every Transaction
	// call in this test — concurrent or not — observes the same data.
	sqlDB.SetMaxOpenConns(1)

	base := NewSQLBase(sqlDB, ":memory:", true)
	_, err = base.Exec(context.Background(), "CREATE TABLE counters (name TEXT PRIMARY KEY, value INTEGER NOT NULL)")
	require.NoError(t, err)
	_, err = base.Exec(context.Background(), "INSERT INTO counters (name, value) VALUES ('n', 0)")
	require.NoError(t, err)
	return base
}

func readCounter(t *testing.T, base *SQLBase) int {
	t.Helper()
	var value int
	row := base.UnderlyingDB().QueryRow("SELECT value FROM counters WHERE name = 'n'")
	require.NoError(t, row.Scan(&value))
	return value
}

func TestTransactionCommitsOnSuccess(t *testing.T) {
	base := openTestBase(t)
	ctx := context.Background()

	err := base.Transaction(ctx, func(tx Tx) error {
		_, err := tx.Exec(ctx, "UPDATE counters SET value = value + 1 WHERE name = 'n'")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, readCounter(t, base))
}

func TestTransactionRollsBackOnError(t *testing.T) {
	base := openTestBase(t)
	ctx := context.Background()

	wantErr := errors.New("boom")
	err := base.Transaction(ctx, func(tx Tx) error {
		if _, err := tx.Exec(ctx, "UPDATE counters SET value = value + 1 WHERE name = 'n'"); err != nil {
			return err
		}
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, 0, readCounter(t, base), "failed transaction must not leave partial writes")
}

// TestConcurrentTopLevelTransactionsAreIndependentlyAtomic guards against
// the regression where a shared nesting-depth counter on SQLBase caused
// one of several genuinely unrelated, concurrently-running top-level
// Transaction calls to be misdetected as "nested" and executed with no
// BEGIN/COMMIT/ROLLBACK at all (spec.md §5: a foreground write racing a
// background triggerSimilarity-style write against the same SQLBase).
// None of these calls is nested inside another, so each must get its
// own real transaction: the ones that return an error must leave no
// trace, and only the ones that succeed may change the counter.
func TestConcurrentTopLevelTransactionsAreIndependentlyAtomic(t *testing.T) {
	base := openTestBase(t)
	ctx := context.Background()

	const succeed = 20
	const fail = 20
	wantErr := errors.New("induced failure")

	var wg sync.WaitGroup
	errs := make([]error, succeed+fail)
	for i := 0; i < succeed; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = base.Transaction(ctx, func(tx Tx) error {
				_, err := tx.Exec(ctx, "UPDATE counters SET value = value + 1 WHERE name = 'n'")
				return err
			})
		}(i)
	}
	for i := 0; i < fail; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[succeed+i] = base.Transaction(ctx, func(tx Tx) error {
				if _, err := tx.Exec(ctx, "UPDATE counters SET value = value + 1000 WHERE name = 'n'"); err != nil {
					return err
				}
				return wantErr
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < succeed; i++ {
		assert.NoError(t, errs[i], "succeeding transaction %d", i)
	}
	for i := 0; i < fail; i++ {
		assert.ErrorIs(t, errs[succeed+i], wantErr, "failing transaction %d", i)
	}
	assert.Equal(t, succeed, readCounter(t, base),
		"every failing top-level transaction must roll back its own +1000 write even while racing unrelated top-level transactions")
}

func TestNestedTransactionUsesSavepointAndRollsBackIndependently(t *testing.T) {
	base := openTestBase(t)
	ctx := context.Background()

	wantErr := errors.New("inner failure")
	err := base.Transaction(ctx, func(outer Tx) error {
		if _, err := outer.Exec(ctx, "UPDATE counters SET value = value + 1 WHERE name = 'n'"); err != nil {
			return err
		}
		innerErr := outer.Transaction(ctx, func(inner Tx) error {
			_, err := inner.Exec(ctx, "UPDATE counters SET value = value + 100 WHERE name = 'n'")
			if err != nil {
				return err
			}
			return wantErr
		})
		require.ErrorIs(t, innerErr, wantErr)
		// Swallow the inner failure; the outer transaction still commits
		// its own (pre-nested) write, proving the savepoint rolled back
		// only the inner work.
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, readCounter(t, base), "savepoint rollback must not undo the outer transaction's own writes")
}
