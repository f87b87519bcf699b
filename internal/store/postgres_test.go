package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/regenmark/internal/certerr"
	"github.com/sells-group/regenmark/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return newPostgresFromPool(mock), mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresStore_GetOwner_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, kind, name, total_score, tier, scored_at, created_at FROM owners WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetOwner(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, certerr.Is(err, certerr.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetEvaluation_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM evaluations WHERE id = \$1`).
		WithArgs("eval-404").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetEvaluation(context.Background(), "eval-404")
	assert.True(t, certerr.Is(err, certerr.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateOwnerScore_NoRows(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE owners SET total_score = \$1, tier = \$2, scored_at = \$3 WHERE id = \$4`).
		WithArgs(55, "BRONZE", pgxmock.AnyArg(), "owner-x").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateOwnerScore(context.Background(), "owner-x", 55, "BRONZE", fixedNow)
	assert.True(t, certerr.Is(err, certerr.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateEvaluation_UniqueViolation(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO evaluations`).
		WithArgs(anyArgs(15)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_evaluations_in_flight"})

	err := s.CreateEvaluation(context.Background(), newPendingEvaluation("owner-1", model.CarbonSaver))
	require.Error(t, err)
	assert.True(t, certerr.Is(err, certerr.KindInvalidState))
	assert.Contains(t, err.Error(), "in-flight")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateEvaluation_Stale(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ev := newPendingEvaluation("owner-1", model.CarbonSaver)
	ev.State = model.Submitted{}

	mock.ExpectExec(`UPDATE evaluations SET status = \$1`).
		WithArgs(anyArgs(13)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT count\(\*\) FROM evaluations WHERE id = \$1`).
		WithArgs(ev.ID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	err := s.UpdateEvaluation(context.Background(), ev, model.EvalPending)
	assert.True(t, certerr.Is(err, certerr.KindInvalidState))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateCertification_Duplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO certifications`).
		WithArgs(anyArgs(10)...).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.CreateCertification(context.Background(), &model.Certification{ID: "c1", EvaluationID: "e1"})
	assert.True(t, certerr.Is(err, certerr.KindInvalidState))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InTx_Commit(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE owners SET total_score`).
		WithArgs(80, "GOLD", pgxmock.AnyArg(), "owner-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := s.InTx(ctx, func(tx Repo) error {
		return tx.UpdateOwnerScore(ctx, "owner-1", 80, "GOLD", fixedNow)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InTx_RollbackOnError(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE owners SET total_score`).
		WithArgs(80, "GOLD", pgxmock.AnyArg(), "owner-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.InTx(ctx, func(tx Repo) error {
		return tx.UpdateOwnerScore(ctx, "owner-1", 80, "GOLD", fixedNow)
	})
	assert.True(t, certerr.Is(err, certerr.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MigrateRequiresLivePool(t *testing.T) {
	s, _ := newMockPostgresStore(t)
	require.Error(t, s.Migrate(context.Background()))
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectPing()
	require.NoError(t, s.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(assert.AnError)
	assert.Error(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LockOwner_TakesRowLock(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM owners WHERE id = \$1 FOR NO KEY UPDATE`).
		WithArgs("owner-gone").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := s.InTx(ctx, func(tx Repo) error {
		_, err := tx.LockOwner(ctx, "owner-gone")
		return err
	})
	assert.True(t, certerr.Is(err, certerr.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}
