package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/regenmark/internal/certerr"
	"github.com/sells-group/regenmark/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	sqliteRepo
	db *sql.DB
}

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqliteRepo struct {
	q sqlQuerier
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// The pool is limited to one connection so transactions serialize instead of
// failing with SQLITE_BUSY on lock upgrade.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{sqliteRepo: sqliteRepo{q: db}, db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db, goose.DialectSQLite3, "sqlite")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(tx Repo) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(sqliteRepo{q: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

// --- Owners ---

func (r sqliteRepo) CreateOwner(ctx context.Context, o *model.Owner) error {
	_, err := r.q.ExecContext(ctx, sqliteQueries.insertOwner,
		o.ID, string(o.Kind), o.Name, o.TotalScore, o.Tier, nullTime(o.ScoredAt), o.CreatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return certerr.InvalidState("store.create_owner", "owner %s already exists", o.ID)
	}
	return eris.Wrapf(err, "sqlite: insert owner %s", o.ID)
}

func (r sqliteRepo) GetOwner(ctx context.Context, ownerID string) (*model.Owner, error) {
	o, err := scanOwner(r.q.QueryRowContext(ctx, sqliteQueries.getOwner, ownerID))
	if err == sql.ErrNoRows {
		return nil, certerr.NotFound("store.get_owner", "owner", ownerID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get owner %s", ownerID)
	}
	return o, nil
}

func (r sqliteRepo) LockOwner(ctx context.Context, ownerID string) (*model.Owner, error) {
	o, err := scanOwner(r.q.QueryRowContext(ctx, sqliteQueries.lockOwner, ownerID))
	if err == sql.ErrNoRows {
		return nil, certerr.NotFound("store.lock_owner", "owner", ownerID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: lock owner %s", ownerID)
	}
	return o, nil
}

func (r sqliteRepo) UpdateOwnerScore(ctx context.Context, ownerID string, total int, tier string, at time.Time) error {
	res, err := r.q.ExecContext(ctx, sqliteQueries.updateOwnerScore, total, tier, at.UTC(), ownerID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update owner score %s", ownerID)
	}
	return checkRowsAffected(res, "owner", ownerID)
}

// --- Evaluations ---

func (r sqliteRepo) CreateEvaluation(ctx context.Context, ev *model.Evaluation) error {
	args, err := evaluationArgs(ev)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, sqliteQueries.insertEvaluation, args...)
	if isUniqueViolation(err) {
		return errDuplicateInFlight(ev)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert evaluation %s", ev.ID)
	}
	for i := range ev.Documents {
		if err := r.AddDocument(ctx, &ev.Documents[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r sqliteRepo) GetEvaluation(ctx context.Context, evalID string) (*model.Evaluation, error) {
	ev, err := scanEvaluation(r.q.QueryRowContext(ctx, sqliteQueries.getEvaluation, evalID))
	if err == sql.ErrNoRows {
		return nil, certerr.NotFound("store.get_evaluation", "evaluation", evalID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get evaluation %s", evalID)
	}
	ev.Documents, err = r.listDocuments(ctx, evalID)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (r sqliteRepo) ListEvaluations(ctx context.Context, ownerID string) ([]model.Evaluation, error) {
	rows, err := r.q.QueryContext(ctx, sqliteQueries.listEvaluations, ownerID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list evaluations")
	}
	var evals []model.Evaluation
	for rows.Next() {
		ev, err := scanEvaluation(rows)
		if err != nil {
			rows.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "sqlite: scan evaluation")
		}
		evals = append(evals, *ev)
	}
	if err := rows.Err(); err != nil {
		rows.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: list evaluations iterate")
	}
	rows.Close() //nolint:errcheck

	// Documents are loaded after the cursor closes; the pool holds one connection.
	for i := range evals {
		if evals[i].Documents, err = r.listDocuments(ctx, evals[i].ID); err != nil {
			return nil, err
		}
	}
	return evals, nil
}

func (r sqliteRepo) UpdateEvaluation(ctx context.Context, ev *model.Evaluation, from model.EvaluationStatus) error {
	args, err := evaluationUpdateArgs(ev, from)
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, sqliteQueries.updateEvaluation, args...)
	if isUniqueViolation(err) {
		return errDuplicateInFlight(ev)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: update evaluation %s", ev.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		var count int
		if err := r.q.QueryRowContext(ctx, sqliteQueries.evaluationExists, ev.ID).Scan(&count); err != nil {
			return eris.Wrapf(err, "sqlite: check evaluation %s", ev.ID)
		}
		return errStaleEvaluation(ev.ID, from, count > 0)
	}
	return nil
}

func (r sqliteRepo) AddDocument(ctx context.Context, d *model.Document) error {
	_, err := r.q.ExecContext(ctx, sqliteQueries.insertDocument,
		d.ID, d.EvaluationID, d.Name, d.URL, d.Size, d.MimeType, d.UploadedBy, d.UploadedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert document for evaluation %s", d.EvaluationID)
}

func (r sqliteRepo) listDocuments(ctx context.Context, evalID string) ([]model.Document, error) {
	rows, err := r.q.QueryContext(ctx, sqliteQueries.listDocuments, evalID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close() //nolint:errcheck

	docs := []model.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		docs = append(docs, *d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list documents iterate")
}

// --- Certifications ---

func (r sqliteRepo) CreateCertification(ctx context.Context, c *model.Certification) error {
	_, err := r.q.ExecContext(ctx, sqliteQueries.insertCertification, certificationArgs(c)...)
	if isUniqueViolation(err) {
		return certerr.InvalidState("store.create_certification",
			"evaluation %s already has a certification", c.EvaluationID)
	}
	return eris.Wrapf(err, "sqlite: insert certification %s", c.ID)
}

func (r sqliteRepo) GetCertification(ctx context.Context, certID string) (*model.Certification, error) {
	c, err := scanCertification(r.q.QueryRowContext(ctx, sqliteQueries.getCertification, certID))
	if err == sql.ErrNoRows {
		return nil, certerr.NotFound("store.get_certification", "certification", certID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get certification %s", certID)
	}
	return c, nil
}

func (r sqliteRepo) ListCertifications(ctx context.Context, ownerID string) ([]model.Certification, error) {
	return r.queryCertifications(ctx, sqliteQueries.listCertifications, ownerID)
}

func (r sqliteRepo) ListLiveCertifications(ctx context.Context, expiringBy time.Time) ([]model.Certification, error) {
	return r.queryCertifications(ctx, sqliteQueries.listLiveCertifications, expiringBy.UTC())
}

func (r sqliteRepo) queryCertifications(ctx context.Context, query string, args ...any) ([]model.Certification, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list certifications")
	}
	defer rows.Close() //nolint:errcheck

	var certs []model.Certification
	for rows.Next() {
		c, err := scanCertification(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan certification")
		}
		certs = append(certs, *c)
	}
	return certs, eris.Wrap(rows.Err(), "sqlite: list certifications iterate")
}

func (r sqliteRepo) UpdateCertification(ctx context.Context, c *model.Certification, from model.CertStatus) error {
	res, err := r.q.ExecContext(ctx, sqliteQueries.updateCertification,
		string(c.Status), nullTime(c.RevokedAt), nullString(c.RevokeReason), c.ID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update certification %s", c.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		var count int
		if err := r.q.QueryRowContext(ctx, sqliteQueries.certificationExists, c.ID).Scan(&count); err != nil {
			return eris.Wrapf(err, "sqlite: check certification %s", c.ID)
		}
		return errStaleCertification(c.ID, from, count > 0)
	}
	return nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return certerr.NotFound("store.update", entity, id)
	}
	return nil
}
