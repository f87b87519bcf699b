package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rotisserie/eris"

	"github.com/sells-group/regenmark/internal/certerr"
	"github.com/sells-group/regenmark/internal/db"
	"github.com/sells-group/regenmark/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pgRepo
	pool db.Pool
	// raw is nil when the store runs on a mock pool.
	raw *pgxpool.Pool
}

type pgRepo struct {
	q db.Querier
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pgRepo: pgRepo{q: pool}, pool: pool, raw: pool}, nil
}

// newPostgresFromPool wraps an existing pool, typically a pgxmock pool.
func newPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pgRepo: pgRepo{q: pool}, pool: pool}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if s.raw == nil {
		return eris.New("postgres: migrate requires a live pool")
	}
	sqlDB := stdlib.OpenDBFromPool(s.raw)
	defer sqlDB.Close() //nolint:errcheck
	return runMigrations(ctx, sqlDB, goose.DialectPostgres, "postgres")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the pool can reach the database.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Repo) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(pgRepo{q: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit tx")
}

// --- Owners ---

func (r pgRepo) CreateOwner(ctx context.Context, o *model.Owner) error {
	_, err := r.q.Exec(ctx, postgresQueries.insertOwner,
		o.ID, string(o.Kind), o.Name, o.TotalScore, o.Tier, nullTime(o.ScoredAt), o.CreatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return certerr.InvalidState("store.create_owner", "owner %s already exists", o.ID)
	}
	return eris.Wrapf(err, "postgres: insert owner %s", o.ID)
}

func (r pgRepo) GetOwner(ctx context.Context, ownerID string) (*model.Owner, error) {
	o, err := scanOwner(r.q.QueryRow(ctx, postgresQueries.getOwner, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, certerr.NotFound("store.get_owner", "owner", ownerID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get owner %s", ownerID)
	}
	return o, nil
}

func (r pgRepo) LockOwner(ctx context.Context, ownerID string) (*model.Owner, error) {
	o, err := scanOwner(r.q.QueryRow(ctx, postgresQueries.lockOwner, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, certerr.NotFound("store.lock_owner", "owner", ownerID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: lock owner %s", ownerID)
	}
	return o, nil
}

func (r pgRepo) UpdateOwnerScore(ctx context.Context, ownerID string, total int, tier string, at time.Time) error {
	tag, err := r.q.Exec(ctx, postgresQueries.updateOwnerScore, total, tier, at.UTC(), ownerID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update owner score %s", ownerID)
	}
	return checkTag(tag, "owner", ownerID)
}

// --- Evaluations ---

func (r pgRepo) CreateEvaluation(ctx context.Context, ev *model.Evaluation) error {
	args, err := evaluationArgs(ev)
	if err != nil {
		return err
	}
	_, err = r.q.Exec(ctx, postgresQueries.insertEvaluation, args...)
	if isUniqueViolation(err) {
		return errDuplicateInFlight(ev)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: insert evaluation %s", ev.ID)
	}
	for i := range ev.Documents {
		if err := r.AddDocument(ctx, &ev.Documents[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r pgRepo) GetEvaluation(ctx context.Context, evalID string) (*model.Evaluation, error) {
	ev, err := scanEvaluation(r.q.QueryRow(ctx, postgresQueries.getEvaluation, evalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, certerr.NotFound("store.get_evaluation", "evaluation", evalID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get evaluation %s", evalID)
	}
	ev.Documents, err = r.listDocuments(ctx, evalID)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (r pgRepo) ListEvaluations(ctx context.Context, ownerID string) ([]model.Evaluation, error) {
	rows, err := r.q.Query(ctx, postgresQueries.listEvaluations, ownerID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list evaluations")
	}
	var evals []model.Evaluation
	for rows.Next() {
		ev, err := scanEvaluation(rows)
		if err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "postgres: scan evaluation")
		}
		evals = append(evals, *ev)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list evaluations iterate")
	}

	for i := range evals {
		if evals[i].Documents, err = r.listDocuments(ctx, evals[i].ID); err != nil {
			return nil, err
		}
	}
	return evals, nil
}

func (r pgRepo) UpdateEvaluation(ctx context.Context, ev *model.Evaluation, from model.EvaluationStatus) error {
	args, err := evaluationUpdateArgs(ev, from)
	if err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx, postgresQueries.updateEvaluation, args...)
	if isUniqueViolation(err) {
		return errDuplicateInFlight(ev)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: update evaluation %s", ev.ID)
	}
	if tag.RowsAffected() == 0 {
		var count int
		if err := r.q.QueryRow(ctx, postgresQueries.evaluationExists, ev.ID).Scan(&count); err != nil {
			return eris.Wrapf(err, "postgres: check evaluation %s", ev.ID)
		}
		return errStaleEvaluation(ev.ID, from, count > 0)
	}
	return nil
}

func (r pgRepo) AddDocument(ctx context.Context, d *model.Document) error {
	_, err := r.q.Exec(ctx, postgresQueries.insertDocument,
		d.ID, d.EvaluationID, d.Name, d.URL, d.Size, d.MimeType, d.UploadedBy, d.UploadedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert document for evaluation %s", d.EvaluationID)
}

func (r pgRepo) listDocuments(ctx context.Context, evalID string) ([]model.Document, error) {
	rows, err := r.q.Query(ctx, postgresQueries.listDocuments, evalID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	docs := []model.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		docs = append(docs, *d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: list documents iterate")
}

// --- Certifications ---

func (r pgRepo) CreateCertification(ctx context.Context, c *model.Certification) error {
	_, err := r.q.Exec(ctx, postgresQueries.insertCertification, certificationArgs(c)...)
	if isUniqueViolation(err) {
		return certerr.InvalidState("store.create_certification",
			"evaluation %s already has a certification", c.EvaluationID)
	}
	return eris.Wrapf(err, "postgres: insert certification %s", c.ID)
}

func (r pgRepo) GetCertification(ctx context.Context, certID string) (*model.Certification, error) {
	c, err := scanCertification(r.q.QueryRow(ctx, postgresQueries.getCertification, certID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, certerr.NotFound("store.get_certification", "certification", certID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get certification %s", certID)
	}
	return c, nil
}

func (r pgRepo) ListCertifications(ctx context.Context, ownerID string) ([]model.Certification, error) {
	return r.queryCertifications(ctx, postgresQueries.listCertifications, ownerID)
}

func (r pgRepo) ListLiveCertifications(ctx context.Context, expiringBy time.Time) ([]model.Certification, error) {
	return r.queryCertifications(ctx, postgresQueries.listLiveCertifications, expiringBy.UTC())
}

func (r pgRepo) queryCertifications(ctx context.Context, query string, args ...any) ([]model.Certification, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list certifications")
	}
	defer rows.Close()

	var certs []model.Certification
	for rows.Next() {
		c, err := scanCertification(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan certification")
		}
		certs = append(certs, *c)
	}
	return certs, eris.Wrap(rows.Err(), "postgres: list certifications iterate")
}

func (r pgRepo) UpdateCertification(ctx context.Context, c *model.Certification, from model.CertStatus) error {
	tag, err := r.q.Exec(ctx, postgresQueries.updateCertification,
		string(c.Status), nullTime(c.RevokedAt), nullString(c.RevokeReason), c.ID, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update certification %s", c.ID)
	}
	if tag.RowsAffected() == 0 {
		var count int
		if err := r.q.QueryRow(ctx, postgresQueries.certificationExists, c.ID).Scan(&count); err != nil {
			return eris.Wrapf(err, "postgres: check certification %s", c.ID)
		}
		return errStaleCertification(c.ID, from, count > 0)
	}
	return nil
}

func checkTag(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return certerr.NotFound("store.update", entity, id)
	}
	return nil
}
