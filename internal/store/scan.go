package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sells-group/regenmark/internal/model"
)

type scannable interface {
	Scan(dest ...any) error
}

func scanOwner(row scannable) (*model.Owner, error) {
	var o model.Owner
	var scoredAt sql.NullTime
	if err := row.Scan(&o.ID, &o.Kind, &o.Name, &o.TotalScore, &o.Tier, &scoredAt, &o.CreatedAt); err != nil {
		return nil, err
	}
	o.ScoredAt = timePtr(scoredAt)
	o.CreatedAt = o.CreatedAt.UTC()
	return &o, nil
}

func scanEvaluation(row scannable) (*model.Evaluation, error) {
	var (
		ev                     model.Evaluation
		f                      model.EvaluationFields
		aiScore, reviewScore   sql.NullInt64
		reviewerID, notes, fb  sql.NullString
		certID                 sql.NullString
		metrics                []byte
		submittedAt, decidedAt sql.NullTime
	)
	err := row.Scan(&ev.ID, &ev.OwnerID, &ev.Type, &f.Status, &aiScore, &reviewScore, &reviewerID,
		&notes, &fb, &certID, &metrics, &submittedAt, &decidedAt, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return nil, err
	}

	f.AIScore = intPtr(aiScore)
	f.ReviewScore = intPtr(reviewScore)
	f.ReviewerID = reviewerID.String
	f.ReviewerNotes = notes.String
	f.Feedback = fb.String
	f.CertificationID = certID.String
	f.DecidedAt = timePtr(decidedAt)

	state, err := f.State()
	if err != nil {
		return nil, eris.Wrapf(err, "store: evaluation %s", ev.ID)
	}
	ev.State = state
	ev.SubmittedAt = timePtr(submittedAt)
	ev.CreatedAt = ev.CreatedAt.UTC()
	ev.UpdatedAt = ev.UpdatedAt.UTC()

	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &ev.Metrics); err != nil {
			return nil, eris.Wrapf(err, "store: unmarshal metrics for evaluation %s", ev.ID)
		}
	}
	return &ev, nil
}

func scanDocument(row scannable) (*model.Document, error) {
	var d model.Document
	if err := row.Scan(&d.ID, &d.EvaluationID, &d.Name, &d.URL, &d.Size, &d.MimeType,
		&d.UploadedBy, &d.UploadedAt); err != nil {
		return nil, err
	}
	d.UploadedAt = d.UploadedAt.UTC()
	return &d, nil
}

func scanCertification(row scannable) (*model.Certification, error) {
	var (
		c         model.Certification
		revokedAt sql.NullTime
		reason    sql.NullString
	)
	if err := row.Scan(&c.ID, &c.OwnerID, &c.EvaluationID, &c.Type, &c.Score, &c.Status,
		&c.IssuedAt, &c.ExpiresAt, &revokedAt, &reason); err != nil {
		return nil, err
	}
	c.IssuedAt = c.IssuedAt.UTC()
	c.ExpiresAt = c.ExpiresAt.UTC()
	c.RevokedAt = timePtr(revokedAt)
	c.RevokeReason = reason.String
	return &c, nil
}

// evaluationArgs returns the insert arguments in evaluationColumns order.
func evaluationArgs(ev *model.Evaluation) ([]any, error) {
	f := model.Flatten(ev.State)
	metrics, err := marshalMetrics(ev.Metrics)
	if err != nil {
		return nil, err
	}
	return []any{
		ev.ID, ev.OwnerID, string(ev.Type), string(f.Status), nullInt(f.AIScore), nullInt(f.ReviewScore),
		nullString(f.ReviewerID), nullString(f.ReviewerNotes), nullString(f.Feedback),
		nullString(f.CertificationID), metrics, nullTime(ev.SubmittedAt), nullTime(f.DecidedAt),
		ev.CreatedAt.UTC(), ev.UpdatedAt.UTC(),
	}, nil
}

// evaluationUpdateArgs returns the SET and WHERE arguments of updateEvaluation.
func evaluationUpdateArgs(ev *model.Evaluation, from model.EvaluationStatus) ([]any, error) {
	f := model.Flatten(ev.State)
	metrics, err := marshalMetrics(ev.Metrics)
	if err != nil {
		return nil, err
	}
	return []any{
		string(f.Status), nullInt(f.AIScore), nullInt(f.ReviewScore), nullString(f.ReviewerID),
		nullString(f.ReviewerNotes), nullString(f.Feedback), nullString(f.CertificationID), metrics,
		nullTime(ev.SubmittedAt), nullTime(f.DecidedAt), ev.UpdatedAt.UTC(),
		ev.ID, string(from),
	}, nil
}

func certificationArgs(c *model.Certification) []any {
	return []any{
		c.ID, c.OwnerID, c.EvaluationID, string(c.Type), c.Score, string(c.Status),
		c.IssuedAt.UTC(), c.ExpiresAt.UTC(), nullTime(c.RevokedAt), nullString(c.RevokeReason),
	}
}

func marshalMetrics(m map[string]float64) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal metrics")
	}
	return string(b), nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

// isUniqueViolation recognises both the Postgres SQLSTATE and the SQLite
// constraint message.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
