// Package certify issues and revokes certifications and keeps each owner's
// persisted score in step with its marks.
package certify

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/regenmark/internal/aggregate"
	"github.com/sells-group/regenmark/internal/catalog"
	"github.com/sells-group/regenmark/internal/certerr"
	"github.com/sells-group/regenmark/internal/expiry"
	"github.com/sells-group/regenmark/internal/model"
	"github.com/sells-group/regenmark/internal/notify"
	"github.com/sells-group/regenmark/internal/store"
)

// Issuer turns approved evaluations into certifications. Every write it makes
// runs inside a single store transaction together with the owner recompute.
type Issuer struct {
	store    store.Store
	cat      *catalog.Catalog
	agg      *aggregate.Aggregator
	notifier notify.Notifier
	now      func() time.Time
	newID    func() string
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// WithIDs overrides certification ID generation.
func WithIDs(newID func() string) Option {
	return func(i *Issuer) { i.newID = newID }
}

// WithNotifier sets where revocation, expiry and tier-change notifications
// go after a revoke or recompute commits. Issue leaves notifying to its caller.
func WithNotifier(n notify.Notifier) Option {
	return func(i *Issuer) { i.notifier = n }
}

// New creates an Issuer.
func New(st store.Store, cat *catalog.Catalog, opts ...Option) *Issuer {
	i := &Issuer{
		store: st,
		cat:   cat,
		agg:   aggregate.New(cat),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issuance is the outcome of a successful approval.
type Issuance struct {
	Certification model.Certification
	Evaluation    model.Evaluation
	Aggregate     model.AggregateScore
	PreviousTier  string
}

// TierChanged reports whether the owner's tier moved.
func (is *Issuance) TierChanged() bool {
	return is.PreviousTier != is.Aggregate.Tier
}

// Recomputation is the outcome of re-aggregating one owner.
type Recomputation struct {
	OwnerID      string
	Aggregate    model.AggregateScore
	PreviousTier string
	// Reclassified holds the marks whose persisted status changed.
	Reclassified []model.Certification
}

// TierChanged reports whether the owner's tier moved.
func (r *Recomputation) TierChanged() bool {
	return r.PreviousTier != r.Aggregate.Tier
}

// Issue approves an IN_REVIEW evaluation: it inserts the certification,
// moves the evaluation to APPROVED and persists the owner's new aggregate.
// A concurrent approval of the same evaluation fails with InvalidState and
// leaves nothing behind. The review score is validated only once the
// evaluation is known not to be terminal.
func (i *Issuer) Issue(ctx context.Context, evaluationID, reviewerID string, reviewScore int, notes string) (*Issuance, error) {
	const op = "certify.issue"
	now := i.clock()
	var out Issuance
	err := i.store.InTx(ctx, func(tx store.Repo) error {
		ev, err := tx.GetEvaluation(ctx, evaluationID)
		if err != nil {
			return err
		}
		if ev.Terminal() {
			return certerr.InvalidState(op, "evaluation %s already processed", ev.ID)
		}
		if err := i.checkReviewScore(op, reviewScore); err != nil {
			return err
		}
		inReview, ok := ev.State.(model.InReview)
		if !ok {
			return certerr.InvalidState(op, "evaluation %s is %s, not IN_REVIEW", ev.ID, ev.Status())
		}

		cert := model.Certification{
			ID:           i.newID(),
			OwnerID:      ev.OwnerID,
			EvaluationID: ev.ID,
			Type:         ev.Type,
			Score:        reviewScore,
			Status:       model.CertActive,
			IssuedAt:     now,
			ExpiresAt:    i.cat.ExpiresAt(now),
		}
		if err := tx.CreateCertification(ctx, &cert); err != nil {
			return err
		}

		if reviewerID == "" {
			reviewerID = inReview.ReviewerID
		}
		ev.State = model.Approved{
			AIScore:         inReview.AIScore,
			ReviewerID:      reviewerID,
			ReviewScore:     reviewScore,
			ReviewerNotes:   strings.TrimSpace(notes),
			CertificationID: cert.ID,
			DecidedAt:       now,
		}
		ev.UpdatedAt = now
		if err := tx.UpdateEvaluation(ctx, ev, model.EvalInReview); err != nil {
			return err
		}

		rc, err := i.recompute(ctx, tx, ev.OwnerID, now)
		if err != nil {
			return err
		}
		out = Issuance{
			Certification: cert,
			Evaluation:    *ev,
			Aggregate:     rc.Aggregate,
			PreviousTier:  rc.PreviousTier,
		}
		return nil
	})
	if err != nil {
		return nil, certerr.Internal(op, err)
	}

	zap.L().Info("certify: certification issued",
		zap.String("certification_id", out.Certification.ID),
		zap.String("evaluation_id", evaluationID),
		zap.String("owner_id", out.Certification.OwnerID),
		zap.String("type", string(out.Certification.Type)),
		zap.Int("score", reviewScore),
		zap.Int("total_score", out.Aggregate.TotalScore),
		zap.String("tier", out.Aggregate.Tier),
	)
	return &out, nil
}

// Revoke withdraws a live certification and recomputes its owner.
func (i *Issuer) Revoke(ctx context.Context, actor model.Actor, certID, reason string) (*Recomputation, error) {
	const op = "certify.revoke"
	if !actor.Reviewer {
		return nil, certerr.Forbidden(op, "actor %s is not a reviewer", actor.ID)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, certerr.Validation(op, "revocation reason is required")
	}

	now := i.clock()
	var (
		out     *Recomputation
		revoked model.Certification
	)
	err := i.store.InTx(ctx, func(tx store.Repo) error {
		cert, err := tx.GetCertification(ctx, certID)
		if err != nil {
			return err
		}
		current := expiry.Reclassify(*cert, now, i.cat.ExpiringSoonWindow())
		if !current.Status.Live() {
			return certerr.InvalidState(op, "certification %s is already %s", cert.ID, current.Status)
		}

		from := cert.Status
		cert.Status = model.CertRevoked
		cert.RevokedAt = &now
		cert.RevokeReason = reason
		if err := tx.UpdateCertification(ctx, cert, from); err != nil {
			return err
		}

		revoked = *cert
		out, err = i.recompute(ctx, tx, cert.OwnerID, now)
		return err
	})
	if err != nil {
		return nil, certerr.Internal(op, err)
	}

	zap.L().Info("certify: certification revoked",
		zap.String("certification_id", certID),
		zap.String("owner_id", out.OwnerID),
		zap.String("reviewer_id", actor.ID),
		zap.String("tier", out.Aggregate.Tier),
	)
	notify.Deliver(ctx, i.notifier, notify.Notification{
		Kind:            notify.KindRevoked,
		OwnerID:         revoked.OwnerID,
		EvaluationID:    revoked.EvaluationID,
		CertificationID: revoked.ID,
		Type:            revoked.Type,
		Score:           revoked.Score,
		Feedback:        reason,
		OccurredAt:      now,
	})
	i.notifyRecomputation(ctx, out, now)
	return out, nil
}

// Recompute reclassifies an owner's marks, persists any status changes and
// stores the resulting aggregate, all in one transaction. Once committed, the
// owner is told about marks that started expiring or expired and about a tier
// change.
func (i *Issuer) Recompute(ctx context.Context, ownerID string) (*Recomputation, error) {
	now := i.clock()
	var out *Recomputation
	err := i.store.InTx(ctx, func(tx store.Repo) error {
		var err error
		out, err = i.recompute(ctx, tx, ownerID, now)
		return err
	})
	if err != nil {
		return nil, certerr.Internal("certify.recompute", err)
	}
	i.notifyRecomputation(ctx, out, now)
	return out, nil
}

func (i *Issuer) notifyRecomputation(ctx context.Context, rc *Recomputation, now time.Time) {
	for idx := range rc.Reclassified {
		c := rc.Reclassified[idx]
		var kind notify.Kind
		switch c.Status {
		case model.CertExpiringSoon:
			kind = notify.KindExpiringSoon
		case model.CertExpired:
			kind = notify.KindExpired
		default:
			continue
		}
		notify.Deliver(ctx, i.notifier, notify.Notification{
			Kind:            kind,
			OwnerID:         c.OwnerID,
			EvaluationID:    c.EvaluationID,
			CertificationID: c.ID,
			Type:            c.Type,
			Score:           c.Score,
			ExpiresAt:       &c.ExpiresAt,
			OccurredAt:      now,
		})
	}
	if rc.TierChanged() {
		notify.Deliver(ctx, i.notifier, notify.Notification{
			Kind:         notify.KindTierChanged,
			OwnerID:      rc.OwnerID,
			Score:        rc.Aggregate.TotalScore,
			Tier:         rc.Aggregate.Tier,
			PreviousTier: rc.PreviousTier,
			OccurredAt:   now,
		})
	}
}

// OwnerScore returns the owner's aggregate as of now, with breakdown. It
// reclassifies marks in memory and writes nothing.
func (i *Issuer) OwnerScore(ctx context.Context, ownerID string) (model.AggregateScore, error) {
	const op = "certify.owner_score"
	if _, err := i.store.GetOwner(ctx, ownerID); err != nil {
		return model.AggregateScore{}, certerr.Internal(op, err)
	}
	marks, err := i.store.ListCertifications(ctx, ownerID)
	if err != nil {
		return model.AggregateScore{}, certerr.Internal(op, err)
	}
	return i.agg.AggregateAt(marks, i.clock()), nil
}

// Certifications lists an owner's marks with statuses reclassified for now.
func (i *Issuer) Certifications(ctx context.Context, ownerID string) ([]model.Certification, error) {
	const op = "certify.certifications"
	if _, err := i.store.GetOwner(ctx, ownerID); err != nil {
		return nil, certerr.Internal(op, err)
	}
	marks, err := i.store.ListCertifications(ctx, ownerID)
	if err != nil {
		return nil, certerr.Internal(op, err)
	}
	return expiry.ReclassifyAll(marks, i.clock(), i.cat.ExpiringSoonWindow()), nil
}

// recompute locks the owner before reading its marks, so two transactions
// recomputing the same owner cannot each persist a projection that misses the
// other's writes.
func (i *Issuer) recompute(ctx context.Context, tx store.Repo, ownerID string, now time.Time) (*Recomputation, error) {
	owner, err := tx.LockOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	marks, err := tx.ListCertifications(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	out := &Recomputation{OwnerID: ownerID, PreviousTier: owner.Tier}
	current := expiry.ReclassifyAll(marks, now, i.cat.ExpiringSoonWindow())
	for idx := range current {
		if current[idx].Status == marks[idx].Status {
			continue
		}
		if err := tx.UpdateCertification(ctx, &current[idx], marks[idx].Status); err != nil {
			return nil, err
		}
		out.Reclassified = append(out.Reclassified, current[idx])
	}

	out.Aggregate = i.agg.Aggregate(current)
	if err := tx.UpdateOwnerScore(ctx, ownerID, out.Aggregate.TotalScore, out.Aggregate.Tier, now); err != nil {
		return nil, err
	}
	return out, nil
}

func (i *Issuer) checkReviewScore(op string, score int) error {
	if score < 0 || score > 100 {
		return certerr.Validation(op, "review score %d out of range [0,100]", score)
	}
	if threshold := i.cat.ApprovalThreshold(); score < threshold {
		return certerr.Validation(op, "review score %d is below the approval threshold %d", score, threshold)
	}
	return nil
}

func (i *Issuer) clock() time.Time {
	return i.now().UTC().Truncate(time.Microsecond)
}
