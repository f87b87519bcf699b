// Package evaluation drives certification requests through the review
// workflow: PENDING, SUBMITTED, AI_PROCESSING, IN_REVIEW and finally
// APPROVED or REJECTED.
package evaluation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/regenmark/internal/certerr"
	"github.com/sells-group/regenmark/internal/certify"
	"github.com/sells-group/regenmark/internal/docstore"
	"github.com/sells-group/regenmark/internal/model"
	"github.com/sells-group/regenmark/internal/notify"
	"github.com/sells-group/regenmark/internal/scorer"
	"github.com/sells-group/regenmark/internal/store"
)

// DefaultMaxUpload caps a single evidence file.
const DefaultMaxUpload = 25 << 20

// Upload is an evidence file supplied by the owner.
type Upload struct {
	Name     string
	MimeType string
	Data     []byte
}

// CreateRequest opens a new evaluation.
type CreateRequest struct {
	OwnerID   string
	Type      model.CertificationType
	Documents []Upload
}

// Service implements the evaluation workflow. Each transition re-reads the
// evaluation and writes it back conditionally inside one transaction, so of
// two racing transitions exactly one wins.
type Service struct {
	store     store.Store
	issuer    *certify.Issuer
	scorer    *scorer.Scorer
	docs      docstore.Store
	notifier  notify.Notifier
	maxUpload int64
	now       func() time.Time
	newID     func() string
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets where workflow notifications go.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMaxUpload overrides DefaultMaxUpload.
func WithMaxUpload(bytes int64) Option {
	return func(s *Service) {
		if bytes > 0 {
			s.maxUpload = bytes
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDs overrides ID generation for evaluations and documents.
func WithIDs(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// New creates a Service.
func New(st store.Store, issuer *certify.Issuer, sc *scorer.Scorer, docs docstore.Store, opts ...Option) *Service {
	s := &Service{
		store:     st,
		issuer:    issuer,
		scorer:    sc,
		docs:      docs,
		notifier:  notify.LogNotifier{},
		maxUpload: DefaultMaxUpload,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create opens an evaluation for (owner, type). With documents it starts
// SUBMITTED, otherwise PENDING. An owner may hold only one in-flight
// evaluation per type.
func (s *Service) Create(ctx context.Context, actor model.Actor, req CreateRequest) (*model.Evaluation, error) {
	const op = "evaluation.create"
	if actor.ID == "" {
		return nil, certerr.Validation(op, "actor id is required")
	}
	if !req.Type.Valid() {
		return nil, certerr.Validation(op, "unknown certification type %q", req.Type)
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, certerr.Validation(op, "owner id is required")
	}
	for _, up := range req.Documents {
		if err := s.checkUpload(op, up); err != nil {
			return nil, err
		}
	}
	if _, err := s.store.GetOwner(ctx, req.OwnerID); err != nil {
		return nil, certerr.Internal(op, err)
	}

	now := s.clock()
	ev := &model.Evaluation{
		ID:        s.newID(),
		OwnerID:   req.OwnerID,
		Type:      req.Type,
		State:     model.Pending{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, up := range req.Documents {
		doc, err := s.storeUpload(ctx, op, actor, ev.ID, up, now)
		if err != nil {
			return nil, err
		}
		ev.Documents = append(ev.Documents, *doc)
	}
	if len(ev.Documents) > 0 {
		ev.State = model.Submitted{}
		ev.SubmittedAt = &now
	} else {
		ev.Documents = []model.Document{}
	}

	if err := s.store.CreateEvaluation(ctx, ev); err != nil {
		return nil, certerr.Internal(op, err)
	}

	zap.L().Info("evaluation: created",
		zap.String("evaluation_id", ev.ID),
		zap.String("owner_id", ev.OwnerID),
		zap.String("type", string(ev.Type)),
		zap.String("status", string(ev.Status())),
		zap.Int("documents", len(ev.Documents)),
	)
	if ev.Status() == model.EvalSubmitted {
		s.notify(ctx, ev, notify.KindSubmitted, nil)
	}
	return ev, nil
}

// AttachDocument adds evidence to a PENDING or SUBMITTED evaluation.
func (s *Service) AttachDocument(ctx context.Context, actor model.Actor, evalID string, up Upload) (*model.Document, error) {
	const op = "evaluation.attach_document"
	if actor.ID == "" {
		return nil, certerr.Validation(op, "actor id is required")
	}

	// Check the state before uploading so a closed evaluation costs no
	// storage write; the transaction below re-checks it.
	current, err := s.store.GetEvaluation(ctx, evalID)
	if err != nil {
		return nil, certerr.Internal(op, err)
	}
	if err := attachable(op, current); err != nil {
		return nil, err
	}
	if err := s.checkUpload(op, up); err != nil {
		return nil, err
	}

	now := s.clock()
	doc, err := s.storeUpload(ctx, op, actor, evalID, up, now)
	if err != nil {
		return nil, err
	}
	_, err = s.transition(ctx, op, evalID, func(tx store.Repo, ev *model.Evaluation) error {
		if err := attachable(op, ev); err != nil {
			return err
		}
		return tx.AddDocument(ctx, doc)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Submit moves a PENDING evaluation with at least one document to SUBMITTED.
func (s *Service) Submit(ctx context.Context, actor model.Actor, evalID string) (*model.Evaluation, error) {
	const op = "evaluation.submit"
	if actor.ID == "" {
		return nil, certerr.Validation(op, "actor id is required")
	}
	ev, err := s.transition(ctx, op, evalID, func(_ store.Repo, ev *model.Evaluation) error {
		if ev.Status() != model.EvalPending {
			return certerr.InvalidState(op, "evaluation %s is %s, only PENDING can be submitted", ev.ID, ev.Status())
		}
		if len(ev.Documents) == 0 {
			return certerr.Validation(op, "at least one document is required to submit")
		}
		now := s.clock()
		ev.State = model.Submitted{}
		ev.SubmittedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, ev, notify.KindSubmitted, nil)
	return ev, nil
}

// RecordMetrics stores the raw metrics of a SUBMITTED evaluation and its
// provisional AI score, moving it to AI_PROCESSING.
func (s *Service) RecordMetrics(ctx context.Context, actor model.Actor, evalID string, metrics map[string]float64) (*model.Evaluation, error) {
	const op = "evaluation.record_metrics"
	if actor.ID == "" {
		return nil, certerr.Validation(op, "actor id is required")
	}
	ev, err := s.transition(ctx, op, evalID, func(_ store.Repo, ev *model.Evaluation) error {
		if ev.Status() != model.EvalSubmitted {
			return certerr.InvalidState(op, "evaluation %s is %s, metrics need SUBMITTED", ev.ID, ev.Status())
		}
		ev.Metrics = copyMetrics(metrics)
		ev.State = model.AIProcessing{AIScore: s.scorer.Score(ev.Type, metrics)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("evaluation: ai score recorded",
		zap.String("evaluation_id", ev.ID),
		zap.String("type", string(ev.Type)),
		zap.Intp("ai_score", ev.AIScore()),
	)
	return ev, nil
}

// StartReview assigns a reviewer to a SUBMITTED or AI_PROCESSING evaluation.
func (s *Service) StartReview(ctx context.Context, reviewer model.Actor, evalID string) (*model.Evaluation, error) {
	const op = "evaluation.start_review"
	if err := requireReviewer(op, reviewer); err != nil {
		return nil, err
	}
	return s.transition(ctx, op, evalID, func(_ store.Repo, ev *model.Evaluation) error {
		switch ev.Status() {
		case model.EvalSubmitted, model.EvalAIProcessing:
		default:
			return certerr.InvalidState(op, "evaluation %s is %s, review needs SUBMITTED or AI_PROCESSING", ev.ID, ev.Status())
		}
		ev.State = model.InReview{AIScore: ev.AIScore(), ReviewerID: reviewer.ID}
		return nil
	})
}

// Approve issues the certification for an IN_REVIEW evaluation. The review
// score must reach the approval threshold.
func (s *Service) Approve(ctx context.Context, reviewer model.Actor, evalID string, reviewScore int, notes string) (*certify.Issuance, error) {
	const op = "evaluation.approve"
	if err := requireReviewer(op, reviewer); err != nil {
		return nil, err
	}
	out, err := s.issuer.Issue(ctx, evalID, reviewer.ID, reviewScore, notes)
	if err != nil {
		return nil, err
	}

	ev := &out.Evaluation
	s.notify(ctx, ev, notify.KindApproved, func(n *notify.Notification) {
		n.CertificationID = out.Certification.ID
		n.Score = out.Certification.Score
		n.ExpiresAt = &out.Certification.ExpiresAt
	})
	if out.TierChanged() {
		notify.Deliver(ctx, s.notifier, notify.Notification{
			Kind:         notify.KindTierChanged,
			OwnerID:      ev.OwnerID,
			Tier:         out.Aggregate.Tier,
			PreviousTier: out.PreviousTier,
			Score:        out.Aggregate.TotalScore,
			OccurredAt:   out.Certification.IssuedAt,
		})
	}
	return out, nil
}

// Reject closes an IN_REVIEW evaluation without a certification. Feedback is
// mandatory, but a terminal evaluation reports InvalidState before that is
// checked. The owner's score is untouched.
func (s *Service) Reject(ctx context.Context, reviewer model.Actor, evalID, feedback, notes string) (*model.Evaluation, error) {
	const op = "evaluation.reject"
	if err := requireReviewer(op, reviewer); err != nil {
		return nil, err
	}
	feedback = strings.TrimSpace(feedback)
	ev, err := s.transition(ctx, op, evalID, func(_ store.Repo, ev *model.Evaluation) error {
		if feedback == "" {
			return certerr.Validation(op, "feedback is required when rejecting")
		}
		if ev.Status() != model.EvalInReview {
			return certerr.InvalidState(op, "evaluation %s is %s, only IN_REVIEW can be rejected", ev.ID, ev.Status())
		}
		ev.State = model.Rejected{
			AIScore:       ev.AIScore(),
			ReviewerID:    reviewer.ID,
			ReviewerNotes: strings.TrimSpace(notes),
			Feedback:      feedback,
			DecidedAt:     s.clock(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("evaluation: rejected",
		zap.String("evaluation_id", ev.ID),
		zap.String("owner_id", ev.OwnerID),
		zap.String("reviewer_id", reviewer.ID),
	)
	s.notify(ctx, ev, notify.KindRejected, func(n *notify.Notification) { n.Feedback = feedback })
	return ev, nil
}

// Get returns one evaluation with its documents.
func (s *Service) Get(ctx context.Context, evalID string) (*model.Evaluation, error) {
	ev, err := s.store.GetEvaluation(ctx, evalID)
	if err != nil {
		return nil, certerr.Internal("evaluation.get", err)
	}
	return ev, nil
}

// ListByOwner returns the owner's evaluations, oldest first.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]model.Evaluation, error) {
	const op = "evaluation.list_by_owner"
	if _, err := s.store.GetOwner(ctx, ownerID); err != nil {
		return nil, certerr.Internal(op, err)
	}
	evals, err := s.store.ListEvaluations(ctx, ownerID)
	if err != nil {
		return nil, certerr.Internal(op, err)
	}
	if evals == nil {
		evals = []model.Evaluation{}
	}
	return evals, nil
}

// transition loads the evaluation, rejects terminal ones, applies fn and
// writes the result back conditioned on the status it was read with.
func (s *Service) transition(ctx context.Context, op, evalID string, fn func(tx store.Repo, ev *model.Evaluation) error) (*model.Evaluation, error) {
	var out *model.Evaluation
	err := s.store.InTx(ctx, func(tx store.Repo) error {
		ev, err := tx.GetEvaluation(ctx, evalID)
		if err != nil {
			return err
		}
		if ev.Terminal() {
			return certerr.InvalidState(op, "evaluation %s already processed", ev.ID)
		}
		from := ev.Status()
		if err := fn(tx, ev); err != nil {
			return err
		}
		ev.UpdatedAt = s.clock()
		if err := tx.UpdateEvaluation(ctx, ev, from); err != nil {
			return err
		}
		out = ev
		return nil
	})
	if err != nil {
		return nil, certerr.Internal(op, err)
	}
	return out, nil
}

func (s *Service) checkUpload(op string, up Upload) error {
	if strings.TrimSpace(up.Name) == "" {
		return certerr.Validation(op, "document name is required")
	}
	if len(up.Data) == 0 {
		return certerr.Validation(op, "document %q is empty", up.Name)
	}
	if int64(len(up.Data)) > s.maxUpload {
		return certerr.Validation(op, "document %q exceeds the %d byte limit", up.Name, s.maxUpload)
	}
	return nil
}

func (s *Service) storeUpload(ctx context.Context, op string, actor model.Actor, evalID string, up Upload, now time.Time) (*model.Document, error) {
	mime := up.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}
	stored, err := s.docs.Put(ctx, docstore.Object{
		EvaluationID: evalID,
		Name:         up.Name,
		MimeType:     mime,
		Data:         up.Data,
	})
	if err != nil {
		return nil, certerr.Internal(op, err)
	}
	return &model.Document{
		ID:           s.newID(),
		EvaluationID: evalID,
		Name:         strings.TrimSpace(up.Name),
		URL:          stored.URL,
		Size:         stored.Size,
		MimeType:     mime,
		UploadedBy:   actor.ID,
		UploadedAt:   now,
	}, nil
}

func (s *Service) notify(ctx context.Context, ev *model.Evaluation, kind notify.Kind, fill func(*notify.Notification)) {
	n := notify.Notification{
		Kind:         kind,
		OwnerID:      ev.OwnerID,
		EvaluationID: ev.ID,
		Type:         ev.Type,
		OccurredAt:   ev.UpdatedAt,
	}
	if fill != nil {
		fill(&n)
	}
	notify.Deliver(ctx, s.notifier, n)
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func attachable(op string, ev *model.Evaluation) error {
	switch ev.Status() {
	case model.EvalPending, model.EvalSubmitted:
		return nil
	case model.EvalApproved, model.EvalRejected:
		return certerr.InvalidState(op, "evaluation %s already processed", ev.ID)
	}
	return certerr.InvalidState(op, "evaluation %s is %s, documents can only be attached before review", ev.ID, ev.Status())
}

func requireReviewer(op string, actor model.Actor) error {
	if actor.ID == "" || !actor.Reviewer {
		return certerr.Forbidden(op, "reviewer privilege required")
	}
	return nil
}

func copyMetrics(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
