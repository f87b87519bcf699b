package store

import (
	"context"
	"time"

	"github.com/sells-group/regenmark/internal/certerr"
	"github.com/sells-group/regenmark/internal/model"
)

// Repo is the set of reads and writes available both directly on a Store and
// inside a transaction.
type Repo interface {
	// Owners
	CreateOwner(ctx context.Context, owner *model.Owner) error
	GetOwner(ctx context.Context, ownerID string) (*model.Owner, error)
	// LockOwner reads the owner and, inside a transaction, holds its row lock
	// until commit so concurrent recomputes of one owner run one at a time.
	LockOwner(ctx context.Context, ownerID string) (*model.Owner, error)
	UpdateOwnerScore(ctx context.Context, ownerID string, total int, tier string, at time.Time) error

	// Evaluations. CreateEvaluation fails with an invalid-state error when the
	// owner already has an in-flight evaluation of the same type.
	CreateEvaluation(ctx context.Context, ev *model.Evaluation) error
	GetEvaluation(ctx context.Context, evalID string) (*model.Evaluation, error)
	ListEvaluations(ctx context.Context, ownerID string) ([]model.Evaluation, error)
	// UpdateEvaluation writes ev only if the stored status still equals from.
	UpdateEvaluation(ctx context.Context, ev *model.Evaluation, from model.EvaluationStatus) error
	AddDocument(ctx context.Context, doc *model.Document) error

	// Certifications
	CreateCertification(ctx context.Context, cert *model.Certification) error
	GetCertification(ctx context.Context, certID string) (*model.Certification, error)
	ListCertifications(ctx context.Context, ownerID string) ([]model.Certification, error)
	// ListLiveCertifications returns ACTIVE and EXPIRING_SOON marks that
	// expire at or before the given time.
	ListLiveCertifications(ctx context.Context, expiringBy time.Time) ([]model.Certification, error)
	// UpdateCertification writes status and revocation fields only if the
	// stored status still equals from.
	UpdateCertification(ctx context.Context, cert *model.Certification, from model.CertStatus) error
}

// Store defines the persistence interface for the certification engine.
type Store interface {
	Repo

	// InTx runs fn in one transaction. The transaction commits only if fn
	// returns nil; any error rolls every write back.
	InTx(ctx context.Context, fn func(tx Repo) error) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func errDuplicateInFlight(ev *model.Evaluation) error {
	return certerr.InvalidState("store.evaluation",
		"owner %s already has an in-flight %s evaluation", ev.OwnerID, ev.Type)
}

// errStaleEvaluation explains a conditional update that matched no row:
// either the evaluation does not exist or another writer moved it first.
func errStaleEvaluation(id string, from model.EvaluationStatus, exists bool) error {
	if !exists {
		return certerr.NotFound("store.update_evaluation", "evaluation", id)
	}
	if from.Terminal() {
		return certerr.InvalidState("store.update_evaluation", "evaluation %s already processed", id)
	}
	return certerr.InvalidState("store.update_evaluation",
		"evaluation %s is no longer %s; already processed or changed concurrently", id, from)
}

func errStaleCertification(id string, from model.CertStatus, exists bool) error {
	if !exists {
		return certerr.NotFound("store.update_certification", "certification", id)
	}
	return certerr.InvalidState("store.update_certification",
		"certification %s is no longer %s", id, from)
}
