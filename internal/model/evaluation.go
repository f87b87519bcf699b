package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// EvaluationStatus is the workflow position of an evaluation.
type EvaluationStatus string

const (
	EvalPending      EvaluationStatus = "PENDING"
	EvalSubmitted    EvaluationStatus = "SUBMITTED"
	EvalAIProcessing EvaluationStatus = "AI_PROCESSING"
	EvalInReview     EvaluationStatus = "IN_REVIEW"
	EvalApproved     EvaluationStatus = "APPROVED"
	EvalRejected     EvaluationStatus = "REJECTED"
)

// Terminal reports whether no further transition is possible.
func (s EvaluationStatus) Terminal() bool {
	return s == EvalApproved || s == EvalRejected
}

// EvaluationState is the sealed set of workflow states. Each implementation
// carries only the data that exists in that state, so an approved evaluation
// always has a certification and a rejected one never does.
type EvaluationState interface {
	Status() EvaluationStatus
	evaluationState()
}

// Pending has been requested but has no evidence yet.
type Pending struct{}

// Submitted has at least one document and awaits metrics or review.
type Submitted struct{}

// AIProcessing holds the provisional score from the metric scorer.
type AIProcessing struct {
	AIScore int
}

// InReview has been picked up by a reviewer.
type InReview struct {
	AIScore    *int
	ReviewerID string
}

// Approved is terminal and links the issued certification.
type Approved struct {
	AIScore         *int
	ReviewerID      string
	ReviewScore     int
	ReviewerNotes   string
	CertificationID string
	DecidedAt       time.Time
}

// Rejected is terminal and always carries feedback for the owner.
type Rejected struct {
	AIScore       *int
	ReviewerID    string
	ReviewScore   *int
	ReviewerNotes string
	Feedback      string
	DecidedAt     time.Time
}

func (Pending) Status() EvaluationStatus      { return EvalPending }
func (Submitted) Status() EvaluationStatus    { return EvalSubmitted }
func (AIProcessing) Status() EvaluationStatus { return EvalAIProcessing }
func (InReview) Status() EvaluationStatus     { return EvalInReview }
func (Approved) Status() EvaluationStatus     { return EvalApproved }
func (Rejected) Status() EvaluationStatus     { return EvalRejected }

func (Pending) evaluationState()      {}
func (Submitted) evaluationState()    {}
func (AIProcessing) evaluationState() {}
func (InReview) evaluationState()     {}
func (Approved) evaluationState()     {}
func (Rejected) evaluationState()     {}

// Evaluation is a request to obtain one certification.
type Evaluation struct {
	ID          string
	OwnerID     string
	Type        CertificationType
	State       EvaluationState
	Metrics     map[string]float64
	Documents   []Document
	SubmittedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Status returns the status of the current state.
func (e *Evaluation) Status() EvaluationStatus {
	if e.State == nil {
		return EvalPending
	}
	return e.State.Status()
}

// Terminal reports whether the evaluation is approved or rejected.
func (e *Evaluation) Terminal() bool {
	return e.Status().Terminal()
}

// AIScore returns the provisional score, if one has been computed.
func (e *Evaluation) AIScore() *int {
	return Flatten(e.State).AIScore
}

// Document is evidence metadata; the bytes live in document storage.
type Document struct {
	ID           string    `json:"id"`
	EvaluationID string    `json:"evaluation_id"`
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	Size         int64     `json:"size"`
	MimeType     string    `json:"mime_type"`
	UploadedBy   string    `json:"uploaded_by"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// EvaluationFields is the column-shaped view of an EvaluationState used by
// storage and JSON encoding.
type EvaluationFields struct {
	Status          EvaluationStatus `json:"status"`
	AIScore         *int             `json:"ai_score,omitempty"`
	ReviewScore     *int             `json:"review_score,omitempty"`
	ReviewerID      string           `json:"reviewer_id,omitempty"`
	ReviewerNotes   string           `json:"reviewer_notes,omitempty"`
	Feedback        string           `json:"feedback,omitempty"`
	CertificationID string           `json:"certification_id,omitempty"`
	DecidedAt       *time.Time       `json:"decided_at,omitempty"`
}

// Flatten converts a state into its column view.
func Flatten(s EvaluationState) EvaluationFields {
	switch st := s.(type) {
	case nil, Pending:
		return EvaluationFields{Status: EvalPending}
	case Submitted:
		return EvaluationFields{Status: EvalSubmitted}
	case AIProcessing:
		score := st.AIScore
		return EvaluationFields{Status: EvalAIProcessing, AIScore: &score}
	case InReview:
		return EvaluationFields{Status: EvalInReview, AIScore: st.AIScore, ReviewerID: st.ReviewerID}
	case Approved:
		score := st.ReviewScore
		decided := st.DecidedAt
		return EvaluationFields{
			Status:          EvalApproved,
			AIScore:         st.AIScore,
			ReviewScore:     &score,
			ReviewerID:      st.ReviewerID,
			ReviewerNotes:   st.ReviewerNotes,
			CertificationID: st.CertificationID,
			DecidedAt:       &decided,
		}
	case Rejected:
		decided := st.DecidedAt
		return EvaluationFields{
			Status:        EvalRejected,
			AIScore:       st.AIScore,
			ReviewScore:   st.ReviewScore,
			ReviewerID:    st.ReviewerID,
			ReviewerNotes: st.ReviewerNotes,
			Feedback:      st.Feedback,
			DecidedAt:     &decided,
		}
	}
	return EvaluationFields{Status: s.Status()}
}

// State rebuilds the typed state from stored columns, rejecting rows that
// would describe an impossible state.
func (f EvaluationFields) State() (EvaluationState, error) {
	switch f.Status {
	case EvalPending:
		return Pending{}, nil
	case EvalSubmitted:
		return Submitted{}, nil
	case EvalAIProcessing:
		if f.AIScore == nil {
			return nil, eris.Errorf("evaluation state %s without ai score", f.Status)
		}
		return AIProcessing{AIScore: *f.AIScore}, nil
	case EvalInReview:
		return InReview{AIScore: f.AIScore, ReviewerID: f.ReviewerID}, nil
	case EvalApproved:
		if f.ReviewScore == nil || f.CertificationID == "" || f.DecidedAt == nil {
			return nil, eris.Errorf("evaluation state %s missing review score, certification or decision time", f.Status)
		}
		return Approved{
			AIScore:         f.AIScore,
			ReviewerID:      f.ReviewerID,
			ReviewScore:     *f.ReviewScore,
			ReviewerNotes:   f.ReviewerNotes,
			CertificationID: f.CertificationID,
			DecidedAt:       *f.DecidedAt,
		}, nil
	case EvalRejected:
		if f.Feedback == "" || f.CertificationID != "" || f.DecidedAt == nil {
			return nil, eris.Errorf("evaluation state %s needs feedback and decision time and no certification", f.Status)
		}
		return Rejected{
			AIScore:       f.AIScore,
			ReviewerID:    f.ReviewerID,
			ReviewScore:   f.ReviewScore,
			ReviewerNotes: f.ReviewerNotes,
			Feedback:      f.Feedback,
			DecidedAt:     *f.DecidedAt,
		}, nil
	}
	return nil, eris.Errorf("unknown evaluation status %q", f.Status)
}

type evaluationJSON struct {
	ID      string            `json:"id"`
	OwnerID string            `json:"owner_id"`
	Type    CertificationType `json:"type"`
	EvaluationFields
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	Documents   []Document         `json:"documents"`
	SubmittedAt *time.Time         `json:"submitted_at,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// MarshalJSON renders the evaluation with its state flattened.
func (e Evaluation) MarshalJSON() ([]byte, error) {
	docs := e.Documents
	if docs == nil {
		docs = []Document{}
	}
	return json.Marshal(evaluationJSON{
		ID:               e.ID,
		OwnerID:          e.OwnerID,
		Type:             e.Type,
		EvaluationFields: Flatten(e.State),
		Metrics:          e.Metrics,
		Documents:        docs,
		SubmittedAt:      e.SubmittedAt,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	})
}
