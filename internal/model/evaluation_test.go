package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenStateRoundTrip(t *testing.T) {
	decided := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ai := 72
	for _, st := range []EvaluationState{
		Pending{},
		Submitted{},
		AIProcessing{AIScore: 72},
		InReview{AIScore: &ai, ReviewerID: "rev-1"},
		Approved{AIScore: &ai, ReviewerID: "rev-1", ReviewScore: 81, CertificationID: "cert-1", DecidedAt: decided},
		Rejected{ReviewerID: "rev-1", Feedback: "missing invoices", DecidedAt: decided},
	} {
		got, err := Flatten(st).State()
		require.NoError(t, err, st.Status())
		assert.Equal(t, st, got)
	}
}

func TestStateRejectsImpossibleRows(t *testing.T) {
	decided := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	score := 80
	tests := []struct {
		name string
		f    EvaluationFields
		want string
	}{
		{"ai processing without score", EvaluationFields{Status: EvalAIProcessing}, "without ai score"},
		{"approved without certification", EvaluationFields{Status: EvalApproved, ReviewScore: &score, DecidedAt: &decided}, "missing review score"},
		{"rejected with certification", EvaluationFields{Status: EvalRejected, Feedback: "no", CertificationID: "c", DecidedAt: &decided}, "no certification"},
		{"unknown status", EvaluationFields{Status: "ARCHIVED"}, `unknown evaluation status "ARCHIVED"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.f.State()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
