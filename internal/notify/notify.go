// Package notify dispatches workflow notifications to vendors and reviewers.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/regenmark/internal/model"
)

// Kind identifies what happened.
type Kind string

const (
	KindSubmitted    Kind = "evaluation.submitted"
	KindApproved     Kind = "evaluation.approved"
	KindRejected     Kind = "evaluation.rejected"
	KindTierChanged  Kind = "owner.tier_changed"
	KindExpiringSoon Kind = "certification.expiring_soon"
	KindExpired      Kind = "certification.expired"
	KindRevoked      Kind = "certification.revoked"
)

// Notification is one message to an owner. Subject and Body are filled by
// Render; the remaining fields travel as structured data for consumers.
type Notification struct {
	Kind            Kind                    `json:"kind"`
	OwnerID         string                  `json:"owner_id"`
	EvaluationID    string                  `json:"evaluation_id,omitempty"`
	CertificationID string                  `json:"certification_id,omitempty"`
	Type            model.CertificationType `json:"type,omitempty"`
	Score           int                     `json:"score,omitempty"`
	Tier            string                  `json:"tier,omitempty"`
	PreviousTier    string                  `json:"previous_tier,omitempty"`
	Feedback        string                  `json:"feedback,omitempty"`
	ExpiresAt       *time.Time              `json:"expires_at,omitempty"`
	Link            string                  `json:"link,omitempty"`
	Subject         string                  `json:"subject"`
	Body            string                  `json:"body"`
	OccurredAt      time.Time               `json:"occurred_at"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Deliver renders n and hands it to notifier. Failures are logged and never
// returned: a notification that cannot be sent must not undo the workflow
// step that produced it.
func Deliver(ctx context.Context, notifier Notifier, n Notification) {
	if notifier == nil {
		return
	}
	n = Render(n)
	if err := notifier.Notify(ctx, n); err != nil {
		zap.L().Warn("notify: delivery failed",
			zap.String("kind", string(n.Kind)),
			zap.String("owner_id", n.OwnerID),
			zap.String("evaluation_id", n.EvaluationID),
			zap.Error(err),
		)
	}
}

// title builds a fresh Caser per call; a Caser is not safe for concurrent use.
func title(s string) string {
	return cases.Title(language.English).String(strings.ToLower(s))
}

// DisplayName turns CARBON_SAVER into "Carbon Saver".
func DisplayName(t model.CertificationType) string {
	return title(strings.ReplaceAll(string(t), "_", " "))
}

// Render fills Subject and Body from the structured fields. Preset values
// are kept.
func Render(n Notification) Notification {
	name := DisplayName(n.Type)
	var subject, body string
	switch n.Kind {
	case KindSubmitted:
		subject = fmt.Sprintf("%s evaluation submitted", name)
		body = fmt.Sprintf("Your %s evaluation has been submitted and is waiting for review.", name)
	case KindApproved:
		subject = fmt.Sprintf("%s certification approved", name)
		body = fmt.Sprintf("Congratulations! Your %s certification was approved with a score of %d.", name, n.Score)
	case KindRejected:
		subject = fmt.Sprintf("%s evaluation needs changes", name)
		body = fmt.Sprintf("Your %s evaluation was not approved. Reviewer feedback: %s", name, n.Feedback)
	case KindTierChanged:
		subject = fmt.Sprintf("Your RegenMark tier is now %s", title(n.Tier))
		body = fmt.Sprintf("Your trust tier changed from %s to %s.", n.PreviousTier, n.Tier)
	case KindExpiringSoon:
		subject = fmt.Sprintf("%s certification expires soon", name)
		body = fmt.Sprintf("Your %s certification expires on %s. Start a renewal evaluation to keep it.", name, formatDate(n.ExpiresAt))
	case KindExpired:
		subject = fmt.Sprintf("%s certification expired", name)
		body = fmt.Sprintf("Your %s certification expired on %s and no longer counts toward your score.", name, formatDate(n.ExpiresAt))
	case KindRevoked:
		subject = fmt.Sprintf("%s certification revoked", name)
		body = fmt.Sprintf("Your %s certification was revoked. Reason: %s", name, n.Feedback)
	default:
		subject = string(n.Kind)
	}
	if n.Subject == "" {
		n.Subject = subject
	}
	if n.Body == "" {
		n.Body = body
	}
	if n.OccurredAt.IsZero() {
		n.OccurredAt = time.Now().UTC()
	}
	return n
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "an unknown date"
	}
	return t.UTC().Format("January 2, 2006")
}

// Linker sets a deep link into the vendor app before passing n on.
type Linker struct {
	BaseURL string
	Next    Notifier
}

func (l Linker) Notify(ctx context.Context, n Notification) error {
	if n.Link == "" && l.BaseURL != "" {
		base := strings.TrimRight(l.BaseURL, "/")
		switch {
		case n.EvaluationID != "":
			n.Link = base + "/evaluations/" + n.EvaluationID
		case n.CertificationID != "":
			n.Link = base + "/certifications/" + n.CertificationID
		default:
			n.Link = base + "/owners/" + n.OwnerID
		}
	}
	return l.Next.Notify(ctx, n)
}
