package model

import (
	"strings"
	"time"
)

// CertificationType identifies a sustainability mark.
type CertificationType string

const (
	CarbonSaver      CertificationType = "CARBON_SAVER"
	WaterGuardian    CertificationType = "WATER_GUARDIAN"
	HumanFirst       CertificationType = "HUMAN_FIRST"
	HumaneHero       CertificationType = "HUMANE_HERO"
	CircularChampion CertificationType = "CIRCULAR_CHAMPION"
)

// CertificationTypes lists every known type in display order.
var CertificationTypes = []CertificationType{
	CarbonSaver,
	WaterGuardian,
	HumanFirst,
	HumaneHero,
	CircularChampion,
}

// Valid reports whether t is one of the closed set of certification types.
func (t CertificationType) Valid() bool {
	for _, known := range CertificationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseCertificationType normalizes user input ("carbon-saver", "Carbon Saver")
// into a CertificationType. The result is not guaranteed to be Valid.
func ParseCertificationType(s string) CertificationType {
	s = strings.TrimSpace(strings.ToUpper(s))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	return CertificationType(s)
}

// CertStatus is the validity status of an issued certification.
type CertStatus string

const (
	CertActive       CertStatus = "ACTIVE"
	CertExpiringSoon CertStatus = "EXPIRING_SOON"
	CertExpired      CertStatus = "EXPIRED"
	CertRevoked      CertStatus = "REVOKED"
)

// Live reports whether a mark with this status counts toward an aggregate.
func (s CertStatus) Live() bool {
	return s == CertActive || s == CertExpiringSoon
}

// Certification is one issued mark held by exactly one owner.
// Score is fixed at issuance; only Status (and revocation fields) change.
type Certification struct {
	ID           string            `json:"id"`
	OwnerID      string            `json:"owner_id"`
	EvaluationID string            `json:"evaluation_id"`
	Type         CertificationType `json:"type"`
	Score        int               `json:"score"`
	Status       CertStatus        `json:"status"`
	IssuedAt     time.Time         `json:"issued_at"`
	ExpiresAt    time.Time         `json:"expires_at"`
	RevokedAt    *time.Time        `json:"revoked_at,omitempty"`
	RevokeReason string            `json:"revoke_reason,omitempty"`
}

// Contribution is one mark's share of an aggregate score.
type Contribution struct {
	CertificationID string            `json:"certification_id"`
	Type            CertificationType `json:"type"`
	Score           int               `json:"score"`
	Weight          float64           `json:"weight"`
	Contribution    float64           `json:"contribution"`
}

// AggregateScore is the derived trust score of an owner. It is never stored
// as its own entity; owners keep only TotalScore and Tier.
type AggregateScore struct {
	TotalScore int            `json:"total_score"`
	Tier       string         `json:"tier"`
	Breakdown  []Contribution `json:"breakdown"`
}
