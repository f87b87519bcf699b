package model

import "time"

// OwnerKind distinguishes vendors from products.
type OwnerKind string

const (
	OwnerVendor  OwnerKind = "vendor"
	OwnerProduct OwnerKind = "product"
)

// Valid reports whether k is a known owner kind.
func (k OwnerKind) Valid() bool {
	return k == OwnerVendor || k == OwnerProduct
}

// Owner is the vendor or product certifications belong to. TotalScore and
// Tier are the persisted projection of the owner's current marks.
type Owner struct {
	ID         string     `json:"id"`
	Kind       OwnerKind  `json:"kind"`
	Name       string     `json:"name"`
	TotalScore int        `json:"total_score"`
	Tier       string     `json:"tier"`
	ScoredAt   *time.Time `json:"scored_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Actor is the already-authenticated caller of an engine operation.
type Actor struct {
	ID       string `json:"id"`
	Reviewer bool   `json:"reviewer"`
}
