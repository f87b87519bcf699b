// Package expiry reclassifies certifications as they approach or pass their
// validity window and sweeps stored marks on a schedule.
package expiry

import (
	"time"

	"github.com/sells-group/regenmark/internal/model"
)

// Reclassify returns mark with its status brought up to date for now.
// Revoked and expired marks are final and returned unchanged.
func Reclassify(mark model.Certification, now time.Time, window time.Duration) model.Certification {
	if !mark.Status.Live() {
		return mark
	}
	switch {
	case !now.Before(mark.ExpiresAt):
		mark.Status = model.CertExpired
	case mark.ExpiresAt.Sub(now) <= window:
		mark.Status = model.CertExpiringSoon
	}
	return mark
}

// ReclassifyAll applies Reclassify to every mark and returns a new slice.
func ReclassifyAll(marks []model.Certification, now time.Time, window time.Duration) []model.Certification {
	out := make([]model.Certification, len(marks))
	for i, m := range marks {
		out[i] = Reclassify(m, now, window)
	}
	return out
}
