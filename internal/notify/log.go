package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// LogNotifier writes notifications to the zap logger. It is the default
// driver for development and for deployments without a broker.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n Notification) error {
	zap.L().Info("notify: "+n.Subject,
		zap.String("kind", string(n.Kind)),
		zap.String("owner_id", n.OwnerID),
		zap.String("evaluation_id", n.EvaluationID),
		zap.String("certification_id", n.CertificationID),
		zap.String("body", n.Body),
	)
	return nil
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
	// Err, when set, is returned from every Notify call after recording.
	Err error
}

func (r *Recorder) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.Err
}

// Sent returns a copy of the recorded notifications.
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

// Kinds returns the kinds of the recorded notifications in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]Kind, len(r.sent))
	for i, n := range r.sent {
		kinds[i] = n.Kind
	}
	return kinds
}
