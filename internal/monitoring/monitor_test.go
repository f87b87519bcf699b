package monitoring

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/regenmark/internal/catalog"
	"github.com/sells-group/regenmark/internal/certify"
	"github.com/sells-group/regenmark/internal/config"
	"github.com/sells-group/regenmark/internal/model"
	"github.com/sells-group/regenmark/internal/notify"
	"github.com/sells-group/regenmark/internal/store"
)

var testNow = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store   store.Store
	monitor *Monitor
	notes   *notify.Recorder
}

func newFixture(t *testing.T, cfg config.ExpiryConfig) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	cat := catalog.Default()
	clock := func() time.Time { return testNow }
	rec := &notify.Recorder{}
	iss := certify.New(st, cat, certify.WithClock(clock), certify.WithNotifier(rec))
	mon := NewMonitor(st, iss, cat, cfg, WithClock(clock))
	return &fixture{store: st, monitor: mon, notes: rec}
}

func (f *fixture) owner(t *testing.T, id, tier string, total int) {
	t.Helper()
	require.NoError(t, f.store.CreateOwner(context.Background(), &model.Owner{
		ID: id, Kind: model.OwnerVendor, Name: id, Tier: tier, TotalScore: total, CreatedAt: testNow.AddDate(-2, 0, 0),
	}))
}

func (f *fixture) mark(t *testing.T, ownerID string, typ model.CertificationType, score int, status model.CertStatus, expiresAt time.Time) *model.Certification {
	t.Helper()
	ctx := context.Background()
	issued := expiresAt.AddDate(-1, 0, 0)
	ev := &model.Evaluation{
		ID: uuid.NewString(), OwnerID: ownerID, Type: typ, State: model.Pending{},
		CreatedAt: issued, UpdatedAt: issued,
	}
	require.NoError(t, f.store.CreateEvaluation(ctx, ev))
	c := &model.Certification{
		ID: uuid.NewString(), OwnerID: ownerID, EvaluationID: ev.ID, Type: typ,
		Score: score, Status: status, IssuedAt: issued, ExpiresAt: expiresAt,
	}
	require.NoError(t, f.store.CreateCertification(ctx, c))
	ev.State = model.Approved{ReviewScore: score, CertificationID: c.ID, DecidedAt: issued}
	require.NoError(t, f.store.UpdateEvaluation(ctx, ev, model.EvalPending))
	return c
}

func TestSweep_ReclassifiesAndRecomputes(t *testing.T) {
	f := newFixture(t, config.ExpiryConfig{Concurrency: 2})
	ctx := context.Background()

	f.owner(t, "acme", "GOLD", 80)
	expired := f.mark(t, "acme", model.CarbonSaver, 80, model.CertActive, testNow.Add(-time.Hour))
	soon := f.mark(t, "acme", model.WaterGuardian, 70, model.CertActive, testNow.AddDate(0, 0, 10))

	f.owner(t, "quiet", "SILVER", 65)
	f.mark(t, "quiet", model.HumanFirst, 65, model.CertActive, testNow.AddDate(0, 6, 0))

	report, err := f.monitor.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Owners)
	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, 1, report.ExpiringSoon)
	assert.Equal(t, 1, report.TierChanges)
	assert.Zero(t, report.Failed)

	got, err := f.store.GetCertification(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CertExpired, got.Status)
	got, err = f.store.GetCertification(ctx, soon.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CertExpiringSoon, got.Status)

	owner, err := f.store.GetOwner(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 70, owner.TotalScore)
	assert.Equal(t, "SILVER", owner.Tier)

	quiet, err := f.store.GetOwner(ctx, "quiet")
	require.NoError(t, err)
	assert.Equal(t, 65, quiet.TotalScore)

	assert.ElementsMatch(t,
		[]notify.Kind{notify.KindExpired, notify.KindExpiringSoon, notify.KindTierChanged},
		f.notes.Kinds())
}

func TestSweep_IsIdempotent(t *testing.T) {
	f := newFixture(t, config.ExpiryConfig{Concurrency: 1})
	f.owner(t, "acme", "SILVER", 70)
	f.mark(t, "acme", model.WaterGuardian, 70, model.CertActive, testNow.AddDate(0, 0, 5))

	_, err := f.monitor.Sweep(context.Background())
	require.NoError(t, err)
	first := len(f.notes.Sent())

	report, err := f.monitor.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.ExpiringSoon)
	assert.Zero(t, report.TierChanges)
	assert.Len(t, f.notes.Sent(), first)
}

func TestSweep_IgnoresRevokedMarks(t *testing.T) {
	f := newFixture(t, config.ExpiryConfig{})
	f.owner(t, "acme", "NONE", 0)
	f.mark(t, "acme", model.CarbonSaver, 90, model.CertRevoked, testNow.Add(-time.Hour))

	report, err := f.monitor.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Owners)
	assert.Empty(t, f.notes.Sent())
}

func TestSweep_RateLimited(t *testing.T) {
	f := newFixture(t, config.ExpiryConfig{Concurrency: 4, OwnersPerSec: 1000})
	for _, id := range []string{"a", "b", "c"} {
		f.owner(t, id, "NONE", 0)
		f.mark(t, id, model.HumaneHero, 50, model.CertActive, testNow.Add(-time.Minute))
	}

	report, err := f.monitor.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Owners)
	assert.Equal(t, 3, report.Expired)
}

func TestSweep_CancelledContext(t *testing.T) {
	f := newFixture(t, config.ExpiryConfig{OwnersPerSec: 0.001})
	f.owner(t, "a", "NONE", 0)
	f.owner(t, "b", "NONE", 0)
	f.mark(t, "a", model.HumaneHero, 50, model.CertActive, testNow.Add(-time.Minute))
	f.mark(t, "b", model.HumaneHero, 50, model.CertActive, testNow.Add(-time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.monitor.Sweep(ctx)
	assert.Error(t, err)
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t, config.ExpiryConfig{IntervalSecs: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.monitor.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Monitor.Run did not stop after context cancellation")
	}
}

func TestMonitor_DefaultInterval(t *testing.T) {
	f := newFixture(t, config.ExpiryConfig{})
	assert.Equal(t, 1, f.monitor.concurrency)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.monitor.Run(ctx)
}

func TestDistinctOwners(t *testing.T) {
	got := distinctOwners([]model.Certification{{OwnerID: "b"}, {OwnerID: "a"}, {OwnerID: "b"}})
	assert.Equal(t, []string{"a", "b"}, got)
}
