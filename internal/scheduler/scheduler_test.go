package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"studyhub/internal/metrics"
	"studyhub/internal/store"
	"studyhub/internal/store/memory"
	"studyhub/pkg/models"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingJob struct {
	name string
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	return j.err
}

func TestRunOnceContinuesAfterError(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	failing := &countingJob{name: "failing", err: errors.New("boom")}
	ok := &countingJob{name: "ok"}
	s.AddJob(failing)
	s.AddJob(ok)

	s.RunOnce(context.Background())
	assert.Equal(t, int32(1), failing.runs.Load())
	assert.Equal(t, int32(1), ok.runs.Load())
}

func TestStartStopsOnCancel(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	job := &countingJob{name: "job"}
	s.AddJob(job)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx, time.Hour)
		close(done)
	}()

	require.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("планировщик не остановился")
	}
}

func TestTierSnapshotJob(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	now := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

	for _, tier := range []models.CommissionTier{
		{TierLevel: 1, TierName: "Starter", CommissionRate: decimal.NewFromInt(8), MonthlyUserThreshold: 0},
		{TierLevel: 2, TierName: "Growth", CommissionRate: decimal.NewFromInt(12), MonthlyUserThreshold: 2},
	} {
		tier := tier
		require.NoError(t, st.Tier().Upsert(ctx, &tier))
	}

	newCreator := func(code string, level int, until *time.Time, active bool) *models.CreatorProfile {
		c := &models.CreatorProfile{
			ID:                  uuid.New(),
			UserID:              uuid.New(),
			ReferralCode:        code,
			IsActive:            active,
			CurrentTierLevel:    level,
			TierProtectionUntil: until,
		}
		require.NoError(t, st.Creator().Create(ctx, c))
		return c
	}

	future := now.Add(24 * time.Hour)
	lapsed := now.Add(-24 * time.Hour)

	grower := newCreator("GROWER", 1, nil, true)
	protected := newCreator("SAFE", 2, &future, true)
	expired := newCreator("EXPIRED", 2, &lapsed, true)
	inactive := newCreator("IDLE", 1, nil, false)

	for _, id := range []uuid.UUID{grower.ID, grower.ID, inactive.ID, inactive.ID} {
		creatorID := id
		_, err := st.Attribution().Insert(ctx, &models.PaymentAttribution{
			ID:        uuid.New(),
			OrderID:   uuid.NewString(),
			UserID:    uuid.New(),
			CreatorID: &creatorID,
			CreatedAt: now.Add(-time.Hour),
		})
		require.NoError(t, err)
	}

	job := NewTierSnapshotJob(st, zap.NewNop())
	job.now = func() time.Time { return now }
	require.NoError(t, job.Run(ctx))

	get := func(id uuid.UUID) *models.CreatorProfile {
		c, err := st.Creator().GetByID(ctx, id)
		require.NoError(t, err)
		return c
	}

	assert.Equal(t, 2, get(grower.ID).CurrentTierLevel)
	assert.Equal(t, 2, get(protected.ID).CurrentTierLevel)
	assert.NotNil(t, get(protected.ID).TierProtectionUntil)

	e := get(expired.ID)
	assert.Equal(t, 1, e.CurrentTierLevel)
	assert.Nil(t, e.TierProtectionUntil)

	assert.Equal(t, 1, get(inactive.ID).CurrentTierLevel, "неактивные не пересчитываются")
}

// grantingStore выдает защиту уровня, пока задача считает оплативших пользователей
type grantingStore struct {
	*memory.Store
	grant func(ctx context.Context)
}

func (s *grantingStore) Attribution() store.AttributionRepository {
	return grantingAttributions{AttributionRepository: s.Store.Attribution(), grant: s.grant}
}

type grantingAttributions struct {
	store.AttributionRepository
	grant func(ctx context.Context)
}

func (r grantingAttributions) CountPaidUsers(ctx context.Context, creatorID uuid.UUID, from, to time.Time) (int, error) {
	r.grant(ctx)
	return r.AttributionRepository.CountPaidUsers(ctx, creatorID, from, to)
}

func TestTierSnapshotKeepsProtectionGrantedDuringRun(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	now := time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

	for _, tier := range []models.CommissionTier{
		{TierLevel: 1, TierName: "Starter", CommissionRate: decimal.NewFromInt(8), MonthlyUserThreshold: 0},
		{TierLevel: 2, TierName: "Growth", CommissionRate: decimal.NewFromInt(12), MonthlyUserThreshold: 100},
	} {
		tier := tier
		require.NoError(t, mem.Tier().Upsert(ctx, &tier))
	}

	c := &models.CreatorProfile{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		ReferralCode:     "LATEGRANT",
		IsActive:         true,
		CurrentTierLevel: 2,
	}
	require.NoError(t, mem.Creator().Create(ctx, c))

	until := now.Add(30 * 24 * time.Hour)
	granted := false
	st := &grantingStore{Store: mem, grant: func(ctx context.Context) {
		if granted {
			return
		}
		granted = true
		require.NoError(t, mem.Creator().UpdateTierState(ctx, c.ID, 2, &until))
	}}

	job := NewTierSnapshotJob(st, zap.NewNop())
	job.now = func() time.Time { return now }
	require.NoError(t, job.Run(ctx))
	require.True(t, granted)

	got, err := mem.Creator().GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentTierLevel)
	require.NotNil(t, got.TierProtectionUntil)
	assert.True(t, until.Equal(*got.TierProtectionUntil))
}

type recordingNotifier struct{ texts []string }

func (n *recordingNotifier) NotifyAdmins(ctx context.Context, text string) error {
	n.texts = append(n.texts, text)
	return nil
}

func TestPendingDigestJob(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(zap.NewNop(), reg, reg)
	notifier := &recordingNotifier{}
	job := NewPendingDigestJob(st, notifier, m, zap.NewNop())

	require.NoError(t, job.Run(ctx))
	assert.Empty(t, notifier.texts, "пустая очередь не беспокоит администраторов")

	require.NoError(t, st.Withdrawal().Create(ctx, &models.WithdrawalRequest{
		ID:     uuid.New(),
		Status: models.RequestStatusPending,
	}))
	require.NoError(t, st.HeadOps().Create(ctx, &models.HeadOpsRequest{
		ID:     uuid.New(),
		Status: models.RequestStatusPending,
	}))

	require.NoError(t, job.Run(ctx))
	require.Len(t, notifier.texts, 1)
	assert.Contains(t, notifier.texts[0], "Заявки на вывод: 1")
	expected := `
# HELP pending_withdrawal_requests Количество заявок на вывод в ожидании
# TYPE pending_withdrawal_requests gauge
pending_withdrawal_requests 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "pending_withdrawal_requests"))
}
