package attribution

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"studyhub/internal/ledger"
	"studyhub/internal/store"
	"studyhub/internal/store/memory"
	"studyhub/pkg/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func strPtr(s string) *string { return &s }

type fixture struct {
	st       *memory.Store
	recorder *Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.NewStore()

	for _, tier := range []models.CommissionTier{
		{TierLevel: 1, TierName: "Starter", CommissionRate: d("8"), MonthlyUserThreshold: 0},
		{TierLevel: 2, TierName: "Growth", CommissionRate: d("12"), MonthlyUserThreshold: 100},
		{TierLevel: 3, TierName: "Elite", CommissionRate: d("16"), MonthlyUserThreshold: 250},
	} {
		tier := tier
		require.NoError(t, st.Tier().Upsert(ctx, &tier))
	}

	logger := zap.NewNop()
	rec := NewRecorder(st, ledger.NewService(logger), nil, nil, logger)

	clock := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	rec.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	return &fixture{st: st, recorder: rec}
}

func (f *fixture) creator(t *testing.T, code string, active bool) *models.CreatorProfile {
	t.Helper()
	c := &models.CreatorProfile{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		ReferralCode:     code,
		IsActive:         active,
		CurrentTierLevel: 1,
	}
	require.NoError(t, f.st.Creator().Create(context.Background(), c))
	return c
}

func (f *fixture) discountCode(t *testing.T, code string, owner uuid.UUID, active bool) *models.DiscountCode {
	t.Helper()
	dc := &models.DiscountCode{
		ID:              uuid.New(),
		Code:            code,
		CreatorID:       owner,
		DiscountPercent: d("10"),
		IsActive:        active,
	}
	require.NoError(t, f.st.DiscountCode().Create(context.Background(), dc))
	return dc
}

func (f *fixture) get(t *testing.T, id uuid.UUID) *models.CreatorProfile {
	t.Helper()
	c, err := f.st.Creator().GetByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

func TestAttributeDiscountCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.creator(t, "CREATORC", true)
	until := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.st.Creator().UpdateTierState(ctx, c.ID, 2, &until))
	f.discountCode(t, "SAVE10", c.ID, true)

	redeemed, err := f.recorder.RedeemDiscountCode(ctx, "save10")
	require.NoError(t, err)
	assert.Equal(t, 1, redeemed.UsageCount)

	a, err := f.recorder.Attribute(ctx, models.PaymentCompletedEvent{
		OrderID:      "order-1",
		UserID:       uuid.New(),
		FinalAmount:  d("10000"),
		DiscountCode: strPtr("SAVE10"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.AttributionSourceDiscountCode, a.Source)
	require.NotNil(t, a.CreatorID)
	assert.Equal(t, c.ID, *a.CreatorID)
	assert.True(t, a.CommissionRate.Equal(d("12")))
	assert.Equal(t, 2, a.TierLevel)
	assert.True(t, a.CreatorCommissionAmount.Equal(d("1200")), "commission %s", a.CreatorCommissionAmount)

	updated := f.get(t, c.ID)
	assert.True(t, updated.AvailableBalance.Equal(d("1200")))
	assert.Equal(t, 1, updated.LifetimePaidUsers)

	dc, err := f.st.DiscountCode().GetByCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 1, dc.PaidConversions)
	assert.Equal(t, 1, dc.UsageCount, "применение уже учтено при оформлении")
}

func TestAttributeConversionRaisesUsage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.creator(t, "CREATORD", true)
	f.discountCode(t, "NOREDEEM", c.ID, true)

	_, err := f.recorder.Attribute(ctx, models.PaymentCompletedEvent{
		OrderID:      "order-1",
		UserID:       uuid.New(),
		FinalAmount:  d("5000"),
		DiscountCode: strPtr("NOREDEEM"),
	})
	require.NoError(t, err)

	dc, err := f.st.DiscountCode().GetByCode(ctx, "NOREDEEM")
	require.NoError(t, err)
	assert.Equal(t, 1, dc.PaidConversions)
	assert.GreaterOrEqual(t, dc.UsageCount, dc.PaidConversions)
}

// conversionFailingStore ломает учет конверсии промокода внутри транзакции
type conversionFailingStore struct {
	*memory.Store
}

func (s *conversionFailingStore) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	return s.Store.WithTx(ctx, func(tx store.Store) error {
		return fn(conversionFailingTx{Store: tx})
	})
}

type conversionFailingTx struct {
	store.Store
}

func (tx conversionFailingTx) DiscountCode() store.DiscountCodeRepository {
	return failingConversions{DiscountCodeRepository: tx.Store.DiscountCode()}
}

type failingConversions struct {
	store.DiscountCodeRepository
}

func (failingConversions) RecordConversion(ctx context.Context, id uuid.UUID) error {
	return errors.New("connection reset")
}

func TestAttributeRollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.creator(t, "ATOMIC", true)
	dc := f.discountCode(t, "ATOMIC10", c.ID, true)

	logger := zap.NewNop()
	rec := NewRecorder(&conversionFailingStore{Store: f.st}, ledger.NewService(logger), nil, nil, logger)

	_, err := rec.Attribute(ctx, models.PaymentCompletedEvent{
		OrderID:      "order-atomic",
		UserID:       uuid.New(),
		FinalAmount:  d("10000"),
		DiscountCode: strPtr("ATOMIC10"),
	})
	require.Error(t, err)

	_, err = f.st.Attribution().GetByOrderID(ctx, "order-atomic")
	assert.ErrorIs(t, err, models.ErrNotFound)

	updated := f.get(t, c.ID)
	assert.True(t, updated.AvailableBalance.IsZero())
	assert.Equal(t, 0, updated.LifetimePaidUsers)

	entries, err := f.st.Ledger().ListByCreator(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	code, err := f.st.DiscountCode().GetByCode(ctx, dc.Code)
	require.NoError(t, err)
	assert.Equal(t, 0, code.PaidConversions)
}

func TestAttributeIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.creator(t, "REFONE", true)
	ev := models.PaymentCompletedEvent{
		OrderID:     "order-42",
		UserID:      uuid.New(),
		FinalAmount: d("2500"),
		RefCreator:  strPtr("refone"),
	}

	first, err := f.recorder.Attribute(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, models.AttributionSourceReferralCode, first.Source)
	assert.True(t, first.CreatorCommissionAmount.Equal(d("200")))

	second, err := f.recorder.Attribute(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	updated := f.get(t, c.ID)
	assert.True(t, updated.AvailableBalance.Equal(d("200")), "комиссия начислена один раз")
	assert.Equal(t, 1, updated.LifetimePaidUsers)

	entries, err := f.st.Ledger().ListByCreator(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAttributeResolution(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(t *testing.T, f *fixture) (codeOwner, refOwner *models.CreatorProfile)
		discount   *string
		ref        *string
		wantSource models.AttributionSource
		wantRef    bool
	}{
		{
			name: "неизвестный промокод и нет реферала",
			setup: func(t *testing.T, f *fixture) (*models.CreatorProfile, *models.CreatorProfile) {
				return nil, nil
			},
			discount:   strPtr("GHOST"),
			wantSource: models.AttributionSourceNone,
		},
		{
			name: "неактивный промокод уступает реферальному коду",
			setup: func(t *testing.T, f *fixture) (*models.CreatorProfile, *models.CreatorProfile) {
				owner := f.creator(t, "OWNER1", true)
				f.discountCode(t, "OFF", owner.ID, false)
				return owner, f.creator(t, "REF1", true)
			},
			discount:   strPtr("OFF"),
			ref:        strPtr("REF1"),
			wantSource: models.AttributionSourceReferralCode,
			wantRef:    true,
		},
		{
			name: "промокод неактивного создателя",
			setup: func(t *testing.T, f *fixture) (*models.CreatorProfile, *models.CreatorProfile) {
				owner := f.creator(t, "OWNER2", false)
				f.discountCode(t, "SLEEPY", owner.ID, true)
				return owner, nil
			},
			discount:   strPtr("SLEEPY"),
			wantSource: models.AttributionSourceNone,
		},
		{
			name: "неактивный создатель по реферальному коду",
			setup: func(t *testing.T, f *fixture) (*models.CreatorProfile, *models.CreatorProfile) {
				return nil, f.creator(t, "GONE", false)
			},
			ref:        strPtr("GONE"),
			wantSource: models.AttributionSourceNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			codeOwner, refOwner := tt.setup(t, f)

			a, err := f.recorder.Attribute(context.Background(), models.PaymentCompletedEvent{
				OrderID:      uuid.NewString(),
				UserID:       uuid.New(),
				FinalAmount:  d("1000"),
				DiscountCode: tt.discount,
				RefCreator:   tt.ref,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantSource, a.Source)

			if tt.wantRef {
				require.NotNil(t, a.CreatorID)
				assert.Equal(t, refOwner.ID, *a.CreatorID)
				assert.True(t, f.get(t, refOwner.ID).AvailableBalance.Equal(d("80")))
			} else {
				assert.Nil(t, a.CreatorID)
				assert.True(t, a.CreatorCommissionAmount.IsZero())
			}
			if codeOwner != nil {
				assert.True(t, f.get(t, codeOwner.ID).AvailableBalance.IsZero())
			}
		})
	}
}

func TestAttributeTierUpgrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.creator(t, "GROWER", true)

	pay := func(i int) *models.PaymentAttribution {
		a, err := f.recorder.Attribute(ctx, models.PaymentCompletedEvent{
			OrderID:     fmt.Sprintf("order-%d", i),
			UserID:      uuid.New(),
			FinalAmount: d("1000"),
			RefCreator:  strPtr("GROWER"),
		})
		require.NoError(t, err)
		return a
	}

	first := pay(0)
	assert.Equal(t, 1, first.TierLevel)
	assert.True(t, first.CommissionRate.Equal(d("8")))

	for i := 1; i < 100; i++ {
		pay(i)
	}

	upgraded := pay(100)
	assert.Equal(t, 2, upgraded.TierLevel, "сто пользователей до платежа")
	assert.True(t, upgraded.CommissionRate.Equal(d("12")))

	for i := 101; i < 120; i++ {
		pay(i)
	}

	updated := f.get(t, c.ID)
	assert.Equal(t, 120, updated.LifetimePaidUsers)
	// 100 платежей по 80 и 20 платежей по 120
	assert.True(t, updated.AvailableBalance.Equal(d("10400")), "balance %s", updated.AvailableBalance)

	history, err := f.recorder.History(ctx, c.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, history, 10)
	assert.Equal(t, "order-119", history[0].OrderID)
}

func TestAttributeValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		ev    models.PaymentCompletedEvent
		field string
	}{
		{"нет номера заказа", models.PaymentCompletedEvent{OrderID: " ", UserID: uuid.New(), FinalAmount: d("1")}, "order_id"},
		{"нет пользователя", models.PaymentCompletedEvent{OrderID: "o", FinalAmount: d("1")}, "user_id"},
		{"отрицательная сумма", models.PaymentCompletedEvent{OrderID: "o", UserID: uuid.New(), FinalAmount: d("-1")}, "final_amount"},
		{"три знака", models.PaymentCompletedEvent{OrderID: "o", UserID: uuid.New(), FinalAmount: d("1.001")}, "final_amount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.recorder.Attribute(context.Background(), tt.ev)
			var verr *models.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestRecordSignup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.creator(t, "INVITE", true)
	f.creator(t, "DORMANT", false)

	user := uuid.New()
	ref, err := f.recorder.RecordSignup(ctx, user, " invite ")
	require.NoError(t, err)
	assert.Equal(t, c.ID, ref.CreatorID)
	assert.Equal(t, "INVITE", ref.ReferralCode)

	tests := []struct {
		name   string
		userID uuid.UUID
		code   string
	}{
		{"повторная регистрация", user, "INVITE"},
		{"сам себя", c.UserID, "INVITE"},
		{"неизвестный код", uuid.New(), "NOPE"},
		{"неактивный создатель", uuid.New(), "DORMANT"},
		{"пустой код", uuid.New(), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.recorder.RecordSignup(ctx, tt.userID, tt.code)
			assert.True(t, models.IsValidation(err), "ошибка: %v", err)
		})
	}

	updated := f.get(t, c.ID)
	assert.True(t, updated.AvailableBalance.IsZero(), "регистрация не начисляет денег")
	assert.Equal(t, 0, updated.LifetimePaidUsers)
}

func TestRedeemDiscountCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	active := f.creator(t, "ACTIVE", true)
	inactive := f.creator(t, "SLEEP", false)
	f.discountCode(t, "LIVE", active.ID, true)
	f.discountCode(t, "PAUSED", active.ID, false)
	f.discountCode(t, "ORPHAN", inactive.ID, true)

	for _, code := range []string{"PAUSED", "ORPHAN", "MISSING", " "} {
		t.Run(code, func(t *testing.T) {
			_, err := f.recorder.RedeemDiscountCode(ctx, code)
			assert.True(t, models.IsValidation(err))
		})
	}

	dc, err := f.recorder.RedeemDiscountCode(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, 1, dc.UsageCount)
	assert.Equal(t, 0, dc.PaidConversions)
}
