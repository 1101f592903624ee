package creator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"studyhub/internal/settings"
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

var testNow = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *memory.Store) {
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
	svc, err := NewService(st, settings.NewService(st.Settings(), logger), logger)
	require.NoError(t, err)
	svc.now = func() time.Time { return testNow }
	return svc, st
}

func TestNewServiceGeneratesCodes(t *testing.T) {
	svc, _ := newService(t)
	code := svc.generateCode()
	assert.Len(t, code, referralCodeLength)
	for _, r := range code {
		assert.Contains(t, referralCodeAlphabet, string(r))
	}
}

func TestOnboard(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	codes := []string{"TAKEN001", "TAKEN001", "FRESH002"}
	svc.generateCode = func() string {
		c := codes[0]
		codes = codes[1:]
		return c
	}

	first, err := svc.Onboard(ctx, OnboardInput{UserID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, "TAKEN001", first.ReferralCode)
	assert.Equal(t, 1, first.CurrentTierLevel)
	assert.True(t, first.IsActive)
	assert.True(t, first.AvailableBalance.IsZero())

	second, err := svc.Onboard(ctx, OnboardInput{UserID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, "FRESH002", second.ReferralCode, "повтор после коллизии")

	_, err = svc.Onboard(ctx, OnboardInput{UserID: first.UserID})
	assert.True(t, models.IsValidation(err), "один профиль на пользователя")

	got, err := st.Creator().GetByReferralCode(ctx, "FRESH002")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
}

func TestOnboardCollisionExhausted(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	svc.generateCode = func() string { return "SAMECODE" }

	_, err := svc.Onboard(ctx, OnboardInput{UserID: uuid.New()})
	require.NoError(t, err)

	_, err = svc.Onboard(ctx, OnboardInput{UserID: uuid.New()})
	assert.ErrorContains(t, err, fmt.Sprintf("после %d попыток", maxCodeAttempts))
}

func TestOnboardWithCMO(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	cmo, err := svc.CreateCMO(ctx, uuid.New(), " Kandy team ")
	require.NoError(t, err)
	assert.Equal(t, "Kandy team", cmo.Name)

	c, err := svc.Onboard(ctx, OnboardInput{UserID: uuid.New(), CMOID: &cmo.ID})
	require.NoError(t, err)
	require.NotNil(t, c.CMOID)
	assert.Equal(t, cmo.ID, *c.CMOID)

	missing := uuid.New()
	_, err = svc.Onboard(ctx, OnboardInput{UserID: uuid.New(), CMOID: &missing})
	assert.True(t, models.IsValidation(err))

	require.NoError(t, st.CMO().SetActive(ctx, cmo.ID, false))
	_, err = svc.Onboard(ctx, OnboardInput{UserID: uuid.New(), CMOID: &cmo.ID})
	assert.True(t, models.IsValidation(err))

	_, err = svc.CreateCMO(ctx, uuid.New(), "  ")
	assert.True(t, models.IsValidation(err))
}

func TestCreateDiscountCode(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	require.NoError(t, st.Settings().Set(ctx, settings.KeyMaxDiscountCodes, "2"))

	c, err := svc.Onboard(ctx, OnboardInput{UserID: uuid.New()})
	require.NoError(t, err)

	dc, err := svc.CreateDiscountCode(ctx, c.ID, DiscountCodeInput{Code: " save10 ", DiscountPercent: d("10")}, false)
	require.NoError(t, err)
	assert.Equal(t, "SAVE10", dc.Code)
	assert.True(t, dc.IsActive)

	tests := []struct {
		name  string
		in    DiscountCodeInput
		field string
	}{
		{"дубликат", DiscountCodeInput{Code: "Save10", DiscountPercent: d("5")}, "code"},
		{"короткий код", DiscountCodeInput{Code: "AB", DiscountPercent: d("5")}, "code"},
		{"пробел в коде", DiscountCodeInput{Code: "SAVE 10", DiscountPercent: d("5")}, "code"},
		{"нулевая скидка", DiscountCodeInput{Code: "ZERO", DiscountPercent: d("0")}, "discount_percent"},
		{"скидка больше 100", DiscountCodeInput{Code: "HUGE", DiscountPercent: d("100.5")}, "discount_percent"},
		{"три знака в скидке", DiscountCodeInput{Code: "FINE", DiscountPercent: d("7.125")}, "discount_percent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateDiscountCode(ctx, c.ID, tt.in, false)
			var verr *models.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	_, err = svc.CreateDiscountCode(ctx, c.ID, DiscountCodeInput{Code: "FULL100", DiscountPercent: d("100")}, false)
	require.NoError(t, err)

	_, err = svc.CreateDiscountCode(ctx, c.ID, DiscountCodeInput{Code: "THIRD", DiscountPercent: d("5")}, false)
	assert.True(t, models.IsValidation(err), "лимит промокодов")

	_, err = svc.CreateDiscountCode(ctx, c.ID, DiscountCodeInput{Code: "THIRD", DiscountPercent: d("5")}, true)
	require.NoError(t, err, "оператор не ограничен лимитом")

	codes, err := svc.ListDiscountCodes(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, codes, 3)

	_, err = svc.CreateDiscountCode(ctx, uuid.New(), DiscountCodeInput{Code: "NOBODY", DiscountPercent: d("5")}, true)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGrantTierProtection(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	c, err := svc.Onboard(ctx, OnboardInput{UserID: uuid.New()})
	require.NoError(t, err)

	_, err = svc.GrantTierProtection(ctx, c.ID, 3, testNow.Add(-time.Hour))
	assert.True(t, models.IsValidation(err))

	_, err = svc.GrantTierProtection(ctx, c.ID, 7, testNow.Add(time.Hour))
	assert.True(t, models.IsValidation(err))

	until := testNow.AddDate(0, 1, 0)
	updated, err := svc.GrantTierProtection(ctx, c.ID, 3, until)
	require.NoError(t, err)
	assert.Equal(t, 3, updated.CurrentTierLevel)

	summary, err := svc.Summary(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, summary.EffectiveRate.Equal(d("16")))
	require.NotNil(t, summary.ProtectedUntil)
	assert.True(t, summary.ProtectedUntil.Equal(until))
	require.NotNil(t, summary.CurrentTier)
	assert.Equal(t, 3, summary.CurrentTier.TierLevel)
	assert.Nil(t, summary.NextTier)
	assert.True(t, summary.ProgressPercent.Equal(d("100")))
}

func TestSummary(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	c, err := svc.Onboard(ctx, OnboardInput{UserID: uuid.New()})
	require.NoError(t, err)

	creatorID := c.ID
	for i := 0; i < 50; i++ {
		inserted, err := st.Attribution().Insert(ctx, &models.PaymentAttribution{
			ID:        uuid.New(),
			OrderID:   fmt.Sprintf("o-%d", i),
			UserID:    uuid.New(),
			CreatorID: &creatorID,
			CreatedAt: testNow.Add(-time.Duration(i+1) * time.Minute),
		})
		require.NoError(t, err)
		require.True(t, inserted)
	}
	// прошлый месяц не учитывается
	_, err = st.Attribution().Insert(ctx, &models.PaymentAttribution{
		ID:        uuid.New(),
		OrderID:   "april",
		UserID:    uuid.New(),
		CreatorID: &creatorID,
		CreatedAt: time.Date(2026, 4, 30, 23, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	summary, err := svc.Summary(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, summary.MonthlyPaidUsers)
	assert.True(t, summary.EffectiveRate.Equal(d("8")))
	require.NotNil(t, summary.CurrentTier)
	assert.Equal(t, 1, summary.CurrentTier.TierLevel)
	require.NotNil(t, summary.NextTier)
	assert.Equal(t, 2, summary.NextTier.TierLevel)
	assert.True(t, summary.ProgressPercent.Equal(d("50")), "progress %s", summary.ProgressPercent)
	assert.Nil(t, summary.ProtectedUntil)

	_, err = svc.Summary(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}
