package store_test

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"studyhub/internal/config"
	"studyhub/internal/migrations"
	"studyhub/internal/store"
	"studyhub/pkg/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// openTestStore подключается к базе из TEST_DB_* и применяет миграции.
// Без TEST_DB_NAME тест пропускается.
func openTestStore(t *testing.T) store.Store {
	t.Helper()
	name := os.Getenv("TEST_DB_NAME")
	if name == "" {
		t.Skip("TEST_DB_NAME не задан, тесты PostgreSQL пропущены")
	}

	port, err := strconv.Atoi(os.Getenv("TEST_DB_PORT"))
	if err != nil {
		port = 5432
	}
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		host = "localhost"
	}

	cfg := &config.Config{Database: config.DatabaseConfig{
		Host:          host,
		Port:          port,
		User:          os.Getenv("TEST_DB_USER"),
		Password:      os.Getenv("TEST_DB_PASSWORD"),
		Name:          name,
		SSLMode:       "disable",
		MigrationPath: "../../scripts/migrations",
		MaxConns:      4,
	}}

	logger := zap.NewNop()
	require.NoError(t, migrations.RunMigrations(cfg, logger))

	st, err := store.NewStore(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func createCreator(t *testing.T, st store.Store) *models.CreatorProfile {
	t.Helper()
	c := &models.CreatorProfile{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		ReferralCode:     "PG" + uuid.NewString()[:8],
		IsActive:         true,
		CurrentTierLevel: 1,
	}
	require.NoError(t, st.Creator().Create(context.Background(), c))
	return c
}

func TestPostgresAttributionInsertIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	c := createCreator(t, st)

	a := &models.PaymentAttribution{
		ID:                      uuid.New(),
		OrderID:                 "pg-" + uuid.NewString(),
		UserID:                  uuid.New(),
		CreatorID:               &c.ID,
		FinalAmount:             decimal.NewFromInt(10000),
		CommissionRate:          decimal.RequireFromString("12.50"),
		TierLevel:               2,
		CreatorCommissionAmount: decimal.NewFromInt(1250),
		Source:                  models.AttributionSourceReferralCode,
		CreatedAt:               time.Now().UTC(),
	}
	inserted, err := st.Attribution().Insert(ctx, a)
	require.NoError(t, err)
	assert.True(t, inserted)

	again := *a
	again.ID = uuid.New()
	inserted, err = st.Attribution().Insert(ctx, &again)
	require.NoError(t, err)
	assert.False(t, inserted, "повторный order_id не вставляется")

	got, err := st.Attribution().GetByOrderID(ctx, a.OrderID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.True(t, got.CommissionRate.Equal(a.CommissionRate))

	_, err = st.Attribution().GetByOrderID(ctx, "pg-missing-"+uuid.NewString())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPostgresSetPrimaryKeepsOnePrimary(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	c := createCreator(t, st)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		m := &models.WithdrawalMethod{
			ID:            uuid.New(),
			CreatorID:     c.ID,
			MethodType:    models.WithdrawalMethodBank,
			BankName:      "Commercial Bank",
			AccountName:   "N. Perera",
			AccountNumber: strconv.Itoa(800000 + i),
			IsPrimary:     i == 0,
		}
		require.NoError(t, st.WithdrawalMethod().Create(ctx, m))
		ids = append(ids, m.ID)
	}

	require.NoError(t, st.WithTx(ctx, func(tx store.Store) error {
		return tx.WithdrawalMethod().SetPrimary(ctx, c.ID, ids[2])
	}))

	methods, err := st.WithdrawalMethod().ListByCreator(ctx, c.ID)
	require.NoError(t, err)
	primaries := 0
	for _, m := range methods {
		if m.IsPrimary {
			primaries++
			assert.Equal(t, ids[2], m.ID)
		}
	}
	assert.Equal(t, 1, primaries)

	err = st.WithTx(ctx, func(tx store.Store) error {
		return tx.WithdrawalMethod().SetPrimary(ctx, c.ID, uuid.New())
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestPostgresWithdrawalReviewIsConditional(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	c := createCreator(t, st)

	method := &models.WithdrawalMethod{
		ID:            uuid.New(),
		CreatorID:     c.ID,
		MethodType:    models.WithdrawalMethodBank,
		BankName:      "Commercial Bank",
		AccountName:   "N. Perera",
		AccountNumber: "800123456",
		IsPrimary:     true,
	}
	require.NoError(t, st.WithdrawalMethod().Create(ctx, method))

	req := &models.WithdrawalRequest{
		ID:                 uuid.New(),
		CreatorID:          c.ID,
		WithdrawalMethodID: method.ID,
		Amount:             decimal.NewFromInt(20000),
		FeePercent:         decimal.NewFromInt(3),
		FeeAmount:          decimal.NewFromInt(600),
		NetAmount:          decimal.NewFromInt(19400),
		Status:             models.RequestStatusPending,
		CreatedAt:          time.Now().UTC(),
	}
	require.NoError(t, st.Withdrawal().Create(ctx, req))

	req.Status = models.RequestStatusApproved
	require.NoError(t, st.Withdrawal().UpdateReview(ctx, req, models.RequestStatusPending))

	req.Status = models.RequestStatusRejected
	err := st.Withdrawal().UpdateReview(ctx, req, models.RequestStatusPending)
	assert.True(t, errors.Is(err, store.ErrConcurrentUpdate), "статус уже не pending: %v", err)

	got, err := st.Withdrawal().GetByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, got.Status)
}

func TestPostgresWithTxRollsBack(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	c := createCreator(t, st)

	boom := errors.New("откат")
	err := st.WithTx(ctx, func(tx store.Store) error {
		locked, err := tx.Creator().GetForUpdate(ctx, c.ID)
		if err != nil {
			return err
		}
		if err := tx.Tier().Lock(ctx); err != nil {
			return err
		}
		locked.AvailableBalance = decimal.NewFromInt(500)
		if err := tx.Creator().UpdateLedger(ctx, locked); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := st.Creator().GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.AvailableBalance.IsZero())
}
