package withdrawal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"studyhub/internal/events"
	"studyhub/internal/ledger"
	"studyhub/internal/settings"
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

type capturePublisher struct {
	mu     sync.Mutex
	events []events.SettlementEvent
}

func (p *capturePublisher) Publish(ctx context.Context, e events.SettlementEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type failingNotifier struct{ calls int }

func (n *failingNotifier) NotifyAdmins(ctx context.Context, text string) error {
	n.calls++
	return errors.New("telegram недоступен")
}

type fixture struct {
	st        *memory.Store
	svc       *Service
	publisher *capturePublisher
	notifier  *failingNotifier
	creator   *models.CreatorProfile
	method    *models.WithdrawalMethod
}

// newFixture создает создателя с балансом balance и одними реквизитами
func newFixture(t *testing.T, balance string) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	st := memory.NewStore()
	require.NoError(t, st.Settings().Set(ctx, settings.KeyMinimumPayout, "10000"))
	require.NoError(t, st.Settings().Set(ctx, settings.KeyWithdrawalFeePercent, "3"))

	led := ledger.NewService(logger)
	publisher := &capturePublisher{}
	notifier := &failingNotifier{}
	svc := NewService(st, led, settings.NewService(st.Settings(), logger), publisher, notifier, nil, logger)
	svc.now = func() time.Time { return time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC) }

	creator := &models.CreatorProfile{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		ReferralCode:     "CR" + uuid.NewString()[:6],
		IsActive:         true,
		CurrentTierLevel: 1,
	}
	require.NoError(t, st.Creator().Create(ctx, creator))

	if amount := d(balance); amount.IsPositive() {
		require.NoError(t, st.WithTx(ctx, func(tx store.Store) error {
			c, err := tx.Creator().GetForUpdate(ctx, creator.ID)
			if err != nil {
				return err
			}
			return led.Credit(ctx, tx, c, amount, uuid.New())
		}))
	}

	method, err := svc.AddMethod(ctx, creator.ID, MethodInput{
		MethodType:    models.WithdrawalMethodBank,
		BankName:      "Commercial Bank",
		AccountName:   "N. Perera",
		AccountNumber: "800123456",
	})
	require.NoError(t, err)

	return &fixture{st: st, svc: svc, publisher: publisher, notifier: notifier, creator: creator, method: method}
}

func (f *fixture) balances(t *testing.T) *models.CreatorProfile {
	t.Helper()
	c, err := f.st.Creator().GetByID(context.Background(), f.creator.ID)
	require.NoError(t, err)
	return c
}

func (f *fixture) create(amount string) (*models.WithdrawalRequest, error) {
	return f.svc.Create(context.Background(), CreateInput{
		CreatorID:          f.creator.ID,
		WithdrawalMethodID: f.method.ID,
		Amount:             d(amount),
	})
}

func TestCreateAndApprove(t *testing.T) {
	f := newFixture(t, "50000")
	ctx := context.Background()

	req, err := f.create("20000")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPending, req.Status)
	assert.True(t, req.FeeAmount.Equal(d("600")), "fee %s", req.FeeAmount)
	assert.True(t, req.NetAmount.Equal(d("19400")), "net %s", req.NetAmount)

	c := f.balances(t)
	assert.True(t, c.AvailableBalance.Equal(d("30000")))
	assert.True(t, c.ReservedBalance.Equal(d("20000")))

	admin := uuid.New()
	approved, err := f.svc.Approve(ctx, req.ID, admin, "")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, approved.Status)
	require.NotNil(t, approved.ReviewedBy)
	assert.Equal(t, admin, *approved.ReviewedBy)
	assert.NotNil(t, approved.ReviewedAt)

	c = f.balances(t)
	assert.True(t, c.AvailableBalance.Equal(d("30000")))
	assert.True(t, c.ReservedBalance.IsZero())
	assert.True(t, c.TotalWithdrawn.Equal(d("19400")))

	paid, err := f.svc.MarkPaid(ctx, req.ID, admin, " https://receipts.example/1 ", "")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusPaid, paid.Status)
	require.NotNil(t, paid.ReceiptURL)
	assert.Equal(t, "https://receipts.example/1", *paid.ReceiptURL)
	assert.NotNil(t, paid.PaidAt)

	after := f.balances(t)
	assert.True(t, after.TotalWithdrawn.Equal(c.TotalWithdrawn), "выплата не меняет баланс")

	assert.Equal(t, []string{
		events.WithdrawalRequested,
		events.WithdrawalApproved,
		events.WithdrawalPaid,
	}, f.publisher.types())
	assert.Equal(t, 1, f.notifier.calls, "ошибка уведомления не прерывает создание")
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, "50000")

	tests := []struct {
		name   string
		amount string
		field  string
	}{
		{"ноль", "0", "amount"},
		{"отрицательная", "-5", "amount"},
		{"ниже минимума", "9999.99", "amount"},
		{"больше двух знаков", "10000.005", "amount"},
		{"больше доступного", "50000.01", "amount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.create(tt.amount)
			var verr *models.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	t.Run("чужие реквизиты", func(t *testing.T) {
		other := newFixture(t, "0")
		_, err := f.svc.Create(context.Background(), CreateInput{
			CreatorID:          f.creator.ID,
			WithdrawalMethodID: other.method.ID,
			Amount:             d("10000"),
		})
		var verr *models.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "withdrawal_method_id", verr.Field)
	})

	c := f.balances(t)
	assert.True(t, c.AvailableBalance.Equal(d("50000")), "баланс не изменился")
	assert.True(t, c.ReservedBalance.IsZero())
}

func TestCreateUnknownCreator(t *testing.T) {
	f := newFixture(t, "50000")
	_, err := f.svc.Create(context.Background(), CreateInput{
		CreatorID:          uuid.New(),
		WithdrawalMethodID: f.method.ID,
		Amount:             d("10000"),
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestFeePlusNetEqualsAmount(t *testing.T) {
	for _, amount := range []string{"10000", "10000.01", "12345.67", "33333.33", "49999.99"} {
		t.Run(amount, func(t *testing.T) {
			f := newFixture(t, "50000")
			req, err := f.create(amount)
			require.NoError(t, err)
			assert.True(t, req.FeeAmount.Add(req.NetAmount).Equal(req.Amount))
			assert.True(t, models.RoundMoney(req.FeeAmount).Equal(req.FeeAmount))
		})
	}
}

func TestConcurrentRequestsCannotOverdraw(t *testing.T) {
	f := newFixture(t, "40000")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		errs    []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.create("30000")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			success++
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	require.Len(t, errs, 1)
	assert.True(t, models.IsValidation(errs[0]), "ошибка: %v", errs[0])

	c := f.balances(t)
	assert.True(t, c.AvailableBalance.Equal(d("10000")))
	assert.True(t, c.ReservedBalance.Equal(d("30000")))
}

func TestRejectReleasesReservation(t *testing.T) {
	f := newFixture(t, "50000")
	ctx := context.Background()

	req, err := f.create("20000")
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, req.ID, uuid.New(), "   ")
	require.True(t, models.IsValidation(err), "причина обязательна")

	rejected, err := f.svc.Reject(ctx, req.ID, uuid.New(), "неверные реквизиты")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "неверные реквизиты", *rejected.RejectionReason)

	c := f.balances(t)
	assert.True(t, c.AvailableBalance.Equal(d("50000")))
	assert.True(t, c.ReservedBalance.IsZero())
	assert.True(t, c.TotalWithdrawn.IsZero())
}

func TestStaleDecisions(t *testing.T) {
	ctx := context.Background()
	admin := uuid.New()

	tests := []struct {
		name   string
		setup  func(f *fixture, id uuid.UUID)
		decide DecisionInput
	}{
		{
			name:   "повторное одобрение",
			setup:  func(f *fixture, id uuid.UUID) { _, _ = f.svc.Approve(ctx, id, admin, "") },
			decide: DecisionInput{Decision: models.DecisionApprove, ActorID: admin},
		},
		{
			name:   "отклонение одобренной",
			setup:  func(f *fixture, id uuid.UUID) { _, _ = f.svc.Approve(ctx, id, admin, "") },
			decide: DecisionInput{Decision: models.DecisionReject, ActorID: admin, Notes: "поздно"},
		},
		{
			name:   "выплата ожидающей",
			setup:  func(f *fixture, id uuid.UUID) {},
			decide: DecisionInput{Decision: models.DecisionMarkPaid, ActorID: admin},
		},
		{
			name:   "одобрение отклоненной",
			setup:  func(f *fixture, id uuid.UUID) { _, _ = f.svc.Reject(ctx, id, admin, "нет") },
			decide: DecisionInput{Decision: models.DecisionApprove, ActorID: admin},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "50000")
			req, err := f.create("20000")
			require.NoError(t, err)
			tt.setup(f, req.ID)

			before := f.balances(t)
			stored, err := f.svc.Get(ctx, req.ID)
			require.NoError(t, err)

			_, err = f.svc.Decide(ctx, req.ID, tt.decide)
			require.True(t, models.IsStaleState(err), "ошибка: %v", err)

			after := f.balances(t)
			assert.True(t, before.AvailableBalance.Equal(after.AvailableBalance))
			assert.True(t, before.ReservedBalance.Equal(after.ReservedBalance))
			assert.True(t, before.TotalWithdrawn.Equal(after.TotalWithdrawn))

			again, err := f.svc.Get(ctx, req.ID)
			require.NoError(t, err)
			assert.Equal(t, stored.Status, again.Status)
		})
	}
}

func TestDecideUnknownDecision(t *testing.T) {
	f := newFixture(t, "50000")
	req, err := f.create("10000")
	require.NoError(t, err)

	_, err = f.svc.Decide(context.Background(), req.ID, DecisionInput{Decision: "escalate"})
	assert.True(t, models.IsValidation(err))
}

func TestLists(t *testing.T) {
	f := newFixture(t, "50000")
	ctx := context.Background()

	first, err := f.create("10000")
	require.NoError(t, err)
	_, err = f.create("15000")
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, first.ID, uuid.New(), "")
	require.NoError(t, err)

	pending, err := f.svc.ListByStatus(ctx, models.RequestStatusPending, 0, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	mine, err := f.svc.ListByCreator(ctx, f.creator.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func TestMethods(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()

	t.Run("валидация", func(t *testing.T) {
		tests := []struct {
			name  string
			in    MethodInput
			field string
		}{
			{"неизвестный тип", MethodInput{MethodType: "paypal"}, "method_type"},
			{"банк без счета", MethodInput{MethodType: models.WithdrawalMethodBank, BankName: "BOC", AccountName: "A"}, "account_number"},
			{"крипто без адреса", MethodInput{MethodType: models.WithdrawalMethodCrypto, CryptoNetwork: "TRC20", WalletAddress: "  "}, "wallet_address"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.svc.AddMethod(ctx, f.creator.ID, tt.in)
				var verr *models.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.field, verr.Field)
			})
		}
	})

	t.Run("первые реквизиты основные", func(t *testing.T) {
		assert.True(t, f.method.IsPrimary)
		def, err := f.svc.DefaultMethod(ctx, f.creator.ID)
		require.NoError(t, err)
		assert.Equal(t, f.method.ID, def.ID)
	})

	t.Run("смена основных", func(t *testing.T) {
		crypto, err := f.svc.AddMethod(ctx, f.creator.ID, MethodInput{
			MethodType:    models.WithdrawalMethodCrypto,
			CryptoNetwork: "TRC20",
			WalletAddress: "TXyz",
		})
		require.NoError(t, err)
		assert.False(t, crypto.IsPrimary)

		require.NoError(t, f.svc.SetPrimaryMethod(ctx, f.creator.ID, crypto.ID))
		def, err := f.svc.DefaultMethod(ctx, f.creator.ID)
		require.NoError(t, err)
		assert.Equal(t, crypto.ID, def.ID)

		methods, err := f.svc.ListMethods(ctx, f.creator.ID)
		require.NoError(t, err)
		primaries := 0
		for _, m := range methods {
			if m.IsPrimary {
				primaries++
			}
		}
		assert.Equal(t, 1, primaries)
	})

	t.Run("нет реквизитов", func(t *testing.T) {
		_, err := f.svc.DefaultMethod(ctx, uuid.New())
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}
