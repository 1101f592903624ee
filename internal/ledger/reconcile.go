package ledger

import (
	"context"
	"fmt"

	"studyhub/internal/store"
	"studyhub/pkg/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Balances - балансы создателя, восстановленные по журналу
type Balances struct {
	Available      decimal.Decimal
	Reserved       decimal.Decimal
	TotalWithdrawn decimal.Decimal
	Credited       decimal.Decimal
	SettledGross   decimal.Decimal
}

// Replay восстанавливает балансы по записям журнала
func Replay(entries []*models.LedgerEntry) Balances {
	b := Balances{
		Available:      decimal.Zero,
		Reserved:       decimal.Zero,
		TotalWithdrawn: decimal.Zero,
		Credited:       decimal.Zero,
		SettledGross:   decimal.Zero,
	}
	for _, e := range entries {
		switch e.Kind {
		case models.LedgerCommissionCredit:
			b.Available = b.Available.Add(e.Amount)
			b.Credited = b.Credited.Add(e.Amount)
		case models.LedgerWithdrawalReserve:
			b.Available = b.Available.Sub(e.Amount)
			b.Reserved = b.Reserved.Add(e.Amount)
		case models.LedgerWithdrawalRelease:
			b.Reserved = b.Reserved.Sub(e.Amount)
			b.Available = b.Available.Add(e.Amount)
		case models.LedgerWithdrawalSettle:
			b.Reserved = b.Reserved.Sub(e.Amount)
			b.TotalWithdrawn = b.TotalWithdrawn.Add(e.NetAmount)
			b.SettledGross = b.SettledGross.Add(e.Amount)
		}
	}
	return b
}

// Drift описывает расхождение сохраненных балансов с журналом
type Drift struct {
	CreatorID         uuid.UUID
	Stored            Balances
	Expected          Balances
	AttributedCredits decimal.Decimal
}

// HasDrift сообщает, отличаются ли сохраненные балансы от журнала или начисления от привязок платежей
func (d Drift) HasDrift() bool {
	return !d.Stored.Available.Equal(d.Expected.Available) ||
		!d.Stored.Reserved.Equal(d.Expected.Reserved) ||
		!d.Stored.TotalWithdrawn.Equal(d.Expected.TotalWithdrawn) ||
		!d.AttributedCredits.Equal(d.Expected.Credited)
}

// Reconciler сверяет балансы создателей с журналом
type Reconciler struct {
	store  store.Store
	logger *zap.Logger
}

// NewReconciler создает сверщик балансов
func NewReconciler(st store.Store, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:  st,
		logger: logger,
	}
}

// Check сверяет одного создателя. При fix=true сохраненные балансы заменяются восстановленными.
func (r *Reconciler) Check(ctx context.Context, creatorID uuid.UUID, fix bool) (*Drift, error) {
	var drift *Drift
	err := r.store.WithTx(ctx, func(tx store.Store) error {
		creator, err := tx.Creator().GetForUpdate(ctx, creatorID)
		if err != nil {
			return err
		}
		entries, err := tx.Ledger().ListByCreator(ctx, creatorID)
		if err != nil {
			return err
		}
		attributed, err := tx.Attribution().SumCommission(ctx, creatorID)
		if err != nil {
			return err
		}

		drift = &Drift{
			CreatorID: creatorID,
			Stored: Balances{
				Available:      creator.AvailableBalance,
				Reserved:       creator.ReservedBalance,
				TotalWithdrawn: creator.TotalWithdrawn,
			},
			Expected:          Replay(entries),
			AttributedCredits: attributed,
		}

		if !drift.HasDrift() || !fix {
			return nil
		}

		creator.AvailableBalance = drift.Expected.Available
		creator.ReservedBalance = drift.Expected.Reserved
		creator.TotalWithdrawn = drift.Expected.TotalWithdrawn
		if err := checkBalances(creator); err != nil {
			return err
		}
		if err := tx.Creator().UpdateLedger(ctx, creator); err != nil {
			return fmt.Errorf("ошибка исправления баланса: %w", err)
		}

		r.logger.Warn("баланс создателя исправлен по журналу",
			zap.String("creator_id", creatorID.String()),
			zap.String("available_balance", creator.AvailableBalance.String()),
			zap.String("reserved_balance", creator.ReservedBalance.String()),
			zap.String("total_withdrawn", creator.TotalWithdrawn.String()))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка сверки создателя %s: %w", creatorID, err)
	}
	return drift, nil
}

// CheckAll сверяет всех создателей и возвращает только расхождения
func (r *Reconciler) CheckAll(ctx context.Context, fix bool) ([]*Drift, error) {
	creators, err := r.store.Creator().ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения создателей: %w", err)
	}

	var drifts []*Drift
	for _, c := range creators {
		d, err := r.Check(ctx, c.ID, fix)
		if err != nil {
			return drifts, err
		}
		if d.HasDrift() {
			drifts = append(drifts, d)
		}
	}

	r.logger.Info("сверка балансов завершена",
		zap.Int("creators", len(creators)),
		zap.Int("drifts", len(drifts)))
	return drifts, nil
}
