// Package ledger изменяет балансы создателя. Каждое изменение сопровождается записью
// в журнале ledger_entries в той же транзакции.
package ledger

import (
	"context"
	"fmt"
	"time"

	"studyhub/internal/store"
	"studyhub/pkg/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service применяет операции к балансу создателя, строка которого уже заблокирована
// в транзакции вызывающего кода.
type Service struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewService создает сервис журнала баланса
func NewService(logger *zap.Logger) *Service {
	return &Service{
		logger: logger,
		now:    time.Now,
	}
}

// Credit начисляет комиссию за оплату и увеличивает lifetime_paid_users
func (s *Service) Credit(ctx context.Context, tx store.Store, creator *models.CreatorProfile, amount decimal.Decimal, ref uuid.UUID) error {
	return s.apply(ctx, tx, creator, models.LedgerCommissionCredit, amount, decimal.Zero, ref, func(c *models.CreatorProfile) {
		c.AvailableBalance = c.AvailableBalance.Add(amount)
		c.LifetimePaidUsers++
	})
}

// Reserve переводит сумму заявки из доступного баланса в резерв
func (s *Service) Reserve(ctx context.Context, tx store.Store, creator *models.CreatorProfile, gross decimal.Decimal, ref uuid.UUID) error {
	if gross.GreaterThan(creator.AvailableBalance) {
		return models.NewValidationError("amount",
			fmt.Sprintf("сумма %s превышает доступный баланс %s", gross, creator.AvailableBalance))
	}
	return s.apply(ctx, tx, creator, models.LedgerWithdrawalReserve, gross, decimal.Zero, ref, func(c *models.CreatorProfile) {
		c.AvailableBalance = c.AvailableBalance.Sub(gross)
		c.ReservedBalance = c.ReservedBalance.Add(gross)
	})
}

// Release возвращает зарезервированную сумму отклоненной заявки
func (s *Service) Release(ctx context.Context, tx store.Store, creator *models.CreatorProfile, gross decimal.Decimal, ref uuid.UUID) error {
	return s.apply(ctx, tx, creator, models.LedgerWithdrawalRelease, gross, decimal.Zero, ref, func(c *models.CreatorProfile) {
		c.ReservedBalance = c.ReservedBalance.Sub(gross)
		c.AvailableBalance = c.AvailableBalance.Add(gross)
	})
}

// Settle списывает резерв одобренной заявки и увеличивает total_withdrawn на сумму к выплате
func (s *Service) Settle(ctx context.Context, tx store.Store, creator *models.CreatorProfile, gross, net decimal.Decimal, ref uuid.UUID) error {
	if net.GreaterThan(gross) {
		return &models.LedgerInvariantError{Field: "net_amount", Value: net}
	}
	return s.apply(ctx, tx, creator, models.LedgerWithdrawalSettle, gross, net, ref, func(c *models.CreatorProfile) {
		c.ReservedBalance = c.ReservedBalance.Sub(gross)
		c.TotalWithdrawn = c.TotalWithdrawn.Add(net)
	})
}

func (s *Service) apply(
	ctx context.Context,
	tx store.Store,
	creator *models.CreatorProfile,
	kind models.LedgerEntryKind,
	amount, net decimal.Decimal,
	ref uuid.UUID,
	mutate func(c *models.CreatorProfile),
) error {
	if amount.IsNegative() {
		return &models.LedgerInvariantError{Field: "amount", Value: amount}
	}
	if net.IsNegative() {
		return &models.LedgerInvariantError{Field: "net_amount", Value: net}
	}

	next := *creator
	mutate(&next)
	if err := checkBalances(&next); err != nil {
		s.logger.Error("операция нарушает инвариант баланса",
			zap.String("creator_id", creator.ID.String()),
			zap.String("kind", string(kind)),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return err
	}

	if err := tx.Creator().UpdateLedger(ctx, &next); err != nil {
		return fmt.Errorf("ошибка обновления баланса: %w", err)
	}

	entry := &models.LedgerEntry{
		ID:                  uuid.New(),
		CreatorID:           creator.ID,
		Kind:                kind,
		Amount:              amount,
		NetAmount:           net,
		AvailableAfter:      next.AvailableBalance,
		ReservedAfter:       next.ReservedBalance,
		TotalWithdrawnAfter: next.TotalWithdrawn,
		ReferenceID:         ref,
		CreatedAt:           s.now().UTC(),
	}
	if err := tx.Ledger().Append(ctx, entry); err != nil {
		return fmt.Errorf("ошибка записи в журнал: %w", err)
	}

	*creator = next

	s.logger.Debug("баланс изменен",
		zap.String("creator_id", creator.ID.String()),
		zap.String("kind", string(kind)),
		zap.String("amount", amount.String()),
		zap.String("available_after", next.AvailableBalance.String()),
		zap.String("reserved_after", next.ReservedBalance.String()))

	return nil
}

func checkBalances(c *models.CreatorProfile) error {
	switch {
	case c.AvailableBalance.IsNegative():
		return &models.LedgerInvariantError{Field: "available_balance", Value: c.AvailableBalance}
	case c.ReservedBalance.IsNegative():
		return &models.LedgerInvariantError{Field: "reserved_balance", Value: c.ReservedBalance}
	case c.TotalWithdrawn.IsNegative():
		return &models.LedgerInvariantError{Field: "total_withdrawn", Value: c.TotalWithdrawn}
	}
	return nil
}
