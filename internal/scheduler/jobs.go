package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studyhub/internal/commission"
	"studyhub/internal/metrics"
	"studyhub/internal/notify"
	"studyhub/internal/store"
	"studyhub/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TierSnapshotJob сохраняет уровень, рассчитанный по показателям текущего месяца,
// для активных создателей без действующей защиты уровня
type TierSnapshotJob struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewTierSnapshotJob создает задачу фиксации уровней
func NewTierSnapshotJob(st store.Store, logger *zap.Logger) *TierSnapshotJob {
	return &TierSnapshotJob{store: st, logger: logger, now: time.Now}
}

func (j *TierSnapshotJob) Name() string { return "tier_snapshot" }

// Run пересчитывает уровни. Создатели с действующей защитой не меняются,
// у создателей с истекшей защитой срок защиты сбрасывается.
func (j *TierSnapshotJob) Run(ctx context.Context) error {
	now := j.now()

	tiers, err := j.store.Tier().List(ctx)
	if err != nil {
		return fmt.Errorf("ошибка получения уровней комиссии: %w", err)
	}
	if len(tiers) == 0 {
		return fmt.Errorf("таблица уровней комиссии пуста")
	}

	creators, err := j.store.Creator().ListActive(ctx)
	if err != nil {
		return fmt.Errorf("ошибка получения активных создателей: %w", err)
	}

	from, to := commission.MonthWindow(now)
	var errs []error
	updated := 0

	for _, c := range creators {
		if c.IsProtected(now) {
			continue
		}

		monthly, err := j.store.Attribution().CountPaidUsers(ctx, c.ID, from, to)
		if err != nil {
			errs = append(errs, fmt.Errorf("создатель %s: %w", c.ID, err))
			continue
		}

		changed, err := j.snapshot(ctx, c.ID, tiers, monthly, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("создатель %s: %w", c.ID, err))
			continue
		}
		if changed {
			updated++
		}
	}

	j.logger.Info("фиксация уровней завершена",
		zap.Int("creators", len(creators)),
		zap.Int("updated", updated))

	return errors.Join(errs...)
}

// snapshot сохраняет уровень под блокировкой строки создателя. Защита, выданная
// после чтения списка создателей, не сбрасывается.
func (j *TierSnapshotJob) snapshot(ctx context.Context, creatorID uuid.UUID, tiers []models.CommissionTier, monthly int, now time.Time) (bool, error) {
	changed := false
	err := j.store.WithTx(ctx, func(tx store.Store) error {
		c, err := tx.Creator().GetForUpdate(ctx, creatorID)
		if err != nil {
			return err
		}
		if !c.IsActive || c.IsProtected(now) {
			return nil
		}

		_, level := commission.ResolveRate(c, tiers, monthly, now)
		if level == c.CurrentTierLevel && c.TierProtectionUntil == nil {
			return nil
		}
		if err := tx.Creator().UpdateTierState(ctx, c.ID, level, nil); err != nil {
			return err
		}
		changed = true

		j.logger.Info("уровень создателя обновлен",
			zap.String("creator_id", c.ID.String()),
			zap.Int("from_level", c.CurrentTierLevel),
			zap.Int("to_level", level),
			zap.Int("monthly_paid_users", monthly))
		return nil
	})
	return changed, err
}

// PendingDigestJob обновляет метрики очередей модерации и напоминает администраторам
// об ожидающих заявках
type PendingDigestJob struct {
	store    store.Store
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewPendingDigestJob создает задачу напоминаний об очереди модерации
func NewPendingDigestJob(st store.Store, notifier notify.Notifier, m *metrics.Metrics, logger *zap.Logger) *PendingDigestJob {
	return &PendingDigestJob{store: st, notifier: notifier, metrics: m, logger: logger}
}

func (j *PendingDigestJob) Name() string { return "pending_digest" }

func (j *PendingDigestJob) Run(ctx context.Context) error {
	withdrawals, err := j.store.Withdrawal().CountByStatus(ctx, models.RequestStatusPending)
	if err != nil {
		return fmt.Errorf("ошибка подсчета заявок на вывод: %w", err)
	}
	approved, err := j.store.Withdrawal().CountByStatus(ctx, models.RequestStatusApproved)
	if err != nil {
		return fmt.Errorf("ошибка подсчета одобренных заявок: %w", err)
	}
	headOps, err := j.store.HeadOps().CountByStatus(ctx, models.RequestStatusPending)
	if err != nil {
		return fmt.Errorf("ошибка подсчета заявок руководителя операций: %w", err)
	}

	j.metrics.RecordPending(withdrawals, headOps)

	if withdrawals+approved+headOps == 0 || j.notifier == nil {
		return nil
	}

	text := fmt.Sprintf("<b>Очередь модерации</b>\nЗаявки на вывод: %d\nОжидают выплаты: %d\nЗаявки руководителя операций: %d",
		withdrawals, approved, headOps)
	if err := j.notifier.NotifyAdmins(ctx, text); err != nil {
		return fmt.Errorf("ошибка отправки напоминания: %w", err)
	}
	return nil
}
