package commission

import (
	"context"
	"fmt"

	"studyhub/internal/store"
	"studyhub/pkg/models"

	"go.uber.org/zap"
)

// Service управляет таблицей уровней комиссии
type Service struct {
	store  store.Store
	logger *zap.Logger
}

// NewService создает сервис уровней комиссии
func NewService(st store.Store, logger *zap.Logger) *Service {
	return &Service{
		store:  st,
		logger: logger,
	}
}

// List возвращает таблицу уровней
func (s *Service) List(ctx context.Context) ([]models.CommissionTier, error) {
	tiers, err := s.store.Tier().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения уровней: %w", err)
	}
	return tiers, nil
}

// UpsertTier создает или изменяет уровень. Таблица после изменения должна оставаться корректной.
func (s *Service) UpsertTier(ctx context.Context, tier models.CommissionTier) error {
	if tier.TierName == "" {
		return models.NewValidationError("tier_name", "название уровня обязательно")
	}

	return s.store.WithTx(ctx, func(tx store.Store) error {
		tiers, err := lockedTiers(ctx, tx)
		if err != nil {
			return err
		}

		replaced := false
		for i := range tiers {
			if tiers[i].TierLevel == tier.TierLevel {
				tiers[i] = tier
				replaced = true
			}
		}
		if !replaced {
			tiers = append(tiers, tier)
		}

		if err := ValidateTiers(tiers); err != nil {
			return err
		}
		if err := tx.Tier().Upsert(ctx, &tier); err != nil {
			return fmt.Errorf("ошибка сохранения уровня: %w", err)
		}

		s.logger.Info("уровень комиссии сохранен",
			zap.Int("tier_level", tier.TierLevel),
			zap.String("commission_rate", tier.CommissionRate.String()),
			zap.Int("monthly_user_threshold", tier.MonthlyUserThreshold))
		return nil
	})
}

// DeleteTier удаляет уровень. Последний уровень удалить нельзя.
func (s *Service) DeleteTier(ctx context.Context, tierLevel int) error {
	return s.store.WithTx(ctx, func(tx store.Store) error {
		tiers, err := lockedTiers(ctx, tx)
		if err != nil {
			return err
		}

		remaining := make([]models.CommissionTier, 0, len(tiers))
		found := false
		for _, t := range tiers {
			if t.TierLevel == tierLevel {
				found = true
				continue
			}
			remaining = append(remaining, t)
		}
		if !found {
			return fmt.Errorf("уровень %d: %w", tierLevel, models.ErrNotFound)
		}
		if len(remaining) == 0 {
			return models.NewValidationError("tier_level", "нельзя удалить последний уровень")
		}
		if err := ValidateTiers(remaining); err != nil {
			return err
		}
		if err := tx.Tier().Delete(ctx, tierLevel); err != nil {
			return fmt.Errorf("ошибка удаления уровня: %w", err)
		}

		s.logger.Info("уровень комиссии удален", zap.Int("tier_level", tierLevel))
		return nil
	})
}

func lockedTiers(ctx context.Context, tx store.Store) ([]models.CommissionTier, error) {
	if err := tx.Tier().Lock(ctx); err != nil {
		return nil, err
	}
	tiers, err := tx.Tier().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения уровней: %w", err)
	}
	return tiers, nil
}
