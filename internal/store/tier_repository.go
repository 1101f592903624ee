package store

import (
	"context"
	"fmt"

	"studyhub/pkg/models"

	"go.uber.org/zap"
)

// PostgresTierRepository реализует TierRepository для PostgreSQL
type PostgresTierRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewTierRepository создает новый репозиторий уровней комиссии
func NewTierRepository(db DBTX, logger *zap.Logger) TierRepository {
	return &PostgresTierRepository{
		db:     db,
		logger: logger,
	}
}

// List возвращает все уровни, упорядоченные по tier_level
func (r *PostgresTierRepository) List(ctx context.Context) ([]models.CommissionTier, error) {
	query := `
		SELECT tier_level, tier_name, commission_rate, monthly_user_threshold, updated_at
		FROM commission_tiers
		ORDER BY tier_level`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения уровней комиссии: %w", err)
	}
	defer rows.Close()

	var tiers []models.CommissionTier
	for rows.Next() {
		var t models.CommissionTier
		if err := rows.Scan(&t.TierLevel, &t.TierName, &t.CommissionRate, &t.MonthlyUserThreshold, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования уровня комиссии: %w", err)
		}
		tiers = append(tiers, t)
	}

	return tiers, rows.Err()
}

// Upsert создает или обновляет уровень
func (r *PostgresTierRepository) Upsert(ctx context.Context, tier *models.CommissionTier) error {
	query := `
		INSERT INTO commission_tiers (tier_level, tier_name, commission_rate, monthly_user_threshold, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (tier_level) DO UPDATE
		SET tier_name = EXCLUDED.tier_name,
		    commission_rate = EXCLUDED.commission_rate,
		    monthly_user_threshold = EXCLUDED.monthly_user_threshold,
		    updated_at = NOW()
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query, tier.TierLevel, tier.TierName, tier.CommissionRate, tier.MonthlyUserThreshold).
		Scan(&tier.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения уровня комиссии: %w", err)
	}

	r.logger.Info("уровень комиссии сохранен",
		zap.Int("tier_level", tier.TierLevel),
		zap.String("commission_rate", tier.CommissionRate.String()),
		zap.Int("threshold", tier.MonthlyUserThreshold))

	return nil
}

// Delete удаляет уровень
func (r *PostgresTierRepository) Delete(ctx context.Context, tierLevel int) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM commission_tiers WHERE tier_level = $1`, tierLevel)
	if err != nil {
		return fmt.Errorf("ошибка удаления уровня комиссии: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("уровень %d: %w", tierLevel, errNotFound)
	}
	return nil
}

// Lock блокирует таблицу уровней от параллельных изменений
func (r *PostgresTierRepository) Lock(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, `LOCK TABLE commission_tiers IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return fmt.Errorf("ошибка блокировки таблицы уровней: %w", err)
	}
	return nil
}
