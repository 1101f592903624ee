package store

import (
	"context"
	"fmt"
	"time"

	"studyhub/pkg/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const attributionColumns = `id, order_id, user_id, creator_id, cmo_id, final_amount, commission_rate,
	tier_level, creator_commission_amount, discount_code, source, created_at`

// PostgresAttributionRepository реализует AttributionRepository для PostgreSQL
type PostgresAttributionRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewAttributionRepository создает новый репозиторий привязок платежей
func NewAttributionRepository(db DBTX, logger *zap.Logger) AttributionRepository {
	return &PostgresAttributionRepository{
		db:     db,
		logger: logger,
	}
}

func scanAttribution(row pgx.Row) (*models.PaymentAttribution, error) {
	a := &models.PaymentAttribution{}
	err := row.Scan(
		&a.ID, &a.OrderID, &a.UserID, &a.CreatorID, &a.CMOID, &a.FinalAmount, &a.CommissionRate,
		&a.TierLevel, &a.CreatorCommissionAmount, &a.DiscountCode, &a.Source, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Insert добавляет привязку. Повторный order_id не перезаписывает существующую запись.
func (r *PostgresAttributionRepository) Insert(ctx context.Context, a *models.PaymentAttribution) (bool, error) {
	query := `
		INSERT INTO payment_attributions (` + attributionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (order_id) DO NOTHING`

	tag, err := r.db.Exec(ctx, query,
		a.ID, a.OrderID, a.UserID, a.CreatorID, a.CMOID, a.FinalAmount, a.CommissionRate,
		a.TierLevel, a.CreatorCommissionAmount, a.DiscountCode, a.Source, a.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("ошибка создания привязки платежа: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// GetByOrderID получает привязку по ID заказа
func (r *PostgresAttributionRepository) GetByOrderID(ctx context.Context, orderID string) (*models.PaymentAttribution, error) {
	a, err := scanAttribution(r.db.QueryRow(ctx, `SELECT `+attributionColumns+` FROM payment_attributions WHERE order_id = $1`, orderID))
	if err != nil {
		return nil, notFound(err, "привязки платежа")
	}
	return a, nil
}

// CountPaidUsers подсчитывает уникальных оплативших пользователей создателя в полуинтервале [from, to)
func (r *PostgresAttributionRepository) CountPaidUsers(ctx context.Context, creatorID uuid.UUID, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(DISTINCT user_id)
		FROM payment_attributions
		WHERE creator_id = $1 AND created_at >= $2 AND created_at < $3`

	var count int
	if err := r.db.QueryRow(ctx, query, creatorID, from, to).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчета оплативших пользователей: %w", err)
	}
	return count, nil
}

// ListByCreator возвращает привязки создателя, новые первыми
func (r *PostgresAttributionRepository) ListByCreator(ctx context.Context, creatorID uuid.UUID, limit, offset int) ([]*models.PaymentAttribution, error) {
	query := `
		SELECT ` + attributionColumns + `
		FROM payment_attributions
		WHERE creator_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, creatorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения привязок платежей: %w", err)
	}
	defer rows.Close()

	var out []*models.PaymentAttribution
	for rows.Next() {
		a, err := scanAttribution(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования привязки платежа: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SumCommission возвращает сумму начисленных создателю комиссий
func (r *PostgresAttributionRepository) SumCommission(ctx context.Context, creatorID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	query := `SELECT COALESCE(SUM(creator_commission_amount), 0) FROM payment_attributions WHERE creator_id = $1`
	if err := r.db.QueryRow(ctx, query, creatorID).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("ошибка подсчета комиссий: %w", err)
	}
	return sum, nil
}
