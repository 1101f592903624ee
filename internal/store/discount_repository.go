package store

import (
	"context"
	"fmt"

	"studyhub/pkg/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const discountColumns = `id, code, creator_id, discount_percent, usage_count, paid_conversions, is_active, created_at`

// PostgresDiscountCodeRepository реализует DiscountCodeRepository для PostgreSQL
type PostgresDiscountCodeRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewDiscountCodeRepository создает новый репозиторий промокодов
func NewDiscountCodeRepository(db DBTX, logger *zap.Logger) DiscountCodeRepository {
	return &PostgresDiscountCodeRepository{
		db:     db,
		logger: logger,
	}
}

func scanDiscountCode(row pgx.Row) (*models.DiscountCode, error) {
	d := &models.DiscountCode{}
	err := row.Scan(&d.ID, &d.Code, &d.CreatorID, &d.DiscountPercent, &d.UsageCount, &d.PaidConversions, &d.IsActive, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Create создает промокод
func (r *PostgresDiscountCodeRepository) Create(ctx context.Context, d *models.DiscountCode) error {
	query := `INSERT INTO discount_codes (` + discountColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query, d.ID, d.Code, d.CreatorID, d.DiscountPercent, d.UsageCount, d.PaidConversions, d.IsActive, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания промокода: %w", err)
	}
	return nil
}

// GetByCode получает промокод по коду
func (r *PostgresDiscountCodeRepository) GetByCode(ctx context.Context, code string) (*models.DiscountCode, error) {
	d, err := scanDiscountCode(r.db.QueryRow(ctx, `SELECT `+discountColumns+` FROM discount_codes WHERE code = $1`, code))
	if err != nil {
		return nil, notFound(err, "промокода")
	}
	return d, nil
}

// ListByCreator возвращает промокоды создателя
func (r *PostgresDiscountCodeRepository) ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.DiscountCode, error) {
	rows, err := r.db.Query(ctx, `SELECT `+discountColumns+` FROM discount_codes WHERE creator_id = $1 ORDER BY created_at`, creatorID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения промокодов: %w", err)
	}
	defer rows.Close()

	var codes []*models.DiscountCode
	for rows.Next() {
		d, err := scanDiscountCode(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования промокода: %w", err)
		}
		codes = append(codes, d)
	}
	return codes, rows.Err()
}

// CountByCreator подсчитывает промокоды создателя
func (r *PostgresDiscountCodeRepository) CountByCreator(ctx context.Context, creatorID uuid.UUID) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM discount_codes WHERE creator_id = $1`, creatorID).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчета промокодов: %w", err)
	}
	return count, nil
}

// IncrementUsage увеличивает счетчик применений промокода
func (r *PostgresDiscountCodeRepository) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE discount_codes SET usage_count = usage_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка обновления счетчика промокода: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("промокод %s: %w", id, errNotFound)
	}
	return nil
}

// RecordConversion увеличивает счетчик оплат. Если применение не было учтено при оформлении,
// usage_count подтягивается до paid_conversions.
func (r *PostgresDiscountCodeRepository) RecordConversion(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE discount_codes
		SET paid_conversions = paid_conversions + 1,
		    usage_count = GREATEST(usage_count, paid_conversions + 1)
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("ошибка учета оплаты по промокоду: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("промокод %s: %w", id, errNotFound)
	}
	return nil
}
