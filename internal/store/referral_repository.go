package store

import (
	"context"
	"fmt"

	"studyhub/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PostgresReferralRepository реализует ReferralRepository для PostgreSQL
type PostgresReferralRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewReferralRepository создает новый репозиторий рефералов
func NewReferralRepository(db DBTX, logger *zap.Logger) ReferralRepository {
	return &PostgresReferralRepository{
		db:     db,
		logger: logger,
	}
}

// Create создает новую реферальную связь
func (r *PostgresReferralRepository) Create(ctx context.Context, referral *models.Referral) error {
	query := `
		INSERT INTO referrals (id, creator_id, user_id, referral_code, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query,
		referral.ID,
		referral.CreatorID,
		referral.UserID,
		referral.ReferralCode,
		referral.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания реферала: %w", err)
	}

	return nil
}

// GetByUserID получает реферал по ID приглашенного пользователя
func (r *PostgresReferralRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Referral, error) {
	query := `
		SELECT id, creator_id, user_id, referral_code, created_at
		FROM referrals
		WHERE user_id = $1`

	referral := &models.Referral{}
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&referral.ID,
		&referral.CreatorID,
		&referral.UserID,
		&referral.ReferralCode,
		&referral.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err, "реферала")
	}

	return referral, nil
}

// CountByCreator подсчитывает пользователей, зарегистрированных по ссылке создателя
func (r *PostgresReferralRepository) CountByCreator(ctx context.Context, creatorID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM referrals WHERE creator_id = $1`, creatorID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчета рефералов: %w", err)
	}

	return count, nil
}
