package store

import (
	"context"
	"fmt"
	"time"

	"studyhub/pkg/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const creatorColumns = `id, user_id, referral_code, cmo_id, is_active, lifetime_paid_users,
	available_balance, reserved_balance, total_withdrawn, tier_protection_until,
	current_tier_level, created_at, updated_at`

// PostgresCreatorRepository реализует CreatorRepository для PostgreSQL
type PostgresCreatorRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewCreatorRepository создает новый репозиторий создателей
func NewCreatorRepository(db DBTX, logger *zap.Logger) CreatorRepository {
	return &PostgresCreatorRepository{
		db:     db,
		logger: logger,
	}
}

func scanCreator(row pgx.Row) (*models.CreatorProfile, error) {
	c := &models.CreatorProfile{}
	err := row.Scan(
		&c.ID, &c.UserID, &c.ReferralCode, &c.CMOID, &c.IsActive, &c.LifetimePaidUsers,
		&c.AvailableBalance, &c.ReservedBalance, &c.TotalWithdrawn, &c.TierProtectionUntil,
		&c.CurrentTierLevel, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Create создает профиль создателя
func (r *PostgresCreatorRepository) Create(ctx context.Context, c *models.CreatorProfile) error {
	query := `
		INSERT INTO creator_profiles (` + creatorColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.Exec(ctx, query,
		c.ID, c.UserID, c.ReferralCode, c.CMOID, c.IsActive, c.LifetimePaidUsers,
		c.AvailableBalance, c.ReservedBalance, c.TotalWithdrawn, c.TierProtectionUntil,
		c.CurrentTierLevel, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания профиля создателя: %w", err)
	}

	r.logger.Info("профиль создателя создан",
		zap.String("creator_id", c.ID.String()),
		zap.String("referral_code", c.ReferralCode))

	return nil
}

// GetByID получает создателя по ID
func (r *PostgresCreatorRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.CreatorProfile, error) {
	query := `SELECT ` + creatorColumns + ` FROM creator_profiles WHERE id = $1`

	c, err := scanCreator(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "создателя")
	}
	return c, nil
}

// GetByUserID получает создателя по ID пользователя
func (r *PostgresCreatorRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.CreatorProfile, error) {
	query := `SELECT ` + creatorColumns + ` FROM creator_profiles WHERE user_id = $1`

	c, err := scanCreator(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, notFound(err, "создателя")
	}
	return c, nil
}

// GetByReferralCode получает создателя по реферальному коду
func (r *PostgresCreatorRepository) GetByReferralCode(ctx context.Context, code string) (*models.CreatorProfile, error) {
	query := `SELECT ` + creatorColumns + ` FROM creator_profiles WHERE referral_code = $1`

	c, err := scanCreator(r.db.QueryRow(ctx, query, code))
	if err != nil {
		return nil, notFound(err, "создателя по реферальному коду")
	}
	return c, nil
}

// GetForUpdate получает создателя с блокировкой строки
func (r *PostgresCreatorRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.CreatorProfile, error) {
	query := `SELECT ` + creatorColumns + ` FROM creator_profiles WHERE id = $1 FOR UPDATE`

	c, err := scanCreator(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "создателя")
	}
	return c, nil
}

// UpdateLedger сохраняет балансы и счетчик оплативших пользователей
func (r *PostgresCreatorRepository) UpdateLedger(ctx context.Context, c *models.CreatorProfile) error {
	query := `
		UPDATE creator_profiles
		SET available_balance = $1, reserved_balance = $2, total_withdrawn = $3,
		    lifetime_paid_users = $4, updated_at = NOW()
		WHERE id = $5`

	tag, err := r.db.Exec(ctx, query,
		c.AvailableBalance, c.ReservedBalance, c.TotalWithdrawn, c.LifetimePaidUsers, c.ID)
	if err != nil {
		return fmt.Errorf("ошибка обновления баланса создателя: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("создатель %s: %w", c.ID, errNotFound)
	}

	return nil
}

// UpdateTierState сохраняет текущий уровень и срок защиты уровня
func (r *PostgresCreatorRepository) UpdateTierState(ctx context.Context, id uuid.UUID, tierLevel int, protectionUntil *time.Time) error {
	query := `
		UPDATE creator_profiles
		SET current_tier_level = $1, tier_protection_until = $2, updated_at = NOW()
		WHERE id = $3`

	tag, err := r.db.Exec(ctx, query, tierLevel, protectionUntil, id)
	if err != nil {
		return fmt.Errorf("ошибка обновления уровня создателя: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("создатель %s: %w", id, errNotFound)
	}

	return nil
}

// SetActive включает или отключает создателя
func (r *PostgresCreatorRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE creator_profiles SET is_active = $1, updated_at = NOW() WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("ошибка изменения активности создателя: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("создатель %s: %w", id, errNotFound)
	}
	return nil
}

// ListActive возвращает всех активных создателей
func (r *PostgresCreatorRepository) ListActive(ctx context.Context) ([]*models.CreatorProfile, error) {
	return r.list(ctx, `SELECT `+creatorColumns+` FROM creator_profiles WHERE is_active ORDER BY created_at`)
}

// ListAll возвращает всех создателей
func (r *PostgresCreatorRepository) ListAll(ctx context.Context) ([]*models.CreatorProfile, error) {
	return r.list(ctx, `SELECT `+creatorColumns+` FROM creator_profiles ORDER BY created_at`)
}

func (r *PostgresCreatorRepository) list(ctx context.Context, query string) ([]*models.CreatorProfile, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения создателей: %w", err)
	}
	defer rows.Close()

	var creators []*models.CreatorProfile
	for rows.Next() {
		c, err := scanCreator(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования создателя: %w", err)
		}
		creators = append(creators, c)
	}

	return creators, rows.Err()
}

// ReferralCodeExists проверяет, занят ли реферальный код
func (r *PostgresCreatorRepository) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM creator_profiles WHERE referral_code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки реферального кода: %w", err)
	}
	return exists, nil
}

// PostgresCMORepository реализует CMORepository для PostgreSQL
type PostgresCMORepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewCMORepository создает новый репозиторий CMO
func NewCMORepository(db DBTX, logger *zap.Logger) CMORepository {
	return &PostgresCMORepository{
		db:     db,
		logger: logger,
	}
}

// Create создает профиль CMO
func (r *PostgresCMORepository) Create(ctx context.Context, cmo *models.CMOProfile) error {
	query := `
		INSERT INTO cmo_profiles (id, user_id, name, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := r.db.Exec(ctx, query, cmo.ID, cmo.UserID, cmo.Name, cmo.IsActive, cmo.CreatedAt); err != nil {
		return fmt.Errorf("ошибка создания профиля CMO: %w", err)
	}
	return nil
}

// GetByID получает CMO по ID
func (r *PostgresCMORepository) GetByID(ctx context.Context, id uuid.UUID) (*models.CMOProfile, error) {
	query := `SELECT id, user_id, name, is_active, created_at FROM cmo_profiles WHERE id = $1`

	cmo := &models.CMOProfile{}
	err := r.db.QueryRow(ctx, query, id).Scan(&cmo.ID, &cmo.UserID, &cmo.Name, &cmo.IsActive, &cmo.CreatedAt)
	if err != nil {
		return nil, notFound(err, "CMO")
	}
	return cmo, nil
}

// SetActive включает или отключает CMO
func (r *PostgresCMORepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE cmo_profiles SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("ошибка изменения активности CMO: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("CMO %s: %w", id, errNotFound)
	}
	return nil
}
