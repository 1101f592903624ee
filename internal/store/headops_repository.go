package store

import (
	"context"
	"fmt"

	"studyhub/pkg/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const headOpsColumns = `id, requester_id, request_type, target_id, target_type, details, status,
	admin_notes, reviewed_by, created_at, reviewed_at`

// PostgresHeadOpsRepository реализует HeadOpsRepository для PostgreSQL
type PostgresHeadOpsRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewHeadOpsRepository создает новый репозиторий заявок руководителя операций
func NewHeadOpsRepository(db DBTX, logger *zap.Logger) HeadOpsRepository {
	return &PostgresHeadOpsRepository{
		db:     db,
		logger: logger,
	}
}

func scanHeadOps(row pgx.Row) (*models.HeadOpsRequest, error) {
	h := &models.HeadOpsRequest{}
	err := row.Scan(&h.ID, &h.RequesterID, &h.RequestType, &h.TargetID, &h.TargetType, &h.Details, &h.Status,
		&h.AdminNotes, &h.ReviewedBy, &h.CreatedAt, &h.ReviewedAt)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Create создает заявку
func (r *PostgresHeadOpsRepository) Create(ctx context.Context, h *models.HeadOpsRequest) error {
	query := `INSERT INTO head_ops_requests (` + headOpsColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.Exec(ctx, query, h.ID, h.RequesterID, h.RequestType, h.TargetID, h.TargetType, h.Details, h.Status,
		h.AdminNotes, h.ReviewedBy, h.CreatedAt, h.ReviewedAt)
	if err != nil {
		return fmt.Errorf("ошибка создания заявки: %w", err)
	}
	return nil
}

// GetByID получает заявку по ID
func (r *PostgresHeadOpsRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.HeadOpsRequest, error) {
	h, err := scanHeadOps(r.db.QueryRow(ctx, `SELECT `+headOpsColumns+` FROM head_ops_requests WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "заявки")
	}
	return h, nil
}

// GetForUpdate получает заявку с блокировкой строки
func (r *PostgresHeadOpsRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.HeadOpsRequest, error) {
	h, err := scanHeadOps(r.db.QueryRow(ctx, `SELECT `+headOpsColumns+` FROM head_ops_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "заявки")
	}
	return h, nil
}

// UpdateReview сохраняет решение по заявке при условии, что статус не изменился
func (r *PostgresHeadOpsRepository) UpdateReview(ctx context.Context, h *models.HeadOpsRequest, from models.RequestStatus) error {
	query := `
		UPDATE head_ops_requests
		SET status = $1, admin_notes = $2, reviewed_by = $3, reviewed_at = $4
		WHERE id = $5 AND status = $6`

	tag, err := r.db.Exec(ctx, query, h.Status, h.AdminNotes, h.ReviewedBy, h.ReviewedAt, h.ID, from)
	if err != nil {
		return fmt.Errorf("ошибка обновления заявки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

// ListByStatus возвращает заявки с указанным статусом, старые первыми
func (r *PostgresHeadOpsRepository) ListByStatus(ctx context.Context, status models.RequestStatus, limit, offset int) ([]*models.HeadOpsRequest, error) {
	query := `
		SELECT ` + headOpsColumns + `
		FROM head_ops_requests
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2 OFFSET $3`

	rows, err := r.db.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения заявок: %w", err)
	}
	defer rows.Close()

	var out []*models.HeadOpsRequest
	for rows.Next() {
		h, err := scanHeadOps(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования заявки: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// CountByStatus подсчитывает заявки с указанным статусом
func (r *PostgresHeadOpsRepository) CountByStatus(ctx context.Context, status models.RequestStatus) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM head_ops_requests WHERE status = $1`, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчета заявок: %w", err)
	}
	return count, nil
}
