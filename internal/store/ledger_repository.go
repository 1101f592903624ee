package store

import (
	"context"
	"fmt"

	"studyhub/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PostgresLedgerRepository реализует LedgerRepository для PostgreSQL.
// Таблица ledger_entries только пополняется.
type PostgresLedgerRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewLedgerRepository создает новый репозиторий журнала баланса
func NewLedgerRepository(db DBTX, logger *zap.Logger) LedgerRepository {
	return &PostgresLedgerRepository{
		db:     db,
		logger: logger,
	}
}

// Append добавляет запись в журнал
func (r *PostgresLedgerRepository) Append(ctx context.Context, e *models.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (id, creator_id, kind, amount, net_amount, available_after,
		                            reserved_after, total_withdrawn_after, reference_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		e.ID, e.CreatorID, e.Kind, e.Amount, e.NetAmount, e.AvailableAfter,
		e.ReservedAfter, e.TotalWithdrawnAfter, e.ReferenceID, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи в журнал баланса: %w", err)
	}
	return nil
}

// ListByCreator возвращает записи журнала создателя в порядке добавления
func (r *PostgresLedgerRepository) ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.LedgerEntry, error) {
	query := `
		SELECT id, creator_id, kind, amount, net_amount, available_after,
		       reserved_after, total_withdrawn_after, reference_id, created_at
		FROM ledger_entries
		WHERE creator_id = $1
		ORDER BY seq`

	rows, err := r.db.Query(ctx, query, creatorID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения журнала баланса: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		e := &models.LedgerEntry{}
		if err := rows.Scan(&e.ID, &e.CreatorID, &e.Kind, &e.Amount, &e.NetAmount, &e.AvailableAfter,
			&e.ReservedAfter, &e.TotalWithdrawnAfter, &e.ReferenceID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи журнала: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
