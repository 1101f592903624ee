package store

import (
	"context"
	"fmt"

	"studyhub/pkg/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const methodColumns = `id, creator_id, method_type, bank_name, branch_name, account_name, account_number,
	crypto_network, wallet_address, is_primary, created_at`

const withdrawalColumns = `id, creator_id, withdrawal_method_id, amount, fee_percent, fee_amount, net_amount,
	status, receipt_url, admin_notes, rejection_reason, reviewed_by, created_at, reviewed_at, paid_at`

// PostgresWithdrawalMethodRepository реализует WithdrawalMethodRepository для PostgreSQL
type PostgresWithdrawalMethodRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewWithdrawalMethodRepository создает новый репозиторий реквизитов
func NewWithdrawalMethodRepository(db DBTX, logger *zap.Logger) WithdrawalMethodRepository {
	return &PostgresWithdrawalMethodRepository{
		db:     db,
		logger: logger,
	}
}

func scanMethod(row pgx.Row) (*models.WithdrawalMethod, error) {
	m := &models.WithdrawalMethod{}
	err := row.Scan(&m.ID, &m.CreatorID, &m.MethodType, &m.BankName, &m.BranchName, &m.AccountName, &m.AccountNumber,
		&m.CryptoNetwork, &m.WalletAddress, &m.IsPrimary, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Create сохраняет реквизиты
func (r *PostgresWithdrawalMethodRepository) Create(ctx context.Context, m *models.WithdrawalMethod) error {
	query := `INSERT INTO withdrawal_methods (` + methodColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.Exec(ctx, query, m.ID, m.CreatorID, m.MethodType, m.BankName, m.BranchName, m.AccountName, m.AccountNumber,
		m.CryptoNetwork, m.WalletAddress, m.IsPrimary, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения реквизитов: %w", err)
	}
	return nil
}

// GetByID получает реквизиты по ID
func (r *PostgresWithdrawalMethodRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.WithdrawalMethod, error) {
	m, err := scanMethod(r.db.QueryRow(ctx, `SELECT `+methodColumns+` FROM withdrawal_methods WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "реквизитов")
	}
	return m, nil
}

// ListByCreator возвращает реквизиты создателя, основные первыми
func (r *PostgresWithdrawalMethodRepository) ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.WithdrawalMethod, error) {
	rows, err := r.db.Query(ctx, `SELECT `+methodColumns+` FROM withdrawal_methods WHERE creator_id = $1 ORDER BY is_primary DESC, created_at`, creatorID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения реквизитов: %w", err)
	}
	defer rows.Close()

	var methods []*models.WithdrawalMethod
	for rows.Next() {
		m, err := scanMethod(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования реквизитов: %w", err)
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

// SetPrimary делает реквизиты основными и снимает флаг с остальных реквизитов создателя.
// Флаг снимается отдельным запросом, иначе частичный уникальный индекс сработает посреди UPDATE.
func (r *PostgresWithdrawalMethodRepository) SetPrimary(ctx context.Context, creatorID, methodID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `UPDATE withdrawal_methods SET is_primary = FALSE WHERE creator_id = $1 AND id <> $2`, creatorID, methodID); err != nil {
		return fmt.Errorf("ошибка сброса основных реквизитов: %w", err)
	}

	tag, err := r.db.Exec(ctx, `UPDATE withdrawal_methods SET is_primary = TRUE WHERE creator_id = $1 AND id = $2`, creatorID, methodID)
	if err != nil {
		return fmt.Errorf("ошибка выбора основных реквизитов: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("реквизиты %s создателя %s: %w", methodID, creatorID, errNotFound)
	}
	return nil
}

// PostgresWithdrawalRepository реализует WithdrawalRepository для PostgreSQL
type PostgresWithdrawalRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewWithdrawalRepository создает новый репозиторий заявок на вывод
func NewWithdrawalRepository(db DBTX, logger *zap.Logger) WithdrawalRepository {
	return &PostgresWithdrawalRepository{
		db:     db,
		logger: logger,
	}
}

func scanWithdrawal(row pgx.Row) (*models.WithdrawalRequest, error) {
	w := &models.WithdrawalRequest{}
	err := row.Scan(
		&w.ID, &w.CreatorID, &w.WithdrawalMethodID, &w.Amount, &w.FeePercent, &w.FeeAmount, &w.NetAmount,
		&w.Status, &w.ReceiptURL, &w.AdminNotes, &w.RejectionReason, &w.ReviewedBy, &w.CreatedAt, &w.ReviewedAt, &w.PaidAt,
	)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Create создает заявку на вывод
func (r *PostgresWithdrawalRepository) Create(ctx context.Context, w *models.WithdrawalRequest) error {
	query := `
		INSERT INTO withdrawal_requests (` + withdrawalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.Exec(ctx, query,
		w.ID, w.CreatorID, w.WithdrawalMethodID, w.Amount, w.FeePercent, w.FeeAmount, w.NetAmount,
		w.Status, w.ReceiptURL, w.AdminNotes, w.RejectionReason, w.ReviewedBy, w.CreatedAt, w.ReviewedAt, w.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка создания заявки на вывод: %w", err)
	}
	return nil
}

// GetByID получает заявку по ID
func (r *PostgresWithdrawalRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	w, err := scanWithdrawal(r.db.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "заявки на вывод")
	}
	return w, nil
}

// GetForUpdate получает заявку с блокировкой строки
func (r *PostgresWithdrawalRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	w, err := scanWithdrawal(r.db.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, "заявки на вывод")
	}
	return w, nil
}

// UpdateReview сохраняет решение по заявке при условии, что статус не изменился
func (r *PostgresWithdrawalRepository) UpdateReview(ctx context.Context, w *models.WithdrawalRequest, from models.RequestStatus) error {
	query := `
		UPDATE withdrawal_requests
		SET status = $1, receipt_url = $2, admin_notes = $3, rejection_reason = $4,
		    reviewed_by = $5, reviewed_at = $6, paid_at = $7
		WHERE id = $8 AND status = $9`

	tag, err := r.db.Exec(ctx, query,
		w.Status, w.ReceiptURL, w.AdminNotes, w.RejectionReason, w.ReviewedBy, w.ReviewedAt, w.PaidAt, w.ID, from)
	if err != nil {
		return fmt.Errorf("ошибка обновления заявки на вывод: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

// ListByStatus возвращает заявки с указанным статусом, старые первыми
func (r *PostgresWithdrawalRepository) ListByStatus(ctx context.Context, status models.RequestStatus, limit, offset int) ([]*models.WithdrawalRequest, error) {
	query := `
		SELECT ` + withdrawalColumns + `
		FROM withdrawal_requests
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2 OFFSET $3`

	return r.list(ctx, query, status, limit, offset)
}

// ListByCreator возвращает заявки создателя, новые первыми
func (r *PostgresWithdrawalRepository) ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE creator_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, creatorID)
}

func (r *PostgresWithdrawalRepository) list(ctx context.Context, query string, args ...any) ([]*models.WithdrawalRequest, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения заявок на вывод: %w", err)
	}
	defer rows.Close()

	var out []*models.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования заявки на вывод: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// CountByStatus подсчитывает заявки с указанным статусом
func (r *PostgresWithdrawalRepository) CountByStatus(ctx context.Context, status models.RequestStatus) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM withdrawal_requests WHERE status = $1`, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчета заявок на вывод: %w", err)
	}
	return count, nil
}
