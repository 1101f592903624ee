package store

import (
	"context"
	"time"

	"studyhub/pkg/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var errNotFound = models.ErrNotFound

// TierRepository интерфейс для работы с таблицей уровней комиссии
type TierRepository interface {
	List(ctx context.Context) ([]models.CommissionTier, error)
	Upsert(ctx context.Context, tier *models.CommissionTier) error
	Delete(ctx context.Context, tierLevel int) error
	// Lock сериализует изменения таблицы уровней до конца транзакции
	Lock(ctx context.Context) error
}

// CreatorRepository интерфейс для работы с профилями создателей
type CreatorRepository interface {
	Create(ctx context.Context, creator *models.CreatorProfile) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.CreatorProfile, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.CreatorProfile, error)
	GetByReferralCode(ctx context.Context, code string) (*models.CreatorProfile, error)
	// GetForUpdate блокирует строку создателя до конца транзакции
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.CreatorProfile, error)
	UpdateLedger(ctx context.Context, creator *models.CreatorProfile) error
	UpdateTierState(ctx context.Context, id uuid.UUID, tierLevel int, protectionUntil *time.Time) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	ListActive(ctx context.Context) ([]*models.CreatorProfile, error)
	ListAll(ctx context.Context) ([]*models.CreatorProfile, error)
	ReferralCodeExists(ctx context.Context, code string) (bool, error)
}

// CMORepository интерфейс для работы с профилями CMO
type CMORepository interface {
	Create(ctx context.Context, cmo *models.CMOProfile) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.CMOProfile, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// DiscountCodeRepository интерфейс для работы с промокодами
type DiscountCodeRepository interface {
	Create(ctx context.Context, code *models.DiscountCode) error
	GetByCode(ctx context.Context, code string) (*models.DiscountCode, error)
	ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.DiscountCode, error)
	CountByCreator(ctx context.Context, creatorID uuid.UUID) (int, error)
	IncrementUsage(ctx context.Context, id uuid.UUID) error
	// RecordConversion увеличивает paid_conversions, не давая ему превысить usage_count
	RecordConversion(ctx context.Context, id uuid.UUID) error
}

// AttributionRepository интерфейс для работы с привязками платежей
type AttributionRepository interface {
	// Insert возвращает false, если запись с таким order_id уже существует
	Insert(ctx context.Context, attribution *models.PaymentAttribution) (bool, error)
	GetByOrderID(ctx context.Context, orderID string) (*models.PaymentAttribution, error)
	CountPaidUsers(ctx context.Context, creatorID uuid.UUID, from, to time.Time) (int, error)
	ListByCreator(ctx context.Context, creatorID uuid.UUID, limit, offset int) ([]*models.PaymentAttribution, error)
	SumCommission(ctx context.Context, creatorID uuid.UUID) (decimal.Decimal, error)
}

// ReferralRepository интерфейс для работы с привязками пользователей при регистрации
type ReferralRepository interface {
	Create(ctx context.Context, referral *models.Referral) error
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Referral, error)
	CountByCreator(ctx context.Context, creatorID uuid.UUID) (int, error)
}

// WithdrawalMethodRepository интерфейс для работы с реквизитами выплат
type WithdrawalMethodRepository interface {
	Create(ctx context.Context, method *models.WithdrawalMethod) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.WithdrawalMethod, error)
	ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.WithdrawalMethod, error)
	SetPrimary(ctx context.Context, creatorID, methodID uuid.UUID) error
}

// WithdrawalRepository интерфейс для работы с заявками на вывод
type WithdrawalRepository interface {
	Create(ctx context.Context, request *models.WithdrawalRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error)
	// UpdateReview сохраняет решение, только если статус в базе все еще равен from
	UpdateReview(ctx context.Context, request *models.WithdrawalRequest, from models.RequestStatus) error
	ListByStatus(ctx context.Context, status models.RequestStatus, limit, offset int) ([]*models.WithdrawalRequest, error)
	ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.WithdrawalRequest, error)
	CountByStatus(ctx context.Context, status models.RequestStatus) (int, error)
}

// HeadOpsRepository интерфейс для работы с заявками руководителя операций
type HeadOpsRepository interface {
	Create(ctx context.Context, request *models.HeadOpsRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.HeadOpsRequest, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.HeadOpsRequest, error)
	UpdateReview(ctx context.Context, request *models.HeadOpsRequest, from models.RequestStatus) error
	ListByStatus(ctx context.Context, status models.RequestStatus, limit, offset int) ([]*models.HeadOpsRequest, error)
	CountByStatus(ctx context.Context, status models.RequestStatus) (int, error)
}

// LedgerRepository интерфейс для работы с журналом баланса
type LedgerRepository interface {
	Append(ctx context.Context, entry *models.LedgerEntry) error
	ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.LedgerEntry, error)
}

// SettingsRepository интерфейс для работы с настройками платформы
type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	All(ctx context.Context) (map[string]string, error)
}
