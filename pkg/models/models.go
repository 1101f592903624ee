package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommissionTier представляет уровень комиссии создателя
type CommissionTier struct {
	TierLevel            int             `json:"tier_level" db:"tier_level"`
	TierName             string          `json:"tier_name" db:"tier_name"`
	CommissionRate       decimal.Decimal `json:"commission_rate" db:"commission_rate"` // в процентах, 12 = 12%
	MonthlyUserThreshold int             `json:"monthly_user_threshold" db:"monthly_user_threshold"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

// CreatorProfile представляет профиль создателя (партнера)
type CreatorProfile struct {
	ID                  uuid.UUID       `json:"id" db:"id"`
	UserID              uuid.UUID       `json:"user_id" db:"user_id"`
	ReferralCode        string          `json:"referral_code" db:"referral_code"`
	CMOID               *uuid.UUID      `json:"cmo_id,omitempty" db:"cmo_id"`
	IsActive            bool            `json:"is_active" db:"is_active"`
	LifetimePaidUsers   int             `json:"lifetime_paid_users" db:"lifetime_paid_users"`
	AvailableBalance    decimal.Decimal `json:"available_balance" db:"available_balance"`
	ReservedBalance     decimal.Decimal `json:"reserved_balance" db:"reserved_balance"` // зарезервировано под ожидающие выплаты
	TotalWithdrawn      decimal.Decimal `json:"total_withdrawn" db:"total_withdrawn"`
	TierProtectionUntil *time.Time      `json:"tier_protection_until,omitempty" db:"tier_protection_until"`
	CurrentTierLevel    int             `json:"current_tier_level" db:"current_tier_level"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
}

// IsProtected проверяет, действует ли защита уровня на момент now
func (c *CreatorProfile) IsProtected(now time.Time) bool {
	return c.TierProtectionUntil != nil && c.TierProtectionUntil.After(now)
}

// CMOProfile представляет менеджера группы создателей
type CMOProfile struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Name      string    `json:"name" db:"name"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// DiscountCode представляет промокод создателя
type DiscountCode struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	Code            string          `json:"code" db:"code"`
	CreatorID       uuid.UUID       `json:"creator_id" db:"creator_id"`
	DiscountPercent decimal.Decimal `json:"discount_percent" db:"discount_percent"`
	UsageCount      int             `json:"usage_count" db:"usage_count"`
	PaidConversions int             `json:"paid_conversions" db:"paid_conversions"`
	IsActive        bool            `json:"is_active" db:"is_active"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// AttributionSource показывает, по какому пути платеж был привязан к создателю
type AttributionSource string

const (
	AttributionSourceDiscountCode AttributionSource = "discount_code"
	AttributionSourceReferralCode AttributionSource = "referral_code"
	AttributionSourceNone         AttributionSource = "none"
)

// PaymentAttribution представляет неизменяемую запись о привязке платежа.
// Ставка и уровень сохраняются на момент начисления.
type PaymentAttribution struct {
	ID                      uuid.UUID         `json:"id" db:"id"`
	OrderID                 string            `json:"order_id" db:"order_id"`
	UserID                  uuid.UUID         `json:"user_id" db:"user_id"`
	CreatorID               *uuid.UUID        `json:"creator_id,omitempty" db:"creator_id"`
	CMOID                   *uuid.UUID        `json:"cmo_id,omitempty" db:"cmo_id"`
	FinalAmount             decimal.Decimal   `json:"final_amount" db:"final_amount"`
	CommissionRate          decimal.Decimal   `json:"commission_rate" db:"commission_rate"`
	TierLevel               int               `json:"tier_level" db:"tier_level"`
	CreatorCommissionAmount decimal.Decimal   `json:"creator_commission_amount" db:"creator_commission_amount"`
	DiscountCode            *string           `json:"discount_code,omitempty" db:"discount_code"`
	Source                  AttributionSource `json:"source" db:"source"`
	CreatedAt               time.Time         `json:"created_at" db:"created_at"`
}

// Referral представляет связь пользователя с создателем, установленную при регистрации.
// Деньги не начисляются.
type Referral struct {
	ID           uuid.UUID `json:"id" db:"id"`
	CreatorID    uuid.UUID `json:"creator_id" db:"creator_id"`
	UserID       uuid.UUID `json:"user_id" db:"user_id"`
	ReferralCode string    `json:"referral_code" db:"referral_code"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// PaymentCompletedEvent представляет событие завершенного платежа от платежного шлюза
type PaymentCompletedEvent struct {
	OrderID      string          `json:"order_id"`
	UserID       uuid.UUID       `json:"user_id"`
	FinalAmount  decimal.Decimal `json:"final_amount"`
	RefCreator   *string         `json:"ref_creator,omitempty"`
	DiscountCode *string         `json:"discount_code,omitempty"`
}

// WithdrawalMethodType представляет способ выплаты
type WithdrawalMethodType string

const (
	WithdrawalMethodBank   WithdrawalMethodType = "bank"
	WithdrawalMethodCrypto WithdrawalMethodType = "crypto"
)

// IsValid проверяет валидность способа выплаты
func (t WithdrawalMethodType) IsValid() bool {
	switch t {
	case WithdrawalMethodBank, WithdrawalMethodCrypto:
		return true
	default:
		return false
	}
}

// WithdrawalMethod представляет реквизиты для выплаты создателю
type WithdrawalMethod struct {
	ID            uuid.UUID            `json:"id" db:"id"`
	CreatorID     uuid.UUID            `json:"creator_id" db:"creator_id"`
	MethodType    WithdrawalMethodType `json:"method_type" db:"method_type"`
	BankName      string               `json:"bank_name,omitempty" db:"bank_name"`
	BranchName    string               `json:"branch_name,omitempty" db:"branch_name"`
	AccountName   string               `json:"account_name,omitempty" db:"account_name"`
	AccountNumber string               `json:"account_number,omitempty" db:"account_number"`
	CryptoNetwork string               `json:"crypto_network,omitempty" db:"crypto_network"`
	WalletAddress string               `json:"wallet_address,omitempty" db:"wallet_address"`
	IsPrimary     bool                 `json:"is_primary" db:"is_primary"`
	CreatedAt     time.Time            `json:"created_at" db:"created_at"`
}

// RequestStatus представляет статус модерируемой заявки
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
	RequestStatusPaid     RequestStatus = "paid"
)

// Decision представляет решение администратора по заявке
type Decision string

const (
	DecisionApprove  Decision = "approve"
	DecisionReject   Decision = "reject"
	DecisionMarkPaid Decision = "mark_paid"
)

// WithdrawalRequest представляет заявку создателя на вывод средств
type WithdrawalRequest struct {
	ID                 uuid.UUID       `json:"id" db:"id"`
	CreatorID          uuid.UUID       `json:"creator_id" db:"creator_id"`
	WithdrawalMethodID uuid.UUID       `json:"withdrawal_method_id" db:"withdrawal_method_id"`
	Amount             decimal.Decimal `json:"amount" db:"amount"`
	FeePercent         decimal.Decimal `json:"fee_percent" db:"fee_percent"`
	FeeAmount          decimal.Decimal `json:"fee_amount" db:"fee_amount"`
	NetAmount          decimal.Decimal `json:"net_amount" db:"net_amount"`
	Status             RequestStatus   `json:"status" db:"status"`
	ReceiptURL         *string         `json:"receipt_url,omitempty" db:"receipt_url"`
	AdminNotes         *string         `json:"admin_notes,omitempty" db:"admin_notes"`
	RejectionReason    *string         `json:"rejection_reason,omitempty" db:"rejection_reason"`
	ReviewedBy         *uuid.UUID      `json:"reviewed_by,omitempty" db:"reviewed_by"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	ReviewedAt         *time.Time      `json:"reviewed_at,omitempty" db:"reviewed_at"`
	PaidAt             *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
}

// HeadOpsRequestType представляет тип кадрового действия
type HeadOpsRequestType string

const (
	HeadOpsDeactivateCreator HeadOpsRequestType = "deactivate_creator"
	HeadOpsReactivateCreator HeadOpsRequestType = "reactivate_creator"
	HeadOpsDeactivateCMO     HeadOpsRequestType = "deactivate_cmo"
)

// TargetType возвращает тип объекта, к которому относится действие
func (t HeadOpsRequestType) TargetType() (string, bool) {
	switch t {
	case HeadOpsDeactivateCreator, HeadOpsReactivateCreator:
		return "creator", true
	case HeadOpsDeactivateCMO:
		return "cmo", true
	default:
		return "", false
	}
}

// HeadOpsRequest представляет заявку руководителя операций на кадровое действие
type HeadOpsRequest struct {
	ID          uuid.UUID          `json:"id" db:"id"`
	RequesterID uuid.UUID          `json:"requester_id" db:"requester_id"`
	RequestType HeadOpsRequestType `json:"request_type" db:"request_type"`
	TargetID    uuid.UUID          `json:"target_id" db:"target_id"`
	TargetType  string             `json:"target_type" db:"target_type"`
	Details     string             `json:"details" db:"details"`
	Status      RequestStatus      `json:"status" db:"status"`
	AdminNotes  *string            `json:"admin_notes,omitempty" db:"admin_notes"`
	ReviewedBy  *uuid.UUID         `json:"reviewed_by,omitempty" db:"reviewed_by"`
	CreatedAt   time.Time          `json:"created_at" db:"created_at"`
	ReviewedAt  *time.Time         `json:"reviewed_at,omitempty" db:"reviewed_at"`
}

// LedgerEntryKind представляет тип записи в журнале баланса
type LedgerEntryKind string

const (
	LedgerCommissionCredit  LedgerEntryKind = "commission_credit"
	LedgerWithdrawalReserve LedgerEntryKind = "withdrawal_reserve"
	LedgerWithdrawalRelease LedgerEntryKind = "withdrawal_release"
	LedgerWithdrawalSettle  LedgerEntryKind = "withdrawal_settle"
)

// LedgerEntry представляет неизменяемую запись журнала баланса создателя
type LedgerEntry struct {
	ID                  uuid.UUID       `json:"id" db:"id"`
	CreatorID           uuid.UUID       `json:"creator_id" db:"creator_id"`
	Kind                LedgerEntryKind `json:"kind" db:"kind"`
	Amount              decimal.Decimal `json:"amount" db:"amount"`
	NetAmount           decimal.Decimal `json:"net_amount" db:"net_amount"`
	AvailableAfter      decimal.Decimal `json:"available_after" db:"available_after"`
	ReservedAfter       decimal.Decimal `json:"reserved_after" db:"reserved_after"`
	TotalWithdrawnAfter decimal.Decimal `json:"total_withdrawn_after" db:"total_withdrawn_after"`
	ReferenceID         uuid.UUID       `json:"reference_id" db:"reference_id"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
}

// CreatorSummary представляет сводку для панели создателя
type CreatorSummary struct {
	CreatorID         uuid.UUID       `json:"creator_id"`
	AvailableBalance  decimal.Decimal `json:"available_balance"`
	ReservedBalance   decimal.Decimal `json:"reserved_balance"`
	TotalWithdrawn    decimal.Decimal `json:"total_withdrawn"`
	LifetimePaidUsers int             `json:"lifetime_paid_users"`
	MonthlyPaidUsers  int             `json:"monthly_paid_users"`
	CurrentTier       *CommissionTier `json:"current_tier"`
	NextTier          *CommissionTier `json:"next_tier,omitempty"`
	ProgressPercent   decimal.Decimal `json:"progress_percent"`
	EffectiveRate     decimal.Decimal `json:"effective_rate"`
	ProtectedUntil    *time.Time      `json:"protected_until,omitempty"`
}
