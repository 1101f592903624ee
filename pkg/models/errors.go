package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound возвращается, когда запись не найдена
	ErrNotFound = errors.New("запись не найдена")
	// ErrAttributionConflict означает повторную доставку платежа с тем же order_id
	ErrAttributionConflict = errors.New("платеж уже привязан")
)

// ValidationError описывает некорректный входной параметр. Повторять запрос бессмысленно.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ошибка валидации %s: %s", e.Field, e.Message)
}

// NewValidationError создает ошибку валидации
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// StaleStateError означает, что заявка уже не находится в ожидаемом статусе
type StaleStateError struct {
	Entity   string
	ID       string
	Expected []RequestStatus
	Actual   RequestStatus
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("%s %s: статус %q, ожидался один из %v", e.Entity, e.ID, e.Actual, e.Expected)
}

// LedgerInvariantError означает, что операция нарушила бы инвариант баланса
type LedgerInvariantError struct {
	Field string
	Value decimal.Decimal
}

func (e *LedgerInvariantError) Error() string {
	return fmt.Sprintf("нарушен инвариант баланса: %s = %s", e.Field, e.Value.String())
}

// IsValidation проверяет, является ли ошибка ошибкой валидации
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsStaleState проверяет, является ли ошибка ошибкой устаревшего статуса
func IsStaleState(err error) bool {
	var target *StaleStateError
	return errors.As(err, &target)
}

// IsLedgerInvariant проверяет, является ли ошибка нарушением инварианта баланса
func IsLedgerInvariant(err error) bool {
	var target *LedgerInvariantError
	return errors.As(err, &target)
}
