package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"studyhub/internal/store"
	"studyhub/pkg/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ключи настроек платформы
const (
	KeyMinimumPayout        = "minimum_payout_lkr"
	KeyWithdrawalFeePercent = "withdrawal_fee_percent"
	KeyMaxDiscountCodes     = "max_discount_codes_per_creator"
)

// Значения по умолчанию, если настройка отсутствует или повреждена
var (
	DefaultMinimumPayout        = decimal.NewFromInt(10000)
	DefaultWithdrawalFeePercent = decimal.NewFromInt(3)
	DefaultMaxDiscountCodes     = 5
)

// Service читает настройки платформы. Отсутствие настройки не является ошибкой.
type Service struct {
	repo   store.SettingsRepository
	logger *zap.Logger
}

// NewService создает сервис настроек
func NewService(repo store.SettingsRepository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// MinimumPayout возвращает минимальную сумму вывода
func (s *Service) MinimumPayout(ctx context.Context) decimal.Decimal {
	v, ok := s.decimal(ctx, KeyMinimumPayout)
	if !ok || v.IsNegative() {
		return DefaultMinimumPayout
	}
	return v
}

// WithdrawalFeePercent возвращает комиссию за вывод в процентах
func (s *Service) WithdrawalFeePercent(ctx context.Context) decimal.Decimal {
	v, ok := s.decimal(ctx, KeyWithdrawalFeePercent)
	if !ok || v.IsNegative() || v.GreaterThan(decimal.NewFromInt(100)) {
		return DefaultWithdrawalFeePercent
	}
	return v
}

// MaxDiscountCodes возвращает максимальное количество промокодов у одного создателя
func (s *Service) MaxDiscountCodes(ctx context.Context) int {
	raw, ok := s.raw(ctx, KeyMaxDiscountCodes)
	if !ok {
		return DefaultMaxDiscountCodes
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		s.logger.Warn("некорректное значение настройки, используется значение по умолчанию",
			zap.String("key", KeyMaxDiscountCodes), zap.String("value", raw))
		return DefaultMaxDiscountCodes
	}
	return n
}

// Set проверяет и сохраняет настройку
func (s *Service) Set(ctx context.Context, key, value string) error {
	value = strings.TrimSpace(value)
	if err := validate(key, value); err != nil {
		return err
	}
	if err := s.repo.Set(ctx, key, value); err != nil {
		return fmt.Errorf("ошибка сохранения настройки %s: %w", key, err)
	}
	s.logger.Info("настройка изменена", zap.String("key", key), zap.String("value", value))
	return nil
}

func validate(key, value string) error {
	switch key {
	case KeyMinimumPayout, KeyWithdrawalFeePercent:
		v, err := decimal.NewFromString(value)
		if err != nil {
			return models.NewValidationError("value", "ожидается число")
		}
		if v.IsNegative() {
			return models.NewValidationError("value", "значение не может быть отрицательным")
		}
		if !models.FitsMoneyPlaces(v) {
			return models.NewValidationError("value", fmt.Sprintf("допускается не больше %d знаков после запятой", models.MoneyPlaces))
		}
		if key == KeyWithdrawalFeePercent && v.GreaterThan(decimal.NewFromInt(100)) {
			return models.NewValidationError("value", "комиссия не может превышать 100%")
		}
	case KeyMaxDiscountCodes:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return models.NewValidationError("value", "ожидается неотрицательное целое число")
		}
	default:
		return models.NewValidationError("key", fmt.Sprintf("неизвестная настройка %q", key))
	}
	return nil
}

// All возвращает все сохраненные настройки
func (s *Service) All(ctx context.Context) (map[string]string, error) {
	return s.repo.All(ctx)
}

func (s *Service) decimal(ctx context.Context, key string) (decimal.Decimal, bool) {
	raw, ok := s.raw(ctx, key)
	if !ok {
		return decimal.Zero, false
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		s.logger.Warn("некорректное значение настройки, используется значение по умолчанию",
			zap.String("key", key), zap.String("value", raw))
		return decimal.Zero, false
	}
	return v, true
}

func (s *Service) raw(ctx context.Context, key string) (string, bool) {
	v, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrSettingNotFound) {
			s.logger.Warn("настройка отсутствует, используется значение по умолчанию", zap.String("key", key))
		} else {
			s.logger.Error("ошибка чтения настройки, используется значение по умолчанию",
				zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return v, true
}
