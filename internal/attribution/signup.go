package attribution

import (
	"context"
	"errors"
	"fmt"

	"studyhub/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecordSignup связывает пользователя с создателем при регистрации.
// Связь не влечет начислений: комиссия появляется только с платежом.
func (r *Recorder) RecordSignup(ctx context.Context, userID uuid.UUID, referralCode string) (*models.Referral, error) {
	code := models.NormalizeCode(referralCode)
	if code == "" {
		return nil, models.NewValidationError("referral_code", "не указан реферальный код")
	}

	creator, err := r.store.Creator().GetByReferralCode(ctx, code)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.NewValidationError("referral_code", "неверный реферальный код")
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения создателя: %w", err)
	}
	if !creator.IsActive {
		return nil, models.NewValidationError("referral_code", "создатель неактивен")
	}
	if creator.UserID == userID {
		return nil, models.NewValidationError("referral_code", "пользователь не может пригласить сам себя")
	}

	if _, err := r.store.Referral().GetByUserID(ctx, userID); err == nil {
		return nil, models.NewValidationError("user_id", "пользователь уже был приглашен")
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("ошибка проверки реферала: %w", err)
	}

	referral := &models.Referral{
		ID:           uuid.New(),
		CreatorID:    creator.ID,
		UserID:       userID,
		ReferralCode: code,
		CreatedAt:    r.now().UTC(),
	}
	if err := r.store.Referral().Create(ctx, referral); err != nil {
		return nil, fmt.Errorf("ошибка создания реферала: %w", err)
	}

	r.logger.Info("создан новый реферал",
		zap.String("creator_id", creator.ID.String()),
		zap.String("user_id", userID.String()))

	return referral, nil
}

// RedeemDiscountCode учитывает применение промокода при оформлении заказа
// и возвращает его с обновленным счетчиком
func (r *Recorder) RedeemDiscountCode(ctx context.Context, rawCode string) (*models.DiscountCode, error) {
	code := models.NormalizeCode(rawCode)
	if code == "" {
		return nil, models.NewValidationError("discount_code", "не указан промокод")
	}

	dc, err := r.store.DiscountCode().GetByCode(ctx, code)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.NewValidationError("discount_code", "промокод не найден")
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения промокода: %w", err)
	}
	if !dc.IsActive {
		return nil, models.NewValidationError("discount_code", "промокод неактивен")
	}

	owner, err := r.store.Creator().GetByID(ctx, dc.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения владельца промокода: %w", err)
	}
	if !owner.IsActive {
		return nil, models.NewValidationError("discount_code", "промокод неактивен")
	}

	if err := r.store.DiscountCode().IncrementUsage(ctx, dc.ID); err != nil {
		return nil, fmt.Errorf("ошибка учета применения промокода: %w", err)
	}
	dc.UsageCount++

	r.logger.Debug("промокод применен",
		zap.String("code", dc.Code),
		zap.Int("usage_count", dc.UsageCount))

	return dc, nil
}
