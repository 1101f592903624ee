// Package creator ведет профили создателей и CMO, их промокоды, защиту уровня
// и сводку для панели создателя.
package creator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"studyhub/internal/commission"
	"studyhub/internal/settings"
	"studyhub/internal/store"
	"studyhub/pkg/models"

	"github.com/google/uuid"
	"github.com/jaevor/go-nanoid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	referralCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	referralCodeLength   = 8
	maxCodeAttempts      = 10
)

var discountCodePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,32}$`)

// Service представляет сервис профилей создателей
type Service struct {
	store        store.Store
	settings     *settings.Service
	logger       *zap.Logger
	generateCode func() string
	now          func() time.Time
}

// NewService создает сервис профилей создателей
func NewService(st store.Store, settingsService *settings.Service, logger *zap.Logger) (*Service, error) {
	gen, err := nanoid.CustomASCII(referralCodeAlphabet, referralCodeLength)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания генератора реферальных кодов: %w", err)
	}
	return &Service{
		store:        st,
		settings:     settingsService,
		logger:       logger,
		generateCode: gen,
		now:          time.Now,
	}, nil
}

// OnboardInput - данные нового создателя
type OnboardInput struct {
	UserID uuid.UUID  `json:"user_id"`
	CMOID  *uuid.UUID `json:"cmo_id,omitempty"`
}

// Onboard создает профиль создателя с уникальным реферальным кодом на первом уровне
func (s *Service) Onboard(ctx context.Context, in OnboardInput) (*models.CreatorProfile, error) {
	if in.UserID == uuid.Nil {
		return nil, models.NewValidationError("user_id", "не указан пользователь")
	}

	if _, err := s.store.Creator().GetByUserID(ctx, in.UserID); err == nil {
		return nil, models.NewValidationError("user_id", "пользователь уже является создателем")
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("ошибка проверки пользователя: %w", err)
	}

	if in.CMOID != nil {
		cmo, err := s.store.CMO().GetByID(ctx, *in.CMOID)
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.NewValidationError("cmo_id", "CMO не найден")
		}
		if err != nil {
			return nil, fmt.Errorf("ошибка получения CMO: %w", err)
		}
		if !cmo.IsActive {
			return nil, models.NewValidationError("cmo_id", "CMO неактивен")
		}
	}

	code, err := s.uniqueReferralCode(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	profile := &models.CreatorProfile{
		ID:               uuid.New(),
		UserID:           in.UserID,
		ReferralCode:     code,
		CMOID:            in.CMOID,
		IsActive:         true,
		AvailableBalance: decimal.Zero,
		ReservedBalance:  decimal.Zero,
		TotalWithdrawn:   decimal.Zero,
		CurrentTierLevel: 1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Creator().Create(ctx, profile); err != nil {
		return nil, fmt.Errorf("ошибка создания профиля создателя: %w", err)
	}

	s.logger.Info("создатель зарегистрирован",
		zap.String("creator_id", profile.ID.String()),
		zap.String("user_id", profile.UserID.String()),
		zap.String("referral_code", profile.ReferralCode))

	return profile, nil
}

// uniqueReferralCode генерирует код, которого еще нет в базе
func (s *Service) uniqueReferralCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := s.generateCode()

		exists, err := s.store.Creator().ReferralCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("ошибка проверки реферального кода: %w", err)
		}
		if !exists {
			return code, nil
		}

		s.logger.Warn("сгенерированный код уже существует, пробуем снова",
			zap.String("code", code),
			zap.Int("attempt", attempt+1))
	}
	return "", fmt.Errorf("не удалось сгенерировать уникальный реферальный код после %d попыток", maxCodeAttempts)
}

// CreateCMO создает профиль CMO
func (s *Service) CreateCMO(ctx context.Context, userID uuid.UUID, name string) (*models.CMOProfile, error) {
	name = strings.TrimSpace(name)
	if userID == uuid.Nil {
		return nil, models.NewValidationError("user_id", "не указан пользователь")
	}
	if name == "" {
		return nil, models.NewValidationError("name", "не указано имя")
	}

	cmo := &models.CMOProfile{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      name,
		IsActive:  true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CMO().Create(ctx, cmo); err != nil {
		return nil, fmt.Errorf("ошибка создания CMO: %w", err)
	}

	s.logger.Info("CMO создан", zap.String("cmo_id", cmo.ID.String()), zap.String("name", cmo.Name))
	return cmo, nil
}

// Get возвращает профиль создателя
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.CreatorProfile, error) {
	return s.store.Creator().GetByID(ctx, id)
}

// GetByUserID возвращает профиль создателя по пользователю
func (s *Service) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.CreatorProfile, error) {
	return s.store.Creator().GetByUserID(ctx, userID)
}

// DiscountCodeInput - новый промокод
type DiscountCodeInput struct {
	Code            string          `json:"code"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

// CreateDiscountCode создает промокод создателя. Если byOperator = false,
// действует ограничение на число промокодов одного создателя.
func (s *Service) CreateDiscountCode(ctx context.Context, creatorID uuid.UUID, in DiscountCodeInput, byOperator bool) (*models.DiscountCode, error) {
	code := models.NormalizeCode(in.Code)
	if !discountCodePattern.MatchString(code) {
		return nil, models.NewValidationError("code", "код из 3-32 латинских букв, цифр, _ или -")
	}
	if !in.DiscountPercent.IsPositive() || in.DiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
		return nil, models.NewValidationError("discount_percent", "скидка должна быть больше 0 и не больше 100")
	}
	if !models.FitsMoneyPlaces(in.DiscountPercent) {
		return nil, models.NewValidationError("discount_percent", "скидка должна иметь не больше двух знаков после запятой")
	}

	limit := s.settings.MaxDiscountCodes(ctx)

	dc := &models.DiscountCode{
		ID:              uuid.New(),
		Code:            code,
		CreatorID:       creatorID,
		DiscountPercent: in.DiscountPercent,
		IsActive:        true,
		CreatedAt:       s.now().UTC(),
	}

	err := s.store.WithTx(ctx, func(tx store.Store) error {
		creator, err := tx.Creator().GetForUpdate(ctx, creatorID)
		if err != nil {
			return err
		}
		if !creator.IsActive {
			return models.NewValidationError("creator_id", "создатель неактивен")
		}

		if !byOperator {
			count, err := tx.DiscountCode().CountByCreator(ctx, creatorID)
			if err != nil {
				return err
			}
			if count >= limit {
				return models.NewValidationError("code", fmt.Sprintf("можно создать не больше %d промокодов", limit))
			}
		}

		if _, err := tx.DiscountCode().GetByCode(ctx, code); err == nil {
			return models.NewValidationError("code", "такой промокод уже существует")
		} else if !errors.Is(err, models.ErrNotFound) {
			return err
		}

		return tx.DiscountCode().Create(ctx, dc)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания промокода: %w", err)
	}

	s.logger.Info("промокод создан",
		zap.String("creator_id", creatorID.String()),
		zap.String("code", dc.Code),
		zap.Bool("by_operator", byOperator))

	return dc, nil
}

// ListDiscountCodes возвращает промокоды создателя
func (s *Service) ListDiscountCodes(ctx context.Context, creatorID uuid.UUID) ([]*models.DiscountCode, error) {
	return s.store.DiscountCode().ListByCreator(ctx, creatorID)
}

// GrantTierProtection закрепляет за создателем уровень до момента until
func (s *Service) GrantTierProtection(ctx context.Context, creatorID uuid.UUID, tierLevel int, until time.Time) (*models.CreatorProfile, error) {
	if !until.After(s.now()) {
		return nil, models.NewValidationError("tier_protection_until", "срок защиты должен быть в будущем")
	}
	until = until.UTC()

	var updated *models.CreatorProfile
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		tiers, err := tx.Tier().List(ctx)
		if err != nil {
			return err
		}
		found := false
		for _, t := range tiers {
			if t.TierLevel == tierLevel {
				found = true
				break
			}
		}
		if !found {
			return models.NewValidationError("tier_level", fmt.Sprintf("уровень %d не существует", tierLevel))
		}

		creator, err := tx.Creator().GetForUpdate(ctx, creatorID)
		if err != nil {
			return err
		}
		if err := tx.Creator().UpdateTierState(ctx, creatorID, tierLevel, &until); err != nil {
			return err
		}
		creator.CurrentTierLevel = tierLevel
		creator.TierProtectionUntil = &until
		updated = creator
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка назначения защиты уровня: %w", err)
	}

	s.logger.Info("назначена защита уровня",
		zap.String("creator_id", creatorID.String()),
		zap.Int("tier_level", tierLevel),
		zap.Time("until", until))

	return updated, nil
}

// Summary возвращает сводку для панели создателя.
// Число пользователей за месяц носит справочный характер и не используется для проверок.
func (s *Service) Summary(ctx context.Context, creatorID uuid.UUID) (*models.CreatorSummary, error) {
	creator, err := s.store.Creator().GetByID(ctx, creatorID)
	if err != nil {
		return nil, err
	}

	tiers, err := s.store.Tier().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения уровней комиссии: %w", err)
	}

	now := s.now()
	from, to := commission.MonthWindow(now)
	monthly, err := s.store.Attribution().CountPaidUsers(ctx, creatorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчета пользователей за месяц: %w", err)
	}

	rate, level := commission.ResolveRate(creator, tiers, monthly, now)
	progress := commission.Progress(tiers, monthly, level)

	summary := &models.CreatorSummary{
		CreatorID:         creator.ID,
		AvailableBalance:  creator.AvailableBalance,
		ReservedBalance:   creator.ReservedBalance,
		TotalWithdrawn:    creator.TotalWithdrawn,
		LifetimePaidUsers: creator.LifetimePaidUsers,
		MonthlyPaidUsers:  monthly,
		CurrentTier:       progress.Current,
		NextTier:          progress.Next,
		ProgressPercent:   progress.ProgressPercent,
		EffectiveRate:     rate,
	}
	if creator.IsProtected(now) {
		summary.ProtectedUntil = creator.TierProtectionUntil
	}
	return summary, nil
}
