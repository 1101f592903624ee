// Package attribution привязывает завершенные платежи к создателям и начисляет комиссию.
package attribution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"studyhub/internal/commission"
	"studyhub/internal/events"
	"studyhub/internal/ledger"
	"studyhub/internal/metrics"
	"studyhub/internal/store"
	"studyhub/pkg/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// errDuplicateDelivery откатывает транзакцию, если запись с тем же order_id
// была вставлена параллельной доставкой
var errDuplicateDelivery = errors.New("параллельная доставка платежа")

// Recorder представляет сервис привязки платежей
type Recorder struct {
	store     store.Store
	ledger    *ledger.Service
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewRecorder создает новый сервис привязки платежей
func NewRecorder(st store.Store, ledgerService *ledger.Service, publisher events.Publisher, m *metrics.Metrics, logger *zap.Logger) *Recorder {
	return &Recorder{
		store:     st,
		ledger:    ledgerService,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// resolved - создатель, которому достается платеж, и путь, по которому он найден
type resolved struct {
	creator *models.CreatorProfile
	code    *models.DiscountCode
	source  models.AttributionSource
}

func validateEvent(ev models.PaymentCompletedEvent) error {
	if strings.TrimSpace(ev.OrderID) == "" {
		return models.NewValidationError("order_id", "не указан номер заказа")
	}
	if ev.UserID == uuid.Nil {
		return models.NewValidationError("user_id", "не указан пользователь")
	}
	if ev.FinalAmount.IsNegative() {
		return models.NewValidationError("final_amount", "сумма платежа не может быть отрицательной")
	}
	if !models.FitsMoneyPlaces(ev.FinalAmount) {
		return models.NewValidationError("final_amount", "сумма указывается не точнее минимальной денежной единицы")
	}
	return nil
}

// Attribute привязывает платеж к создателю и начисляет комиссию.
// Повторная доставка того же order_id возвращает существующую запись без изменений.
func (r *Recorder) Attribute(ctx context.Context, ev models.PaymentCompletedEvent) (*models.PaymentAttribution, error) {
	ev.OrderID = strings.TrimSpace(ev.OrderID)
	if err := validateEvent(ev); err != nil {
		return nil, err
	}

	existing, err := r.store.Attribution().GetByOrderID(ctx, ev.OrderID)
	if err == nil {
		r.logDuplicate(existing)
		return existing, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("ошибка проверки платежа %s: %w", ev.OrderID, err)
	}

	now := r.now().UTC()
	attribution := &models.PaymentAttribution{
		ID:                      uuid.New(),
		OrderID:                 ev.OrderID,
		UserID:                  ev.UserID,
		FinalAmount:             ev.FinalAmount,
		CommissionRate:          decimal.Zero,
		CreatorCommissionAmount: decimal.Zero,
		Source:                  models.AttributionSourceNone,
		CreatedAt:               now,
	}

	err = r.store.WithTx(ctx, func(tx store.Store) error {
		res, err := r.resolve(ctx, tx, ev)
		if err != nil {
			return err
		}

		if res != nil {
			tiers, err := tx.Tier().List(ctx)
			if err != nil {
				return fmt.Errorf("ошибка получения уровней комиссии: %w", err)
			}
			if len(tiers) == 0 {
				return fmt.Errorf("таблица уровней комиссии пуста")
			}

			from, to := commission.MonthWindow(now)
			monthly, err := tx.Attribution().CountPaidUsers(ctx, res.creator.ID, from, to)
			if err != nil {
				return fmt.Errorf("ошибка подсчета пользователей за месяц: %w", err)
			}

			rate, level := commission.ResolveRate(res.creator, tiers, monthly, now)

			creatorID := res.creator.ID
			attribution.CreatorID = &creatorID
			attribution.CMOID = res.creator.CMOID
			attribution.CommissionRate = rate
			attribution.TierLevel = level
			attribution.CreatorCommissionAmount = models.PercentOf(ev.FinalAmount, rate)
			attribution.Source = res.source
			if res.code != nil {
				code := res.code.Code
				attribution.DiscountCode = &code
			}
		}

		inserted, err := tx.Attribution().Insert(ctx, attribution)
		if err != nil {
			return fmt.Errorf("ошибка сохранения привязки платежа: %w", err)
		}
		if !inserted {
			return errDuplicateDelivery
		}

		if res == nil {
			return nil
		}

		if err := r.ledger.Credit(ctx, tx, res.creator, attribution.CreatorCommissionAmount, attribution.ID); err != nil {
			return err
		}
		if res.code != nil {
			if err := tx.DiscountCode().RecordConversion(ctx, res.code.ID); err != nil {
				return fmt.Errorf("ошибка учета конверсии промокода: %w", err)
			}
		}
		return nil
	})
	if errors.Is(err, errDuplicateDelivery) {
		existing, getErr := r.store.Attribution().GetByOrderID(ctx, ev.OrderID)
		if getErr != nil {
			return nil, fmt.Errorf("ошибка получения привязки платежа %s: %w", ev.OrderID, getErr)
		}
		r.logDuplicate(existing)
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка привязки платежа %s: %w", ev.OrderID, err)
	}

	r.logger.Info("платеж привязан",
		zap.String("order_id", attribution.OrderID),
		zap.String("source", string(attribution.Source)),
		zap.String("commission_rate", attribution.CommissionRate.String()),
		zap.Int("tier_level", attribution.TierLevel),
		zap.String("commission", attribution.CreatorCommissionAmount.String()))

	r.metrics.RecordAttribution(string(attribution.Source), attribution.CreatorCommissionAmount)
	if attribution.CreatorID != nil {
		events.PublishBestEffort(ctx, r.publisher, events.SettlementEvent{
			Type:        events.CommissionCredited,
			CreatorID:   *attribution.CreatorID,
			ReferenceID: attribution.ID,
			Amount:      attribution.CreatorCommissionAmount,
			OccurredAt:  attribution.CreatedAt,
		}, r.logger)
	}

	return attribution, nil
}

// resolve ищет создателя сначала по промокоду, затем по реферальному коду.
// Неактивный промокод или создатель пропускаются. Найденный создатель заблокирован до конца транзакции.
func (r *Recorder) resolve(ctx context.Context, tx store.Store, ev models.PaymentCompletedEvent) (*resolved, error) {
	if ev.DiscountCode != nil && strings.TrimSpace(*ev.DiscountCode) != "" {
		code, err := tx.DiscountCode().GetByCode(ctx, models.NormalizeCode(*ev.DiscountCode))
		switch {
		case errors.Is(err, models.ErrNotFound):
			r.logger.Warn("промокод платежа не найден",
				zap.String("order_id", ev.OrderID),
				zap.String("discount_code", *ev.DiscountCode))
		case err != nil:
			return nil, fmt.Errorf("ошибка получения промокода: %w", err)
		case !code.IsActive:
			r.logger.Warn("промокод платежа неактивен",
				zap.String("order_id", ev.OrderID),
				zap.String("discount_code", code.Code))
		default:
			creator, err := r.activeCreator(ctx, tx, code.CreatorID)
			if err != nil {
				return nil, err
			}
			if creator != nil {
				return &resolved{creator: creator, code: code, source: models.AttributionSourceDiscountCode}, nil
			}
		}
	}

	if ev.RefCreator != nil && strings.TrimSpace(*ev.RefCreator) != "" {
		creator, err := tx.Creator().GetByReferralCode(ctx, models.NormalizeCode(*ev.RefCreator))
		switch {
		case errors.Is(err, models.ErrNotFound):
			r.logger.Warn("реферальный код платежа не найден",
				zap.String("order_id", ev.OrderID),
				zap.String("ref_creator", *ev.RefCreator))
		case err != nil:
			return nil, fmt.Errorf("ошибка получения создателя по реферальному коду: %w", err)
		default:
			locked, err := r.activeCreator(ctx, tx, creator.ID)
			if err != nil {
				return nil, err
			}
			if locked != nil {
				return &resolved{creator: locked, source: models.AttributionSourceReferralCode}, nil
			}
		}
	}

	return nil, nil
}

// activeCreator блокирует создателя и возвращает nil, если он неактивен
func (r *Recorder) activeCreator(ctx context.Context, tx store.Store, id uuid.UUID) (*models.CreatorProfile, error) {
	creator, err := tx.Creator().GetForUpdate(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка блокировки создателя: %w", err)
	}
	if !creator.IsActive {
		r.logger.Warn("создатель неактивен, комиссия не начисляется",
			zap.String("creator_id", creator.ID.String()))
		return nil, nil
	}
	return creator, nil
}

func (r *Recorder) logDuplicate(existing *models.PaymentAttribution) {
	r.metrics.RecordAttribution("duplicate", decimal.Zero)
	r.logger.Warn("повторная доставка платежа",
		zap.String("order_id", existing.OrderID),
		zap.String("attribution_id", existing.ID.String()),
		zap.Error(models.ErrAttributionConflict))
}

// History возвращает начисления создателя, новые первыми
func (r *Recorder) History(ctx context.Context, creatorID uuid.UUID, limit, offset int) ([]*models.PaymentAttribution, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return r.store.Attribution().ListByCreator(ctx, creatorID, limit, offset)
}
