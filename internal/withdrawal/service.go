package withdrawal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"studyhub/internal/events"
	"studyhub/internal/ledger"
	"studyhub/internal/metrics"
	"studyhub/internal/moderation"
	"studyhub/internal/notify"
	"studyhub/internal/settings"
	"studyhub/internal/store"
	"studyhub/pkg/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service ведет заявки на вывод средств через автомат pending -> approved -> paid | rejected.
// Сумма заявки резервируется при создании, поэтому параллельные заявки не могут вместе
// превысить доступный баланс.
type Service struct {
	store     store.Store
	ledger    *ledger.Service
	settings  *settings.Service
	publisher events.Publisher
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewService создает сервис заявок на вывод
func NewService(
	st store.Store,
	ledgerService *ledger.Service,
	settingsService *settings.Service,
	publisher events.Publisher,
	notifier notify.Notifier,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		store:     st,
		ledger:    ledgerService,
		settings:  settingsService,
		publisher: publisher,
		notifier:  notifier,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateInput - заявка создателя на вывод
type CreateInput struct {
	CreatorID          uuid.UUID       `json:"creator_id"`
	WithdrawalMethodID uuid.UUID       `json:"withdrawal_method_id"`
	Amount             decimal.Decimal `json:"amount"`
}

// Create создает заявку и резервирует ее сумму
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.WithdrawalRequest, error) {
	if !in.Amount.IsPositive() {
		return nil, models.NewValidationError("amount", "сумма должна быть положительной")
	}
	if !models.FitsMoneyPlaces(in.Amount) {
		return nil, models.NewValidationError("amount", "сумма указывается не точнее минимальной денежной единицы")
	}

	// настройки читаются до транзакции
	minimum := s.settings.MinimumPayout(ctx)
	feePercent := s.settings.WithdrawalFeePercent(ctx)

	if in.Amount.LessThan(minimum) {
		return nil, models.NewValidationError("amount",
			fmt.Sprintf("минимальная сумма вывода %s LKR", minimum))
	}

	fee := models.PercentOf(in.Amount, feePercent)
	req := &models.WithdrawalRequest{
		ID:                 uuid.New(),
		CreatorID:          in.CreatorID,
		WithdrawalMethodID: in.WithdrawalMethodID,
		Amount:             in.Amount,
		FeePercent:         feePercent,
		FeeAmount:          fee,
		NetAmount:          in.Amount.Sub(fee),
		Status:             models.RequestStatusPending,
		CreatedAt:          s.now().UTC(),
	}
	if req.NetAmount.IsNegative() || !req.FeeAmount.Add(req.NetAmount).Equal(req.Amount) {
		return nil, &models.LedgerInvariantError{Field: "net_amount", Value: req.NetAmount}
	}

	err := s.store.WithTx(ctx, func(tx store.Store) error {
		creator, err := tx.Creator().GetForUpdate(ctx, in.CreatorID)
		if err != nil {
			return err
		}

		methods, err := tx.WithdrawalMethod().ListByCreator(ctx, in.CreatorID)
		if err != nil {
			return err
		}
		if len(methods) == 0 {
			return models.NewValidationError("withdrawal_method_id", "сначала добавьте реквизиты для выплаты")
		}
		owned := false
		for _, m := range methods {
			if m.ID == in.WithdrawalMethodID {
				owned = true
				break
			}
		}
		if !owned {
			return models.NewValidationError("withdrawal_method_id", "реквизиты не принадлежат создателю")
		}

		if err := s.ledger.Reserve(ctx, tx, creator, req.Amount, req.ID); err != nil {
			return err
		}
		return tx.Withdrawal().Create(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания заявки на вывод: %w", err)
	}

	s.logger.Info("заявка на вывод создана",
		zap.String("request_id", req.ID.String()),
		zap.String("creator_id", req.CreatorID.String()),
		zap.String("amount", req.Amount.String()),
		zap.String("fee_amount", req.FeeAmount.String()),
		zap.String("net_amount", req.NetAmount.String()))

	s.metrics.RecordWithdrawalCreated(req.Amount)
	events.PublishBestEffort(ctx, s.publisher, events.SettlementEvent{
		Type:        events.WithdrawalRequested,
		CreatorID:   req.CreatorID,
		ReferenceID: req.ID,
		Amount:      req.Amount,
		NetAmount:   req.NetAmount,
		OccurredAt:  req.CreatedAt,
	}, s.logger)
	s.notify(ctx, fmt.Sprintf("Новая заявка на вывод <b>%s LKR</b> (к выплате %s LKR)", req.Amount, req.NetAmount))

	return req, nil
}

// DecisionInput - решение администратора по заявке
type DecisionInput struct {
	Decision   models.Decision `json:"decision"`
	ActorID    uuid.UUID       `json:"-"`
	Notes      string          `json:"notes"`
	ReceiptURL string          `json:"receipt_url"`
}

// Decide применяет решение администратора
func (s *Service) Decide(ctx context.Context, id uuid.UUID, in DecisionInput) (*models.WithdrawalRequest, error) {
	switch in.Decision {
	case models.DecisionApprove:
		return s.Approve(ctx, id, in.ActorID, in.Notes)
	case models.DecisionReject:
		return s.Reject(ctx, id, in.ActorID, in.Notes)
	case models.DecisionMarkPaid:
		return s.MarkPaid(ctx, id, in.ActorID, in.ReceiptURL, in.Notes)
	default:
		return nil, models.NewValidationError("decision", fmt.Sprintf("неизвестное решение %q", in.Decision))
	}
}

// Approve одобряет заявку и списывает резерв: total_withdrawn увеличивается на сумму к выплате
func (s *Service) Approve(ctx context.Context, id, actorID uuid.UUID, notes string) (*models.WithdrawalRequest, error) {
	req, err := s.apply(ctx, id, moderation.Action{Decision: models.DecisionApprove, ActorID: actorID, Notes: notes}, "",
		func(ctx context.Context, tx store.Store, req *models.WithdrawalRequest) error {
			creator, err := tx.Creator().GetForUpdate(ctx, req.CreatorID)
			if err != nil {
				return err
			}
			return s.ledger.Settle(ctx, tx, creator, req.Amount, req.NetAmount, req.ID)
		})
	if err != nil {
		return nil, err
	}

	events.PublishBestEffort(ctx, s.publisher, events.SettlementEvent{
		Type:        events.WithdrawalApproved,
		CreatorID:   req.CreatorID,
		ReferenceID: req.ID,
		Amount:      req.Amount,
		NetAmount:   req.NetAmount,
		ActorID:     &actorID,
	}, s.logger)
	return req, nil
}

// Reject отклоняет заявку и возвращает резерв в доступный баланс. Причина обязательна.
func (s *Service) Reject(ctx context.Context, id, actorID uuid.UUID, reason string) (*models.WithdrawalRequest, error) {
	req, err := s.apply(ctx, id, moderation.Action{Decision: models.DecisionReject, ActorID: actorID, Notes: reason}, "",
		func(ctx context.Context, tx store.Store, req *models.WithdrawalRequest) error {
			creator, err := tx.Creator().GetForUpdate(ctx, req.CreatorID)
			if err != nil {
				return err
			}
			return s.ledger.Release(ctx, tx, creator, req.Amount, req.ID)
		})
	if err != nil {
		return nil, err
	}

	events.PublishBestEffort(ctx, s.publisher, events.SettlementEvent{
		Type:        events.WithdrawalRejected,
		CreatorID:   req.CreatorID,
		ReferenceID: req.ID,
		Amount:      req.Amount,
		ActorID:     &actorID,
	}, s.logger)
	return req, nil
}

// MarkPaid отмечает одобренную заявку выплаченной. Баланс не меняется.
func (s *Service) MarkPaid(ctx context.Context, id, actorID uuid.UUID, receiptURL, notes string) (*models.WithdrawalRequest, error) {
	req, err := s.apply(ctx, id, moderation.Action{Decision: models.DecisionMarkPaid, ActorID: actorID, Notes: notes},
		strings.TrimSpace(receiptURL), nil)
	if err != nil {
		return nil, err
	}

	events.PublishBestEffort(ctx, s.publisher, events.SettlementEvent{
		Type:        events.WithdrawalPaid,
		CreatorID:   req.CreatorID,
		ReferenceID: req.ID,
		Amount:      req.Amount,
		NetAmount:   req.NetAmount,
		ActorID:     &actorID,
	}, s.logger)
	return req, nil
}

type txEffect func(ctx context.Context, tx store.Store, req *models.WithdrawalRequest) error

func (s *Service) apply(ctx context.Context, id uuid.UUID, act moderation.Action, receiptURL string, effect txEffect) (*models.WithdrawalRequest, error) {
	act.At = s.now()

	var result *models.WithdrawalRequest
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		ops := moderation.Ops[*models.WithdrawalRequest]{
			Lock:   tx.Withdrawal().GetForUpdate,
			Status: func(r *models.WithdrawalRequest) models.RequestStatus { return r.Status },
			Record: func(r *models.WithdrawalRequest, t moderation.Transition, a moderation.Action) {
				recordWithdrawal(r, t, a, receiptURL)
			},
			Save: tx.Withdrawal().UpdateReview,
		}

		var eff moderation.Effect[*models.WithdrawalRequest]
		if effect != nil {
			eff = func(ctx context.Context, r *models.WithdrawalRequest, _ moderation.Transition) error {
				return effect(ctx, tx, r)
			}
		}

		req, err := moderation.Apply(ctx, moderation.WithdrawalWorkflow, ops, id, act, eff)
		if err != nil {
			return err
		}
		result = req
		return nil
	})
	if err != nil {
		s.logger.Warn("решение по заявке на вывод не применено",
			zap.String("request_id", id.String()),
			zap.String("decision", string(act.Decision)),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("решение по заявке на вывод применено",
		zap.String("request_id", id.String()),
		zap.String("decision", string(act.Decision)),
		zap.String("actor_id", act.ActorID.String()),
		zap.String("status", string(result.Status)))
	s.metrics.RecordWithdrawalDecision(string(act.Decision))

	return result, nil
}

// recordWithdrawal переносит решение в заявку
func recordWithdrawal(r *models.WithdrawalRequest, t moderation.Transition, a moderation.Action, receiptURL string) {
	at := a.At
	actor := a.ActorID

	r.Status = t.To
	r.ReviewedBy = &actor
	if notes := moderation.NotesPtr(a.Notes); notes != nil {
		r.AdminNotes = notes
	}

	switch t.To {
	case models.RequestStatusApproved:
		r.ReviewedAt = &at
	case models.RequestStatusRejected:
		r.ReviewedAt = &at
		r.RejectionReason = moderation.NotesPtr(a.Notes)
	case models.RequestStatusPaid:
		r.PaidAt = &at
		if receiptURL != "" {
			r.ReceiptURL = &receiptURL
		}
	}
}

// Get возвращает заявку
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	return s.store.Withdrawal().GetByID(ctx, id)
}

// ListByStatus возвращает очередь заявок для администратора
func (s *Service) ListByStatus(ctx context.Context, status models.RequestStatus, limit, offset int) ([]*models.WithdrawalRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.Withdrawal().ListByStatus(ctx, status, limit, offset)
}

// ListByCreator возвращает заявки создателя
func (s *Service) ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.WithdrawalRequest, error) {
	return s.store.Withdrawal().ListByCreator(ctx, creatorID)
}

func (s *Service) notify(ctx context.Context, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyAdmins(ctx, text); err != nil {
		s.logger.Warn("ошибка уведомления администраторов", zap.Error(err))
	}
}
