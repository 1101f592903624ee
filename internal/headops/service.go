// Package headops ведет заявки руководителя операций на кадровые действия,
// которые вступают в силу после одобрения администратором.
package headops

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"studyhub/internal/metrics"
	"studyhub/internal/moderation"
	"studyhub/internal/notify"
	"studyhub/internal/store"
	"studyhub/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service представляет сервис заявок руководителя операций
type Service struct {
	store    store.Store
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewService создает сервис заявок руководителя операций
func NewService(st store.Store, notifier notify.Notifier, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		store:    st,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateInput - новая заявка руководителя операций
type CreateInput struct {
	RequesterID uuid.UUID                 `json:"-"`
	RequestType models.HeadOpsRequestType `json:"request_type"`
	TargetID    uuid.UUID                 `json:"target_id"`
	Details     string                    `json:"details"`
}

// Create создает заявку в статусе pending. Тип объекта определяется типом заявки.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.HeadOpsRequest, error) {
	targetType, ok := in.RequestType.TargetType()
	if !ok {
		return nil, models.NewValidationError("request_type", fmt.Sprintf("неизвестный тип заявки %q", in.RequestType))
	}
	if in.RequesterID == uuid.Nil {
		return nil, models.NewValidationError("requester_id", "не указан автор заявки")
	}
	details := strings.TrimSpace(in.Details)
	if details == "" {
		return nil, models.NewValidationError("details", "опишите причину заявки")
	}
	if err := s.checkTarget(ctx, targetType, in.TargetID); err != nil {
		return nil, err
	}

	req := &models.HeadOpsRequest{
		ID:          uuid.New(),
		RequesterID: in.RequesterID,
		RequestType: in.RequestType,
		TargetID:    in.TargetID,
		TargetType:  targetType,
		Details:     details,
		Status:      models.RequestStatusPending,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.HeadOps().Create(ctx, req); err != nil {
		return nil, fmt.Errorf("ошибка создания заявки: %w", err)
	}

	s.logger.Info("заявка руководителя операций создана",
		zap.String("request_id", req.ID.String()),
		zap.String("request_type", string(req.RequestType)),
		zap.String("target_id", req.TargetID.String()))

	if s.notifier != nil {
		text := fmt.Sprintf("Новая заявка руководителя операций: <b>%s</b>", req.RequestType)
		if err := s.notifier.NotifyAdmins(ctx, text); err != nil {
			s.logger.Warn("ошибка уведомления администраторов", zap.Error(err))
		}
	}

	return req, nil
}

func (s *Service) checkTarget(ctx context.Context, targetType string, id uuid.UUID) error {
	var err error
	switch targetType {
	case "creator":
		_, err = s.store.Creator().GetByID(ctx, id)
	case "cmo":
		_, err = s.store.CMO().GetByID(ctx, id)
	}
	if errors.Is(err, models.ErrNotFound) {
		return models.NewValidationError("target_id", fmt.Sprintf("%s %s не найден", targetType, id))
	}
	return err
}

// Decide применяет решение администратора. Одобрение выполняет действие заявки
// в той же транзакции, что и смена статуса.
func (s *Service) Decide(ctx context.Context, id uuid.UUID, decision models.Decision, actorID uuid.UUID, notes string) (*models.HeadOpsRequest, error) {
	act := moderation.Action{Decision: decision, ActorID: actorID, Notes: notes, At: s.now()}

	var result *models.HeadOpsRequest
	err := s.store.WithTx(ctx, func(tx store.Store) error {
		ops := moderation.Ops[*models.HeadOpsRequest]{
			Lock:   tx.HeadOps().GetForUpdate,
			Status: func(r *models.HeadOpsRequest) models.RequestStatus { return r.Status },
			Record: func(r *models.HeadOpsRequest, t moderation.Transition, a moderation.Action) {
				at, actor := a.At, a.ActorID
				r.Status = t.To
				r.ReviewedAt = &at
				r.ReviewedBy = &actor
				r.AdminNotes = moderation.NotesPtr(a.Notes)
			},
			Save: tx.HeadOps().UpdateReview,
		}

		effect := func(ctx context.Context, r *models.HeadOpsRequest, t moderation.Transition) error {
			if t.To != models.RequestStatusApproved {
				return nil
			}
			return execute(ctx, tx, r)
		}

		req, err := moderation.Apply(ctx, moderation.HeadOpsWorkflow, ops, id, act, effect)
		if err != nil {
			return err
		}
		result = req
		return nil
	})
	if err != nil {
		s.logger.Warn("решение по заявке руководителя операций не применено",
			zap.String("request_id", id.String()),
			zap.String("decision", string(decision)),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("решение по заявке руководителя операций применено",
		zap.String("request_id", id.String()),
		zap.String("decision", string(decision)),
		zap.String("actor_id", actorID.String()),
		zap.String("request_type", string(result.RequestType)))
	s.metrics.RecordHeadOpsDecision(string(decision))

	return result, nil
}

// execute выполняет действие одобренной заявки
func execute(ctx context.Context, tx store.Store, r *models.HeadOpsRequest) error {
	switch r.RequestType {
	case models.HeadOpsDeactivateCreator:
		return tx.Creator().SetActive(ctx, r.TargetID, false)
	case models.HeadOpsReactivateCreator:
		return tx.Creator().SetActive(ctx, r.TargetID, true)
	case models.HeadOpsDeactivateCMO:
		return tx.CMO().SetActive(ctx, r.TargetID, false)
	default:
		return models.NewValidationError("request_type", fmt.Sprintf("неизвестный тип заявки %q", r.RequestType))
	}
}

// Get возвращает заявку
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.HeadOpsRequest, error) {
	return s.store.HeadOps().GetByID(ctx, id)
}

// ListByStatus возвращает заявки в статусе status, старые первыми
func (s *Service) ListByStatus(ctx context.Context, status models.RequestStatus, limit, offset int) ([]*models.HeadOpsRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.HeadOps().ListByStatus(ctx, status, limit, offset)
}
