// Package moderation реализует общий конечный автомат заявок, решение по которым
// принимает администратор: pending -> approved | rejected, и для выплат approved -> paid.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"studyhub/internal/store"
	"studyhub/pkg/models"

	"github.com/google/uuid"
)

// Transition описывает переход, который выполняет решение
type Transition struct {
	From          models.RequestStatus
	To            models.RequestStatus
	RequiresNotes bool
}

// Workflow - таблица переходов для одного типа заявок
type Workflow struct {
	Entity      string
	Transitions map[models.Decision]Transition
}

// WithdrawalWorkflow - переходы заявки на вывод средств
var WithdrawalWorkflow = Workflow{
	Entity: "withdrawal_request",
	Transitions: map[models.Decision]Transition{
		models.DecisionApprove:  {From: models.RequestStatusPending, To: models.RequestStatusApproved},
		models.DecisionReject:   {From: models.RequestStatusPending, To: models.RequestStatusRejected, RequiresNotes: true},
		models.DecisionMarkPaid: {From: models.RequestStatusApproved, To: models.RequestStatusPaid},
	},
}

// HeadOpsWorkflow - переходы заявки руководителя операций
var HeadOpsWorkflow = Workflow{
	Entity: "head_ops_request",
	Transitions: map[models.Decision]Transition{
		models.DecisionApprove: {From: models.RequestStatusPending, To: models.RequestStatusApproved},
		models.DecisionReject:  {From: models.RequestStatusPending, To: models.RequestStatusRejected, RequiresNotes: true},
	},
}

// Allowed возвращает решения, допустимые из статуса status
func (w Workflow) Allowed(status models.RequestStatus) []models.Decision {
	var out []models.Decision
	for d, t := range w.Transitions {
		if t.From == status {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Action - решение администратора вместе с данными для аудита
type Action struct {
	Decision models.Decision
	ActorID  uuid.UUID
	Notes    string
	At       time.Time
}

// Ops связывает автомат с конкретной заявкой. Все функции вызываются внутри транзакции.
type Ops[T any] struct {
	// Lock читает заявку с блокировкой строки
	Lock func(ctx context.Context, id uuid.UUID) (T, error)
	// Status возвращает текущий статус заявки
	Status func(T) models.RequestStatus
	// Record переносит статус и поля аудита в заявку
	Record func(T, Transition, Action)
	// Save сохраняет заявку, если ее статус в базе все еще равен from
	Save func(ctx context.Context, rec T, from models.RequestStatus) error
}

// Effect выполняется после проверки перехода и до сохранения заявки
type Effect[T any] func(ctx context.Context, rec T, t Transition) error

// Apply выполняет решение: блокировка, проверка перехода, проверка примечаний,
// побочный эффект и условное обновление статуса. Вызывается внутри транзакции.
func Apply[T any](ctx context.Context, wf Workflow, ops Ops[T], id uuid.UUID, act Action, effect Effect[T]) (T, error) {
	var zero T

	t, ok := wf.Transitions[act.Decision]
	if !ok {
		return zero, models.NewValidationError("decision",
			fmt.Sprintf("решение %q не поддерживается для %s", act.Decision, wf.Entity))
	}

	rec, err := ops.Lock(ctx, id)
	if err != nil {
		return zero, err
	}

	if actual := ops.Status(rec); actual != t.From {
		return zero, &models.StaleStateError{
			Entity:   wf.Entity,
			ID:       id.String(),
			Expected: []models.RequestStatus{t.From},
			Actual:   actual,
		}
	}

	act.Notes = strings.TrimSpace(act.Notes)
	if t.RequiresNotes && act.Notes == "" {
		return zero, models.NewValidationError("notes", "при отклонении необходимо указать причину")
	}
	if act.At.IsZero() {
		act.At = time.Now()
	}
	act.At = act.At.UTC()

	if effect != nil {
		if err := effect(ctx, rec, t); err != nil {
			return zero, err
		}
	}

	ops.Record(rec, t, act)

	if err := ops.Save(ctx, rec, t.From); err != nil {
		if errors.Is(err, store.ErrConcurrentUpdate) {
			return zero, &models.StaleStateError{
				Entity:   wf.Entity,
				ID:       id.String(),
				Expected: []models.RequestStatus{t.From},
			}
		}
		return zero, err
	}

	return rec, nil
}

// NotesPtr возвращает nil для пустых примечаний
func NotesPtr(notes string) *string {
	if notes == "" {
		return nil
	}
	return &notes
}
