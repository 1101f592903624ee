package moderation

import (
	"context"
	"errors"
	"testing"
	"time"

	"studyhub/internal/store"
	"studyhub/pkg/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	id     uuid.UUID
	status models.RequestStatus
	notes  string
	actor  uuid.UUID
	at     time.Time
}

type fakeRepo struct {
	rows    map[uuid.UUID]request
	saveErr error
}

func (f *fakeRepo) ops() Ops[*request] {
	return Ops[*request]{
		Lock: func(ctx context.Context, id uuid.UUID) (*request, error) {
			r, ok := f.rows[id]
			if !ok {
				return nil, models.ErrNotFound
			}
			return &r, nil
		},
		Status: func(r *request) models.RequestStatus { return r.status },
		Record: func(r *request, t Transition, a Action) {
			r.status = t.To
			r.notes = a.Notes
			r.actor = a.ActorID
			r.at = a.At
		},
		Save: func(ctx context.Context, r *request, from models.RequestStatus) error {
			if f.saveErr != nil {
				return f.saveErr
			}
			if f.rows[r.id].status != from {
				return store.ErrConcurrentUpdate
			}
			f.rows[r.id] = *r
			return nil
		},
	}
}

func newRepo(status models.RequestStatus) (*fakeRepo, uuid.UUID) {
	id := uuid.New()
	return &fakeRepo{rows: map[uuid.UUID]request{id: {id: id, status: status}}}, id
}

func TestApplyTransitions(t *testing.T) {
	tests := []struct {
		name     string
		wf       Workflow
		from     models.RequestStatus
		decision models.Decision
		notes    string
		want     models.RequestStatus
		wantErr  func(error) bool
	}{
		{"одобрение", WithdrawalWorkflow, models.RequestStatusPending, models.DecisionApprove, "", models.RequestStatusApproved, nil},
		{"отклонение с причиной", WithdrawalWorkflow, models.RequestStatusPending, models.DecisionReject, "нет чека", models.RequestStatusRejected, nil},
		{"отклонение без причины", WithdrawalWorkflow, models.RequestStatusPending, models.DecisionReject, "   ", models.RequestStatusPending, models.IsValidation},
		{"выплата одобренной", WithdrawalWorkflow, models.RequestStatusApproved, models.DecisionMarkPaid, "", models.RequestStatusPaid, nil},
		{"выплата ожидающей", WithdrawalWorkflow, models.RequestStatusPending, models.DecisionMarkPaid, "", models.RequestStatusPending, models.IsStaleState},
		{"повторное одобрение", WithdrawalWorkflow, models.RequestStatusApproved, models.DecisionApprove, "", models.RequestStatusApproved, models.IsStaleState},
		{"одобрение выплаченной", WithdrawalWorkflow, models.RequestStatusPaid, models.DecisionApprove, "", models.RequestStatusPaid, models.IsStaleState},
		{"отклонение отклоненной", WithdrawalWorkflow, models.RequestStatusRejected, models.DecisionReject, "x", models.RequestStatusRejected, models.IsStaleState},
		{"отклонение выплаченной без причины", WithdrawalWorkflow, models.RequestStatusPaid, models.DecisionReject, "", models.RequestStatusPaid, models.IsStaleState},
		{"кадровая заявка не выплачивается", HeadOpsWorkflow, models.RequestStatusApproved, models.DecisionMarkPaid, "", models.RequestStatusApproved, models.IsValidation},
		{"кадровое отклонение без примечаний", HeadOpsWorkflow, models.RequestStatusPending, models.DecisionReject, "", models.RequestStatusPending, models.IsValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, id := newRepo(tt.from)
			effectCalls := 0
			actor := uuid.New()

			got, err := Apply(context.Background(), tt.wf, repo.ops(), id,
				Action{Decision: tt.decision, ActorID: actor, Notes: tt.notes},
				func(ctx context.Context, r *request, tr Transition) error {
					effectCalls++
					return nil
				})

			if tt.wantErr != nil {
				assert.True(t, tt.wantErr(err), "получено %v", err)
				assert.Equal(t, 0, effectCalls)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got.status)
				assert.Equal(t, actor, got.actor)
				assert.False(t, got.at.IsZero())
				assert.Equal(t, 1, effectCalls)
			}
			assert.Equal(t, tt.want, repo.rows[id].status)
		})
	}
}

func TestApplyEffectErrorStopsSave(t *testing.T) {
	repo, id := newRepo(models.RequestStatusPending)
	boom := errors.New("boom")

	_, err := Apply(context.Background(), WithdrawalWorkflow, repo.ops(), id,
		Action{Decision: models.DecisionApprove},
		func(ctx context.Context, r *request, tr Transition) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, models.RequestStatusPending, repo.rows[id].status)
}

func TestApplyConcurrentUpdate(t *testing.T) {
	repo, id := newRepo(models.RequestStatusPending)
	repo.saveErr = store.ErrConcurrentUpdate

	_, err := Apply(context.Background(), WithdrawalWorkflow, repo.ops(), id,
		Action{Decision: models.DecisionApprove}, nil)

	var stale *models.StaleStateError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, WithdrawalWorkflow.Entity, stale.Entity)
}

func TestApplyNotFound(t *testing.T) {
	repo, _ := newRepo(models.RequestStatusPending)

	_, err := Apply(context.Background(), HeadOpsWorkflow, repo.ops(), uuid.New(),
		Action{Decision: models.DecisionApprove}, nil)

	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAllowed(t *testing.T) {
	assert.Equal(t, []models.Decision{models.DecisionApprove, models.DecisionReject},
		WithdrawalWorkflow.Allowed(models.RequestStatusPending))
	assert.Equal(t, []models.Decision{models.DecisionMarkPaid},
		WithdrawalWorkflow.Allowed(models.RequestStatusApproved))
	assert.Empty(t, WithdrawalWorkflow.Allowed(models.RequestStatusPaid))
	assert.Empty(t, HeadOpsWorkflow.Allowed(models.RequestStatusApproved))
}
