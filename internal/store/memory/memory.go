// Package memory содержит реализацию store.Store в памяти процесса.
// Используется в тестах сервисов. Транзакция держит общий мьютекс и работает
// с копией данных, которая подменяет исходные только при успешном завершении.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"studyhub/internal/store"
	"studyhub/pkg/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type data struct {
	tiers        map[int]models.CommissionTier
	creators     map[uuid.UUID]*models.CreatorProfile
	cmos         map[uuid.UUID]*models.CMOProfile
	codes        map[uuid.UUID]*models.DiscountCode
	attributions []*models.PaymentAttribution
	referrals    map[uuid.UUID]*models.Referral
	methods      map[uuid.UUID]*models.WithdrawalMethod
	withdrawals  map[uuid.UUID]*models.WithdrawalRequest
	headOps      map[uuid.UUID]*models.HeadOpsRequest
	ledger       []*models.LedgerEntry
	settings     map[string]string
}

func newData() *data {
	return &data{
		tiers:       make(map[int]models.CommissionTier),
		creators:    make(map[uuid.UUID]*models.CreatorProfile),
		cmos:        make(map[uuid.UUID]*models.CMOProfile),
		codes:       make(map[uuid.UUID]*models.DiscountCode),
		referrals:   make(map[uuid.UUID]*models.Referral),
		methods:     make(map[uuid.UUID]*models.WithdrawalMethod),
		withdrawals: make(map[uuid.UUID]*models.WithdrawalRequest),
		headOps:     make(map[uuid.UUID]*models.HeadOpsRequest),
		settings:    make(map[string]string),
	}
}

func cp[T any](v *T) *T {
	c := *v
	return &c
}

func cloneMap[K comparable, V any](m map[K]*V) map[K]*V {
	out := make(map[K]*V, len(m))
	for k, v := range m {
		out[k] = cp(v)
	}
	return out
}

func cloneSlice[V any](s []*V) []*V {
	out := make([]*V, len(s))
	for i, v := range s {
		out[i] = cp(v)
	}
	return out
}

func (d *data) clone() *data {
	c := &data{
		tiers:        make(map[int]models.CommissionTier, len(d.tiers)),
		creators:     cloneMap(d.creators),
		cmos:         cloneMap(d.cmos),
		codes:        cloneMap(d.codes),
		attributions: cloneSlice(d.attributions),
		referrals:    cloneMap(d.referrals),
		methods:      cloneMap(d.methods),
		withdrawals:  cloneMap(d.withdrawals),
		headOps:      cloneMap(d.headOps),
		ledger:       cloneSlice(d.ledger),
		settings:     make(map[string]string, len(d.settings)),
	}
	for k, v := range d.tiers {
		c.tiers[k] = v
	}
	for k, v := range d.settings {
		c.settings[k] = v
	}
	return c
}

// Store реализует store.Store в памяти
type Store struct {
	mu   *sync.Mutex
	d    *data
	inTx bool
}

var _ store.Store = (*Store)(nil)

// NewStore создает пустое хранилище
func NewStore() *Store {
	return &Store{mu: &sync.Mutex{}, d: newData()}
}

// lock захватывает мьютекс вне транзакции. Внутри транзакции мьютекс уже захвачен.
func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// WithTx выполняет fn над копией данных и применяет ее только при успехе
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &Store{mu: s.mu, d: s.d.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	s.d = tx.d
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }
func (s *Store) Close() error                   { return nil }

func (s *Store) Tier() store.TierRepository                         { return tierRepo{s} }
func (s *Store) Creator() store.CreatorRepository                   { return creatorRepo{s} }
func (s *Store) CMO() store.CMORepository                           { return cmoRepo{s} }
func (s *Store) DiscountCode() store.DiscountCodeRepository         { return discountRepo{s} }
func (s *Store) Attribution() store.AttributionRepository           { return attributionRepo{s} }
func (s *Store) Referral() store.ReferralRepository                 { return referralRepo{s} }
func (s *Store) WithdrawalMethod() store.WithdrawalMethodRepository { return methodRepo{s} }
func (s *Store) Withdrawal() store.WithdrawalRepository             { return withdrawalRepo{s} }
func (s *Store) HeadOps() store.HeadOpsRepository                   { return headOpsRepo{s} }
func (s *Store) Ledger() store.LedgerRepository                     { return ledgerRepo{s} }
func (s *Store) Settings() store.SettingsRepository                 { return settingsRepo{s} }

func notFound(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, models.ErrNotFound)
}

func duplicate(what string, key any) error {
	return fmt.Errorf("нарушение уникальности %s: %v", what, key)
}

func page[T any](items []*T, limit, offset int) []*T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// tiers

type tierRepo struct{ s *Store }

func (r tierRepo) List(ctx context.Context) ([]models.CommissionTier, error) {
	defer r.s.lock()()
	tiers := make([]models.CommissionTier, 0, len(r.s.d.tiers))
	for _, t := range r.s.d.tiers {
		tiers = append(tiers, t)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].TierLevel < tiers[j].TierLevel })
	return tiers, nil
}

func (r tierRepo) Upsert(ctx context.Context, tier *models.CommissionTier) error {
	defer r.s.lock()()
	t := *tier
	t.UpdatedAt = time.Now().UTC()
	r.s.d.tiers[t.TierLevel] = t
	tier.UpdatedAt = t.UpdatedAt
	return nil
}

func (r tierRepo) Delete(ctx context.Context, tierLevel int) error {
	defer r.s.lock()()
	if _, ok := r.s.d.tiers[tierLevel]; !ok {
		return notFound("уровень", tierLevel)
	}
	delete(r.s.d.tiers, tierLevel)
	return nil
}

func (r tierRepo) Lock(ctx context.Context) error { return nil }

// creators

type creatorRepo struct{ s *Store }

func (r creatorRepo) Create(ctx context.Context, c *models.CreatorProfile) error {
	defer r.s.lock()()
	for _, existing := range r.s.d.creators {
		if existing.ReferralCode == c.ReferralCode {
			return duplicate("referral_code", c.ReferralCode)
		}
		if existing.UserID == c.UserID {
			return duplicate("user_id", c.UserID)
		}
	}
	r.s.d.creators[c.ID] = cp(c)
	return nil
}

func (r creatorRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.CreatorProfile, error) {
	defer r.s.lock()()
	c, ok := r.s.d.creators[id]
	if !ok {
		return nil, notFound("создатель", id)
	}
	return cp(c), nil
}

func (r creatorRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.CreatorProfile, error) {
	defer r.s.lock()()
	for _, c := range r.s.d.creators {
		if c.UserID == userID {
			return cp(c), nil
		}
	}
	return nil, notFound("создатель пользователя", userID)
}

func (r creatorRepo) GetByReferralCode(ctx context.Context, code string) (*models.CreatorProfile, error) {
	defer r.s.lock()()
	for _, c := range r.s.d.creators {
		if c.ReferralCode == code {
			return cp(c), nil
		}
	}
	return nil, notFound("создатель с кодом", code)
}

func (r creatorRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.CreatorProfile, error) {
	return r.GetByID(ctx, id)
}

func (r creatorRepo) UpdateLedger(ctx context.Context, c *models.CreatorProfile) error {
	defer r.s.lock()()
	existing, ok := r.s.d.creators[c.ID]
	if !ok {
		return notFound("создатель", c.ID)
	}
	existing.AvailableBalance = c.AvailableBalance
	existing.ReservedBalance = c.ReservedBalance
	existing.TotalWithdrawn = c.TotalWithdrawn
	existing.LifetimePaidUsers = c.LifetimePaidUsers
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (r creatorRepo) UpdateTierState(ctx context.Context, id uuid.UUID, tierLevel int, protectionUntil *time.Time) error {
	defer r.s.lock()()
	existing, ok := r.s.d.creators[id]
	if !ok {
		return notFound("создатель", id)
	}
	existing.CurrentTierLevel = tierLevel
	existing.TierProtectionUntil = protectionUntil
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (r creatorRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	defer r.s.lock()()
	existing, ok := r.s.d.creators[id]
	if !ok {
		return notFound("создатель", id)
	}
	existing.IsActive = active
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (r creatorRepo) ListActive(ctx context.Context) ([]*models.CreatorProfile, error) {
	return r.list(true)
}

func (r creatorRepo) ListAll(ctx context.Context) ([]*models.CreatorProfile, error) {
	return r.list(false)
}

func (r creatorRepo) list(activeOnly bool) ([]*models.CreatorProfile, error) {
	defer r.s.lock()()
	var out []*models.CreatorProfile
	for _, c := range r.s.d.creators {
		if activeOnly && !c.IsActive {
			continue
		}
		out = append(out, cp(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r creatorRepo) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	_, err := r.GetByReferralCode(ctx, code)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// CMO

type cmoRepo struct{ s *Store }

func (r cmoRepo) Create(ctx context.Context, cmo *models.CMOProfile) error {
	defer r.s.lock()()
	r.s.d.cmos[cmo.ID] = cp(cmo)
	return nil
}

func (r cmoRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.CMOProfile, error) {
	defer r.s.lock()()
	c, ok := r.s.d.cmos[id]
	if !ok {
		return nil, notFound("CMO", id)
	}
	return cp(c), nil
}

func (r cmoRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	defer r.s.lock()()
	c, ok := r.s.d.cmos[id]
	if !ok {
		return notFound("CMO", id)
	}
	c.IsActive = active
	return nil
}

// discount codes

type discountRepo struct{ s *Store }

func (r discountRepo) Create(ctx context.Context, d *models.DiscountCode) error {
	defer r.s.lock()()
	for _, existing := range r.s.d.codes {
		if existing.Code == d.Code {
			return duplicate("code", d.Code)
		}
	}
	r.s.d.codes[d.ID] = cp(d)
	return nil
}

func (r discountRepo) GetByCode(ctx context.Context, code string) (*models.DiscountCode, error) {
	defer r.s.lock()()
	for _, d := range r.s.d.codes {
		if d.Code == code {
			return cp(d), nil
		}
	}
	return nil, notFound("промокод", code)
}

func (r discountRepo) ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.DiscountCode, error) {
	defer r.s.lock()()
	var out []*models.DiscountCode
	for _, d := range r.s.d.codes {
		if d.CreatorID == creatorID {
			out = append(out, cp(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r discountRepo) CountByCreator(ctx context.Context, creatorID uuid.UUID) (int, error) {
	codes, err := r.ListByCreator(ctx, creatorID)
	return len(codes), err
}

func (r discountRepo) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	defer r.s.lock()()
	d, ok := r.s.d.codes[id]
	if !ok {
		return notFound("промокод", id)
	}
	d.UsageCount++
	return nil
}

func (r discountRepo) RecordConversion(ctx context.Context, id uuid.UUID) error {
	defer r.s.lock()()
	d, ok := r.s.d.codes[id]
	if !ok {
		return notFound("промокод", id)
	}
	d.PaidConversions++
	if d.UsageCount < d.PaidConversions {
		d.UsageCount = d.PaidConversions
	}
	return nil
}

// attributions

type attributionRepo struct{ s *Store }

func (r attributionRepo) Insert(ctx context.Context, a *models.PaymentAttribution) (bool, error) {
	defer r.s.lock()()
	for _, existing := range r.s.d.attributions {
		if existing.OrderID == a.OrderID {
			return false, nil
		}
	}
	r.s.d.attributions = append(r.s.d.attributions, cp(a))
	return true, nil
}

func (r attributionRepo) GetByOrderID(ctx context.Context, orderID string) (*models.PaymentAttribution, error) {
	defer r.s.lock()()
	for _, a := range r.s.d.attributions {
		if a.OrderID == orderID {
			return cp(a), nil
		}
	}
	return nil, notFound("привязка платежа", orderID)
}

func (r attributionRepo) CountPaidUsers(ctx context.Context, creatorID uuid.UUID, from, to time.Time) (int, error) {
	defer r.s.lock()()
	users := make(map[uuid.UUID]struct{})
	for _, a := range r.s.d.attributions {
		if a.CreatorID == nil || *a.CreatorID != creatorID {
			continue
		}
		if a.CreatedAt.Before(from) || !a.CreatedAt.Before(to) {
			continue
		}
		users[a.UserID] = struct{}{}
	}
	return len(users), nil
}

func (r attributionRepo) ListByCreator(ctx context.Context, creatorID uuid.UUID, limit, offset int) ([]*models.PaymentAttribution, error) {
	defer r.s.lock()()
	var out []*models.PaymentAttribution
	for _, a := range r.s.d.attributions {
		if a.CreatorID != nil && *a.CreatorID == creatorID {
			out = append(out, cp(a))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (r attributionRepo) SumCommission(ctx context.Context, creatorID uuid.UUID) (decimal.Decimal, error) {
	defer r.s.lock()()
	sum := decimal.Zero
	for _, a := range r.s.d.attributions {
		if a.CreatorID != nil && *a.CreatorID == creatorID {
			sum = sum.Add(a.CreatorCommissionAmount)
		}
	}
	return sum, nil
}

// referrals

type referralRepo struct{ s *Store }

func (r referralRepo) Create(ctx context.Context, ref *models.Referral) error {
	defer r.s.lock()()
	if _, ok := r.s.d.referrals[ref.UserID]; ok {
		return duplicate("user_id", ref.UserID)
	}
	r.s.d.referrals[ref.UserID] = cp(ref)
	return nil
}

func (r referralRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Referral, error) {
	defer r.s.lock()()
	ref, ok := r.s.d.referrals[userID]
	if !ok {
		return nil, notFound("реферал", userID)
	}
	return cp(ref), nil
}

func (r referralRepo) CountByCreator(ctx context.Context, creatorID uuid.UUID) (int, error) {
	defer r.s.lock()()
	count := 0
	for _, ref := range r.s.d.referrals {
		if ref.CreatorID == creatorID {
			count++
		}
	}
	return count, nil
}

// withdrawal methods

type methodRepo struct{ s *Store }

func (r methodRepo) Create(ctx context.Context, m *models.WithdrawalMethod) error {
	defer r.s.lock()()
	r.s.d.methods[m.ID] = cp(m)
	return nil
}

func (r methodRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.WithdrawalMethod, error) {
	defer r.s.lock()()
	m, ok := r.s.d.methods[id]
	if !ok {
		return nil, notFound("реквизиты", id)
	}
	return cp(m), nil
}

func (r methodRepo) ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.WithdrawalMethod, error) {
	defer r.s.lock()()
	var out []*models.WithdrawalMethod
	for _, m := range r.s.d.methods {
		if m.CreatorID == creatorID {
			out = append(out, cp(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPrimary != out[j].IsPrimary {
			return out[i].IsPrimary
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r methodRepo) SetPrimary(ctx context.Context, creatorID, methodID uuid.UUID) error {
	defer r.s.lock()()
	target, ok := r.s.d.methods[methodID]
	if !ok || target.CreatorID != creatorID {
		return notFound("реквизиты", methodID)
	}
	for _, m := range r.s.d.methods {
		if m.CreatorID == creatorID {
			m.IsPrimary = m.ID == methodID
		}
	}
	return nil
}

// withdrawal requests

type withdrawalRepo struct{ s *Store }

func (r withdrawalRepo) Create(ctx context.Context, w *models.WithdrawalRequest) error {
	defer r.s.lock()()
	r.s.d.withdrawals[w.ID] = cp(w)
	return nil
}

func (r withdrawalRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	defer r.s.lock()()
	w, ok := r.s.d.withdrawals[id]
	if !ok {
		return nil, notFound("заявка на вывод", id)
	}
	return cp(w), nil
}

func (r withdrawalRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	return r.GetByID(ctx, id)
}

func (r withdrawalRepo) UpdateReview(ctx context.Context, w *models.WithdrawalRequest, from models.RequestStatus) error {
	defer r.s.lock()()
	existing, ok := r.s.d.withdrawals[w.ID]
	if !ok || existing.Status != from {
		return store.ErrConcurrentUpdate
	}
	existing.Status = w.Status
	existing.ReceiptURL = w.ReceiptURL
	existing.AdminNotes = w.AdminNotes
	existing.RejectionReason = w.RejectionReason
	existing.ReviewedBy = w.ReviewedBy
	existing.ReviewedAt = w.ReviewedAt
	existing.PaidAt = w.PaidAt
	return nil
}

func (r withdrawalRepo) ListByStatus(ctx context.Context, status models.RequestStatus, limit, offset int) ([]*models.WithdrawalRequest, error) {
	defer r.s.lock()()
	var out []*models.WithdrawalRequest
	for _, w := range r.s.d.withdrawals {
		if w.Status == status {
			out = append(out, cp(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (r withdrawalRepo) ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.WithdrawalRequest, error) {
	defer r.s.lock()()
	var out []*models.WithdrawalRequest
	for _, w := range r.s.d.withdrawals {
		if w.CreatorID == creatorID {
			out = append(out, cp(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r withdrawalRepo) CountByStatus(ctx context.Context, status models.RequestStatus) (int, error) {
	list, err := r.ListByStatus(ctx, status, 0, 0)
	return len(list), err
}

// head-ops requests

type headOpsRepo struct{ s *Store }

func (r headOpsRepo) Create(ctx context.Context, h *models.HeadOpsRequest) error {
	defer r.s.lock()()
	r.s.d.headOps[h.ID] = cp(h)
	return nil
}

func (r headOpsRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.HeadOpsRequest, error) {
	defer r.s.lock()()
	h, ok := r.s.d.headOps[id]
	if !ok {
		return nil, notFound("заявка", id)
	}
	return cp(h), nil
}

func (r headOpsRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.HeadOpsRequest, error) {
	return r.GetByID(ctx, id)
}

func (r headOpsRepo) UpdateReview(ctx context.Context, h *models.HeadOpsRequest, from models.RequestStatus) error {
	defer r.s.lock()()
	existing, ok := r.s.d.headOps[h.ID]
	if !ok || existing.Status != from {
		return store.ErrConcurrentUpdate
	}
	existing.Status = h.Status
	existing.AdminNotes = h.AdminNotes
	existing.ReviewedBy = h.ReviewedBy
	existing.ReviewedAt = h.ReviewedAt
	return nil
}

func (r headOpsRepo) ListByStatus(ctx context.Context, status models.RequestStatus, limit, offset int) ([]*models.HeadOpsRequest, error) {
	defer r.s.lock()()
	var out []*models.HeadOpsRequest
	for _, h := range r.s.d.headOps {
		if h.Status == status {
			out = append(out, cp(h))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, limit, offset), nil
}

func (r headOpsRepo) CountByStatus(ctx context.Context, status models.RequestStatus) (int, error) {
	list, err := r.ListByStatus(ctx, status, 0, 0)
	return len(list), err
}

// ledger

type ledgerRepo struct{ s *Store }

func (r ledgerRepo) Append(ctx context.Context, e *models.LedgerEntry) error {
	defer r.s.lock()()
	r.s.d.ledger = append(r.s.d.ledger, cp(e))
	return nil
}

func (r ledgerRepo) ListByCreator(ctx context.Context, creatorID uuid.UUID) ([]*models.LedgerEntry, error) {
	defer r.s.lock()()
	var out []*models.LedgerEntry
	for _, e := range r.s.d.ledger {
		if e.CreatorID == creatorID {
			out = append(out, cp(e))
		}
	}
	return out, nil
}

// settings

type settingsRepo struct{ s *Store }

func (r settingsRepo) Get(ctx context.Context, key string) (string, error) {
	defer r.s.lock()()
	v, ok := r.s.d.settings[key]
	if !ok {
		return "", store.ErrSettingNotFound
	}
	return v, nil
}

func (r settingsRepo) Set(ctx context.Context, key, value string) error {
	defer r.s.lock()()
	r.s.d.settings[key] = value
	return nil
}

func (r settingsRepo) All(ctx context.Context) (map[string]string, error) {
	defer r.s.lock()()
	out := make(map[string]string, len(r.s.d.settings))
	for k, v := range r.s.d.settings {
		out[k] = v
	}
	return out, nil
}
