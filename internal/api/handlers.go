package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"studyhub/internal/creator"
	"studyhub/internal/headops"
	"studyhub/internal/withdrawal"
	"studyhub/pkg/models"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		return uuid.Nil, models.NewValidationError(name, "ожидается UUID")
	}
	return id, nil
}

func pagination(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

func statusParam(r *http.Request) (models.RequestStatus, error) {
	status := models.RequestStatus(r.URL.Query().Get("status"))
	switch status {
	case "":
		return models.RequestStatusPending, nil
	case models.RequestStatusPending, models.RequestStatusApproved, models.RequestStatusRejected, models.RequestStatusPaid:
		return status, nil
	default:
		return "", models.NewValidationError("status", "неизвестный статус")
	}
}

// currentCreator возвращает профиль создателя, от имени которого выполняется запрос
func (s *Server) currentCreator(r *http.Request) (*models.CreatorProfile, error) {
	return s.svc.Creators.GetByUserID(r.Context(), ActorFrom(r.Context()).UserID)
}

// Панель создателя

func (s *Server) mySummary(w http.ResponseWriter, r *http.Request) {
	c, err := s.currentCreator(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	summary, err := s.svc.Creators.Summary(r.Context(), c.ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) myAttributions(w http.ResponseWriter, r *http.Request) {
	c, err := s.currentCreator(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	limit, offset := pagination(r)
	items, err := s.svc.Attribution.History(r.Context(), c.ID, limit, offset)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) listMyMethods(w http.ResponseWriter, r *http.Request) {
	c, err := s.currentCreator(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	methods, err := s.svc.Withdrawals.ListMethods(r.Context(), c.ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, methods)
}

func (s *Server) addMyMethod(w http.ResponseWriter, r *http.Request) {
	var in withdrawal.MethodInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	c, err := s.currentCreator(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	method, err := s.svc.Withdrawals.AddMethod(r.Context(), c.ID, in)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, method)
}

func (s *Server) setMyPrimaryMethod(w http.ResponseWriter, r *http.Request) {
	methodID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	c, err := s.currentCreator(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.svc.Withdrawals.SetPrimaryMethod(r.Context(), c.ID, methodID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listMyWithdrawals(w http.ResponseWriter, r *http.Request) {
	c, err := s.currentCreator(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	items, err := s.svc.Withdrawals.ListByCreator(r.Context(), c.ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type createWithdrawalRequest struct {
	WithdrawalMethodID *uuid.UUID      `json:"withdrawal_method_id"`
	Amount             decimal.Decimal `json:"amount"`
}

func (s *Server) createWithdrawal(w http.ResponseWriter, r *http.Request) {
	var in createWithdrawalRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	c, err := s.currentCreator(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	methodID := uuid.Nil
	if in.WithdrawalMethodID != nil {
		methodID = *in.WithdrawalMethodID
	} else {
		def, err := s.svc.Withdrawals.DefaultMethod(r.Context(), c.ID)
		if errors.Is(err, models.ErrNotFound) {
			err = models.NewValidationError("withdrawal_method_id", "сначала добавьте реквизиты для выплаты")
		}
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		methodID = def.ID
	}

	req, err := s.svc.Withdrawals.Create(r.Context(), withdrawal.CreateInput{
		CreatorID:          c.ID,
		WithdrawalMethodID: methodID,
		Amount:             in.Amount,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) listMyDiscountCodes(w http.ResponseWriter, r *http.Request) {
	c, err := s.currentCreator(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	codes, err := s.svc.Creators.ListDiscountCodes(r.Context(), c.ID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, codes)
}

func (s *Server) createMyDiscountCode(w http.ResponseWriter, r *http.Request) {
	var in creator.DiscountCodeInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	c, err := s.currentCreator(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	dc, err := s.svc.Creators.CreateDiscountCode(r.Context(), c.ID, in, false)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, dc)
}

// Внутренние сервисы

type signupRequest struct {
	UserID       uuid.UUID `json:"user_id"`
	ReferralCode string    `json:"referral_code"`
}

func (s *Server) recordSignup(w http.ResponseWriter, r *http.Request) {
	var in signupRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	ref, err := s.svc.Attribution.RecordSignup(r.Context(), in.UserID, in.ReferralCode)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

type redeemRequest struct {
	Code string `json:"code"`
}

func (s *Server) redeemDiscountCode(w http.ResponseWriter, r *http.Request) {
	var in redeemRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	dc, err := s.svc.Attribution.RedeemDiscountCode(r.Context(), in.Code)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dc)
}

// Руководитель операций

func (s *Server) createHeadOpsRequest(w http.ResponseWriter, r *http.Request) {
	var in headops.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	in.RequesterID = ActorFrom(r.Context()).UserID

	req, err := s.svc.HeadOps.Create(r.Context(), in)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// Администратор

func (s *Server) listWithdrawals(w http.ResponseWriter, r *http.Request) {
	status, err := statusParam(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	limit, offset := pagination(r)
	items, err := s.svc.Withdrawals.ListByStatus(r.Context(), status, limit, offset)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) getWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	req, err := s.svc.Withdrawals.Get(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) decideWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var in withdrawal.DecisionInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	in.ActorID = ActorFrom(r.Context()).UserID

	req, err := s.svc.Withdrawals.Decide(r.Context(), id, in)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) listHeadOps(w http.ResponseWriter, r *http.Request) {
	status, err := statusParam(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	limit, offset := pagination(r)
	items, err := s.svc.HeadOps.ListByStatus(r.Context(), status, limit, offset)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type decisionRequest struct {
	Decision models.Decision `json:"decision"`
	Notes    string          `json:"notes"`
}

func (s *Server) decideHeadOps(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var in decisionRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}

	req, err := s.svc.HeadOps.Decide(r.Context(), id, in.Decision, ActorFrom(r.Context()).UserID, in.Notes)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) listTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := s.svc.Tiers.List(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tiers)
}

func (s *Server) tierLevel(r *http.Request) (int, error) {
	level, err := strconv.Atoi(mux.Vars(r)["level"])
	if err != nil {
		return 0, models.NewValidationError("tier_level", "ожидается целое число")
	}
	return level, nil
}

type tierRequest struct {
	TierName             string          `json:"tier_name"`
	CommissionRate       decimal.Decimal `json:"commission_rate"`
	MonthlyUserThreshold int             `json:"monthly_user_threshold"`
}

func (s *Server) upsertTier(w http.ResponseWriter, r *http.Request) {
	level, err := s.tierLevel(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var in tierRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}

	tier := models.CommissionTier{
		TierLevel:            level,
		TierName:             in.TierName,
		CommissionRate:       in.CommissionRate,
		MonthlyUserThreshold: in.MonthlyUserThreshold,
	}
	if err := s.svc.Tiers.UpsertTier(r.Context(), tier); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tier)
}

func (s *Server) deleteTier(w http.ResponseWriter, r *http.Request) {
	level, err := s.tierLevel(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.svc.Tiers.DeleteTier(r.Context(), level); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listSettings(w http.ResponseWriter, r *http.Request) {
	all, err := s.svc.Settings.All(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

type settingRequest struct {
	Value string `json:"value"`
}

func (s *Server) setSetting(w http.ResponseWriter, r *http.Request) {
	var in settingRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.svc.Settings.Set(r.Context(), mux.Vars(r)["key"], in.Value); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type cmoRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
}

func (s *Server) createCMO(w http.ResponseWriter, r *http.Request) {
	var in cmoRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	cmo, err := s.svc.Creators.CreateCMO(r.Context(), in.UserID, in.Name)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, cmo)
}

func (s *Server) onboardCreator(w http.ResponseWriter, r *http.Request) {
	var in creator.OnboardInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	profile, err := s.svc.Creators.Onboard(r.Context(), in)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) creatorSummary(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	summary, err := s.svc.Creators.Summary(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type protectionRequest struct {
	TierLevel int       `json:"tier_level"`
	Until     time.Time `json:"until"`
}

func (s *Server) grantTierProtection(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var in protectionRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	profile, err := s.svc.Creators.GrantTierProtection(r.Context(), id, in.TierLevel, in.Until)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) createDiscountCode(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	var in creator.DiscountCodeInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, s.logger, err)
		return
	}
	dc, err := s.svc.Creators.CreateDiscountCode(r.Context(), id, in, true)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, dc)
}
