// Package api предоставляет HTTP API панели создателя, администраторов и внутренних сервисов.
package api

import (
	"net/http"

	"studyhub/internal/attribution"
	"studyhub/internal/commission"
	"studyhub/internal/creator"
	"studyhub/internal/headops"
	"studyhub/internal/settings"
	"studyhub/internal/withdrawal"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Services - сервисы, которые обслуживает API
type Services struct {
	Attribution *attribution.Recorder
	Withdrawals *withdrawal.Service
	HeadOps     *headops.Service
	Creators    *creator.Service
	Tiers       *commission.Service
	Settings    *settings.Service
}

// Server содержит обработчики HTTP API
type Server struct {
	svc    Services
	auth   *Authenticator
	logger *zap.Logger
}

// NewServer создает обработчики HTTP API
func NewServer(svc Services, auth *Authenticator, logger *zap.Logger) *Server {
	return &Server{svc: svc, auth: auth, logger: logger}
}

// Extra - маршруты вне /api/v1, без JWT (webhook, метрики, health)
type Extra struct {
	Path    string
	Method  string
	Handler http.Handler
}

// Router собирает маршруты и оборачивает их в CORS
func (s *Server) Router(corsOrigins []string, extra ...Extra) http.Handler {
	r := mux.NewRouter()

	for _, e := range extra {
		route := r.Handle(e.Path, e.Handler)
		if e.Method != "" {
			route.Methods(e.Method)
		}
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.auth.Middleware)

	// Панель создателя
	me := api.PathPrefix("/me").Subrouter()
	me.Use(RequireRole(RoleCreator))
	me.HandleFunc("/summary", s.mySummary).Methods(http.MethodGet)
	me.HandleFunc("/attributions", s.myAttributions).Methods(http.MethodGet)
	me.HandleFunc("/withdrawal-methods", s.listMyMethods).Methods(http.MethodGet)
	me.HandleFunc("/withdrawal-methods", s.addMyMethod).Methods(http.MethodPost)
	me.HandleFunc("/withdrawal-methods/{id}/primary", s.setMyPrimaryMethod).Methods(http.MethodPut)
	me.HandleFunc("/withdrawals", s.listMyWithdrawals).Methods(http.MethodGet)
	me.HandleFunc("/withdrawals", s.createWithdrawal).Methods(http.MethodPost)
	me.HandleFunc("/discount-codes", s.listMyDiscountCodes).Methods(http.MethodGet)
	me.HandleFunc("/discount-codes", s.createMyDiscountCode).Methods(http.MethodPost)

	// Внутренние сервисы: регистрация и оформление заказа
	internal := api.PathPrefix("/internal").Subrouter()
	internal.Use(RequireRole(RoleService))
	internal.HandleFunc("/signups", s.recordSignup).Methods(http.MethodPost)
	internal.HandleFunc("/discount-codes/redeem", s.redeemDiscountCode).Methods(http.MethodPost)

	// Руководитель операций
	ops := api.PathPrefix("/head-ops").Subrouter()
	ops.Use(RequireRole(RoleHeadOps, RoleAdmin))
	ops.HandleFunc("/requests", s.createHeadOpsRequest).Methods(http.MethodPost)

	// Администратор
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(RequireRole(RoleAdmin))
	admin.HandleFunc("/withdrawals", s.listWithdrawals).Methods(http.MethodGet)
	admin.HandleFunc("/withdrawals/{id}", s.getWithdrawal).Methods(http.MethodGet)
	admin.HandleFunc("/withdrawals/{id}/decision", s.decideWithdrawal).Methods(http.MethodPost)
	admin.HandleFunc("/head-ops", s.listHeadOps).Methods(http.MethodGet)
	admin.HandleFunc("/head-ops/{id}/decision", s.decideHeadOps).Methods(http.MethodPost)
	admin.HandleFunc("/tiers", s.listTiers).Methods(http.MethodGet)
	admin.HandleFunc("/tiers/{level}", s.upsertTier).Methods(http.MethodPut)
	admin.HandleFunc("/tiers/{level}", s.deleteTier).Methods(http.MethodDelete)
	admin.HandleFunc("/settings", s.listSettings).Methods(http.MethodGet)
	admin.HandleFunc("/settings/{key}", s.setSetting).Methods(http.MethodPut)
	admin.HandleFunc("/cmos", s.createCMO).Methods(http.MethodPost)
	admin.HandleFunc("/creators", s.onboardCreator).Methods(http.MethodPost)
	admin.HandleFunc("/creators/{id}/summary", s.creatorSummary).Methods(http.MethodGet)
	admin.HandleFunc("/creators/{id}/tier-protection", s.grantTierProtection).Methods(http.MethodPost)
	admin.HandleFunc("/creators/{id}/discount-codes", s.createDiscountCode).Methods(http.MethodPost)

	c := cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           600,
	})
	return c.Handler(r)
}
