package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Metrics содержит все метрики приложения. Методы Record* допускают nil-получатель.
type Metrics struct {
	logger   *zap.Logger
	gatherer prometheus.Gatherer

	// Счетчики
	attributions        *prometheus.CounterVec
	commissionCredited  prometheus.Counter
	withdrawalsCreated  prometheus.Counter
	withdrawalDecisions *prometheus.CounterVec
	headOpsDecisions    *prometheus.CounterVec

	// Гистограммы
	withdrawalAmount prometheus.Histogram

	// Gauge метрики
	pendingWithdrawals prometheus.Gauge
	pendingHeadOps     prometheus.Gauge

	mu sync.RWMutex
}

// New создает метрики в глобальном реестре Prometheus
func New(logger *zap.Logger) *Metrics {
	return NewWithRegistry(logger, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewWithRegistry создает метрики в указанном реестре
func NewWithRegistry(logger *zap.Logger, reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		logger:   logger,
		gatherer: gatherer,

		attributions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_attributions_total",
				Help: "Количество привязанных платежей",
			},
			[]string{"source"}, // discount_code, referral_code, none, duplicate
		),

		commissionCredited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "commission_credited_lkr_total",
				Help: "Сумма начисленной комиссии в LKR",
			},
		),

		withdrawalsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "withdrawal_requests_created_total",
				Help: "Количество созданных заявок на вывод",
			},
		),

		withdrawalDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "withdrawal_decisions_total",
				Help: "Количество решений по заявкам на вывод",
			},
			[]string{"decision"}, // approve, reject, mark_paid
		),

		headOpsDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "head_ops_decisions_total",
				Help: "Количество решений по заявкам руководителя операций",
			},
			[]string{"decision"},
		),

		withdrawalAmount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "withdrawal_amount_lkr",
				Help:    "Суммы заявок на вывод в LKR",
				Buckets: []float64{10000, 20000, 50000, 100000, 250000, 500000, 1000000},
			},
		),

		pendingWithdrawals: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pending_withdrawal_requests",
				Help: "Количество заявок на вывод в ожидании",
			},
		),

		pendingHeadOps: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pending_head_ops_requests",
				Help: "Количество кадровых заявок в ожидании",
			},
		),
	}

	reg.MustRegister(
		m.attributions,
		m.commissionCredited,
		m.withdrawalsCreated,
		m.withdrawalDecisions,
		m.headOpsDecisions,
		m.withdrawalAmount,
		m.pendingWithdrawals,
		m.pendingHeadOps,
	)

	return m
}

// IncrementCounter увеличивает счетчик
func (m *Metrics) IncrementCounter(name string, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var counter *prometheus.CounterVec

	switch name {
	case "payment_attributions_total":
		counter = m.attributions
	case "withdrawal_decisions_total":
		counter = m.withdrawalDecisions
	case "head_ops_decisions_total":
		counter = m.headOpsDecisions
	case "withdrawal_requests_created_total":
		m.withdrawalsCreated.Inc()
		return
	default:
		m.logger.Error("неизвестная метрика", zap.String("name", name))
		return
	}

	counter.WithLabelValues(labels...).Inc()
	m.logger.Debug("метрика увеличена", zap.String("metric", name), zap.Strings("labels", labels))
}

// SetGauge устанавливает значение gauge метрики
func (m *Metrics) SetGauge(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var gauge prometheus.Gauge

	switch name {
	case "pending_withdrawal_requests":
		gauge = m.pendingWithdrawals
	case "pending_head_ops_requests":
		gauge = m.pendingHeadOps
	default:
		m.logger.Error("неизвестная gauge метрика", zap.String("name", name))
		return
	}

	gauge.Set(value)
	m.logger.Debug("метрика установлена", zap.String("metric", name), zap.Float64("value", value))
}

// ObserveHistogram добавляет наблюдение в гистограмму
func (m *Metrics) ObserveHistogram(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case "withdrawal_amount_lkr":
		m.withdrawalAmount.Observe(value)
	default:
		m.logger.Error("неизвестная гистограмма", zap.String("name", name))
		return
	}

	m.logger.Debug("гистограмма обновлена", zap.String("metric", name), zap.Float64("value", value))
}

// RecordAttribution записывает привязку платежа и начисленную комиссию
func (m *Metrics) RecordAttribution(source string, commission decimal.Decimal) {
	if m == nil {
		return
	}
	m.IncrementCounter("payment_attributions_total", source)
	if commission.IsPositive() {
		m.commissionCredited.Add(commission.InexactFloat64())
	}
}

// RecordWithdrawalCreated записывает создание заявки на вывод
func (m *Metrics) RecordWithdrawalCreated(amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.IncrementCounter("withdrawal_requests_created_total")
	m.ObserveHistogram("withdrawal_amount_lkr", amount.InexactFloat64())
}

// RecordWithdrawalDecision записывает решение по заявке на вывод
func (m *Metrics) RecordWithdrawalDecision(decision string) {
	if m == nil {
		return
	}
	m.IncrementCounter("withdrawal_decisions_total", decision)
}

// RecordHeadOpsDecision записывает решение по кадровой заявке
func (m *Metrics) RecordHeadOpsDecision(decision string) {
	if m == nil {
		return
	}
	m.IncrementCounter("head_ops_decisions_total", decision)
}

// RecordPending обновляет количество заявок в ожидании
func (m *Metrics) RecordPending(withdrawals, headOps int) {
	if m == nil {
		return
	}
	m.SetGauge("pending_withdrawal_requests", float64(withdrawals))
	m.SetGauge("pending_head_ops_requests", float64(headOps))
}

// Handler возвращает HTTP handler для метрик
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
