package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового ядра
// ============================================================
//
// Использование:
// - Grafana дашборды для визуализации
// - Alertmanager для уведомлений о проблемах

// ============ Метрики латентности ============

// CycleLatency - длительность decision cycle по инструментам
var CycleLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tradebot",
		Subsystem: "portfolio",
		Name:      "cycle_latency_ms",
		Help:      "Duration of a single decision cycle in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	},
	[]string{"symbol"},
)

// OrderSubmitLatency - время отправки ордера на площадку
var OrderSubmitLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "tradebot",
		Subsystem: "ledger",
		Name:      "order_submit_latency_ms",
		Help:      "Time to submit an order to the venue in milliseconds",
		Buckets:   []float64{10, 50, 100, 200, 500, 1000, 2000, 5000},
	},
	[]string{"symbol", "side"},
)

// ============ Счётчики сигналов ============

// SignalsEmitted - сигналы, выданные движками по инструментам
var SignalsEmitted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "engine",
		Name:      "signals_emitted_total",
		Help:      "Total number of trade signals emitted by engines",
	},
	[]string{"symbol", "strategy"},
)

// SignalsVetoed - сигналы, отклонённые координатором
var SignalsVetoed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "portfolio",
		Name:      "signals_vetoed_total",
		Help:      "Total number of signals vetoed by the portfolio coordinator",
	},
	[]string{"symbol", "reason"},
)

// SignalsShrunk - сигналы, урезанные риск-фильтром
var SignalsShrunk = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "engine",
		Name:      "signals_shrunk_total",
		Help:      "Total number of signals resized by the risk filter",
	},
	[]string{"symbol"},
)

// ============ Счётчики ордеров ============

// OrderTransitions - переходы статусов ордеров
var OrderTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "ledger",
		Name:      "order_transitions_total",
		Help:      "Total number of order status transitions",
	},
	[]string{"symbol", "from", "to"},
)

// FillsApplied - применённые исполнения
var FillsApplied = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "ledger",
		Name:      "fills_applied_total",
		Help:      "Total number of fills applied to positions",
	},
	[]string{"symbol", "side"},
)

// ReconcileErrors - ошибки reconciliation поллера
var ReconcileErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "ledger",
		Name:      "reconcile_errors_total",
		Help:      "Total number of errors while polling venue order state",
	},
	[]string{"symbol"},
)

// ============ Режимы и риск ============

// EmergencyTriggers - входы в аварийный режим
var EmergencyTriggers = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tradebot",
		Subsystem: "engine",
		Name:      "emergency_triggers_total",
		Help:      "Total number of emergency mode activations",
	},
	[]string{"symbol"},
)

// EngineMode - текущий режим движка (0=normal 1=risk_reduction 2=standby 3=emergency 4=kill_switch)
var EngineMode = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "engine",
		Name:      "mode",
		Help:      "Current engine operating mode as a numeric code",
	},
	[]string{"symbol"},
)

// PortfolioEquity - текущий equity портфеля
var PortfolioEquity = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "portfolio",
		Name:      "equity",
		Help:      "Current portfolio equity in quote currency",
	},
)

// PortfolioVaR - оценка Value at Risk портфеля
var PortfolioVaR = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "portfolio",
		Name:      "value_at_risk",
		Help:      "Current portfolio Value at Risk estimate",
	},
)

// PositionNotional - нотионал открытых позиций
var PositionNotional = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "tradebot",
		Subsystem: "ledger",
		Name:      "position_notional",
		Help:      "Open position notional value per symbol and side",
	},
	[]string{"symbol", "side"},
)

// ============ Вспомогательные функции ============

// ObserveCycle записывает длительность decision cycle
func ObserveCycle(symbol string, start time.Time) {
	CycleLatency.WithLabelValues(symbol).Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}

// RecordTransition записывает переход статуса ордера
func RecordTransition(symbol, from, to string) {
	OrderTransitions.WithLabelValues(symbol, from, to).Inc()
}

// SetMode публикует числовой код режима движка
func SetMode(symbol string, code int) {
	EngineMode.WithLabelValues(symbol).Set(float64(code))
}
