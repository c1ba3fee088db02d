package handlers

import (
	"net/http"

	"tradebot/internal/engine"
	"tradebot/internal/portfolio"

	"github.com/gorilla/mux"
)

// PortfolioService - срез координатора, нужный status endpoints
type PortfolioService interface {
	Symbols() []string
	GetStatus() []*engine.Status
	GetInstrumentStatus(symbol string) *engine.Status
	Weights() map[string]float64
	PortfolioEquity() float64
	EquityHistory() []portfolio.EquityPoint
}

// StatusHandler обрабатывает HTTP запросы состояния портфеля.
//
// Endpoints:
// - GET /api/v1/status - сводка портфеля со всеми инструментами
// - GET /api/v1/instruments/{symbol} - состояние одного движка
// - GET /api/v1/equity - история equity портфеля
type StatusHandler struct {
	coordinator PortfolioService
}

// NewStatusHandler создает новый StatusHandler с внедрением зависимостей.
func NewStatusHandler(coordinator PortfolioService) *StatusHandler {
	return &StatusHandler{coordinator: coordinator}
}

// portfolioStatus - сводка портфеля для GET /api/v1/status
type portfolioStatus struct {
	Equity      float64            `json:"equity"`
	Weights     map[string]float64 `json:"weights"`
	Instruments []*engine.Status   `json:"instruments"`
}

// GetStatus возвращает сводку портфеля.
//
// GET /api/v1/status
//
// Response 200 OK:
//
//	{
//	  "equity": 10250.50,
//	  "weights": {"BTCUSDT": 0.6, "ETHUSDT": 0.4},
//	  "instruments": [
//	    {"symbol": "BTCUSDT", "active_mode": "normal", "trading_enabled": true, ...}
//	  ]
//	}
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.coordinator == nil {
		writeError(w, http.StatusInternalServerError, "coordinator not initialized", "")
		return
	}

	instruments := h.coordinator.GetStatus()
	if instruments == nil {
		instruments = []*engine.Status{}
	}

	writeJSON(w, http.StatusOK, portfolioStatus{
		Equity:      h.coordinator.PortfolioEquity(),
		Weights:     h.coordinator.Weights(),
		Instruments: instruments,
	})
}

// GetInstrument возвращает состояние одного движка.
//
// GET /api/v1/instruments/{symbol}
//
// Response 404 Not Found если символ не торгуется.
func (h *StatusHandler) GetInstrument(w http.ResponseWriter, r *http.Request) {
	if h.coordinator == nil {
		writeError(w, http.StatusInternalServerError, "coordinator not initialized", "")
		return
	}

	symbol := mux.Vars(r)["symbol"]
	status := h.coordinator.GetInstrumentStatus(symbol)
	if status == nil {
		writeError(w, http.StatusNotFound, "unknown symbol", symbol)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// GetEquityHistory возвращает кольцевой буфер точек equity.
//
// GET /api/v1/equity
func (h *StatusHandler) GetEquityHistory(w http.ResponseWriter, r *http.Request) {
	if h.coordinator == nil {
		writeError(w, http.StatusInternalServerError, "coordinator not initialized", "")
		return
	}

	history := h.coordinator.EquityHistory()
	if history == nil {
		history = []portfolio.EquityPoint{}
	}

	writeJSON(w, http.StatusOK, history)
}
