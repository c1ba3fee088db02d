package handlers

import (
	"net/http"

	"tradebot/internal/models"
)

// RiskService - срез координатора, нужный risk endpoint
type RiskService interface {
	GetPortfolioRiskAnalysis() *models.RiskSnapshot
}

// RiskHandler обрабатывает HTTP запросы портфельного риска.
//
// Endpoints:
// - GET /api/v1/risk - последний снимок риска (VaR, ES, концентрация,
//   корреляции, стресс-сценарии)
type RiskHandler struct {
	riskService RiskService
}

// NewRiskHandler создает новый RiskHandler с внедрением зависимостей.
func NewRiskHandler(riskService RiskService) *RiskHandler {
	return &RiskHandler{riskService: riskService}
}

// GetRisk возвращает последний снимок портфельного риска.
//
// GET /api/v1/risk
//
// Response 200 OK:
//
//	{
//	  "value_at_risk": 120.50,
//	  "expected_shortfall": 180.75,
//	  "concentration_risk": 0.52,
//	  "correlation_risk": 0.31,
//	  "stress_scenarios": [
//	    {"name": "market_crash_20", "price_shock_pct": -0.20, "estimated_loss": -1200.00}
//	  ],
//	  "updated_at": "2026-08-29T12:00:00Z"
//	}
//
// Response 503 Service Unavailable если анализ еще не выполнялся.
func (h *RiskHandler) GetRisk(w http.ResponseWriter, r *http.Request) {
	if h.riskService == nil {
		writeError(w, http.StatusInternalServerError, "risk service not initialized", "")
		return
	}

	snapshot := h.riskService.GetPortfolioRiskAnalysis()
	if snapshot == nil {
		writeError(w, http.StatusServiceUnavailable, "risk analysis not available yet", "")
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}
