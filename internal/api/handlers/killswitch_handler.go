package handlers

import (
	"encoding/json"
	"net/http"
)

// KillSwitchService - срез аварийного выключателя для control endpoints
type KillSwitchService interface {
	Engaged() bool
	Trip(reason string)
	Reset()
}

// KillSwitchHandler обрабатывает HTTP запросы аварийного выключателя.
//
// Endpoints:
// - GET /api/v1/killswitch - текущее состояние
// - POST /api/v1/killswitch/trip - остановить всю торговлю
// - POST /api/v1/killswitch/reset - возобновить торговлю
type KillSwitchHandler struct {
	ks KillSwitchService
}

// NewKillSwitchHandler создает новый KillSwitchHandler.
func NewKillSwitchHandler(ks KillSwitchService) *KillSwitchHandler {
	return &KillSwitchHandler{ks: ks}
}

// tripRequest - тело запроса POST /api/v1/killswitch/trip
type tripRequest struct {
	Reason string `json:"reason"`
}

// GetState возвращает текущее состояние выключателя.
//
// GET /api/v1/killswitch
//
// Response 200 OK: {"engaged": false}
func (h *KillSwitchHandler) GetState(w http.ResponseWriter, r *http.Request) {
	if h.ks == nil {
		writeError(w, http.StatusInternalServerError, "kill switch not initialized", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"engaged": h.ks.Engaged()})
}

// Trip останавливает всю торговлю до явного сброса.
//
// POST /api/v1/killswitch/trip
// Body: {"reason": "manual stop"}
func (h *KillSwitchHandler) Trip(w http.ResponseWriter, r *http.Request) {
	if h.ks == nil {
		writeError(w, http.StatusInternalServerError, "kill switch not initialized", "")
		return
	}

	var req tripRequest
	if r.Body != nil {
		// Пустое тело допустимо, причина опциональна
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}

	h.ks.Trip(req.Reason)
	writeJSON(w, http.StatusOK, SuccessResponse{Message: "kill switch engaged"})
}

// Reset возобновляет торговлю.
//
// POST /api/v1/killswitch/reset
func (h *KillSwitchHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if h.ks == nil {
		writeError(w, http.StatusInternalServerError, "kill switch not initialized", "")
		return
	}

	h.ks.Reset()
	writeJSON(w, http.StatusOK, SuccessResponse{Message: "kill switch released"})
}
