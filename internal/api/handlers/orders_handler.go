package handlers

import (
	"context"
	"net/http"
	"strconv"

	"tradebot/internal/models"

	"github.com/gorilla/mux"
)

// defaultHistoryLimit ограничивает выдачу истории ордеров по умолчанию
const defaultHistoryLimit = 100

// OrderJournal - срез репозитория, нужный order endpoints
type OrderJournal interface {
	GetOrderHistory(ctx context.Context, symbol string, limit int) ([]*models.Order, error)
	GetFills(ctx context.Context, orderID string) ([]*models.Fill, error)
}

// OrdersHandler обрабатывает HTTP запросы истории ордеров.
//
// Endpoints:
// - GET /api/v1/orders?symbol=BTCUSDT&limit=50 - история ордеров
// - GET /api/v1/orders/{id}/fills - исполнения ордера
type OrdersHandler struct {
	journal OrderJournal
}

// NewOrdersHandler создает новый OrdersHandler с внедрением зависимостей.
func NewOrdersHandler(journal OrderJournal) *OrdersHandler {
	return &OrdersHandler{journal: journal}
}

// GetOrders возвращает историю ордеров, свежие первыми.
//
// GET /api/v1/orders?symbol=BTCUSDT&limit=50
//
// Параметры:
// - symbol: фильтр по инструменту (опционально, по умолчанию все)
// - limit: максимум записей (опционально, по умолчанию 100)
func (h *OrdersHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusInternalServerError, "order journal not initialized", "")
		return
	}

	symbol := r.URL.Query().Get("symbol")

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit", raw)
			return
		}
		limit = parsed
	}

	orders, err := h.journal.GetOrderHistory(r.Context(), symbol, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get order history", err.Error())
		return
	}
	if orders == nil {
		orders = []*models.Order{}
	}

	writeJSON(w, http.StatusOK, orders)
}

// GetOrderFills возвращает исполнения одного ордера.
//
// GET /api/v1/orders/{id}/fills
func (h *OrdersHandler) GetOrderFills(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusInternalServerError, "order journal not initialized", "")
		return
	}

	orderID := mux.Vars(r)["id"]

	fills, err := h.journal.GetFills(r.Context(), orderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get fills", err.Error())
		return
	}
	if fills == nil {
		fills = []*models.Fill{}
	}

	writeJSON(w, http.StatusOK, fills)
}
