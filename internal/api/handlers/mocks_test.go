package handlers

import (
	"context"
	"errors"
	"sync"

	"tradebot/internal/engine"
	"tradebot/internal/models"
	"tradebot/internal/portfolio"
)

// ErrMockDatabase - общая ошибка для имитации сбоя хранилища
var ErrMockDatabase = errors.New("mock database error")

// ============ Mock Portfolio Service ============

// MockPortfolioService мок для PortfolioService
type MockPortfolioService struct {
	statuses map[string]*engine.Status
	order    []string
	weights  map[string]float64
	equity   float64
	history  []portfolio.EquityPoint
	mu       sync.RWMutex
}

// NewMockPortfolioService создает новый мок координатора
func NewMockPortfolioService() *MockPortfolioService {
	return &MockPortfolioService{
		statuses: make(map[string]*engine.Status),
		weights:  make(map[string]float64),
	}
}

func (m *MockPortfolioService) SetStatus(status *engine.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.statuses[status.Symbol]; !ok {
		m.order = append(m.order, status.Symbol)
	}
	m.statuses[status.Symbol] = status
}

func (m *MockPortfolioService) SetEquity(equity float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = equity
}

func (m *MockPortfolioService) SetWeights(weights map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weights = weights
}

func (m *MockPortfolioService) SetEquityHistory(history []portfolio.EquityPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = history
}

func (m *MockPortfolioService) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

func (m *MockPortfolioService) GetStatus() []*engine.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*engine.Status, 0, len(m.order))
	for _, symbol := range m.order {
		out = append(out, m.statuses[symbol])
	}
	return out
}

func (m *MockPortfolioService) GetInstrumentStatus(symbol string) *engine.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statuses[symbol]
}

func (m *MockPortfolioService) Weights() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.weights
}

func (m *MockPortfolioService) PortfolioEquity() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.equity
}

func (m *MockPortfolioService) EquityHistory() []portfolio.EquityPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]portfolio.EquityPoint(nil), m.history...)
}

// ============ Mock Risk Service ============

// MockRiskService мок для RiskService
type MockRiskService struct {
	snapshot *models.RiskSnapshot
}

func (m *MockRiskService) GetPortfolioRiskAnalysis() *models.RiskSnapshot {
	return m.snapshot
}

// ============ Mock Order Journal ============

// MockOrderJournal мок для OrderJournal
type MockOrderJournal struct {
	orders     []*models.Order
	fills      map[string][]*models.Fill
	historyErr error
	fillsErr   error
}

// NewMockOrderJournal создает новый мок журнала ордеров
func NewMockOrderJournal() *MockOrderJournal {
	return &MockOrderJournal{
		fills: make(map[string][]*models.Fill),
	}
}

func (m *MockOrderJournal) GetOrderHistory(ctx context.Context, symbol string, limit int) ([]*models.Order, error) {
	if m.historyErr != nil {
		return nil, m.historyErr
	}

	out := make([]*models.Order, 0, len(m.orders))
	for _, order := range m.orders {
		if symbol != "" && order.Symbol != symbol {
			continue
		}
		out = append(out, order)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MockOrderJournal) GetFills(ctx context.Context, orderID string) ([]*models.Fill, error) {
	if m.fillsErr != nil {
		return nil, m.fillsErr
	}
	return m.fills[orderID], nil
}

// ============ Mock Kill Switch ============

// MockKillSwitch мок для KillSwitchService
type MockKillSwitch struct {
	engaged    bool
	lastReason string
}

func (m *MockKillSwitch) Engaged() bool { return m.engaged }

func (m *MockKillSwitch) Trip(reason string) {
	m.engaged = true
	m.lastReason = reason
}

func (m *MockKillSwitch) Reset() { m.engaged = false }
