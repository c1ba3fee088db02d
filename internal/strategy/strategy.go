package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradebot/internal/models"
)

// Tag - закрытое перечисление торговых стратегий. Диспетчеризация по
// тегу вместо строковых ключей: неизвестный тег ловится на этапе
// конструирования реестра, а не в рантайме посреди цикла.
type Tag int

const (
	TagTrend Tag = iota
	TagMeanReversion
	TagRange
)

// String возвращает строковое представление для логов и метрик
func (t Tag) String() string {
	switch t {
	case TagTrend:
		return "trend"
	case TagMeanReversion:
		return "mean_reversion"
	case TagRange:
		return "range"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

var (
	// ErrUnknownTag - тег не зарегистрирован в реестре
	ErrUnknownTag = errors.New("unknown strategy tag")

	// ErrNotEnoughData - недостаточно свечей для расчёта индикаторов
	ErrNotEnoughData = errors.New("not enough candles for indicator calculation")
)

// Input - вход провайдера сигналов. Провайдер чист относительно
// внешнего состояния: всё необходимое передаётся явно.
type Input struct {
	Symbol    string
	Candles   []models.Candle
	Positions []*models.Position
	Balance   float64
	Available float64
}

// Result - результат одного вызова провайдера
type Result struct {
	Tag       Tag
	Signals   []*models.Order
	Timestamp time.Time
}

// Provider генерирует торговые сигналы для одной стратегии.
// Ошибка провайдера не фатальна: движок трактует её как пустой
// набор сигналов.
type Provider interface {
	Tag() Tag
	Evaluate(ctx context.Context, input *Input) (*Result, error)
}

// ============================================================================
// Реестр провайдеров
// ============================================================================

// Registry - закрытая таблица провайдеров по тегам. Собирается один
// раз при конструировании и дальше только читается.
type Registry struct {
	providers map[Tag]Provider
}

// NewRegistry собирает реестр. Дублирующийся тег - ошибка конфигурации.
func NewRegistry(providers ...Provider) (*Registry, error) {
	reg := &Registry{providers: make(map[Tag]Provider, len(providers))}
	for _, p := range providers {
		if _, exists := reg.providers[p.Tag()]; exists {
			return nil, fmt.Errorf("duplicate provider for tag %s", p.Tag())
		}
		reg.providers[p.Tag()] = p
	}
	return reg, nil
}

// Get возвращает провайдера по тегу
func (r *Registry) Get(tag Tag) (Provider, error) {
	p, ok := r.providers[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTag, tag)
	}
	return p, nil
}

// Tags возвращает зарегистрированные теги
func (r *Registry) Tags() []Tag {
	tags := make([]Tag, 0, len(r.providers))
	for t := range r.providers {
		tags = append(tags, t)
	}
	return tags
}

// candleTime преобразует unix-миллисекунды свечи во время
func candleTime(c models.Candle) time.Time {
	return time.UnixMilli(c.Timestamp).UTC()
}

// closes извлекает цены закрытия из свечей
func closes(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// highsLowsCloses извлекает компоненты для ATR-подобных индикаторов
func highsLowsCloses(candles []models.Candle) (highs, lows, cls []float64) {
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	cls = make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		cls[i] = c.Close
	}
	return highs, lows, cls
}
