package clock

import (
	"sync"
	"time"
)

// Clock - абстракция времени для таймер-зависимой логики.
//
// Все периодические задачи ядра (reconciliation поллер реестра,
// decision cycle координатора, kill-switch поллинг) получают Clock
// при конструировании. В production это системное время, в тестах -
// Fake с ручным продвижением виртуального времени. Убирает sleep'ы
// и флаки из тестов таймеров.
type Clock interface {
	// Now возвращает текущее время
	Now() time.Time

	// NewTicker создаёт тикер с заданным периодом
	NewTicker(d time.Duration) Ticker
}

// Ticker - абстракция time.Ticker
type Ticker interface {
	// C возвращает канал тиков
	C() <-chan time.Time

	// Stop останавливает тикер
	Stop()
}

// ============ Системная реализация ============

// System возвращает Clock на основе системного времени
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct {
	t *time.Ticker
}

func (st *systemTicker) C() <-chan time.Time { return st.t.C }
func (st *systemTicker) Stop()               { st.t.Stop() }

// ============ Fake для тестов ============

// Fake - виртуальные часы с ручным продвижением времени.
//
// Advance двигает время вперёд и синхронно доставляет тики всем
// тикерам, чей период истёк. Тики доставляются неблокирующе
// (как у time.Ticker с буфером 1): пропущенные тики схлопываются.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

// NewFake создаёт Fake с заданным стартовым временем
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now возвращает текущее виртуальное время
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// NewTicker создаёт виртуальный тикер
func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := &fakeTicker{
		ch:     make(chan time.Time, 1),
		period: d,
		next:   f.now.Add(d),
	}
	f.tickers = append(f.tickers, t)
	return t
}

// Advance продвигает виртуальное время на d и доставляет тики
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := f.now.Add(d)
	for _, t := range f.tickers {
		if t.stopped {
			continue
		}
		for !t.next.After(target) {
			select {
			case t.ch <- t.next:
			default:
				// буфер полон: схлопываем тик, как time.Ticker
			}
			t.next = t.next.Add(t.period)
		}
	}
	f.now = target
}

type fakeTicker struct {
	ch      chan time.Time
	period  time.Duration
	next    time.Time
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped = true }
