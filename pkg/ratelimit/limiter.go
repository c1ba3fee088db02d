package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter - Token Bucket limiter для контроля частоты запросов к коннектору.
//
// Алгоритм:
// - Ведро наполняется токенами с постоянной скоростью (rate токенов/сек)
// - Максимальная ёмкость = burst (позволяет короткие всплески)
// - Каждый запрос потребляет 1 токен; без токенов запрос ждёт или отклоняется
//
// Burst важен для экстренного режима: сокращение N позиций отправляет
// N ордеров одной пачкой.
type RateLimiter struct {
	rate       float64   // токенов в секунду
	burst      float64   // максимальная ёмкость
	tokens     float64   // текущее количество токенов
	lastRefill time.Time // время последнего пополнения
	mu         sync.Mutex
}

// NewRateLimiter создаёт limiter: rate запросов/сек с ёмкостью burst
func NewRateLimiter(rate, burst float64) *RateLimiter {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = rate * 2
	}
	if burst < rate {
		burst = rate
	}

	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     burst,
		lastRefill: time.Now(),
	}
}

// refill пополняет токены; вызывается под lock'ом
func (rl *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()

	rl.tokens += elapsed * rl.rate
	if rl.tokens > rl.burst {
		rl.tokens = rl.burst
	}

	rl.lastRefill = now
}

// Wait блокирует до получения токена или отмены контекста
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		rl.refill()

		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}

		waitTime := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		select {
		case <-time.After(waitTime):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Allow проверяет доступность токена без блокировки
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill()

	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}

	return false
}

// Tokens возвращает текущее количество токенов (для мониторинга)
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

// ============================================================
// ConcurrencyLimiter - ограничение параллельных операций
// ============================================================

// ConcurrencyLimiter ограничивает число одновременных операций.
//
// Используется при инициализации портфеля: префетч свечей для N
// символов идёт параллельно, но не более cap воркеров одновременно,
// чтобы не перегружать коннектор.
type ConcurrencyLimiter struct {
	sem chan struct{}
}

// NewConcurrencyLimiter создаёт limiter с заданной ёмкостью
func NewConcurrencyLimiter(capacity int) *ConcurrencyLimiter {
	if capacity < 1 {
		capacity = 1
	}
	return &ConcurrencyLimiter{sem: make(chan struct{}, capacity)}
}

// Acquire занимает слот; блокирует до освобождения или отмены контекста
func (cl *ConcurrencyLimiter) Acquire(ctx context.Context) error {
	select {
	case cl.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release освобождает слот
func (cl *ConcurrencyLimiter) Release() {
	select {
	case <-cl.sem:
	default:
		// Release без Acquire - программная ошибка, не паникуем
	}
}

// Go запускает fn в горутине под лимитом; wg учитывает завершение
func (cl *ConcurrencyLimiter) Go(ctx context.Context, wg *sync.WaitGroup, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		if err := cl.Acquire(ctx); err != nil {
			return
		}
		defer cl.Release()

		fn()
	}()
}

// Cap возвращает ёмкость для min(symbolCount, 8) - стандартный лимит
// параллельных запросов к коннектору при инициализации
func Cap(symbolCount int) int {
	if symbolCount < 1 {
		return 1
	}
	if symbolCount > 8 {
		return 8
	}
	return symbolCount
}
