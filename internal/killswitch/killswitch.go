package killswitch

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tradebot/pkg/clock"
)

// Switch - внешний аварийный стоп. Срабатывает от наличия
// control-файла либо программно через Trip. Координатор опрашивает
// Engaged в начале каждого цикла, Watch дополнительно пишет в лог
// моменты переключения.
type Switch struct {
	path    string
	clk     clock.Clock
	log     *zap.Logger
	tripped atomic.Bool
}

// New создаёт kill switch на заданном control-файле
func New(path string, clk clock.Clock, log *zap.Logger) *Switch {
	return &Switch{path: path, clk: clk, log: log}
}

// Engaged сообщает, остановлена ли торговля
func (s *Switch) Engaged() bool {
	if s.tripped.Load() {
		return true
	}
	return s.fileExists()
}

// Trip программно останавливает торговлю
func (s *Switch) Trip(reason string) {
	if s.tripped.CompareAndSwap(false, true) {
		s.log.Warn("kill switch tripped", zap.String("reason", reason))
	}
}

// Reset снимает программный стоп. Файловый стоп снимается удалением
// control-файла.
func (s *Switch) Reset() {
	if s.tripped.CompareAndSwap(true, false) {
		s.log.Warn("kill switch reset")
	}
}

func (s *Switch) fileExists() bool {
	if s.path == "" {
		return false
	}
	_, err := os.Stat(s.path)
	return err == nil
}

// Watch периодически опрашивает control-файл и логирует смену
// состояния. Блокирует до отмены контекста.
func (s *Switch) Watch(ctx context.Context, interval time.Duration) {
	ticker := s.clk.NewTicker(interval)
	defer ticker.Stop()

	last := s.Engaged()
	s.log.Info("kill switch watcher started",
		zap.String("file", s.path),
		zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			engaged := s.Engaged()
			if engaged != last {
				if engaged {
					s.log.Warn("kill switch engaged", zap.String("file", s.path))
				} else {
					s.log.Warn("kill switch released", zap.String("file", s.path))
				}
				last = engaged
			}
		}
	}
}
