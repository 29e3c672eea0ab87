package worker

import (
	"context"
	"time"

	"support_chat/internal/metrics"
	"support_chat/pkg/logger"
)

// Sweeper - то, что умеет переводить в offline агентов без heartbeat
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// PresenceSweeper - единственный на процесс таймер очистки присутствия.
// Запускается в main и останавливается отменой контекста.
type PresenceSweeper struct {
	sweeper  Sweeper
	interval time.Duration
	log      logger.Logger
}

func NewPresenceSweeper(sweeper Sweeper, interval time.Duration, log logger.Logger) *PresenceSweeper {
	return &PresenceSweeper{
		sweeper:  sweeper,
		interval: interval,
		log:      log,
	}
}

// Run крутит цикл до отмены ctx. Ошибка одного прохода не останавливает следующие.
func (w *PresenceSweeper) Run(ctx context.Context) error {
	w.log.Info("Starting presence sweeper", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Presence sweeper stopped")
			return nil
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *PresenceSweeper) tick(ctx context.Context) {
	demoted, err := w.sweeper.Sweep(ctx)
	if err != nil {
		metrics.PresenceSweepErrors.Inc()
		w.log.Error("Presence sweep cycle failed", "error", err)
		return
	}
	if demoted > 0 {
		w.log.Info("Presence sweep demoted agents", "count", demoted)
	}
}
