package game

import (
	"context"
	"time"

	"github.com/sha1d/pixel-sahur/internal/logging"
)

// TickFunc выполняет один тик симуляции
type TickFunc func(tick uint32, dt float64)

// OverrunFunc вызывается, когда цикл отстал от расписания
type OverrunFunc func(tick uint32, behind time.Duration)

// Loop — тиковый цикл с коррекцией дрейфа. Дедлайн следующего тика
// продвигается на номинальный интервал, а не от момента пробуждения,
// поэтому средняя частота тиков не плывет. Если цикл отстал больше чем
// на два интервала, дедлайн зажимается в now+interval: отставание
// списывается, симуляция не ускоряется вдогонку.
type Loop struct {
	interval time.Duration
	fn       TickFunc
	overrun  OverrunFunc
	logger   *logging.Logger
}

// NewLoop создает цикл с заданным интервалом тика
func NewLoop(interval time.Duration, fn TickFunc) *Loop {
	return &Loop{
		interval: interval,
		fn:       fn,
		logger:   logging.GetComponentLogger("game"),
	}
}

// SetOverrunHook устанавливает обработчик отставания. Хук — чистая
// наблюдаемость: он не влияет на расписание тиков.
func (l *Loop) SetOverrunHook(fn OverrunFunc) {
	l.overrun = fn
}

// Run крутит цикл до отмены контекста. Возвращает причину остановки.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("⏱️ Тиковый цикл запущен: %v на тик", l.interval)

	var tick uint32
	next := time.Now().Add(l.interval)
	timer := time.NewTimer(l.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("🛑 Тиковый цикл остановлен на тике %d", tick)
			return ctx.Err()
		case <-timer.C:
		}

		tick++
		l.fn(tick, l.interval.Seconds())

		next = next.Add(l.interval)
		if behind := time.Since(next); behind > 2*l.interval {
			next = time.Now().Add(l.interval)
			l.logger.Warn("⚠️ Тик %d отстал на %v, дедлайн сброшен", tick, behind)
			if l.overrun != nil {
				l.overrun(tick, behind)
			}
		}
		timer.Reset(time.Until(next))
	}
}
