package game

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopTicksUntilCancel(t *testing.T) {
	var ticks atomic.Uint32
	var lastDT atomic.Uint64

	loop := NewLoop(5*time.Millisecond, func(tick uint32, dt float64) {
		ticks.Store(tick)
		lastDT.Store(uint64(dt * 1e9))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	err := loop.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Номер тика монотонно растет от 1, dt — номинальный интервал
	assert.GreaterOrEqual(t, ticks.Load(), uint32(3))
	assert.Equal(t, uint64(5*time.Millisecond), lastDT.Load())
}

func TestLoopOverrunClampsDeadline(t *testing.T) {
	var slow atomic.Bool
	slow.Store(true)
	var overruns atomic.Uint32

	loop := NewLoop(time.Millisecond, func(tick uint32, dt float64) {
		if slow.Load() && tick <= 3 {
			time.Sleep(10 * time.Millisecond)
		}
		if tick == 3 {
			slow.Store(false)
		}
	})
	loop.SetOverrunHook(func(tick uint32, behind time.Duration) {
		overruns.Add(1)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := loop.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Медленные тики отстают больше чем на два интервала — хук сработал,
	// цикл продолжил работу после сброса дедлайна
	assert.Positive(t, overruns.Load())
}
