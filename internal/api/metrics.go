package api

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// ServerMetrics снимает системные показатели процесса для REST-эндпоинтов.
type ServerMetrics struct {
	startTime time.Time
}

// NewServerMetrics фиксирует время старта сервера.
func NewServerMetrics() *ServerMetrics {
	return &ServerMetrics{startTime: time.Now()}
}

// Uptime возвращает время работы сервера.
func (sm *ServerMetrics) Uptime() time.Duration {
	return time.Since(sm.startTime)
}

// UptimeHuman форматирует время работы в читаемый вид.
func (sm *ServerMetrics) UptimeHuman() string {
	uptime := sm.Uptime()

	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	default:
		return fmt.Sprintf("%dс", seconds)
	}
}

// MemoryMB возвращает текущее потребление Go-кучи в мегабайтах.
func (sm *ServerMetrics) MemoryMB() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.Alloc) / 1024 / 1024
}

// ProcessCPU возвращает использование CPU процессом в процентах.
func (sm *ServerMetrics) ProcessCPU() (float64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}

	percent, err := proc.CPUPercent()
	if err != nil {
		// Метрика процесса недоступна — отдаем системную
		return sm.SystemCPU()
	}
	return percent, nil
}

// SystemCPU возвращает суммарную загрузку CPU системы в процентах.
func (sm *ServerMetrics) SystemCPU() (float64, error) {
	percents, err := cpu.Percent(200*time.Millisecond, false)
	if err != nil || len(percents) == 0 {
		return 0, err
	}
	return percents[0], nil
}

// MemoryDetails возвращает развернутую статистику памяти и горутин.
func (sm *ServerMetrics) MemoryDetails() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"alloc_mb":       float64(m.Alloc) / 1024 / 1024,
		"total_alloc_mb": float64(m.TotalAlloc) / 1024 / 1024,
		"sys_mb":         float64(m.Sys) / 1024 / 1024,
		"heap_alloc_mb":  float64(m.HeapAlloc) / 1024 / 1024,
		"heap_sys_mb":    float64(m.HeapSys) / 1024 / 1024,
		"num_gc":         m.NumGC,
		"goroutines":     runtime.NumGoroutine(),
	}
}
