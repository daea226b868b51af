// Package metrics — Prometheus-метрики симуляции и репликации.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SimMetrics содержит метрики игрового цикла и репликации.
// Экспонируются через /metrics REST-сервера.
type SimMetrics struct {
	TickDuration   prometheus.Histogram
	TickOverruns   prometheus.Counter
	Entities       prometheus.Gauge
	Clients        prometheus.Gauge
	SnapshotBytes  prometheus.Histogram
	SnapshotsFull  prometheus.Counter
	SnapshotsDelta prometheus.Counter
	InputsApplied  prometheus.Counter
	Malformed      prometheus.Counter
	CollisionPairs prometheus.Counter
}

// NewSimMetrics создаёт метрики и регистрирует их. reg == nil означает
// дефолтный регистр; тесты передают свой prometheus.NewRegistry().
func NewSimMetrics(reg prometheus.Registerer) *SimMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &SimMetrics{
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sim",
			Name:      "tick_duration_seconds",
			Help:      "Длительность обсчета одного тика.",
			Buckets:   []float64{0.0005, 0.001, 0.002, 0.004, 0.008, 0.016, 0.033, 0.066, 0.1},
		}),
		TickOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sim",
			Name:      "tick_overruns_total",
			Help:      "Тиков, обсчитанных дольше своего бюджета.",
		}),
		Entities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sim",
			Name:      "entities",
			Help:      "Живых сущностей в мире.",
		}),
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sim",
			Name:      "clients",
			Help:      "Подключенных клиентов.",
		}),
		SnapshotBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sim",
			Name:      "snapshot_bytes",
			Help:      "Размер закодированного снимка до сжатия.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}),
		SnapshotsFull: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sim",
			Name:      "snapshots_full_total",
			Help:      "Отправленных полных снимков.",
		}),
		SnapshotsDelta: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sim",
			Name:      "snapshots_delta_total",
			Help:      "Отправленных дельта-снимков.",
		}),
		InputsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sim",
			Name:      "inputs_applied_total",
			Help:      "Команд ввода, примененных к сущностям.",
		}),
		Malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sim",
			Name:      "malformed_packets_total",
			Help:      "Дефектных пакетов от клиентов.",
		}),
		CollisionPairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sim",
			Name:      "collision_pairs_total",
			Help:      "Пар узкой фазы, обработанных движком коллизий.",
		}),
	}

	reg.MustRegister(
		m.TickDuration, m.TickOverruns, m.Entities, m.Clients,
		m.SnapshotBytes, m.SnapshotsFull, m.SnapshotsDelta,
		m.InputsApplied, m.Malformed, m.CollisionPairs,
	)
	return m
}
