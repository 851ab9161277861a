// Package metrics Prometheus-метрики симуляции и сведения о процессе узла.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/npc-authority/internal/logging"
)

const namespace = "npc"

// register регистрирует коллектор; если такой уже есть в реестре, возвращает существующий
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		logging.Warn("⚠️ Метрика не зарегистрирована: %v", err)
	}
	return c
}

// ReplicationTotals накопительные счётчики канала репликации
type ReplicationTotals struct {
	Received       uint64
	DroppedInbound uint64
	Corrupt        uint64
	DroppedOut     uint64
	BatchesSent    uint64
	LastBatchSize  int
}

// SimMetrics метрики тика симуляции. Обновляются только из тика.
type SimMetrics struct {
	tickDuration prometheus.Histogram
	entities     *prometheus.GaugeVec
	owned        *prometheus.GaugeVec
	decisions    *prometheus.CounterVec
	spawn        *prometheus.CounterVec
	stale        *prometheus.CounterVec
	interp       *prometheus.CounterVec
	replication  *prometheus.CounterVec
	batchBytes   prometheus.Gauge
	participants prometheus.Gauge

	prevRepl ReplicationTotals
}

// NewSimMetrics создаёт метрики и регистрирует их в reg (nil: реестр по умолчанию)
func NewSimMetrics(reg prometheus.Registerer) *SimMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &SimMetrics{
		tickDuration: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Длительность тика симуляции.",
			Buckets:   []float64{0.0005, 0.001, 0.002, 0.004, 0.008, 0.016, 0.033, 0.066},
		})),
		entities: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entities",
			Help:      "Сущности в реестре по семейству и состоянию.",
		}, []string{"family", "state"})),
		owned: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entities_by_authority",
			Help:      "Живые сущности: local: симулирует этот узел, remote: другой участник, orphan: без владельца.",
		}, []string{"authority"})),
		decisions: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authority_decisions_total",
			Help:      "Решения журнала владения, кроме follow/simulate.",
		}, []string{"decision"})),
		spawn: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spawn_events_total",
			Help:      "События очереди спавна.",
		}, []string{"event"})),
		stale: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_dropped_total",
			Help:      "Отброшенные устаревшие данные (сообщения, результаты пути).",
		}, []string{"reason"})),
		interp: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interpolation_total",
			Help:      "Исходы шагов интерполяции (move/snap/teleport).",
		}, []string{"outcome"})),
		replication: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replication_messages_total",
			Help:      "Счётчики канала репликации.",
		}, []string{"event"})),
		batchBytes: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "replication_last_batch_bytes",
			Help:      "Размер последнего отправленного пакета.",
		})),
		participants: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants",
			Help:      "Участники в каталоге присутствия.",
		})),
	}
}

// ObserveTick длительность тика
func (m *SimMetrics) ObserveTick(d time.Duration) {
	m.tickDuration.Observe(d.Seconds())
}

// ResetEntities обнуляет счётчики сущностей перед пересчётом
func (m *SimMetrics) ResetEntities() {
	m.entities.Reset()
	m.owned.Reset()
}

// Entity учитывает сущность в пересчёте
func (m *SimMetrics) Entity(family, state, authority string) {
	m.entities.WithLabelValues(family, state).Inc()
	if authority != "" {
		m.owned.WithLabelValues(authority).Inc()
	}
}

// Decision решение журнала владения
func (m *SimMetrics) Decision(name string) {
	m.decisions.WithLabelValues(name).Inc()
}

// Spawn события очереди спавна за тик
func (m *SimMetrics) Spawn(event string, n int) {
	if n > 0 {
		m.spawn.WithLabelValues(event).Add(float64(n))
	}
}

// Stale отброшенные устаревшие данные
func (m *SimMetrics) Stale(reason string) {
	m.stale.WithLabelValues(reason).Inc()
}

// Interp исход шага интерполяции
func (m *SimMetrics) Interp(outcome string) {
	m.interp.WithLabelValues(outcome).Inc()
}

// Participants размер каталога присутствия
func (m *SimMetrics) Participants(n int) {
	m.participants.Set(float64(n))
}

// Replication переносит приращения накопительных счётчиков канала
func (m *SimMetrics) Replication(t ReplicationTotals) {
	add := func(event string, cur, prev uint64) {
		if cur > prev {
			m.replication.WithLabelValues(event).Add(float64(cur - prev))
		}
	}
	add("received", t.Received, m.prevRepl.Received)
	add("dropped_inbound", t.DroppedInbound, m.prevRepl.DroppedInbound)
	add("corrupt", t.Corrupt, m.prevRepl.Corrupt)
	add("dropped_outbound", t.DroppedOut, m.prevRepl.DroppedOut)
	add("batches_sent", t.BatchesSent, m.prevRepl.BatchesSent)
	m.batchBytes.Set(float64(t.LastBatchSize))
	m.prevRepl = t
}
