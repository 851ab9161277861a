package eventbus

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/npc-authority/internal/logging"
)

// MetricsExporter периодически переносит Stats шины в Prometheus-метрики.
// HTTP-эндпоинт /metrics обслуживает API узла.
type MetricsExporter struct {
	bus      EventBus
	interval time.Duration
	quit     chan struct{}
	done     chan struct{}
	// Prometheus metrics
	published prometheus.Counter
	consumed  prometheus.Counter
	dropped   prometheus.Counter
	inflight  prometheus.Gauge
}

// NewMetricsExporter создаёт экспортер и регистрирует метрики в reg.
// Повторная регистрация (второй экспортер в процессе) переиспользует уже зарегистрированные метрики.
func NewMetricsExporter(bus EventBus, reg prometheus.Registerer) *MetricsExporter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	me := &MetricsExporter{
		bus:      bus,
		interval: time.Second,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	me.published = registerCounter(reg, prometheus.CounterOpts{
		Namespace: "eventbus",
		Name:      "messages_published_total",
		Help:      "Общее число опубликованных сообщений.",
	})
	me.consumed = registerCounter(reg, prometheus.CounterOpts{
		Namespace: "eventbus",
		Name:      "messages_consumed_total",
		Help:      "Общее число доставленных сообщений подписчикам.",
	})
	me.dropped = registerCounter(reg, prometheus.CounterOpts{
		Namespace: "eventbus",
		Name:      "messages_dropped_total",
		Help:      "Сообщений, отброшенных из-за ошибок или ограничения back-pressure.",
	})
	inflight := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "eventbus",
		Name:      "messages_inflight",
		Help:      "Количество сообщений, находящихся в очереди (не доставленных).",
	})
	if err := reg.Register(inflight); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			inflight = are.ExistingCollector.(prometheus.Gauge)
		} else {
			logging.Warn("⚠️ Метрика eventbus_messages_inflight не зарегистрирована: %v", err)
		}
	}
	me.inflight = inflight
	return me
}

func registerCounter(reg prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	c := prometheus.NewCounter(opts)
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(prometheus.Counter)
		}
		logging.Warn("⚠️ Метрика %s_%s не зарегистрирована: %v", opts.Namespace, opts.Name, err)
	}
	return c
}

// Start запускает обновление метрик. Метод неблокирующий.
func (m *MetricsExporter) Start() {
	go m.loop()
}

// Stop останавливает обновление метрик.
func (m *MetricsExporter) Stop() {
	close(m.quit)
	<-m.done
}

func (m *MetricsExporter) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer close(m.done)

	// Для коррекции Counter нужно хранить прошлое значение и прибавлять дельту.
	var prev Stats

	for {
		select {
		case <-ticker.C:
			prev = m.collect(prev)
		case <-m.quit:
			return
		}
	}
}

// collect переносит приращения с прошлого замера
func (m *MetricsExporter) collect(prev Stats) Stats {
	stats := m.bus.Metrics()

	if stats.Published > prev.Published {
		m.published.Add(float64(stats.Published - prev.Published))
	}
	if stats.Consumed > prev.Consumed {
		m.consumed.Add(float64(stats.Consumed - prev.Consumed))
	}
	if stats.Dropped > prev.Dropped {
		m.dropped.Add(float64(stats.Dropped - prev.Dropped))
	}
	m.inflight.Set(float64(stats.InFlight))
	return stats
}
