package metrics

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessInfo последний замер процесса узла
type ProcessInfo struct {
	Uptime     string  `json:"uptime"`
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb"`
	Goroutines int     `json:"goroutines"`
}

// ProcessSampler периодически снимает загрузку CPU и память процесса.
// Тик симуляции ограничен по времени, поэтому загрузка узла видна рядом с его длительностью.
type ProcessSampler struct {
	StartTime time.Time

	proc     *process.Process
	interval time.Duration

	mu   sync.RWMutex
	last ProcessInfo

	cpuGauge prometheus.Gauge
	memGauge prometheus.Gauge

	quit chan struct{}
	done chan struct{}
}

// NewProcessSampler создаёт сэмплер для текущего процесса
func NewProcessSampler(reg prometheus.Registerer, interval time.Duration) (*ProcessSampler, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("process handle: %w", err)
	}
	return &ProcessSampler{
		StartTime: time.Now(),
		proc:      proc,
		interval:  interval,
		cpuGauge: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_cpu_percent",
			Help:      "Загрузка CPU процессом узла, %.",
		})),
		memGauge: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_heap_mb",
			Help:      "Выделенная память кучи, MB.",
		})),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}, nil
}

// Start запускает периодический замер. Метод неблокирующий.
func (s *ProcessSampler) Start() {
	s.Sample()
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		defer close(s.done)
		for {
			select {
			case <-ticker.C:
				s.Sample()
			case <-s.quit:
				return
			}
		}
	}()
}

// Stop останавливает замеры
func (s *ProcessSampler) Stop() {
	close(s.quit)
	<-s.done
}

// Sample делает замер немедленно
func (s *ProcessSampler) Sample() ProcessInfo {
	info := ProcessInfo{
		Uptime:     s.Uptime(),
		MemoryMB:   memoryMB(),
		Goroutines: runtime.NumGoroutine(),
	}
	if pct, err := s.cpuPercent(); err == nil {
		info.CPUPercent = pct
	}
	s.cpuGauge.Set(info.CPUPercent)
	s.memGauge.Set(info.MemoryMB)

	s.mu.Lock()
	s.last = info
	s.mu.Unlock()
	return info
}

// Last последний замер
func (s *ProcessSampler) Last() ProcessInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := s.last
	info.Uptime = s.Uptime()
	return info
}

// Uptime время работы узла
func (s *ProcessSampler) Uptime() string {
	return FormatUptime(time.Since(s.StartTime))
}

// FormatUptime форматирует длительность как «1д 2ч 3м 4с»
func FormatUptime(uptime time.Duration) string {
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

func (s *ProcessSampler) cpuPercent() (float64, error) {
	pct, err := s.proc.CPUPercent()
	if err == nil {
		return pct, nil
	}
	// Если не удалось получить метрику процесса, берём системную
	pcts, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(pcts) == 0 {
		return 0, err
	}
	return pcts[0], nil
}

func memoryMB() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.Alloc) / 1024 / 1024
}
