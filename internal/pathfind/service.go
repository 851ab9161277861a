package pathfind

import (
	"context"
	"sync"

	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/logging"
	"github.com/annel0/npc-authority/internal/vec"
)

// Request запрос пути. Seq сверяется с Entity.Path.PendingSeq при получении результата.
type Request struct {
	EntityID entity.ID
	Seq      uint64
	From     vec.Vec2Float
	To       vec.Vec2Float
}

// Result результат поиска пути
type Result struct {
	EntityID  entity.ID
	Seq       uint64
	Waypoints []vec.Vec2Float
	OK        bool
}

// Service сервис поиска пути (коллаборатор ядра). Результаты забираются тиком через Drain.
type Service interface {
	// Request ставит запрос; false если запрос отброшен (очередь переполнена)
	Request(req Request) bool
	// Drain добавляет в dst все готовые результаты и очищает буфер
	Drain(dst []Result) []Result
}

// inbox буфер результатов между горутиной поиска и тиком
type inbox struct {
	mu      sync.Mutex
	results []Result
}

func (b *inbox) push(r Result) {
	b.mu.Lock()
	b.results = append(b.results, r)
	b.mu.Unlock()
}

func (b *inbox) drain(dst []Result) []Result {
	b.mu.Lock()
	dst = append(dst, b.results...)
	for i := range b.results {
		b.results[i] = Result{}
	}
	b.results = b.results[:0]
	b.mu.Unlock()
	return dst
}

// Sync синхронный сервис: путь считается прямо в Request, результат доступен в следующем Drain
type Sync struct {
	grid *Grid
	out  inbox
}

// NewSync создаёт синхронный сервис
func NewSync(grid *Grid) *Sync {
	return &Sync{grid: grid}
}

func (s *Sync) Request(req Request) bool {
	wps, ok := s.grid.FindPath(req.From, req.To)
	s.out.push(Result{EntityID: req.EntityID, Seq: req.Seq, Waypoints: wps, OK: ok})
	return true
}

func (s *Sync) Drain(dst []Result) []Result {
	return s.out.drain(dst)
}

// WorkerConfig параметры асинхронного сервиса
type WorkerConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// DefaultWorkerConfig значения по умолчанию
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{Workers: 2, QueueSize: 256}
}

// Worker асинхронный сервис: пул горутин читает запросы из канала
type Worker struct {
	grid     *Grid
	cfg      WorkerConfig
	requests chan Request
	out      inbox
	wg       sync.WaitGroup
	log      *logging.Logger
}

// NewWorker создаёт асинхронный сервис; горутины запускаются в Start
func NewWorker(grid *Grid, cfg WorkerConfig) *Worker {
	def := DefaultWorkerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	return &Worker{
		grid:     grid,
		cfg:      cfg,
		requests: make(chan Request, cfg.QueueSize),
		log:      logging.GetLoggerManager().MustGetLogger("pathfind"),
	}
}

// Start запускает пул до отмены контекста
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go w.loop(ctx)
	}
	w.log.Info("🧭 Поиск пути: запущено %d воркеров", w.cfg.Workers)
}

// Wait ждёт завершения воркеров после отмены контекста
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.requests:
			wps, ok := w.grid.FindPath(req.From, req.To)
			w.out.push(Result{EntityID: req.EntityID, Seq: req.Seq, Waypoints: wps, OK: ok})
		}
	}
}

func (w *Worker) Request(req Request) bool {
	select {
	case w.requests <- req:
		return true
	default:
		w.log.Debug("⚠️ Очередь поиска пути переполнена, запрос %s#%d отброшен", req.EntityID, req.Seq)
		return false
	}
}

func (w *Worker) Drain(dst []Result) []Result {
	return w.out.drain(dst)
}

// Direct сервис без сетки: путь из одной точки: сама цель
type Direct struct {
	out inbox
}

func (d *Direct) Request(req Request) bool {
	d.out.push(Result{EntityID: req.EntityID, Seq: req.Seq, Waypoints: []vec.Vec2Float{req.To}, OK: true})
	return true
}

func (d *Direct) Drain(dst []Result) []Result {
	return d.out.drain(dst)
}
