package authority

import (
	"time"

	"github.com/annel0/npc-authority/internal/registry"
	"github.com/annel0/npc-authority/internal/vec"
)

// Presence источник сведений об участниках сессии (коллаборатор).
// Порог «активности» по heartbeat определяется реализацией, не ядром.
type Presence interface {
	// ParticipantsIn добавляет в dst участников, находящихся в ячейках cells.
	// ok=false означает, что список участников сейчас недоступен.
	ParticipantsIn(cells []vec.Vec2, dst []string) (ids []string, ok bool)
	// IsActive участник недавно присылал heartbeat/позицию
	IsActive(participantID string) bool
}

// Config параметры определения владельца
type Config struct {
	// CellSize размер ячейки пространственной сетки (мировые единицы)
	CellSize float64 `yaml:"cell_size"`
	// WidenRadius радиус (в ячейках) расширенного поиска при недоступном списке соседей
	WidenRadius int `yaml:"widen_radius"`
	// OrphanTimeout сколько сущность может оставаться без кандидата до уничтожения
	OrphanTimeout time.Duration `yaml:"orphan_timeout"`
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		CellSize:      64,
		WidenRadius:   2,
		OrphanTimeout: 30 * time.Second,
	}
}

// LowestActive выбирает участника с лексикографически наименьшим идентификатором
// среди активных. Сравнение побайтовое (обычное сравнение строк Go), поэтому
// результат не зависит от порядка входа и одинаков на всех пирах.
func LowestActive(candidates []string, active func(string) bool) (string, bool) {
	best := ""
	found := false
	for _, id := range candidates {
		if id == "" || (active != nil && !active(id)) {
			continue
		}
		if !found || id < best {
			best = id
			found = true
		}
	}
	return best, found
}

// Resolver вычисляет, кто из участников должен владеть сущностью с якорем в точке.
// Не хранит состояния сущностей; буферы переиспользуются между вызовами.
type Resolver struct {
	cfg      Config
	presence Presence
	cells    []vec.Vec2
	ids      []string
}

// NewResolver создаёт резолвер
func NewResolver(cfg Config, presence Presence) *Resolver {
	if cfg.CellSize <= 0 {
		cfg.CellSize = DefaultConfig().CellSize
	}
	if cfg.WidenRadius < 1 {
		cfg.WidenRadius = DefaultConfig().WidenRadius
	}
	return &Resolver{
		cfg:      cfg,
		presence: presence,
		cells:    make([]vec.Vec2, 0, 25),
		ids:      make([]string, 0, 16),
	}
}

// CellOf ячейка сетки, содержащая точку
func (r *Resolver) CellOf(p vec.Vec2Float) vec.Vec2 {
	return p.CellOf(r.cfg.CellSize)
}

// Resolve возвращает участника-владельца для якоря или ok=false (сущность «осиротела»).
// Кандидаты: активные участники в 3×3 ячейках вокруг якоря. Если список соседей
// недоступен, используется ячейка якоря, затем расширенная область.
func (r *Resolver) Resolve(anchor vec.Vec2Float) (string, bool) {
	if r.presence == nil {
		return "", false
	}
	center := r.CellOf(anchor)

	r.cells = registry.Neighborhood(center, 1, r.cells)
	ids, ok := r.presence.ParticipantsIn(r.cells, r.ids[:0])
	r.ids = ids
	if ok {
		return LowestActive(ids, r.presence.IsActive)
	}

	r.cells = append(r.cells[:0], center)
	ids, ok = r.presence.ParticipantsIn(r.cells, r.ids[:0])
	r.ids = ids
	if ok {
		if best, found := LowestActive(ids, r.presence.IsActive); found {
			return best, true
		}
	}

	r.cells = registry.Neighborhood(center, r.cfg.WidenRadius, r.cells)
	ids, ok = r.presence.ParticipantsIn(r.cells, r.ids[:0])
	r.ids = ids
	if !ok {
		return "", false
	}
	return LowestActive(ids, r.presence.IsActive)
}
