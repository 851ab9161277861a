// Package spawn очередь появления NPC: превращает «постройку в радиусе без живой сущности»
// в заявку на спавн с ограничением частоты и мягким лимитом сущностей на участника.
package spawn

import (
	"context"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/logging"
	"github.com/annel0/npc-authority/internal/registry"
	"github.com/annel0/npc-authority/internal/vec"
)

// Structure постройка-источник NPC
type Structure struct {
	ID       string
	Family   entity.Family
	Position vec.Vec2Float
	Faction  string
	// Owner игрок-владелец постройки (для ополчения)
	Owner     string
	Elevation float64
	CannonID  string
}

// Request данные для создания сущности
type Request struct {
	Family    entity.Family
	Structure Structure
}

// EntityID идентификатор сущности, которую создаст заявка
func (r Request) EntityID() entity.ID {
	return entity.IDFor(r.Family, r.Structure.ID)
}

// Handler исполняет спавн; false если сущность не создана
type Handler func(req Request, now time.Time) bool

// StructureSource постройки семейства в наборе ячеек (коллаборатор)
type StructureSource interface {
	StructuresIn(f entity.Family, cells []vec.Vec2, dst []Structure) []Structure
}

// Cooldowns хранилище перезарядки респавна (коллаборатор)
type Cooldowns interface {
	Active(ctx context.Context, key string) (bool, error)
}

// Env сведения ядра, нужные очереди
type Env interface {
	LocalID() string
	// LocalPosition позиция локального участника; false если неизвестна
	LocalPosition() (vec.Vec2Float, bool)
	// Exists есть ли запись сущности (живой или мёртвой) в реестре
	Exists(id entity.ID) bool
	// OwnedCount сколько живых сущностей симулирует локальный участник
	OwnedCount() int
	// ResolveOwner участник, который должен владеть сущностью с якорем anchor
	ResolveOwner(anchor vec.Vec2Float) (string, bool)
}

// CooldownKey ключ перезарядки постройки
func CooldownKey(f entity.Family, structureID string) string {
	return f.String() + ":" + structureID
}

// Config параметры очереди
type Config struct {
	CellSize   float64 `yaml:"cell_size"`
	SpawnRange float64 `yaml:"spawn_range"`
	// SoftCap мягкий лимит сущностей, которыми владеет один участник
	SoftCap int `yaml:"soft_cap"`
	// RatePerSecond сколько спавнов в секунду допускается всего
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	// CooldownTimeout предел ожидания хранилища перезарядки
	CooldownTimeout time.Duration `yaml:"cooldown_timeout"`
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		CellSize:        64,
		SpawnRange:      120,
		SoftCap:         24,
		RatePerSecond:   4,
		Burst:           4,
		CooldownTimeout: 50 * time.Millisecond,
	}
}

// Stats счётчики одного тика
type Stats struct {
	Evaluated int
	Queued    int
	Executed  int
	Deferred  int
	Raced     int
	Throttled int
}

type queuedItem struct {
	key string
	req Request
}

// Queue очередь спавна. Используется только из тика.
type Queue struct {
	cfg        Config
	env        Env
	structures StructureSource
	cooldowns  Cooldowns
	limiter    *rate.Limiter

	handlers [entity.FamilyCount]Handler
	pending  [entity.FamilyCount][]queuedItem
	queued   map[string]struct{}
	rotation [entity.FamilyCount]int

	cells      []vec.Vec2
	candidates []Structure
	log        *logging.Logger
}

// NewQueue создаёт очередь
func NewQueue(cfg Config, env Env, structures StructureSource, cooldowns Cooldowns) *Queue {
	def := DefaultConfig()
	if cfg.CellSize <= 0 {
		cfg.CellSize = def.CellSize
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = def.RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.CooldownTimeout <= 0 {
		cfg.CooldownTimeout = def.CooldownTimeout
	}
	return &Queue{
		cfg:        cfg,
		env:        env,
		structures: structures,
		cooldowns:  cooldowns,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		queued:     make(map[string]struct{}),
		log:        logging.GetSpawnLogger(),
	}
}

// RegisterHandler назначает исполнителя спавна для семейства
func (q *Queue) RegisterHandler(f entity.Family, h Handler) {
	if f.Valid() {
		q.handlers[f] = h
	}
}

func queueKey(f entity.Family, dedupeKey string) string {
	return f.String() + "/" + dedupeKey
}

// QueueSpawn ставит заявку. false если заявка с таким ключом уже в очереди.
func (q *Queue) QueueSpawn(f entity.Family, req Request, dedupeKey string) bool {
	if !f.Valid() {
		return false
	}
	key := queueKey(f, dedupeKey)
	if _, exists := q.queued[key]; exists {
		return false
	}
	q.queued[key] = struct{}{}
	req.Family = f
	q.pending[f] = append(q.pending[f], queuedItem{key: key, req: req})
	return true
}

// IsQueued стоит ли заявка в очереди
func (q *Queue) IsQueued(f entity.Family, dedupeKey string) bool {
	_, ok := q.queued[queueKey(f, dedupeKey)]
	return ok
}

// Pending общее число заявок в очереди
func (q *Queue) Pending() int {
	return len(q.queued)
}

// Tick для каждого семейства: оценить одного кандидата и исполнить не больше одной заявки
func (q *Queue) Tick(ctx context.Context, now time.Time) Stats {
	var st Stats
	for _, f := range entity.Families() {
		if q.handlers[f] == nil {
			continue
		}
		q.evaluate(ctx, f, &st)
		q.execute(f, now, &st)
	}
	return st
}

func (q *Queue) evaluate(ctx context.Context, f entity.Family, st *Stats) {
	if q.structures == nil {
		return
	}
	local, ok := q.env.LocalPosition()
	if !ok {
		return
	}
	q.cells = registry.Neighborhood(local.CellOf(q.cfg.CellSize), 1, q.cells)
	all := q.structures.StructuresIn(f, q.cells, q.candidates[:0])

	// отбрасываем постройки с записью в реестре и уже стоящие в очереди
	q.candidates = all[:0]
	for _, s := range all {
		if q.env.Exists(entity.IDFor(f, s.ID)) || q.IsQueued(f, s.ID) {
			continue
		}
		q.candidates = append(q.candidates, s)
	}
	if len(q.candidates) == 0 {
		return
	}
	sort.Slice(q.candidates, func(i, j int) bool { return q.candidates[i].ID < q.candidates[j].ID })

	idx := q.rotation[f] % len(q.candidates)
	q.rotation[f]++
	s := q.candidates[idx]
	st.Evaluated++

	if s.Position.DistanceTo(local) > q.cfg.SpawnRange {
		return
	}
	if owner, ok := q.env.ResolveOwner(s.Position); !ok || owner != q.env.LocalID() {
		return
	}
	if q.cfg.SoftCap > 0 && q.env.OwnedCount()+q.Pending() >= q.cfg.SoftCap {
		st.Deferred++
		return
	}
	if q.cooldowns != nil {
		cctx, cancel := context.WithTimeout(ctx, q.cfg.CooldownTimeout)
		active, err := q.cooldowns.Active(cctx, CooldownKey(f, s.ID))
		cancel()
		if err != nil {
			q.log.Debug("⚠️ Перезарядка %s/%s недоступна: %v", f, s.ID, err)
			return
		}
		if active {
			return
		}
	}
	s.Family = f
	if q.QueueSpawn(f, Request{Family: f, Structure: s}, s.ID) {
		st.Queued++
	}
}

func (q *Queue) execute(f entity.Family, now time.Time, st *Stats) {
	if len(q.pending[f]) == 0 {
		return
	}
	if !q.limiter.AllowN(now, 1) {
		st.Throttled++
		return
	}
	item := q.pending[f][0]
	q.pending[f][0] = queuedItem{}
	q.pending[f] = q.pending[f][1:]
	delete(q.queued, item.key)

	// пока заявка ждала, сущность могла прийти от другого участника
	if q.env.Exists(item.req.EntityID()) {
		st.Raced++
		q.log.Debug("🔁 %s уже существует, спавн отменён", item.req.EntityID())
		return
	}
	if q.handlers[f](item.req, now) {
		st.Executed++
	}
}
