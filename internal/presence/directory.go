// Package presence каталог участников сессии: heartbeat, активность, ячейки сетки
// и сведения об игроках, нужные ядру (позиция, жив ли, защита после появления, фракция).
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/annel0/npc-authority/internal/logging"
	"github.com/annel0/npc-authority/internal/vec"
)

// Config параметры каталога
type Config struct {
	CellSize float64 `yaml:"cell_size"`
	// StaleAfter участник без heartbeat дольше этого считается неактивным
	StaleAfter time.Duration `yaml:"stale_after"`
	// ForgetAfter участник без heartbeat дольше этого удаляется из каталога
	ForgetAfter time.Duration `yaml:"forget_after"`
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		CellSize:    64,
		StaleAfter:  5 * time.Second,
		ForgetAfter: 60 * time.Second,
	}
}

// Heartbeat сведения участника о себе
type Heartbeat struct {
	ParticipantID  string
	Position       vec.Vec2Float
	Height         float64
	Faction        string
	Dead           bool
	SpawnProtected bool
}

// Participant запись каталога
type Participant struct {
	Heartbeat
	Cell     vec.Vec2
	LastSeen time.Time
}

// Directory каталог участников. Потокобезопасен: heartbeat приходят из транспорта,
// чтения идут из тика и API.
type Directory struct {
	mu      sync.RWMutex
	cfg     Config
	localID string
	now     time.Time
	ready   bool

	participants map[string]*Participant
	cells        map[vec.Vec2][]string
	log          *logging.Logger
}

// NewDirectory создаёт каталог для локального участника localID
func NewDirectory(cfg Config, localID string) *Directory {
	def := DefaultConfig()
	if cfg.CellSize <= 0 {
		cfg.CellSize = def.CellSize
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.ForgetAfter < cfg.StaleAfter {
		cfg.ForgetAfter = cfg.StaleAfter * 12
	}
	return &Directory{
		cfg:          cfg,
		localID:      localID,
		participants: make(map[string]*Participant),
		cells:        make(map[vec.Vec2][]string),
		log:          logging.GetComponentLogger("presence"),
	}
}

// LocalID идентификатор локального участника
func (d *Directory) LocalID() string {
	return d.localID
}

// UpdateLocal обновляет сведения о локальном игроке
func (d *Directory) UpdateLocal(hb Heartbeat, now time.Time) {
	hb.ParticipantID = d.localID
	d.Heartbeat(hb, now)
}

// Heartbeat принимает heartbeat участника
func (d *Directory) Heartbeat(hb Heartbeat, now time.Time) {
	if hb.ParticipantID == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	cell := hb.Position.CellOf(d.cfg.CellSize)
	p, ok := d.participants[hb.ParticipantID]
	if !ok {
		p = &Participant{}
		d.participants[hb.ParticipantID] = p
		d.addToCell(hb.ParticipantID, cell)
		d.log.Info("👋 Участник %s появился в ячейке %v", hb.ParticipantID, cell)
	} else if p.Cell != cell {
		d.removeFromCell(hb.ParticipantID, p.Cell)
		d.addToCell(hb.ParticipantID, cell)
	}
	p.Heartbeat = hb
	p.Cell = cell
	if now.After(p.LastSeen) {
		p.LastSeen = now
	}
	if hb.ParticipantID == d.localID {
		d.ready = true
	}
	if now.After(d.now) {
		d.now = now
	}
}

// Remove удаляет участника (отключился)
func (d *Directory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeLocked(id)
}

func (d *Directory) removeLocked(id string) {
	p, ok := d.participants[id]
	if !ok {
		return
	}
	d.removeFromCell(id, p.Cell)
	delete(d.participants, id)
	if id == d.localID {
		d.ready = false
	}
}

func (d *Directory) addToCell(id string, cell vec.Vec2) {
	d.cells[cell] = append(d.cells[cell], id)
}

func (d *Directory) removeFromCell(id string, cell vec.Vec2) {
	ids := d.cells[cell]
	for i, v := range ids {
		if v == id {
			ids[i] = ids[len(ids)-1]
			ids = ids[:len(ids)-1]
			break
		}
	}
	if len(ids) == 0 {
		delete(d.cells, cell)
	} else {
		d.cells[cell] = ids
	}
}

// Tick фиксирует текущее время каталога и забывает давно молчащих участников.
// Возвращает число удалённых.
func (d *Directory) Tick(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
	removed := 0
	for id, p := range d.participants {
		if id == d.localID {
			continue
		}
		if now.Sub(p.LastSeen) > d.cfg.ForgetAfter {
			d.removeLocked(id)
			removed++
			d.log.Info("👻 Участник %s забыт (нет heartbeat с %s)", id, p.LastSeen.Format(time.RFC3339))
		}
	}
	return removed
}

// IsActive участник недавно присылал heartbeat. Локальный участник активен всегда.
func (d *Directory) IsActive(id string) bool {
	if id == d.localID {
		return true
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.participants[id]
	if !ok {
		return false
	}
	return d.now.Sub(p.LastSeen) <= d.cfg.StaleAfter
}

// ParticipantsIn добавляет в dst участников в ячейках cells.
// Пока неизвестна позиция локального участника, список недоступен (ok=false).
func (d *Directory) ParticipantsIn(cells []vec.Vec2, dst []string) ([]string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.ready {
		return dst, false
	}
	for _, c := range cells {
		dst = append(dst, d.cells[c]...)
	}
	return dst, true
}

// LocalPosition позиция локального игрока
func (d *Directory) LocalPosition() (vec.Vec2Float, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.participants[d.localID]
	if !ok {
		return vec.Vec2Float{}, false
	}
	return p.Position, true
}

// Lookup запись участника (копия)
func (d *Directory) Lookup(id string) (Participant, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.participants[id]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// FactionOf фракция игрока; пусто если неизвестна
func (d *Directory) FactionOf(id string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p, ok := d.participants[id]; ok {
		return p.Faction
	}
	return ""
}

// Targetable возвращает активных живых игроков без защиты после появления,
// отсортированных по ID.
func (d *Directory) Targetable(dst []Participant) []Participant {
	d.mu.RLock()
	for id, p := range d.participants {
		if p.Dead || p.SpawnProtected {
			continue
		}
		if id != d.localID && d.now.Sub(p.LastSeen) > d.cfg.StaleAfter {
			continue
		}
		dst = append(dst, *p)
	}
	d.mu.RUnlock()
	sort.Slice(dst, func(i, j int) bool { return dst[i].ParticipantID < dst[j].ParticipantID })
	return dst
}

// Len число участников в каталоге
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.participants)
}
