package registry

import (
	"sort"

	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/vec"
)

// Table таблица живых (или недавно погибших) сущностей одного семейства.
// Элементы лежат в срезе, индекс по ID указывает на позицию; удаление: swap-remove.
type Table struct {
	family entity.Family
	byID   map[entity.ID]int
	items  []*entity.Entity
}

func newTable(f entity.Family) *Table {
	return &Table{
		family: f,
		byID:   make(map[entity.ID]int),
	}
}

// Family семейство таблицы
func (t *Table) Family() entity.Family { return t.family }

// Len количество записей
func (t *Table) Len() int { return len(t.items) }

// Items записи таблицы. Нельзя удалять элементы во время обхода этого среза.
func (t *Table) Items() []*entity.Entity { return t.items }

// Registry реестр сущностей по семействам. Владеет жизненным циклом записей,
// но не решает вопросы владения.
type Registry struct {
	tables [entity.FamilyCount]*Table
	index  *ChunkIndex
}

// New создаёт реестр с пространственным индексом ячеек размера cellSize
func New(cellSize float64) *Registry {
	r := &Registry{index: NewChunkIndex(cellSize)}
	for _, f := range entity.Families() {
		r.tables[f] = newTable(f)
	}
	return r
}

// Index пространственный индекс домашних точек
func (r *Registry) Index() *ChunkIndex {
	return r.index
}

// Table таблица семейства
func (r *Registry) Table(f entity.Family) *Table {
	if !f.Valid() {
		return nil
	}
	return r.tables[f]
}

// Add регистрирует сущность. Возвращает false, если запись с таким ID уже есть.
func (r *Registry) Add(e *entity.Entity) bool {
	t := r.Table(e.Family)
	if t == nil {
		return false
	}
	if _, exists := r.Get(e.ID); exists {
		return false
	}
	t.byID[e.ID] = len(t.items)
	t.items = append(t.items, e)
	r.index.Insert(e.ID, e.Home)
	return true
}

// Get ищет сущность по ID во всех семействах
func (r *Registry) Get(id entity.ID) (*entity.Entity, bool) {
	for _, t := range r.tables {
		if idx, ok := t.byID[id]; ok {
			return t.items[idx], true
		}
	}
	return nil, false
}

// Has есть ли запись с таким ID
func (r *Registry) Has(id entity.ID) bool {
	_, ok := r.Get(id)
	return ok
}

// Remove удаляет запись. Возвращает удалённую сущность.
func (r *Registry) Remove(id entity.ID) (*entity.Entity, bool) {
	for _, t := range r.tables {
		idx, ok := t.byID[id]
		if !ok {
			continue
		}
		e := t.items[idx]
		last := len(t.items) - 1
		if idx != last {
			moved := t.items[last]
			t.items[idx] = moved
			t.byID[moved.ID] = idx
		}
		t.items[last] = nil
		t.items = t.items[:last]
		delete(t.byID, id)
		r.index.Remove(id)
		return e, true
	}
	return nil, false
}

// Len общее количество записей
func (r *Registry) Len() int {
	n := 0
	for _, t := range r.tables {
		n += t.Len()
	}
	return n
}

// Each обходит все записи по семействам. fn возвращает false для остановки.
// Удалять записи внутри fn нельзя: собирайте ID и удаляйте после обхода.
func (r *Registry) Each(fn func(e *entity.Entity) bool) {
	for _, t := range r.tables {
		for _, e := range t.items {
			if !fn(e) {
				return
			}
		}
	}
}

// CountOwnedBy количество живых сущностей, которые симулирует участник
func (r *Registry) CountOwnedBy(owner string) int {
	n := 0
	r.Each(func(e *entity.Entity) bool {
		if !e.IsDead() && e.OwnedBy(owner) {
			n++
		}
		return true
	})
	return n
}

// CountsByOwner количество живых сущностей по владельцам
func (r *Registry) CountsByOwner() map[string]int {
	counts := make(map[string]int)
	r.Each(func(e *entity.Entity) bool {
		if !e.IsDead() && e.Ownership.OwnerID != "" {
			counts[e.Ownership.OwnerID]++
		}
		return true
	})
	return counts
}

// InCell сущности, чья домашняя точка лежит в ячейке; порядок по ID
func (r *Registry) InCell(cell vec.Vec2) []*entity.Entity {
	ids := r.index.InCell(cell, nil)
	out := make([]*entity.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := r.Get(id); ok {
			out = append(out, e)
		}
	}
	return out
}

// Near живые сущности в радиусе от точки по фактической позиции.
// margin расширяет поиск по домашним ячейкам (сущность может уйти от дома на длину поводка).
func (r *Registry) Near(center vec.Vec2Float, radius, margin float64, dst []*entity.Entity) []*entity.Entity {
	dst = dst[:0]
	ids := r.index.QueryRange(center, radius+margin, nil)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	r2 := radius * radius
	for _, id := range ids {
		e, ok := r.Get(id)
		if !ok || e.IsDead() {
			continue
		}
		if e.Position.DistanceSqTo(center) <= r2 {
			dst = append(dst, e)
		}
	}
	return dst
}
