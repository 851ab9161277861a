package core

import (
	"sort"
	"time"

	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/vec"
)

// EntityView сущность в снимке
type EntityView struct {
	ID       string  `json:"id"`
	Family   string  `json:"family"`
	Faction  string  `json:"faction,omitempty"`
	State    string  `json:"state"`
	Owner    string  `json:"owner"`
	Term     uint64  `json:"term"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	HomeX    float64 `json:"home_x"`
	HomeY    float64 `json:"home_y"`
	Rotation float64 `json:"rotation"`
	Target   string  `json:"target,omitempty"`
	Health   float64 `json:"health"`
	Local    bool    `json:"local"`

	family entity.Family
	dead   bool
}

// Position позиция сущности
func (v EntityView) Position() vec.Vec2Float {
	return vec.Vec2Float{X: v.X, Y: v.Y}
}

// Snapshot неизменяемый снимок состояния на конец тика.
// Читается без блокировок из любых горутин.
type Snapshot struct {
	Tick         uint64         `json:"tick"`
	At           time.Time      `json:"at"`
	Participant  string         `json:"participant"`
	Participants int            `json:"participants"`
	Entities     []EntityView   `json:"entities"`
	Owners       map[string]int `json:"owners"`
	PendingSpawn int            `json:"pending_spawns"`
}

func (s *Simulation) publishSnapshot(now time.Time) {
	snap := &Snapshot{
		Tick:         s.seq,
		At:           now,
		Participant:  s.localID,
		Participants: s.presence.Len(),
		Entities:     make([]EntityView, 0, s.reg.Len()),
		Owners:       make(map[string]int),
		PendingSpawn: s.spawns.Pending(),
	}
	s.metrics.ResetEntities()
	s.reg.Each(func(e *entity.Entity) bool {
		local := e.OwnedBy(s.localID)
		snap.Entities = append(snap.Entities, EntityView{
			ID:       string(e.ID),
			Family:   e.Family.String(),
			Faction:  e.Faction,
			State:    e.State.String(),
			Owner:    e.Ownership.OwnerID,
			Term:     e.Ownership.Term,
			X:        e.Position.X,
			Y:        e.Position.Y,
			HomeX:    e.Home.X,
			HomeY:    e.Home.Y,
			Rotation: e.Rotation,
			Target:   e.Target,
			Health:   e.Health,
			Local:    local,
			family:   e.Family,
			dead:     e.IsDead(),
		})

		authority := ""
		if !e.IsDead() {
			switch {
			case local:
				authority = "local"
			case e.Ownership.OwnerID == "" || !e.OrphanSince.IsZero():
				authority = "orphan"
			default:
				authority = "remote"
			}
			if e.Ownership.OwnerID != "" {
				snap.Owners[e.Ownership.OwnerID]++
			}
		}
		s.metrics.Entity(e.Family.String(), e.State.String(), authority)
		return true
	})
	sort.Slice(snap.Entities, func(i, j int) bool { return snap.Entities[i].ID < snap.Entities[j].ID })
	s.snapshot.Store(snap)
}

// Snapshot последний опубликованный снимок
func (s *Simulation) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// OwnedCount сколько живых сущностей симулирует участник (по последнему снимку)
func (s *Simulation) OwnedCount(owner string) int {
	return s.Snapshot().Owners[owner]
}

// CountsByOwner живые сущности по владельцам (копия)
func (s *Simulation) CountsByOwner() map[string]int {
	owners := s.Snapshot().Owners
	out := make(map[string]int, len(owners))
	for k, v := range owners {
		out[k] = v
	}
	return out
}

// HostileNear живые налётчики в радиусе от точки, ближайшие первыми (при равенстве: по ID)
func (s *Simulation) HostileNear(point vec.Vec2Float, radius float64) []EntityView {
	snap := s.Snapshot()
	r2 := radius * radius
	var out []EntityView
	for _, v := range snap.Entities {
		if v.dead || v.family != entity.FamilyRaider {
			continue
		}
		if v.Position().DistanceSqTo(point) <= r2 {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		di := out[i].Position().DistanceSqTo(point)
		dj := out[j].Position().DistanceSqTo(point)
		if di != dj {
			return di < dj
		}
		return out[i].ID < out[j].ID
	})
	return out
}
