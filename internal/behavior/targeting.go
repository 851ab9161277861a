package behavior

import (
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/vec"
)

// Target типы целей
const (
	TargetPlayer = "player"
	TargetNPC    = "npc"
)

// Target кандидат в цели, подготовленный ядром один раз за тик
type Target struct {
	ID       string
	Type     string
	Faction  string
	Family   entity.Family
	Position vec.Vec2Float
	Height   float64
}

// Eligible может ли сущность атаковать цель.
// Налётчики нападают на игроков и на защитников; защитники всех видов:
// на налётчиков и на игроков чужой фракции.
func Eligible(e *entity.Entity, t Target) bool {
	if t.ID == string(e.ID) {
		return false
	}
	switch e.Family {
	case entity.FamilyRaider:
		if t.Type == TargetPlayer {
			return true
		}
		return t.Family != entity.FamilyRaider
	default:
		if t.Type == TargetNPC {
			return t.Family == entity.FamilyRaider
		}
		return t.Faction != "" && t.Faction != e.Faction
	}
}

// SelectTarget ближайший подходящий кандидат в радиусе. Кандидаты, чья дистанция
// отличается от минимальной не больше eps, считаются равными: выигрывает меньший ID.
// Результат не зависит от порядка кандидатов.
func SelectTarget(from vec.Vec2Float, radius, eps float64, candidates []Target, eligible func(Target) bool) (Target, bool) {
	r2 := radius * radius
	minDist := -1.0
	for i := range candidates {
		c := &candidates[i]
		if eligible != nil && !eligible(*c) {
			continue
		}
		d2 := from.DistanceSqTo(c.Position)
		if d2 > r2 {
			continue
		}
		d := from.DistanceTo(c.Position)
		if minDist < 0 || d < minDist {
			minDist = d
		}
	}
	if minDist < 0 {
		return Target{}, false
	}

	var best Target
	found := false
	for i := range candidates {
		c := &candidates[i]
		if eligible != nil && !eligible(*c) {
			continue
		}
		if from.DistanceSqTo(c.Position) > r2 {
			continue
		}
		if from.DistanceTo(c.Position)-minDist > eps {
			continue
		}
		if !found || c.ID < best.ID {
			best = *c
			found = true
		}
	}
	return best, found
}

// ClampToLeash цель пути не дальше поводка: точка на отрезке дом→цель на границе.
// leash <= 0 означает отсутствие поводка.
func ClampToLeash(home, target vec.Vec2Float, leash float64) vec.Vec2Float {
	if leash <= 0 {
		return target
	}
	d := home.DistanceTo(target)
	if d <= leash {
		return target
	}
	return home.Add(target.Sub(home).Mul(leash / d))
}

// Stagger детерминированный сдвиг проверок сущности в пределах окна
func Stagger(id entity.ID, window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}
	return time.Duration(xxhash.Sum64String(string(id)) % uint64(window))
}

// jitter разброс интервала запроса пути, разный для каждого запроса
func jitter(id entity.ID, seq uint64, window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}
	h := xxhash.Sum64String(string(id)) ^ (seq * 0x9E3779B97F4A7C15)
	h ^= h >> 33
	return time.Duration(h % uint64(window))
}
