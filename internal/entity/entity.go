package entity

import (
	"fmt"
	"time"

	"github.com/annel0/npc-authority/internal/vec"
)

// ID стабильный идентификатор NPC, выводимый из идентификатора структуры-источника
type ID string

// Family семейство поведения NPC
type Family uint8

const (
	FamilyRaider Family = iota
	FamilyFactionDefender
	FamilyTowerDefender
	FamilyCannonCrew

	familyCount
)

// FamilyCount количество семейств поведения
const FamilyCount = int(familyCount)

// Families возвращает все семейства в фиксированном порядке обхода
func Families() []Family {
	return []Family{FamilyRaider, FamilyFactionDefender, FamilyTowerDefender, FamilyCannonCrew}
}

// String возвращает имя семейства (используется в конфиге, метриках и сообщениях)
func (f Family) String() string {
	switch f {
	case FamilyRaider:
		return "raider"
	case FamilyFactionDefender:
		return "faction_defender"
	case FamilyTowerDefender:
		return "tower_defender"
	case FamilyCannonCrew:
		return "cannon_crew"
	default:
		return "unknown"
	}
}

// Prefix префикс идентификатора сущности для структур семейства
func (f Family) Prefix() string {
	switch f {
	case FamilyRaider:
		return "tent"
	case FamilyFactionDefender:
		return "militia"
	case FamilyTowerDefender:
		return "tower"
	case FamilyCannonCrew:
		return "crew"
	default:
		return "npc"
	}
}

// Valid проверяет, что значение семейства известно
func (f Family) Valid() bool {
	return f < familyCount
}

// ParseFamily разбирает имя семейства
func ParseFamily(s string) (Family, error) {
	for _, f := range Families() {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("неизвестное семейство NPC: %q", s)
}

// IDFor строит идентификатор сущности для структуры: tent_7, tower_12 ...
func IDFor(f Family, structureID string) ID {
	return ID(f.Prefix() + "_" + structureID)
}

// Ownership запись владения: кто симулирует сущность и в каком «сроке»
type Ownership struct {
	OwnerID string
	Term    uint64
	// Relinquished локальный владелец уступил сущность и ждёт заявки нового владельца
	Relinquished bool
}

// Path путь по точкам с курсором текущей точки
type Path struct {
	Waypoints []vec.Vec2Float
	Cursor    int
	Goal      vec.Vec2Float
	// PendingSeq номер последнего запроса пути; результаты с другим номером отбрасываются
	PendingSeq  uint64
	Pending     bool
	NextRequest time.Time
}

// Active есть ли непройденные точки
func (p *Path) Active() bool {
	return p.Cursor < len(p.Waypoints)
}

// Current текущая точка пути
func (p *Path) Current() (vec.Vec2Float, bool) {
	if !p.Active() {
		return vec.Vec2Float{}, false
	}
	return p.Waypoints[p.Cursor], true
}

// Clear сбрасывает путь, сохраняя буфер точек
func (p *Path) Clear() {
	p.Waypoints = p.Waypoints[:0]
	p.Cursor = 0
	p.Pending = false
}

// Combat боевое состояние сущности
type Combat struct {
	ShotCount        uint32
	LastShotTime     time.Time
	TargetAcquiredAt time.Time
	// PendingKills игроки, убитые этой сущностью, ещё не подтвердившие смерть (killAck)
	PendingKills map[string]time.Time
}

// Remote последнее полученное от владельца состояние (для интерполяции)
type Remote struct {
	Position   vec.Vec2Float
	Rotation   float64
	Moving     bool
	InCombat   bool
	ReceivedAt time.Time
}

// Entity единица симуляции
type Entity struct {
	ID          ID
	Family      Family
	Faction     string
	StructureID string
	Variant     Variant

	Home     vec.Vec2Float
	Position vec.Vec2Float
	Height   float64
	Rotation float64

	Ownership Ownership

	State  State
	Target string
	// TargetType тип цели ("player" / "npc")
	TargetType string
	Path       Path

	// Health здоровье (урон NPC по NPC разрешает владелец цели)
	Health float64
	Combat Combat
	Remote Remote

	SpawnTime time.Time
	SpawnedBy string
	// StaggerOffset сдвиг проверок, чтобы сущности не считались в одном тике
	StaggerOffset time.Duration

	VisualAttached bool
	SimAttached    bool

	DeadAt          time.Time
	KilledBy        string
	VisualDestroyAt time.Time

	// OrphanSince момент, когда у сущности не стало кандидата во владельцы
	OrphanSince time.Time

	NextTargetCheck time.Time
	NextBroadcast   time.Time
	LastSafe        vec.Vec2Float
	Moving          bool
	InCombat        bool

	SpeedCache       float64
	NextSpeedRecalc  time.Time
	LastCleanupCheck time.Time
}

// New создаёт сущность в состоянии idle
func New(id ID, family Family, structureID string, home vec.Vec2Float, now time.Time) *Entity {
	return &Entity{
		ID:          id,
		Family:      family,
		StructureID: structureID,
		Variant:     DefaultVariant(family),
		Home:        home,
		Position:    home,
		LastSafe:    home,
		State:       StateIdle,
		SpawnTime:   now,
		Combat: Combat{
			PendingKills: make(map[string]time.Time),
		},
		Remote: Remote{Position: home, ReceivedAt: now},
	}
}

// IsDead сущность в терминальном состоянии
func (e *Entity) IsDead() bool {
	return e.State == StateDead
}

// OwnedBy проверяет, симулирует ли участник сущность прямо сейчас
func (e *Entity) OwnedBy(participant string) bool {
	return e.Ownership.OwnerID == participant && !e.Ownership.Relinquished
}

// ClearTarget сбрасывает цель и таймер её захвата
func (e *Entity) ClearTarget() {
	e.Target = ""
	e.TargetType = ""
	e.Combat.TargetAcquiredAt = time.Time{}
	e.InCombat = false
}
