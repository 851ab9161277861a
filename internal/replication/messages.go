// Package replication канал репликации NPC между пирами: сообщения spawn/state/shoot/death/killAck
// и heartbeat, пакетирование за тик, сжатие, входящий буфер и применение удалённых данных.
package replication

import (
	"time"

	"github.com/annel0/npc-authority/internal/vec"
)

// Kind тип сообщения
type Kind uint8

const (
	KindSpawn Kind = iota + 1
	KindState
	KindShoot
	KindDeath
	KindKillAck
	KindHeartbeat
)

// String имя типа (метки метрик)
func (k Kind) String() string {
	switch k {
	case KindSpawn:
		return "spawn"
	case KindState:
		return "state"
	case KindShoot:
		return "shoot"
	case KindDeath:
		return "death"
	case KindKillAck:
		return "killAck"
	case KindHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Приоритеты для сброса при переполнении исходящего пакета
const (
	PriorityState     = 1
	PriorityHeartbeat = 2
	PriorityShoot     = 3
	PriorityKillAck   = 6
	PrioritySpawn     = 8
	PriorityDeath     = 9
)

// Point координаты в сообщении
type Point struct {
	X float64 `msgpack:"x"`
	Y float64 `msgpack:"y"`
}

// PointOf переводит вектор в точку сообщения
func PointOf(v vec.Vec2Float) Point {
	return Point{X: v.X, Y: v.Y}
}

// Vec точка как вектор
func (p Point) Vec() vec.Vec2Float {
	return vec.Vec2Float{X: p.X, Y: p.Y}
}

// Spawn появление сущности. Пир без такой сущности создаёт её; при встречных спавнах
// побеждает меньший SpawnedBy.
type Spawn struct {
	EntityID    string `msgpack:"id"`
	Family      uint8  `msgpack:"fam"`
	StructureID string `msgpack:"sid"`
	SpawnedBy   string `msgpack:"by"`
	// SpawnTime unix-миллисекунды
	SpawnTime int64   `msgpack:"t"`
	Position  Point   `msgpack:"pos"`
	Home      Point   `msgpack:"home"`
	Rotation  float64 `msgpack:"rot,omitempty"`
	Faction   string  `msgpack:"fac,omitempty"`
	Owner     string  `msgpack:"owner,omitempty"`
	Term      uint64  `msgpack:"term,omitempty"`

	Elevation      float64 `msgpack:"elev,omitempty"`
	CannonID       string  `msgpack:"cannon,omitempty"`
	CrewMode       uint8   `msgpack:"crew,omitempty"`
	StructureOwner string  `msgpack:"sowner,omitempty"`
}

// State периодическое состояние от владельца
type State struct {
	EntityID       string   `msgpack:"id"`
	OwnerID        string   `msgpack:"owner"`
	Term           uint64   `msgpack:"term"`
	Position       Point    `msgpack:"pos"`
	Rotation       float64  `msgpack:"rot"`
	State          string   `msgpack:"st"`
	Target         string   `msgpack:"tgt,omitempty"`
	TargetType     string   `msgpack:"tt,omitempty"`
	ShotCount      uint32   `msgpack:"shots"`
	LastShotTime   int64    `msgpack:"lst,omitempty"`
	PendingKillIDs []string `msgpack:"pk,omitempty"`
	Moving         bool     `msgpack:"mv"`
	InCombat       bool     `msgpack:"cb"`
	Faction        string   `msgpack:"fac,omitempty"`
	Health         float64  `msgpack:"hp"`
	CrewMode       uint8    `msgpack:"crew,omitempty"`
}

// Shoot выстрел; ShotCount позволяет любому пиру пересчитать попадание
type Shoot struct {
	EntityID   string  `msgpack:"id"`
	OwnerID    string  `msgpack:"owner"`
	TargetID   string  `msgpack:"tgt"`
	TargetType string  `msgpack:"tt"`
	ShotCount  uint32  `msgpack:"shot"`
	DidHit     bool    `msgpack:"hit"`
	Damage     float64 `msgpack:"dmg,omitempty"`
}

// Death терминальный переход
type Death struct {
	EntityID string `msgpack:"id"`
	KilledBy string `msgpack:"by,omitempty"`
}

// KillAck игрок подтверждает свою смерть от сущности
type KillAck struct {
	EntityID string `msgpack:"id"`
	PlayerID string `msgpack:"pid"`
}

// Heartbeat участник сообщает о себе
type Heartbeat struct {
	ParticipantID  string  `msgpack:"pid"`
	Position       Point   `msgpack:"pos"`
	Height         float64 `msgpack:"h,omitempty"`
	Faction        string  `msgpack:"fac,omitempty"`
	Dead           bool    `msgpack:"dead,omitempty"`
	SpawnProtected bool    `msgpack:"prot,omitempty"`
}

// Message одно сообщение канала: ровно одно из полей заполнено согласно Kind
type Message struct {
	Kind      Kind       `msgpack:"k"`
	Spawn     *Spawn     `msgpack:"sp,omitempty"`
	State     *State     `msgpack:"st,omitempty"`
	Shoot     *Shoot     `msgpack:"sh,omitempty"`
	Death     *Death     `msgpack:"de,omitempty"`
	KillAck   *KillAck   `msgpack:"ka,omitempty"`
	Heartbeat *Heartbeat `msgpack:"hb,omitempty"`
}

// EntityID сущность, к которой относится сообщение; пусто для heartbeat
func (m *Message) EntityID() string {
	switch m.Kind {
	case KindSpawn:
		if m.Spawn != nil {
			return m.Spawn.EntityID
		}
	case KindState:
		if m.State != nil {
			return m.State.EntityID
		}
	case KindShoot:
		if m.Shoot != nil {
			return m.Shoot.EntityID
		}
	case KindDeath:
		if m.Death != nil {
			return m.Death.EntityID
		}
	case KindKillAck:
		if m.KillAck != nil {
			return m.KillAck.EntityID
		}
	}
	return ""
}

// Valid заполнено ли поле, соответствующее Kind
func (m *Message) Valid() bool {
	switch m.Kind {
	case KindSpawn:
		return m.Spawn != nil && m.Spawn.EntityID != ""
	case KindState:
		return m.State != nil && m.State.EntityID != ""
	case KindShoot:
		return m.Shoot != nil && m.Shoot.EntityID != ""
	case KindDeath:
		return m.Death != nil && m.Death.EntityID != ""
	case KindKillAck:
		return m.KillAck != nil && m.KillAck.EntityID != ""
	case KindHeartbeat:
		return m.Heartbeat != nil && m.Heartbeat.ParticipantID != ""
	default:
		return false
	}
}

// Priority приоритет сообщения при переполнении
func (m *Message) Priority() int {
	switch m.Kind {
	case KindDeath:
		return PriorityDeath
	case KindSpawn:
		return PrioritySpawn
	case KindKillAck:
		return PriorityKillAck
	case KindShoot:
		return PriorityShoot
	case KindHeartbeat:
		return PriorityHeartbeat
	default:
		return PriorityState
	}
}

// Millis время в unix-миллисекундах; нулевое время: 0
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromMillis обратное к Millis
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Конструкторы сообщений

func NewSpawn(s Spawn) Message { return Message{Kind: KindSpawn, Spawn: &s} }
func NewState(s State) Message { return Message{Kind: KindState, State: &s} }
func NewShoot(s Shoot) Message { return Message{Kind: KindShoot, Shoot: &s} }
func NewDeath(d Death) Message { return Message{Kind: KindDeath, Death: &d} }
func NewKillAck(k KillAck) Message { return Message{Kind: KindKillAck, KillAck: &k} }
func NewHeartbeat(h Heartbeat) Message { return Message{Kind: KindHeartbeat, Heartbeat: &h} }
