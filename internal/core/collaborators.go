package core

import (
	"context"
	"time"

	"github.com/annel0/npc-authority/internal/authority"
	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/presence"
	"github.com/annel0/npc-authority/internal/replication"
	"github.com/annel0/npc-authority/internal/spawn"
	"github.com/annel0/npc-authority/internal/vec"
)

// Presence участники сессии: кто в каких ячейках и кто активен
type Presence interface {
	authority.Presence
	Heartbeat(hb presence.Heartbeat, now time.Time)
	Tick(now time.Time) int
	Len() int
}

// Players сведения об игроках
type Players interface {
	LocalPosition() (vec.Vec2Float, bool)
	Lookup(id string) (presence.Participant, bool)
	// Targetable живые игроки без защиты после появления
	Targetable(dst []presence.Participant) []presence.Participant
}

// Factions фракция игрока
type Factions interface {
	FactionOf(playerID string) string
}

// Visuals визуальное представление сущностей
type Visuals interface {
	Create(e *entity.Entity)
	Destroy(id entity.ID)
}

// Outbound исходящая репликация
type Outbound interface {
	Send(msg replication.Message)
	Flush(ctx context.Context, now time.Time)
}

// Inbound входящая репликация, вычитывается в начале тика
type Inbound interface {
	Drain(dst []replication.Message) []replication.Message
}

// CooldownStore хранилище перезарядки респавна
type CooldownStore interface {
	spawn.Cooldowns
	Start(ctx context.Context, key string, ttl time.Duration) error
}

// Mount состояние орудия, которое обслуживает расчёт
type Mount struct {
	Position vec.Vec2Float
	Rotation float64
	Mode     entity.CrewMode
}

// Mounts поиск орудий для расчётов
type Mounts interface {
	Mount(cannonID string) (Mount, bool)
}

// DamageSink урон локальному игроку. killed: удар оказался смертельным.
type DamageSink interface {
	DamagePlayer(playerID string, amount float64, from entity.ID) (killed bool)
}

// Effects эффекты выстрелов (звук, трассеры)
type Effects interface {
	Shot(shooter entity.ID, from vec.Vec2Float, targetID string, hit bool)
}

type noPresence struct{}

func (noPresence) ParticipantsIn(_ []vec.Vec2, dst []string) ([]string, bool) { return dst, false }
func (noPresence) IsActive(string) bool { return false }
func (noPresence) Heartbeat(presence.Heartbeat, time.Time) {}
func (noPresence) Tick(time.Time) int { return 0 }
func (noPresence) Len() int { return 0 }

type noPlayers struct{}

func (noPlayers) LocalPosition() (vec.Vec2Float, bool) { return vec.Vec2Float{}, false }
func (noPlayers) Lookup(string) (presence.Participant, bool) { return presence.Participant{}, false }
func (noPlayers) Targetable(dst []presence.Participant) []presence.Participant { return dst }

type noFactions struct{}

func (noFactions) FactionOf(string) string { return "" }

type noVisuals struct{}

func (noVisuals) Create(*entity.Entity) {}
func (noVisuals) Destroy(entity.ID) {}

type noOutbound struct{}

func (noOutbound) Send(replication.Message) {}
func (noOutbound) Flush(context.Context, time.Time) {}

type noInbound struct{}

func (noInbound) Drain(dst []replication.Message) []replication.Message { return dst }

type noCooldowns struct{}

func (noCooldowns) Active(context.Context, string) (bool, error) { return false, nil }
func (noCooldowns) Start(context.Context, string, time.Duration) error { return nil }

type noMounts struct{}

func (noMounts) Mount(string) (Mount, bool) { return Mount{}, false }

type noDamage struct{}

func (noDamage) DamagePlayer(string, float64, entity.ID) bool { return false }

type noEffects struct{}

func (noEffects) Shot(entity.ID, vec.Vec2Float, string, bool) {}
