package replication

import (
	"time"

	"github.com/annel0/npc-authority/internal/authority"
	"github.com/annel0/npc-authority/internal/entity"
)

// SpawnOf сообщение spawn для сущности
func SpawnOf(e *entity.Entity) Spawn {
	sp := Spawn{
		EntityID:    string(e.ID),
		Family:      uint8(e.Family),
		StructureID: e.StructureID,
		SpawnedBy:   e.SpawnedBy,
		SpawnTime:   Millis(e.SpawnTime),
		Position:    PointOf(e.Position),
		Home:        PointOf(e.Home),
		Rotation:    e.Rotation,
		Faction:     e.Faction,
		Owner:       e.Ownership.OwnerID,
		Term:        e.Ownership.Term,
	}
	switch v := e.Variant.(type) {
	case *entity.TowerVariant:
		sp.Elevation = v.Elevation
	case *entity.CannonCrewVariant:
		sp.CannonID = v.CannonID
		sp.CrewMode = uint8(v.Mode)
	case *entity.DefenderVariant:
		sp.StructureOwner = v.StructureOwner
	}
	return sp
}

// EntityFromSpawn создаёт сущность по удалённому spawn. false: сообщение некорректно.
func EntityFromSpawn(sp *Spawn, now time.Time) (*entity.Entity, bool) {
	f := entity.Family(sp.Family)
	if !f.Valid() || sp.EntityID == "" {
		return nil, false
	}
	e := entity.New(entity.ID(sp.EntityID), f, sp.StructureID, sp.Home.Vec(), now)
	e.Position = sp.Position.Vec()
	e.Rotation = sp.Rotation
	e.Faction = sp.Faction
	e.SpawnedBy = sp.SpawnedBy
	if t := FromMillis(sp.SpawnTime); !t.IsZero() {
		e.SpawnTime = t
	}
	e.Ownership.OwnerID = sp.Owner
	e.Ownership.Term = sp.Term
	e.Remote.Position = e.Position
	e.Remote.Rotation = e.Rotation
	e.Remote.ReceivedAt = now
	applyVariant(e, sp)
	return e, true
}

func applyVariant(e *entity.Entity, sp *Spawn) {
	switch v := e.Variant.(type) {
	case *entity.TowerVariant:
		v.Elevation = sp.Elevation
	case *entity.CannonCrewVariant:
		v.CannonID = sp.CannonID
		v.Mode = entity.CrewMode(sp.CrewMode)
	case *entity.DefenderVariant:
		v.StructureOwner = sp.StructureOwner
	}
}

// SpawnWins побеждает ли удалённый spawn при встречном спавне: меньший SpawnedBy
func SpawnWins(e *entity.Entity, sp *Spawn) bool {
	return sp.SpawnedBy != "" && (e.SpawnedBy == "" || sp.SpawnedBy < e.SpawnedBy)
}

// ApplySpawnConflict сверяет встречный spawn с существующей сущностью.
// Заявка владения сверяется всегда; данные спавна заменяются, только если spawn побеждает.
// Мёртвая сущность не меняется. Возвращает true, если данные спавна заменены.
func ApplySpawnConflict(e *entity.Entity, sp *Spawn, ledger *authority.Ledger) bool {
	if e.IsDead() {
		return false
	}
	if sp.Owner != "" {
		ledger.ApplyRemote(e, authority.Claim{OwnerID: sp.Owner, Term: sp.Term})
	}
	if !SpawnWins(e, sp) {
		return false
	}
	e.SpawnedBy = sp.SpawnedBy
	if t := FromMillis(sp.SpawnTime); !t.IsZero() {
		e.SpawnTime = t
	}
	e.Home = sp.Home.Vec()
	e.Faction = sp.Faction
	applyVariant(e, sp)
	return true
}

// StateOf сообщение state для сущности
func StateOf(e *entity.Entity, pendingKills []string) State {
	st := State{
		EntityID:       string(e.ID),
		OwnerID:        e.Ownership.OwnerID,
		Term:           e.Ownership.Term,
		Position:       PointOf(e.Position),
		Rotation:       e.Rotation,
		State:          e.State.String(),
		Target:         e.Target,
		TargetType:     e.TargetType,
		ShotCount:      e.Combat.ShotCount,
		LastShotTime:   Millis(e.Combat.LastShotTime),
		PendingKillIDs: pendingKills,
		Moving:         e.Moving,
		InCombat:       e.InCombat,
		Faction:        e.Faction,
		Health:         e.Health,
	}
	if crew, ok := e.CrewOf(); ok {
		st.CrewMode = uint8(crew.Mode)
	}
	return st
}

// StateOutcome результат применения удалённого state
type StateOutcome uint8

const (
	// StateIgnored устаревший срок, проигравшая заявка или мёртвая сущность
	StateIgnored StateOutcome = iota
	// StateApplied состояние принято для интерполяции
	StateApplied
	// StateDied владелец сообщил о смерти; ядро выполняет переход в dead
	StateDied
	// StateLocal заявка принята, но владелец: локальный участник: поля движения не трогаем
	StateLocal
)

// String имя исхода
func (o StateOutcome) String() string {
	switch o {
	case StateApplied:
		return "applied"
	case StateDied:
		return "died"
	case StateLocal:
		return "local"
	default:
		return "ignored"
	}
}

// ApplyState сверяет заявку владения и принимает состояние владельца.
// dead необратим: state для мёртвой сущности игнорируется.
func ApplyState(e *entity.Entity, st *State, ledger *authority.Ledger, now time.Time) StateOutcome {
	if e.IsDead() {
		return StateIgnored
	}
	if ledger.ApplyRemote(e, authority.Claim{OwnerID: st.OwnerID, Term: st.Term}) == authority.OutcomeIgnored {
		return StateIgnored
	}
	if e.OwnedBy(ledger.LocalID()) {
		return StateLocal
	}

	e.Remote.Position = st.Position.Vec()
	e.Remote.Rotation = st.Rotation
	e.Remote.Moving = st.Moving
	e.Remote.InCombat = st.InCombat
	e.Remote.ReceivedAt = now

	e.Target = st.Target
	e.TargetType = st.TargetType
	e.Health = st.Health
	if st.Faction != "" {
		e.Faction = st.Faction
	}
	// Боевые счётчики нужны новому владельцу при передаче: номер выстрела не повторяется
	if st.ShotCount > e.Combat.ShotCount {
		e.Combat.ShotCount = st.ShotCount
		e.Combat.LastShotTime = FromMillis(st.LastShotTime)
	}
	for k := range e.Combat.PendingKills {
		delete(e.Combat.PendingKills, k)
	}
	for _, id := range st.PendingKillIDs {
		e.Combat.PendingKills[id] = now
	}
	if crew, ok := e.CrewOf(); ok {
		crew.Mode = entity.CrewMode(st.CrewMode)
	}

	state, ok := entity.ParseState(st.State)
	if !ok {
		return StateApplied
	}
	if state == entity.StateDead {
		return StateDied
	}
	// Переход вне таблицы (пропущенное промежуточное состояние) принимается как есть
	e.State = state
	return StateApplied
}
