package core

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/observability"
	"github.com/annel0/npc-authority/internal/replication"
	"github.com/annel0/npc-authority/internal/spawn"
	"github.com/annel0/npc-authority/internal/vec"
)

// OccupancyHook вызывается, когда у постройки появляется живой NPC (occupied=true)
// или он погибает либо выгружается (false). Вызывается из горутины тика.
type OccupancyHook func(structureID string, family entity.Family, occupied bool)

// RegisterOccupancyHook подписывает обработчик на NPC постройки; прежний заменяется
func (s *Simulation) RegisterOccupancyHook(structureID string, hook OccupancyHook) {
	s.hooksMu.Lock()
	s.hooks[structureID] = hook
	s.hooksMu.Unlock()
}

// UnregisterOccupancyHook снимает обработчик постройки
func (s *Simulation) UnregisterOccupancyHook(structureID string) {
	s.hooksMu.Lock()
	delete(s.hooks, structureID)
	s.hooksMu.Unlock()
}

func (s *Simulation) fireHook(e *entity.Entity, occupied bool) {
	s.hooksMu.RLock()
	hook := s.hooks[e.StructureID]
	s.hooksMu.RUnlock()
	if hook != nil {
		hook(e.StructureID, e.Family, occupied)
	}
}

// env сведения ядра для очереди спавна
type env struct {
	s *Simulation
}

func (v env) LocalID() string {
	return v.s.localID
}

func (v env) LocalPosition() (vec.Vec2Float, bool) {
	return v.s.players.LocalPosition()
}

func (v env) Exists(id entity.ID) bool {
	return v.s.reg.Has(id)
}

func (v env) OwnedCount() int {
	return v.s.reg.CountOwnedBy(v.s.localID)
}

func (v env) ResolveOwner(anchor vec.Vec2Float) (string, bool) {
	return v.s.ledger.Resolver().Resolve(anchor)
}

// spawnLocal исполнитель заявок очереди: сущность, визуал и рассылка spawn
func (s *Simulation) spawnLocal(req spawn.Request, now time.Time) bool {
	st := req.Structure
	e := entity.New(req.EntityID(), req.Family, st.ID, st.Position, now)
	e.Faction = st.Faction
	if e.Faction == "" && st.Owner != "" {
		e.Faction = s.factions.FactionOf(st.Owner)
	}
	e.SpawnedBy = s.localID
	switch v := e.Variant.(type) {
	case *entity.TowerVariant:
		v.Elevation = st.Elevation
	case *entity.CannonCrewVariant:
		v.CannonID = st.CannonID
	case *entity.DefenderVariant:
		v.StructureOwner = st.Owner
	}
	s.machine.Init(e, now)
	s.ledger.Claim(e)
	if !s.reg.Add(e) {
		return false
	}
	s.attach(e)

	s.spawnSent[e.ID] = now
	s.out.Send(replication.NewSpawn(replication.SpawnOf(e)))
	e.NextBroadcast = time.Time{}

	observability.EntityEvent(s.span, "spawn", string(e.ID), attribute.String("npc.family", e.Family.String()))
	s.log.Info("✨ Спавн %s (%s) у постройки %s, term=%d", e.ID, e.Family, st.ID, e.Ownership.Term)
	return true
}

// attach визуал и обработчики занятости для новой сущности
func (s *Simulation) attach(e *entity.Entity) {
	e.SimAttached = true
	if !e.IsDead() {
		s.visuals.Create(e)
		e.VisualAttached = true
		s.fireHook(e, true)
	}
}

// Kill сообщает о смерти сущности извне (например, её убил локальный игрок).
// Смерть рассылается всем участникам. Вызывается из горутины тика.
func (s *Simulation) Kill(ctx context.Context, id entity.ID, killedBy string, now time.Time) bool {
	e, ok := s.reg.Get(id)
	if !ok {
		return false
	}
	return s.kill(ctx, e, killedBy, now, true)
}

// kill переводит сущность в dead, запускает перезарядку постройки и планирует удаление визуала
func (s *Simulation) kill(ctx context.Context, e *entity.Entity, killedBy string, now time.Time, broadcast bool) bool {
	if !s.machine.Kill(e, killedBy, now) {
		return false
	}
	if broadcast {
		s.out.Send(replication.NewDeath(replication.Death{EntityID: string(e.ID), KilledBy: killedBy}))
	}
	delete(s.hits, e.ID)

	cctx, cancel := context.WithTimeout(ctx, s.cfg.Spawn.CooldownTimeout)
	err := s.cooldowns.Start(cctx, spawn.CooldownKey(e.Family, e.StructureID), s.cfg.CooldownTTL)
	cancel()
	if err != nil {
		s.log.Debug("⚠️ Перезарядка %s не запущена: %v", e.ID, err)
	}

	s.fireHook(e, false)
	observability.EntityEvent(s.span, "death", string(e.ID), attribute.String("npc.killed_by", killedBy))
	s.log.Info("💀 %s погиб (убийца %q)", e.ID, killedBy)
	return true
}

// teardownVisual удаляет визуал погибшей сущности после задержки; запись остаётся
func (s *Simulation) teardownVisual(e *entity.Entity, now time.Time) {
	if e.VisualAttached && !now.Before(e.VisualDestroyAt) {
		s.visuals.Destroy(e.ID)
		e.VisualAttached = false
	}
}

// remove удаляет запись из реестра
func (s *Simulation) remove(id entity.ID) {
	e, ok := s.reg.Remove(id)
	if !ok {
		return
	}
	if e.VisualAttached {
		s.visuals.Destroy(id)
		e.VisualAttached = false
	}
	e.SimAttached = false
	if !e.IsDead() {
		s.fireHook(e, false)
	}
	delete(s.spawnSent, id)
	delete(s.hits, id)
	delete(s.shotsSeen, id)
}

// UnloadRegion удаляет все записи (включая погибших) с домом в ячейке.
// Вызывается из горутины тика. Возвращает число удалённых.
func (s *Simulation) UnloadRegion(cell vec.Vec2) int {
	ids := s.reg.Index().InCell(cell, nil)
	for _, id := range ids {
		s.remove(id)
	}
	if len(ids) > 0 {
		s.log.Debug("🧹 Регион %v выгружен: %d записей", cell, len(ids))
	}
	return len(ids)
}
