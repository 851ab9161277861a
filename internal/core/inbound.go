package core

import (
	"context"
	"time"

	"github.com/annel0/npc-authority/internal/combat"
	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/presence"
	"github.com/annel0/npc-authority/internal/replication"
)

// applyInbound применяет сообщения, накопленные каналом с прошлого тика
func (s *Simulation) applyInbound(ctx context.Context, now time.Time) {
	s.inbound = s.in.Drain(s.inbound[:0])
	for i := range s.inbound {
		m := &s.inbound[i]
		switch m.Kind {
		case replication.KindHeartbeat:
			s.onHeartbeat(m.Heartbeat, now)
		case replication.KindSpawn:
			s.onSpawn(m.Spawn, now)
		case replication.KindState:
			s.onState(ctx, m.State, now)
		case replication.KindShoot:
			s.onShoot(ctx, m.Shoot, now)
		case replication.KindDeath:
			s.onDeath(ctx, m.Death, now)
		case replication.KindKillAck:
			s.onKillAck(m.KillAck)
		}
		s.inbound[i] = replication.Message{}
	}
}

func (s *Simulation) onHeartbeat(hb *replication.Heartbeat, now time.Time) {
	if hb.ParticipantID == s.localID {
		return
	}
	s.presence.Heartbeat(presence.Heartbeat{
		ParticipantID:  hb.ParticipantID,
		Position:       hb.Position.Vec(),
		Height:         hb.Height,
		Faction:        hb.Faction,
		Dead:           hb.Dead,
		SpawnProtected: hb.SpawnProtected,
	}, now)
}

// onSpawn создаёт сущность по чужому spawn или разрешает встречный спавн.
// Повторная доставка ничего не меняет.
func (s *Simulation) onSpawn(sp *replication.Spawn, now time.Time) {
	if e, ok := s.reg.Get(entity.ID(sp.EntityID)); ok {
		wasLocal := e.OwnedBy(s.localID)
		if replication.ApplySpawnConflict(e, sp, s.ledger) {
			s.log.Debug("🔁 %s: встречный спавн, побеждает %s", e.ID, sp.SpawnedBy)
		}
		if wasLocal && !e.OwnedBy(s.localID) {
			e.Remote.Position = sp.Position.Vec()
			e.Remote.Rotation = sp.Rotation
			e.Remote.ReceivedAt = now
		}
		return
	}
	e, ok := replication.EntityFromSpawn(sp, now)
	if !ok {
		s.metrics.Stale("bad_spawn")
		return
	}
	s.machine.Init(e, now)
	if !s.reg.Add(e) {
		return
	}
	s.attach(e)
	s.log.Debug("📥 %s: spawn от %s, владелец %s term=%d", e.ID, sp.SpawnedBy, sp.Owner, sp.Term)
}

func (s *Simulation) onState(ctx context.Context, st *replication.State, now time.Time) {
	e, ok := s.reg.Get(entity.ID(st.EntityID))
	if !ok {
		s.metrics.Stale("unknown_entity")
		return
	}
	switch replication.ApplyState(e, st, s.ledger, now) {
	case replication.StateIgnored:
		s.metrics.Stale("state")
	case replication.StateDied:
		s.kill(ctx, e, "", now, false)
	}
}

func (s *Simulation) onDeath(ctx context.Context, d *replication.Death, now time.Time) {
	e, ok := s.reg.Get(entity.ID(d.EntityID))
	if !ok {
		s.metrics.Stale("unknown_entity")
		return
	}
	s.kill(ctx, e, d.KilledBy, now, false)
}

// onKillAck подтверждение убийства имеет смысл только для текущего владельца
func (s *Simulation) onKillAck(ack *replication.KillAck) {
	e, ok := s.reg.Get(entity.ID(ack.EntityID))
	if !ok || !e.OwnedBy(s.localID) {
		return
	}
	if combat.AckKill(e, ack.PlayerID) {
		e.NextBroadcast = time.Time{}
		s.log.Debug("✅ %s: убийство %s подтверждено", e.ID, ack.PlayerID)
		return
	}
	// подтверждение пришло раньше heartbeat со смертью игрока
	if h, ok := s.hits[e.ID]; ok && h.player == ack.PlayerID {
		delete(s.hits, e.ID)
	}
}
