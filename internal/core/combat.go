package core

import (
	"context"
	"time"

	"github.com/annel0/npc-authority/internal/behavior"
	"github.com/annel0/npc-authority/internal/combat"
	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/replication"
)

// Fired выстрел сущности локального владельца: рассылка, эффекты и урон.
// Урон NPC по NPC разрешает владелец цели; если цель наша: сразу.
func (s *Simulation) Fired(e *entity.Entity, shot combat.Shot, target behavior.Target) {
	s.out.Send(replication.NewShoot(replication.Shoot{
		EntityID:   string(e.ID),
		OwnerID:    s.localID,
		TargetID:   shot.TargetID,
		TargetType: shot.TargetType,
		ShotCount:  shot.ShotCount,
		DidHit:     shot.Hit,
		Damage:     shot.Damage,
	}))
	s.effects.Shot(e.ID, e.Position, shot.TargetID, shot.Hit)
	if !shot.Hit {
		return
	}
	now := s.frame.Now
	switch target.Type {
	case behavior.TargetPlayer:
		s.hits[e.ID] = lastHit{player: target.ID, at: now}
		// убийство своего игрока подтверждено сразу
		if target.ID == s.localID && s.damage.DamagePlayer(target.ID, shot.Damage, e.ID) {
			delete(s.hits, e.ID)
		}
	case behavior.TargetNPC:
		s.damageNPC(s.tickContext(), entity.ID(target.ID), shot.Damage, string(e.ID), now)
	}
}

// damageNPC урон по NPC, которым владеет локальный участник
func (s *Simulation) damageNPC(ctx context.Context, id entity.ID, amount float64, by string, now time.Time) {
	victim, ok := s.reg.Get(id)
	if !ok || !victim.OwnedBy(s.localID) {
		return
	}
	if combat.ApplyDamage(victim, amount) {
		s.kill(ctx, victim, by, now, true)
		return
	}
	victim.NextBroadcast = time.Time{}
}

// trackKills фиксирует убийства игроков до подтверждения и снимает просроченные
func (s *Simulation) trackKills(e *entity.Entity, now time.Time) {
	if h, ok := s.hits[e.ID]; ok {
		p, known := s.players.Lookup(h.player)
		switch {
		case known && p.Dead:
			combat.RecordKill(e, h.player, now)
			delete(s.hits, e.ID)
			e.NextBroadcast = time.Time{}
			s.log.Debug("🎯 %s: игрок %s убит, ждём подтверждения", e.ID, h.player)
		case !known || now.Sub(h.at) > s.cfg.Combat.KillAckTimeout:
			delete(s.hits, e.ID)
		}
	}
	if len(e.Combat.PendingKills) == 0 {
		return
	}
	s.killBuf = combat.ExpireKills(e, now, s.cfg.Combat.KillAckTimeout, s.killBuf)
	for _, id := range s.killBuf {
		s.log.Debug("⌛ %s: убийство %s не подтверждено", e.ID, id)
	}
	if len(s.killBuf) > 0 {
		e.NextBroadcast = time.Time{}
	}
}

// onShoot выстрел сущности другого владельца: эффекты и урон по своему игроку или NPC.
// Повтор уже принятого номера выстрела игнорируется. Попадание пересчитывается из (entityID, shotCount), поле DidHit только для сверки.
func (s *Simulation) onShoot(ctx context.Context, sh *replication.Shoot, now time.Time) {
	e, ok := s.reg.Get(entity.ID(sh.EntityID))
	if !ok {
		s.metrics.Stale("unknown_entity")
		return
	}
	if e.OwnedBy(s.localID) {
		return
	}
	// номер выстрела применяется один раз; state двигает Combat.ShotCount, но не этот счётчик
	if sh.ShotCount <= s.shotsSeen[e.ID] {
		s.metrics.Stale("shot")
		return
	}
	s.shotsSeen[e.ID] = sh.ShotCount
	p := s.cfg.Combat.For(e.Family)
	hit := combat.Hits(e.ID, sh.ShotCount, p.HitChance)
	if hit != sh.DidHit {
		s.log.Debug("⚠️ %s: выстрел #%d, попадание расходится с владельцем", e.ID, sh.ShotCount)
	}
	if sh.ShotCount > e.Combat.ShotCount {
		e.Combat.ShotCount = sh.ShotCount
		e.Combat.LastShotTime = now
	}
	s.effects.Shot(e.ID, e.Position, sh.TargetID, hit)
	if !hit {
		return
	}

	damage := sh.Damage
	if damage <= 0 {
		damage = p.Damage
	}
	switch sh.TargetType {
	case behavior.TargetPlayer:
		if sh.TargetID != s.localID {
			return
		}
		if s.damage.DamagePlayer(sh.TargetID, damage, e.ID) {
			s.out.Send(replication.NewKillAck(replication.KillAck{EntityID: sh.EntityID, PlayerID: s.localID}))
		}
	case behavior.TargetNPC:
		s.damageNPC(ctx, entity.ID(sh.TargetID), damage, sh.EntityID, now)
	}
}
