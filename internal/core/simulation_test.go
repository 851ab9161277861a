package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/npc-authority/internal/combat"
	"github.com/annel0/npc-authority/internal/cooldown"
	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/presence"
	"github.com/annel0/npc-authority/internal/replication"
	"github.com/annel0/npc-authority/internal/spawn"
	"github.com/annel0/npc-authority/internal/vec"
)

type recordingOut struct {
	msgs []replication.Message
}

func (o *recordingOut) Send(m replication.Message) { o.msgs = append(o.msgs, m) }
func (o *recordingOut) Flush(context.Context, time.Time) {}

func (o *recordingOut) ofKind(k replication.Kind) []replication.Message {
	var out []replication.Message
	for _, m := range o.msgs {
		if m.Kind == k {
			out = append(out, m)
		}
	}
	return out
}

type queuedIn struct {
	msgs []replication.Message
}

func (q *queuedIn) push(msgs ...replication.Message) { q.msgs = append(q.msgs, msgs...) }

func (q *queuedIn) Drain(dst []replication.Message) []replication.Message {
	dst = append(dst, q.msgs...)
	q.msgs = nil
	return dst
}

type recordingVisuals struct {
	created   []entity.ID
	destroyed []entity.ID
}

func (v *recordingVisuals) Create(e *entity.Entity) { v.created = append(v.created, e.ID) }
func (v *recordingVisuals) Destroy(id entity.ID) { v.destroyed = append(v.destroyed, id) }

type fixedMounts struct {
	mounts map[string]Mount
}

func (m *fixedMounts) Mount(id string) (Mount, bool) {
	mt, ok := m.mounts[id]
	return mt, ok
}

type peer struct {
	sim     *Simulation
	dir     *presence.Directory
	out     *recordingOut
	in      *queuedIn
	visuals *recordingVisuals
	store   *cooldown.MemoryStore
	pos     vec.Vec2Float
}

func newPeer(t *testing.T, local string, pos vec.Vec2Float, cfg Config, structures []spawn.Structure, mounts Mounts) *peer {
	t.Helper()
	p := &peer{
		dir:     presence.NewDirectory(presence.DefaultConfig(), local),
		out:     &recordingOut{},
		in:      &queuedIn{},
		visuals: &recordingVisuals{},
		store:   cooldown.NewMemoryStore(),
		pos:     pos,
	}
	sim, err := New(local, cfg, Deps{
		Presence:   p.dir,
		Players:    p.dir,
		Factions:   p.dir,
		Visuals:    p.visuals,
		Outbound:   p.out,
		Inbound:    p.in,
		Cooldowns:  p.store,
		Mounts:     mounts,
		Structures: spawn.NewStaticSource(cfg.Spawn.CellSize, structures),
	})
	require.NoError(t, err)
	p.sim = sim
	return p
}

func (p *peer) tick(now time.Time) {
	p.dir.UpdateLocal(presence.Heartbeat{Position: p.pos}, now)
	p.sim.Tick(context.Background(), now)
}

func raiderCamp(id string, x, y float64) spawn.Structure {
	return spawn.Structure{ID: id, Family: entity.FamilyRaider, Position: vec.Vec2Float{X: x, Y: y}}
}

func remoteSpawn(id entity.ID, f entity.Family, owner string, term uint64, home vec.Vec2Float) replication.Message {
	return replication.NewSpawn(replication.Spawn{
		EntityID:  string(id),
		Family:    uint8(f),
		SpawnedBy: owner,
		Position:  replication.PointOf(home),
		Home:      replication.PointOf(home),
		Owner:     owner,
		Term:      term,
	})
}

func TestNewRequiresParticipant(t *testing.T) {
	_, err := New("", DefaultConfig(), Deps{})
	assert.ErrorIs(t, err, ErrNoParticipant)

	sim, err := New("a", DefaultConfig(), Deps{})
	require.NoError(t, err)
	assert.NotPanics(t, func() { sim.Tick(context.Background(), time.Unix(1000, 0)) }, "заглушки вместо всех коллабораторов")
	require.NotNil(t, sim.Snapshot())
	assert.Equal(t, uint64(1), sim.Snapshot().Tick)
}

func TestLocalSpawn(t *testing.T) {
	t0 := time.Unix(1000, 0)
	// игрок дальше радиуса преследования: налётчик остаётся в idle
	p := newPeer(t, "a", vec.Vec2Float{}, DefaultConfig(), []spawn.Structure{raiderCamp("7", 100, 0)}, nil)

	var hooked []bool
	p.sim.RegisterOccupancyHook("7", func(structureID string, f entity.Family, occupied bool) {
		assert.Equal(t, entity.FamilyRaider, f)
		hooked = append(hooked, occupied)
	})

	p.tick(t0)

	e, ok := p.sim.Registry().Get("tent_7")
	require.True(t, ok, "сущность создана у постройки")
	assert.Equal(t, "a", e.Ownership.OwnerID)
	assert.Equal(t, uint64(1), e.Ownership.Term)
	assert.Equal(t, "a", e.SpawnedBy)
	assert.Equal(t, []entity.ID{"tent_7"}, p.visuals.created)
	assert.Equal(t, []bool{true}, hooked)

	require.Len(t, p.out.ofKind(replication.KindSpawn), 1)
	assert.Len(t, p.out.ofKind(replication.KindHeartbeat), 1)

	assert.Equal(t, 1, p.sim.OwnedCount("a"))
	assert.Equal(t, map[string]int{"a": 1}, p.sim.CountsByOwner())

	hostiles := p.sim.HostileNear(vec.Vec2Float{X: 100}, 5)
	require.Len(t, hostiles, 1)
	assert.Equal(t, "tent_7", hostiles[0].ID)
	assert.Empty(t, p.sim.HostileNear(vec.Vec2Float{X: -200}, 5))

	t.Run("StateBroadcast", func(t *testing.T) {
		p.out.msgs = nil
		p.tick(t0.Add(50 * time.Millisecond))
		states := p.out.ofKind(replication.KindState)
		require.Len(t, states, 1, "первый state сразу после спавна")
		assert.Equal(t, "tent_7", states[0].State.EntityID)

		p.out.msgs = nil
		p.tick(t0.Add(100 * time.Millisecond))
		assert.Empty(t, p.out.ofKind(replication.KindState), "до StateInterval повтора нет")
	})
}

func TestRemoteDeathSticky(t *testing.T) {
	t0 := time.Unix(1000, 0)
	p := newPeer(t, "b", vec.Vec2Float{}, DefaultConfig(), nil, nil)
	home := vec.Vec2Float{X: 30}

	var hooked []bool
	p.sim.RegisterOccupancyHook("9", func(_ string, _ entity.Family, occupied bool) {
		hooked = append(hooked, occupied)
	})

	p.dir.Heartbeat(presence.Heartbeat{ParticipantID: "a", Position: vec.Vec2Float{X: 5}}, t0)
	p.in.push(remoteSpawn("tent_9", entity.FamilyRaider, "a", 1, home))
	p.tick(t0)

	e, ok := p.sim.Registry().Get("tent_9")
	require.True(t, ok)
	assert.Equal(t, "a", e.Ownership.OwnerID, "меньший ID владеет, мы следуем")

	now := t0.Add(100 * time.Millisecond)
	p.dir.Heartbeat(presence.Heartbeat{ParticipantID: "a", Position: vec.Vec2Float{X: 5}}, now)
	p.in.push(replication.NewDeath(replication.Death{EntityID: "tent_9", KilledBy: "p1"}))
	p.tick(now)
	require.True(t, e.IsDead())
	assert.Equal(t, "p1", e.KilledBy)
	assert.Equal(t, []bool{true, false}, hooked)
	assert.Empty(t, p.out.ofKind(replication.KindDeath), "чужую смерть не пересылаем")

	active, err := p.store.Active(context.Background(), spawn.CooldownKey(entity.FamilyRaider, "9"))
	require.NoError(t, err)
	assert.True(t, active, "смерть запускает перезарядку постройки")

	now = now.Add(100 * time.Millisecond)
	p.in.push(replication.NewState(replication.State{EntityID: "tent_9", OwnerID: "a", Term: 9, State: "idle"}))
	p.tick(now)
	assert.True(t, e.IsDead(), "из dead не возвращаются")

	now = now.Add(6 * time.Second)
	p.tick(now)
	assert.Equal(t, []entity.ID{"tent_9"}, p.visuals.destroyed, "визуал удалён после задержки")
	assert.True(t, p.sim.Registry().Has("tent_9"), "запись остаётся до выгрузки региона")

	assert.Equal(t, 1, p.sim.UnloadRegion(home.CellOf(DefaultConfig().Authority.CellSize)))
	assert.False(t, p.sim.Registry().Has("tent_9"))
}

func TestKillAck(t *testing.T) {
	t0 := time.Unix(1000, 0)
	p := newPeer(t, "a", vec.Vec2Float{}, DefaultConfig(), []spawn.Structure{raiderCamp("7", 20, 10)}, nil)
	p.tick(t0)
	e, ok := p.sim.Registry().Get("tent_7")
	require.True(t, ok)

	now := t0.Add(100 * time.Millisecond)
	combat.RecordKill(e, "p1", now)
	combat.RecordKill(e, "p2", t0.Add(-time.Minute))
	p.in.push(
		replication.NewKillAck(replication.KillAck{EntityID: "tent_7", PlayerID: "p1"}),
		replication.NewKillAck(replication.KillAck{EntityID: "tent_404", PlayerID: "p1"}),
	)
	p.tick(now)
	assert.NotContains(t, e.Combat.PendingKills, "p1", "подтверждение снимает ожидание")
	assert.NotContains(t, e.Combat.PendingKills, "p2", "просроченное ожидание снято")
}

func TestNPCDamageResolvedByTargetOwner(t *testing.T) {
	t0 := time.Unix(1000, 0)
	cfg := DefaultConfig()
	p := newPeer(t, "a", vec.Vec2Float{}, cfg, []spawn.Structure{raiderCamp("7", 20, 10)}, nil)
	p.tick(t0)
	require.True(t, p.sim.Registry().Has("tent_7"))

	// ополченец участника b далеко: им владеет b
	far := vec.Vec2Float{X: 300}
	now := t0.Add(100 * time.Millisecond)
	p.dir.Heartbeat(presence.Heartbeat{ParticipantID: "b", Position: far}, now)
	p.in.push(remoteSpawn("militia_5", entity.FamilyFactionDefender, "b", 1, far))
	p.tick(now)
	militia, ok := p.sim.Registry().Get("militia_5")
	require.True(t, ok)
	assert.Equal(t, "b", militia.Ownership.OwnerID)

	chance := cfg.Combat.For(entity.FamilyFactionDefender).HitChance
	shot := uint32(1)
	for !combat.Hits("militia_5", shot, chance) {
		shot++
	}
	p.out.msgs = nil
	now = now.Add(100 * time.Millisecond)
	p.dir.Heartbeat(presence.Heartbeat{ParticipantID: "b", Position: far}, now)
	p.in.push(replication.NewShoot(replication.Shoot{
		EntityID:   "militia_5",
		OwnerID:    "b",
		TargetID:   "tent_7",
		TargetType: "npc",
		ShotCount:  shot,
		DidHit:     true,
		Damage:     1000,
	}))
	p.tick(now)

	tent, _ := p.sim.Registry().Get("tent_7")
	assert.True(t, tent.IsDead(), "владелец цели применяет урон")
	deaths := p.out.ofKind(replication.KindDeath)
	require.Len(t, deaths, 1)
	assert.Equal(t, "militia_5", deaths[0].Death.KilledBy)
	assert.Equal(t, shot, militia.Combat.ShotCount, "счётчик выстрелов принят")
}

func TestDuplicateShootAppliedOnce(t *testing.T) {
	t0 := time.Unix(1000, 0)
	cfg := DefaultConfig()
	p := newPeer(t, "a", vec.Vec2Float{}, cfg, []spawn.Structure{raiderCamp("7", 20, 10)}, nil)
	p.tick(t0)
	tent, ok := p.sim.Registry().Get("tent_7")
	require.True(t, ok)
	full := tent.Health
	require.Greater(t, full, 0.0)

	far := vec.Vec2Float{X: 300}
	now := t0.Add(100 * time.Millisecond)
	p.dir.Heartbeat(presence.Heartbeat{ParticipantID: "b", Position: far}, now)
	p.in.push(remoteSpawn("militia_5", entity.FamilyFactionDefender, "b", 1, far))
	p.tick(now)
	require.True(t, p.sim.Registry().Has("militia_5"))

	chance := cfg.Combat.For(entity.FamilyFactionDefender).HitChance
	nextHit := func(after uint32) uint32 {
		n := after + 1
		for !combat.Hits("militia_5", n, chance) {
			n++
		}
		return n
	}
	damage := full * 0.6
	shoot := func(n uint32) replication.Message {
		return replication.NewShoot(replication.Shoot{
			EntityID:   "militia_5",
			OwnerID:    "b",
			TargetID:   "tent_7",
			TargetType: "npc",
			ShotCount:  n,
			DidHit:     true,
			Damage:     damage,
		})
	}
	step := func(msgs ...replication.Message) {
		now = now.Add(100 * time.Millisecond)
		p.dir.Heartbeat(presence.Heartbeat{ParticipantID: "b", Position: far}, now)
		p.in.push(msgs...)
		p.tick(now)
	}

	first := nextHit(0)
	t.Run("ПовторВОдномТике", func(t *testing.T) {
		step(shoot(first), shoot(first))
		assert.False(t, tent.IsDead(), "один выстрел на 60% не убивает")
		assert.InDelta(t, full-damage, tent.Health, 1e-9)
	})

	t.Run("ПовторПозже", func(t *testing.T) {
		step(shoot(first))
		assert.False(t, tent.IsDead())
		assert.InDelta(t, full-damage, tent.Health, 1e-9, "повторная доставка не наносит урон")
	})

	t.Run("StateРаньшеВыстрела", func(t *testing.T) {
		second := nextHit(first)
		militia, _ := p.sim.Registry().Get("militia_5")
		step(replication.NewState(replication.State{
			EntityID:  "militia_5",
			OwnerID:   "b",
			Term:      1,
			Position:  replication.PointOf(far),
			ShotCount: second,
			Health:    militia.Health,
		}), shoot(second))
		assert.Equal(t, second, militia.Combat.ShotCount)
		assert.True(t, tent.IsDead(), "state с тем же номером не блокирует настоящий выстрел")
		require.Len(t, p.out.ofKind(replication.KindDeath), 1)
	})
}

func TestOrphanExpiry(t *testing.T) {
	t0 := time.Unix(1000, 0)
	cfg := DefaultConfig()
	cfg.CleanupDistance = 0
	p := newPeer(t, "a", vec.Vec2Float{}, cfg, nil, nil)

	p.in.push(remoteSpawn("tent_3", entity.FamilyRaider, "z", 4, vec.Vec2Float{X: 1000, Y: 1000}))
	p.tick(t0)
	e, ok := p.sim.Registry().Get("tent_3")
	require.True(t, ok)
	assert.False(t, e.OrphanSince.IsZero(), "кандидатов нет, идёт таймер сироты")

	p.tick(t0.Add(cfg.Authority.OrphanTimeout / 2))
	assert.True(t, p.sim.Registry().Has("tent_3"))

	p.tick(t0.Add(cfg.Authority.OrphanTimeout + time.Second))
	assert.False(t, p.sim.Registry().Has("tent_3"), "сирота уничтожена по таймауту")
	assert.Equal(t, []entity.ID{"tent_3"}, p.visuals.destroyed)
}

func TestDistanceCleanup(t *testing.T) {
	t0 := time.Unix(1000, 0)
	p := newPeer(t, "a", vec.Vec2Float{}, DefaultConfig(), nil, nil)
	far := vec.Vec2Float{X: 900}
	p.dir.Heartbeat(presence.Heartbeat{ParticipantID: "b", Position: far}, t0)
	p.in.push(remoteSpawn("tent_4", entity.FamilyRaider, "b", 1, far))
	p.tick(t0)
	assert.False(t, p.sim.Registry().Has("tent_4"), "чужая сущность далеко от игрока не хранится")
}

func TestCannonCrewFollowsMount(t *testing.T) {
	t0 := time.Unix(1000, 0)
	mounts := &fixedMounts{mounts: map[string]Mount{
		"gun1": {Position: vec.Vec2Float{X: 25, Y: 5}, Mode: entity.CrewMounted},
	}}
	crewPost := spawn.Structure{ID: "c1", Family: entity.FamilyCannonCrew, Position: vec.Vec2Float{X: 20}, CannonID: "gun1"}
	p := newPeer(t, "a", vec.Vec2Float{}, DefaultConfig(), []spawn.Structure{crewPost}, mounts)

	p.tick(t0)
	e, ok := p.sim.Registry().Get("crew_c1")
	require.True(t, ok)
	crew, ok := e.CrewOf()
	require.True(t, ok)
	assert.Equal(t, "gun1", crew.CannonID)

	p.tick(t0.Add(100 * time.Millisecond))
	assert.Equal(t, entity.CrewMounted, crew.Mode)
	assert.Equal(t, vec.Vec2Float{X: 25, Y: 5}, e.Position, "расчёт стоит у орудия")

	mounts.mounts["gun1"] = Mount{Position: vec.Vec2Float{X: 25, Y: 5}, Mode: entity.CrewShipboard}
	p.tick(t0.Add(200 * time.Millisecond))
	assert.Equal(t, entity.CrewShipboard, crew.Mode)

	mounts.mounts["gun1"] = Mount{Position: vec.Vec2Float{X: 25, Y: 5}, Mode: entity.CrewOnFoot}
	p.tick(t0.Add(300 * time.Millisecond))
	assert.Equal(t, entity.CrewOnFoot, crew.Mode, "shipboard -> on_foot через mounted")
}
