// Package core оркестратор симуляции NPC одного участника.
//
// Всё состояние меняется только в Tick, который вызывается из одной горутины.
// Транспорт и поиск пути отдают данные через входящие буферы, которые тик
// вычитывает в начале; внешние читатели (HTTP API) видят неизменяемый снимок,
// публикуемый в конце тика.
package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/npc-authority/internal/authority"
	"github.com/annel0/npc-authority/internal/behavior"
	"github.com/annel0/npc-authority/internal/combat"
	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/interp"
	"github.com/annel0/npc-authority/internal/logging"
	"github.com/annel0/npc-authority/internal/metrics"
	"github.com/annel0/npc-authority/internal/observability"
	"github.com/annel0/npc-authority/internal/pathfind"
	"github.com/annel0/npc-authority/internal/presence"
	"github.com/annel0/npc-authority/internal/registry"
	"github.com/annel0/npc-authority/internal/replication"
	"github.com/annel0/npc-authority/internal/spawn"
	"github.com/annel0/npc-authority/internal/terrain"
)

// ErrNoParticipant не задан идентификатор локального участника
var ErrNoParticipant = errors.New("core: пустой идентификатор участника")

// Deps коллабораторы симуляции. Любое поле может быть nil: оно заменяется заглушкой,
// о чём один раз пишется в лог.
type Deps struct {
	Terrain    terrain.Sampler
	Paths      pathfind.Service
	Presence   Presence
	Players    Players
	Factions   Factions
	Visuals    Visuals
	Outbound   Outbound
	Inbound    Inbound
	Cooldowns  CooldownStore
	Mounts     Mounts
	Damage     DamageSink
	Effects    Effects
	Structures spawn.StructureSource
	Metrics    *metrics.SimMetrics
	Tracer     trace.Tracer
}

// replicationStats канал, умеющий отдать свои счётчики
type replicationStats interface {
	Stats() replication.Stats
}

type lastHit struct {
	player string
	at     time.Time
}

// Simulation симуляция NPC локального участника
type Simulation struct {
	cfg     Config
	localID string

	reg     *registry.Registry
	ledger  *authority.Ledger
	machine *behavior.Machine
	interp  *interp.Interpolator
	spawns  *spawn.Queue

	presence   Presence
	players    Players
	factions   Factions
	visuals    Visuals
	out        Outbound
	in         Inbound
	cooldowns  CooldownStore
	mounts     Mounts
	damage     DamageSink
	effects    Effects
	paths      pathfind.Service
	metrics    *metrics.SimMetrics
	tracer     trace.Tracer
	structures spawn.StructureSource

	seq           uint64
	lastTick      time.Time
	nextHeartbeat time.Time
	span          trace.Span
	ctx           context.Context

	frame       *behavior.Frame
	targets     *registry.Scratch[behavior.Target]
	playerBuf   []presence.Participant
	inbound     []replication.Message
	pathResults []pathfind.Result
	removals    []entity.ID
	killBuf     []string
	spawnSent   map[entity.ID]time.Time
	hits        map[entity.ID]lastHit
	shotsSeen   map[entity.ID]uint32

	hooksMu sync.RWMutex
	hooks   map[string]OccupancyHook

	snapshot atomic.Pointer[Snapshot]
	log      *logging.Logger
}

// New собирает симуляцию. Ошибка возвращается только при неверной конфигурации.
func New(localID string, cfg Config, deps Deps) (*Simulation, error) {
	if localID == "" {
		return nil, ErrNoParticipant
	}
	cfg.applyDefaults()
	log := logging.GetComponentLogger("core")

	missing := func(name string) {
		log.Warn("⚠️ Коллаборатор %s не задан, используется заглушка", name)
	}
	if deps.Terrain == nil {
		missing("terrain")
		deps.Terrain = terrain.Flat{}
	}
	if deps.Paths == nil {
		missing("paths")
		deps.Paths = &pathfind.Direct{}
	}
	if deps.Presence == nil {
		missing("presence")
		deps.Presence = noPresence{}
	}
	if deps.Players == nil {
		missing("players")
		deps.Players = noPlayers{}
	}
	if deps.Factions == nil {
		missing("factions")
		deps.Factions = noFactions{}
	}
	if deps.Visuals == nil {
		missing("visuals")
		deps.Visuals = noVisuals{}
	}
	if deps.Outbound == nil {
		missing("outbound")
		deps.Outbound = noOutbound{}
	}
	if deps.Inbound == nil {
		missing("inbound")
		deps.Inbound = noInbound{}
	}
	if deps.Cooldowns == nil {
		missing("cooldowns")
		deps.Cooldowns = noCooldowns{}
	}
	if deps.Mounts == nil {
		missing("mounts")
		deps.Mounts = noMounts{}
	}
	if deps.Damage == nil {
		missing("damage")
		deps.Damage = noDamage{}
	}
	if deps.Effects == nil {
		missing("effects")
		deps.Effects = noEffects{}
	}
	if deps.Structures == nil {
		missing("structures")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewSimMetrics(prometheus.NewRegistry())
	}
	if deps.Tracer == nil {
		deps.Tracer = observability.Tracer()
	}

	speed := terrain.NewSpeedModel(cfg.Speed, deps.Terrain)
	s := &Simulation{
		cfg:        cfg,
		localID:    localID,
		reg:        registry.New(cfg.Authority.CellSize),
		ledger:     authority.NewLedger(localID, cfg.Authority, deps.Presence),
		presence:   deps.Presence,
		players:    deps.Players,
		factions:   deps.Factions,
		visuals:    deps.Visuals,
		out:        deps.Outbound,
		in:         deps.Inbound,
		cooldowns:  deps.Cooldowns,
		mounts:     deps.Mounts,
		damage:     deps.Damage,
		effects:    deps.Effects,
		paths:      deps.Paths,
		metrics:    deps.Metrics,
		tracer:     deps.Tracer,
		structures: deps.Structures,
		frame:      behavior.NewFrame(time.Time{}, 0, nil),
		targets:    registry.NewScratch[behavior.Target](64),
		spawnSent:  make(map[entity.ID]time.Time),
		hits:       make(map[entity.ID]lastHit),
		shotsSeen:  make(map[entity.ID]uint32),
		hooks:      make(map[string]OccupancyHook),
		log:        log,
	}
	s.machine = behavior.NewMachine(cfg.Behavior, cfg.Combat, speed, deps.Paths, s)
	s.interp = interp.New(cfg.Interp, speed, func(f entity.Family) float64 {
		return cfg.Behavior.For(f).BaseSpeed
	})
	s.spawns = spawn.NewQueue(cfg.Spawn, env{s}, deps.Structures, deps.Cooldowns)
	for _, f := range entity.Families() {
		s.spawns.RegisterHandler(f, s.spawnLocal)
	}
	s.snapshot.Store(&Snapshot{Participant: localID, Owners: map[string]int{}})

	log.Info("🧠 Симуляция NPC запущена для участника %s", localID)
	return s, nil
}

// LocalID идентификатор локального участника
func (s *Simulation) LocalID() string {
	return s.localID
}

// Registry реестр сущностей (только из горутины тика)
func (s *Simulation) Registry() *registry.Registry {
	return s.reg
}

// SpawnQueue очередь спавна (только из горутины тика)
func (s *Simulation) SpawnQueue() *spawn.Queue {
	return s.spawns
}

// Tick один кадр симуляции. Не возвращает ошибок: устаревшие данные отбрасываются,
// недоступные коллабораторы пропускаются до следующего тика.
func (s *Simulation) Tick(ctx context.Context, now time.Time) {
	started := time.Now()
	s.seq++
	ctx, span := observability.StartTick(ctx, s.tracer, s.localID, s.seq)
	s.span = span
	s.ctx = ctx
	defer span.End()

	dt := time.Duration(0)
	if !s.lastTick.IsZero() {
		dt = now.Sub(s.lastTick)
		if dt < 0 {
			dt = 0
		}
		if dt > s.cfg.MaxTickDelta {
			dt = s.cfg.MaxTickDelta
		}
	}
	s.lastTick = now

	s.presence.Tick(now)
	s.applyInbound(ctx, now)
	s.applyPaths()
	s.buildFrame(now, dt)
	s.stepEntities(now, dt)

	st := s.spawns.Tick(ctx, now)
	s.metrics.Spawn("evaluated", st.Evaluated)
	s.metrics.Spawn("queued", st.Queued)
	s.metrics.Spawn("executed", st.Executed)
	s.metrics.Spawn("deferred", st.Deferred)
	s.metrics.Spawn("raced", st.Raced)
	s.metrics.Spawn("throttled", st.Throttled)

	s.sendHeartbeat(now)
	s.out.Flush(ctx, now)

	s.publishSnapshot(now)
	if rs, ok := s.out.(replicationStats); ok {
		r := rs.Stats()
		s.metrics.Replication(metrics.ReplicationTotals{
			Received:       r.Received,
			DroppedInbound: r.DroppedInbound,
			Corrupt:        r.Corrupt,
			DroppedOut:     r.DroppedOut,
			BatchesSent:    r.BatchesSent,
			LastBatchSize:  r.LastBatchSize,
		})
	}
	s.metrics.Participants(s.presence.Len())
	s.metrics.ObserveTick(time.Since(started))
	span.SetAttributes(attribute.Int("npc.entities", s.reg.Len()))
	s.span = nil
	s.ctx = nil
}

func (s *Simulation) tickContext() context.Context {
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// applyPaths применяет готовые результаты поиска пути
func (s *Simulation) applyPaths() {
	s.pathResults = s.paths.Drain(s.pathResults[:0])
	for i := range s.pathResults {
		res := s.pathResults[i]
		e, ok := s.reg.Get(res.EntityID)
		if !ok || !s.machine.ApplyPath(e, res) {
			s.metrics.Stale("path")
		}
		s.pathResults[i] = pathfind.Result{}
	}
}

// buildFrame собирает кандидатов в цели один раз за тик
func (s *Simulation) buildFrame(now time.Time, dt time.Duration) {
	s.targets.Reset()
	s.playerBuf = s.players.Targetable(s.playerBuf[:0])
	for _, p := range s.playerBuf {
		s.targets.Append(behavior.Target{
			ID:       p.ParticipantID,
			Type:     behavior.TargetPlayer,
			Faction:  p.Faction,
			Position: p.Position,
			Height:   p.Height,
		})
	}
	s.reg.Each(func(e *entity.Entity) bool {
		if !e.IsDead() {
			s.targets.Append(behavior.Target{
				ID:       string(e.ID),
				Type:     behavior.TargetNPC,
				Faction:  e.Faction,
				Family:   e.Family,
				Position: e.Position,
				Height:   e.Height,
			})
		}
		return true
	})
	s.frame.Reset(now, dt, s.targets.Items())
}

// stepEntities перепроверяет владение и продвигает каждую сущность
func (s *Simulation) stepEntities(now time.Time, dt time.Duration) {
	s.removals = s.removals[:0]
	s.reg.Each(func(e *entity.Entity) bool {
		if e.IsDead() {
			s.teardownVisual(e, now)
			if e.OwnedBy(s.localID) && now.Before(e.VisualDestroyAt) {
				s.broadcastState(e, now)
			}
			if s.outOfRange(e, now) {
				s.removals = append(s.removals, e.ID)
			}
			return true
		}

		decision := s.ledger.Evaluate(e, now)
		switch decision {
		case authority.DecisionClaimed:
			s.machine.Adopt(e, now)
			e.NextBroadcast = time.Time{}
			s.spawnSent[e.ID] = time.Time{}
			observability.EntityEvent(s.span, "claim", string(e.ID), attribute.Int64("npc.term", int64(e.Ownership.Term)))
		case authority.DecisionRelinquished:
			e.Remote.Position = e.Position
			e.Remote.Rotation = e.Rotation
			e.Remote.ReceivedAt = now
			// новый владелец мог не получить spawn: без него он не примет заявку
			s.out.Send(replication.NewSpawn(replication.SpawnOf(e)))
			delete(s.spawnSent, e.ID)
		case authority.DecisionExpired:
			s.log.Debug("🕳️ %s: без владельца дольше %s, удаляется", e.ID, s.cfg.Authority.OrphanTimeout)
			s.removals = append(s.removals, e.ID)
			s.metrics.Decision(decision.String())
			return true
		}
		if decision != authority.DecisionFollow && decision != authority.DecisionSimulate {
			s.metrics.Decision(decision.String())
		}

		if e.OwnedBy(s.localID) {
			s.followMount(e)
			s.machine.Step(e, s.frame)
			s.trackKills(e, now)
			if !e.IsDead() {
				s.broadcastSpawn(e, now)
			}
			s.broadcastState(e, now)
			return true
		}

		s.metrics.Interp(s.interp.Step(e, dt, now).String())
		if s.outOfRange(e, now) {
			s.removals = append(s.removals, e.ID)
		}
		return true
	})
	for _, id := range s.removals {
		s.remove(id)
	}
}

// followMount расчёт орудия повторяет режим и позицию своего орудия
func (s *Simulation) followMount(e *entity.Entity) {
	crew, ok := e.CrewOf()
	if !ok || crew.CannonID == "" {
		return
	}
	m, ok := s.mounts.Mount(crew.CannonID)
	if !ok {
		return
	}
	if crew.Mode != m.Mode {
		// on_foot -> shipboard и обратно идут через mounted
		if err := crew.SetMode(m.Mode); err != nil {
			if err := crew.SetMode(entity.CrewMounted); err == nil {
				_ = crew.SetMode(m.Mode)
			}
		}
		e.NextBroadcast = time.Time{}
	}
	if crew.Mode.FollowsMount() {
		e.Position = m.Position
		if e.Target == "" {
			e.Rotation = m.Rotation
		}
	}
}

// broadcastState рассылает state владельца с периодом StateInterval
func (s *Simulation) broadcastState(e *entity.Entity, now time.Time) {
	if now.Before(e.NextBroadcast) {
		return
	}
	e.NextBroadcast = now.Add(s.cfg.StateInterval)
	kills := combat.PendingKillIDs(e, nil)
	s.out.Send(replication.NewState(replication.StateOf(e, kills)))
}

// broadcastSpawn повторяет spawn владельца: участник, потерявший spawn, получит сущность
func (s *Simulation) broadcastSpawn(e *entity.Entity, now time.Time) {
	if last, ok := s.spawnSent[e.ID]; ok && now.Sub(last) < s.cfg.SpawnRepeat {
		return
	}
	s.spawnSent[e.ID] = now
	s.out.Send(replication.NewSpawn(replication.SpawnOf(e)))
}

// sendHeartbeat рассылает сведения о локальном игроке
func (s *Simulation) sendHeartbeat(now time.Time) {
	if now.Before(s.nextHeartbeat) {
		return
	}
	p, ok := s.players.Lookup(s.localID)
	if !ok {
		return
	}
	s.nextHeartbeat = now.Add(s.cfg.HeartbeatInterval)
	s.out.Send(replication.NewHeartbeat(replication.Heartbeat{
		ParticipantID:  s.localID,
		Position:       replication.PointOf(p.Position),
		Height:         p.Height,
		Faction:        p.Faction,
		Dead:           p.Dead,
		SpawnProtected: p.SpawnProtected,
	}))
}

// outOfRange проверка с периодом CleanupInterval: чужая сущность далеко от игрока
func (s *Simulation) outOfRange(e *entity.Entity, now time.Time) bool {
	if s.cfg.CleanupDistance <= 0 || e.OwnedBy(s.localID) {
		return false
	}
	if now.Sub(e.LastCleanupCheck) < s.cfg.CleanupInterval {
		return false
	}
	e.LastCleanupCheck = now
	local, ok := s.players.LocalPosition()
	if !ok {
		return false
	}
	return e.Home.DistanceTo(local) > s.cfg.CleanupDistance
}
