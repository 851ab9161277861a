// Package behavior машина поведения NPC на стороне владельца: поиск цели, поводок,
// движение по пути, опасная местность, стрельба и смерть.
package behavior

import (
	"math"
	"time"

	"github.com/annel0/npc-authority/internal/combat"
	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/logging"
	"github.com/annel0/npc-authority/internal/pathfind"
	"github.com/annel0/npc-authority/internal/terrain"
	"github.com/annel0/npc-authority/internal/vec"
)

// leashEpsilon допуск при сравнении с границей поводка
const leashEpsilon = 1e-6

// maxStepsPerTick сколько точек пути можно пройти за один тик
const maxStepsPerTick = 8

// Sink получатель событий машины поведения
type Sink interface {
	// Fired сущность выстрелила по цели
	Fired(e *entity.Entity, shot combat.Shot, target Target)
}

type nopSink struct{}

func (nopSink) Fired(*entity.Entity, combat.Shot, Target) {}

// Frame данные тика, общие для всех сущностей
type Frame struct {
	Now     time.Time
	Dt      time.Duration
	Targets []Target
	byID    map[string]int
}

// NewFrame создаёт кадр; targets не копируется
func NewFrame(now time.Time, dt time.Duration, targets []Target) *Frame {
	f := &Frame{byID: make(map[string]int, len(targets))}
	f.Reset(now, dt, targets)
	return f
}

// Reset переиспользует кадр для следующего тика
func (f *Frame) Reset(now time.Time, dt time.Duration, targets []Target) {
	f.Now = now
	f.Dt = dt
	f.Targets = targets
	for k := range f.byID {
		delete(f.byID, k)
	}
	for i := range targets {
		f.byID[targets[i].ID] = i
	}
}

// Lookup ищет цель по ID
func (f *Frame) Lookup(id string) (Target, bool) {
	idx, ok := f.byID[id]
	if !ok {
		return Target{}, false
	}
	return f.Targets[idx], true
}

// Machine машина поведения. Не хранит состояния сущностей, кроме счётчика запросов пути.
type Machine struct {
	cfg    Config
	combat combat.Config
	speed  *terrain.SpeedModel
	paths  pathfind.Service
	sink   Sink
	seq    uint64
	log    *logging.Logger
}

// NewMachine создаёт машину поведения. Отсутствующие зависимости заменяются заглушками.
func NewMachine(cfg Config, combatCfg combat.Config, speed *terrain.SpeedModel, paths pathfind.Service, sink Sink) *Machine {
	if speed == nil {
		speed = terrain.NewSpeedModel(terrain.DefaultSpeedConfig(), nil)
	}
	if paths == nil {
		paths = &pathfind.Direct{}
	}
	if sink == nil {
		sink = nopSink{}
	}
	return &Machine{
		cfg:    cfg,
		combat: combatCfg,
		speed:  speed,
		paths:  paths,
		sink:   sink,
		log:    logging.GetBehaviorLogger(),
	}
}

// Config параметры машины
func (m *Machine) Config() Config {
	return m.cfg
}

// Init заполняет поля новой сущности: здоровье, сдвиг проверок, высоту
func (m *Machine) Init(e *entity.Entity, now time.Time) {
	fc := m.cfg.For(e.Family)
	e.Health = fc.MaxHealth
	e.StaggerOffset = Stagger(e.ID, m.cfg.StaggerWindow)
	e.NextTargetCheck = now.Add(e.StaggerOffset)
	m.updateHeight(e)
}

// Adopt подготавливает сущность, только что перешедшую к локальному владельцу:
// старый путь и кэш скорости недействительны, цель перепроверяется в ближайший тик.
func (m *Machine) Adopt(e *entity.Entity, now time.Time) {
	e.Path.Clear()
	e.SpeedCache = 0
	e.NextTargetCheck = now
	if !m.speed.Sampler().IsHazard(e.Position) {
		e.LastSafe = e.Position
	}
	m.updateHeight(e)
}

// Step один тик симуляции сущности, которой владеет локальный участник
func (m *Machine) Step(e *entity.Entity, f *Frame) {
	if e.IsDead() {
		return
	}
	fc := m.cfg.For(e.Family)
	m.updateTarget(e, fc, f)
	m.updateMovement(e, fc, f)
	m.fire(e, f)
}

// ApplyPath применяет асинхронный результат поиска пути.
// Результат для устаревшего запроса отбрасывается (false).
func (m *Machine) ApplyPath(e *entity.Entity, res pathfind.Result) bool {
	if e.IsDead() || !e.Path.Pending || res.Seq != e.Path.PendingSeq {
		return false
	}
	e.Path.Pending = false
	e.Path.Cursor = 0
	e.Path.Waypoints = e.Path.Waypoints[:0]
	if res.OK && len(res.Waypoints) > 0 {
		e.Path.Waypoints = append(e.Path.Waypoints, res.Waypoints...)
	} else {
		e.Path.Waypoints = append(e.Path.Waypoints, e.Path.Goal)
	}
	return true
}

// Kill переводит сущность в dead. false если она уже мертва.
func (m *Machine) Kill(e *entity.Entity, killedBy string, now time.Time) bool {
	if e.IsDead() {
		return false
	}
	if err := e.Transition(entity.StateDead); err != nil {
		m.log.Warn("⚠️ %s: %v", e.ID, err)
		return false
	}
	e.KilledBy = killedBy
	e.DeadAt = now
	e.VisualDestroyAt = now.Add(m.cfg.VisualGrace)
	e.Path.Clear()
	e.ClearTarget()
	e.Moving = false
	e.NextBroadcast = time.Time{}
	return true
}

func (m *Machine) transition(e *entity.Entity, to entity.State) {
	from := e.State
	if err := e.Transition(to); err != nil {
		m.log.Debug("%s: %v", e.ID, err)
		return
	}
	if from != to {
		// смена состояния рассылается в этом же тике
		e.NextBroadcast = time.Time{}
		m.log.Trace("%s: %s -> %s", e.ID, from, to)
	}
}

func (m *Machine) loseTarget(e *entity.Entity) {
	e.ClearTarget()
	if e.State == entity.StateChasing || e.State == entity.StateLeashed {
		m.transition(e, entity.StateReturning)
	}
}

func (m *Machine) updateTarget(e *entity.Entity, fc FamilyConfig, f *Frame) {
	if e.Target != "" {
		if _, ok := f.Lookup(e.Target); !ok {
			m.loseTarget(e)
		}
	}
	if f.Now.Before(e.NextTargetCheck) {
		return
	}
	e.NextTargetCheck = f.Now.Add(fc.CheckInterval(e.State))

	returning := e.State == entity.StateReturning
	t, ok := SelectTarget(e.Position, fc.ChaseRadius, m.cfg.TieEpsilon, f.Targets, func(t Target) bool {
		if !Eligible(e, t) {
			return false
		}
		// возвращающийся NPC реагирует только на цели в пределах поводка
		if returning && !fc.Static && fc.LeashRange > 0 && e.Home.DistanceTo(t.Position) > fc.LeashRange {
			return false
		}
		return true
	})
	if !ok {
		if e.Target != "" {
			m.loseTarget(e)
		}
		return
	}
	if t.ID != e.Target {
		e.Target = t.ID
		e.TargetType = t.Type
		e.Combat.TargetAcquiredAt = f.Now
	}
	e.InCombat = true
	if e.State == entity.StateIdle || e.State == entity.StateReturning {
		m.transition(e, entity.StateChasing)
	}
}

func (m *Machine) stationary(e *entity.Entity, fc FamilyConfig) bool {
	if fc.Static {
		return true
	}
	if crew, ok := e.CrewOf(); ok && crew.Mode.FollowsMount() {
		return true
	}
	return false
}

func (m *Machine) canFire(e *entity.Entity) bool {
	if crew, ok := e.CrewOf(); ok {
		return crew.Mode.CanFire()
	}
	return true
}

func (m *Machine) updateMovement(e *entity.Entity, fc FamilyConfig, f *Frame) {
	target, hasTarget := Target{}, false
	if e.Target != "" {
		target, hasTarget = f.Lookup(e.Target)
	}

	if m.stationary(e, fc) {
		e.Moving = false
		if hasTarget {
			m.face(e, target.Position, f.Dt)
		} else if e.State == entity.StateReturning {
			m.transition(e, entity.StateIdle)
		}
		return
	}

	switch e.State {
	case entity.StateIdle:
		e.Moving = false

	case entity.StateChasing, entity.StateLeashed:
		if !hasTarget {
			e.Moving = false
			return
		}
		goal := ClampToLeash(e.Home, target.Position, fc.LeashRange)
		beyond := fc.LeashRange > 0 && e.Home.DistanceTo(target.Position) > fc.LeashRange
		if e.State == entity.StateLeashed {
			if beyond && e.Position.DistanceTo(goal) <= m.cfg.RepathDistance {
				e.Moving = false
				m.face(e, target.Position, f.Dt)
				return
			}
			m.transition(e, entity.StateChasing)
		}
		if m.canFire(e) {
			p := m.combat.For(e.Family)
			hold := combat.EffectiveRange(p, e.Height, target.Height) * m.cfg.HoldFactor
			if e.Position.DistanceTo(target.Position) <= hold {
				e.Moving = false
				m.face(e, target.Position, f.Dt)
				return
			}
		}
		m.ensurePath(e, fc, goal, f.Now)
		m.advance(e, fc, f, goal)
		if e.State == entity.StateChasing && beyond && e.Position.DistanceTo(goal) <= leashEpsilon*1e3 {
			m.transition(e, entity.StateLeashed)
		}

	case entity.StateReturning:
		if e.Position.DistanceTo(e.Home) <= fc.HomeRadius {
			e.Path.Clear()
			e.Moving = false
			m.transition(e, entity.StateIdle)
			return
		}
		m.ensurePath(e, fc, e.Home, f.Now)
		m.advance(e, fc, f, e.Home)
	}
}

func (m *Machine) ensurePath(e *entity.Entity, fc FamilyConfig, goal vec.Vec2Float, now time.Time) {
	need := false
	switch {
	case !e.Path.Active() && !e.Path.Pending:
		need = e.Position.DistanceTo(goal) > leashEpsilon
	case e.Path.Goal.DistanceTo(goal) > m.cfg.RepathDistance && !now.Before(e.Path.NextRequest):
		need = true
	}
	if need {
		m.requestPath(e, fc, goal, now)
	}
}

func (m *Machine) requestPath(e *entity.Entity, fc FamilyConfig, goal vec.Vec2Float, now time.Time) {
	m.seq++
	e.Path.PendingSeq = m.seq
	e.Path.Pending = true
	e.Path.Goal = goal
	e.Path.NextRequest = now.Add(fc.PathInterval + jitter(e.ID, m.seq, fc.PathJitter))
	ok := m.paths.Request(pathfind.Request{EntityID: e.ID, Seq: m.seq, From: e.Position, To: goal})
	if !ok {
		e.Path.Pending = false
		e.Path.Cursor = 0
		e.Path.Waypoints = append(e.Path.Waypoints[:0], goal)
	}
}

// advance двигает сущность по пути; пока путь не пришёл, идёт к цели напрямую
func (m *Machine) advance(e *entity.Entity, fc FamilyConfig, f *Frame, goal vec.Vec2Float) {
	dt := f.Dt.Seconds()
	if dt <= 0 {
		return
	}
	sampler := m.speed.Sampler()
	prev := e.Position
	pos := e.Position

	heading := goal
	if wp, ok := e.Path.Current(); ok {
		heading = wp
	}
	remaining := m.speed.Throttled(&e.SpeedCache, &e.NextSpeedRecalc, f.Now, fc.BaseSpeed, pos, heading) * dt

	for i := 0; i < maxStepsPerTick && remaining > 0; i++ {
		waypoint, onPath := e.Path.Current()
		if !onPath {
			waypoint = goal
		}
		next, reached := pos.MoveTowards(waypoint, remaining)

		if sampler.IsHazard(next) {
			m.onHazard(e, fc, f.Now)
			break
		}
		if e.State == entity.StateChasing && fc.LeashRange > 0 && next.DistanceTo(e.Home) > fc.LeashRange+leashEpsilon {
			next = ClampToLeash(e.Home, next, fc.LeashRange)
			remaining = 0
			pos = next
			m.transition(e, entity.StateLeashed)
			break
		}

		remaining -= pos.DistanceTo(next)
		pos = next
		if !reached {
			break
		}
		if onPath {
			e.Path.Cursor++
			continue
		}
		break
	}

	e.Position = pos
	e.Moving = pos != prev
	if e.Moving {
		m.face(e, pos.Add(pos.Sub(prev)), f.Dt)
		if !sampler.IsHazard(pos) {
			e.LastSafe = pos
		}
	}
	m.updateHeight(e)
}

// onHazard впереди вода: путь сбрасывается, NPC отходит к последней безопасной точке
// и возвращается домой; новый путь запрашивается сразу.
func (m *Machine) onHazard(e *entity.Entity, fc FamilyConfig, now time.Time) {
	e.Path.Clear()
	e.Path.Waypoints = append(e.Path.Waypoints, e.LastSafe)
	if e.State != entity.StateReturning {
		e.ClearTarget()
		m.transition(e, entity.StateReturning)
	}
	m.log.Debug("🌊 %s: опасная местность, отход к %.1f,%.1f", e.ID, e.LastSafe.X, e.LastSafe.Y)
	m.requestPath(e, fc, e.Home, now)
}

func (m *Machine) face(e *entity.Entity, toward vec.Vec2Float, dt time.Duration) {
	if toward == e.Position {
		return
	}
	maxTurn := m.cfg.TurnRate * dt.Seconds()
	if maxTurn <= 0 {
		maxTurn = math.Pi
	}
	e.Rotation = vec.TurnTowards(e.Rotation, e.Position.HeadingTo(toward), maxTurn)
}

func (m *Machine) updateHeight(e *entity.Entity) {
	e.Height = m.speed.Sampler().HeightAt(e.Position)
	if tower, ok := e.TowerOf(); ok {
		e.Height += tower.Elevation
	}
}

func (m *Machine) fire(e *entity.Entity, f *Frame) {
	if e.Target == "" || (e.State != entity.StateChasing && e.State != entity.StateLeashed) {
		return
	}
	if !m.canFire(e) {
		return
	}
	target, ok := f.Lookup(e.Target)
	if !ok {
		return
	}
	p := m.combat.For(e.Family)
	if p.Check(e, target.Position, target.Height, f.Now) != combat.GateOpen {
		return
	}
	shot := combat.Fire(e, p, f.Now)
	e.InCombat = true
	m.sink.Fired(e, shot, target)
}
