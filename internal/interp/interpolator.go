// Package interp сглаживание сущностей, которыми владеет другой участник.
// Логика поведения здесь не выполняется: только движение к последнему полученному состоянию.
package interp

import (
	"math"
	"time"

	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/terrain"
	"github.com/annel0/npc-authority/internal/vec"
)

// Config параметры интерполяции
type Config struct {
	// SnapDistance ближе этого позиция ставится в цель сразу
	SnapDistance float64 `yaml:"snap_distance"`
	// TeleportDistance дальше этого: телепорт (пропущенные обновления)
	TeleportDistance float64 `yaml:"teleport_distance"`
	// CatchUpDistance отставание, после которого скорость умножается
	CatchUpDistance   float64 `yaml:"catch_up_distance"`
	CatchUpMultiplier float64 `yaml:"catch_up_multiplier"`
	// TurnRate максимальная скорость поворота, рад/с
	TurnRate float64 `yaml:"turn_rate"`
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		SnapDistance:      0.05,
		TeleportDistance:  25,
		CatchUpDistance:   4,
		CatchUpMultiplier: 1.8,
		TurnRate:          6,
	}
}

// Outcome что произошло с позицией за шаг
type Outcome uint8

const (
	OutcomeMoved Outcome = iota
	OutcomeSnapped
	OutcomeTeleported
)

// String имя исхода (метрики)
func (o Outcome) String() string {
	switch o {
	case OutcomeSnapped:
		return "snap"
	case OutcomeTeleported:
		return "teleport"
	default:
		return "move"
	}
}

// Interpolator двигает локальное представление к удалённому состоянию
type Interpolator struct {
	cfg       Config
	speed     *terrain.SpeedModel
	baseSpeed func(entity.Family) float64
}

// New создаёт интерполятор. baseSpeed: базовая скорость семейства, та же что у владельца.
func New(cfg Config, speed *terrain.SpeedModel, baseSpeed func(entity.Family) float64) *Interpolator {
	if speed == nil {
		speed = terrain.NewSpeedModel(terrain.DefaultSpeedConfig(), nil)
	}
	if baseSpeed == nil {
		baseSpeed = func(entity.Family) float64 { return 4 }
	}
	return &Interpolator{cfg: cfg, speed: speed, baseSpeed: baseSpeed}
}

// Step продвигает позицию и поворот на dt
func (ip *Interpolator) Step(e *entity.Entity, dt time.Duration, now time.Time) Outcome {
	target := e.Remote.Position
	gap := e.Position.DistanceTo(target)
	outcome := OutcomeMoved
	prev := e.Position

	switch {
	case gap <= ip.cfg.SnapDistance:
		e.Position = target
		outcome = OutcomeSnapped
	case gap >= ip.cfg.TeleportDistance:
		e.Position = target
		outcome = OutcomeTeleported
	default:
		speed := ip.speed.Throttled(&e.SpeedCache, &e.NextSpeedRecalc, now, ip.baseSpeed(e.Family), e.Position, target)
		if gap > ip.cfg.CatchUpDistance {
			speed *= ip.cfg.CatchUpMultiplier
		}
		e.Position, _ = e.Position.MoveTowards(target, speed*dt.Seconds())
	}

	e.Moving = e.Remote.Moving || outcome == OutcomeMoved
	e.InCombat = e.Remote.InCombat

	desired := e.Remote.Rotation
	if outcome == OutcomeMoved && e.Position != prev {
		desired = prev.HeadingTo(e.Position)
	}
	maxTurn := ip.cfg.TurnRate * dt.Seconds()
	if outcome == OutcomeTeleported || maxTurn <= 0 {
		maxTurn = math.Pi
	}
	e.Rotation = vec.TurnTowards(e.Rotation, desired, maxTurn)

	e.Height = ip.speed.Sampler().HeightAt(e.Position)
	if tower, ok := e.TowerOf(); ok {
		e.Height += tower.Elevation
	}
	return outcome
}
