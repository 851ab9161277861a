package behavior

import (
	"time"

	"github.com/annel0/npc-authority/internal/entity"
)

// FamilyConfig параметры поведения семейства
type FamilyConfig struct {
	BaseSpeed   float64 `yaml:"base_speed"`
	ChaseRadius float64 `yaml:"chase_radius"`
	LeashRange  float64 `yaml:"leash_range"`
	// HomeRadius на каком расстоянии от дома возвращение считается завершённым
	HomeRadius float64 `yaml:"home_radius"`
	MaxHealth  float64 `yaml:"max_health"`
	// Static сущность не перемещается (стрелки на башнях)
	Static bool `yaml:"static"`

	IdleCheck   time.Duration `yaml:"idle_check"`
	ChaseCheck  time.Duration `yaml:"chase_check"`
	ReturnCheck time.Duration `yaml:"return_check"`

	PathInterval time.Duration `yaml:"path_interval"`
	PathJitter   time.Duration `yaml:"path_jitter"`
}

// Config параметры машины поведения
type Config struct {
	Raider   FamilyConfig `yaml:"raider"`
	Defender FamilyConfig `yaml:"faction_defender"`
	Tower    FamilyConfig `yaml:"tower_defender"`
	Cannon   FamilyConfig `yaml:"cannon_crew"`

	// TieEpsilon разница дистанций, при которой цели считаются равноудалёнными
	TieEpsilon float64 `yaml:"tie_epsilon"`
	// TurnRate максимальная скорость поворота, рад/с
	TurnRate float64 `yaml:"turn_rate"`
	// RepathDistance насколько должна сместиться цель пути для нового запроса
	RepathDistance float64 `yaml:"repath_distance"`
	// HoldFactor доля дальности стрельбы, ближе которой NPC стоит и стреляет
	HoldFactor float64 `yaml:"hold_factor"`
	// VisualGrace задержка удаления визуала после смерти
	VisualGrace time.Duration `yaml:"visual_grace"`
	// StaggerWindow окно разброса проверок между сущностями
	StaggerWindow time.Duration `yaml:"stagger_window"`
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	walker := FamilyConfig{
		BaseSpeed:    4,
		ChaseRadius:  35,
		LeashRange:   30,
		HomeRadius:   1.5,
		MaxHealth:    100,
		IdleCheck:    time.Second,
		ChaseCheck:   300 * time.Millisecond,
		ReturnCheck:  time.Second,
		PathInterval: 2 * time.Second,
		PathJitter:   500 * time.Millisecond,
	}
	defender := walker
	defender.BaseSpeed = 3.5
	defender.ChaseRadius = 40
	defender.LeashRange = 45
	defender.MaxHealth = 120

	tower := walker
	tower.Static = true
	tower.ChaseRadius = 60
	tower.LeashRange = 0
	tower.MaxHealth = 80

	cannon := walker
	cannon.BaseSpeed = 3
	cannon.ChaseRadius = 120
	cannon.LeashRange = 20
	cannon.MaxHealth = 150

	return Config{
		Raider:         walker,
		Defender:       defender,
		Tower:          tower,
		Cannon:         cannon,
		TieEpsilon:     0.01,
		TurnRate:       6,
		RepathDistance: 2,
		HoldFactor:     0.8,
		VisualGrace:    5 * time.Second,
		StaggerWindow:  time.Second,
	}
}

// For параметры семейства
func (c Config) For(f entity.Family) FamilyConfig {
	switch f {
	case entity.FamilyFactionDefender:
		return c.Defender
	case entity.FamilyTowerDefender:
		return c.Tower
	case entity.FamilyCannonCrew:
		return c.Cannon
	default:
		return c.Raider
	}
}

// CheckInterval период поиска цели для состояния
func (fc FamilyConfig) CheckInterval(st entity.State) time.Duration {
	switch st {
	case entity.StateChasing, entity.StateLeashed:
		return fc.ChaseCheck
	case entity.StateReturning:
		return fc.ReturnCheck
	default:
		return fc.IdleCheck
	}
}
