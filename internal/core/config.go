package core

import (
	"time"

	"github.com/annel0/npc-authority/internal/authority"
	"github.com/annel0/npc-authority/internal/behavior"
	"github.com/annel0/npc-authority/internal/combat"
	"github.com/annel0/npc-authority/internal/interp"
	"github.com/annel0/npc-authority/internal/spawn"
	"github.com/annel0/npc-authority/internal/terrain"
)

// Config параметры симуляции
type Config struct {
	Authority authority.Config    `yaml:"authority"`
	Spawn     spawn.Config        `yaml:"spawn"`
	Behavior  behavior.Config     `yaml:"behavior"`
	Combat    combat.Config       `yaml:"combat"`
	Interp    interp.Config       `yaml:"interp"`
	Speed     terrain.SpeedConfig `yaml:"speed"`

	// StateInterval период рассылки состояния владельцем
	StateInterval time.Duration `yaml:"state_interval"`
	// HeartbeatInterval период heartbeat локального игрока
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// SpawnRepeat период повторной рассылки spawn (сообщения теряются)
	SpawnRepeat time.Duration `yaml:"spawn_repeat"`
	// CleanupDistance чужие сущности с домом дальше этого от игрока удаляются из реестра
	CleanupDistance float64       `yaml:"cleanup_distance"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	// CooldownTTL перезарядка постройки после смерти её NPC
	CooldownTTL time.Duration `yaml:"cooldown_ttl"`
	// MaxTickDelta предел шага времени (после паузы процесса)
	MaxTickDelta time.Duration `yaml:"max_tick_delta"`
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		Authority:         authority.DefaultConfig(),
		Spawn:             spawn.DefaultConfig(),
		Behavior:          behavior.DefaultConfig(),
		Combat:            combat.DefaultConfig(),
		Interp:            interp.DefaultConfig(),
		Speed:             terrain.DefaultSpeedConfig(),
		StateInterval:     200 * time.Millisecond,
		HeartbeatInterval: time.Second,
		SpawnRepeat:       5 * time.Second,
		CleanupDistance:   400,
		CleanupInterval:   2 * time.Second,
		CooldownTTL:       90 * time.Second,
		MaxTickDelta:      250 * time.Millisecond,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.StateInterval <= 0 {
		c.StateInterval = def.StateInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.SpawnRepeat <= 0 {
		c.SpawnRepeat = def.SpawnRepeat
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.MaxTickDelta <= 0 {
		c.MaxTickDelta = def.MaxTickDelta
	}
	if c.Authority.CellSize <= 0 {
		c.Authority.CellSize = def.Authority.CellSize
	}
	if c.Combat.KillAckTimeout <= 0 {
		c.Combat.KillAckTimeout = def.Combat.KillAckTimeout
	}
}
