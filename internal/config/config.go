package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/annel0/npc-authority/internal/api"
	"github.com/annel0/npc-authority/internal/cooldown"
	"github.com/annel0/npc-authority/internal/core"
	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/eventbus"
	"github.com/annel0/npc-authority/internal/observability"
	"github.com/annel0/npc-authority/internal/pathfind"
	"github.com/annel0/npc-authority/internal/presence"
	"github.com/annel0/npc-authority/internal/replication"
	"github.com/annel0/npc-authority/internal/spawn"
	"github.com/annel0/npc-authority/internal/terrain"
	"github.com/annel0/npc-authority/internal/vec"
)

// EnvConfigPath переменная окружения с путём к конфигу, если -config не задан
const EnvConfigPath = "NPC_CONFIG"

// ErrInvalidConfig конфигурация не прошла проверку
var ErrInvalidConfig = errors.New("invalid config")

// Config корневая структура конфигурации узла
type Config struct {
	Node        NodeConfig            `yaml:"node"`
	Logging     LoggingConfig         `yaml:"logging"`
	EventBus    EventBusConfig        `yaml:"eventbus"`
	Core        core.Config           `yaml:"core"`
	Replication replication.Config    `yaml:"replication"`
	Presence    presence.Config       `yaml:"presence"`
	Cooldown    cooldown.Config       `yaml:"cooldown"`
	Terrain     terrain.Config        `yaml:"terrain"`
	NavGrid     pathfind.GridConfig   `yaml:"nav_grid"`
	Pathfind    pathfind.WorkerConfig `yaml:"pathfind"`
	Structures  []StructureConfig     `yaml:"structures"`
	API         api.Config            `yaml:"api"`
	Metrics     MetricsConfig         `yaml:"metrics"`
	Telemetry   observability.Config  `yaml:"telemetry"`
}

// NodeConfig локальный участник
type NodeConfig struct {
	// ID идентификатор участника; пусто: сгенерировать при запуске
	ID       string        `yaml:"id"`
	TickRate time.Duration `yaml:"tick_rate"`
	// X, Y стартовая позиция локального игрока (стенд без игрового клиента)
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	// Dir каталог файлов логов; пусто: только консоль
	Dir string `yaml:"dir"`
}

// EventBusConfig транспорт между пирами
type EventBusConfig struct {
	// Backend memory | nats | kcp
	Backend  string `yaml:"backend"`
	Capacity int    `yaml:"capacity"`

	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`

	KCP eventbus.KCPConfig `yaml:"kcp"`
}

type MetricsConfig struct {
	// ProcessInterval период замера CPU/памяти процесса
	ProcessInterval time.Duration `yaml:"process_interval"`
}

// StructureConfig постройка, у которой появляются NPC
type StructureConfig struct {
	ID        string  `yaml:"id"`
	Family    string  `yaml:"family"`
	X         float64 `yaml:"x"`
	Y         float64 `yaml:"y"`
	Faction   string  `yaml:"faction"`
	Owner     string  `yaml:"owner"`
	Elevation float64 `yaml:"elevation"`
	CannonID  string  `yaml:"cannon_id"`
}

// Default значения по умолчанию
func Default() *Config {
	return &Config{
		Node:        NodeConfig{TickRate: 50 * time.Millisecond},
		Logging:     LoggingConfig{Level: "info"},
		EventBus:    EventBusConfig{Backend: "memory", Capacity: 1024, URL: "nats://127.0.0.1:4222", Stream: "NPC", Retention: 1, KCP: eventbus.DefaultKCPConfig()},
		Core:        core.DefaultConfig(),
		Replication: replication.DefaultConfig(),
		Presence:    presence.DefaultConfig(),
		Cooldown:    cooldown.DefaultConfig(),
		Terrain:     terrain.DefaultConfig(),
		NavGrid:     pathfind.DefaultGridConfig(),
		Pathfind:    pathfind.DefaultWorkerConfig(),
		API:         api.DefaultConfig(),
		Metrics:     MetricsConfig{ProcessInterval: 5 * time.Second},
		Telemetry:   observability.DefaultConfig(),
	}
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", берёт путь из NPC_CONFIG; если и он пуст: возвращает Default().
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
		if path == "" {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse разбирает YAML поверх значений по умолчанию и проверяет результат
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет согласованность значений
func (c *Config) Validate() error {
	if c.Node.TickRate <= 0 {
		return fmt.Errorf("%w: node.tick_rate должен быть > 0", ErrInvalidConfig)
	}
	switch c.EventBus.Backend {
	case "memory", "nats", "kcp":
	default:
		return fmt.Errorf("%w: неизвестный eventbus.backend %q", ErrInvalidConfig, c.EventBus.Backend)
	}
	switch c.Cooldown.Backend {
	case "", "memory", "redis", "badger":
	default:
		return fmt.Errorf("%w: неизвестный cooldown.backend %q", ErrInvalidConfig, c.Cooldown.Backend)
	}
	if c.Core.Authority.CellSize <= 0 || c.Presence.CellSize <= 0 {
		return fmt.Errorf("%w: размер ячейки должен быть > 0", ErrInvalidConfig)
	}
	if c.Core.Authority.CellSize != c.Presence.CellSize {
		return fmt.Errorf("%w: core.authority.cell_size (%v) и presence.cell_size (%v) различаются",
			ErrInvalidConfig, c.Core.Authority.CellSize, c.Presence.CellSize)
	}
	if r := c.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("%w: telemetry.sample_ratio вне [0, 1]", ErrInvalidConfig)
	}
	if _, err := c.SpawnStructures(); err != nil {
		return err
	}
	return nil
}

// SpawnStructures постройки из конфига для очереди спавна
func (c *Config) SpawnStructures() ([]spawn.Structure, error) {
	seen := make(map[string]bool, len(c.Structures))
	out := make([]spawn.Structure, 0, len(c.Structures))
	for i, sc := range c.Structures {
		if sc.ID == "" {
			return nil, fmt.Errorf("%w: structures[%d] без id", ErrInvalidConfig, i)
		}
		f, err := entity.ParseFamily(sc.Family)
		if err != nil {
			return nil, fmt.Errorf("%w: structures[%d]: %v", ErrInvalidConfig, i, err)
		}
		key := f.String() + "/" + sc.ID
		if seen[key] {
			return nil, fmt.Errorf("%w: постройка %s повторяется", ErrInvalidConfig, key)
		}
		seen[key] = true
		out = append(out, spawn.Structure{
			ID:        sc.ID,
			Family:    f,
			Position:  vec.Vec2Float{X: sc.X, Y: sc.Y},
			Faction:   sc.Faction,
			Owner:     sc.Owner,
			Elevation: sc.Elevation,
			CannonID:  sc.CannonID,
		})
	}
	return out, nil
}
