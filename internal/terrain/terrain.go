// Package terrain сэмплер рельефа (коллаборатор ядра) и модель скорости по местности.
package terrain

import (
	"math"

	"github.com/aquilax/go-perlin"

	"github.com/annel0/npc-authority/internal/vec"
)

// Sampler источник высоты и типа местности по мировой координате
type Sampler interface {
	HeightAt(p vec.Vec2Float) float64
	// IsHazard вода или непроходимая местность
	IsHazard(p vec.Vec2Float) bool
	IsRoad(p vec.Vec2Float) bool
}

// Config параметры шумового рельефа
type Config struct {
	Seed int64 `yaml:"seed"`
	// Scale мировых единиц на единицу шума (чем больше, тем плавнее рельеф)
	Scale     float64 `yaml:"scale"`
	Amplitude float64 `yaml:"amplitude"`
	// WaterLevel порог нормированной высоты 0..1, ниже которого вода
	WaterLevel float64 `yaml:"water_level"`
	RoadScale  float64 `yaml:"road_scale"`
	// RoadWidth полуширина полосы шума дорог вокруг нуля
	RoadWidth float64 `yaml:"road_width"`
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		Seed:       1337,
		Scale:      256,
		Amplitude:  60,
		WaterLevel: 0.3,
		RoadScale:  512,
		RoadWidth:  0.02,
	}
}

// PerlinSampler рельеф на шуме Перлина. Высота и дороги: два независимых генератора.
type PerlinSampler struct {
	cfg    Config
	height *perlin.Perlin
	roads  *perlin.Perlin
}

// NewPerlinSampler создаёт сэмплер
func NewPerlinSampler(cfg Config) *PerlinSampler {
	def := DefaultConfig()
	if cfg.Scale <= 0 {
		cfg.Scale = def.Scale
	}
	if cfg.RoadScale <= 0 {
		cfg.RoadScale = def.RoadScale
	}
	alpha := 2.0  // Сглаживание шума
	beta := 2.0   // Частота шума
	n := int32(3) // Количество октав
	return &PerlinSampler{
		cfg:    cfg,
		height: perlin.NewPerlin(alpha, beta, n, cfg.Seed),
		roads:  perlin.NewPerlin(alpha, beta, 2, cfg.Seed+1),
	}
}

// normalized значение шума высоты 0..1
func (s *PerlinSampler) normalized(p vec.Vec2Float) float64 {
	v := (s.height.Noise2D(p.X/s.cfg.Scale, p.Y/s.cfg.Scale) + 1.0) / 2.0
	return math.Max(0, math.Min(1, v))
}

// HeightAt высота в точке
func (s *PerlinSampler) HeightAt(p vec.Vec2Float) float64 {
	return s.normalized(p) * s.cfg.Amplitude
}

// IsHazard вода ниже уровня WaterLevel
func (s *PerlinSampler) IsHazard(p vec.Vec2Float) bool {
	return s.normalized(p) < s.cfg.WaterLevel
}

// IsRoad дороги проходят по нулевой изолинии второго шума
func (s *PerlinSampler) IsRoad(p vec.Vec2Float) bool {
	if s.IsHazard(p) {
		return false
	}
	return math.Abs(s.roads.Noise2D(p.X/s.cfg.RoadScale, p.Y/s.cfg.RoadScale)) < s.cfg.RoadWidth
}

// Flat плоская суша без дорог. Используется, когда сэмплер не передан.
type Flat struct {
	Height float64
}

func (f Flat) HeightAt(vec.Vec2Float) float64 { return f.Height }
func (Flat) IsHazard(vec.Vec2Float) bool      { return false }
func (Flat) IsRoad(vec.Vec2Float) bool        { return false }

// Funcs сэмплер из функций; отсутствующая функция ведёт себя как Flat
type Funcs struct {
	Height func(p vec.Vec2Float) float64
	Hazard func(p vec.Vec2Float) bool
	Road   func(p vec.Vec2Float) bool
}

func (f Funcs) HeightAt(p vec.Vec2Float) float64 {
	if f.Height == nil {
		return 0
	}
	return f.Height(p)
}

func (f Funcs) IsHazard(p vec.Vec2Float) bool {
	return f.Hazard != nil && f.Hazard(p)
}

func (f Funcs) IsRoad(p vec.Vec2Float) bool {
	return f.Road != nil && f.Road(p)
}
