package terrain

import (
	"math"
	"time"

	"github.com/annel0/npc-authority/internal/vec"
)

// SpeedConfig параметры модели скорости
type SpeedConfig struct {
	// SampleDistance на каком расстоянии впереди измеряется уклон
	SampleDistance float64 `yaml:"sample_distance"`
	// SlopePenalty потеря скорости на единицу уклона в гору
	SlopePenalty float64 `yaml:"slope_penalty"`
	// MinSlopeFactor нижняя граница множителя уклона
	MinSlopeFactor float64 `yaml:"min_slope_factor"`
	RoadBonus      float64 `yaml:"road_bonus"`
	// RecalcInterval как часто пересчитывается закэшированная скорость
	RecalcInterval time.Duration `yaml:"recalc_interval"`
}

// DefaultSpeedConfig значения по умолчанию
func DefaultSpeedConfig() SpeedConfig {
	return SpeedConfig{
		SampleDistance: 2,
		SlopePenalty:   1.5,
		MinSlopeFactor: 0.35,
		RoadBonus:      1.3,
		RecalcInterval: 250 * time.Millisecond,
	}
}

// SpeedModel скорость = база × штраф уклона × бонус дороги.
// Одна и та же модель используется владельцем и интерполятором, чтобы оценки совпадали.
type SpeedModel struct {
	cfg     SpeedConfig
	sampler Sampler
}

// NewSpeedModel создаёт модель скорости
func NewSpeedModel(cfg SpeedConfig, sampler Sampler) *SpeedModel {
	def := DefaultSpeedConfig()
	if cfg.SampleDistance <= 0 {
		cfg.SampleDistance = def.SampleDistance
	}
	if cfg.MinSlopeFactor <= 0 {
		cfg.MinSlopeFactor = def.MinSlopeFactor
	}
	if cfg.RoadBonus <= 0 {
		cfg.RoadBonus = 1
	}
	if sampler == nil {
		sampler = Flat{}
	}
	return &SpeedModel{cfg: cfg, sampler: sampler}
}

// Sampler сэмплер рельефа модели
func (m *SpeedModel) Sampler() Sampler {
	return m.sampler
}

// SlopeFactor множитель уклона при движении от pos к toward; спуск не штрафуется
func (m *SpeedModel) SlopeFactor(pos, toward vec.Vec2Float) float64 {
	dir := toward.Sub(pos).Normalized()
	if dir.Length() == 0 {
		return 1
	}
	ahead := pos.Add(dir.Mul(m.cfg.SampleDistance))
	grade := (m.sampler.HeightAt(ahead) - m.sampler.HeightAt(pos)) / m.cfg.SampleDistance
	if grade <= 0 {
		return 1
	}
	return math.Max(1-grade*m.cfg.SlopePenalty, m.cfg.MinSlopeFactor)
}

// Speed скорость для базовой скорости base
func (m *SpeedModel) Speed(base float64, pos, toward vec.Vec2Float) float64 {
	speed := base * m.SlopeFactor(pos, toward)
	if m.sampler.IsRoad(pos) {
		speed *= m.cfg.RoadBonus
	}
	return speed
}

// Throttled возвращает закэшированную скорость, пересчитывая её не чаще RecalcInterval
func (m *SpeedModel) Throttled(cache *float64, next *time.Time, now time.Time, base float64, pos, toward vec.Vec2Float) float64 {
	if *cache > 0 && now.Before(*next) {
		return *cache
	}
	*cache = m.Speed(base, pos, toward)
	*next = now.Add(m.cfg.RecalcInterval)
	return *cache
}
