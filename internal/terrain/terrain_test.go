package terrain

import (
	"testing"
	"time"

	"github.com/annel0/npc-authority/internal/vec"
	"github.com/stretchr/testify/assert"
)

func TestPerlinSampler(t *testing.T) {
	cfg := DefaultConfig()
	a := NewPerlinSampler(cfg)
	b := NewPerlinSampler(cfg)

	for i := 0; i < 50; i++ {
		p := vec.Vec2Float{X: float64(i) * 37.5, Y: float64(i) * -12.25}
		h := a.HeightAt(p)
		assert.Equal(t, h, b.HeightAt(p), "одинаковый сид: одинаковый рельеф")
		assert.GreaterOrEqual(t, h, 0.0)
		assert.LessOrEqual(t, h, cfg.Amplitude)
		assert.Equal(t, h < cfg.WaterLevel*cfg.Amplitude, a.IsHazard(p))
		if a.IsHazard(p) {
			assert.False(t, a.IsRoad(p), "дорог по воде нет")
		}
	}
}

func TestSpeedModel(t *testing.T) {
	cfg := SpeedConfig{SampleDistance: 1, SlopePenalty: 1, MinSlopeFactor: 0.25, RoadBonus: 1.5, RecalcInterval: time.Second}

	t.Run("Flat", func(t *testing.T) {
		m := NewSpeedModel(cfg, nil)
		assert.Equal(t, 4.0, m.Speed(4, vec.Vec2Float{}, vec.Vec2Float{X: 10}))
	})

	t.Run("Uphill", func(t *testing.T) {
		ramp := Funcs{Height: func(p vec.Vec2Float) float64 { return p.X * 0.5 }}
		m := NewSpeedModel(cfg, ramp)
		assert.InDelta(t, 2.0, m.Speed(4, vec.Vec2Float{}, vec.Vec2Float{X: 10}), 1e-9)
		assert.Equal(t, 4.0, m.Speed(4, vec.Vec2Float{X: 10}, vec.Vec2Float{}), "спуск без штрафа")
	})

	t.Run("SteepClamped", func(t *testing.T) {
		wall := Funcs{Height: func(p vec.Vec2Float) float64 { return p.X * 10 }}
		m := NewSpeedModel(cfg, wall)
		assert.InDelta(t, 1.0, m.Speed(4, vec.Vec2Float{}, vec.Vec2Float{X: 10}), 1e-9)
	})

	t.Run("Road", func(t *testing.T) {
		road := Funcs{Road: func(vec.Vec2Float) bool { return true }}
		m := NewSpeedModel(cfg, road)
		assert.Equal(t, 6.0, m.Speed(4, vec.Vec2Float{}, vec.Vec2Float{Y: 3}))
	})

	t.Run("Throttled", func(t *testing.T) {
		onRoad := true
		road := Funcs{Road: func(vec.Vec2Float) bool { return onRoad }}
		m := NewSpeedModel(cfg, road)

		var cache float64
		var next time.Time
		now := time.Unix(10, 0)
		assert.Equal(t, 6.0, m.Throttled(&cache, &next, now, 4, vec.Vec2Float{}, vec.Vec2Float{X: 1}))

		onRoad = false
		assert.Equal(t, 6.0, m.Throttled(&cache, &next, now.Add(500*time.Millisecond), 4, vec.Vec2Float{}, vec.Vec2Float{X: 1}), "до интервала берётся кэш")
		assert.Equal(t, 4.0, m.Throttled(&cache, &next, now.Add(time.Second), 4, vec.Vec2Float{}, vec.Vec2Float{X: 1}))
	})
}
