package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/vec"
)

const sample = `
node:
  id: peer-a
  tick_rate: 100ms
  x: 10
  y: -4
eventbus:
  backend: kcp
  kcp:
    listen: ":7200"
    peers: ["10.0.0.2:7200"]
core:
  spawn_repeat: 3s
  authority:
    orphan_timeout: 45s
cooldown:
  backend: redis
  redis_addr: "redis:6379"
structures:
  - id: "7"
    family: raider
    x: 20
    y: 10
  - id: "c1"
    family: cannon_crew
    x: 5
    y: 5
    cannon_id: cannon-1
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "peer-a", cfg.Node.ID)
	assert.Equal(t, 100*time.Millisecond, cfg.Node.TickRate)
	assert.Equal(t, "kcp", cfg.EventBus.Backend)
	assert.Equal(t, ":7200", cfg.EventBus.KCP.Listen)
	assert.Equal(t, []string{"10.0.0.2:7200"}, cfg.EventBus.KCP.Peers)
	assert.Equal(t, 256, cfg.EventBus.KCP.SendQueue, "незаданные поля берутся из значений по умолчанию")
	assert.Equal(t, 3*time.Second, cfg.Core.SpawnRepeat)
	assert.Equal(t, 45*time.Second, cfg.Core.Authority.OrphanTimeout)
	assert.Equal(t, float64(64), cfg.Core.Authority.CellSize)
	assert.Equal(t, "redis:6379", cfg.Cooldown.RedisAddr)

	structures, err := cfg.SpawnStructures()
	require.NoError(t, err)
	require.Len(t, structures, 2)
	assert.Equal(t, entity.FamilyRaider, structures[0].Family)
	assert.Equal(t, vec.Vec2Float{X: 20, Y: 10}, structures[0].Position)
	assert.Equal(t, entity.FamilyCannonCrew, structures[1].Family)
	assert.Equal(t, "cannon-1", structures[1].CannonID)
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"tick_rate":    "node: {tick_rate: 0s}",
		"шина":         "eventbus: {backend: carrier-pigeon}",
		"перезарядка":  "cooldown: {backend: etcd}",
		"ячейки":       "presence: {cell_size: 32}",
		"семейство":    "structures: [{id: x, family: dragon}]",
		"без id":       "structures: [{family: raider}]",
		"повтор":       "structures: [{id: a, family: raider}, {id: a, family: raider}]",
		"sample_ratio": "telemetry: {sample_ratio: 2}",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	assert.NoError(t, Default().Validate(), "значения по умолчанию корректны")
}

func TestLoad(t *testing.T) {
	t.Run("БезПути", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("ИзОкружения", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "npc.yaml")
		require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
		t.Setenv(EnvConfigPath, path)
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "peer-a", cfg.Node.ID)
	})

	t.Run("НетФайла", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}
