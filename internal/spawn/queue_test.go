package spawn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnv struct {
	local    string
	pos      vec.Vec2Float
	existing map[entity.ID]bool
	owned    int
	owner    string
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{local: "a", owner: "a", existing: make(map[entity.ID]bool)}
}

func (e *fakeEnv) LocalID() string { return e.local }
func (e *fakeEnv) LocalPosition() (vec.Vec2Float, bool) { return e.pos, true }
func (e *fakeEnv) Exists(id entity.ID) bool { return e.existing[id] }
func (e *fakeEnv) OwnedCount() int { return e.owned }
func (e *fakeEnv) ResolveOwner(vec.Vec2Float) (string, bool) { return e.owner, e.owner != "" }

type fakeSource struct {
	structures []Structure
}

func (s *fakeSource) StructuresIn(f entity.Family, cells []vec.Vec2, dst []Structure) []Structure {
	for _, st := range s.structures {
		if st.Family != f {
			continue
		}
		c := st.Position.CellOf(64)
		for _, want := range cells {
			if c == want {
				dst = append(dst, st)
				break
			}
		}
	}
	return dst
}

type fakeCooldowns struct {
	active map[string]bool
	err    error
}

func (c *fakeCooldowns) Active(_ context.Context, key string) (bool, error) {
	return c.active[key], c.err
}

func raiderCamp(id string, x float64) Structure {
	return Structure{ID: id, Family: entity.FamilyRaider, Position: vec.Vec2Float{X: x, Y: 10}}
}

func newTestQueue(env *fakeEnv, src *fakeSource, cd Cooldowns, cfg Config) (*Queue, *[]entity.ID) {
	q := NewQueue(cfg, env, src, cd)
	spawned := &[]entity.ID{}
	q.RegisterHandler(entity.FamilyRaider, func(req Request, now time.Time) bool {
		env.existing[req.EntityID()] = true
		env.owned++
		*spawned = append(*spawned, req.EntityID())
		return true
	})
	return q, spawned
}

func TestQueueOnePerTick(t *testing.T) {
	env := newFakeEnv()
	src := &fakeSource{structures: []Structure{raiderCamp("3", 30), raiderCamp("1", 10), raiderCamp("2", 20)}}
	q, spawned := newTestQueue(env, src, nil, Config{SpawnRange: 100, SoftCap: 10, RatePerSecond: 100, Burst: 10})

	now := time.Unix(0, 0)
	for i := 1; i <= 3; i++ {
		st := q.Tick(context.Background(), now)
		assert.Equal(t, 1, st.Evaluated, "один кандидат за тик")
		assert.Len(t, *spawned, i)
		now = now.Add(100 * time.Millisecond)
	}
	assert.ElementsMatch(t, []entity.ID{"tent_1", "tent_2", "tent_3"}, *spawned)

	st := q.Tick(context.Background(), now)
	assert.Equal(t, 0, st.Evaluated, "все постройки уже с сущностями")
	assert.Equal(t, "tent_1", string((*spawned)[0]), "первым идёт наименьший ID")
}

func TestQueueAdmission(t *testing.T) {
	cfg := Config{SpawnRange: 50, SoftCap: 2, RatePerSecond: 100, Burst: 10}
	now := time.Unix(0, 0)

	t.Run("SoftCap", func(t *testing.T) {
		env := newFakeEnv()
		env.owned = 2
		q, spawned := newTestQueue(env, &fakeSource{structures: []Structure{raiderCamp("1", 10)}}, nil, cfg)
		st := q.Tick(context.Background(), now)
		assert.Equal(t, 1, st.Deferred)
		assert.Empty(t, *spawned)
		assert.Equal(t, 0, q.Pending(), "лишние кандидаты не копятся в очереди")
	})

	t.Run("NotResolvedOwner", func(t *testing.T) {
		env := newFakeEnv()
		env.owner = "0-other"
		q, spawned := newTestQueue(env, &fakeSource{structures: []Structure{raiderCamp("1", 10)}}, nil, cfg)
		q.Tick(context.Background(), now)
		assert.Empty(t, *spawned)
	})

	t.Run("OutOfRange", func(t *testing.T) {
		env := newFakeEnv()
		q, spawned := newTestQueue(env, &fakeSource{structures: []Structure{raiderCamp("1", 60)}}, nil, cfg)
		q.Tick(context.Background(), now)
		assert.Empty(t, *spawned)
	})

	t.Run("Cooldown", func(t *testing.T) {
		env := newFakeEnv()
		cd := &fakeCooldowns{active: map[string]bool{"raider:1": true}}
		q, spawned := newTestQueue(env, &fakeSource{structures: []Structure{raiderCamp("1", 10)}}, cd, cfg)
		q.Tick(context.Background(), now)
		assert.Empty(t, *spawned)

		cd.active = nil
		q.Tick(context.Background(), now.Add(time.Second))
		assert.Len(t, *spawned, 1)
	})

	t.Run("CooldownStoreError", func(t *testing.T) {
		env := newFakeEnv()
		cd := &fakeCooldowns{err: errors.New("redis недоступен")}
		q, spawned := newTestQueue(env, &fakeSource{structures: []Structure{raiderCamp("1", 10)}}, cd, cfg)
		q.Tick(context.Background(), now)
		assert.Empty(t, *spawned)
	})
}

func TestQueueDedupe(t *testing.T) {
	env := newFakeEnv()
	q, _ := newTestQueue(env, &fakeSource{}, nil, DefaultConfig())
	req := Request{Structure: raiderCamp("5", 0)}

	require.True(t, q.QueueSpawn(entity.FamilyRaider, req, "5"))
	assert.False(t, q.QueueSpawn(entity.FamilyRaider, req, "5"), "повторная заявка отклоняется")
	assert.True(t, q.IsQueued(entity.FamilyRaider, "5"))
	assert.False(t, q.IsQueued(entity.FamilyTowerDefender, "5"), "ключ учитывает семейство")
	assert.True(t, q.QueueSpawn(entity.FamilyTowerDefender, Request{Structure: Structure{ID: "5"}}, "5"))
}

func TestQueueRaceWithRemoteSpawn(t *testing.T) {
	env := newFakeEnv()
	q, spawned := newTestQueue(env, &fakeSource{}, nil, DefaultConfig())
	require.True(t, q.QueueSpawn(entity.FamilyRaider, Request{Structure: raiderCamp("9", 0)}, "9"))

	// Спавн от другого участника пришёл раньше исполнения заявки
	env.existing["tent_9"] = true
	st := q.Tick(context.Background(), time.Unix(0, 0))
	assert.Equal(t, 1, st.Raced)
	assert.Empty(t, *spawned)
	assert.False(t, q.IsQueued(entity.FamilyRaider, "9"))
}

func TestQueueRateLimit(t *testing.T) {
	env := newFakeEnv()
	q, spawned := newTestQueue(env, &fakeSource{}, nil, Config{RatePerSecond: 1, Burst: 1})
	for _, id := range []string{"1", "2", "3"} {
		require.True(t, q.QueueSpawn(entity.FamilyRaider, Request{Structure: raiderCamp(id, 0)}, id))
	}

	now := time.Unix(100, 0)
	q.Tick(context.Background(), now)
	assert.Len(t, *spawned, 1, "не больше одного исполнения за тик")

	st := q.Tick(context.Background(), now.Add(100*time.Millisecond))
	assert.Equal(t, 1, st.Throttled)
	assert.Len(t, *spawned, 1)

	q.Tick(context.Background(), now.Add(1100*time.Millisecond))
	assert.Equal(t, []entity.ID{"tent_1", "tent_2"}, *spawned, "очередь исполняется по порядку")
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource(64, []Structure{
		raiderCamp("2", 20),
		raiderCamp("1", 10),
		raiderCamp("far", 500),
		{ID: "t1", Family: entity.FamilyTowerDefender, Position: vec.Vec2Float{X: 5}},
	})
	cells := []vec.Vec2{{X: 0, Y: 0}}

	got := src.StructuresIn(entity.FamilyRaider, cells, nil)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID, "внутри ячейки порядок по ID")
	assert.Len(t, src.StructuresIn(entity.FamilyTowerDefender, cells, nil), 1)
	assert.Empty(t, src.StructuresIn(entity.FamilyCannonCrew, cells, nil))
	assert.Empty(t, src.StructuresIn(entity.Family(99), cells, nil))
}
