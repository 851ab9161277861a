package combat

import (
	"fmt"
	"testing"
	"time"

	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHitDeterminism(t *testing.T) {
	t.Run("Tent7Shot3", func(t *testing.T) {
		first := HitRoll("tent_7", 3)
		second := HitRoll("tent_7", 3)
		assert.Equal(t, first, second, "результат должен совпадать бит в бит")
		assert.Equal(t, Hits("tent_7", 3, 0.5), Hits("tent_7", 3, 0.5))
	})

	t.Run("Range", func(t *testing.T) {
		for i := 0; i < 1000; i++ {
			r := HitRoll(entity.ID(fmt.Sprintf("tower_%d", i)), uint32(i))
			require.GreaterOrEqual(t, r, 0.0)
			require.Less(t, r, 1.0)
		}
	})

	t.Run("ShotCountChangesRoll", func(t *testing.T) {
		seen := map[float64]bool{}
		for shot := uint32(0); shot < 100; shot++ {
			seen[HitRoll("tent_7", shot)] = true
		}
		assert.Len(t, seen, 100)
	})

	t.Run("MatchesChance", func(t *testing.T) {
		hits := 0
		const n = 20000
		for i := 0; i < n; i++ {
			if Hits(entity.ID(fmt.Sprintf("militia_%d", i%97)), uint32(i), 0.3) {
				hits++
			}
		}
		ratio := float64(hits) / n
		assert.InDelta(t, 0.3, ratio, 0.03, "доля попаданий должна соответствовать шансу")
	})

	t.Run("Bounds", func(t *testing.T) {
		assert.False(t, Hits("tent_1", 1, 0))
		assert.True(t, Hits("tent_1", 1, 1))
	})
}

func TestEffectiveRange(t *testing.T) {
	p := Profile{Range: 40, HeightRangeFactor: 0.5, MaxHeightBonus: 10}
	assert.Equal(t, 40.0, EffectiveRange(p, 0, 0))
	assert.Equal(t, 45.0, EffectiveRange(p, 10, 0))
	assert.Equal(t, 50.0, EffectiveRange(p, 100, 0), "прибавка ограничена")
	assert.Equal(t, 35.0, EffectiveRange(p, 0, 10))
	assert.Equal(t, 20.0, EffectiveRange(p, 0, 500), "не меньше половины")
}

func TestGates(t *testing.T) {
	p := Profile{FirstShotDelay: time.Second, ShotInterval: 2 * time.Second, Range: 30, HitChance: 1, Damage: 5}
	now := time.Unix(100, 0)
	e := entity.New("tent_7", entity.FamilyRaider, "7", vec.Vec2Float{}, now)
	e.Target = "player1"
	e.TargetType = "player"
	target := vec.Vec2Float{X: 20}

	assert.Equal(t, GateAcquireDelay, p.Check(e, target, 0, now), "цель ещё не захвачена")

	e.Combat.TargetAcquiredAt = now
	assert.Equal(t, GateAcquireDelay, p.Check(e, target, 0, now.Add(500*time.Millisecond)))
	now = now.Add(time.Second)
	require.Equal(t, GateOpen, p.Check(e, target, 0, now))

	shot := Fire(e, p, now)
	assert.Equal(t, uint32(1), shot.ShotCount)
	assert.True(t, shot.Hit)
	assert.Equal(t, 5.0, shot.Damage)
	assert.Equal(t, "player1", shot.TargetID)

	assert.Equal(t, GateInterval, p.Check(e, target, 0, now.Add(time.Second)))
	assert.Equal(t, GateOpen, p.Check(e, target, 0, now.Add(2*time.Second)))
	assert.Equal(t, GateRange, p.Check(e, vec.Vec2Float{X: 31}, 0, now.Add(2*time.Second)))
}

func TestFireMatchesRemoteDerivation(t *testing.T) {
	p := DefaultConfig().Raider
	e := entity.New("tent_7", entity.FamilyRaider, "7", vec.Vec2Float{}, time.Unix(0, 0))
	for i := 0; i < 10; i++ {
		shot := Fire(e, p, time.Unix(int64(i), 0))
		// Получатель события выстрела пересчитывает попадание сам
		assert.Equal(t, Hits(shot.EntityID, shot.ShotCount, p.HitChance), shot.Hit)
	}
	assert.Equal(t, uint32(10), e.Combat.ShotCount)
}

func TestPendingKills(t *testing.T) {
	now := time.Unix(50, 0)
	e := entity.New("tower_1", entity.FamilyTowerDefender, "1", vec.Vec2Float{}, now)

	RecordKill(e, "p2", now)
	RecordKill(e, "p1", now.Add(5*time.Second))
	RecordKill(e, "p2", now.Add(9*time.Second)) // повтор не сдвигает время
	assert.Equal(t, []string{"p1", "p2"}, PendingKillIDs(e, nil))

	assert.True(t, AckKill(e, "p1"))
	assert.False(t, AckKill(e, "p1"))

	expired := ExpireKills(e, now.Add(10*time.Second), 10*time.Second, nil)
	assert.Equal(t, []string{"p2"}, expired)
	assert.Empty(t, e.Combat.PendingKills)
}

func TestProfileByFamily(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, cfg.Tower, cfg.For(entity.FamilyTowerDefender))
	assert.Equal(t, cfg.Cannon, cfg.For(entity.FamilyCannonCrew))
	assert.Equal(t, cfg.Raider, cfg.For(entity.FamilyRaider))
}

func TestApplyDamage(t *testing.T) {
	e := entity.New("tent_2", entity.FamilyRaider, "2", vec.Vec2Float{}, time.Unix(0, 0))
	e.Health = 20
	assert.False(t, ApplyDamage(e, 12))
	assert.True(t, ApplyDamage(e, 12), "второй удар смертелен")
	assert.False(t, ApplyDamage(e, 12), "повторно не убивает")
}
