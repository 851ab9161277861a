package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/npc-authority/internal/cooldown"
	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/eventbus"
	"github.com/annel0/npc-authority/internal/presence"
	"github.com/annel0/npc-authority/internal/replication"
	"github.com/annel0/npc-authority/internal/spawn"
	"github.com/annel0/npc-authority/internal/vec"
)

type busPeer struct {
	sim *Simulation
	dir *presence.Directory
	ch  *replication.Channel
	pos vec.Vec2Float
}

func newBusPeer(t *testing.T, bus eventbus.EventBus, local string, pos vec.Vec2Float, structures []spawn.Structure) *busPeer {
	t.Helper()
	cfg := DefaultConfig()
	ch, err := replication.NewChannel(replication.DefaultConfig(), local, bus)
	require.NoError(t, err)
	require.NoError(t, ch.Start(context.Background()))
	t.Cleanup(ch.Close)

	dir := presence.NewDirectory(presence.DefaultConfig(), local)
	sim, err := New(local, cfg, Deps{
		Presence:   dir,
		Players:    dir,
		Factions:   dir,
		Outbound:   ch,
		Inbound:    ch,
		Cooldowns:  cooldown.NewMemoryStore(),
		Structures: spawn.NewStaticSource(cfg.Spawn.CellSize, structures),
	})
	require.NoError(t, err)
	return &busPeer{sim: sim, dir: dir, ch: ch, pos: pos}
}

func (p *busPeer) tick(now time.Time) {
	p.dir.UpdateLocal(presence.Heartbeat{Position: p.pos}, now)
	p.sim.Tick(context.Background(), now)
}

func (p *busPeer) tent() (*entity.Entity, bool) {
	return p.sim.Registry().Get("tent_7")
}

func TestTwoPeersConvergeAndHandOff(t *testing.T) {
	bus := eventbus.NewMemoryBus(256)
	t.Cleanup(func() { _ = bus.Close() })

	camp := []spawn.Structure{raiderCamp("7", 20, 10)}
	a := newBusPeer(t, bus, "a", vec.Vec2Float{}, camp)
	b := newBusPeer(t, bus, "b", vec.Vec2Float{X: 10}, camp)

	now := time.Unix(1000, 0)
	// оба участника уже знают друг друга
	a.dir.Heartbeat(presence.Heartbeat{ParticipantID: "b", Position: b.pos}, now)
	b.dir.Heartbeat(presence.Heartbeat{ParticipantID: "a", Position: a.pos}, now)

	converged := func() bool {
		ea, okA := a.tent()
		eb, okB := b.tent()
		return okA && okB &&
			ea.Ownership.OwnerID == "a" && eb.Ownership.OwnerID == "a" &&
			ea.Ownership.Term == eb.Ownership.Term
	}
	for i := 0; i < 100 && !converged(); i++ {
		now = now.Add(100 * time.Millisecond)
		a.tick(now)
		b.tick(now)
		time.Sleep(3 * time.Millisecond)
	}
	require.True(t, converged(), "оба участника видят tent_7 с владельцем a")

	eb, _ := b.tent()
	assert.Equal(t, uint64(1), eb.Ownership.Term)
	assert.Equal(t, "a", eb.SpawnedBy)
	assert.Equal(t, vec.Vec2Float{X: 20, Y: 10}, eb.Home)
	assert.Equal(t, 0, b.sim.Registry().CountOwnedBy("b"), "b только следует")

	t.Run("Handoff", func(t *testing.T) {
		// a замолкает; через StaleAfter b забирает сущность с большим сроком
		for i := 0; i < 8 && eb.Ownership.OwnerID != "b"; i++ {
			a.ch.Drain(nil)
			now = now.Add(time.Second)
			b.tick(now)
		}
		require.Equal(t, "b", eb.Ownership.OwnerID)
		assert.Equal(t, uint64(2), eb.Ownership.Term)
		assert.False(t, eb.IsDead())
		assert.Equal(t, 1, b.sim.Registry().CountOwnedBy("b"))

		// state с новым сроком уходит в том же тике, что и заявка
		var inbox []replication.Message
		claimed := func() bool {
			inbox = a.ch.Drain(inbox)
			for _, m := range inbox {
				if m.Kind == replication.KindState && m.State.EntityID == "tent_7" &&
					m.State.OwnerID == "b" && m.State.Term == 2 {
					return true
				}
			}
			return false
		}
		assert.Eventually(t, claimed, time.Second, 5*time.Millisecond, "b сразу рассылает state{owner=b, term=2}")
	})
}
