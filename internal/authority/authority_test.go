package authority

import (
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePresence участники с фиксированными ячейками
type fakePresence struct {
	cells    map[string]vec.Vec2
	inactive map[string]bool
	// unavailable радиусы запросов (по числу ячеек), для которых список недоступен
	unavailable map[int]bool
	queries     []int
}

func newFakePresence() *fakePresence {
	return &fakePresence{
		cells:       make(map[string]vec.Vec2),
		inactive:    make(map[string]bool),
		unavailable: make(map[int]bool),
	}
}

func (p *fakePresence) ParticipantsIn(cells []vec.Vec2, dst []string) ([]string, bool) {
	p.queries = append(p.queries, len(cells))
	if p.unavailable[len(cells)] {
		return dst, false
	}
	for id, c := range p.cells {
		for _, want := range cells {
			if c == want {
				dst = append(dst, id)
				break
			}
		}
	}
	return dst, true
}

func (p *fakePresence) IsActive(id string) bool {
	_, known := p.cells[id]
	return known && !p.inactive[id]
}

func TestLowestActive(t *testing.T) {
	active := func(string) bool { return true }

	t.Run("OrderIndependent", func(t *testing.T) {
		ids := []string{"delta", "alpha", "charlie", "bravo"}
		for i := 0; i < 20; i++ {
			rand.Shuffle(len(ids), func(a, b int) { ids[a], ids[b] = ids[b], ids[a] })
			best, ok := LowestActive(ids, active)
			require.True(t, ok)
			assert.Equal(t, "alpha", best)
		}
	})

	t.Run("BytewiseCompare", func(t *testing.T) {
		// Заглавные буквы меньше строчных, "10" меньше "9"
		best, _ := LowestActive([]string{"b", "B", "a"}, active)
		assert.Equal(t, "B", best)
		best, _ = LowestActive([]string{"9", "10"}, active)
		assert.Equal(t, "10", best)
	})

	t.Run("SkipsInactive", func(t *testing.T) {
		best, ok := LowestActive([]string{"a", "b"}, func(id string) bool { return id != "a" })
		require.True(t, ok)
		assert.Equal(t, "b", best)

		_, ok = LowestActive([]string{"a"}, func(string) bool { return false })
		assert.False(t, ok)
		_, ok = LowestActive(nil, active)
		assert.False(t, ok)
	})
}

func TestResolver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CellSize = 10

	t.Run("Neighborhood3x3", func(t *testing.T) {
		p := newFakePresence()
		p.cells["b"] = vec.Vec2{X: 1, Y: 1}
		p.cells["c"] = vec.Vec2{X: 0, Y: 0}
		p.cells["a"] = vec.Vec2{X: 2, Y: 0} // вне 3×3
		r := NewResolver(cfg, p)

		best, ok := r.Resolve(vec.Vec2Float{X: 5, Y: 5})
		require.True(t, ok)
		assert.Equal(t, "b", best)
	})

	t.Run("NoCandidates", func(t *testing.T) {
		p := newFakePresence()
		p.cells["a"] = vec.Vec2{X: 50, Y: 50}
		r := NewResolver(cfg, p)
		_, ok := r.Resolve(vec.Vec2Float{})
		assert.False(t, ok)
	})

	t.Run("FallbackToAnchorCell", func(t *testing.T) {
		p := newFakePresence()
		p.unavailable[9] = true
		p.cells["z"] = vec.Vec2{X: 0, Y: 0}
		r := NewResolver(cfg, p)

		best, ok := r.Resolve(vec.Vec2Float{X: 1, Y: 1})
		require.True(t, ok)
		assert.Equal(t, "z", best)
		assert.Equal(t, []int{9, 1}, p.queries)
	})

	t.Run("WidenWhenAnchorCellEmpty", func(t *testing.T) {
		p := newFakePresence()
		p.unavailable[9] = true
		p.cells["y"] = vec.Vec2{X: 2, Y: -2}
		r := NewResolver(cfg, p)

		best, ok := r.Resolve(vec.Vec2Float{X: 1, Y: 1})
		require.True(t, ok)
		assert.Equal(t, "y", best)
		assert.Equal(t, []int{9, 1, 25}, p.queries)
	})

	t.Run("AllPeersAgree", func(t *testing.T) {
		p := newFakePresence()
		for _, id := range []string{"p3", "p1", "p2"} {
			p.cells[id] = vec.Vec2{}
		}
		answers := map[string]bool{}
		for i := 0; i < 5; i++ {
			best, _ := NewResolver(cfg, p).Resolve(vec.Vec2Float{X: 3, Y: 3})
			answers[best] = true
		}
		assert.Len(t, answers, 1)
		assert.True(t, answers["p1"])
	})
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name    string
		local   Claim
		remote  Claim
		want    Claim
		outcome Outcome
	}{
		{"HigherTermWins", Claim{"a", 3}, Claim{"z", 4}, Claim{"z", 4}, OutcomeAdopted},
		{"LowerTermIgnored", Claim{"z", 4}, Claim{"a", 3}, Claim{"z", 4}, OutcomeIgnored},
		{"TieLowerIDWins", Claim{"b", 2}, Claim{"a", 2}, Claim{"a", 2}, OutcomeAdopted},
		{"TieHigherIDIgnored", Claim{"a", 2}, Claim{"b", 2}, Claim{"a", 2}, OutcomeIgnored},
		{"SameClaim", Claim{"a", 2}, Claim{"a", 2}, Claim{"a", 2}, OutcomeUnchanged},
		{"UnownedAdopts", Claim{"", 0}, Claim{"b", 0}, Claim{"b", 0}, OutcomeAdopted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, outcome := Reconcile(tt.local, tt.remote)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.outcome, outcome)
		})
	}
}

// Любой порядок доставки одних и тех же заявок приводит к одному и тому же итогу
func TestReconcileConvergence(t *testing.T) {
	claims := []Claim{{"c", 1}, {"a", 1}, {"b", 2}, {"d", 2}, {"a", 3}, {"b", 3}}
	var results []Claim
	for i := 0; i < 50; i++ {
		order := append([]Claim(nil), claims...)
		rand.Shuffle(len(order), func(a, b int) { order[a], order[b] = order[b], order[a] })
		cur := Claim{}
		for _, c := range order {
			cur, _ = Reconcile(cur, c)
		}
		results = append(results, cur)
	}
	for _, r := range results {
		assert.Equal(t, Claim{"a", 3}, r)
	}
}

func TestLedgerTermMonotonic(t *testing.T) {
	p := newFakePresence()
	l := NewLedger("a", DefaultConfig(), p)
	e := entity.New("tent_1", entity.FamilyRaider, "1", vec.Vec2Float{}, time.Unix(0, 0))

	rng := rand.New(rand.NewSource(42))
	owners := []string{"a", "b", "c"}
	var prev uint64
	for i := 0; i < 200; i++ {
		if rng.Intn(4) == 0 {
			l.Claim(e)
		} else {
			l.ApplyRemote(e, Claim{OwnerID: owners[rng.Intn(len(owners))], Term: uint64(rng.Intn(30))})
		}
		require.GreaterOrEqual(t, e.Ownership.Term, prev, "срок не должен уменьшаться")
		prev = e.Ownership.Term
	}
}

func TestLedgerHandoff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CellSize = 64
	now := time.Unix(1000, 0)

	p := newFakePresence()
	p.cells["a"] = vec.Vec2{}
	p.cells["b"] = vec.Vec2{}

	la := NewLedger("a", cfg, p)
	lb := NewLedger("b", cfg, p)

	ea := entity.New("tent_7", entity.FamilyRaider, "7", vec.Vec2Float{X: 1, Y: 1}, now)
	eb := entity.New("tent_7", entity.FamilyRaider, "7", vec.Vec2Float{X: 1, Y: 1}, now)

	// Оба пира считают владельцем "a"
	require.Equal(t, DecisionClaimed, la.Evaluate(ea, now))
	require.Equal(t, uint64(1), ea.Ownership.Term)
	require.Equal(t, DecisionFollow, lb.Evaluate(eb, now))
	lb.ApplyRemote(eb, ClaimOf(ea))
	assert.Equal(t, Claim{"a", 1}, ClaimOf(eb))
	assert.Equal(t, DecisionSimulate, la.Evaluate(ea, now))

	// "a" пропал: "b" забирает сущность со сроком +1
	p.inactive["a"] = true
	now = now.Add(time.Second)
	require.Equal(t, DecisionClaimed, lb.Evaluate(eb, now))
	assert.Equal(t, Claim{"b", 2}, ClaimOf(eb))

	// Когда "a" получит заявку "b", она победит по сроку
	assert.Equal(t, OutcomeAdopted, la.ApplyRemote(ea, ClaimOf(eb)))
	assert.Equal(t, "b", ea.Ownership.OwnerID)

	// "a" вернулся: резолвер снова выбирает его, "b" молча уступает
	delete(p.inactive, "a")
	assert.Equal(t, DecisionRelinquished, lb.Evaluate(eb, now))
	assert.True(t, eb.Ownership.Relinquished)
	assert.Equal(t, uint64(2), eb.Ownership.Term, "уступка не меняет срок")

	require.Equal(t, DecisionClaimed, la.Evaluate(ea, now))
	assert.Equal(t, Claim{"a", 3}, ClaimOf(ea))
	lb.ApplyRemote(eb, ClaimOf(ea))
	assert.Equal(t, Claim{"a", 3}, ClaimOf(eb))
	assert.False(t, eb.Ownership.Relinquished)
}

func TestLedgerSimultaneousClaims(t *testing.T) {
	// Пиры видят разных участников и одновременно заявляют один срок
	ea := entity.New("tower_1", entity.FamilyTowerDefender, "1", vec.Vec2Float{}, time.Unix(0, 0))
	eb := entity.New("tower_1", entity.FamilyTowerDefender, "1", vec.Vec2Float{}, time.Unix(0, 0))

	pa := newFakePresence()
	pa.cells["x"] = vec.Vec2{}
	pb := newFakePresence()
	pb.cells["y"] = vec.Vec2{}
	lx := NewLedger("x", DefaultConfig(), pa)
	ly := NewLedger("y", DefaultConfig(), pb)

	require.Equal(t, DecisionClaimed, lx.Evaluate(ea, time.Unix(1, 0)))
	require.Equal(t, DecisionClaimed, ly.Evaluate(eb, time.Unix(1, 0)))

	claimX, claimY := ClaimOf(ea), ClaimOf(eb)
	lx.ApplyRemote(ea, claimY)
	ly.ApplyRemote(eb, claimX)
	assert.Equal(t, Claim{"x", 1}, ClaimOf(ea))
	assert.Equal(t, Claim{"x", 1}, ClaimOf(eb))
}

func TestLedgerOrphan(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OrphanTimeout = 10 * time.Second
	now := time.Unix(1000, 0)

	p := newFakePresence()
	p.cells["a"] = vec.Vec2{}
	l := NewLedger("a", cfg, p)
	e := entity.New("militia_3", entity.FamilyFactionDefender, "3", vec.Vec2Float{}, now)
	require.Equal(t, DecisionClaimed, l.Evaluate(e, now))

	// Локальный участник ушёл далеко от якоря
	p.cells["a"] = vec.Vec2{X: 100}
	assert.Equal(t, DecisionOrphaned, l.Evaluate(e, now))
	assert.Equal(t, now, e.OrphanSince)
	assert.Equal(t, DecisionOrphaned, l.Evaluate(e, now.Add(9*time.Second)))

	t.Run("TimerResetsOnCandidate", func(t *testing.T) {
		p.cells["a"] = vec.Vec2{}
		assert.Equal(t, DecisionSimulate, l.Evaluate(e, now.Add(9*time.Second)))
		assert.True(t, e.OrphanSince.IsZero())
	})

	t.Run("Expires", func(t *testing.T) {
		p.cells["a"] = vec.Vec2{X: 100}
		start := now.Add(20 * time.Second)
		assert.Equal(t, DecisionOrphaned, l.Evaluate(e, start))
		assert.Equal(t, DecisionExpired, l.Evaluate(e, start.Add(10*time.Second)))
	})

	t.Run("ActiveRemoteOwnerOutOfView", func(t *testing.T) {
		p.cells["far"] = vec.Vec2{X: -100}
		remote := entity.New("tent_9", entity.FamilyRaider, "9", vec.Vec2Float{}, now)
		remote.Ownership = entity.Ownership{OwnerID: "far", Term: 4}
		assert.Equal(t, DecisionFollow, l.Evaluate(remote, now))
		assert.True(t, remote.OrphanSince.IsZero())
	})
}

func TestDecisionNames(t *testing.T) {
	names := []string{}
	for d := DecisionFollow; d <= DecisionExpired; d++ {
		names = append(names, d.String())
	}
	sort.Strings(names)
	assert.Equal(t, []string{"claimed", "expired", "follow", "orphaned", "relinquished", "simulate"}, names)
}
