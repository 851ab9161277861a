package registry

import (
	"testing"
	"time"

	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRaider(structureID string, home vec.Vec2Float, owner string) *entity.Entity {
	e := entity.New(entity.IDFor(entity.FamilyRaider, structureID), entity.FamilyRaider, structureID, home, time.Unix(0, 0))
	e.Ownership = entity.Ownership{OwnerID: owner, Term: 1}
	return e
}

func TestRegistryAddRemove(t *testing.T) {
	r := New(64)

	a := newRaider("1", vec.Vec2Float{X: 10, Y: 10}, "a")
	b := newRaider("2", vec.Vec2Float{X: 20, Y: 10}, "b")
	require.True(t, r.Add(a))
	require.True(t, r.Add(b))
	assert.False(t, r.Add(newRaider("1", vec.Vec2Float{}, "c")), "повторный ID не должен добавляться")
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get("tent_2")
	require.True(t, ok)
	assert.Same(t, b, got)

	removed, ok := r.Remove("tent_1")
	require.True(t, ok)
	assert.Same(t, a, removed)
	assert.False(t, r.Has("tent_1"))
	assert.Equal(t, 1, r.Index().Len())

	// После swap-remove оставшаяся запись по-прежнему доступна
	got, ok = r.Get("tent_2")
	require.True(t, ok)
	assert.Same(t, b, got)

	_, ok = r.Remove("tent_1")
	assert.False(t, ok)
}

func TestRegistryCounts(t *testing.T) {
	r := New(64)
	r.Add(newRaider("1", vec.Vec2Float{}, "a"))
	r.Add(newRaider("2", vec.Vec2Float{}, "a"))
	r.Add(newRaider("3", vec.Vec2Float{}, "b"))

	dead := newRaider("4", vec.Vec2Float{}, "a")
	dead.State = entity.StateDead
	r.Add(dead)

	relinquished := newRaider("5", vec.Vec2Float{}, "a")
	relinquished.Ownership.Relinquished = true
	r.Add(relinquished)

	assert.Equal(t, 2, r.CountOwnedBy("a"), "мёртвые и уступленные не считаются")
	assert.Equal(t, 1, r.CountOwnedBy("b"))
	assert.Equal(t, 0, r.CountOwnedBy("c"))

	counts := r.CountsByOwner()
	assert.Equal(t, 3, counts["a"])
	assert.Equal(t, 1, counts["b"])
}

func TestRegistryNear(t *testing.T) {
	r := New(64)
	near := newRaider("1", vec.Vec2Float{X: 5, Y: 5}, "a")
	far := newRaider("2", vec.Vec2Float{X: 500, Y: 500}, "a")
	// Дом далеко, но сущность ушла к центру на длину поводка
	wandered := newRaider("3", vec.Vec2Float{X: 90, Y: 0}, "a")
	wandered.Position = vec.Vec2Float{X: 8, Y: 0}
	r.Add(near)
	r.Add(far)
	r.Add(wandered)

	got := r.Near(vec.Vec2Float{}, 20, 0, nil)
	require.Len(t, got, 1)
	assert.Equal(t, near.ID, got[0].ID)

	got = r.Near(vec.Vec2Float{}, 20, 100, got)
	require.Len(t, got, 2)
	assert.Equal(t, near.ID, got[0].ID)
	assert.Equal(t, wandered.ID, got[1].ID)
}

func TestChunkIndex(t *testing.T) {
	ci := NewChunkIndex(10)

	t.Run("NegativeCoordinates", func(t *testing.T) {
		assert.Equal(t, vec.Vec2{X: -1, Y: -1}, ci.CellOf(vec.Vec2Float{X: -0.5, Y: -9.9}))
		assert.Equal(t, vec.Vec2{X: 0, Y: 0}, ci.CellOf(vec.Vec2Float{X: 0, Y: 9.99}))
	})

	t.Run("InCellSorted", func(t *testing.T) {
		ci.Insert("b", vec.Vec2Float{X: 1, Y: 1})
		ci.Insert("a", vec.Vec2Float{X: 2, Y: 2})
		ci.Insert("c", vec.Vec2Float{X: 15, Y: 1})
		assert.Equal(t, []entity.ID{"a", "b"}, ci.InCell(vec.Vec2{}, nil))

		ci.Insert("b", vec.Vec2Float{X: 15, Y: 5})
		assert.Equal(t, []entity.ID{"a"}, ci.InCell(vec.Vec2{}, nil))
		assert.Equal(t, []entity.ID{"b", "c"}, ci.InCell(vec.Vec2{X: 1}, nil))
	})

	t.Run("Neighborhood", func(t *testing.T) {
		cells := Neighborhood(vec.Vec2{X: 5, Y: 5}, 1, nil)
		require.Len(t, cells, 9)
		assert.Equal(t, vec.Vec2{X: 4, Y: 4}, cells[0])
		assert.Equal(t, vec.Vec2{X: 5, Y: 5}, cells[4])
		assert.Equal(t, vec.Vec2{X: 6, Y: 6}, cells[8])
		assert.Len(t, Neighborhood(vec.Vec2{}, 2, cells), 25)
	})
}

func TestScratch(t *testing.T) {
	s := NewScratch[int](4)
	s.Append(1)
	s.Append(2)
	assert.Equal(t, []int{1, 2}, s.Items())

	s.Reset()
	assert.Equal(t, 0, s.Len())
	s.Keep(append(s.Buffer(), 7, 8, 9))
	assert.Equal(t, 3, s.Len())
}
