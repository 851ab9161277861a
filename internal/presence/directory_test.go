package presence

import (
	"sort"
	"testing"
	"time"

	"github.com/annel0/npc-authority/internal/registry"
	"github.com/annel0/npc-authority/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryActivity(t *testing.T) {
	d := NewDirectory(Config{CellSize: 64, StaleAfter: 5 * time.Second, ForgetAfter: 20 * time.Second}, "a")
	t0 := time.Unix(1000, 0)

	_, ok := d.ParticipantsIn([]vec.Vec2{{}}, nil)
	assert.False(t, ok, "без позиции локального участника список недоступен")

	d.UpdateLocal(Heartbeat{Position: vec.Vec2Float{X: 10, Y: 10}}, t0)
	d.Heartbeat(Heartbeat{ParticipantID: "b", Position: vec.Vec2Float{X: 70, Y: 10}}, t0)

	d.Tick(t0.Add(4 * time.Second))
	assert.True(t, d.IsActive("b"))
	assert.False(t, d.IsActive("unknown"))

	d.Tick(t0.Add(6 * time.Second))
	assert.False(t, d.IsActive("b"), "heartbeat устарел")
	assert.True(t, d.IsActive("a"), "локальный участник активен всегда")

	removed := d.Tick(t0.Add(21 * time.Second))
	assert.Equal(t, 1, removed)
	_, ok = d.Lookup("b")
	assert.False(t, ok)
	_, ok = d.Lookup("a")
	assert.True(t, ok, "локальный участник не забывается")
}

func TestDirectoryCells(t *testing.T) {
	d := NewDirectory(DefaultConfig(), "a")
	now := time.Unix(0, 0)
	d.UpdateLocal(Heartbeat{Position: vec.Vec2Float{X: 1, Y: 1}}, now)
	d.Heartbeat(Heartbeat{ParticipantID: "b", Position: vec.Vec2Float{X: 65, Y: 1}}, now)
	d.Heartbeat(Heartbeat{ParticipantID: "c", Position: vec.Vec2Float{X: 300, Y: 300}}, now)

	cells := registry.Neighborhood(vec.Vec2{}, 1, nil)
	ids, ok := d.ParticipantsIn(cells, nil)
	require.True(t, ok)
	sort.Strings(ids)
	assert.Equal(t, []string{"a", "b"}, ids)

	// переход между ячейками
	d.Heartbeat(Heartbeat{ParticipantID: "c", Position: vec.Vec2Float{X: -10, Y: 5}}, now)
	ids, _ = d.ParticipantsIn(cells, nil)
	sort.Strings(ids)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	d.Remove("b")
	ids, _ = d.ParticipantsIn(cells, nil)
	sort.Strings(ids)
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestDirectoryTargetable(t *testing.T) {
	d := NewDirectory(DefaultConfig(), "a")
	now := time.Unix(0, 0)
	d.UpdateLocal(Heartbeat{Position: vec.Vec2Float{}, Faction: "red"}, now)
	d.Heartbeat(Heartbeat{ParticipantID: "d", Dead: true}, now)
	d.Heartbeat(Heartbeat{ParticipantID: "p", SpawnProtected: true}, now)
	d.Heartbeat(Heartbeat{ParticipantID: "b", Faction: "blue"}, now)

	got := d.Targetable(nil)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ParticipantID)
	assert.Equal(t, "b", got[1].ParticipantID)
	assert.Equal(t, "blue", d.FactionOf("b"))
	assert.Equal(t, "", d.FactionOf("zzz"))

	pos, ok := d.LocalPosition()
	assert.True(t, ok)
	assert.Equal(t, vec.Vec2Float{}, pos)
}
