package spawn

import (
	"sort"

	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/vec"
)

// StaticSource неизменный список построек, разложенный по ячейкам сетки
type StaticSource struct {
	cellSize float64
	byCell   [entity.FamilyCount]map[vec.Vec2][]Structure
}

// NewStaticSource раскладывает постройки по ячейкам размера cellSize
func NewStaticSource(cellSize float64, structures []Structure) *StaticSource {
	if cellSize <= 0 {
		cellSize = DefaultConfig().CellSize
	}
	src := &StaticSource{cellSize: cellSize}
	for _, f := range entity.Families() {
		src.byCell[f] = make(map[vec.Vec2][]Structure)
	}
	for _, s := range structures {
		if !s.Family.Valid() {
			continue
		}
		cell := s.Position.CellOf(cellSize)
		src.byCell[s.Family][cell] = append(src.byCell[s.Family][cell], s)
	}
	for _, cells := range src.byCell {
		for _, list := range cells {
			sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
		}
	}
	return src
}

// StructuresIn постройки семейства в ячейках
func (s *StaticSource) StructuresIn(f entity.Family, cells []vec.Vec2, dst []Structure) []Structure {
	if !f.Valid() {
		return dst
	}
	for _, c := range cells {
		dst = append(dst, s.byCell[f][c]...)
	}
	return dst
}
