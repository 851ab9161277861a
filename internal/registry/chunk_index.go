package registry

import (
	"math"
	"sort"

	"github.com/annel0/npc-authority/internal/entity"
	"github.com/annel0/npc-authority/internal/vec"
)

// ChunkIndex пространственный индекс сущностей по ячейке их домашней точки.
// Домашняя точка не меняется за время жизни сущности, поэтому индекс обновляется
// только при добавлении и удалении.
type ChunkIndex struct {
	cellSize float64
	cells    map[vec.Vec2]map[entity.ID]struct{}
	homes    map[entity.ID]vec.Vec2
}

// NewChunkIndex создаёт индекс с размером ячейки cellSize
func NewChunkIndex(cellSize float64) *ChunkIndex {
	if cellSize <= 0 {
		cellSize = 64.0
	}
	return &ChunkIndex{
		cellSize: cellSize,
		cells:    make(map[vec.Vec2]map[entity.ID]struct{}),
		homes:    make(map[entity.ID]vec.Vec2),
	}
}

// CellSize размер ячейки индекса
func (ci *ChunkIndex) CellSize() float64 {
	return ci.cellSize
}

// CellOf ячейка, содержащая точку
func (ci *ChunkIndex) CellOf(p vec.Vec2Float) vec.Vec2 {
	return p.CellOf(ci.cellSize)
}

// Insert добавляет сущность в ячейку её домашней точки
func (ci *ChunkIndex) Insert(id entity.ID, home vec.Vec2Float) {
	if old, ok := ci.homes[id]; ok {
		ci.removeFromCell(id, old)
	}
	key := ci.CellOf(home)
	cell, ok := ci.cells[key]
	if !ok {
		cell = make(map[entity.ID]struct{})
		ci.cells[key] = cell
	}
	cell[id] = struct{}{}
	ci.homes[id] = key
}

// Remove удаляет сущность из индекса
func (ci *ChunkIndex) Remove(id entity.ID) {
	key, ok := ci.homes[id]
	if !ok {
		return
	}
	delete(ci.homes, id)
	ci.removeFromCell(id, key)
}

func (ci *ChunkIndex) removeFromCell(id entity.ID, key vec.Vec2) {
	if cell, exists := ci.cells[key]; exists {
		delete(cell, id)
		if len(cell) == 0 {
			delete(ci.cells, key)
		}
	}
}

// InCell возвращает идентификаторы сущностей ячейки в отсортированном порядке
func (ci *ChunkIndex) InCell(key vec.Vec2, dst []entity.ID) []entity.ID {
	dst = dst[:0]
	for id := range ci.cells[key] {
		dst = append(dst, id)
	}
	sort.Slice(dst, func(i, j int) bool { return dst[i] < dst[j] })
	return dst
}

// QueryRange добавляет в dst сущности, чья домашняя ячейка пересекает круг
// радиуса radius вокруг center. Проверка точной позиции остаётся вызывающему.
func (ci *ChunkIndex) QueryRange(center vec.Vec2Float, radius float64, dst []entity.ID) []entity.ID {
	dst = dst[:0]
	minCell := vec.Vec2Float{X: center.X - radius, Y: center.Y - radius}.CellOf(ci.cellSize)
	maxCell := vec.Vec2Float{X: center.X + radius, Y: center.Y + radius}.CellOf(ci.cellSize)

	for x := minCell.X; x <= maxCell.X; x++ {
		for y := minCell.Y; y <= maxCell.Y; y++ {
			if !ci.cellTouchesCircle(vec.Vec2{X: x, Y: y}, center, radius) {
				continue
			}
			for id := range ci.cells[vec.Vec2{X: x, Y: y}] {
				dst = append(dst, id)
			}
		}
	}
	return dst
}

// cellTouchesCircle пересекает ли квадрат ячейки круг
func (ci *ChunkIndex) cellTouchesCircle(key vec.Vec2, center vec.Vec2Float, radius float64) bool {
	minX := float64(key.X) * ci.cellSize
	minY := float64(key.Y) * ci.cellSize
	nearestX := math.Max(minX, math.Min(center.X, minX+ci.cellSize))
	nearestY := math.Max(minY, math.Min(center.Y, minY+ci.cellSize))
	dx := center.X - nearestX
	dy := center.Y - nearestY
	return dx*dx+dy*dy <= radius*radius
}

// Len количество проиндексированных сущностей
func (ci *ChunkIndex) Len() int {
	return len(ci.homes)
}

// Neighborhood возвращает ячейки квадрата (2r+1)×(2r+1) вокруг center.
// Порядок фиксирован: по строкам, затем по столбцам.
func Neighborhood(center vec.Vec2, r int, dst []vec.Vec2) []vec.Vec2 {
	dst = dst[:0]
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			dst = append(dst, vec.Vec2{X: center.X + dx, Y: center.Y + dy})
		}
	}
	return dst
}
