// Package pathfind навигационная сетка и сервис поиска пути для NPC.
package pathfind

import (
	"container/heap"
	"math"

	"github.com/annel0/npc-authority/internal/terrain"
	"github.com/annel0/npc-authority/internal/vec"
)

type neighbor struct {
	col      int
	row      int
	cost     float64
	diagonal bool
}

var neighborOffsets = [...]neighbor{
	{col: 0, row: -1, cost: 1},
	{col: 1, row: 0, cost: 1},
	{col: 0, row: 1, cost: 1},
	{col: -1, row: 0, cost: 1},
	{col: 1, row: -1, cost: math.Sqrt2, diagonal: true},
	{col: 1, row: 1, cost: math.Sqrt2, diagonal: true},
	{col: -1, row: 1, cost: math.Sqrt2, diagonal: true},
	{col: -1, row: -1, cost: math.Sqrt2, diagonal: true},
}

// GridConfig область и шаг навигационной сетки
type GridConfig struct {
	CellSize float64 `yaml:"cell_size"`
	MinX     float64 `yaml:"min_x"`
	MinY     float64 `yaml:"min_y"`
	Width    float64 `yaml:"width"`
	Height   float64 `yaml:"height"`
	// MaxSlope максимальный перепад высоты между соседними ячейками
	MaxSlope float64 `yaml:"max_slope"`
	// MaxExpanded предел раскрытых узлов A* на один запрос
	MaxExpanded int `yaml:"max_expanded"`
}

// DefaultGridConfig значения по умолчанию
func DefaultGridConfig() GridConfig {
	return GridConfig{
		CellSize:    8,
		MinX:        -1024,
		MinY:        -1024,
		Width:       2048,
		Height:      2048,
		MaxSlope:    6,
		MaxExpanded: 20000,
	}
}

// Grid сетка проходимости, построенная по сэмплеру рельефа. Только чтение после создания.
type Grid struct {
	cfg        GridConfig
	cols, rows int
	walkable   []bool
	heights    []float64
}

// NewGrid строит сетку: вода непроходима, крутые перепады режут диагонали и рёбра
func NewGrid(cfg GridConfig, sampler terrain.Sampler) *Grid {
	def := DefaultGridConfig()
	if cfg.CellSize <= 0 {
		cfg.CellSize = def.CellSize
	}
	if cfg.MaxExpanded <= 0 {
		cfg.MaxExpanded = def.MaxExpanded
	}
	if sampler == nil {
		sampler = terrain.Flat{}
	}
	cols := int(math.Ceil(cfg.Width / cfg.CellSize))
	rows := int(math.Ceil(cfg.Height / cfg.CellSize))
	if cols <= 0 {
		cols = 1
	}
	if rows <= 0 {
		rows = 1
	}
	g := &Grid{
		cfg:      cfg,
		cols:     cols,
		rows:     rows,
		walkable: make([]bool, cols*rows),
		heights:  make([]float64, cols*rows),
	}
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			p := g.worldPos(col, row)
			idx := g.index(col, row)
			g.heights[idx] = sampler.HeightAt(p)
			g.walkable[idx] = !sampler.IsHazard(p)
		}
	}
	return g
}

func (g *Grid) inBounds(col, row int) bool {
	return col >= 0 && row >= 0 && col < g.cols && row < g.rows
}

func (g *Grid) index(col, row int) int {
	return row*g.cols + col
}

func (g *Grid) worldPos(col, row int) vec.Vec2Float {
	return vec.Vec2Float{
		X: g.cfg.MinX + (float64(col)+0.5)*g.cfg.CellSize,
		Y: g.cfg.MinY + (float64(row)+0.5)*g.cfg.CellSize,
	}
}

func (g *Grid) locate(p vec.Vec2Float) (point, bool) {
	col := int(math.Floor((p.X - g.cfg.MinX) / g.cfg.CellSize))
	row := int(math.Floor((p.Y - g.cfg.MinY) / g.cfg.CellSize))
	if !g.inBounds(col, row) {
		return point{}, false
	}
	return point{col: col, row: row}, true
}

// Walkable проходима ли ячейка, содержащая точку
func (g *Grid) Walkable(p vec.Vec2Float) bool {
	pt, ok := g.locate(p)
	return ok && g.walkable[g.index(pt.col, pt.row)]
}

func (g *Grid) passable(from, to point) bool {
	if !g.inBounds(to.col, to.row) || !g.walkable[g.index(to.col, to.row)] {
		return false
	}
	if g.cfg.MaxSlope <= 0 {
		return true
	}
	dh := g.heights[g.index(to.col, to.row)] - g.heights[g.index(from.col, from.row)]
	return math.Abs(dh) <= g.cfg.MaxSlope
}

func (g *Grid) canTraverseDiagonal(current point, delta neighbor) bool {
	if !delta.diagonal {
		return true
	}
	horiz := point{col: current.col + delta.col, row: current.row}
	vert := point{col: current.col, row: current.row + delta.row}
	return g.passable(current, horiz) && g.passable(current, vert)
}

func (g *Grid) closestWalkable(start point) (point, bool) {
	visited := map[int]struct{}{g.index(start.col, start.row): {}}
	queue := []point{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if g.walkable[g.index(current.col, current.row)] {
			return current, true
		}
		for _, delta := range neighborOffsets {
			next := point{col: current.col + delta.col, row: current.row + delta.row}
			if !g.inBounds(next.col, next.row) {
				continue
			}
			idx := g.index(next.col, next.row)
			if _, seen := visited[idx]; seen {
				continue
			}
			visited[idx] = struct{}{}
			queue = append(queue, next)
		}
	}
	return point{}, false
}

type point struct {
	col int
	row int
}

func heuristic(a, b point) float64 {
	dx := math.Abs(float64(a.col - b.col))
	dy := math.Abs(float64(a.row - b.row))
	if dx > dy {
		return dx + (math.Sqrt2-1)*dy
	}
	return dy + (math.Sqrt2-1)*dx
}

type node struct {
	pt     point
	g      float64
	f      float64
	index  int
	parent *node
}

type openQueue []*node

func (q openQueue) Len() int { return len(q) }

// Less при равном f выигрывает узел с меньшим индексом ячейки, чтобы путь не зависел от порядка кучи
func (q openQueue) Less(i, j int) bool {
	if q[i].f != q[j].f {
		return q[i].f < q[j].f
	}
	if q[i].pt.row != q[j].pt.row {
		return q[i].pt.row < q[j].pt.row
	}
	return q[i].pt.col < q[j].pt.col
}

func (q openQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *openQueue) Push(x any) {
	item := x.(*node)
	item.index = len(*q)
	*q = append(*q, item)
}

func (q *openQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

func (g *Grid) astar(start, goal point) ([]point, bool) {
	open := &openQueue{}
	heap.Init(open)
	heap.Push(open, &node{pt: start, f: heuristic(start, goal)})
	gScore := map[int]float64{g.index(start.col, start.row): 0}
	closed := make(map[int]struct{})

	for open.Len() > 0 {
		if len(closed) >= g.cfg.MaxExpanded {
			return nil, false
		}
		current := heap.Pop(open).(*node)
		currIdx := g.index(current.pt.col, current.pt.row)
		if _, seen := closed[currIdx]; seen {
			continue
		}
		closed[currIdx] = struct{}{}
		if current.pt == goal {
			return reconstruct(current), true
		}

		for _, delta := range neighborOffsets {
			if !g.canTraverseDiagonal(current.pt, delta) {
				continue
			}
			next := point{col: current.pt.col + delta.col, row: current.pt.row + delta.row}
			if !g.passable(current.pt, next) {
				continue
			}
			idx := g.index(next.col, next.row)
			if _, seen := closed[idx]; seen {
				continue
			}
			tentative := current.g + delta.cost
			if prev, ok := gScore[idx]; ok && tentative >= prev {
				continue
			}
			gScore[idx] = tentative
			heap.Push(open, &node{
				pt:     next,
				g:      tentative,
				f:      tentative + heuristic(next, goal),
				parent: current,
			})
		}
	}
	return nil, false
}

func reconstruct(end *node) []point {
	path := make([]point, 0, 16)
	for n := end; n != nil; n = n.parent {
		path = append(path, n.pt)
	}
	for i := 0; i < len(path)/2; i++ {
		j := len(path) - 1 - i
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// FindPath ищет путь от from к to. Точки пути: центры ячеек, последняя точка: сама цель.
// Стартовая ячейка в воде заменяется ближайшей проходимой; цель в воде: пути нет.
func (g *Grid) FindPath(from, to vec.Vec2Float) ([]vec.Vec2Float, bool) {
	start, ok := g.locate(from)
	if !ok {
		return nil, false
	}
	goal, ok := g.locate(to)
	if !ok || !g.walkable[g.index(goal.col, goal.row)] {
		return nil, false
	}
	if !g.walkable[g.index(start.col, start.row)] {
		if start, ok = g.closestWalkable(start); !ok {
			return nil, false
		}
	}
	nodes, ok := g.astar(start, goal)
	if !ok || len(nodes) == 0 {
		return nil, false
	}
	if len(nodes) == 1 {
		return []vec.Vec2Float{to}, true
	}
	path := make([]vec.Vec2Float, 0, len(nodes))
	for i := 1; i < len(nodes)-1; i++ {
		path = append(path, g.worldPos(nodes[i].col, nodes[i].row))
	}
	return append(path, to), true
}
