package vec

import "math"

// Vec2Float представляет точку на плоскости мира (X: восток, Y: север).
// Высота хранится отдельно и берётся из сэмплера рельефа.
type Vec2Float struct {
	X, Y float64
}

// CellOf возвращает ячейку сетки размером cellSize, содержащую точку
func (v Vec2Float) CellOf(cellSize float64) Vec2 {
	return Vec2{X: int(math.Floor(v.X / cellSize)), Y: int(math.Floor(v.Y / cellSize))}
}

// FromVec2 создает Vec2Float из Vec2
func FromVec2(v Vec2) Vec2Float {
	return Vec2Float{X: float64(v.X), Y: float64(v.Y)}
}

// Add складывает два вектора
func (v Vec2Float) Add(other Vec2Float) Vec2Float {
	return Vec2Float{X: v.X + other.X, Y: v.Y + other.Y}
}

// Sub вычитает вектор
func (v Vec2Float) Sub(other Vec2Float) Vec2Float {
	return Vec2Float{X: v.X - other.X, Y: v.Y - other.Y}
}

// Mul умножает вектор на скаляр
func (v Vec2Float) Mul(scalar float64) Vec2Float {
	return Vec2Float{X: v.X * scalar, Y: v.Y * scalar}
}

// Normalized возвращает нормализованный вектор
func (v Vec2Float) Normalized() Vec2Float {
	length := v.Length()
	if length == 0 {
		return Vec2Float{X: 0, Y: 0}
	}
	return Vec2Float{X: v.X / length, Y: v.Y / length}
}

// Length возвращает длину вектора
func (v Vec2Float) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y)
}

// DistanceTo вычисляет расстояние до другой точки
func (v Vec2Float) DistanceTo(other Vec2Float) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// DistanceSqTo вычисляет квадрат расстояния (без корня)
func (v Vec2Float) DistanceSqTo(other Vec2Float) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	return dx*dx + dy*dy
}

// MoveTowards сдвигает точку к target не более чем на maxStep.
// Возвращает новую точку и признак того, что цель достигнута.
func (v Vec2Float) MoveTowards(target Vec2Float, maxStep float64) (Vec2Float, bool) {
	delta := target.Sub(v)
	dist := delta.Length()
	if dist <= maxStep || dist == 0 {
		return target, true
	}
	return v.Add(delta.Mul(maxStep / dist)), false
}

// HeadingTo возвращает угол направления (радианы, atan2) от v к other
func (v Vec2Float) HeadingTo(other Vec2Float) float64 {
	return math.Atan2(other.Y-v.Y, other.X-v.X)
}

// WrapAngle приводит угол к диапазону (-π, π]
func WrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

// TurnTowards поворачивает угол current к target не более чем на maxTurn радиан
func TurnTowards(current, target, maxTurn float64) float64 {
	diff := WrapAngle(target - current)
	if math.Abs(diff) <= maxTurn {
		return WrapAngle(target)
	}
	if diff > 0 {
		return WrapAngle(current + maxTurn)
	}
	return WrapAngle(current - maxTurn)
}
