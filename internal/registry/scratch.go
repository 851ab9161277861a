package registry

// Scratch переиспользуемый буфер для данных одного тика.
// Буфер растёт до пикового размера и дальше не аллоцирует.
type Scratch[T any] struct {
	buf []T
}

// NewScratch создаёт буфер с начальной ёмкостью
func NewScratch[T any](capacity int) *Scratch[T] {
	return &Scratch[T]{buf: make([]T, 0, capacity)}
}

// Reset очищает буфер, сохраняя ёмкость
func (s *Scratch[T]) Reset() {
	var zero T
	for i := range s.buf {
		s.buf[i] = zero
	}
	s.buf = s.buf[:0]
}

// Append добавляет элемент
func (s *Scratch[T]) Append(v T) {
	s.buf = append(s.buf, v)
}

// Items текущие элементы. Срез действителен до следующего Reset.
func (s *Scratch[T]) Items() []T {
	return s.buf
}

// Len количество элементов
func (s *Scratch[T]) Len() int {
	return len(s.buf)
}

// Buffer отдаёт пустой срез с ёмкостью буфера для функций вида f(dst []T) []T
func (s *Scratch[T]) Buffer() []T {
	return s.buf[:0]
}

// Keep сохраняет срез, возвращённый функцией, заполнявшей Buffer()
func (s *Scratch[T]) Keep(items []T) {
	s.buf = items
}
