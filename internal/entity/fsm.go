package entity

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition переход, отсутствующий в таблице переходов
var ErrInvalidTransition = errors.New("недопустимый переход состояния")

// State состояние поведенческого автомата
type State uint8

const (
	StateIdle State = iota
	StateChasing
	StateLeashed
	StateReturning
	StateDead
)

// String возвращает имя состояния (совпадает с полем state в сообщениях)
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChasing:
		return "chasing"
	case StateLeashed:
		return "leashed"
	case StateReturning:
		return "returning"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// ParseState разбирает имя состояния из сообщения
func ParseState(s string) (State, bool) {
	for st := StateIdle; st <= StateDead; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return StateIdle, false
}

// transitions таблица допустимых переходов. В dead можно попасть из любого
// состояния, из dead выхода нет.
var transitions = map[State][]State{
	StateIdle:      {StateChasing, StateReturning, StateDead},
	StateChasing:   {StateLeashed, StateReturning, StateDead},
	StateLeashed:   {StateChasing, StateReturning, StateDead},
	StateReturning: {StateIdle, StateChasing, StateDead},
	StateDead:      {},
}

// CanTransition проверяет переход по таблице
func CanTransition(from, to State) bool {
	if from == to {
		return from != StateDead
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition переводит сущность в новое состояние с проверкой по таблице
func (e *Entity) Transition(to State) error {
	if e.State == to {
		return nil
	}
	if !CanTransition(e.State, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, e.ID, e.State, to)
	}
	e.State = to
	return nil
}
