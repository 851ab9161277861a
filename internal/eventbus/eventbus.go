// Package eventbus транспорт между пирами сессии. Доставка не упорядочена,
// сообщения могут теряться и дублироваться: получатели обязаны быть идемпотентными.
package eventbus

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed шина закрыта
var ErrClosed = errors.New("eventbus: шина закрыта")

// Envelope описывает универсальный контейнер события.
type Envelope struct {
	// ID глобально уникальный идентификатор (UUID)
	ID string `msgpack:"id"`
	// Timestamp время создания события (UTC)
	Timestamp time.Time `msgpack:"ts"`
	// Source идентификатор пира-источника
	Source string `msgpack:"src"`
	// EventType тип события (npc.batch, npc.heartbeat…)
	EventType string `msgpack:"type"`
	Version   int    `msgpack:"v"`
	// Priority 0=Low … 9=Critical (для backpressure)
	Priority int    `msgpack:"prio"`
	Payload  []byte `msgpack:"payload"`
}

// Filter позволяет подписаться только на нужные события.
type Filter struct {
	Types   []string // Если пусто: все типы.
	Sources []string // Если пусто: все источники.
	// SkipSource не доставлять события этого источника (свои же сообщения)
	SkipSource string
}

// Subscription возвращается при подписке; позволяет отписаться.
type Subscription interface {
	Unsubscribe()
}

// Handler потребляет события.
type Handler func(ctx context.Context, ev *Envelope)

// Stats агрегированные метрики шины.
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// EventBus определяет абстракцию шины событий.
// Реализации: память процесса, NATS JetStream, прямая KCP-сеть между пирами.
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
	Close() error
}

// HighPriority события с приоритетом не ниже этого не отбрасываются при переполнении
const HighPriority = 5

//================ subscribers =================//

type subscriber struct {
	filter  Filter
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
}

// fanout список подписчиков, общий для шин, доставляющих события сами
type fanout struct {
	mu          sync.RWMutex
	subscribers map[int]subscriber
	nextID      int
}

func newFanout() *fanout {
	return &fanout{subscribers: make(map[int]subscriber)}
}

func (fo *fanout) add(ctx context.Context, f Filter, h Handler) int {
	fo.mu.Lock()
	defer fo.mu.Unlock()
	id := fo.nextID
	fo.nextID++
	cctx, cancel := context.WithCancel(ctx)
	fo.subscribers[id] = subscriber{filter: f, handler: h, ctx: cctx, cancel: cancel}
	return id
}

func (fo *fanout) remove(id int) {
	fo.mu.Lock()
	if sub, ok := fo.subscribers[id]; ok {
		sub.cancel()
		delete(fo.subscribers, id)
	}
	fo.mu.Unlock()
}

// matching подписчики, которым подходит событие
func (fo *fanout) matching(ev *Envelope, dst []subscriber) []subscriber {
	fo.mu.RLock()
	defer fo.mu.RUnlock()
	for _, sub := range fo.subscribers {
		if matchFilter(ev, sub.filter) {
			dst = append(dst, sub)
		}
	}
	return dst
}

// deliver вызывает обработчики синхронно; возвращает число доставок
func (fo *fanout) deliver(ev *Envelope) int {
	n := 0
	for _, s := range fo.matching(ev, nil) {
		if s.ctx.Err() != nil {
			continue
		}
		s.handler(s.ctx, ev)
		n++
	}
	return n
}

func matchFilter(ev *Envelope, f Filter) bool {
	if f.SkipSource != "" && ev.Source == f.SkipSource {
		return false
	}
	match := func(val string, arr []string) bool {
		if len(arr) == 0 {
			return true
		}
		for _, v := range arr {
			if v == val {
				return true
			}
		}
		return false
	}
	return match(ev.EventType, f.Types) && match(ev.Source, f.Sources)
}

type fanoutSub struct {
	fo *fanout
	id int
}

func (s *fanoutSub) Unsubscribe() {
	s.fo.remove(s.id)
}

//================ In-Memory implementation =================//

type memoryBus struct {
	closeMu sync.RWMutex
	closed  bool

	statsMu  sync.Mutex
	stats    Stats
	subs     *fanout
	buffer   chan *Envelope
	capacity int
}

// NewMemoryBus создаёт in-memory Bus с указанным буфером.
// Все пиры процесса (тесты, локальный стенд) публикуют в один экземпляр.
func NewMemoryBus(capacity int) EventBus {
	if capacity <= 0 {
		capacity = 1024
	}
	mb := &memoryBus{
		subs:     newFanout(),
		buffer:   make(chan *Envelope, capacity),
		capacity: capacity,
	}
	go mb.dispatchLoop()
	return mb
}

func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	mb.closeMu.RLock()
	defer mb.closeMu.RUnlock()
	if mb.closed {
		return ErrClosed
	}

	select {
	case mb.buffer <- ev:
		mb.count(func(s *Stats) { s.Published++ })
		return nil
	default:
		// Буфер заполнен: дропаём низкий приоритет
		if ev.Priority < HighPriority {
			mb.count(func(s *Stats) { s.Dropped++ })
			return nil
		}
		// Для High-priority блокируем до освобождения места или отмены контекста
		select {
		case mb.buffer <- ev:
			mb.count(func(s *Stats) { s.Published++ })
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (mb *memoryBus) count(fn func(s *Stats)) {
	mb.statsMu.Lock()
	fn(&mb.stats)
	mb.statsMu.Unlock()
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	id := mb.subs.add(ctx, f, h)
	return &fanoutSub{fo: mb.subs, id: id}, nil
}

func (mb *memoryBus) Metrics() Stats {
	mb.statsMu.Lock()
	defer mb.statsMu.Unlock()
	s := mb.stats
	s.InFlight = len(mb.buffer)
	return s
}

func (mb *memoryBus) Close() error {
	mb.closeMu.Lock()
	defer mb.closeMu.Unlock()
	if mb.closed {
		return nil
	}
	mb.closed = true
	close(mb.buffer)
	return nil
}

// dispatchLoop рассылает события подписчикам в порядке публикации.
func (mb *memoryBus) dispatchLoop() {
	for ev := range mb.buffer {
		n := mb.subs.deliver(ev)
		mb.count(func(s *Stats) { s.Consumed += uint64(n) })
	}
}
