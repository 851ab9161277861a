package replication

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/npc-authority/internal/eventbus"
)

// EventBatch тип события шины с пакетом сообщений
const EventBatch = "batch"

// Batcher накапливает исходящие сообщения тика и отправляет их одним пакетом.
// Используется только из тика.
type Batcher struct {
	buf      []Message
	capacity int
	// stateIdx позиция последнего state каждой сущности в buf
	stateIdx map[string]int

	bus     eventbus.EventBus
	source  string
	codec   *Codec
	timeout time.Duration

	dropped  uint64
	sent     uint64
	lastSize int
}

// NewBatcher создаёт пакетировщик. capacity: предел сообщений в одном пакете.
func NewBatcher(bus eventbus.EventBus, source string, capacity int, codec *Codec, timeout time.Duration) *Batcher {
	if capacity <= 0 {
		capacity = 512
	}
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	return &Batcher{
		capacity: capacity,
		stateIdx: make(map[string]int),
		bus:      bus,
		source:   source,
		codec:    codec,
		timeout:  timeout,
	}
}

// Add добавляет сообщение; при переполнении низкоприоритетные сообщения отбрасываются.
// Повторный state той же сущности заменяет предыдущий.
func (b *Batcher) Add(msg Message) {
	if msg.Kind == KindState && msg.State != nil {
		if i, ok := b.stateIdx[msg.State.EntityID]; ok {
			b.buf[i] = msg
			return
		}
	}

	if len(b.buf) >= b.capacity {
		// ищем самое низкое Priority и заменяем, если новый выше.
		lowIdx := -1
		lowPri := msg.Priority()
		for i := range b.buf {
			if p := b.buf[i].Priority(); p < lowPri {
				lowPri = p
				lowIdx = i
			}
		}
		b.dropped++
		if lowIdx < 0 {
			// все сообщения >= чем новое: дропаём новое
			return
		}
		if old := b.buf[lowIdx]; old.Kind == KindState {
			delete(b.stateIdx, old.State.EntityID)
		}
		b.buf[lowIdx] = msg
		if msg.Kind == KindState {
			b.stateIdx[msg.State.EntityID] = lowIdx
		}
		return
	}

	if msg.Kind == KindState {
		b.stateIdx[msg.State.EntityID] = len(b.buf)
	}
	b.buf = append(b.buf, msg)
}

// Pending сколько сообщений ждёт отправки
func (b *Batcher) Pending() int {
	return len(b.buf)
}

// Dropped сколько сообщений отброшено из-за переполнения
func (b *Batcher) Dropped() uint64 {
	return b.dropped
}

// Sent сколько пакетов отправлено
func (b *Batcher) Sent() uint64 {
	return b.sent
}

// LastSize размер последнего пакета в байтах
func (b *Batcher) LastSize() int {
	return b.lastSize
}

// Flush отсылает накопленные сообщения единым пакетом. Буфер очищается даже при ошибке:
// транспорт ненадёжен, состояние будет разослано повторно в следующих тиках.
func (b *Batcher) Flush(ctx context.Context, now time.Time) error {
	if len(b.buf) == 0 {
		return nil
	}
	prio := 0
	for i := range b.buf {
		if p := b.buf[i].Priority(); p > prio {
			prio = p
		}
	}
	payload, err := b.codec.Encode(b.buf)
	b.reset()
	if err != nil {
		return fmt.Errorf("batch encode: %w", err)
	}
	b.lastSize = len(payload)

	env := &eventbus.Envelope{
		ID:        uuid.NewString(),
		Timestamp: now.UTC(),
		Source:    b.source,
		EventType: EventBatch,
		Version:   1,
		Priority:  prio,
		Payload:   payload,
	}
	pctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := b.bus.Publish(pctx, env); err != nil {
		return fmt.Errorf("batch publish: %w", err)
	}
	b.sent++
	return nil
}

func (b *Batcher) reset() {
	for i := range b.buf {
		b.buf[i] = Message{}
	}
	b.buf = b.buf[:0]
	for k := range b.stateIdx {
		delete(b.stateIdx, k)
	}
}
