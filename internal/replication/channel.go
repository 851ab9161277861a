package replication

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/npc-authority/internal/eventbus"
	"github.com/annel0/npc-authority/internal/logging"
)

// Config параметры канала
type Config struct {
	// StateInterval период рассылки состояния владельцем
	StateInterval time.Duration `yaml:"state_interval"`
	// HeartbeatInterval период heartbeat локального участника
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// MaxBatch предел сообщений в одном исходящем пакете
	MaxBatch int `yaml:"max_batch"`
	// InboxSize предел входящих сообщений между тиками
	InboxSize int `yaml:"inbox_size"`
	// CompressThreshold пакеты от этого размера (байт) сжимаются zstd
	CompressThreshold int           `yaml:"compress_threshold"`
	PublishTimeout    time.Duration `yaml:"publish_timeout"`
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		StateInterval:     200 * time.Millisecond,
		HeartbeatInterval: time.Second,
		MaxBatch:          512,
		InboxSize:         4096,
		CompressThreshold: 512,
		PublishTimeout:    50 * time.Millisecond,
	}
}

// Stats счётчики канала
type Stats struct {
	Received       uint64
	DroppedInbound uint64
	Corrupt        uint64
	DroppedOut     uint64
	BatchesSent    uint64
	LastBatchSize  int
}

// inbox ограниченный входящий буфер: пишет транспорт, вычитывает тик
type inbox struct {
	mu    sync.Mutex
	items []Message
	limit int
}

// push добавляет сообщения; при переполнении state отбрасываются первыми.
// Возвращает число отброшенных.
func (in *inbox) push(msgs []Message) int {
	in.mu.Lock()
	defer in.mu.Unlock()
	dropped := 0
	for _, m := range msgs {
		if len(in.items) >= in.limit && m.Priority() <= PriorityState {
			dropped++
			continue
		}
		in.items = append(in.items, m)
	}
	return dropped
}

func (in *inbox) drain(dst []Message) []Message {
	in.mu.Lock()
	dst = append(dst, in.items...)
	for i := range in.items {
		in.items[i] = Message{}
	}
	in.items = in.items[:0]
	in.mu.Unlock()
	return dst
}

// Channel канал репликации локального участника
type Channel struct {
	cfg     Config
	localID string
	bus     eventbus.EventBus
	codec   *Codec
	out     *Batcher
	in      inbox
	sub     eventbus.Subscription
	log     *logging.Logger

	received       uint64
	droppedInbound uint64
	corrupt        uint64
}

// NewChannel создаёт канал поверх шины
func NewChannel(cfg Config, localID string, bus eventbus.EventBus) (*Channel, error) {
	def := DefaultConfig()
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = def.MaxBatch
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = def.InboxSize
	}
	if cfg.StateInterval <= 0 {
		cfg.StateInterval = def.StateInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	codec, err := NewCodec(cfg.CompressThreshold)
	if err != nil {
		return nil, fmt.Errorf("replication codec: %w", err)
	}
	return &Channel{
		cfg:     cfg,
		localID: localID,
		bus:     bus,
		codec:   codec,
		out:     NewBatcher(bus, localID, cfg.MaxBatch, codec, cfg.PublishTimeout),
		in:      inbox{limit: cfg.InboxSize},
		log:     logging.GetReplicationLogger(),
	}, nil
}

// Config параметры канала
func (c *Channel) Config() Config {
	return c.cfg
}

// Start подписывается на пакеты других участников
func (c *Channel) Start(ctx context.Context) error {
	sub, err := c.bus.Subscribe(ctx, eventbus.Filter{Types: []string{EventBatch}, SkipSource: c.localID}, c.receive)
	if err != nil {
		return fmt.Errorf("replication subscribe: %w", err)
	}
	c.sub = sub
	c.log.Info("📡 Канал репликации %s запущен", c.localID)
	return nil
}

func (c *Channel) receive(_ context.Context, ev *eventbus.Envelope) {
	msgs, err := c.codec.Decode(ev.Payload)
	if err != nil {
		atomic.AddUint64(&c.corrupt, 1)
		c.log.Debug("⚠️ Пакет от %s отброшен: %v", ev.Source, err)
		return
	}
	valid := msgs[:0]
	for _, m := range msgs {
		if m.Valid() {
			valid = append(valid, m)
		}
	}
	atomic.AddUint64(&c.received, uint64(len(valid)))
	if dropped := c.in.push(valid); dropped > 0 {
		atomic.AddUint64(&c.droppedInbound, uint64(dropped))
	}
}

// Deliver кладёт сообщения во входящий буфер напрямую (локальные источники, тесты)
func (c *Channel) Deliver(msgs ...Message) {
	atomic.AddUint64(&c.received, uint64(len(msgs)))
	if dropped := c.in.push(msgs); dropped > 0 {
		atomic.AddUint64(&c.droppedInbound, uint64(dropped))
	}
}

// Drain забирает накопленные входящие сообщения (вызывается в начале тика)
func (c *Channel) Drain(dst []Message) []Message {
	return c.in.drain(dst)
}

// Send ставит сообщение в исходящий пакет тика
func (c *Channel) Send(msg Message) {
	c.out.Add(msg)
}

// Flush отправляет пакет тика
func (c *Channel) Flush(ctx context.Context, now time.Time) {
	if err := c.out.Flush(ctx, now); err != nil {
		c.log.Debug("⚠️ %v", err)
	}
}

// Stats счётчики канала
func (c *Channel) Stats() Stats {
	return Stats{
		Received:       atomic.LoadUint64(&c.received),
		DroppedInbound: atomic.LoadUint64(&c.droppedInbound),
		Corrupt:        atomic.LoadUint64(&c.corrupt),
		DroppedOut:     c.out.Dropped(),
		BatchesSent:    c.out.Sent(),
		LastBatchSize:  c.out.LastSize(),
	}
}

// Close отписывается от шины
func (c *Channel) Close() {
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
	c.codec.Close()
}
