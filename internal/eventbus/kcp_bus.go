package eventbus

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	kcp "github.com/xtaci/kcp-go/v5"

	"github.com/annel0/npc-authority/internal/logging"
)

// maxFrameSize предел размера одного кадра
const maxFrameSize = 1 << 20

// KCPConfig параметры прямой сети между пирами
type KCPConfig struct {
	// Listen адрес для входящих соединений (":7100"); пусто: только исходящие
	Listen string `yaml:"listen"`
	// Peers адреса пиров, к которым подключаемся сами
	Peers []string `yaml:"peers"`
	// RedialInterval пауза перед повторным подключением
	RedialInterval time.Duration `yaml:"redial_interval"`
	// SendQueue длина очереди отправки на одного пира
	SendQueue int `yaml:"send_queue"`
}

// DefaultKCPConfig значения по умолчанию
func DefaultKCPConfig() KCPConfig {
	return KCPConfig{
		Listen:         ":7100",
		RedialInterval: 2 * time.Second,
		SendQueue:      256,
	}
}

// kcpPeer соединение с одним пиром
type kcpPeer struct {
	addr string
	conn *kcp.UDPSession
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (p *kcpPeer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

// KCPBus рассылает события всем подключённым пирам напрямую, без брокера.
// Каждый кадр: 4 байта длины (LE) + Envelope в msgpack. Если два пира подключены
// друг к другу встречно, события приходят дважды.
type KCPBus struct {
	cfg      KCPConfig
	listener *kcp.Listener
	subs     *fanout
	logger   *logging.Logger

	mu    sync.RWMutex
	peers map[*kcpPeer]struct{}

	published uint64
	consumed  uint64
	dropped   uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKCPBus поднимает listener и начинает подключение к пирам из конфигурации
func NewKCPBus(cfg KCPConfig) (*KCPBus, error) {
	def := DefaultKCPConfig()
	if cfg.RedialInterval <= 0 {
		cfg.RedialInterval = def.RedialInterval
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = def.SendQueue
	}

	kb := &KCPBus{
		cfg:    cfg,
		subs:   newFanout(),
		logger: logging.GetTransportLogger(),
		peers:  make(map[*kcpPeer]struct{}),
	}
	kb.ctx, kb.cancel = context.WithCancel(context.Background())

	if cfg.Listen != "" {
		listener, err := kcp.ListenWithOptions(cfg.Listen, nil, 0, 0)
		if err != nil {
			kb.cancel()
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Listen, err)
		}
		kb.listener = listener
		kb.wg.Add(1)
		go kb.acceptLoop()
		kb.logger.Info("🚀 KCP шина слушает %s", cfg.Listen)
	}

	for _, addr := range cfg.Peers {
		kb.wg.Add(1)
		go kb.dialLoop(addr)
	}
	return kb, nil
}

// Addr фактический адрес listener'а (для ":0")
func (kb *KCPBus) Addr() string {
	if kb.listener == nil {
		return ""
	}
	return kb.listener.Addr().String()
}

// Connect добавляет пира во время работы
func (kb *KCPBus) Connect(addr string) {
	kb.wg.Add(1)
	go kb.dialLoop(addr)
}

// PeerCount число активных соединений
func (kb *KCPBus) PeerCount() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.peers)
}

func tune(conn *kcp.UDPSession) {
	// Настраиваем KCP параметры для игрового трафика
	conn.SetStreamMode(true)
	conn.SetWriteDelay(false)
	conn.SetNoDelay(1, 20, 2, 1)
	conn.SetWindowSize(512, 512)
	conn.SetMtu(1400)
}

func (kb *KCPBus) acceptLoop() {
	defer kb.wg.Done()
	for {
		conn, err := kb.listener.AcceptKCP()
		if err != nil {
			select {
			case <-kb.ctx.Done():
				return
			default:
				kb.logger.Error("Failed to accept connection: %v", err)
				continue
			}
		}
		tune(conn)
		p := kb.register(conn.RemoteAddr().String(), conn)
		kb.wg.Add(1)
		go func() {
			defer kb.wg.Done()
			kb.serve(p)
		}()
	}
}

func (kb *KCPBus) dialLoop(addr string) {
	defer kb.wg.Done()
	for {
		conn, err := kcp.DialWithOptions(addr, nil, 0, 0)
		if err == nil {
			tune(conn)
			kb.logger.Info("🔗 KCP соединение с пиром %s", addr)
			kb.serve(kb.register(addr, conn))
		} else {
			kb.logger.Warn("KCP dial %s: %v", addr, err)
		}
		select {
		case <-kb.ctx.Done():
			return
		case <-time.After(kb.cfg.RedialInterval):
		}
	}
}

func (kb *KCPBus) register(addr string, conn *kcp.UDPSession) *kcpPeer {
	p := &kcpPeer{
		addr: addr,
		conn: conn,
		send: make(chan []byte, kb.cfg.SendQueue),
		done: make(chan struct{}),
	}
	kb.mu.Lock()
	kb.peers[p] = struct{}{}
	kb.mu.Unlock()
	return p
}

func (kb *KCPBus) unregister(p *kcpPeer) {
	kb.mu.Lock()
	delete(kb.peers, p)
	kb.mu.Unlock()
	p.close()
}

// serve обслуживает соединение до ошибки чтения или закрытия шины
func (kb *KCPBus) serve(p *kcpPeer) {
	defer kb.unregister(p)

	go kb.sendLoop(p)
	go func() {
		select {
		case <-kb.ctx.Done():
			p.close()
		case <-p.done:
		}
	}()

	if err := kb.readLoop(p); err != nil && !errors.Is(err, io.EOF) {
		select {
		case <-kb.ctx.Done():
		default:
			kb.logger.Debug("KCP пир %s отключён: %v", p.addr, err)
		}
	}
}

func (kb *KCPBus) sendLoop(p *kcpPeer) {
	for {
		select {
		case frame := <-p.send:
			if _, err := p.conn.Write(frame); err != nil {
				kb.logger.Debug("KCP запись %s: %v", p.addr, err)
				p.close()
				return
			}
		case <-p.done:
			return
		}
	}
}

func (kb *KCPBus) readLoop(p *kcpPeer) error {
	r := bufio.NewReader(p.conn)
	header := make([]byte, 4)
	var buf []byte
	for {
		// Таймаут чтения: соединение без трафика считается потерянным
		_ = p.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		if _, err := io.ReadFull(r, header); err != nil {
			return err
		}
		n := binary.LittleEndian.Uint32(header)
		if n == 0 || n > maxFrameSize {
			return fmt.Errorf("message length mismatch: %d", n)
		}
		if cap(buf) < int(n) {
			buf = make([]byte, n)
		}
		buf = buf[:n]
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}

		var ev Envelope
		if err := msgpack.Unmarshal(buf, &ev); err != nil {
			atomic.AddUint64(&kb.dropped, 1)
			kb.logger.Debug("Failed to deserialize message: %v", err)
			continue
		}
		n2 := kb.subs.deliver(&ev)
		atomic.AddUint64(&kb.consumed, uint64(n2))
	}
}

func encodeFrame(ev *Envelope) ([]byte, error) {
	data, err := msgpack.Marshal(ev)
	if err != nil {
		return nil, err
	}
	if len(data) > maxFrameSize {
		return nil, fmt.Errorf("message too large: %d", len(data))
	}
	frame := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)
	return frame, nil
}

// Publish отправляет событие всем подключённым пирам.
// Низкоприоритетные события при полной очереди пира отбрасываются.
func (kb *KCPBus) Publish(ctx context.Context, ev *Envelope) error {
	if kb.ctx.Err() != nil {
		return ErrClosed
	}
	frame, err := encodeFrame(ev)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	kb.mu.RLock()
	peers := make([]*kcpPeer, 0, len(kb.peers))
	for p := range kb.peers {
		peers = append(peers, p)
	}
	kb.mu.RUnlock()

	for _, p := range peers {
		select {
		case p.send <- frame:
			continue
		default:
		}
		if ev.Priority < HighPriority {
			atomic.AddUint64(&kb.dropped, 1)
			continue
		}
		select {
		case p.send <- frame:
		case <-p.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	atomic.AddUint64(&kb.published, 1)
	return nil
}

// Subscribe регистрирует обработчик входящих событий.
// Обработчик вызывается из горутины чтения соединения.
func (kb *KCPBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	id := kb.subs.add(ctx, f, h)
	return &fanoutSub{fo: kb.subs, id: id}, nil
}

// Metrics возвращает текущие метрики.
func (kb *KCPBus) Metrics() Stats {
	inflight := 0
	kb.mu.RLock()
	for p := range kb.peers {
		inflight += len(p.send)
	}
	kb.mu.RUnlock()
	return Stats{
		Published: atomic.LoadUint64(&kb.published),
		Consumed:  atomic.LoadUint64(&kb.consumed),
		Dropped:   atomic.LoadUint64(&kb.dropped),
		InFlight:  inflight,
	}
}

// Close закрывает listener и все соединения
func (kb *KCPBus) Close() error {
	if kb.ctx.Err() != nil {
		return nil
	}
	kb.cancel()
	var err error
	if kb.listener != nil {
		err = kb.listener.Close()
	}
	kb.mu.RLock()
	for p := range kb.peers {
		p.close()
	}
	kb.mu.RUnlock()
	kb.wg.Wait()
	kb.logger.Info("🛑 KCP шина остановлена")
	return err
}
