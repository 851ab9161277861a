package replication

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Флаги первого байта пакета
const (
	flagRaw  byte = 0
	flagZstd byte = 1
)

// ErrCorruptBatch пакет не разбирается
var ErrCorruptBatch = errors.New("replication: повреждённый пакет")

// Codec кодирует пакет сообщений: msgpack, затем zstd, если пакет больше порога.
// Безопасен для одновременного использования (EncodeAll/DecodeAll у zstd потокобезопасны).
type Codec struct {
	threshold    int
	compressor   *zstd.Encoder
	decompressor *zstd.Decoder
}

// NewCodec создаёт кодек. threshold <= 0: сжимать всегда.
func NewCodec(threshold int) (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Codec{threshold: threshold, compressor: enc, decompressor: dec}, nil
}

// Encode сериализует сообщения
func (c *Codec) Encode(msgs []Message) ([]byte, error) {
	raw, err := msgpack.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("msgpack: %w", err)
	}
	if len(raw) < c.threshold {
		out := make([]byte, 0, len(raw)+1)
		out = append(out, flagRaw)
		return append(out, raw...), nil
	}
	out := make([]byte, 1, len(raw)/2+1)
	out[0] = flagZstd
	return c.compressor.EncodeAll(raw, out), nil
}

// Decode разбирает пакет
func (c *Codec) Decode(payload []byte) ([]Message, error) {
	if len(payload) < 1 {
		return nil, ErrCorruptBatch
	}
	body := payload[1:]
	switch payload[0] {
	case flagRaw:
	case flagZstd:
		decompressed, err := c.decompressor.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompression failed: %v", ErrCorruptBatch, err)
		}
		body = decompressed
	default:
		return nil, fmt.Errorf("%w: флаг %d", ErrCorruptBatch, payload[0])
	}
	var msgs []Message
	if err := msgpack.Unmarshal(body, &msgs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBatch, err)
	}
	return msgs, nil
}

// Close освобождает ресурсы zstd
func (c *Codec) Close() {
	_ = c.compressor.Close()
	c.decompressor.Close()
}
