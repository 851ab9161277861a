// Package cooldown хранилища перезарядки респавна построек.
//
// Ключ: "<семейство>:<ID постройки>", значение живёт TTL. Пока ключ есть,
// очередь спавна не создаёт сущность для постройки.
package cooldown

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownBackend неизвестный тип хранилища в конфигурации
var ErrUnknownBackend = errors.New("неизвестное хранилище перезарядки")

// Store хранилище перезарядки
type Store interface {
	// Start запускает перезарядку ключа на ttl. Повторный вызов продлевает её.
	Start(ctx context.Context, key string, ttl time.Duration) error
	// Active идёт ли перезарядка ключа
	Active(ctx context.Context, key string) (bool, error)
	Close() error
}

// Config параметры хранилища
type Config struct {
	// Backend memory | redis | badger
	Backend string `yaml:"backend"`
	// TTL длительность перезарядки после смерти NPC
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"key_prefix"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	BadgerPath string `yaml:"badger_path"`
}

// DefaultConfig значения по умолчанию
func DefaultConfig() Config {
	return Config{
		Backend:    "memory",
		TTL:        90 * time.Second,
		KeyPrefix:  "npc:cooldown:",
		RedisAddr:  "localhost:6379",
		BadgerPath: "data/cooldown",
	}
}

// Open создаёт хранилище по конфигурации
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		s, err := NewRedisStore(cfg)
		if err != nil {
			return nil, fmt.Errorf("cooldown redis: %w", err)
		}
		return s, nil
	case "badger":
		s, err := NewBadgerStore(cfg.BadgerPath, false)
		if err != nil {
			return nil, fmt.Errorf("cooldown badger: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
