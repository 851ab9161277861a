package cooldown

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
)

// BadgerStore перезарядки на диске пира: переживают перезапуск процесса.
// Истечение через TTL записи Badger.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore открывает базу по пути path; inMemory: без диска (тесты)
func NewBadgerStore(path string, inMemory bool) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Start пишет ключ с TTL
func (b *BadgerStore) Start(_ context.Context, key string, ttl time.Duration) error {
	return b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), []byte{1}).WithTTL(ttl)
		return txn.SetEntry(e)
	})
}

// Active есть ли неистёкший ключ
func (b *BadgerStore) Active(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("badger get: %w", err)
	}
	return true, nil
}

// Close закрывает базу
func (b *BadgerStore) Close() error {
	return b.db.Close()
}
