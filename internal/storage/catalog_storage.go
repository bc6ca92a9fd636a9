package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/mmo-replay/internal/replay"
)

const summaryPrefix = "summary:"

// ErrNotReady хранилище закрыто
var ErrNotReady = errors.New("storage: catalog is closed")

// CatalogStorage кэш сводок файлов записей в BadgerDB.
// Запись считается актуальной, пока совпадают размер и время изменения файла.
type CatalogStorage struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// NewCatalogStorage открывает каталог по пути dbPath. inMemory держит данные только в памяти.
func NewCatalogStorage(dbPath string, inMemory bool) (*CatalogStorage, error) {
	opts := badger.DefaultOptions(dbPath)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &CatalogStorage{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

// Close закрывает хранилище
func (cs *CatalogStorage) Close() error {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	if !cs.isReady {
		return nil
	}

	cs.isReady = false
	return cs.db.Close()
}

func summaryKey(name string) []byte {
	return []byte(summaryPrefix + name)
}

// Lookup возвращает сводку, если файл не менялся с момента сохранения
func (cs *CatalogStorage) Lookup(name string, size int64, modTime time.Time) (replay.Summary, bool) {
	s, err := cs.Get(name)
	if err != nil {
		return replay.Summary{}, false
	}
	if s.Size != size || !s.ModTime.Equal(modTime) {
		return replay.Summary{}, false
	}
	return s, true
}

// Get читает сводку без проверки актуальности
func (cs *CatalogStorage) Get(name string) (replay.Summary, error) {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	if !cs.isReady {
		return replay.Summary{}, ErrNotReady
	}

	var data []byte
	err := cs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(summaryKey(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})
	if err != nil {
		return replay.Summary{}, err
	}

	var s replay.Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return replay.Summary{}, fmt.Errorf("ошибка десериализации сводки %s: %w", name, err)
	}
	return s, nil
}

// Store сохраняет сводку файла
func (cs *CatalogStorage) Store(s replay.Summary) error {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	if !cs.isReady {
		return ErrNotReady
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("ошибка сериализации сводки: %w", err)
	}

	err = cs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(summaryKey(s.Name), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// Remove удаляет сводку
func (cs *CatalogStorage) Remove(name string) error {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	if !cs.isReady {
		return ErrNotReady
	}
	return cs.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(summaryKey(name))
	})
}

// Names имена всех файлов в каталоге
func (cs *CatalogStorage) Names() ([]string, error) {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	if !cs.isReady {
		return nil, ErrNotReady
	}

	var names []string
	err := cs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(summaryPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), summaryPrefix))
		}
		return nil
	})
	return names, err
}

// Prune удаляет сводки файлов, которых больше нет в списке
func (cs *CatalogStorage) Prune(existing []replay.Summary) (int, error) {
	keep := make(map[string]struct{}, len(existing))
	for _, s := range existing {
		keep[s.Name] = struct{}{}
	}

	names, err := cs.Names()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, name := range names {
		if _, ok := keep[name]; ok {
			continue
		}
		if err := cs.Remove(name); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
