package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/mmo-replay/internal/logging"
	"github.com/annel0/mmo-replay/internal/replay"
)

var _ replay.Catalog = (*SummaryCache)(nil)

// Config параметры горячего слоя каталога
type Config struct {
	RedisURL      string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration // 0 - час
	Timeout       time.Duration // одна операция Redis, 0 - 500ms
	Prefix        string        // "replay:summary:"
}

// CacheMetrics счётчики обращений
type CacheMetrics struct {
	TotalRequests int64   `json:"total_requests"`
	CacheHits     int64   `json:"cache_hits"`
	ColdHits      int64   `json:"cold_hits"`
	CacheMisses   int64   `json:"cache_misses"`
	HitRatio      float64 `json:"hit_ratio"`
}

// SummaryCache двухуровневый каталог: Redis (общий для нескольких серверов
// над одной директорией) поверх локального cold каталога.
// Устаревшие записи (другой размер или mtime) считаются промахом.
type SummaryCache struct {
	client *redis.Client
	cold   replay.Catalog
	cfg    Config
	log    *logging.Logger

	requests atomic.Int64
	hits     atomic.Int64
	coldHits atomic.Int64
	misses   atomic.Int64
}

// NewSummaryCache подключается к Redis. cold может быть nil.
func NewSummaryCache(cfg Config, cold replay.Catalog, log *logging.Logger) (*SummaryCache, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "replay:summary:"
	}
	if log == nil {
		log = logging.Default()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisURL,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     4,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisURL, err)
	}

	log.Info("🗂️ Каталог записей в Redis: %s", cfg.RedisURL)
	return &SummaryCache{client: rdb, cold: cold, cfg: cfg, log: log}, nil
}

func (sc *SummaryCache) key(name string) string {
	return sc.cfg.Prefix + name
}

func fresh(s replay.Summary, size int64, modTime time.Time) bool {
	return s.Size == size && s.ModTime.Equal(modTime)
}

// Lookup Redis, затем cold каталог. Найденное в cold поднимается в Redis.
func (sc *SummaryCache) Lookup(name string, size int64, modTime time.Time) (replay.Summary, bool) {
	sc.requests.Add(1)
	ctx, cancel := context.WithTimeout(context.Background(), sc.cfg.Timeout)
	defer cancel()

	data, err := sc.client.Get(ctx, sc.key(name)).Bytes()
	switch {
	case err == nil:
		var s replay.Summary
		if jerr := json.Unmarshal(data, &s); jerr == nil && fresh(s, size, modTime) {
			sc.hits.Add(1)
			return s, true
		}
	case !errors.Is(err, redis.Nil):
		sc.log.Debug("Redis Get %s: %v", name, err)
	}

	if sc.cold != nil {
		if s, ok := sc.cold.Lookup(name, size, modTime); ok {
			sc.coldHits.Add(1)
			sc.set(ctx, s)
			return s, true
		}
	}
	sc.misses.Add(1)
	return replay.Summary{}, false
}

// Store пишет в оба слоя. Ошибка Redis только логируется.
func (sc *SummaryCache) Store(s replay.Summary) error {
	var err error
	if sc.cold != nil {
		err = sc.cold.Store(s)
	}
	ctx, cancel := context.WithTimeout(context.Background(), sc.cfg.Timeout)
	defer cancel()
	sc.set(ctx, s)
	return err
}

func (sc *SummaryCache) set(ctx context.Context, s replay.Summary) {
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := sc.client.Set(ctx, sc.key(s.Name), data, sc.cfg.TTL).Err(); err != nil {
		sc.log.Warn("Redis Set %s: %v", s.Name, err)
	}
}

// Invalidate удаляет запись из горячего слоя
func (sc *SummaryCache) Invalidate(name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), sc.cfg.Timeout)
	defer cancel()
	return sc.client.Del(ctx, sc.key(name)).Err()
}

// GetMetrics снимок счётчиков
func (sc *SummaryCache) GetMetrics() CacheMetrics {
	m := CacheMetrics{
		TotalRequests: sc.requests.Load(),
		CacheHits:     sc.hits.Load(),
		ColdHits:      sc.coldHits.Load(),
		CacheMisses:   sc.misses.Load(),
	}
	if m.TotalRequests > 0 {
		m.HitRatio = float64(m.CacheHits+m.ColdHits) / float64(m.TotalRequests)
	}
	return m
}

// Close закрывает соединение с Redis. Cold каталог закрывает владелец.
func (sc *SummaryCache) Close() error {
	return sc.client.Close()
}
