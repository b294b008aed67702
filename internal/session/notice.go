package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yishak-cs/cartrecs/internal/logger"
)

// NoticeStore records which (session, fingerprint) pairs already showed a
// fallback notice. Claim returns true for exactly one caller per key.
type NoticeStore interface {
	Claim(ctx context.Context, sessionID, fingerprint string) (bool, error)
}

func noticeKey(sessionID, fingerprint string) string {
	return sessionID + "|" + fingerprint
}

// MemoryNoticeStore keeps claims in process memory until ttl elapses.
type MemoryNoticeStore struct {
	mu      sync.Mutex
	claimed map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryNoticeStore creates a store whose claims expire after ttl.
// ttl <= 0 keeps claims for the life of the process.
func NewMemoryNoticeStore(ttl time.Duration) *MemoryNoticeStore {
	return &MemoryNoticeStore{
		claimed: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryNoticeStore) Claim(ctx context.Context, sessionID, fingerprint string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key := noticeKey(sessionID, fingerprint)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if at, ok := m.claimed[key]; ok && (m.ttl <= 0 || now.Sub(at) < m.ttl) {
		return false, nil
	}
	m.claimed[key] = now
	return true, nil
}

// Sweep drops expired claims and returns how many were removed.
func (m *MemoryNoticeStore) Sweep(now time.Time) int {
	if m.ttl <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, at := range m.claimed {
		if now.Sub(at) >= m.ttl {
			delete(m.claimed, k)
			removed++
		}
	}
	return removed
}

// RedisConfig points at the redis instance shared by replicas.
type RedisConfig struct {
	Addr      string        `koanf:"addr"`
	Password  string        `koanf:"password"`
	DB        int           `koanf:"db" validate:"gte=0"`
	KeyPrefix string        `koanf:"key_prefix"`
	NoticeTTL time.Duration `koanf:"notice_ttl" validate:"gte=0"`
}

// NewRedisClient dials redis and verifies the connection with a ping.
func NewRedisClient(cfg RedisConfig) (*goredis.Client, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// RedisNoticeStore shares notice claims across replicas using SET NX.
type RedisNoticeStore struct {
	rdb    goredis.Cmdable
	prefix string
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisNoticeStore wraps an existing client. An empty prefix defaults to
// "cartrecs:notice:" and a zero ttl to 24h.
func NewRedisNoticeStore(rdb goredis.Cmdable, cfg RedisConfig, log *logger.Logger) *RedisNoticeStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "cartrecs:notice:"
	}
	ttl := cfg.NoticeTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisNoticeStore{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		log:    log.With("service", "RedisNoticeStore"),
	}
}

func (r *RedisNoticeStore) Claim(ctx context.Context, sessionID, fingerprint string) (bool, error) {
	if r == nil || r.rdb == nil {
		return false, fmt.Errorf("redis notice store not initialized")
	}
	ok, err := r.rdb.SetNX(ctx, r.prefix+noticeKey(sessionID, fingerprint), 1, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}
