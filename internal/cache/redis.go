package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Agustinjoel/aftr-mvp/internal/models"
)

// RedisConfig configures RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// TTL expires snapshots; zero keeps them forever.
	TTL time.Duration
	// LockTTL bounds how long a crashed writer can hold a key.
	LockTTL time.Duration
	// LockWait bounds how long a writer waits for another writer of the same key.
	LockWait time.Duration
}

// RedisOption mutates RedisConfig.
type RedisOption func(*RedisConfig)

func WithAddr(addr string) RedisOption { return func(c *RedisConfig) { c.Addr = addr } }

func WithPassword(pw string) RedisOption { return func(c *RedisConfig) { c.Password = pw } }

func WithDB(db int) RedisOption { return func(c *RedisConfig) { c.DB = db } }

func WithPrefix(prefix string) RedisOption { return func(c *RedisConfig) { c.Prefix = prefix } }

func WithTTL(ttl time.Duration) RedisOption { return func(c *RedisConfig) { c.TTL = ttl } }

// releaseLock deletes the lock only if this writer still owns it.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisStore keeps each snapshot as one JSON value. A single SET replaces
// the value atomically; a SETNX lock serializes writers of the same key.
type RedisStore struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, opts ...RedisOption) (*RedisStore, error) {
	cfg := RedisConfig{
		Addr:     "localhost:6379",
		Prefix:   "aftr",
		LockTTL:  10 * time.Second,
		LockWait: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client, cfg: cfg}, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) snapshotKey(league, date string) string {
	return fmt.Sprintf("%s:snapshot:%s:%s", r.cfg.Prefix, league, date)
}

func (r *RedisStore) Write(ctx context.Context, s *models.CacheSnapshot) error {
	if err := checkSnapshot(s); err != nil {
		return writeError(s, err)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return writeError(s, fmt.Errorf("failed to encode snapshot: %w", err))
	}

	k := r.snapshotKey(s.League, s.Date)
	token, err := r.acquire(ctx, k+":lock")
	if err != nil {
		return writeError(s, err)
	}
	defer func() {
		_ = releaseLock.Run(context.Background(), r.client, []string{k + ":lock"}, token).Err()
	}()

	if err := r.client.Set(ctx, k, data, r.cfg.TTL).Err(); err != nil {
		return writeError(s, fmt.Errorf("redis set: %w", err))
	}
	return nil
}

func (r *RedisStore) acquire(ctx context.Context, lockKey string) (string, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(r.cfg.LockWait)
	for {
		ok, err := r.client.SetNX(ctx, lockKey, token, r.cfg.LockTTL).Result()
		if err != nil {
			return "", fmt.Errorf("redis lock: %w", err)
		}
		if ok {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("timed out waiting for %s", lockKey)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

func (r *RedisStore) Read(ctx context.Context, league, date string) (*models.CacheSnapshot, error) {
	if err := checkKey(league, date); err != nil {
		return nil, err
	}
	data, err := r.client.Get(ctx, r.snapshotKey(league, date)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var s models.CacheSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s/%s: %w", league, date, err)
	}
	if err := s.Verify(); err != nil {
		return nil, err
	}
	return &s, nil
}
