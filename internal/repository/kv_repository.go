// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

var (
	// ErrQuotaExceeded 表示写入会超过底座的容量上限。
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrUnavailable 表示底座当前不可写（例如被禁用或连接中断）。
	ErrUnavailable = errors.New("storage unavailable")
)

// KVRepository 是持久化层使用的键值底座，语义上对应浏览器的 localStorage：
// 值为文本，没有过期时间。
type KVRepository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type redisKVRepository struct {
	redisClient *redis.Client
}

// NewRedisKVRepository 创建一个基于 Redis 的 KVRepository。
func NewRedisKVRepository(redisClient *redis.Client) KVRepository {
	return &redisKVRepository{redisClient: redisClient}
}

func (r *redisKVRepository) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.redisClient.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return val, true, nil
}

func (r *redisKVRepository) Set(ctx context.Context, key, value string) error {
	if err := r.redisClient.Set(ctx, key, value, 0).Err(); err != nil {
		if isRedisOOM(err) {
			return fmt.Errorf("failed to set key %s: %w", key, ErrQuotaExceeded)
		}
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (r *redisKVRepository) Delete(ctx context.Context, key string) error {
	if err := r.redisClient.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// isRedisOOM 识别 maxmemory 触发的 OOM 错误。
func isRedisOOM(err error) bool {
	var rerr redis.Error
	if errors.As(err, &rerr) {
		msg := rerr.Error()
		return len(msg) >= 3 && msg[:3] == "OOM"
	}
	return false
}

// MemoryKVRepository 是进程内的 KVRepository，用于 memory 驱动和测试。
type MemoryKVRepository struct {
	mu       sync.RWMutex
	data     map[string]string
	disabled bool
}

// NewMemoryKVRepository 创建一个空的内存底座。
func NewMemoryKVRepository() *MemoryKVRepository {
	return &MemoryKVRepository{data: make(map[string]string)}
}

// SetAvailable 切换底座是否可写，模拟隐私模式下 localStorage 被禁用。
func (m *MemoryKVRepository) SetAvailable(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = !available
}

func (m *MemoryKVRepository) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.disabled {
		return "", false, ErrUnavailable
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryKVRepository) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disabled {
		return ErrUnavailable
	}
	m.data[key] = value
	return nil
}

func (m *MemoryKVRepository) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disabled {
		return ErrUnavailable
	}
	delete(m.data, key)
	return nil
}

// Keys 返回当前所有键，仅用于调试与测试。
func (m *MemoryKVRepository) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys
}

type scopedKVRepository struct {
	inner  KVRepository
	prefix string
}

// Scoped 为所有键加上 "<prefix>:" 前缀，用于按会话隔离数据。
func Scoped(inner KVRepository, prefix string) KVRepository {
	return &scopedKVRepository{inner: inner, prefix: prefix + ":"}
}

func (s *scopedKVRepository) Get(ctx context.Context, key string) (string, bool, error) {
	return s.inner.Get(ctx, s.prefix+key)
}

func (s *scopedKVRepository) Set(ctx context.Context, key, value string) error {
	return s.inner.Set(ctx, s.prefix+key, value)
}

func (s *scopedKVRepository) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, s.prefix+key)
}

// quotaKVRepository 在任意底座之上施加总字节数上限。
// 已知键的大小在首次写入时通过 Get 学习。
type quotaKVRepository struct {
	inner KVRepository
	limit int

	mu    sync.Mutex
	sizes map[string]int
	total int
}

// WithQuota 返回一个带容量上限的底座；limit <= 0 时原样返回。
func WithQuota(inner KVRepository, limit int) KVRepository {
	if limit <= 0 {
		return inner
	}
	return &quotaKVRepository{inner: inner, limit: limit, sizes: make(map[string]int)}
}

func (q *quotaKVRepository) Get(ctx context.Context, key string) (string, bool, error) {
	return q.inner.Get(ctx, key)
}

func (q *quotaKVRepository) Set(ctx context.Context, key, value string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	old, known := q.sizes[key]
	if !known {
		existing, ok, err := q.inner.Get(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			old = len(key) + len(existing)
			q.total += old
		}
	}
	size := len(key) + len(value)
	if q.total-old+size > q.limit {
		q.sizes[key] = old
		return ErrQuotaExceeded
	}
	if err := q.inner.Set(ctx, key, value); err != nil {
		q.sizes[key] = old
		return err
	}
	q.total += size - old
	q.sizes[key] = size
	return nil
}

func (q *quotaKVRepository) Delete(ctx context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.inner.Delete(ctx, key); err != nil {
		return err
	}
	if old, ok := q.sizes[key]; ok {
		q.total -= old
	}
	q.sizes[key] = 0
	return nil
}
