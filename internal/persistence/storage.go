// Package persistence 实现了基于键值底座的持久化层：
// 安全读写、配额溢出裁剪、损坏检测与版本标记。
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"buddychat-go/internal/repository"
	"buddychat-go/pkg/log"
)

// CurrentVersion 是当前代码对应的存储结构版本。
const CurrentVersion = 1

// 持久化键。
const (
	KeyMessages        = "buddychat_messages"
	KeySettings        = "buddychat_settings"
	KeyUsername        = "buddychat_username"
	KeyQuestionHistory = "buddychat_questionHistory"
	KeySuggestions     = "buddychat_usedSuggestions"
	KeyTheme           = "buddychat_theme"
	KeyOnboarding      = "buddychat_hasSeenOnboarding"
	KeyVersion         = "buddychat_version"
	KeyAPIKeys         = "buddychat_apiKeys"
)

const availabilityKey = "__storage_test__"

var errMalformed = errors.New("malformed stored value")

// MigrationFunc 在存储版本低于 CurrentVersion 时执行，from 为已存储的版本。
type MigrationFunc func(ctx context.Context, s *Storage, from int) error

// Storage 是持久化层。所有读操作失败时返回默认值，写操作失败只返回 error，不会 panic。
type Storage struct {
	repo    repository.KVRepository
	migrate MigrationFunc
}

// New 创建一个 Storage。
func New(repo repository.KVRepository) *Storage {
	return &Storage{
		repo:    repo,
		migrate: func(context.Context, *Storage, int) error { return nil },
	}
}

// SetMigration 替换版本迁移钩子。
func (s *Storage) SetMigration(fn MigrationFunc) {
	if fn != nil {
		s.migrate = fn
	}
}

// Save 将 value 序列化为 JSON 并写入 key。
// 消息集合遇到配额不足时，丢弃最旧的 20%（至少 1 条）后重试一次。
func (s *Storage) Save(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		log.Errorf("序列化持久化数据失败 (%s): %v", key, err)
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	err = s.repo.Set(ctx, key, string(data))
	if err == nil {
		return nil
	}
	log.Errorf("写入持久化数据失败 (%s): %v", key, err)
	if !errors.Is(err, repository.ErrQuotaExceeded) || key != KeyMessages {
		return err
	}

	trimmed, dropped, terr := trimOldest(data)
	if terr != nil {
		return err
	}
	if err := s.repo.Set(ctx, key, string(trimmed)); err != nil {
		log.Errorf("裁剪后仍无法写入 (%s): %v", key, err)
		return err
	}
	log.Warnf("存储空间不足，已裁剪 %d 条最旧消息", dropped)
	return nil
}

// SaveSensitive 与 Save 相同，但只在日志中输出掩码后的内容。
func (s *Storage) SaveSensitive(ctx context.Context, key string, value interface{}) error {
	if err := s.Save(ctx, key, value); err != nil {
		return err
	}
	if data, err := json.Marshal(value); err == nil {
		log.Debugf("已保存敏感数据 %s: %s", key, MaskAll(data))
	}
	return nil
}

// SaveRaw 以原始字符串写入，不做 JSON 包装。
func (s *Storage) SaveRaw(ctx context.Context, key, value string) error {
	if err := s.repo.Set(ctx, key, value); err != nil {
		log.Errorf("写入持久化数据失败 (%s): %v", key, err)
		return err
	}
	return nil
}

// LoadRaw 读取原始字符串；键不存在或读取失败时返回 def。
func (s *Storage) LoadRaw(ctx context.Context, key, def string) string {
	raw, ok, err := s.repo.Get(ctx, key)
	if err != nil {
		log.Warnf("读取持久化数据失败 (%s): %v", key, err)
		return def
	}
	if !ok || raw == "" {
		return def
	}
	return raw
}

// Remove 删除 key，幂等。
func (s *Storage) Remove(ctx context.Context, key string) error {
	if err := s.repo.Delete(ctx, key); err != nil {
		log.Errorf("删除持久化数据失败 (%s): %v", key, err)
		return err
	}
	return nil
}

// IsAvailable 探测底座当前是否可写。
func (s *Storage) IsAvailable(ctx context.Context) bool {
	if err := s.repo.Set(ctx, availabilityKey, availabilityKey); err != nil {
		return false
	}
	return s.repo.Delete(ctx, availabilityKey) == nil
}

// Init 检查版本标记，低于 CurrentVersion 时执行迁移并重写标记。
func (s *Storage) Init(ctx context.Context) {
	version := Load(ctx, s, KeyVersion, 0)
	if version >= CurrentVersion {
		return
	}
	if err := s.migrate(ctx, s, version); err != nil {
		log.Errorf("存储迁移失败 (v%d -> v%d): %v", version, CurrentVersion, err)
		return
	}
	if err := s.Save(ctx, KeyVersion, CurrentVersion); err == nil {
		log.Infof("存储版本已更新: v%d -> v%d", version, CurrentVersion)
	}
}

// Load 读取并反序列化 key；键不存在、读取失败或内容损坏时返回 def。
// 损坏的键会被删除，下次读取即为默认值。
func Load[T any](ctx context.Context, s *Storage, key string, def T) T {
	raw, ok, err := s.repo.Get(ctx, key)
	if err != nil {
		log.Warnf("读取持久化数据失败 (%s): %v", key, err)
		return def
	}
	if !ok {
		return def
	}
	var v T
	if err := decode(raw, &v); err != nil {
		log.Warnw("丢弃损坏的持久化数据", "key", key, "error", err)
		_ = s.repo.Delete(ctx, key)
		return def
	}
	return v
}

func decode(raw string, out interface{}) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return errMalformed
	}
	return json.Unmarshal([]byte(trimmed), out)
}

// trimOldest 从 JSON 数组中丢弃最旧的 20%（至少 1 条）。
func trimOldest(data []byte) ([]byte, int, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, 0, err
	}
	if len(items) == 0 {
		return nil, 0, errors.New("nothing to trim")
	}
	n := len(items) / 5
	if n < 1 {
		n = 1
	}
	out, err := json.Marshal(items[n:])
	if err != nil {
		return nil, 0, err
	}
	return out, n, nil
}
