package persistence

import (
	"context"
	"strings"

	"buddychat-go/internal/model"
)

// DefaultUsername 是未设置用户名时的显示名。
const DefaultUsername = "User"

// MaxQuestionHistory 是问题历史保留的条数上限。
const MaxQuestionHistory = 10

// LoadMessages 读取会话消息，失败时返回空列表。
func (s *Storage) LoadMessages(ctx context.Context) []model.Message {
	msgs := Load(ctx, s, KeyMessages, []model.Message{})
	if msgs == nil {
		return []model.Message{}
	}
	return msgs
}

// SaveSettings 保存设置。凭证单独存放在 KeyAPIKeys 下，设置本身不含凭证。
func (s *Storage) SaveSettings(ctx context.Context, settings model.Settings) error {
	keys := settings.APIKeys
	settings.APIKeys = model.APIKeys{}
	if err := s.Save(ctx, KeySettings, settings); err != nil {
		return err
	}
	if keys.IsZero() {
		return s.Remove(ctx, KeyAPIKeys)
	}
	return s.SaveSensitive(ctx, KeyAPIKeys, keys)
}

// LoadSettings 读取设置并合并单独存放的凭证。
func (s *Storage) LoadSettings(ctx context.Context) model.Settings {
	settings := Load(ctx, s, KeySettings, model.DefaultSettings())
	settings.ChatMode = settings.ChatMode.Normalize()
	if settings.ResponseLength == "" {
		settings.ResponseLength = settings.ChatMode.Profile().ResponseLength
	}
	if settings.DefaultModel == "" {
		settings.DefaultModel = string(model.ProviderGemini)
	}
	// 兼容旧数据：凭证曾内嵌在设置中
	keys := Load(ctx, s, KeyAPIKeys, settings.APIKeys)
	settings.APIKeys = keys
	return settings
}

// LoadUsername 读取用户名，未设置时返回 DefaultUsername。
func (s *Storage) LoadUsername(ctx context.Context) string {
	return s.LoadRaw(ctx, KeyUsername, DefaultUsername)
}

// SaveUsername 保存用户名；空白用户名会清除已保存的值。
func (s *Storage) SaveUsername(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return s.Remove(ctx, KeyUsername)
	}
	return s.SaveRaw(ctx, KeyUsername, name)
}

// LoadQuestionHistory 读取最近的问题。
func (s *Storage) LoadQuestionHistory(ctx context.Context) []string {
	h := Load(ctx, s, KeyQuestionHistory, []string{})
	if h == nil {
		return []string{}
	}
	return h
}

// AppendQuestion 追加一条问题并只保留最近 MaxQuestionHistory 条。
func (s *Storage) AppendQuestion(ctx context.Context, question string) ([]string, error) {
	question = strings.TrimSpace(question)
	history := s.LoadQuestionHistory(ctx)
	if question == "" {
		return history, nil
	}
	history = append(history, question)
	if len(history) > MaxQuestionHistory {
		history = history[len(history)-MaxQuestionHistory:]
	}
	return history, s.Save(ctx, KeyQuestionHistory, history)
}

// LoadSuggestions 读取建议问题的使用计数。
func (s *Storage) LoadSuggestions(ctx context.Context) map[string]int {
	m := Load(ctx, s, KeySuggestions, map[string]int{})
	if m == nil {
		return map[string]int{}
	}
	return m
}

// IncrementSuggestion 将建议问题的使用次数加一。
func (s *Storage) IncrementSuggestion(ctx context.Context, suggestion string) (map[string]int, error) {
	m := s.LoadSuggestions(ctx)
	m[suggestion]++
	return m, s.Save(ctx, KeySuggestions, m)
}
