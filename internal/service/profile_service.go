package service

import (
	"context"

	"buddychat-go/internal/model"
	"buddychat-go/internal/persistence"
)

// SettingsUpdate 是对设置的部分更新，nil 字段保持不变。
// 切换 ChatMode 会同步温度与回复长度。
type SettingsUpdate struct {
	ChatMode       *model.ChatMode        `json:"chatMode"`
	DefaultModel   *model.Provider        `json:"defaultModel"`
	ResponseLength *model.ResponseLength  `json:"responseLength"`
	Temperature    *float64               `json:"temperature"`
	APIKeys        *model.APIKeys         `json:"apiKeys"`
	Preferences    map[string]interface{} `json:"preferences"`
}

// Profile 是会话的用户资料汇总。
type Profile struct {
	Username          string         `json:"username"`
	Settings          model.Settings `json:"settings"`
	QuestionHistory   []string       `json:"questionHistory"`
	UsedSuggestions   map[string]int `json:"usedSuggestions"`
	Theme             string         `json:"theme"`
	HasSeenOnboarding bool           `json:"hasSeenOnboarding"`
	StorageAvailable  bool           `json:"storageAvailable"`
}

// DefaultTheme 是未设置主题时的取值。
const DefaultTheme = "light"

// ProfileService 读写会话的设置与资料。
type ProfileService interface {
	Get(ctx context.Context, sess *Session) Profile
	UpdateSettings(ctx context.Context, sess *Session, update SettingsUpdate) (model.Settings, error)
	SetUsername(ctx context.Context, sess *Session, name string) (string, error)
	RecordSuggestion(ctx context.Context, sess *Session, suggestion string) (map[string]int, error)
	SetTheme(ctx context.Context, sess *Session, theme string) error
	CompleteOnboarding(ctx context.Context, sess *Session) error
	ClearAll(ctx context.Context, sess *Session) error
}

type profileService struct{}

// NewProfileService 创建一个新的 ProfileService 实例。
func NewProfileService() ProfileService {
	return &profileService{}
}

func (s *profileService) Get(ctx context.Context, sess *Session) Profile {
	st := sess.Storage
	return Profile{
		Username:          st.LoadUsername(ctx),
		Settings:          MaskedSettings(st.LoadSettings(ctx)),
		QuestionHistory:   st.LoadQuestionHistory(ctx),
		UsedSuggestions:   st.LoadSuggestions(ctx),
		Theme:             persistence.Load(ctx, st, persistence.KeyTheme, DefaultTheme),
		HasSeenOnboarding: persistence.Load(ctx, st, persistence.KeyOnboarding, false),
		StorageAvailable:  st.IsAvailable(ctx),
	}
}

func (s *profileService) UpdateSettings(ctx context.Context, sess *Session, update SettingsUpdate) (model.Settings, error) {
	settings := sess.Storage.LoadSettings(ctx)
	if update.ChatMode != nil {
		settings = settings.WithMode(*update.ChatMode)
	}
	if update.DefaultModel != nil && update.DefaultModel.Valid() {
		settings.DefaultModel = string(*update.DefaultModel)
	}
	if update.ResponseLength != nil {
		settings.ResponseLength = *update.ResponseLength
	}
	if update.Temperature != nil {
		settings.Temperature = *update.Temperature
	}
	if update.APIKeys != nil {
		in := *update.APIKeys
		settings.APIKeys = model.APIKeys{
			Gemini:  keepIfMasked(settings.APIKeys.Gemini, in.Gemini),
			Claude:  keepIfMasked(settings.APIKeys.Claude, in.Claude),
			Mistral: keepIfMasked(settings.APIKeys.Mistral, in.Mistral),
		}
	}
	if update.Preferences != nil {
		settings.Preferences = update.Preferences
	}
	if err := sess.Storage.SaveSettings(ctx, settings); err != nil {
		return MaskedSettings(settings), err
	}
	return MaskedSettings(settings), nil
}

// MaskedSettings 返回凭证被掩码后的设置，用于返回给客户端。
func MaskedSettings(settings model.Settings) model.Settings {
	settings.APIKeys = model.APIKeys{
		Gemini:  persistence.MaskSecret(settings.APIKeys.Gemini),
		Claude:  persistence.MaskSecret(settings.APIKeys.Claude),
		Mistral: persistence.MaskSecret(settings.APIKeys.Mistral),
	}
	return settings
}

// keepIfMasked 客户端回传的是掩码时保留原凭证。
func keepIfMasked(current, incoming string) string {
	if incoming != "" && current != "" && incoming == persistence.MaskSecret(current) {
		return current
	}
	return incoming
}

func (s *profileService) SetUsername(ctx context.Context, sess *Session, name string) (string, error) {
	if err := sess.Storage.SaveUsername(ctx, name); err != nil {
		return "", err
	}
	return sess.Storage.LoadUsername(ctx), nil
}

func (s *profileService) RecordSuggestion(ctx context.Context, sess *Session, suggestion string) (map[string]int, error) {
	if suggestion == "" {
		return nil, ErrEmptyInput
	}
	return sess.Storage.IncrementSuggestion(ctx, suggestion)
}

func (s *profileService) SetTheme(ctx context.Context, sess *Session, theme string) error {
	if theme == "" {
		theme = DefaultTheme
	}
	return sess.Storage.Save(ctx, persistence.KeyTheme, theme)
}

func (s *profileService) CompleteOnboarding(ctx context.Context, sess *Session) error {
	return sess.Storage.Save(ctx, persistence.KeyOnboarding, true)
}

// ClearAll 清空消息并删除该会话的所有持久化数据。
func (s *profileService) ClearAll(ctx context.Context, sess *Session) error {
	sess.Chat.Clear()
	var firstErr error
	for _, key := range []string{
		persistence.KeySettings,
		persistence.KeyAPIKeys,
		persistence.KeyUsername,
		persistence.KeyQuestionHistory,
		persistence.KeySuggestions,
		persistence.KeyTheme,
		persistence.KeyOnboarding,
	} {
		if err := sess.Storage.Remove(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
