package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buddychat-go/internal/model"
	"buddychat-go/internal/repository"
)

func newTestStorage(t *testing.T) (*Storage, *repository.MemoryKVRepository) {
	t.Helper()
	mem := repository.NewMemoryKVRepository()
	return New(mem), mem
}

func sampleMessages(n int) []model.Message {
	out := make([]model.Message, n)
	for i := range out {
		out[i] = model.Message{
			ID:        fmt.Sprintf("m%02d", i),
			Role:      model.RoleUser,
			Content:   strings.Repeat("a", 100),
			Timestamp: int64(1700000000000 + i),
			Model:     "gemini",
		}
	}
	return out
}

func TestLoadReturnsDefaultWhenAbsent(t *testing.T) {
	s, _ := newTestStorage(t)
	got := Load(context.Background(), s, "missing", []string{"x"})
	assert.Equal(t, []string{"x"}, got)
}

func TestLoadDropsMalformedValues(t *testing.T) {
	ctx := context.Background()
	cases := []string{"", "   ", "{not json", "[1,2", "\"unterminated"}
	for _, raw := range cases {
		s, mem := newTestStorage(t)
		require.NoError(t, mem.Set(ctx, KeyMessages, raw))

		got := s.LoadMessages(ctx)
		assert.Empty(t, got, "raw=%q", raw)

		_, ok, err := mem.Get(ctx, KeyMessages)
		require.NoError(t, err)
		assert.False(t, ok, "corrupted key should be removed, raw=%q", raw)
	}
}

func TestLoadTypeMismatchFallsBack(t *testing.T) {
	ctx := context.Background()
	s, mem := newTestStorage(t)
	require.NoError(t, mem.Set(ctx, KeySuggestions, `["not","a","map"]`))
	assert.Equal(t, map[string]int{}, s.LoadSuggestions(ctx))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t)
	msgs := sampleMessages(3)
	msgs[1].Reactions = []string{"👍"}
	msgs[2].Edited = true

	require.NoError(t, s.Save(ctx, KeyMessages, msgs))
	assert.Equal(t, msgs, s.LoadMessages(ctx))
}

func TestSaveTrimsOldestMessagesOnQuota(t *testing.T) {
	ctx := context.Background()
	msgs := sampleMessages(10)
	nine, err := json.Marshal(msgs[:9])
	require.NoError(t, err)

	mem := repository.NewMemoryKVRepository()
	s := New(repository.WithQuota(mem, len(KeyMessages)+len(nine)))

	require.NoError(t, s.Save(ctx, KeyMessages, msgs))
	got := s.LoadMessages(ctx)
	assert.Equal(t, msgs[2:], got)
}

func TestSaveTrimsAtLeastOneMessage(t *testing.T) {
	ctx := context.Background()
	msgs := sampleMessages(3)
	two, err := json.Marshal(msgs[1:])
	require.NoError(t, err)

	s := New(repository.WithQuota(repository.NewMemoryKVRepository(), len(KeyMessages)+len(two)))
	require.NoError(t, s.Save(ctx, KeyMessages, msgs))
	assert.Equal(t, msgs[1:], s.LoadMessages(ctx))
}

func TestSaveReportsFailureWhenTrimIsNotEnough(t *testing.T) {
	ctx := context.Background()
	s := New(repository.WithQuota(repository.NewMemoryKVRepository(), 64))
	err := s.Save(ctx, KeyMessages, sampleMessages(10))
	assert.ErrorIs(t, err, repository.ErrQuotaExceeded)
}

func TestSaveDoesNotTrimOtherKeys(t *testing.T) {
	ctx := context.Background()
	s := New(repository.WithQuota(repository.NewMemoryKVRepository(), 32))
	err := s.Save(ctx, KeyQuestionHistory, []string{strings.Repeat("q", 64)})
	assert.ErrorIs(t, err, repository.ErrQuotaExceeded)
}

func TestUnavailableSubstrate(t *testing.T) {
	ctx := context.Background()
	s, mem := newTestStorage(t)
	assert.True(t, s.IsAvailable(ctx))

	mem.SetAvailable(false)
	assert.False(t, s.IsAvailable(ctx))
	assert.Error(t, s.Save(ctx, KeyTheme, "dark"))
	assert.Equal(t, "light", Load(ctx, s, KeyTheme, "light"))
	assert.Empty(t, s.LoadMessages(ctx))
}

func TestRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t)
	require.NoError(t, s.Save(ctx, KeyTheme, "dark"))
	require.NoError(t, s.Remove(ctx, KeyTheme))
	require.NoError(t, s.Remove(ctx, KeyTheme))
	assert.Equal(t, "light", Load(ctx, s, KeyTheme, "light"))
}

func TestInitWritesVersionAndRunsMigration(t *testing.T) {
	ctx := context.Background()
	s, mem := newTestStorage(t)

	var from []int
	s.SetMigration(func(_ context.Context, _ *Storage, v int) error {
		from = append(from, v)
		return nil
	})
	s.Init(ctx)
	s.Init(ctx)

	assert.Equal(t, []int{0}, from)
	raw, ok, err := mem.Get(ctx, KeyVersion)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", raw)
}

func TestSettingsStoreKeysSeparately(t *testing.T) {
	ctx := context.Background()
	s, mem := newTestStorage(t)

	settings := model.DefaultSettings().WithMode(model.ModeCoding)
	settings.APIKeys = model.APIKeys{Claude: "sk-ant-1234567890"}
	require.NoError(t, s.SaveSettings(ctx, settings))

	raw, ok, err := mem.Get(ctx, KeySettings)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, raw, "sk-ant-1234567890")

	got := s.LoadSettings(ctx)
	assert.Equal(t, settings, got)

	settings.APIKeys = model.APIKeys{}
	require.NoError(t, s.SaveSettings(ctx, settings))
	_, ok, err = mem.Get(ctx, KeyAPIKeys)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUsernameIsStoredRaw(t *testing.T) {
	ctx := context.Background()
	s, mem := newTestStorage(t)
	assert.Equal(t, DefaultUsername, s.LoadUsername(ctx))

	require.NoError(t, s.SaveUsername(ctx, "  Ada "))
	raw, _, _ := mem.Get(ctx, KeyUsername)
	assert.Equal(t, "Ada", raw)
	assert.Equal(t, "Ada", s.LoadUsername(ctx))

	require.NoError(t, s.SaveUsername(ctx, "   "))
	assert.Equal(t, DefaultUsername, s.LoadUsername(ctx))
}

func TestQuestionHistoryKeepsLastTen(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t)
	for i := 0; i < 12; i++ {
		_, err := s.AppendQuestion(ctx, fmt.Sprintf("q%d", i))
		require.NoError(t, err)
	}
	h := s.LoadQuestionHistory(ctx)
	require.Len(t, h, MaxQuestionHistory)
	assert.Equal(t, "q2", h[0])
	assert.Equal(t, "q11", h[9])
}

func TestIncrementSuggestion(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t)
	_, err := s.IncrementSuggestion(ctx, "What is Go?")
	require.NoError(t, err)
	m, err := s.IncrementSuggestion(ctx, "What is Go?")
	require.NoError(t, err)
	assert.Equal(t, 2, m["What is Go?"])
}
