package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buddychat-go/internal/model"
	"buddychat-go/internal/persistence"
	"buddychat-go/internal/repository"
)

const testDebounce = 10 * time.Millisecond

func newTestStore(t *testing.T) (*MessageStore, *persistence.Storage) {
	t.Helper()
	storage := persistence.New(repository.NewMemoryKVRepository())
	store := NewMessageStore(context.Background(), storage, testDebounce)
	t.Cleanup(store.Close)
	return store, storage
}

func contents(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestMessageStoreAppendKeepsOrder(t *testing.T) {
	store, storage := newTestStore(t)
	store.Append(model.NewMessage(model.RoleUser, "one", "gemini"))
	store.Append(model.NewMessage(model.RoleAssistant, "two", "gemini"))
	store.Append(model.NewMessage(model.RoleUser, "three", "gemini"))

	assert.Equal(t, []string{"one", "two", "three"}, contents(store.Snapshot()))
	assert.Equal(t, 3, store.Len())

	store.Flush()
	assert.Equal(t, store.Snapshot(), storage.LoadMessages(context.Background()))
}

func TestMessageStoreRestoresOnCreate(t *testing.T) {
	ctx := context.Background()
	storage := persistence.New(repository.NewMemoryKVRepository())
	saved := []model.Message{
		{ID: "a", Role: model.RoleUser, Content: "hi", Timestamp: 1, Model: "claude"},
		{ID: "b", Role: model.RoleAssistant, Content: "hello", Timestamp: 1, Model: "claude"},
	}
	require.NoError(t, storage.Save(ctx, persistence.KeyMessages, saved))

	store := NewMessageStore(ctx, storage, testDebounce)
	defer store.Close()
	assert.Equal(t, saved, store.Snapshot())
}

func TestMessageStoreEdit(t *testing.T) {
	store, _ := newTestStore(t)
	m := store.Append(model.NewMessage(model.RoleUser, "draft", "gemini"))

	edited, ok := store.Edit(m.ID, "final")
	require.True(t, ok)
	assert.Equal(t, "final", edited.Content)
	assert.True(t, edited.Edited)
	assert.Equal(t, m.Timestamp, edited.Timestamp)

	again, ok := store.Edit(m.ID, "final")
	require.True(t, ok)
	assert.Equal(t, edited, again)

	_, ok = store.Edit("missing", "x")
	assert.False(t, ok)
}

func TestMessageStoreReplaceContentDoesNotMarkEdited(t *testing.T) {
	store, _ := newTestStore(t)
	m := store.Append(model.NewMessage(model.RoleAssistant, "Hel", "claude"))
	require.True(t, store.ReplaceContent(m.ID, "Hello"))

	got, _, ok := store.Find(m.ID)
	require.True(t, ok)
	assert.Equal(t, "Hello", got.Content)
	assert.False(t, got.Edited)
	assert.False(t, store.ReplaceContent("missing", "x"))
}

func TestMessageStoreDeleteOnlyRemovesTarget(t *testing.T) {
	store, _ := newTestStore(t)
	a := store.Append(model.NewMessage(model.RoleUser, "a", "gemini"))
	b := store.Append(model.NewMessage(model.RoleAssistant, "b", "gemini"))
	c := store.Append(model.NewMessage(model.RoleUser, "c", "gemini"))

	require.True(t, store.Delete(b.ID))
	assert.Equal(t, []string{"a", "c"}, contents(store.Snapshot()))
	assert.False(t, store.Delete(b.ID))

	_, idx, ok := store.Find(c.ID)
	require.True(t, ok)
	assert.Equal(t, 1, idx)
	_, idx, _ = store.Find(a.ID)
	assert.Equal(t, 0, idx)
}

func TestMessageStoreTruncateFrom(t *testing.T) {
	store, _ := newTestStore(t)
	store.Append(model.NewMessage(model.RoleUser, "a", "gemini"))
	b := store.Append(model.NewMessage(model.RoleAssistant, "b", "gemini"))
	store.Append(model.NewMessage(model.RoleUser, "c", "gemini"))

	require.True(t, store.TruncateFrom(b.ID))
	assert.Equal(t, []string{"a"}, contents(store.Snapshot()))
	assert.False(t, store.TruncateFrom("missing"))
}

func TestMessageStoreToggleReaction(t *testing.T) {
	store, _ := newTestStore(t)
	m := store.Append(model.NewMessage(model.RoleAssistant, "hi", "gemini"))

	got, ok := store.ToggleReaction(m.ID, "👍")
	require.True(t, ok)
	assert.Equal(t, []string{"👍"}, got.Reactions)

	got, _ = store.ToggleReaction(m.ID, "❤️")
	assert.Equal(t, []string{"👍", "❤️"}, got.Reactions)

	got, _ = store.ToggleReaction(m.ID, "👍")
	assert.Equal(t, []string{"❤️"}, got.Reactions)

	got, _ = store.ToggleReaction(m.ID, "❤️")
	assert.Nil(t, got.Reactions)
}

func TestMessageStoreSnapshotIsACopy(t *testing.T) {
	store, _ := newTestStore(t)
	m := store.Append(model.NewMessage(model.RoleAssistant, "hi", "gemini"))
	store.ToggleReaction(m.ID, "👍")

	snap := store.Snapshot()
	snap[0].Content = "changed"
	snap[0].Reactions[0] = "👎"

	got, _, _ := store.Find(m.ID)
	assert.Equal(t, "hi", got.Content)
	assert.Equal(t, []string{"👍"}, got.Reactions)
}

func TestMessageStoreSubscribeOrdering(t *testing.T) {
	store, _ := newTestStore(t)
	ch, cancel := store.Subscribe()
	defer cancel()

	m := store.Append(model.NewMessage(model.RoleUser, "a", "gemini"))
	store.Edit(m.ID, "b")
	store.Delete(m.ID)
	store.Clear()

	var kinds []ChangeKind
	for i := 0; i < 4; i++ {
		select {
		case c := <-ch:
			kinds = append(kinds, c.Kind)
			if c.Kind == ChangeUpdate {
				assert.Equal(t, "b", c.Message.Content)
			}
			if c.Kind == ChangeDelete {
				assert.Equal(t, m.ID, c.ID)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for change")
		}
	}
	assert.Equal(t, []ChangeKind{ChangeAppend, ChangeUpdate, ChangeDelete, ChangeClear}, kinds)
}

func TestMessageStoreUnsubscribeClosesChannel(t *testing.T) {
	store, _ := newTestStore(t)
	ch, cancel := store.Subscribe()
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
}

func TestMessageStoreClearPersistsImmediately(t *testing.T) {
	ctx := context.Background()
	store, storage := newTestStore(t)
	store.Append(model.NewMessage(model.RoleUser, "a", "gemini"))
	store.Flush()
	store.Append(model.NewMessage(model.RoleUser, "b", "gemini"))

	store.Clear()
	assert.Empty(t, storage.LoadMessages(ctx))

	// 清空前调度的合并写入不能覆盖空列表
	time.Sleep(testDebounce * 5)
	assert.Empty(t, storage.LoadMessages(ctx))
	assert.Equal(t, 0, store.Len())
}

func TestMessageStoreCoalescesWrites(t *testing.T) {
	ctx := context.Background()
	store, storage := newTestStore(t)
	for i := 0; i < 5; i++ {
		store.Append(model.NewMessage(model.RoleUser, "x", "gemini"))
	}
	assert.Eventually(t, func() bool {
		return len(storage.LoadMessages(ctx)) == 5
	}, time.Second, testDebounce)
}

// gatedKV 在 gate 打开前阻塞所有写入。
type gatedKV struct {
	repository.KVRepository
	once    sync.Once
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedKV) Set(ctx context.Context, key, value string) error {
	g.once.Do(func() { close(g.entered) })
	<-g.gate
	return g.KVRepository.Set(ctx, key, value)
}

func TestMessageStoreClearDoesNotBlockReaders(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemoryKVRepository()
	kv := &gatedKV{KVRepository: mem, entered: make(chan struct{}), gate: make(chan struct{})}
	store := NewMessageStore(ctx, persistence.New(kv), time.Hour)
	store.Append(model.NewMessage(model.RoleUser, "a", "gemini"))

	cleared := make(chan struct{})
	go func() {
		store.Clear()
		close(cleared)
	}()
	<-kv.entered

	// 写入仍被阻塞时读取立即返回
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, store.Snapshot())

	close(kv.gate)
	<-cleared
	assert.Empty(t, persistence.New(mem).LoadMessages(ctx))
	store.Close()
}

func TestMessageStoreNextAssistantAfter(t *testing.T) {
	store, _ := newTestStore(t)
	store.SetAll([]model.Message{
		{ID: "a0", Role: model.RoleAssistant, Content: "welcome"},
		{ID: "u1", Role: model.RoleUser, Content: "q1"},
		{ID: "u2", Role: model.RoleUser, Content: "q2"},
		{ID: "a1", Role: model.RoleAssistant, Content: "answer"},
	})

	next, ok := store.NextAssistantAfter("u1")
	require.True(t, ok)
	assert.Equal(t, "a1", next.ID)

	_, ok = store.NextAssistantAfter("a1")
	assert.False(t, ok)

	// 已删除的消息不会回退到列表开头
	require.True(t, store.Delete("u2"))
	_, ok = store.NextAssistantAfter("u2")
	assert.False(t, ok)
}
