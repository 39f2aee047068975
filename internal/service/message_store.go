package service

import (
	"context"
	"sync"
	"time"

	"buddychat-go/internal/model"
	"buddychat-go/internal/persistence"
	"buddychat-go/pkg/log"
)

// ChangeKind 描述消息列表的一次变更。
type ChangeKind string

const (
	ChangeAppend  ChangeKind = "append"
	ChangeUpdate  ChangeKind = "update"
	ChangeDelete  ChangeKind = "delete"
	ChangeReplace ChangeKind = "replace"
	ChangeClear   ChangeKind = "clear"
	ChangeState   ChangeKind = "state"
)

// Change 是推送给订阅者的变更通知。
// Message 在 append / update 时有值，ID 在 delete 时有值，Messages 在 replace 时有值，
// State 在 state 时有值。
type Change struct {
	Kind     ChangeKind      `json:"kind"`
	Message  *model.Message  `json:"message,omitempty"`
	ID       string          `json:"id,omitempty"`
	Messages []model.Message `json:"messages,omitempty"`
	State    *StateSnapshot  `json:"state,omitempty"`
}

const subscriberBuffer = 64

const persistTimeout = 5 * time.Second

// MessageStore 是单个会话的有序消息列表。
// 所有变更都在同一把锁下执行；非清空类变更经合并写入器落盘，清空立即落盘。
type MessageStore struct {
	storage *persistence.Storage
	writer  *persistence.CoalescingWriter[[]model.Message]

	mu   sync.Mutex
	msgs []model.Message

	subMu   sync.Mutex
	subs    map[int]chan Change
	nextSub int
}

// NewMessageStore 创建消息列表并从持久化层恢复一次。
func NewMessageStore(ctx context.Context, storage *persistence.Storage, debounce time.Duration) *MessageStore {
	s := &MessageStore{
		storage: storage,
		msgs:    storage.LoadMessages(ctx),
		subs:    make(map[int]chan Change),
	}
	s.writer = persistence.NewCoalescingWriter(debounce, s.persist)
	return s
}

func (s *MessageStore) persist(msgs []model.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	// 持久化失败只记录日志，内存状态继续可用
	_ = s.storage.Save(ctx, persistence.KeyMessages, msgs)
}

// Snapshot 返回当前消息列表的深拷贝。
func (s *MessageStore) Snapshot() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneMessages(s.msgs)
}

// Len 返回消息数量。
func (s *MessageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Find 按 ID 查找消息，返回其拷贝与位置。
func (s *MessageStore) Find(id string) (model.Message, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return model.Message{}, -1, false
	}
	return s.msgs[i].Clone(), i, true
}

// Append 将消息追加到末尾。
func (s *MessageStore) Append(msg model.Message) model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg = msg.Clone()
	s.msgs = append(s.msgs, msg)
	s.scheduleLocked()
	s.publish(Change{Kind: ChangeAppend, Message: ptr(msg.Clone())})
	return msg.Clone()
}

// NextAssistantAfter 返回 id 之后的第一条助手消息。id 不存在或其后没有助手消息时返回 false。
func (s *MessageStore) NextAssistantAfter(id string) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return model.Message{}, false
	}
	for _, m := range s.msgs[i+1:] {
		if m.Role == model.RoleAssistant {
			return m.Clone(), true
		}
	}
	return model.Message{}, false
}

// AppendActive 在 ctx 未取消时追加消息。检查与追加在同一把锁下进行，
// 因此先取消请求再清空的调用方不会在清空后看到这条消息。
func (s *MessageStore) AppendActive(ctx context.Context, msg model.Message) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		return model.Message{}, false
	}
	msg = msg.Clone()
	s.msgs = append(s.msgs, msg)
	s.scheduleLocked()
	s.publish(Change{Kind: ChangeAppend, Message: ptr(msg.Clone())})
	return msg.Clone(), true
}

// Edit 修改消息内容并标记为已编辑；消息不存在时返回 false。
func (s *MessageStore) Edit(id, content string) (model.Message, bool) {
	return s.update(id, func(m *model.Message) {
		m.Content = content
		m.Edited = true
	})
}

// ReplaceContent 替换消息内容但不标记为已编辑，用于流式增量。
func (s *MessageStore) ReplaceContent(id, content string) bool {
	_, ok := s.update(id, func(m *model.Message) {
		m.Content = content
	})
	return ok
}

// ToggleReaction 切换消息上的反应：已存在则移除，否则添加。
func (s *MessageStore) ToggleReaction(id, reaction string) (model.Message, bool) {
	return s.update(id, func(m *model.Message) {
		for i, r := range m.Reactions {
			if r == reaction {
				m.Reactions = append(m.Reactions[:i:i], m.Reactions[i+1:]...)
				if len(m.Reactions) == 0 {
					m.Reactions = nil
				}
				return
			}
		}
		m.Reactions = append(m.Reactions, reaction)
	})
}

// MarkFeedback 标记消息已收到反馈。
func (s *MessageStore) MarkFeedback(id string) (model.Message, bool) {
	return s.update(id, func(m *model.Message) {
		m.FeedbackGiven = true
	})
}

func (s *MessageStore) update(id string, fn func(*model.Message)) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return model.Message{}, false
	}
	fn(&s.msgs[i])
	updated := s.msgs[i].Clone()
	s.scheduleLocked()
	s.publish(Change{Kind: ChangeUpdate, Message: ptr(updated.Clone())})
	return updated, true
}

// Delete 删除指定消息，不影响其他消息。
func (s *MessageStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.msgs = append(s.msgs[:i:i], s.msgs[i+1:]...)
	s.scheduleLocked()
	s.publish(Change{Kind: ChangeDelete, ID: id})
	return true
}

// TruncateFrom 删除指定消息及其之后的所有消息。
func (s *MessageStore) TruncateFrom(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.msgs = s.msgs[:i:i]
	s.scheduleLocked()
	s.publish(Change{Kind: ChangeReplace, Messages: model.CloneMessages(s.msgs)})
	return true
}

// SetAll 整体替换消息列表，用于导入。
func (s *MessageStore) SetAll(msgs []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = model.CloneMessages(msgs)
	s.scheduleLocked()
	s.publish(Change{Kind: ChangeReplace, Messages: model.CloneMessages(s.msgs)})
}

// Clear 清空消息列表并立即落盘，丢弃尚未写出的合并写入。
// 写入在释放 mu 之后进行，慢底座不会阻塞快照与推送。
func (s *MessageStore) Clear() {
	s.mu.Lock()
	s.msgs = []model.Message{}
	write := s.writer.Replace([]model.Message{})
	s.publish(Change{Kind: ChangeClear})
	s.mu.Unlock()

	write()
}

// Flush 立即写出尚未落盘的变更。
func (s *MessageStore) Flush() {
	s.writer.Flush()
}

// Close 写出剩余变更并关闭所有订阅。
func (s *MessageStore) Close() {
	s.writer.Stop()
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}

// Notify 推送一条不修改消息列表的通知。
func (s *MessageStore) Notify(c Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publish(c)
}

// Subscribers 返回当前订阅者数量。
func (s *MessageStore) Subscribers() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}

// Subscribe 订阅变更通知，返回的函数用于取消订阅。
// 订阅者消费过慢时通知会被丢弃，订阅者应在需要时重新拉取快照。
func (s *MessageStore) Subscribe() (<-chan Change, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Change, subscriberBuffer)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if c, ok := s.subs[id]; ok {
				close(c)
				delete(s.subs, id)
			}
		})
	}
}

// publish 需要持有 mu，保证通知顺序与变更顺序一致。
func (s *MessageStore) publish(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
			log.Debugf("订阅者缓冲已满，丢弃变更通知: %s", c.Kind)
		}
	}
}

// scheduleLocked 需要持有 mu。
func (s *MessageStore) scheduleLocked() {
	s.writer.Schedule(model.CloneMessages(s.msgs))
}

func (s *MessageStore) indexOf(id string) int {
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func ptr[T any](v T) *T {
	return &v
}
