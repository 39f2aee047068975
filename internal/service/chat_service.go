// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"buddychat-go/internal/model"
	"buddychat-go/internal/persistence"
	"buddychat-go/pkg/log"
	"buddychat-go/pkg/relay"
)

// ChatState 是编排器的状态。
type ChatState string

const (
	StateIdle             ChatState = "idle"
	StateSending          ChatState = "sending"
	StateStreaming        ChatState = "streaming"
	StateAwaitingResponse ChatState = "awaiting_response"
	StateRegenerating     ChatState = "regenerating"
)

// RelayClient 是编排器访问中继的方式。
type RelayClient interface {
	Chat(ctx context.Context, req model.ChatRequest, onDelta func(delta string) error) (relay.Result, error)
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// SendInput 是一次发送的参数。Model 与 Mode 为空时使用会话设置。
type SendInput struct {
	Content string
	Model   model.Provider
	Mode    model.ChatMode
}

// StateSnapshot 是编排器状态的只读视图。
type StateSnapshot struct {
	State          ChatState `json:"state"`
	RegeneratingID string    `json:"regeneratingId,omitempty"`
}

var errStreamAbandoned = errors.New("stream target removed")

// ChatOrchestrator 协调一个会话内的发送、重新生成与编辑级联。
// 同一时刻只允许一个请求在途，其余请求返回 ErrBusy。
type ChatOrchestrator struct {
	store   *MessageStore
	storage *persistence.Storage
	relay   RelayClient

	mu             sync.Mutex
	state          ChatState
	regeneratingID string
	cancel         context.CancelFunc
}

// NewChatOrchestrator 创建编排器。
func NewChatOrchestrator(store *MessageStore, storage *persistence.Storage, relayClient RelayClient) *ChatOrchestrator {
	return &ChatOrchestrator{
		store:   store,
		storage: storage,
		relay:   relayClient,
		state:   StateIdle,
	}
}

// State 返回当前状态。
func (o *ChatOrchestrator) State() StateSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return StateSnapshot{State: o.state, RegeneratingID: o.regeneratingID}
}

// SendMessage 追加用户消息并请求回复。中继失败会以助手消息的形式呈现，不返回错误。
func (o *ChatOrchestrator) SendMessage(ctx context.Context, in SendInput) error {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return ErrEmptyInput
	}
	ctx, err := o.begin(ctx, StateSending)
	if err != nil {
		return err
	}
	defer o.end()

	settings := o.storage.LoadSettings(ctx)
	provider, mode := o.resolve(settings, in.Model, in.Mode)

	o.store.Append(model.NewMessage(model.RoleUser, in.Content, string(provider)))
	if _, err := o.storage.AppendQuestion(ctx, content); err != nil {
		log.Warnf("记录问题历史失败: %v", err)
	}

	o.dispatch(ctx, in.Content, provider, mode, settings.APIKeys.For(provider), false)
	return nil
}

// Regenerate 重新生成指定消息：找到它之前最近的用户消息，截断该消息及之后的内容后重新请求。
// 之前没有用户消息时不做任何事。
func (o *ChatOrchestrator) Regenerate(ctx context.Context, id string) error {
	ctx, err := o.begin(ctx, StateRegenerating)
	if err != nil {
		return err
	}
	defer o.end()

	msgs := o.store.Snapshot()
	idx := indexOf(msgs, id)
	if idx < 0 {
		return ErrMessageNotFound
	}
	prompt, ok := precedingUser(msgs, idx)
	if !ok {
		return nil
	}

	o.regenerate(ctx, msgs[idx], prompt.Content)
	return nil
}

// EditCascade 修改消息内容；若被修改的是用户消息且其后存在助手消息，
// 以新内容为提示重新生成其后的第一条助手消息。
func (o *ChatOrchestrator) EditCascade(ctx context.Context, id, content string) (model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return model.Message{}, ErrEmptyInput
	}
	ctx, err := o.begin(ctx, StateRegenerating)
	if err != nil {
		return model.Message{}, err
	}
	defer o.end()

	edited, ok := o.store.Edit(id, content)
	if !ok {
		return model.Message{}, ErrMessageNotFound
	}
	if edited.Role != model.RoleUser {
		return edited, nil
	}

	// 编辑之后消息可能已被并发删除，此时不级联
	if next, ok := o.store.NextAssistantAfter(id); ok {
		o.regenerate(ctx, next, content)
	}
	return edited, nil
}

// GenerateImage 请求一张图片并以助手消息的形式追加。失败时不追加消息。
func (o *ChatOrchestrator) GenerateImage(ctx context.Context, prompt string) (model.Message, error) {
	if strings.TrimSpace(prompt) == "" {
		return model.Message{}, ErrEmptyInput
	}
	ctx, err := o.begin(ctx, StateSending)
	if err != nil {
		return model.Message{}, err
	}
	defer o.end()

	imageURL, err := o.relay.GenerateImage(ctx, prompt)
	if err != nil {
		log.Errorf("生成图片失败: %v", err)
		return model.Message{}, err
	}
	msg := model.NewMessage(model.RoleAssistant, fmt.Sprintf("![Generated Image](%s)", imageURL), model.ImageGeneratorModel)
	return o.store.Append(msg), nil
}

// Stop 取消在途请求，已经收到的流式内容保留。
func (o *ChatOrchestrator) Stop() {
	o.abort()
}

// Clear 取消在途请求并清空消息列表。
func (o *ChatOrchestrator) Clear() {
	o.abort()
	o.store.Clear()
}

// Close 取消在途请求并写出剩余变更。
func (o *ChatOrchestrator) Close() {
	o.abort()
	o.store.Close()
}

func (o *ChatOrchestrator) abort() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

func (o *ChatOrchestrator) begin(ctx context.Context, state ChatState) (context.Context, error) {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	o.state = state
	o.cancel = cancel
	o.mu.Unlock()

	o.notifyState()
	return ctx, nil
}

func (o *ChatOrchestrator) end() {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.state = StateIdle
	o.regeneratingID = ""
	o.mu.Unlock()
	o.notifyState()
}

func (o *ChatOrchestrator) setState(state ChatState) {
	o.mu.Lock()
	// 重新生成期间保持 Regenerating，界面据此只在对应消息上显示进度
	changed := o.state != StateRegenerating && o.state != state
	if changed {
		o.state = state
	}
	o.mu.Unlock()
	if changed {
		o.notifyState()
	}
}

func (o *ChatOrchestrator) setRegenerating(id string) {
	o.mu.Lock()
	o.regeneratingID = id
	o.mu.Unlock()
	o.notifyState()
}

// notifyState 不能在持有 mu 时调用。
func (o *ChatOrchestrator) notifyState() {
	snap := o.State()
	o.store.Notify(Change{Kind: ChangeState, State: &snap})
}

// regenerate 截断 target 及之后的消息，并以 prompt 重新请求 target 所用的供应商。
func (o *ChatOrchestrator) regenerate(ctx context.Context, target model.Message, prompt string) {
	o.setRegenerating(target.ID)
	settings := o.storage.LoadSettings(ctx)
	provider, mode := o.resolve(settings, model.Provider(target.Model), "")

	o.store.TruncateFrom(target.ID)
	o.dispatch(ctx, prompt, provider, mode, settings.APIKeys.For(provider), true)
}

// resolve 确定本次请求的供应商与模式，未指定或不合法时回退到会话设置。
func (o *ChatOrchestrator) resolve(settings model.Settings, provider model.Provider, mode model.ChatMode) (model.Provider, model.ChatMode) {
	if !provider.Valid() {
		provider = model.Provider(settings.DefaultModel)
	}
	if !provider.Valid() {
		provider = model.ProviderGemini
	}
	if !mode.Valid() {
		mode = settings.ChatMode
	}
	return provider, mode.Normalize()
}

// dispatch 调用中继并把结果写回消息列表。
// 流式响应只维护一条末尾助手消息，每个增量替换其内容。
func (o *ChatOrchestrator) dispatch(ctx context.Context, prompt string, provider model.Provider, mode model.ChatMode, apiKey string, regenerating bool) {
	profile := mode.Profile()
	temperature := profile.Temperature
	req := model.ChatRequest{
		Message:        mode.Compose(prompt),
		Model:          provider,
		ResponseLength: profile.ResponseLength,
		Temperature:    &temperature,
		ChatMode:       mode,
		APIKey:         apiKey,
	}
	if !regenerating {
		o.setState(StateAwaitingResponse)
	}

	var (
		assistantID string
		acc         strings.Builder
	)
	res, err := o.relay.Chat(ctx, req, func(delta string) error {
		// 已停止或已清空的请求不再写回
		if err := ctx.Err(); err != nil {
			return err
		}
		acc.WriteString(delta)
		if assistantID == "" {
			o.setState(StateStreaming)
			msg, ok := o.store.AppendActive(ctx, model.NewMessage(model.RoleAssistant, acc.String(), string(provider)))
			if !ok {
				return ctx.Err()
			}
			assistantID = msg.ID
			return nil
		}
		if !o.store.ReplaceContent(assistantID, acc.String()) {
			return errStreamAbandoned
		}
		return nil
	})

	switch {
	case errors.Is(err, errStreamAbandoned) || ctx.Err() != nil:
		log.Infof("对话请求已被放弃, provider=%s", provider)
	case err != nil:
		bubble := errorBubble(err, provider)
		if assistantID != "" {
			o.store.ReplaceContent(assistantID, acc.String()+"\n\n"+bubble)
			return
		}
		o.store.AppendActive(ctx, model.NewMessage(model.RoleAssistant, bubble, string(provider)))
	case res.Streamed && assistantID == "":
		o.store.AppendActive(ctx, model.NewMessage(model.RoleAssistant,
			errorText(fmt.Sprintf("No response from %s", provider.DisplayName())), string(provider)))
	case !res.Streamed:
		o.store.AppendActive(ctx, model.NewMessage(model.RoleAssistant, res.Text, string(provider)))
	}
}

// errorBubble 将中继错误转换为展示在对话中的文本。
func errorBubble(err error, provider model.Provider) string {
	var rerr *relay.Error
	if !errors.As(err, &rerr) {
		log.Errorf("调用中继失败: %v", err)
		return errorText("")
	}
	switch rerr.Kind() {
	case relay.KindMissingCredential:
		return fmt.Sprintf("Error: Missing API key for %s. Please add your API key in settings.", provider.DisplayName())
	case relay.KindInvalidCredential:
		return fmt.Sprintf("Error: Invalid API key for %s. Please check your API key in settings.", provider.DisplayName())
	default:
		return errorText(rerr.Message)
	}
}

func errorText(msg string) string {
	if msg == "" {
		msg = "Something went wrong"
	}
	return "Error: " + msg
}

func indexOf(msgs []model.Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// precedingUser 从 idx 之前向前查找最近的用户消息。
func precedingUser(msgs []model.Message, idx int) (model.Message, bool) {
	for i := idx - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleUser {
			return msgs[i], true
		}
	}
	return model.Message{}, false
}
