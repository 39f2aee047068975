package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"buddychat-go/internal/persistence"
	"buddychat-go/internal/repository"
	"buddychat-go/pkg/log"
	"buddychat-go/pkg/token"
)

// Session 是一个会话的全部状态：持久化层、消息列表与编排器。
type Session struct {
	ID       string
	Storage  *persistence.Storage
	Messages *MessageStore
	Chat     *ChatOrchestrator

	lastUsed time.Time
}

// SessionService 管理会话的创建、认证与按需恢复。
type SessionService interface {
	Create(ctx context.Context) (*Session, string, time.Time, error)
	Authenticate(ctx context.Context, tokenString string) (*Session, error)
	Get(ctx context.Context, sessionID string) (*Session, error)
	Close()
}

// SessionConfig 描述会话的持久化与回收参数。
type SessionConfig struct {
	Namespace string
	// QuotaBytes 是单个会话可占用的存储上限，<= 0 表示不限制
	QuotaBytes int
	Debounce   time.Duration
	// IdleTimeout 之后未被访问、没有在途请求且没有订阅者的会话会被回收，<= 0 表示不回收
	IdleTimeout time.Duration
}

type sessionService struct {
	kv         repository.KVRepository
	cfg        SessionConfig
	relay      RelayClient
	jwtManager *token.JWTManager

	mu       sync.Mutex
	sessions map[string]*Session

	done      chan struct{}
	closeOnce sync.Once
}

// NewSessionService 创建一个新的 SessionService 实例。
// 每个会话的数据存放在 "<namespace>:<sessionID>:" 前缀下，容量上限按会话计算。
func NewSessionService(kv repository.KVRepository, cfg SessionConfig, relayClient RelayClient, jwtManager *token.JWTManager) SessionService {
	s := &sessionService{
		kv:         kv,
		cfg:        cfg,
		relay:      relayClient,
		jwtManager: jwtManager,
		sessions:   make(map[string]*Session),
		done:       make(chan struct{}),
	}
	if cfg.IdleTimeout > 0 {
		go s.janitor(janitorInterval(cfg.IdleTimeout))
	}
	return s
}

// Create 创建新会话并签发令牌。
func (s *sessionService) Create(ctx context.Context) (*Session, string, time.Time, error) {
	id := uuid.NewString()
	tok, expiresAt, err := s.jwtManager.GenerateToken(id)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	log.Infof("新会话已创建: %s", id)
	return sess, tok, expiresAt, nil
}

// Authenticate 验证令牌并返回对应会话。
func (s *sessionService) Authenticate(ctx context.Context, tokenString string) (*Session, error) {
	claims, err := s.jwtManager.VerifyToken(tokenString)
	if err != nil {
		return nil, ErrNoSession
	}
	return s.Get(ctx, claims.SessionID)
}

// Get 返回会话；进程内没有时从持久化层恢复。恢复过程不持有全局锁。
func (s *sessionService) Get(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrNoSession
	}
	if sess, ok := s.lookup(sessionID); ok {
		return sess, nil
	}

	opened := s.open(ctx, sessionID)

	s.mu.Lock()
	if existing, ok := s.sessions[sessionID]; ok {
		existing.lastUsed = time.Now()
		s.mu.Unlock()
		// 并发恢复时保留先登记的实例
		opened.Chat.Close()
		return existing, nil
	}
	opened.lastUsed = time.Now()
	s.sessions[sessionID] = opened
	s.mu.Unlock()
	return opened, nil
}

func (s *sessionService) lookup(sessionID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if ok {
		sess.lastUsed = time.Now()
	}
	return sess, ok
}

func (s *sessionService) open(ctx context.Context, sessionID string) *Session {
	kv := repository.WithQuota(repository.Scoped(s.kv, s.cfg.Namespace+":"+sessionID), s.cfg.QuotaBytes)
	storage := persistence.New(kv)
	storage.Init(ctx)
	if !storage.IsAvailable(ctx) {
		log.Warnf("会话 %s 的存储不可用，将仅在内存中运行", sessionID)
	}
	store := NewMessageStore(ctx, storage, s.cfg.Debounce)
	return &Session{
		ID:       sessionID,
		Storage:  storage,
		Messages: store,
		Chat:     NewChatOrchestrator(store, storage, s.relay),
	}
}

// evictIdle 回收在 now 之前已空闲超过 IdleTimeout 的会话，返回回收数量。
func (s *sessionService) evictIdle(now time.Time) int {
	s.mu.Lock()
	var idle []*Session
	for id, sess := range s.sessions {
		if now.Sub(sess.lastUsed) < s.cfg.IdleTimeout {
			continue
		}
		if sess.Chat.State().State != StateIdle || sess.Messages.Subscribers() > 0 {
			continue
		}
		idle = append(idle, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, sess := range idle {
		sess.Chat.Close()
	}
	if len(idle) > 0 {
		log.Infof("已回收 %d 个空闲会话", len(idle))
	}
	return len(idle)
}

func (s *sessionService) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.evictIdle(now)
		}
	}
}

func janitorInterval(idle time.Duration) time.Duration {
	if interval := idle / 2; interval > time.Second {
		return interval
	}
	return time.Second
}

// Close 停止回收并写出所有会话的剩余变更。
func (s *sessionService) Close() {
	s.closeOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	all := make([]*Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		all = append(all, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, sess := range all {
		sess.Chat.Close()
	}
	log.Info("所有会话已关闭")
}
