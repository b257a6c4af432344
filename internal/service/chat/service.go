package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/zhouzirui/docchat/internal/model/chat"
)

var (
	ErrTitleRequired   = errors.New("title is required")
	ErrSessionNotFound = errors.New("session not found")
	ErrForbidden       = errors.New("session belongs to another user")
	ErrInvalidRole     = errors.New("invalid message role")
)

const defaultTTL = 24 * time.Hour

// record 是缓存中每个会话对应的条目
type record struct {
	owner   string
	session chat.Session
}

// Service 把会话保存在带过期时间的内存缓存中，每次写入都会刷新过期时间。
type Service struct {
	mu    sync.Mutex
	cache *cache.Cache
	now   func() time.Time
}

// NewService 创建会话存储，ttl <= 0 时使用默认值。
func NewService(ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{
		cache: cache.New(ttl, ttl/4),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession 为 userID 创建一个空会话。
func (s *Service) CreateSession(_ context.Context, userID, title, documentID string) (chat.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return chat.Session{}, ErrTitleRequired
	}

	now := s.now()
	session := chat.Session{
		ID:         uuid.NewString(),
		Title:      title,
		DocumentID: strings.TrimSpace(documentID),
		CreatedAt:  now,
		UpdatedAt:  now,
		Messages:   make([]chat.Message, 0, 16),
	}

	s.mu.Lock()
	s.cache.Set(session.ID, &record{owner: userID, session: session}, cache.DefaultExpiration)
	s.mu.Unlock()

	return session.Clone(), nil
}

// ListSessions 返回用户的会话，最近更新的在前。
func (s *Service) ListSessions(_ context.Context, userID string) ([]chat.Summary, error) {
	s.mu.Lock()
	items := s.cache.Items()
	summaries := make([]chat.Summary, 0, len(items))
	for _, item := range items {
		rec, ok := item.Object.(*record)
		if !ok || rec.owner != userID {
			continue
		}
		summaries = append(summaries, rec.session.Summarize())
	}
	s.mu.Unlock()

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// GetSession 获取会话及其全部消息。
func (s *Service) GetSession(_ context.Context, userID, sessionID string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(userID, sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	return rec.session.Clone(), nil
}

// AppendMessage 向会话历史追加一条消息。
func (s *Service) AppendMessage(_ context.Context, userID, sessionID string, role chat.Role, content string, attachments []string) (chat.Message, error) {
	if !role.Valid() {
		return chat.Message{}, ErrInvalidRole
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(userID, sessionID)
	if err != nil {
		return chat.Message{}, err
	}

	message := chat.Message{
		ID:          uuid.NewString(),
		Role:        role,
		Content:     content,
		Timestamp:   s.now(),
		Attachments: append([]string(nil), attachments...),
	}
	rec.session.Messages = append(rec.session.Messages, message)
	rec.session.UpdatedAt = message.Timestamp
	s.cache.Set(sessionID, rec, cache.DefaultExpiration)

	return message.Clone(), nil
}

func (s *Service) lookup(userID, sessionID string) (*record, error) {
	item, found := s.cache.Get(sessionID)
	if !found {
		return nil, ErrSessionNotFound
	}
	rec, ok := item.(*record)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if rec.owner != userID {
		return nil, ErrForbidden
	}
	return rec, nil
}
