package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"barid/backend/internal/domain"
)

// ErrDuplicateID 主键冲突
var ErrDuplicateID = errors.New("duplicate id")

// Store 使用内存保存邮件与附件元数据，主要用于开发验证和测试。
type Store struct {
	mu          sync.RWMutex
	messages    map[string]*domain.Message               // messageID -> message
	attachments map[string]*domain.Attachment            // attachmentID -> attachment
	byMessage   map[string]map[string]*domain.Attachment // messageID -> attachmentID -> attachment
}

var _ domain.RecordStore = (*Store)(nil)

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		messages:    make(map[string]*domain.Message),
		attachments: make(map[string]*domain.Attachment),
		byMessage:   make(map[string]map[string]*domain.Attachment),
	}
}

// Health 内存存储始终可用
func (s *Store) Health(context.Context) error { return nil }

// Close 无需释放资源
func (s *Store) Close() error { return nil }

// ========== Messages ==========

func (s *Store) InsertMessage(_ context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[msg.ID]; exists {
		return ErrDuplicateID
	}
	clone := *msg
	s.messages[msg.ID] = &clone
	return nil
}

func (s *Store) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	clone := *msg
	return &clone, nil
}

func (s *Store) ListMessagesByRecipient(_ context.Context, recipient string, limit, offset int) ([]domain.Message, error) {
	s.mu.RLock()
	matched := make([]domain.Message, 0)
	for _, msg := range s.messages {
		if msg.ToAddress == recipient {
			matched = append(matched, *msg)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].ReceivedAt != matched[j].ReceivedAt {
			return matched[i].ReceivedAt > matched[j].ReceivedAt
		}
		return matched[i].ID > matched[j].ID
	})
	return page(matched, limit, offset), nil
}

func (s *Store) CountMessagesByRecipient(_ context.Context, recipient string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, msg := range s.messages {
		if msg.ToAddress == recipient {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListMessageIDsByRecipient(_ context.Context, recipient string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0)
	for id, msg := range s.messages {
		if msg.ToAddress == recipient {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) ListMessageIDsOlderThan(_ context.Context, cutoff int64, limit int) ([]string, error) {
	s.mu.RLock()
	expired := make([]*domain.Message, 0)
	for _, msg := range s.messages {
		if msg.ReceivedAt < cutoff {
			expired = append(expired, msg)
		}
	}
	s.mu.RUnlock()

	sort.Slice(expired, func(i, j int) bool {
		if expired[i].ReceivedAt != expired[j].ReceivedAt {
			return expired[i].ReceivedAt < expired[j].ReceivedAt
		}
		return expired[i].ID < expired[j].ID
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	ids := make([]string, len(expired))
	for i, msg := range expired {
		ids[i] = msg.ID
	}
	return ids, nil
}

func (s *Store) UpdateMessageAttachmentInfo(_ context.Context, id string, hasAttachments bool, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return domain.ErrMessageNotFound
	}
	msg.HasAttachments = hasAttachments
	msg.AttachmentCount = count
	return nil
}

func (s *Store) DeleteMessagesByIDs(_ context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, id := range ids {
		if _, ok := s.messages[id]; ok {
			delete(s.messages, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) DeleteMessagesOlderThan(_ context.Context, cutoff int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, msg := range s.messages {
		if msg.ReceivedAt < cutoff {
			delete(s.messages, id)
			deleted++
		}
	}
	return deleted, nil
}

// ========== Attachments ==========

func (s *Store) InsertAttachment(_ context.Context, att *domain.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.attachments[att.ID]; exists {
		return ErrDuplicateID
	}
	clone := *att
	s.attachments[att.ID] = &clone
	if s.byMessage[att.EmailID] == nil {
		s.byMessage[att.EmailID] = make(map[string]*domain.Attachment)
	}
	s.byMessage[att.EmailID][att.ID] = &clone
	return nil
}

func (s *Store) GetAttachment(_ context.Context, id string) (*domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	att, ok := s.attachments[id]
	if !ok {
		return nil, domain.ErrAttachmentNotFound
	}
	clone := *att
	return &clone, nil
}

func (s *Store) ListAttachmentsByMessage(_ context.Context, messageID string) ([]domain.Attachment, error) {
	s.mu.RLock()
	list := s.collect([]string{messageID})
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt != list[j].CreatedAt {
			return list[i].CreatedAt < list[j].CreatedAt
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func (s *Store) ListAttachmentsByMessages(_ context.Context, messageIDs []string) ([]domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(messageIDs), nil
}

func (s *Store) ListAttachmentsByRecipient(_ context.Context, recipient string, limit int) ([]domain.Attachment, error) {
	s.mu.RLock()
	ids := make([]string, 0)
	for id, msg := range s.messages {
		if msg.ToAddress == recipient {
			ids = append(ids, id)
		}
	}
	list := s.collect(ids)
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt != list[j].CreatedAt {
			return list[i].CreatedAt > list[j].CreatedAt
		}
		return list[i].ID > list[j].ID
	})
	return page(list, limit, 0), nil
}

func (s *Store) CountAttachmentsByMessage(_ context.Context, messageID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byMessage[messageID]), nil
}

func (s *Store) DeleteAttachment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	att, ok := s.attachments[id]
	if !ok {
		return domain.ErrAttachmentNotFound
	}
	delete(s.attachments, id)
	if owned := s.byMessage[att.EmailID]; owned != nil {
		delete(owned, id)
		if len(owned) == 0 {
			delete(s.byMessage, att.EmailID)
		}
	}
	return nil
}

func (s *Store) DeleteAttachmentsByMessages(_ context.Context, messageIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, messageID := range messageIDs {
		for id := range s.byMessage[messageID] {
			delete(s.attachments, id)
			deleted++
		}
		delete(s.byMessage, messageID)
	}
	return deleted, nil
}

// collect 调用方需持有读锁
func (s *Store) collect(messageIDs []string) []domain.Attachment {
	list := make([]domain.Attachment, 0)
	for _, messageID := range messageIDs {
		for _, att := range s.byMessage[messageID] {
			list = append(list, *att)
		}
	}
	return list
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return items[:0]
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
