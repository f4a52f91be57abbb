package domain

import "context"

// MessageRepository 邮件记录存储接口
type MessageRepository interface {
	InsertMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessagesByRecipient(ctx context.Context, recipient string, limit, offset int) ([]Message, error)
	CountMessagesByRecipient(ctx context.Context, recipient string) (int, error)
	ListMessageIDsByRecipient(ctx context.Context, recipient string) ([]string, error)
	ListMessageIDsOlderThan(ctx context.Context, cutoff int64, limit int) ([]string, error)
	UpdateMessageAttachmentInfo(ctx context.Context, id string, hasAttachments bool, count int) error
	DeleteMessagesByIDs(ctx context.Context, ids []string) (int64, error)
	DeleteMessagesOlderThan(ctx context.Context, cutoff int64) (int64, error)
}

// AttachmentRepository 附件元数据存储接口
type AttachmentRepository interface {
	InsertAttachment(ctx context.Context, att *Attachment) error
	GetAttachment(ctx context.Context, id string) (*Attachment, error)
	ListAttachmentsByMessage(ctx context.Context, messageID string) ([]Attachment, error)
	ListAttachmentsByMessages(ctx context.Context, messageIDs []string) ([]Attachment, error)
	ListAttachmentsByRecipient(ctx context.Context, recipient string, limit int) ([]Attachment, error)
	CountAttachmentsByMessage(ctx context.Context, messageID string) (int, error)
	DeleteAttachment(ctx context.Context, id string) error
	DeleteAttachmentsByMessages(ctx context.Context, messageIDs []string) (int64, error)
}

// RecordStore 聚合关系型记录存储
type RecordStore interface {
	MessageRepository
	AttachmentRepository
	Health(ctx context.Context) error
	Close() error
}

// ObjectStore 附件二进制内容存储（按确定性键寻址）
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType, filename string) error
	Get(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
	ListByPrefix(ctx context.Context, prefix string) ([]string, error)
}

// CounterStore 发件人计数存储
//
// Get 在键不存在时返回 ErrCounterNotFound。
type CounterStore interface {
	Get(ctx context.Context, key string) (int64, error)
	Put(ctx context.Context, key string, value int64) error
	ListByPrefix(ctx context.Context, prefix, cursor string, limit int) (CounterPage, error)
}

// Incrementer 支持原子自增的计数存储可选实现该接口
type Incrementer interface {
	Incr(ctx context.Context, key string) (int64, error)
}

// Notifier 文本通知发送者，未配置时应静默返回 nil
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// MailListener 新邮件入库后的事件订阅者
type MailListener interface {
	MessageStored(ctx context.Context, msg *Message)
}

// Directory 受支持的收件域名目录
type Directory interface {
	IsSupportedDomain(domain string) bool
	ListDomains() []string
}
