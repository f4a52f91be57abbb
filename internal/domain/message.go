package domain

// Message 表示一封已入库的邮件记录。
//
// HTMLContent 与 TextContent 可以为 nil，表示原始邮件没有对应的正文；
// AttachmentCount 始终等于已成功持久化的附件数量。
type Message struct {
	ID              string  `json:"id" gorm:"primaryKey;type:varchar(64)"`
	FromAddress     string  `json:"from_address" gorm:"type:varchar(320);not null"`
	ToAddress       string  `json:"to_address" gorm:"type:varchar(320);not null;index"`
	Subject         *string `json:"subject"`
	ReceivedAt      int64   `json:"received_at" gorm:"not null;index"`
	HTMLContent     *string `json:"html_content"`
	TextContent     *string `json:"text_content"`
	HasAttachments  bool    `json:"has_attachments" gorm:"not null;default:false"`
	AttachmentCount int     `json:"attachment_count" gorm:"not null;default:0"`
}

// TableName 指定邮件表名
func (Message) TableName() string {
	return "emails"
}

// MessageSummary 列表接口返回的邮件摘要（不含正文）
type MessageSummary struct {
	ID              string  `json:"id"`
	FromAddress     string  `json:"from_address"`
	ToAddress       string  `json:"to_address"`
	Subject         *string `json:"subject"`
	ReceivedAt      int64   `json:"received_at"`
	HasAttachments  bool    `json:"has_attachments"`
	AttachmentCount int     `json:"attachment_count"`
}

// Summary 返回不含正文的邮件摘要
func (m *Message) Summary() MessageSummary {
	return MessageSummary{
		ID:              m.ID,
		FromAddress:     m.FromAddress,
		ToAddress:       m.ToAddress,
		Subject:         m.Subject,
		ReceivedAt:      m.ReceivedAt,
		HasAttachments:  m.HasAttachments,
		AttachmentCount: m.AttachmentCount,
	}
}

// StringPtr 返回字符串指针，空字符串返回 nil
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue 解引用字符串指针，nil 返回空字符串
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
