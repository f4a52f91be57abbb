package domain

// Attachment 表示附件元数据行，内容本身存放在对象存储中。
type Attachment struct {
	ID          string `json:"id" gorm:"primaryKey;type:varchar(64)"`           // 附件唯一标识（att_ 前缀）
	EmailID     string `json:"email_id" gorm:"type:varchar(64);not null;index"` // 所属邮件ID
	Filename    string `json:"filename" gorm:"type:varchar(255);not null"`      // 原始文件名
	ContentType string `json:"content_type" gorm:"type:varchar(255);not null"`  // 声明的MIME类型
	Size        int64  `json:"size" gorm:"not null"`                            // 大小（字节）
	StorageKey  string `json:"storage_key" gorm:"type:varchar(512);not null"`   // 对象存储键
	CreatedAt   int64  `json:"created_at" gorm:"not null;index"`                // 创建时间（秒）
}

// TableName 指定附件表名
func (Attachment) TableName() string {
	return "attachments"
}

// AttachmentCandidate 解析器产出的待校验附件
type AttachmentCandidate struct {
	Filename    string
	ContentType string
	Content     []byte
}

// AcceptedAttachment 通过校验的附件，Size 为内容字节数
type AcceptedAttachment struct {
	Filename    string
	ContentType string
	Content     []byte
	Size        int64
}

// Object 对象存储中读取出的内容
type Object struct {
	Key         string
	Data        []byte
	ContentType string
	Filename    string
	Size        int64
}
