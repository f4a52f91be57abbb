package domain

import (
	"strings"
)

const (
	// AttachmentKeyRoot 附件对象键的根前缀
	AttachmentKeyRoot = "attachments/"
	// SenderCounterPrefix 发件人计数键前缀
	SenderCounterPrefix = "sender_count:"
)

// AttachmentKey 根据邮件ID、附件ID和文件名生成确定性的对象键
//
// 格式: attachments/{messageID}/{attachmentID}/{cleanFilename}
func AttachmentKey(messageID, attachmentID, filename string) string {
	return AttachmentPrefix(messageID) + attachmentID + "/" + CleanKeyFilename(filename)
}

// AttachmentPrefix 返回某封邮件全部附件对象的公共前缀
func AttachmentPrefix(messageID string) string {
	return AttachmentKeyRoot + messageID + "/"
}

// CleanKeyFilename 将 [a-zA-Z0-9.-] 以外的字节替换为下划线
//
// 空文件名以及只由点组成的文件名（"."、".." 等）统一使用 "unnamed"，
// 保证结果始终是一个普通的路径段。
func CleanKeyFilename(filename string) string {
	if strings.Trim(filename, ".") == "" {
		return "unnamed"
	}
	var b strings.Builder
	b.Grow(len(filename))
	for i := 0; i < len(filename); i++ {
		c := filename[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// SenderKey 生成发件人计数键
//
// 参数:
//   - prefix: 计数键前缀，为空时使用 SenderCounterPrefix
//   - sender: 发件人地址
//   - granularity: 按完整地址或按域名计数
func SenderKey(prefix, sender string, granularity CounterGranularity) string {
	if prefix == "" {
		prefix = SenderCounterPrefix
	}
	subject := NormalizeAddress(sender)
	if granularity == GranularityDomain {
		if d := DomainOf(subject); d != "" {
			subject = d
		}
	}
	return prefix + subject
}
