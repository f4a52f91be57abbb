package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"barid/backend/internal/domain"
)

const (
	messageSchemaURL    = "https://barid.local/schema/message.json"
	attachmentSchemaURL = "https://barid.local/schema/attachment.json"
)

const messageSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "from_address", "to_address", "received_at", "has_attachments", "attachment_count"],
  "properties": {
    "id":               {"type": "string", "minLength": 1, "maxLength": 64},
    "from_address":     {"type": "string", "minLength": 1, "maxLength": 320},
    "to_address":       {"type": "string", "minLength": 1, "maxLength": 320},
    "subject":          {"type": ["string", "null"]},
    "received_at":      {"type": "integer", "minimum": 0},
    "html_content":     {"type": ["string", "null"]},
    "text_content":     {"type": ["string", "null"]},
    "has_attachments":  {"type": "boolean"},
    "attachment_count": {"type": "integer", "minimum": 0}
  },
  "additionalProperties": false,
  "if":   {"properties": {"attachment_count": {"const": 0}}},
  "then": {"properties": {"has_attachments": {"const": false}}},
  "else": {"properties": {"has_attachments": {"const": true}}}
}`

const attachmentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "email_id", "filename", "content_type", "size", "storage_key", "created_at"],
  "properties": {
    "id":           {"type": "string", "minLength": 1, "maxLength": 64},
    "email_id":     {"type": "string", "minLength": 1, "maxLength": 64},
    "filename":     {"type": "string", "minLength": 1, "maxLength": 255},
    "content_type": {"type": "string", "minLength": 1},
    "size":         {"type": "integer", "minimum": 0},
    "storage_key":  {"type": "string", "minLength": 1, "maxLength": 512},
    "created_at":   {"type": "integer", "minimum": 0}
  },
  "additionalProperties": false
}`

// Validator 使用 JSON Schema 校验即将写入的记录
//
// 校验只做判断，不修改或强制转换任何字段。
type Validator struct {
	message    *jsonschema.Schema
	attachment *jsonschema.Schema
}

// New 编译内置的记录 schema
func New() (*Validator, error) {
	c := jsonschema.NewCompiler()
	for url, src := range map[string]string{
		messageSchemaURL:    messageSchema,
		attachmentSchemaURL: attachmentSchema,
	} {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("schema: parse %s: %w", url, err)
		}
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("schema: add %s: %w", url, err)
		}
	}

	msg, err := c.Compile(messageSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("schema: compile message: %w", err)
	}
	att, err := c.Compile(attachmentSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("schema: compile attachment: %w", err)
	}
	return &Validator{message: msg, attachment: att}, nil
}

// MustNew 与 New 相同，失败时 panic
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// ValidateMessage 校验邮件记录
func (v *Validator) ValidateMessage(msg *domain.Message) error {
	if msg == nil {
		return fmt.Errorf("schema: message is nil")
	}
	return validate(v.message, msg)
}

// ValidateAttachment 校验附件元数据记录
func (v *Validator) ValidateAttachment(att *domain.Attachment) error {
	if att == nil {
		return fmt.Errorf("schema: attachment is nil")
	}
	return validate(v.attachment, att)
}

// validate 先序列化为 JSON 再解析，保证数字以 json.Number 形式参与校验
func validate(s *jsonschema.Schema, record interface{}) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("schema: encode record: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("schema: decode record: %w", err)
	}
	if err := s.Validate(inst); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}
