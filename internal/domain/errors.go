package domain

import "errors"

// 存储层通用的哨兵错误
var (
	ErrMessageNotFound    = errors.New("message not found")
	ErrAttachmentNotFound = errors.New("attachment not found")
	ErrObjectNotFound     = errors.New("object not found")
	ErrCounterNotFound    = errors.New("counter not found")
	ErrDomainNotSupported = errors.New("domain not supported")
)
