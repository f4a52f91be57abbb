package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"barid/backend/internal/domain"
	"barid/backend/internal/ingest"
)

type errorMapping struct {
	status int
	msg    string
}

// errorMessages 哨兵错误到状态码与中文消息的映射，按顺序匹配
var errorMessages = []struct {
	err error
	errorMapping
}{
	{domain.ErrDomainNotSupported, errorMapping{http.StatusNotFound, "域名不受支持"}},
	{domain.ErrMessageNotFound, errorMapping{http.StatusNotFound, MsgMessageNotFound}},
	{domain.ErrAttachmentNotFound, errorMapping{http.StatusNotFound, MsgAttachmentNotFound}},
	{domain.ErrObjectNotFound, errorMapping{http.StatusNotFound, "附件内容不存在"}},
	{ingest.ErrParse, errorMapping{http.StatusUnprocessableEntity, "邮件解析失败"}},
	{ingest.ErrSchema, errorMapping{http.StatusUnprocessableEntity, "邮件内容不符合存储要求"}},
	{ingest.ErrPersist, errorMapping{http.StatusInternalServerError, "保存邮件失败"}},
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if m, ok := lookup(err); ok {
		return m.msg
	}
	return err.Error()
}

func lookup(err error) (errorMapping, bool) {
	for _, e := range errorMessages {
		if errors.Is(err, e.err) {
			return e.errorMapping, true
		}
	}
	return errorMapping{}, false
}

// respondError 将已知错误映射为对应状态码，未知错误记录日志后返回 500 和 fallback
func (h *Handler) respondError(c *gin.Context, err error, fallback string) {
	if m, ok := lookup(err); ok && m.status < http.StatusInternalServerError {
		Error(c, m.status, m.msg)
		return
	}
	h.logger.Error("request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err),
	)
	InternalError(c, fallback)
}

// 通用错误消息
const (
	MsgInvalidRequest    = "请求参数格式错误"
	MsgInvalidPagination = "分页参数无效"
	MsgRequestBodyEmpty  = "请求体不能为空"
	MsgInvalidSignature  = "签名校验失败"

	MsgMessageNotFound     = "邮件不存在"
	MsgMessageListFailed   = "获取邮件列表失败"
	MsgMessageCountFailed  = "统计邮件数量失败"
	MsgMessageGetFailed    = "获取邮件失败"
	MsgMessageDeleteFailed = "删除邮件失败"

	MsgAttachmentNotFound     = "附件不存在"
	MsgAttachmentListFailed   = "获取附件列表失败"
	MsgAttachmentGetFailed    = "获取附件失败"
	MsgAttachmentDeleteFailed = "删除附件失败"

	MsgIngestFailed = "邮件投递失败"
)
