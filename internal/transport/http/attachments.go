package httptransport

import (
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// listRecipientAttachments 按创建时间倒序分页列出某地址收到的附件
func (h *Handler) listRecipientAttachments(c *gin.Context) {
	limit, offset, ok := parsePagination(c)
	if !ok {
		BadRequest(c, MsgInvalidPagination)
		return
	}

	items, err := h.inbox.ListRecipientAttachments(c.Request.Context(), c.Param("address"), limit, offset)
	if err != nil {
		h.respondError(c, err, MsgAttachmentListFailed)
		return
	}
	Success(c, items)
}

// listMessageAttachments 列出某封邮件的附件
func (h *Handler) listMessageAttachments(c *gin.Context) {
	items, err := h.inbox.ListAttachments(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, MsgAttachmentListFailed)
		return
	}
	Success(c, items)
}

// downloadAttachment godoc
// @Summary 下载附件
// @Description 返回附件原始内容
// @Tags Attachments
// @Produce application/octet-stream
// @Param id path string true "附件ID"
// @Success 200 {file} binary
// @Failure 404 {object} Response
// @Router /attachments/{id} [get]
func (h *Handler) downloadAttachment(c *gin.Context) {
	att, obj, err := h.inbox.GetAttachment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, MsgAttachmentGetFailed)
		return
	}

	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// 附件下载不使用统一响应格式，直接返回二进制流
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename}))
	c.Header("Content-Length", strconv.Itoa(len(obj.Data)))
	c.Data(http.StatusOK, contentType, obj.Data)
}

// deleteAttachment 删除附件并更新所属邮件的附件数
func (h *Handler) deleteAttachment(c *gin.Context) {
	if err := h.inbox.DeleteAttachment(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err, MsgAttachmentDeleteFailed)
		return
	}
	SuccessWithMsg(c, "附件已删除", nil)
}
