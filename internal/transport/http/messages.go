package httptransport

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

// parsePagination 解析 limit/offset 查询参数，limit 取值 1-100，offset 不小于 0
func parsePagination(c *gin.Context) (limit, offset int, ok bool) {
	limit, offset = defaultPageLimit, 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageLimit {
			return 0, 0, false
		}
		limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

// listMessages godoc
// @Summary 列出邮件
// @Description 按接收时间倒序列出某地址的邮件摘要
// @Tags Emails
// @Produce json
// @Param address path string true "收件地址"
// @Param limit query int false "每页数量（默认50，最大100）"
// @Param offset query int false "偏移量"
// @Success 200 {object} Response{data=[]domain.MessageSummary}
// @Failure 404 {object} Response
// @Router /emails/{address} [get]
func (h *Handler) listMessages(c *gin.Context) {
	limit, offset, ok := parsePagination(c)
	if !ok {
		BadRequest(c, MsgInvalidPagination)
		return
	}

	items, err := h.inbox.ListMessages(c.Request.Context(), c.Param("address"), limit, offset)
	if err != nil {
		h.respondError(c, err, MsgMessageListFailed)
		return
	}
	Success(c, items)
}

// countMessages 统计某地址的邮件数量
func (h *Handler) countMessages(c *gin.Context) {
	n, err := h.inbox.CountMessages(c.Request.Context(), c.Param("address"))
	if err != nil {
		h.respondError(c, err, MsgMessageCountFailed)
		return
	}
	Success(c, gin.H{"count": n})
}

// deleteMessages godoc
// @Summary 清空邮箱
// @Description 删除某地址下的全部邮件及附件，没有邮件时返回 404
// @Tags Emails
// @Produce json
// @Param address path string true "收件地址"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /emails/{address} [delete]
func (h *Handler) deleteMessages(c *gin.Context) {
	deleted, err := h.inbox.DeleteByRecipient(c.Request.Context(), c.Param("address"))
	if err != nil {
		h.respondError(c, err, MsgMessageDeleteFailed)
		return
	}
	if deleted == 0 {
		NotFound(c, "没有可删除的邮件")
		return
	}
	SuccessWithMsg(c, "邮件已删除", gin.H{"deleted_count": deleted})
}

// getMessage 获取完整邮件
func (h *Handler) getMessage(c *gin.Context) {
	msg, err := h.inbox.GetMessage(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err, MsgMessageGetFailed)
		return
	}
	Success(c, msg)
}

// deleteMessage 删除单封邮件及其附件
func (h *Handler) deleteMessage(c *gin.Context) {
	if err := h.inbox.DeleteMessage(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err, MsgMessageDeleteFailed)
		return
	}
	SuccessWithMsg(c, "邮件已删除", nil)
}
