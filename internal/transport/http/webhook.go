package httptransport

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"barid/backend/internal/domain"
)

// SignatureHeader 入站 Webhook 签名头，值为请求体 HMAC-SHA256 的十六进制编码，可带 "sha256=" 前缀
const SignatureHeader = "X-Signature"

// Sign 计算请求体签名
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifySignature(secret string, body []byte, header string) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(header), "sha256="))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// inbound godoc
// @Summary 入站邮件
// @Description 接收邮件路由转发的原始 RFC 822 邮件并入库
// @Tags Webhook
// @Accept message/rfc822
// @Produce json
// @Param from query string false "信封发件人"
// @Param to query string true "信封收件人"
// @Success 201 {object} Response
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Failure 422 {object} Response
// @Router /webhook/inbound [post]
func (h *Handler) inbound(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(c, http.StatusRequestEntityTooLarge, "邮件超过大小限制")
			return
		}
		BadRequest(c, MsgInvalidRequest)
		return
	}
	if len(raw) == 0 {
		BadRequest(c, MsgRequestBodyEmpty)
		return
	}

	if h.secret != "" && !verifySignature(h.secret, raw, c.GetHeader(SignatureHeader)) {
		h.logger.Warn("webhook signature rejected", zap.String("remote_addr", c.ClientIP()))
		Unauthorized(c, MsgInvalidSignature)
		return
	}

	sender := domain.NormalizeAddress(c.Query("from"))
	recipient := domain.NormalizeAddress(c.Query("to"))
	if recipient != "" {
		if _, err := h.inbox.CheckAddress(recipient); err != nil {
			h.respondError(c, err, MsgIngestFailed)
			return
		}
	}

	res, err := h.ingester.Ingest(c.Request.Context(), raw, sender, recipient)
	if err != nil {
		h.respondError(c, err, MsgIngestFailed)
		return
	}

	Created(c, gin.H{
		"id":          res.Message.ID,
		"to_address":  res.Message.ToAddress,
		"attachments": len(res.Attachments),
		"rejected":    res.Rejected,
		"failed":      res.Failed,
	})
}
