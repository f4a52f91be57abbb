package httptransport

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// domainsCacheSeconds 域名列表的客户端缓存时长
const domainsCacheSeconds = 3600

// listDomains 返回受支持的域名列表
func (h *Handler) listDomains(c *gin.Context) {
	domains := h.inbox.ListDomains()
	if domains == nil {
		domains = []string{}
	}

	etag := fmt.Sprintf(`"domains-%d"`, len(domains))
	c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d", domainsCacheSeconds))
	c.Header("ETag", etag)
	Success(c, domains)
}
