package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"barid/backend/internal/monitoring"
)

// HTTPMetrics 记录请求数与耗时，未匹配路由统一记为 "unmatched" 以控制标签基数
func HTTPMetrics(metrics *monitoring.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RecordHTTPRequest(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
		)
	}
}
