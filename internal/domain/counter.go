package domain

// SenderCount 发件人统计条目
type SenderCount struct {
	Sender string `json:"sender"`
	Count  int64  `json:"count"`
}

// CounterPage 计数器分页枚举结果
//
// NextCursor 为空且 Complete 为 true 表示枚举结束。
type CounterPage struct {
	Keys       []string
	NextCursor string
	Complete   bool
}

// CounterGranularity 发件人计数的粒度
type CounterGranularity string

const (
	GranularityAddress CounterGranularity = "address"
	GranularityDomain  CounterGranularity = "domain"
)

// ParseGranularity 解析计数粒度，未知值回退到 address
func ParseGranularity(value string) CounterGranularity {
	if CounterGranularity(value) == GranularityDomain {
		return GranularityDomain
	}
	return GranularityAddress
}
