package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 指标标签取值
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultRejected = "rejected"
)

// Metrics 监控指标
//
// 所有记录方法都允许在 nil 接收者上调用，未启用监控的组件无需判空。
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 入库指标
	MessagesIngested *prometheus.CounterVec
	IngestDuration   prometheus.Histogram
	AttachmentsTotal *prometheus.CounterVec
	AttachmentSize   prometheus.Histogram
	MessagesDeleted  prometheus.Counter

	// 定时任务指标
	SweepDeleted prometheus.Counter
	ReportRuns   *prometheus.CounterVec

	// 限流与异常
	RateLimitBlocks *prometheus.CounterVec
	PanicsTotal     prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetrics 在给定注册表上创建监控指标
//
// 参数:
//   - reg: 指标注册表，nil 时使用全局默认注册表
func NewMetrics(reg *prometheus.Registry) *Metrics {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	factory := promauto.With(registerer)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tempmail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		MessagesIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_messages_ingested_total",
				Help: "Total number of ingestion attempts by result",
			},
			[]string{"result"},
		),

		IngestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tempmail_ingest_duration_seconds",
				Help:    "Time spent ingesting one message",
				Buckets: prometheus.DefBuckets,
			},
		),

		AttachmentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_attachments_total",
				Help: "Attachments processed by result",
			},
			[]string{"result"},
		),

		AttachmentSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tempmail_attachment_size_bytes",
				Help:    "Size of stored attachments in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),

		MessagesDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_messages_deleted_total",
				Help: "Messages deleted through the API",
			},
		),

		SweepDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_sweep_deleted_total",
				Help: "Messages deleted by the retention sweeper",
			},
		),

		ReportRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_report_runs_total",
				Help: "Sender report runs by result",
			},
			[]string{"result"},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tempmail_rate_limit_blocks_total",
				Help: "Requests or sessions rejected by rate limiting",
			},
			[]string{"limit_type"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tempmail_panics_total",
				Help: "Recovered panics",
			},
		),

		gatherer: gatherer,
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordIngest 记录一次入库结果及耗时
func (m *Metrics) RecordIngest(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.MessagesIngested.WithLabelValues(result).Inc()
	m.IngestDuration.Observe(duration.Seconds())
}

// RecordAttachment 记录附件处理结果，成功时同时记录大小
func (m *Metrics) RecordAttachment(result string, size int64) {
	if m == nil {
		return
	}
	m.AttachmentsTotal.WithLabelValues(result).Inc()
	if result == ResultOK {
		m.AttachmentSize.Observe(float64(size))
	}
}

func (m *Metrics) RecordMessagesDeleted(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.MessagesDeleted.Add(float64(n))
}

func (m *Metrics) RecordSweep(deleted int64) {
	if m == nil || deleted <= 0 {
		return
	}
	m.SweepDeleted.Add(float64(deleted))
}

func (m *Metrics) RecordReport(result string) {
	if m == nil {
		return
	}
	m.ReportRuns.WithLabelValues(result).Inc()
}

// RecordRateLimitBlock 记录被限流拒绝的请求
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
