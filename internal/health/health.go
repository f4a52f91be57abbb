package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"barid/backend/internal/domain"
)

const (
	checkTimeout       = 5 * time.Second
	goroutineThreshold = 10000
	probeKey           = "health_check"
)

// Pinger 支持直接探活的存储可选实现该接口
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health   healthcheck.Handler
	records  domain.RecordStore
	counters domain.CounterStore
	logger   *zap.Logger
}

// NewHealthChecker 创建健康检查器
//
// 参数:
//   - records: 邮件记录存储，必填
//   - counters: 发件人计数存储，可为 nil
//   - logger: 日志记录器
func NewHealthChecker(records domain.RecordStore, counters domain.CounterStore, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health:   healthcheck.NewHandler(),
		records:  records,
		counters: counters,
		logger:   logger.Named("health"),
	}
	hc.addChecks()
	return hc
}

// addChecks 添加健康检查
func (hc *HealthChecker) addChecks() {
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(goroutineThreshold))

	hc.health.AddReadinessCheck("database", healthcheck.Timeout(hc.checkDatabase, checkTimeout))
	if hc.counters != nil {
		hc.health.AddReadinessCheck("counter", healthcheck.Timeout(hc.checkCounter, checkTimeout))
	}
}

func (hc *HealthChecker) checkDatabase() error {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()
	return hc.records.Health(ctx)
}

// checkCounter 优先使用 Ping，否则读取一个探测键，键不存在视为正常
func (hc *HealthChecker) checkCounter() error {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	if p, ok := hc.counters.(Pinger); ok {
		return p.Ping(ctx)
	}
	_, err := hc.counters.Get(ctx, probeKey)
	if errors.Is(err, domain.ErrCounterNotFound) {
		return nil
	}
	return err
}

// Handler 返回 heptiolabs 处理器，挂载后提供 /live 与 /ready
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活检查
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行健康检查，返回各项状态以及整体是否健康
func (hc *HealthChecker) CheckHealth() (map[string]string, bool) {
	results := make(map[string]string)
	healthy := true

	if err := hc.checkDatabase(); err != nil {
		hc.logger.Warn("database health check failed", zap.Error(err))
		results["database"] = fmt.Sprintf("ERROR: %v", err)
		healthy = false
	} else {
		results["database"] = "OK"
	}

	if hc.counters == nil {
		results["counter"] = "NOT_AVAILABLE"
	} else if err := hc.checkCounter(); err != nil {
		hc.logger.Warn("counter store health check failed", zap.Error(err))
		results["counter"] = fmt.Sprintf("ERROR: %v", err)
		healthy = false
	} else {
		results["counter"] = "OK"
	}

	results["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return results, healthy
}
