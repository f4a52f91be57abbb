package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task 后台任务，ctx 不随调用方请求结束而取消
type Task func(ctx context.Context) error

type namedTask struct {
	name string
	fn   Task
}

// TaskGroup 有界的后台任务组
//
// 用于执行尽力而为的工作（计数、通知），调用方不等待结果。
// 队列已满时任务转入单独的溢出协程执行，同样计入 Shutdown 的等待范围；
// 只有 Shutdown 之后提交的任务才在调用方协程中直接执行。
type TaskGroup struct {
	queue   chan namedTask
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	ctx     context.Context
	logger  *zap.Logger
	spilled atomic.Int64
	inline  atomic.Int64
	failed  atomic.Int64
	timeout time.Duration
}

// Options TaskGroup 配置
type Options struct {
	Workers     int           // 工作协程数，默认 4
	QueueSize   int           // 队列长度，默认 256
	TaskTimeout time.Duration // 单个任务超时，0 表示不限制
}

// NewTaskGroup 创建并启动任务组
//
// 参数:
//   - opts: 并发与队列配置
//   - logger: 日志记录器，任务失败和 panic 会被记录
func NewTaskGroup(opts Options, logger *zap.Logger) *TaskGroup {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &TaskGroup{
		queue:   make(chan namedTask, opts.QueueSize),
		ctx:     context.Background(),
		logger:  logger.Named("tasks"),
		timeout: opts.TaskTimeout,
	}
	for i := 0; i < opts.Workers; i++ {
		g.wg.Add(1)
		go g.worker()
	}
	return g
}

// Go 提交任务，不会阻塞等待任务执行
//
// 返回 true 表示任务已交给后台（队列或溢出协程）；返回 false 表示任务组已关闭，
// 任务已在当前协程中执行完毕。
func (g *TaskGroup) Go(name string, fn Task) bool {
	task := namedTask{name: name, fn: fn}

	g.mu.RLock()
	if g.closed {
		g.mu.RUnlock()
		g.inline.Add(1)
		g.run(task)
		return false
	}
	select {
	case g.queue <- task:
	default:
		// 持有读锁时 closed 为 false，Shutdown 尚未开始 Wait，此处 Add 是安全的
		g.wg.Add(1)
		g.spilled.Add(1)
		go func() {
			defer g.wg.Done()
			g.run(task)
		}()
	}
	g.mu.RUnlock()
	return true
}

// Shutdown 停止接收新任务并等待队列中和执行中的任务完成
//
// ctx 到期时返回 ctx.Err()，剩余任务仍会在后台继续执行。
func (g *TaskGroup) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	if !g.closed {
		g.closed = true
		close(g.queue)
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("task group shutdown: %w", ctx.Err())
	}
}

// Stats 返回溢出执行的任务数、关闭后直接执行的任务数和失败任务数
func (g *TaskGroup) Stats() (spilled, inline, failed int64) {
	return g.spilled.Load(), g.inline.Load(), g.failed.Load()
}

// worker 工作协程，队列关闭且排空后退出
func (g *TaskGroup) worker() {
	defer g.wg.Done()
	for task := range g.queue {
		g.run(task)
	}
}

func (g *TaskGroup) run(task namedTask) {
	ctx := g.ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			g.failed.Add(1)
			g.logger.Error("background task panicked",
				zap.String("task", task.name),
				zap.Any("panic", r),
			)
		}
	}()

	if err := task.fn(ctx); err != nil {
		g.failed.Add(1)
		g.logger.Warn("background task failed",
			zap.String("task", task.name),
			zap.Error(err),
		)
	}
}
