package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"k8s.io/klog/v2"
)

// ErrOrchestratorStopped 编排器已停止，不再接收新会话
var ErrOrchestratorStopped = errors.New("orchestrator is stopped")

// Orchestrator 会诊会话的后台执行池
// 限制同时运行的会诊数量，避免并发过多打爆 LLM 配额；
// 会话是一次性执行，失败即终态，无重试队列。
type Orchestrator struct {
	pool *ants.Pool

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewOrchestrator 创建执行池
func NewOrchestrator(maxWorkers int) (*Orchestrator, error) {
	ctx, cancel := context.WithCancel(context.Background())

	pool, err := ants.NewPool(maxWorkers,
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(1000),
		ants.WithExpiryDuration(5*time.Minute),
	)
	if err != nil {
		cancel()
		klog.Errorf("ants pool initialization failed: %v", err)
		return nil, err
	}

	return &Orchestrator{
		pool:   pool,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Submit 提交一个会话执行函数
// 池满时阻塞等待空闲 worker；执行中的 panic 被捕获并记录
func (o *Orchestrator) Submit(fn func()) error {
	select {
	case <-o.ctx.Done():
		return ErrOrchestratorStopped
	default:
	}

	return o.pool.Submit(func() {
		defer func() {
			if r := recover(); r != nil {
				klog.Errorf("Session execution panic recovered: %v", r)
			}
		}()
		fn()
	})
}

// Running 当前正在执行的会话数
func (o *Orchestrator) Running() int {
	return o.pool.Running()
}

// Stop 停止接收新会话并等待执行中的会话完成
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		klog.V(6).Infof("Orchestrator stopping...")
		o.cancel()

		// 等待运行中的会诊结束，超时后放弃等待
		timeout := 10 * time.Minute
		if err := o.pool.ReleaseTimeout(timeout); err != nil {
			klog.Warningf("Timeout after %v: some running sessions may be forced to stop", timeout)
		} else {
			klog.V(6).Infof("All running sessions completed before timeout")
		}
	})
}
