package progress

import (
	"sync"

	"k8s.io/klog/v2"
)

// Callback 进度回调函数
type Callback func(progress float64, step string)

// Sink 按会话ID注册进度回调的进程级注册表
// 多个会话并发运行时只在注册表操作上产生竞争，会话数据互不共享
type Sink struct {
	mutex     sync.RWMutex
	callbacks map[string]Callback
}

// NewSink 创建进度注册表
func NewSink() *Sink {
	return &Sink{
		callbacks: make(map[string]Callback),
	}
}

// Register 注册进度回调，重复注册会覆盖旧回调
func (s *Sink) Register(sessionID string, cb Callback) {
	if cb == nil {
		return
	}
	s.mutex.Lock()
	s.callbacks[sessionID] = cb
	s.mutex.Unlock()
	klog.V(6).Infof("进度回调已注册: sessionID=%s", sessionID)
}

// Publish 向已注册的回调推送进度，未注册时静默跳过
// 回调内部的 panic 会被捕获并记录，不影响流水线执行
func (s *Sink) Publish(sessionID string, progress float64, step string) {
	s.mutex.RLock()
	cb, ok := s.callbacks[sessionID]
	s.mutex.RUnlock()
	if !ok {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("进度回调执行出错: sessionID=%s, err=%v", sessionID, r)
		}
	}()
	cb(progress, step)
}

// Unregister 移除回调，未注册时为空操作
func (s *Sink) Unregister(sessionID string) {
	s.mutex.Lock()
	delete(s.callbacks, sessionID)
	s.mutex.Unlock()
	klog.V(6).Infof("进度回调已移除: sessionID=%s", sessionID)
}

// Len 当前注册的回调数量
func (s *Sink) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.callbacks)
}
