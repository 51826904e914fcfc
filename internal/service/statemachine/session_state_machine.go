package statemachine

import (
	"fmt"

	"k8s.io/klog/v2"
)

// SessionStatus 定义会诊会话的所有可能状态
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"   // 已创建未执行
	SessionStatusRunning   SessionStatus = "running"   // 流水线执行中
	SessionStatusCompleted SessionStatus = "completed" // 正常结束，结果已生成
	SessionStatusFailed    SessionStatus = "failed"    // 执行器故障，失败原因作为结果
)

// SessionTransition 定义会话状态迁移
type SessionTransition struct {
	From SessionStatus
	To   SessionStatus
}

// SessionStateMachine 会话状态机
// 只有前向迁移：pending -> running -> completed/failed
type SessionStateMachine struct {
	allowedTransitions map[SessionTransition]bool
}

// NewSessionStateMachine 创建会话状态机
func NewSessionStateMachine() *SessionStateMachine {
	sm := &SessionStateMachine{
		allowedTransitions: make(map[SessionTransition]bool),
	}

	transitions := []SessionTransition{
		{SessionStatusPending, SessionStatusRunning},
		{SessionStatusRunning, SessionStatusCompleted},
		{SessionStatusRunning, SessionStatusFailed},
		// 执行器提交失败等情况下，未运行即告失败
		{SessionStatusPending, SessionStatusFailed},
	}

	for _, t := range transitions {
		sm.allowedTransitions[t] = true
	}

	return sm
}

// CanTransition 检查状态迁移是否合法
func (sm *SessionStateMachine) CanTransition(from, to SessionStatus) bool {
	if from == to {
		return false // 不允许状态不变
	}
	return sm.allowedTransitions[SessionTransition{From: from, To: to}]
}

// ValidateTransition 验证状态迁移并返回错误
func (sm *SessionStateMachine) ValidateTransition(from, to SessionStatus) error {
	if !sm.CanTransition(from, to) {
		return &InvalidStateTransitionError{
			From: string(from),
			To:   string(to),
		}
	}
	return nil
}

// Transition 执行状态迁移（带日志）
func (sm *SessionStateMachine) Transition(from, to SessionStatus, sessionID string) error {
	if err := sm.ValidateTransition(from, to); err != nil {
		klog.V(6).Infof("会话状态迁移被拒绝: sessionID=%s, %s -> %s, error=%v",
			sessionID, from, to, err)
		return err
	}
	klog.V(6).Infof("会话状态迁移: sessionID=%s, %s -> %s", sessionID, from, to)
	return nil
}

// IsTerminal 判断状态是否为终止态（不能再迁移）
func IsTerminal(status SessionStatus) bool {
	return status == SessionStatusCompleted || status == SessionStatusFailed
}

// InvalidStateTransitionError 非法状态迁移错误
type InvalidStateTransitionError struct {
	From string
	To   string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid session state transition: %s -> %s", e.From, e.To)
}
