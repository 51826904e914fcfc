package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/medconsult/backend/config"
	"github.com/medconsult/backend/internal/model"
	"github.com/medconsult/backend/internal/pkg/llm"
	"github.com/medconsult/backend/internal/repository"
	"github.com/medconsult/backend/internal/service/consult"
	"github.com/medconsult/backend/internal/service/progress"
	"github.com/medconsult/backend/internal/service/statemachine"
)

// ErrSessionNotFound 未知或已过期的会话ID
var ErrSessionNotFound = errors.New("session not found")

// ErrEmptyQuestion 会诊问题为空
var ErrEmptyQuestion = errors.New("question is required")

// Submitter 后台执行提交接口，由 orchestrator 实现
type Submitter interface {
	Submit(fn func()) error
}

// Session 活动会话的内存态记录
// 仅由该会话的执行协程修改；终止后保留一段时间供查询，随后被回收
type Session struct {
	SessionID     string
	Question      string
	Model         string
	Status        statemachine.SessionStatus
	Progress      float64
	CurrentStep   string
	Result        *consult.Result
	FailureReason string
	StartedAt     time.Time
	EndedAt       *time.Time
}

// Snapshot 对外暴露的进度快照
type Snapshot struct {
	SessionID   string  `json:"session_id"`
	Status      string  `json:"status"`
	Progress    float64 `json:"progress"`
	CurrentStep string  `json:"current_step"`
	Result      any     `json:"result,omitempty"`
}

// ConsultationService 会诊服务
// 创建会话、调度流水线后台执行、提供进度查询与流式推送
type ConsultationService struct {
	cfg       *config.Config
	repo      repository.ConsultationRepository
	factory   llm.ClientFactory
	sink      *progress.Sink
	submitter Submitter
	sm        *statemachine.SessionStateMachine

	mutex    sync.RWMutex
	sessions map[string]*Session
}

// NewConsultationService 创建会诊服务
func NewConsultationService(cfg *config.Config, repo repository.ConsultationRepository,
	factory llm.ClientFactory, sink *progress.Sink, submitter Submitter) *ConsultationService {
	return &ConsultationService{
		cfg:       cfg,
		repo:      repo,
		factory:   factory,
		sink:      sink,
		submitter: submitter,
		sm:        statemachine.NewSessionStateMachine(),
		sessions:  make(map[string]*Session),
	}
}

// Start 启动一次会诊，立即返回会话ID，流水线在后台执行
func (s *ConsultationService) Start(question, modelName string) (string, error) {
	if question == "" {
		return "", ErrEmptyQuestion
	}
	if modelName == "" {
		modelName = s.cfg.LLM.Model
	}

	sessionID := uuid.New().String()
	now := time.Now()
	session := &Session{
		SessionID:   sessionID,
		Question:    question,
		Model:       modelName,
		Status:      statemachine.SessionStatusPending,
		Progress:    0.0,
		CurrentStep: "开始会诊...",
		StartedAt:   now,
	}

	s.mutex.Lock()
	s.sessions[sessionID] = session
	s.mutex.Unlock()

	// 持久化失败只记录日志，不阻塞会诊启动
	if err := s.repo.Create(&model.Consultation{
		SessionID:   sessionID,
		Question:    question,
		Model:       modelName,
		Status:      string(statemachine.SessionStatusPending),
		CurrentStep: session.CurrentStep,
		StartedAt:   &now,
	}); err != nil {
		klog.Errorf("会诊记录持久化失败: sessionID=%s, err=%v", sessionID, err)
	}

	// 进度回调把更新镜像到内存会话表与存储
	s.sink.Register(sessionID, func(p float64, step string) {
		s.mutex.Lock()
		if sess, ok := s.sessions[sessionID]; ok {
			sess.Progress = p
			sess.CurrentStep = step
		}
		s.mutex.Unlock()
		if err := s.repo.UpdateProgress(sessionID, p, step); err != nil {
			klog.Errorf("进度持久化失败: sessionID=%s, err=%v", sessionID, err)
		}
	})

	if err := s.submitter.Submit(func() { s.run(session) }); err != nil {
		klog.Errorf("会诊任务提交失败: sessionID=%s, err=%v", sessionID, err)
		s.fail(session, fmt.Sprintf("无法调度会诊任务: %v", err))
		return sessionID, nil
	}

	klog.V(6).Infof("会诊已启动: sessionID=%s, model=%s", sessionID, modelName)
	return sessionID, nil
}

// run 后台执行一次会诊流水线
func (s *ConsultationService) run(session *Session) {
	sessionID := session.SessionID

	s.transition(session, statemachine.SessionStatusRunning)

	client, err := s.factory(session.Model)
	if err != nil {
		s.fail(session, fmt.Sprintf("无法创建模型客户端: %v", err))
		return
	}

	pipeline := consult.NewPipeline(client, s.cfg.Consult.ExpertCount, s.cfg.Consult.Rounds,
		func(p float64, step string) {
			s.sink.Publish(sessionID, p, step)
		})

	// 会话被调用方放弃时仍应执行完毕，不随任何请求上下文取消
	result, err := pipeline.Run(context.Background(), sessionID, session.Question)
	if err != nil {
		s.fail(session, err.Error())
		return
	}
	s.complete(session, result)
}

// complete 标记会话完成并调度内存回收
func (s *ConsultationService) complete(session *Session, result *consult.Result) {
	ended := time.Now()

	s.mutex.Lock()
	if err := s.sm.Transition(session.Status, statemachine.SessionStatusCompleted, session.SessionID); err == nil {
		session.Status = statemachine.SessionStatusCompleted
	}
	session.Progress = 100.0
	session.CurrentStep = "会诊完成！"
	session.Result = result
	session.EndedAt = &ended
	s.mutex.Unlock()

	data, err := json.Marshal(result)
	if err != nil {
		klog.Errorf("结果序列化失败: sessionID=%s, err=%v", session.SessionID, err)
		data = []byte("{}")
	}
	if err := s.repo.Complete(session.SessionID, string(data), ended); err != nil {
		klog.Errorf("结果持久化失败: sessionID=%s, err=%v", session.SessionID, err)
	}

	klog.V(6).Infof("会诊完成: sessionID=%s, duration=%.1fs", session.SessionID, result.Duration)
	s.scheduleEviction(session.SessionID)
}

// fail 标记会话失败，失败原因作为结果，绝不停留在 running 状态
func (s *ConsultationService) fail(session *Session, reason string) {
	ended := time.Now()

	s.mutex.Lock()
	if err := s.sm.Transition(session.Status, statemachine.SessionStatusFailed, session.SessionID); err == nil {
		session.Status = statemachine.SessionStatusFailed
	}
	session.FailureReason = reason
	session.EndedAt = &ended
	s.mutex.Unlock()

	if err := s.repo.Fail(session.SessionID, reason, ended); err != nil {
		klog.Errorf("失败状态持久化失败: sessionID=%s, err=%v", session.SessionID, err)
	}

	klog.Errorf("会诊失败: sessionID=%s, reason=%s", session.SessionID, reason)
	s.scheduleEviction(session.SessionID)
}

// transition 在内存会话上执行一次状态迁移
func (s *ConsultationService) transition(session *Session, to statemachine.SessionStatus) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := s.sm.Transition(session.Status, to, session.SessionID); err != nil {
		return
	}
	session.Status = to
}

// scheduleEviction 终止后保留一段时间，随后清理内存记录与进度回调
// 持久化副本不受影响，依旧可查
func (s *ConsultationService) scheduleEviction(sessionID string) {
	retention := s.cfg.Consult.Retention
	if retention <= 0 {
		retention = 5 * time.Minute
	}
	time.AfterFunc(retention, func() {
		s.sink.Unregister(sessionID)
		s.mutex.Lock()
		delete(s.sessions, sessionID)
		s.mutex.Unlock()
		klog.V(6).Infof("会话已回收: sessionID=%s", sessionID)
	})
}

// GetProgress 查询会话进度，优先读内存，缺失时回退到存储
func (s *ConsultationService) GetProgress(sessionID string) (*Snapshot, error) {
	s.mutex.RLock()
	session, ok := s.sessions[sessionID]
	var snap *Snapshot
	if ok {
		snap = snapshotOf(session)
	}
	s.mutex.RUnlock()
	if snap != nil {
		return snap, nil
	}

	record, err := s.repo.GetBySessionID(sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	out := &Snapshot{
		SessionID:   record.SessionID,
		Status:      record.Status,
		Progress:    record.Progress,
		CurrentStep: record.CurrentStep,
	}
	if record.Result != "" {
		out.Result = json.RawMessage(record.Result)
	}
	return out, nil
}

// StreamProgress 按固定间隔产出进度快照，终止状态后结束
// 会话未知时立即返回 ErrSessionNotFound
func (s *ConsultationService) StreamProgress(ctx context.Context, sessionID string) (<-chan Snapshot, error) {
	first, err := s.GetProgress(sessionID)
	if err != nil {
		return nil, err
	}

	interval := s.cfg.Consult.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	ch := make(chan Snapshot, 1)
	go func() {
		defer close(ch)

		snap := first
		for {
			select {
			case ch <- *snap:
			case <-ctx.Done():
				return
			}
			if isTerminalStatus(snap.Status) {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}

			next, err := s.GetProgress(sessionID)
			if err != nil {
				klog.Warningf("进度流查询失败: sessionID=%s, err=%v", sessionID, err)
				return
			}
			snap = next
		}
	}()
	return ch, nil
}

func isTerminalStatus(status string) bool {
	return statemachine.IsTerminal(statemachine.SessionStatus(status))
}

// snapshotOf 从内存会话构造快照，调用方需持有读锁
func snapshotOf(session *Session) *Snapshot {
	snap := &Snapshot{
		SessionID:   session.SessionID,
		Status:      string(session.Status),
		Progress:    session.Progress,
		CurrentStep: session.CurrentStep,
	}
	if session.Result != nil {
		snap.Result = session.Result
	} else if session.FailureReason != "" {
		snap.Result = session.FailureReason
	}
	return snap
}

// Recent 返回最近的会诊持久化记录，与内存会话表无关
func (s *ConsultationService) Recent(limit int) ([]model.Consultation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListRecent(limit)
}

// ActiveSessions 当前内存中的会话数
func (s *ConsultationService) ActiveSessions() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.sessions)
}
