package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/medconsult/backend/config"
	"github.com/medconsult/backend/internal/model"
	"github.com/medconsult/backend/internal/pkg/llm"
	"github.com/medconsult/backend/internal/repository"
	"github.com/medconsult/backend/internal/service/progress"
)

// mockConsultationRepo 内存实现，记录全部持久化调用
type mockConsultationRepo struct {
	mu      sync.Mutex
	records map[string]*model.Consultation
}

func newMockConsultationRepo() *mockConsultationRepo {
	return &mockConsultationRepo{records: make(map[string]*model.Consultation)}
}

// Create 创建会诊记录
func (m *mockConsultationRepo) Create(c *model.Consultation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *c
	m.records[c.SessionID] = &copied
	return nil
}

// GetBySessionID 获取会诊记录
func (m *mockConsultationRepo) GetBySessionID(sessionID string) (*model.Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.records[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

// UpdateProgress 更新进度
func (m *mockConsultationRepo) UpdateProgress(sessionID string, p float64, step string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.records[sessionID]; ok {
		c.Progress = p
		c.CurrentStep = step
		c.Status = "running"
	}
	return nil
}

// Complete 标记完成
func (m *mockConsultationRepo) Complete(sessionID string, result string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.records[sessionID]; ok {
		c.Status = "completed"
		c.Progress = 100.0
		c.Result = result
		c.EndedAt = &endedAt
	}
	return nil
}

// Fail 标记失败
func (m *mockConsultationRepo) Fail(sessionID string, result string, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.records[sessionID]; ok {
		c.Status = "failed"
		c.Result = result
		c.EndedAt = &endedAt
	}
	return nil
}

// ListRecent 列出最近记录
func (m *mockConsultationRepo) ListRecent(limit int) ([]model.Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Consultation
	for _, c := range m.records {
		out = append(out, *c)
	}
	return out, nil
}

// scriptedChat 脚本化对话客户端
type scriptedChat struct {
	respond func(messages []*schema.Message) (string, error)
}

func (s *scriptedChat) Generate(ctx context.Context, messages []*schema.Message) (string, error) {
	return s.respond(messages)
}

// happyFactory 全链路正常响应的客户端工厂
func happyFactory() llm.ClientFactory {
	return func(modelName string) (llm.ChatClient, error) {
		return &scriptedChat{respond: func(messages []*schema.Message) (string, error) {
			system := ""
			for _, m := range messages {
				if m.Role == schema.System {
					system = m.Content
					break
				}
			}
			if strings.Contains(system, "recruits a group of experts") {
				return `{"agents":[
					{"role":"儿科医生","description":"儿童医疗","hierarchy":"Independent"},
					{"role":"呼吸科专家","description":"呼吸系统疾病","hierarchy":"Independent"},
					{"role":"心脏科专家","description":"心血管疾病","hierarchy":"Independent"},
					{"role":"感染科专家","description":"感染性疾病","hierarchy":"Independent"},
					{"role":"影像科专家","description":"医学影像诊断","hierarchy":"Independent"}
				]}`, nil
			}
			if strings.Contains(system, "final medical decision maker") {
				return "诊断结论：考虑咳嗽变异性哮喘。建议检查：肺功能。", nil
			}
			return "专业意见", nil
		}}, nil
	}
}

// goSubmitter 直接用协程执行的提交器
type goSubmitter struct{}

func (goSubmitter) Submit(fn func()) error {
	go fn()
	return nil
}

// failSubmitter 总是拒绝提交
type failSubmitter struct{}

func (failSubmitter) Submit(fn func()) error {
	return errors.New("pool closed")
}

func testConfig() *config.Config {
	return &config.Config{
		LLM: config.LLMConfig{Model: "gpt-4o-mini"},
		Consult: config.ConsultConfig{
			ExpertCount:  5,
			Rounds:       3,
			Retention:    200 * time.Millisecond,
			PollInterval: 10 * time.Millisecond,
		},
	}
}

// waitForStatus 轮询直到会话进入目标状态
func waitForStatus(t *testing.T, svc *ConsultationService, sessionID, want string) *Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := svc.GetProgress(sessionID)
		if err != nil {
			t.Fatalf("GetProgress error: %v", err)
		}
		if snap.Status == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session %s never reached status %s", sessionID, want)
	return nil
}

func TestConsultationEndToEnd(t *testing.T) {
	repo := newMockConsultationRepo()
	svc := NewConsultationService(testConfig(), repo, happyFactory(), progress.NewSink(), goSubmitter{})

	sessionID, err := svc.Start("3岁男孩反复咳嗽2个月，夜间加重，运动后气促", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if sessionID == "" {
		t.Fatalf("expected non-empty session id")
	}

	snap := waitForStatus(t, svc, sessionID, "completed")
	if snap.Progress != 100.0 {
		t.Fatalf("expected progress 100, got %v", snap.Progress)
	}

	if snap.Result == nil {
		t.Fatalf("expected result in snapshot")
	}

	// 持久化副本也应是终态
	record, err := repo.GetBySessionID(sessionID)
	if err != nil {
		t.Fatalf("GetBySessionID error: %v", err)
	}
	if record.Status != "completed" || record.Result == "" {
		t.Fatalf("unexpected persisted record: status=%s", record.Status)
	}
	for _, want := range []string{`"round_opinions"`, `"final_answers"`, `"decision"`, "儿科医生"} {
		if !strings.Contains(record.Result, want) {
			t.Fatalf("persisted result missing %s", want)
		}
	}
}

func TestConsultationProgressMonotonic(t *testing.T) {
	repo := newMockConsultationRepo()
	svc := NewConsultationService(testConfig(), repo, happyFactory(), progress.NewSink(), goSubmitter{})

	sessionID, err := svc.Start("问题", "")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := svc.StreamProgress(ctx, sessionID)
	if err != nil {
		t.Fatalf("StreamProgress error: %v", err)
	}

	last := -1.0
	final := Snapshot{}
	for snap := range stream {
		if snap.Progress < last {
			t.Fatalf("progress decreased: %v after %v", snap.Progress, last)
		}
		last = snap.Progress
		final = snap
	}
	if final.Status != "completed" {
		t.Fatalf("expected stream to end on completed, got %s", final.Status)
	}
	if final.Progress != 100.0 {
		t.Fatalf("expected final progress 100, got %v", final.Progress)
	}
}

func TestConsultationStartReturnsBeforeCompletion(t *testing.T) {
	repo := newMockConsultationRepo()

	release := make(chan struct{})
	factory := func(modelName string) (llm.ChatClient, error) {
		return &scriptedChat{respond: func(messages []*schema.Message) (string, error) {
			<-release
			return "慢响应", nil
		}}, nil
	}

	svc := NewConsultationService(testConfig(), repo, factory, progress.NewSink(), goSubmitter{})
	sessionID, err := svc.Start("问题", "")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	snap, err := svc.GetProgress(sessionID)
	if err != nil {
		t.Fatalf("GetProgress error: %v", err)
	}
	if snap.Status != "pending" && snap.Status != "running" {
		t.Fatalf("expected pending/running right after start, got %s", snap.Status)
	}
	if snap.Progress >= 100.0 {
		t.Fatalf("expected progress < 100 right after start, got %v", snap.Progress)
	}

	close(release)
	waitForStatus(t, svc, sessionID, "completed")
}

func TestConsultationUnknownSession(t *testing.T) {
	svc := NewConsultationService(testConfig(), newMockConsultationRepo(), happyFactory(), progress.NewSink(), goSubmitter{})

	if _, err := svc.GetProgress("does-not-exist"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := svc.StreamProgress(context.Background(), "does-not-exist"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound from stream, got %v", err)
	}
}

func TestConsultationEmptyQuestion(t *testing.T) {
	svc := NewConsultationService(testConfig(), newMockConsultationRepo(), happyFactory(), progress.NewSink(), goSubmitter{})

	if _, err := svc.Start("", ""); !errors.Is(err, ErrEmptyQuestion) {
		t.Fatalf("expected ErrEmptyQuestion, got %v", err)
	}
}

func TestConsultationSubmitFailureMarksFailed(t *testing.T) {
	repo := newMockConsultationRepo()
	svc := NewConsultationService(testConfig(), repo, happyFactory(), progress.NewSink(), failSubmitter{})

	sessionID, err := svc.Start("问题", "")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}

	snap := waitForStatus(t, svc, sessionID, "failed")
	if snap.Result == nil {
		t.Fatalf("expected failure reason as result")
	}
}

func TestConsultationRetentionEvictsMemoryNotStore(t *testing.T) {
	repo := newMockConsultationRepo()
	sink := progress.NewSink()
	svc := NewConsultationService(testConfig(), repo, happyFactory(), sink, goSubmitter{})

	sessionID, err := svc.Start("问题", "")
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitForStatus(t, svc, sessionID, "completed")

	// 保留窗口过后内存记录被回收，回调被注销
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if svc.ActiveSessions() == 0 && sink.Len() == 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if svc.ActiveSessions() != 0 || sink.Len() != 0 {
		t.Fatalf("expected eviction after retention window")
	}

	// 存储副本仍可查
	snap, err := svc.GetProgress(sessionID)
	if err != nil {
		t.Fatalf("GetProgress after eviction error: %v", err)
	}
	if snap.Status != "completed" || snap.Result == nil {
		t.Fatalf("expected persisted snapshot after eviction: %+v", snap)
	}
}

func TestConsultationConcurrentSessionsIsolated(t *testing.T) {
	repo := newMockConsultationRepo()
	svc := NewConsultationService(testConfig(), repo, happyFactory(), progress.NewSink(), goSubmitter{})

	idA, err := svc.Start("问题A", "")
	if err != nil {
		t.Fatalf("Start A error: %v", err)
	}
	idB, err := svc.Start("问题B", "")
	if err != nil {
		t.Fatalf("Start B error: %v", err)
	}
	if idA == idB {
		t.Fatalf("expected distinct session ids")
	}

	waitForStatus(t, svc, idA, "completed")
	waitForStatus(t, svc, idB, "completed")

	recA, _ := repo.GetBySessionID(idA)
	recB, _ := repo.GetBySessionID(idB)
	if !strings.Contains(recA.Result, "问题A") || !strings.Contains(recB.Result, "问题B") {
		t.Fatalf("expected each result to carry its own question")
	}
}
