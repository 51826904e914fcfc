package consult

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/medconsult/backend/internal/pkg/llm"
)

// ProgressFunc 阶段进度回调
type ProgressFunc func(progress float64, step string)

// 生成最终结论失败时的兜底文案，决策字段永远非空
const fallbackDecision = "由于系统问题，无法生成最终结论"

// Pipeline 按固定顺序执行会诊五个阶段：
// 招募 -> 初始化 -> 意见收集（三轮） -> 专家总结 -> 主持人结论。
// 单次 LLM 调用的失败被隔离为对应条目的占位文案，不会中断流水线。
type Pipeline struct {
	client      llm.ChatClient
	expertCount int
	rounds      int
	progress    ProgressFunc
}

// NewPipeline 创建流水线
// progress 可为 nil，表示不上报进度
func NewPipeline(client llm.ChatClient, expertCount, rounds int, progress ProgressFunc) *Pipeline {
	if expertCount <= 0 {
		expertCount = 5
	}
	if rounds <= 0 {
		rounds = 3
	}
	if progress == nil {
		progress = func(float64, string) {}
	}
	return &Pipeline{
		client:      client,
		expertCount: expertCount,
		rounds:      rounds,
		progress:    progress,
	}
}

// Run 执行一次完整会诊
// 正常情况下总是返回非空结果；仅当出现阶段隔离之外的意外故障
// （如内部状态维护 panic）时返回错误，此时会话应标记为失败。
func (p *Pipeline) Run(ctx context.Context, sessionID, question string) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("会诊流水线异常: sessionID=%s, err=%v", sessionID, r)
			result = nil
			err = fmt.Errorf("consultation executor fault: %v", r)
		}
	}()

	st := &state{
		sessionID: sessionID,
		question:  question,
		startTime: time.Now(),
	}

	p.recruit(ctx, st)
	p.initAgents(st)
	p.collectOpinions(ctx, st)
	p.finalizePerAgent(ctx, st)
	p.finalizeDecision(ctx, st)

	return p.buildResult(st), nil
}

// recruit 阶段一：组建专家团队
// 招募失败降级为空专家列表，后续阶段产出空集合而非报错
func (p *Pipeline) recruit(ctx context.Context, st *state) {
	p.progress(10.0, "正在组建AI专家团队...")

	experts, err := RecruitExperts(ctx, p.client, st.question, p.expertCount)
	if err != nil {
		klog.Errorf("专家招募失败: sessionID=%s, err=%v", st.sessionID, err)
		st.experts = []ExpertSpec{}
	} else {
		st.experts = experts
	}

	p.progress(25.0, "专家团队组建完毕，正在初始化...")
}

// initAgents 阶段二：按专家描述初始化对话对象
// 纯内存变换，无外部调用；角色名在会话内唯一，重复角色丢弃后者
func (p *Pipeline) initAgents(st *state) {
	p.progress(30.0, "正在初始化专家...")

	seen := make(map[string]bool, len(st.experts))
	agents := make([]*ExpertAgent, 0, len(st.experts))
	for _, spec := range st.experts {
		if seen[spec.Role] {
			klog.Warningf("重复的专家角色，已跳过: sessionID=%s, role=%s", st.sessionID, spec.Role)
			continue
		}
		seen[spec.Role] = true
		instruction := fmt.Sprintf("You are a %s who %s. Please respond in Chinese.", spec.Role, spec.Description)
		agents = append(agents, NewExpertAgent(spec.Role, instruction, p.client))
	}
	st.agents = agents

	p.progress(35.0, "专家初始化完成，开始收集意见...")
}

// collectOpinions 阶段三：固定轮数的意见交换
// 轮与轮之间严格串行；同一轮内各专家互不依赖，并发发起。
// 第 r 轮（r>1）的提问会把第 r-1 轮所有专家的意见（含占位文案）原样汇入。
func (p *Pipeline) collectOpinions(ctx context.Context, st *state) {
	st.roundOpinions = make(map[string]map[string]string, p.rounds)
	for r := 1; r <= p.rounds; r++ {
		st.roundOpinions[strconv.Itoa(r)] = make(map[string]string, len(st.agents))
	}

	for r := 1; r <= p.rounds; r++ {
		p.progress(roundProgress(r), roundStep(r, p.rounds))

		var assessment string
		if r > 1 {
			prev := st.roundOpinions[strconv.Itoa(r-1)]
			if len(prev) == 0 {
				continue
			}
			assessment = poolOpinions(st.agents, prev)
		}

		prompt := p.roundPrompt(r, st.question, assessment)
		opinions := st.roundOpinions[strconv.Itoa(r)]

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, agent := range st.agents {
			agent := agent
			wg.Add(1)
			go func() {
				defer wg.Done()
				reply := p.converseIsolated(ctx, agent, prompt, func() string {
					return roundPlaceholder(agent.Role, r, p.rounds)
				})
				mu.Lock()
				opinions[agent.Role] = reply
				mu.Unlock()
			}()
		}
		wg.Wait()
	}
}

// finalizePerAgent 阶段四：每位专家结合讨论给出个人最终答案
func (p *Pipeline) finalizePerAgent(ctx context.Context, st *state) {
	p.progress(80.0, "正在汇总各专家最终意见...")

	st.finalAnswers = make(map[string]string, len(st.agents))
	prompt := fmt.Sprintf(
		"现在您已经与其他医疗专家进行了讨论，请结合您的专业知识和其他专家的意见，对以下问题给出最终答案：\n%s\n\n请用中文回答，包含诊断和建议：",
		st.question)

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, agent := range st.agents {
		agent := agent
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply := p.converseIsolated(ctx, agent, prompt, func() string {
				return fmt.Sprintf("专家 %s 无法提供最终意见", agent.Role)
			})
			mu.Lock()
			st.finalAnswers[agent.Role] = reply
			mu.Unlock()
		}()
	}
	wg.Wait()
}

// finalizeDecision 阶段五：一次性的主持人角色汇总出最终结论
// 主持人不属于专家团队，使用独立的空白历史
func (p *Pipeline) finalizeDecision(ctx context.Context, st *state) {
	p.progress(90.0, "正在生成最终会诊结论...")

	summary := poolOpinions(st.agents, st.finalAnswers)
	moderator := NewExpertAgent("主持人",
		"You are a final medical decision maker who reviews all opinions from different medical experts and makes final decision. Please respond in Chinese.",
		p.client)

	prompt := fmt.Sprintf(
		"根据各位专家的最终意见，请综合分析并给出最终的医疗会诊结论。您的答案应该包含诊断结论、诊断依据、建议检查、治疗建议和注意事项。\n\n各专家意见：\n%s\n\n问题：%s\n\n请用中文给出详细的最终结论：",
		summary, st.question)

	decision, err := moderator.Converse(ctx, prompt)
	if err != nil || decision == "" {
		klog.Errorf("最终结论生成失败: sessionID=%s, err=%v", st.sessionID, err)
		decision = fallbackDecision
	}
	st.decision = decision
	st.endTime = time.Now()

	p.progress(100.0, "会诊完成！")
}

// converseIsolated 在独立协程中驱动单个专家的一次对话
// 错误与 panic 都收敛为该条目的占位文案，不影响其他专家
func (p *Pipeline) converseIsolated(ctx context.Context, agent *ExpertAgent, prompt string, placeholder func() string) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("专家对话 panic: role=%s, err=%v", agent.Role, r)
			reply = placeholder()
		}
	}()

	reply, err := agent.Converse(ctx, prompt)
	if err != nil {
		reply = placeholder()
	}
	return reply
}

func (p *Pipeline) buildResult(st *state) *Result {
	return &Result{
		SessionID:     st.sessionID,
		Question:      st.question,
		Experts:       st.experts,
		RoundOpinions: st.roundOpinions,
		FinalAnswers:  st.finalAnswers,
		Decision:      st.decision,
		Duration:      st.endTime.Sub(st.startTime).Seconds(),
		StartTime:     st.startTime.Format(time.RFC3339),
		EndTime:       st.endTime.Format(time.RFC3339),
	}
}

// roundPrompt 构造第 r 轮的提问
func (p *Pipeline) roundPrompt(r int, question, assessment string) string {
	switch {
	case r == 1:
		return fmt.Sprintf("根据医疗问题，请给出您的专业意见和初步诊断。\n\n问题: %s\n\n请用中文回答，格式如下：\n\n诊断意见：", question)
	case r == p.rounds:
		return fmt.Sprintf("基于前两轮讨论，请提供您的最终分析意见。\n\n讨论总结：\n%s\n\n请用中文回答：", assessment)
	default:
		return fmt.Sprintf("请基于其他专家的意见，提供您的进一步分析和建议。\n\n其他专家意见：\n%s\n\n请用中文回答：", assessment)
	}
}

// poolOpinions 按专家顺序把 角色: 意见 逐行拼接
// 占位文案同样会被汇入，保证后续轮次看到完整的上一轮集合
func poolOpinions(agents []*ExpertAgent, opinions map[string]string) string {
	lines := make([]string, 0, len(opinions))
	seen := make(map[string]bool, len(opinions))
	for _, agent := range agents {
		if opinion, ok := opinions[agent.Role]; ok {
			lines = append(lines, fmt.Sprintf("%s: %s", agent.Role, opinion))
			seen[agent.Role] = true
		}
	}
	// 兜底：不在当前专家列表中的角色也不丢弃
	rest := make([]string, 0)
	for role, opinion := range opinions {
		if !seen[role] {
			rest = append(rest, fmt.Sprintf("%s: %s", role, opinion))
		}
	}
	sort.Strings(rest)
	lines = append(lines, rest...)

	out := ""
	for i, line := range lines {
		if i > 0 {
			out += "\n"
		}
		out += line
	}
	return out
}

// roundProgress 各轮的进度检查点
func roundProgress(r int) float64 {
	switch r {
	case 1:
		return 40.0
	case 2:
		return 60.0
	default:
		return 70.0
	}
}

// roundStep 各轮的进度文案
func roundStep(r, rounds int) string {
	switch {
	case r == 1:
		return "专家们正在进行第一轮意见收集..."
	case r == rounds:
		return "专家们正在进行最终讨论..."
	default:
		return "专家们正在进行第二轮讨论..."
	}
}

// roundPlaceholder 单个专家单轮失败时的占位文案
func roundPlaceholder(role string, r, rounds int) string {
	switch {
	case r == 1:
		return fmt.Sprintf("专家 %s 暂时无法提供意见", role)
	case r == rounds:
		return fmt.Sprintf("专家 %s 在最终讨论中无法提供意见", role)
	default:
		return fmt.Sprintf("专家 %s 在第二轮讨论中无法提供意见", role)
	}
}
