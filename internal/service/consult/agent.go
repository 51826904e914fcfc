package consult

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"k8s.io/klog/v2"

	"github.com/medconsult/backend/internal/pkg/llm"
)

// ExpertAgent 单个专家角色的对话封装
// 持有该角色的完整消息历史；首次对话时注入一条 system 消息。
// 同一时刻只有一个阶段会驱动同一个专家，历史无需加锁。
type ExpertAgent struct {
	Role        string
	instruction string
	client      llm.ChatClient
	history     []*schema.Message
}

// NewExpertAgent 创建专家对话对象，历史为空
func NewExpertAgent(role, instruction string, client llm.ChatClient) *ExpertAgent {
	return &ExpertAgent{
		Role:        role,
		instruction: instruction,
		client:      client,
	}
}

// Converse 追加一条用户消息并调用 LLM 获取回复
// 成功时把用户消息与回复写入历史并返回回复文本；
// 失败时返回错误且不修改历史，由调用方决定占位文案。
func (a *ExpertAgent) Converse(ctx context.Context, message string) (string, error) {
	attempt := make([]*schema.Message, 0, len(a.history)+2)
	if len(a.history) == 0 {
		attempt = append(attempt, schema.SystemMessage(
			fmt.Sprintf("You are a %s.\nInstructions: %s", a.Role, a.instruction)))
	} else {
		attempt = append(attempt, a.history...)
	}
	attempt = append(attempt, schema.UserMessage(message))

	reply, err := a.client.Generate(ctx, attempt)
	if err != nil {
		klog.Errorf("专家对话失败: role=%s, err=%v", a.Role, err)
		return "", fmt.Errorf("expert %s: %w", a.Role, err)
	}

	a.history = append(attempt, schema.AssistantMessage(reply, nil))
	return reply, nil
}

// HistoryLen 当前历史消息条数
func (a *ExpertAgent) HistoryLen() int {
	return len(a.history)
}
