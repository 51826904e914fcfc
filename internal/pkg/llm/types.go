package llm

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// ChatClient 对话客户端接口
// 会诊流程对 LLM 的全部依赖都通过该接口进行，便于测试时替换
type ChatClient interface {
	// Generate 基于完整的消息历史生成一条回复文本
	Generate(ctx context.Context, messages []*schema.Message) (string, error)
}

// ClientFactory 按模型名创建 ChatClient
// 每次会诊可指定不同的模型
type ClientFactory func(modelName string) (ChatClient, error)
