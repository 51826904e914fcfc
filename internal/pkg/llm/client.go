package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"k8s.io/klog/v2"

	"github.com/medconsult/backend/config"
)

// Client 基于 Eino OpenAI ChatModel 的对话客户端
// 单次调用带超时，超时视为该次调用失败
type Client struct {
	chatModel model.ToolCallingChatModel
	timeout   time.Duration
}

// NewClient 创建对话客户端
// modelName 为空时使用配置中的默认模型
func NewClient(cfg *config.Config, modelName string) (*Client, error) {
	if modelName == "" {
		modelName = cfg.LLM.Model
	}

	klog.V(6).Infof("创建 OpenAI ChatModel: model=%s, baseURL=%s", modelName, cfg.LLM.APIURL)

	mc := &openai.ChatModelConfig{
		APIKey: cfg.LLM.APIKey,
		Model:  modelName,
	}
	if cfg.LLM.APIURL != "" {
		mc.BaseURL = cfg.LLM.APIURL
	}
	if cfg.LLM.MaxTokens > 0 {
		maxTokens := cfg.LLM.MaxTokens
		mc.MaxTokens = &maxTokens
	}

	chatModel, err := openai.NewChatModel(context.Background(), mc)
	if err != nil {
		klog.Errorf("创建 ChatModel 失败: %v", err)
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	timeout := cfg.LLM.CallTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Client{chatModel: chatModel, timeout: timeout}, nil
}

// Generate 生成回复
func (c *Client) Generate(ctx context.Context, messages []*schema.Message) (string, error) {
	klog.V(6).Infof("LLM 请求: messageCount=%d", len(messages))

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.chatModel.Generate(callCtx, messages)
	if err != nil {
		klog.Errorf("LLM 请求失败: %v", err)
		return "", err
	}

	klog.V(6).Infof("LLM 响应: contentLength=%d", len(resp.Content))
	return resp.Content, nil
}

// NewFactory 创建按模型名构造客户端的工厂
func NewFactory(cfg *config.Config) ClientFactory {
	return func(modelName string) (ChatClient, error) {
		return NewClient(cfg, modelName)
	}
}
