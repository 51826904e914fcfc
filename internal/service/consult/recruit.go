package consult

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"k8s.io/klog/v2"

	"github.com/medconsult/backend/internal/pkg/llm"
)

const recruitSystemInstruction = "You are an experienced medical expert who recruits a group of experts with diverse identities and asks them to discuss and solve the given medical query. " +
	"Please respond in Chinese for role names and descriptions."

// expertPlan 招募阶段要求 LLM 返回的 JSON 结构
type expertPlan struct {
	Agents []ExpertSpec `json:"agents"`
}

// RecruitExperts 请求 LLM 组建专家团队
// 返回的专家列表可直接用于初始化阶段；输出无法解析时返回错误，
// 由调用方降级为空专家列表。
func RecruitExperts(ctx context.Context, client llm.ChatClient, question string, expertCount int) ([]ExpertSpec, error) {
	prompt := fmt.Sprintf(
		"Question: %s\n\n"+
			"You can recruit %d experts in different medical expertise. "+
			"Considering the medical question, what kind of experts will you recruit to better make an accurate answer?\n"+
			"Also, you need to specify the communication structure between experts (e.g., 呼吸科专家 == 儿科专家 == 心脏科专家 > 全科医生), or indicate if they are independent.\n\n"+
			"Respond with strict JSON only, in the following format:\n"+
			"{\n"+
			"  \"agents\": [\n"+
			"    {\"role\": \"儿科医生\", \"description\": \"专门从事婴幼儿、儿童和青少年的医疗保健工作\", \"hierarchy\": \"Independent\"},\n"+
			"    {\"role\": \"心脏科专家\", \"description\": \"专注于心脏和血管相关疾病的诊断和治疗\", \"hierarchy\": \"儿科医生 > 心脏科专家\"}\n"+
			"  ]\n"+
			"}\n\n"+
			"Use Chinese role names and descriptions, return exactly %d agents, and do not include your reason.",
		question, expertCount, expertCount)

	messages := []*schema.Message{
		schema.SystemMessage(recruitSystemInstruction),
		schema.UserMessage(prompt),
	}

	content, err := client.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("recruitment call: %w", err)
	}

	var plan expertPlan
	if err := json.Unmarshal([]byte(extractJSON(content)), &plan); err != nil {
		klog.Warningf("招募结果解析失败: err=%v, contentLength=%d", err, len(content))
		return nil, fmt.Errorf("parse recruitment plan: %w", err)
	}

	experts := make([]ExpertSpec, 0, len(plan.Agents))
	for _, a := range plan.Agents {
		if a.Role == "" {
			continue
		}
		experts = append(experts, a)
	}
	if len(experts) == 0 {
		return nil, fmt.Errorf("recruitment plan contains no experts")
	}

	klog.V(6).Infof("招募完成: experts=%d", len(experts))
	return experts, nil
}

// extractJSON 从 LLM 回复中提取第一个配平的 JSON 对象
// 回复可能包裹 Markdown 代码块或附带说明文字
func extractJSON(content string) string {
	start := -1
	end := -1
	depth := 0

	for i, ch := range content {
		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if ch == '}' {
			depth--
			if depth == 0 && start != -1 {
				end = i + 1
				break
			}
		}
	}

	if start >= 0 && end > start {
		return content[start:end]
	}

	return content
}
