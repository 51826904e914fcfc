package consult

import "time"

// ExpertSpec 招募阶段产出的专家描述
// 招募完成后不再修改；Hierarchy 为自由文本的层级说明，不做结构化校验
type ExpertSpec struct {
	Role        string `json:"role"`
	Description string `json:"description"`
	Hierarchy   string `json:"hierarchy"`
}

// Result 一次会诊的完整结果
// RoundOpinions 以轮次编号（"1"、"2"、"3"）为键，值为 角色->意见 的映射
type Result struct {
	SessionID     string                       `json:"session_id"`
	Question      string                       `json:"question"`
	Experts       []ExpertSpec                 `json:"experts"`
	RoundOpinions map[string]map[string]string `json:"round_opinions"`
	FinalAnswers  map[string]string            `json:"final_answers"`
	Decision      string                       `json:"decision"`
	Duration      float64                      `json:"duration"`
	StartTime     string                       `json:"start_time,omitempty"`
	EndTime       string                       `json:"end_time,omitempty"`
}

// state 流水线各阶段之间传递的会话内部状态
// 阶段 N 写满自己的字段后阶段 N+1 才会读取，不存在部分写入可见的情形
type state struct {
	sessionID string
	question  string

	experts       []ExpertSpec
	agents        []*ExpertAgent
	roundOpinions map[string]map[string]string
	finalAnswers  map[string]string
	decision      string

	startTime time.Time
	endTime   time.Time
}
