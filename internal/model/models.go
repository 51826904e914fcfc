package model

import (
	"time"
)

// Consultation 一次多专家会诊的持久化记录
// SessionID 为对外暴露的会话标识，Result 存放最终结果的 JSON 文本
type Consultation struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	SessionID   string     `json:"session_id" gorm:"size:64;uniqueIndex;not null"`
	Question    string     `json:"question" gorm:"type:text;not null"`
	Model       string     `json:"model" gorm:"size:100"`
	Status      string     `json:"status" gorm:"size:50;default:pending"` // pending, running, completed, failed
	Progress    float64    `json:"progress" gorm:"default:0"`             // 0-100
	CurrentStep string     `json:"current_step" gorm:"size:255"`
	Result      string     `json:"result" gorm:"type:text"`
	StartedAt   *time.Time `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// StatusCheck 客户端连通性检查记录
type StatusCheck struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	CheckID    string    `json:"check_id" gorm:"size:64;uniqueIndex;not null"`
	ClientName string    `json:"client_name" gorm:"size:255;not null"`
	Timestamp  time.Time `json:"timestamp"`
	CreatedAt  time.Time `json:"created_at"`
}
