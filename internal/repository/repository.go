package repository

import (
	"errors"
	"time"

	"github.com/medconsult/backend/internal/model"
)

// ErrNotFound 记录不存在错误
var ErrNotFound = errors.New("record not found")

// ConsultationRepository 会诊记录存储接口
type ConsultationRepository interface {
	Create(c *model.Consultation) error
	GetBySessionID(sessionID string) (*model.Consultation, error)
	UpdateProgress(sessionID string, progress float64, step string) error
	Complete(sessionID string, result string, endedAt time.Time) error
	Fail(sessionID string, result string, endedAt time.Time) error
	ListRecent(limit int) ([]model.Consultation, error)
}

// StatusCheckRepository 连通性检查记录存储接口
type StatusCheckRepository interface {
	Create(check *model.StatusCheck) error
	List(limit int) ([]model.StatusCheck, error)
}
