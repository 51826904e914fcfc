package repository

import (
	"errors"
	"time"

	"github.com/medconsult/backend/internal/model"
	"gorm.io/gorm"
)

// consultationRepository 实现
type consultationRepository struct {
	db *gorm.DB
}

// NewConsultationRepository 创建Repository实例
func NewConsultationRepository(db *gorm.DB) ConsultationRepository {
	return &consultationRepository{db: db}
}

// Create 创建会诊记录
func (r *consultationRepository) Create(c *model.Consultation) error {
	return r.db.Create(c).Error
}

// GetBySessionID 根据会话ID获取会诊记录
func (r *consultationRepository) GetBySessionID(sessionID string) (*model.Consultation, error) {
	var c model.Consultation
	if err := r.db.Where("session_id = ?", sessionID).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// UpdateProgress 更新进度与当前步骤
func (r *consultationRepository) UpdateProgress(sessionID string, progress float64, step string) error {
	return r.db.Model(&model.Consultation{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"progress":     progress,
			"current_step": step,
			"status":       "running",
		}).Error
}

// Complete 标记完成并写入最终结果
func (r *consultationRepository) Complete(sessionID string, result string, endedAt time.Time) error {
	return r.db.Model(&model.Consultation{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"status":   "completed",
			"progress": 100.0,
			"result":   result,
			"ended_at": endedAt,
		}).Error
}

// Fail 标记失败并写入失败原因
func (r *consultationRepository) Fail(sessionID string, result string, endedAt time.Time) error {
	return r.db.Model(&model.Consultation{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"status":   "failed",
			"result":   result,
			"ended_at": endedAt,
		}).Error
}

// ListRecent 获取最近的会诊记录
func (r *consultationRepository) ListRecent(limit int) ([]model.Consultation, error) {
	var out []model.Consultation
	if err := r.db.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
