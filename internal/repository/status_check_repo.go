package repository

import (
	"github.com/medconsult/backend/internal/model"
	"gorm.io/gorm"
)

type statusCheckRepository struct {
	db *gorm.DB
}

// NewStatusCheckRepository 创建Repository实例
func NewStatusCheckRepository(db *gorm.DB) StatusCheckRepository {
	return &statusCheckRepository{db: db}
}

// Create 创建检查记录
func (r *statusCheckRepository) Create(check *model.StatusCheck) error {
	return r.db.Create(check).Error
}

// List 按时间倒序列出检查记录
func (r *statusCheckRepository) List(limit int) ([]model.StatusCheck, error) {
	var out []model.StatusCheck
	if err := r.db.Order("created_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
