package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medconsult/backend/internal/model"
	"github.com/medconsult/backend/internal/repository"
)

// StatusCheckService 客户端连通性检查
type StatusCheckService struct {
	repo repository.StatusCheckRepository
}

// NewStatusCheckService 创建服务
func NewStatusCheckService(repo repository.StatusCheckRepository) *StatusCheckService {
	return &StatusCheckService{repo: repo}
}

// Create 记录一次连通性检查
func (s *StatusCheckService) Create(clientName string) (*model.StatusCheck, error) {
	check := &model.StatusCheck{
		CheckID:    uuid.New().String(),
		ClientName: clientName,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.repo.Create(check); err != nil {
		return nil, fmt.Errorf("create status check: %w", err)
	}
	return check, nil
}

// List 返回最近的检查记录
func (s *StatusCheckService) List() ([]model.StatusCheck, error) {
	return s.repo.List(1000)
}
