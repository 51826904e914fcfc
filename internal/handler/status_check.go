package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/medconsult/backend/internal/service"
)

// StatusCheckHandler 连通性检查Handler
type StatusCheckHandler struct {
	service *service.StatusCheckService
}

// NewStatusCheckHandler 创建Handler
func NewStatusCheckHandler(svc *service.StatusCheckService) *StatusCheckHandler {
	return &StatusCheckHandler{service: svc}
}

// CreateRequest 创建检查记录请求
type CreateRequest struct {
	ClientName string `json:"client_name" binding:"required"`
}

// Create 记录一次连通性检查
// POST /api/status
func (h *StatusCheckHandler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	check, err := h.service.Create(req.ClientName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, check)
}

// List 列出检查记录
// GET /api/status
func (h *StatusCheckHandler) List(c *gin.Context) {
	checks, err := h.service.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, checks)
}
