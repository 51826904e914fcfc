package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/medconsult/backend/internal/service"
)

// ConsultationHandler 会诊接口Handler
type ConsultationHandler struct {
	service *service.ConsultationService
}

// NewConsultationHandler 创建Handler
func NewConsultationHandler(svc *service.ConsultationService) *ConsultationHandler {
	return &ConsultationHandler{service: svc}
}

// StartRequest 启动会诊请求
type StartRequest struct {
	Question string `json:"question" binding:"required"`
	Model    string `json:"model"`
}

// Start 启动会诊
// POST /api/consultation/start
func (h *ConsultationHandler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID, err := h.service.Start(req.Question, req.Model)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"status":     "started",
	})
}

// Recent 列出最近的会诊记录
// GET /api/consultations
func (h *ConsultationHandler) Recent(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	records, err := h.service.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, records)
}

// GetProgress 查询会诊进度
// GET /api/consultation/:session_id/progress
func (h *ConsultationHandler) GetProgress(c *gin.Context) {
	sessionID := c.Param("session_id")

	snap, err := h.service.GetProgress(sessionID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, snap)
}

// Stream 以 SSE 推送会诊进度，终态后结束
// GET /api/consultation/:session_id/stream
func (h *ConsultationHandler) Stream(c *gin.Context) {
	sessionID := c.Param("session_id")
	ctx := c.Request.Context()

	stream, err := h.service.StreamProgress(ctx, sessionID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			// 未知会话：推送单个错误事件后结束
			c.Writer.Header().Set("Content-Type", "text/event-stream")
			c.Writer.Header().Set("Cache-Control", "no-cache")
			c.SSEvent("message", gin.H{"error": "session not found"})
			c.Writer.Flush()
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// 设置响应头
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-stream:
			if !ok {
				return
			}
			klog.V(6).Infof("推送进度: sessionID=%s, progress=%.1f", sessionID, snap.Progress)
			c.SSEvent("message", snap)
			c.Writer.Flush()
		}
	}
}
