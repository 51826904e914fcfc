package router

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/medconsult/backend/config"
	"github.com/medconsult/backend/internal/handler"
)

func Setup(
	cfg *config.Config,
	consultationHandler *handler.ConsultationHandler,
	statusHandler *handler.StatusCheckHandler,
) *gin.Engine {
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	// SSE 流式接口不能压缩，整体排除会诊路径
	r.Use(gzip.Gzip(gzip.BestCompression, gzip.WithExcludedPaths([]string{"/api/consultation"})))

	api := r.Group("/api")
	{
		api.GET("/", func(c *gin.Context) {
			c.JSON(200, gin.H{"message": "Multi-Agent Medical Consultation System"})
		})

		api.POST("/status", statusHandler.Create)
		api.GET("/status", statusHandler.List)

		api.GET("/consultations", consultationHandler.Recent)

		consultation := api.Group("/consultation")
		{
			consultation.POST("/start", consultationHandler.Start)
			consultation.GET("/:session_id/progress", consultationHandler.GetProgress)
			consultation.GET("/:session_id/stream", consultationHandler.Stream)
		}
	}

	return r
}
