package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"

	"github.com/medconsult/backend/config"
	"github.com/medconsult/backend/internal/handler"
	"github.com/medconsult/backend/internal/pkg/database"
	"github.com/medconsult/backend/internal/pkg/llm"
	"github.com/medconsult/backend/internal/repository"
	"github.com/medconsult/backend/internal/router"
	"github.com/medconsult/backend/internal/service"
	"github.com/medconsult/backend/internal/service/orchestrator"
	"github.com/medconsult/backend/internal/service/progress"
)

func main() {
	// 初始化 klog
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	klog.V(6).Info("服务启动中...")

	cfg := config.GetConfig()

	if cfg.Database.Type != "mysql" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0755); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
	}

	// 初始化数据库
	db, err := database.InitDB(cfg.Database.Type, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	// 初始化 Repository
	consultationRepo := repository.NewConsultationRepository(db)
	statusRepo := repository.NewStatusCheckRepository(db)

	// 初始化会话执行池
	// 限制并发会诊数，避免打爆 LLM 配额
	pool, err := orchestrator.NewOrchestrator(cfg.Consult.MaxWorkers)
	if err != nil {
		log.Fatalf("Failed to initialize orchestrator: %v", err)
	}
	defer pool.Stop()

	// 初始化 Service
	sink := progress.NewSink()
	consultationService := service.NewConsultationService(cfg, consultationRepo, llm.NewFactory(cfg), sink, pool)
	statusService := service.NewStatusCheckService(statusRepo)

	// 初始化 Handler
	consultationHandler := handler.NewConsultationHandler(consultationService)
	statusHandler := handler.NewStatusCheckHandler(statusService)

	// 设置路由
	r := router.Setup(cfg, consultationHandler, statusHandler)

	log.Printf("Server starting on port %s...", cfg.Server.Port)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
