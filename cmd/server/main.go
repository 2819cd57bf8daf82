// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"doc-chat-go/internal/config"
	"doc-chat-go/internal/handler"
	"doc-chat-go/internal/keypool"
	"doc-chat-go/internal/middleware"
	"doc-chat-go/internal/model"
	"doc-chat-go/internal/pipeline"
	"doc-chat-go/internal/repository"
	"doc-chat-go/internal/service"
	"doc-chat-go/internal/vectorstore"
	"doc-chat-go/pkg/database"
	"doc-chat-go/pkg/drive"
	"doc-chat-go/pkg/embedding"
	"doc-chat-go/pkg/es"
	"doc-chat-go/pkg/kafka"
	"doc-chat-go/pkg/llm"
	"doc-chat-go/pkg/log"
	"doc-chat-go/pkg/storage"
	"doc-chat-go/pkg/tika"
	"doc-chat-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化基础设施
	database.InitMySQL(cfg.Database.MySQL.DSN)
	if err := database.DB.AutoMigrate(&model.DriveFile{}); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)

	embeddingClient, err := embedding.NewClient(cfg.Embedding)
	if err != nil {
		log.Fatalf("Embedding 客户端初始化失败: %v", err)
	}
	if err := es.InitES(cfg.Elasticsearch, embeddingClient.Dimensions()); err != nil {
		log.Fatalf("Elasticsearch 初始化失败: %v", err)
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository 与客户端
	driveFileRepo := repository.NewDriveFileRepository(database.DB)
	tikaClient := tika.NewClient(cfg.Tika)
	llmClient := llm.NewClient(cfg.LLM)
	driveClient := drive.NewClient(cfg.Drive)
	ticketManager := token.NewTicketManager(cfg.JWT.Secret, cfg.JWT.TicketExpireMinutes)

	pool, err := keypool.New(
		cfg.LLM.APIKeys,
		time.Duration(cfg.LLM.KeyCooldownSeconds)*time.Second,
		time.Duration(cfg.LLM.SessionTTLMinutes)*time.Minute,
	)
	if err != nil {
		log.Fatalf("LLM 密钥池初始化失败: %v", err)
	}

	// 5. 初始化 Service (依赖注入)
	localIndex := vectorstore.NewHolder()
	driveStore := service.NewDriveStore(cfg.Elasticsearch, cfg.MinIO, driveFileRepo, cfg.Embedding.Model)
	retriever := service.NewRetriever(embeddingClient, localIndex, driveStore)
	llmTimeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second
	qaService := service.NewQAService(retriever, llmClient, pool, localIndex, cfg.RAG, llmTimeout)
	ingestService := service.NewIngestService(tikaClient, embeddingClient, localIndex, cfg.RAG)
	syncService := service.NewSyncService(driveClient, driveFileRepo, driveStore, kafka.ProduceSyncTask, cfg.Drive.FolderID)

	// 6. 初始化文件同步管道 (Processor) 并启动后台 Kafka 消费者
	processor := pipeline.NewProcessor(driveClient, tikaClient, embeddingClient, driveStore, cfg.MinIO, cfg.RAG)
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 7. 启动定时对账
	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	defer cancelScheduler()
	go syncService.StartScheduler(schedulerCtx, time.Duration(cfg.Drive.SyncIntervalMinutes)*time.Minute)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery(), middleware.CORS())

	// 9. 注册路由
	qaHandler := handler.NewQAHandler(qaService)
	uploadHandler := handler.NewUploadHandler(ingestService, qaService)
	driveHandler := handler.NewDriveHandler(syncService, driveFileRepo, cfg.MinIO)
	chatHandler := handler.NewChatHandler(qaService, ticketManager)

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"service": "doc-chat-go", "status": "ok"}})
	})

	apiV1 := r.Group("/api/v1")
	{
		apiV1.POST("/documents/upload", uploadHandler.Upload)
		apiV1.POST("/ask", qaHandler.Ask)

		driveGroup := apiV1.Group("/drive")
		{
			driveGroup.POST("/ask", qaHandler.AskDrive)
			driveGroup.GET("/status", driveHandler.Status)
			driveGroup.POST("/sync-now", driveHandler.SyncNow)
			driveGroup.GET("/files/:fileId/download", driveHandler.Download)
		}

		apiV1.GET("/llm/stats", qaHandler.KeyStats)

		chatGroup := apiV1.Group("/chat")
		{
			chatGroup.GET("/ticket", chatHandler.IssueTicket)
		}
	}
	r.GET("/chat/:ticket", chatHandler.Handle)

	// 10. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已退出")
}
