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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"buddychat-go/internal/config"
	"buddychat-go/internal/handler"
	"buddychat-go/internal/middleware"
	"buddychat-go/internal/model"
	"buddychat-go/internal/repository"
	"buddychat-go/internal/service"
	"buddychat-go/pkg/database"
	"buddychat-go/pkg/kafka"
	"buddychat-go/pkg/llm"
	"buddychat-go/pkg/log"
	"buddychat-go/pkg/metrics"
	"buddychat-go/pkg/relay"
	"buddychat-go/pkg/storage"
	"buddychat-go/pkg/token"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化持久化底座
	kv := newKVRepository(cfg.Storage, cfg.Database)

	// 4. 初始化中继与会话 (依赖注入)
	registry := llm.NewRegistry(cfg.LLM)
	relayService := service.NewRelayService(registry, cfg.LLM)
	// 中继客户端的超时要比上游超时略长，让中继先返回 504
	relayTimeout := time.Duration(cfg.LLM.TimeoutSeconds)*time.Second + 15*time.Second
	relayClient := relay.NewClient(cfg.Relay.BaseURL, relayTimeout)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	sessions := service.NewSessionService(kv, service.SessionConfig{
		Namespace:   cfg.Storage.Namespace,
		QuotaBytes:  cfg.Storage.QuotaBytes,
		Debounce:    time.Duration(cfg.Storage.DebounceMS) * time.Millisecond,
		IdleTimeout: time.Duration(cfg.Storage.IdleTimeoutMinutes) * time.Minute,
	}, relayClient, jwtManager)

	// 5. 反馈事件：配置了 Kafka 时投递并启动后台消费者
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	var publisher service.FeedbackPublisher
	var producer *kafka.Producer
	if cfg.Kafka.Brokers != "" {
		producer = kafka.NewProducer(cfg.Kafka)
		publisher = producer
		go kafka.StartConsumer(consumerCtx, cfg.Kafka, countFeedback)
	} else {
		log.Info("未配置 Kafka，反馈只在本地标记")
	}

	// 6. 上传：配置了 MinIO 时启用
	var objectStore storage.ObjectStore
	if cfg.MinIO.Endpoint != "" {
		initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
		store, err := storage.NewMinIOStore(initCtx, cfg.MinIO)
		cancelInit()
		if err != nil {
			log.Fatal("MinIO 初始化失败", err)
		}
		objectStore = store
	} else {
		log.Info("未配置 MinIO，上传接口不可用")
	}

	deps := handler.Dependencies{
		Sessions:  sessions,
		Relay:     relayService,
		Images:    service.NewImageService(),
		Uploads:   service.NewUploadService(objectStore),
		Profile:   service.NewProfileService(),
		Feedback:  service.NewFeedbackService(publisher),
		RateRPS:   cfg.Relay.RateRPS,
		RateBurst: cfg.Relay.RateBurst,
	}

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestLogger(), middleware.Metrics(), gin.Recovery(), newCORS(cfg.Server.CORSOrigins))

	// 8. 注册路由
	handler.RegisterRoutes(r, deps)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 启动 HTTP 服务器并实现优雅停机
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

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 中断在途请求并落盘所有待写入的数据
	sessions.Close()

	stopConsumer()
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Errorf("关闭 Kafka 生产者失败: %v", err)
		}
	}
	log.Info("服务已优雅关闭")
}

// newKVRepository 按配置选择键值存储底座。
func newKVRepository(storageCfg config.StorageConfig, dbCfg config.DatabaseConfig) repository.KVRepository {
	switch storageCfg.Driver {
	case "redis":
		database.InitRedis(dbCfg.Redis.Addr, dbCfg.Redis.Password, dbCfg.Redis.DB)
		return repository.NewRedisKVRepository(database.RDB)
	case "mysql":
		database.InitMySQL(dbCfg.MySQL.DSN)
		kv, err := repository.NewSQLKVRepository(database.DB)
		if err != nil {
			log.Fatal("初始化 MySQL 键值表失败", err)
		}
		return kv
	case "memory", "":
		log.Info("使用内存存储，进程退出后数据不保留")
		return repository.NewMemoryKVRepository()
	default:
		log.Fatalf("未知的存储驱动: %s", storageCfg.Driver)
		return nil
	}
}

func newCORS(origins []string) gin.HandlerFunc {
	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
	}
	return cors.New(corsCfg)
}

// countFeedback 是反馈事件的消费逻辑：按模型与类别计数。
func countFeedback(_ context.Context, event model.FeedbackEvent) error {
	metrics.FeedbackEvents.WithLabelValues(event.Model, string(event.Type)).Inc()
	log.Infow("收到反馈事件", "session", event.SessionID, "message", event.MessageID, "type", event.Type)
	return nil
}
