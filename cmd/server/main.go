package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"

	"linguaweave/internal/adapter/provider/llm/gemini"
	"linguaweave/internal/adapter/speech/tencentasr"
	"linguaweave/internal/api"
	"linguaweave/internal/db/postgres"
	redisdb "linguaweave/internal/db/redis"
	"linguaweave/internal/domain/cache"
	"linguaweave/internal/domain/chat"
	"linguaweave/internal/domain/images"
	"linguaweave/internal/platform/config"
	applog "linguaweave/internal/platform/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config load failed: %v\n", err)
		os.Exit(1)
	}

	applog.Init(applog.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	gem := gemini.New(gemini.Config{
		APIKey:                cfg.Gemini.APIKey,
		BaseURL:               cfg.Gemini.BaseURL,
		Model:                 cfg.Gemini.Model,
		ConnectTimeoutSeconds: cfg.Gemini.ConnectTimeoutSeconds,
		RequestTimeoutSeconds: cfg.Gemini.RequestTimeoutSeconds,
	})
	applog.Infof("✅ Gemini provider initialized (model: %s)", cfg.Gemini.Model)

	translations := cache.NewTranslation(cache.TranslationConfig{
		MaxSize:      cfg.Cache.TranslationMaxSize,
		TTL:          time.Duration(cfg.Cache.TranslationTTLSeconds) * time.Second,
		MaxTextRunes: cfg.Cache.TranslationMaxTextRunes,
	})
	searches := cache.NewSearch(cache.SearchConfig{
		LocalMaxSize: cfg.Cache.SearchLocalMaxSize,
		LocalTTL:     time.Duration(cfg.Cache.SearchLocalTTLSeconds) * time.Second,
		DurableTTL:   time.Duration(cfg.Cache.SearchDurableTTLSeconds) * time.Second,
	}, initDurableCache(cfg))

	chatConfig := chat.DefaultConfig()
	chatConfig.PivotLang = cfg.Chat.PivotLang
	chatConfig.Model = cfg.Chat.Model
	chatConfig.DataStore = cfg.Chat.DataStore
	chatConfig.UngroundedRetries = cfg.Chat.UngroundedRetries
	chatConfig.ShortTextRunes = cfg.Chat.ShortTextRunes
	chatConfig.MaxImages = cfg.Chat.MaxImages
	pipeline := chat.NewPipeline(gem, gem, translations, searches, chatConfig)

	if db := initDatabase(cfg); db != nil {
		defer db.Close()
		imageRepo := postgres.NewImageRepository(db)

		ensureCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := imageRepo.EnsureTable(ensureCtx); err != nil {
			applog.Warnf("⚠️  Failed to ensure images table: %v", err)
		} else {
			applog.Info("✅ Images table ready")
		}
		cancel()

		searcher := images.NewSearcher(imageRepo, gem, images.Config{
			Categories: cfg.Images.Categories,
			RowCap:     cfg.Images.RowCap,
		})
		pipeline.SetImageSearch(searcher)
		applog.Info("✅ Image augmentation enabled")
	} else {
		applog.Info("ℹ️  No DATABASE_URL set, image augmentation disabled")
	}

	if cfg.VoiceEnabled() {
		transcriber, err := tencentasr.New(tencentasr.Config{
			SecretID:   cfg.Tencent.SecretID,
			SecretKey:  cfg.Tencent.SecretKey,
			Region:     cfg.Tencent.Region,
			EngineType: cfg.Tencent.EngineType,
		})
		if err != nil {
			applog.Fatalf("❌ Failed to initialize ASR client: %v", err)
		}
		pipeline.SetTranscriber(transcriber)
		applog.Infof("✅ Voice transcription enabled (region: %s, engine: %s)", cfg.Tencent.Region, cfg.Tencent.EngineType)
	} else {
		applog.Info("ℹ️  No Tencent credentials set, voice input disabled")
	}

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	serverConfig.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	serverConfig.ChatTimeout = time.Duration(cfg.Server.ChatTimeoutSeconds) * time.Second
	serverConfig.JWTSecret = cfg.Auth.JWTSecret
	serverConfig.JWTIssuer = cfg.Auth.JWTIssuer
	server := api.NewServer(serverConfig, pipeline, translations, searches)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		applog.Info("🔄 Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			applog.Errorf("❌ Server shutdown error: %v", err)
		}
	}()

	if err := server.Start(); err != nil && err.Error() != "http: Server closed" {
		applog.Fatalf("❌ Server error: %v", err)
	}

	applog.Info("👋 Server stopped")
}

// initDatabase 连接 PostgreSQL 图片目录库。未配置时返回 nil（图片增强关闭）。
func initDatabase(cfg *config.AppConfig) *sql.DB {
	if cfg.Database.URL == "" {
		return nil
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		applog.Fatalf("❌ Failed to connect to database: %v", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetimeSeconds) * time.Second)

	if err := db.Ping(); err != nil {
		applog.Fatalf("❌ Failed to ping database: %v", err)
	}
	applog.Info("✅ Connected to PostgreSQL")
	return db
}

// initDurableCache 连接 Redis 持久缓存层。未配置时返回 nil（仅进程内缓存）。
func initDurableCache(cfg *config.AppConfig) cache.DurableStore {
	if cfg.Redis.URL == "" {
		applog.Info("ℹ️  No REDIS_URL set, durable cache tier disabled")
		return nil
	}

	opt, err := goredis.ParseURL(cfg.Redis.URL)
	if err != nil {
		applog.Fatalf("❌ Invalid REDIS_URL: %v", err)
	}

	redisClient := goredis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		applog.Fatalf("❌ Redis connection failed: %v", err)
	}
	applog.Info("✅ Connected to Redis for durable cache tier")

	return redisdb.NewDurableCache(redisClient, cfg.Cache.Namespace)
}
