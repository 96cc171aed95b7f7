package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"linguaweave/internal/domain/cache"
	"linguaweave/internal/domain/chat"
	applog "linguaweave/internal/platform/log"
)

// ServerConfig 服务配置
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ChatTimeout  time.Duration // 单次问答管线超时
	JWTSecret    string        // JWT 签名密钥（管理端路由必填）
	JWTIssuer    string        // JWT 签发者（可选）
}

// DefaultServerConfig 默认配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // 生成+重试可能较慢
		ChatTimeout:  90 * time.Second,
	}
}

// Server HTTP 服务器
type Server struct {
	config       *ServerConfig
	pipeline     *chat.Pipeline
	translations *cache.Translation
	searches     *cache.Search
	httpSrv      *http.Server
}

// NewServer 创建服务器
func NewServer(config *ServerConfig, pipeline *chat.Pipeline, translations *cache.Translation, searches *cache.Search) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	return &Server{
		config:       config,
		pipeline:     pipeline,
		translations: translations,
		searches:     searches,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	r := s.buildRouter()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	applog.Infof("🚀 Chat API server starting on %s", addr)
	return s.httpSrv.ListenAndServe()
}

// Stop 优雅停机
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// Handler 返回 HTTP Handler（用于测试）
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	chatHandler := NewChatHandler(s.pipeline, s.config.ChatTimeout)
	chatHandler.RegisterRoutes(r)

	// 管理端路由仅在配置了 JWT 密钥时开放
	if strings.TrimSpace(s.config.JWTSecret) == "" {
		applog.Warn("[API] JWT_SECRET not set, admin routes disabled")
		return r
	}

	jwtCfg := &JWTConfig{
		Secret: s.config.JWTSecret,
		Issuer: s.config.JWTIssuer,
	}
	adminHandler := NewAdminHandler(s.translations, s.searches)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(jwtCfg))
		r.Use(requireRole("admin"))
		adminHandler.RegisterRoutes(r)
	})
	return r
}

// corsMiddleware CORS 中间件
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
