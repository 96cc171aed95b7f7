package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig 全局配置。启动时统一加载，再按模块提取使用。
type AppConfig struct {
	LogLevel  string         `json:"log_level"`
	LogFormat string         `json:"log_format"`
	Server    ServerConfig   `json:"server"`
	Database  DatabaseConfig `json:"database"`
	Redis     RedisConfig    `json:"redis"`
	Auth      AuthConfig     `json:"auth"`
	Gemini    GeminiConfig   `json:"gemini"`
	Tencent   TencentConfig  `json:"tencent"`
	Chat      ChatConfig     `json:"chat"`
	Cache     CacheConfig    `json:"cache"`
	Images    ImagesConfig   `json:"images"`
}

type ServerConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
	ChatTimeoutSeconds  int    `json:"chat_timeout_seconds"`
}

type DatabaseConfig struct {
	URL                    string `json:"url"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
	JWTIssuer string `json:"jwt_issuer"`
}

type GeminiConfig struct {
	APIKey                string `json:"api_key"`
	BaseURL               string `json:"base_url"`
	Model                 string `json:"model"`
	ConnectTimeoutSeconds int    `json:"connect_timeout_seconds"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// TencentConfig 语音转写凭据。两个密钥都为空时语音输入关闭。
type TencentConfig struct {
	SecretID   string `json:"secret_id"`
	SecretKey  string `json:"secret_key"`
	Region     string `json:"region"`
	EngineType string `json:"engine_type"`
}

type ChatConfig struct {
	PivotLang         string `json:"pivot_lang"`
	Model             string `json:"model"`
	DataStore         string `json:"data_store"`
	UngroundedRetries int    `json:"ungrounded_retries"`
	ShortTextRunes    int    `json:"short_text_runes"`
	MaxImages         int    `json:"max_images"`
}

type CacheConfig struct {
	Namespace               string `json:"namespace"`
	TranslationMaxSize      int    `json:"translation_max_size"`
	TranslationTTLSeconds   int    `json:"translation_ttl_seconds"`
	TranslationMaxTextRunes int    `json:"translation_max_text_runes"`
	SearchLocalMaxSize      int    `json:"search_local_max_size"`
	SearchLocalTTLSeconds   int    `json:"search_local_ttl_seconds"`
	SearchDurableTTLSeconds int    `json:"search_durable_ttl_seconds"`
}

type ImagesConfig struct {
	Categories []string `json:"categories"`
	RowCap     int      `json:"row_cap"`
}

// Default 返回默认配置。
func Default() *AppConfig {
	return &AppConfig{
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 120,
			ChatTimeoutSeconds:  90,
		},
		Database: DatabaseConfig{
			MaxOpenConns:           25,
			MaxIdleConns:           5,
			ConnMaxLifetimeSeconds: 300,
		},
		Gemini: GeminiConfig{
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			Model:   "gemini-2.0-flash",
		},
		Tencent: TencentConfig{
			Region:     "ap-bangkok",
			EngineType: "16k_th",
		},
		Chat: ChatConfig{
			PivotLang:         "th",
			UngroundedRetries: 1,
			ShortTextRunes:    20,
			MaxImages:         3,
		},
		Cache: CacheConfig{
			Namespace:               "search",
			TranslationMaxSize:      500,
			TranslationTTLSeconds:   43200,
			TranslationMaxTextRunes: 500,
			SearchLocalMaxSize:      200,
			SearchLocalTTLSeconds:   1800,
			SearchDurableTTLSeconds: 86400,
		},
		Images: ImagesConfig{
			Categories: []string{"product", "service", "promotion", "location"},
			RowCap:     500,
		},
	}
}

// Load 加载全局配置：默认值 -> 配置文件 -> 环境变量。
// 配置文件路径通过 APP_CONFIG_FILE 指定（JSON）。
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		// .env 非必需，忽略错误
	}

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read APP_CONFIG_FILE %q failed: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse APP_CONFIG_FILE %q failed: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	applyString("LOG_LEVEL", &c.LogLevel)
	applyString("LOG_FORMAT", &c.LogFormat)

	applyString("HOST", &c.Server.Host)
	applyInt("PORT", &c.Server.Port)
	applyInt("SERVER_READ_TIMEOUT", &c.Server.ReadTimeoutSeconds)
	applyInt("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeoutSeconds)
	applyInt("CHAT_TIMEOUT", &c.Server.ChatTimeoutSeconds)

	applyString("DATABASE_URL", &c.Database.URL)
	applyInt("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	applyInt("DATABASE_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	applyInt("DATABASE_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetimeSeconds)

	applyString("REDIS_URL", &c.Redis.URL)

	applyString("JWT_SECRET", &c.Auth.JWTSecret)
	applyString("JWT_ISSUER", &c.Auth.JWTIssuer)

	applyString("GEMINI_API_KEY", &c.Gemini.APIKey)
	applyString("GEMINI_BASE_URL", &c.Gemini.BaseURL)
	applyString("GEMINI_MODEL", &c.Gemini.Model)
	applyInt("GEMINI_CONNECT_TIMEOUT", &c.Gemini.ConnectTimeoutSeconds)
	applyInt("GEMINI_REQUEST_TIMEOUT", &c.Gemini.RequestTimeoutSeconds)

	applyString("TENCENT_SECRET_ID", &c.Tencent.SecretID)
	applyString("TENCENT_SECRET_KEY", &c.Tencent.SecretKey)
	applyString("TENCENT_REGION", &c.Tencent.Region)
	applyString("TENCENT_ASR_ENGINE", &c.Tencent.EngineType)

	applyString("CHAT_PIVOT_LANG", &c.Chat.PivotLang)
	applyString("CHAT_MODEL", &c.Chat.Model)
	applyString("CHAT_DATA_STORE", &c.Chat.DataStore)
	applyInt("CHAT_UNGROUNDED_RETRIES", &c.Chat.UngroundedRetries)
	applyInt("CHAT_SHORT_TEXT_RUNES", &c.Chat.ShortTextRunes)
	applyInt("CHAT_MAX_IMAGES", &c.Chat.MaxImages)

	applyString("CACHE_NAMESPACE", &c.Cache.Namespace)
	applyInt("CACHE_TRANSLATION_MAX_SIZE", &c.Cache.TranslationMaxSize)
	applyInt("CACHE_TRANSLATION_TTL", &c.Cache.TranslationTTLSeconds)
	applyInt("CACHE_TRANSLATION_MAX_RUNES", &c.Cache.TranslationMaxTextRunes)
	applyInt("CACHE_SEARCH_LOCAL_MAX_SIZE", &c.Cache.SearchLocalMaxSize)
	applyInt("CACHE_SEARCH_LOCAL_TTL", &c.Cache.SearchLocalTTLSeconds)
	applyInt("CACHE_SEARCH_DURABLE_TTL", &c.Cache.SearchDurableTTLSeconds)

	if v := strings.TrimSpace(os.Getenv("IMAGE_CATEGORIES")); v != "" {
		var categories []string
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				categories = append(categories, p)
			}
		}
		c.Images.Categories = categories
	}
	applyInt("IMAGE_ROW_CAP", &c.Images.RowCap)
}

func (c *AppConfig) validate() error {
	if strings.TrimSpace(c.Gemini.APIKey) == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	// 语音凭据要么都给要么都不给
	hasID := strings.TrimSpace(c.Tencent.SecretID) != ""
	hasKey := strings.TrimSpace(c.Tencent.SecretKey) != ""
	if hasID != hasKey {
		return fmt.Errorf("TENCENT_SECRET_ID and TENCENT_SECRET_KEY must be set together")
	}
	return nil
}

// VoiceEnabled 是否配置了语音转写凭据。
func (c *AppConfig) VoiceEnabled() bool {
	return strings.TrimSpace(c.Tencent.SecretID) != "" && strings.TrimSpace(c.Tencent.SecretKey) != ""
}

func applyString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func applyInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}
