package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"gopkg.in/yaml.v3"
)

// AI provider identifiers accepted by AI_PROVIDER.
const (
	ProviderArk    = "ark"
	ProviderGemini = "gemini"
	ProviderMock   = "mock"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	Log    LogConfig
	AI     AIConfig
	Store  StoreConfig
	Chat   ChatConfig
}

// Load 从环境变量加载配置；CONFIG_FILE 指向的 YAML 文件提供默认值，环境变量优先。
func Load() (*Config, error) {
	src, err := newSource(strings.TrimSpace(os.Getenv("CONFIG_FILE")))
	if err != nil {
		return nil, err
	}

	server, err := loadServerConfig(src)
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig(src)
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig(src)
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig(src)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Log:    LogConfig{Level: src.getOrDefault("LOG_LEVEL", "info")},
		AI:     ai,
		Store:  store,
		Chat:   chat,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	IdentityHeader string
	CORSOrigin     string
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string
}

// Debug reports whether debug logging was requested.
func (c LogConfig) Debug() bool {
	return strings.EqualFold(c.Level, "debug")
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig(src source) (ServerConfig, error) {
	port := src.get("PORT")
	if port == "" {
		port = "8080"
	}

	cfg := ServerConfig{
		IdentityHeader: src.getOrDefault("IDENTITY_HEADER", "X-User-ID"),
		CORSOrigin:     src.getOrDefault("CORS_ALLOWED_ORIGIN", "*"),
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		cfg.Addr = port
		return cfg, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	cfg.Addr = ":" + port
	return cfg, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider    string
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Gemini      GeminiConfig
}

// GeminiConfig describes the Google GenAI backend.
type GeminiConfig struct {
	APIKey        string
	Model         string
	TTSModel      string
	TTSVoice      string
	AudioMIMEType string
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// Enabled reports whether a Gemini API key is configured.
func (c GeminiConfig) Enabled() bool {
	return c.APIKey != ""
}

// ProviderName resolves the provider to use: the explicit AI_PROVIDER value, or
// the first backend with credentials, or the mock responder.
func (c AIConfig) ProviderName() string {
	if c.Provider != "" {
		return c.Provider
	}
	switch {
	case c.Enabled():
		return ProviderArk
	case c.Gemini.Enabled():
		return ProviderGemini
	default:
		return ProviderMock
	}
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig(src source) (AIConfig, error) {
	temperature, err := src.parseOptionalFloat("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := src.parseOptionalFloat("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := src.parseOptionalInt("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	provider := strings.ToLower(src.get("AI_PROVIDER"))
	switch provider {
	case "", ProviderArk, ProviderGemini, ProviderMock:
	default:
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q: want ark, gemini or mock", provider)
	}

	return AIConfig{
		Provider:    provider,
		APIKey:      src.get("ARK_API_KEY"),
		AccessKey:   src.get("ARK_ACCESS_KEY"),
		SecretKey:   src.get("ARK_SECRET_KEY"),
		Model:       src.get("Model"),
		BaseURL:     src.getOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      src.getOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
		Gemini: GeminiConfig{
			APIKey:        src.get("GEMINI_API_KEY"),
			Model:         src.getOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
			TTSModel:      src.get("GEMINI_TTS_MODEL"),
			TTSVoice:      src.getOrDefault("GEMINI_TTS_VOICE", "Kore"),
			AudioMIMEType: src.getOrDefault("AUDIO_MIME_TYPE", "audio/wav"),
		},
	}, nil
}

// StoreConfig selects the History Store backend.
type StoreConfig struct {
	Driver string
	DSN    string
}

func loadStoreConfig(src source) (StoreConfig, error) {
	driver := strings.ToLower(src.getOrDefault("STORE_DRIVER", StoreSQLite))
	if driver != StoreMemory && driver != StoreSQLite {
		return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER value %q: want memory or sqlite", driver)
	}
	return StoreConfig{
		Driver: driver,
		DSN:    src.getOrDefault("STORE_DSN", "chat.db"),
	}, nil
}

// ChatConfig tunes the exchange engine.
type ChatConfig struct {
	DuplicateWindow time.Duration
	CommitTimeout   time.Duration
	// StreamTimeout of zero leaves streams unbounded.
	StreamTimeout  time.Duration
	MaxUploadBytes int64
}

func loadChatConfig(src source) (ChatConfig, error) {
	window, err := src.parseDuration("CHAT_DUPLICATE_WINDOW", 5*time.Second)
	if err != nil {
		return ChatConfig{}, err
	}

	commit, err := src.parseDuration("CHAT_COMMIT_TIMEOUT", 10*time.Second)
	if err != nil {
		return ChatConfig{}, err
	}

	stream, err := src.parseDuration("CHAT_STREAM_TIMEOUT", 0)
	if err != nil {
		return ChatConfig{}, err
	}

	maxUpload := int64(25 << 20)
	if override, err := src.parseOptionalInt("VOICE_MAX_UPLOAD_BYTES"); err != nil {
		return ChatConfig{}, err
	} else if override != nil && *override > 0 {
		maxUpload = int64(*override)
	}

	return ChatConfig{
		DuplicateWindow: window,
		CommitTimeout:   commit,
		StreamTimeout:   stream,
		MaxUploadBytes:  maxUpload,
	}, nil
}

// source resolves keys from the environment first, then from the optional YAML file.
type source struct {
	file map[string]string
}

func newSource(path string) (source, error) {
	if path == "" {
		return source{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return source{}, fmt.Errorf("reading config: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return source{}, fmt.Errorf("parsing config: %w", err)
	}

	values := make(map[string]string, len(raw))
	for key, value := range raw {
		if value == nil {
			continue
		}
		values[key] = fmt.Sprint(value)
	}
	return source{file: values}, nil
}

func (s source) lookup(key string) (string, bool) {
	if value, ok := os.LookupEnv(key); ok {
		return value, true
	}
	value, ok := s.file[key]
	return value, ok
}

func (s source) get(key string) string {
	value, _ := s.lookup(key)
	return strings.TrimSpace(value)
}

func (s source) getOrDefault(key, defaultValue string) string {
	if value := s.get(key); value != "" {
		return value
	}
	return defaultValue
}

func (s source) parseDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := s.get(key)
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, raw)
	}
	return val, nil
}

func (s source) parseOptionalFloat(key string) (*float64, error) {
	value := s.get(key)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func (s source) parseOptionalInt(key string) (*int, error) {
	value := s.get(key)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
