package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/zhouzirui/claudio/backend/internal/model/chat"
	"github.com/zhouzirui/claudio/backend/internal/service/completion"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server     ServerConfig
	Completion CompletionConfig
	Log        LogConfig
}

// Load 从环境变量加载配置；若设置了 CLAUDIO_CONFIG，先叠加该 TOML 文件。
// 优先级：内置默认值 < TOML 文件 < 环境变量。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	completionCfg := defaultCompletionConfig()
	if path := strings.TrimSpace(os.Getenv("CLAUDIO_CONFIG")); path != "" {
		if err := loadCompletionFile(path, &completionCfg); err != nil {
			return nil, err
		}
	}
	if err := applyCompletionEnv(&completionCfg); err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Completion: completionCfg, Log: logCfg}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
	// RateLimitPerMinute 限制每个 IP 每分钟触发的补全次数，0 表示不限流。
	RateLimitPerMinute int
	RateLimitBurst     int
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	cfg := ServerConfig{Addr: ":" + port, RateLimitPerMinute: 30, RateLimitBurst: 10}
	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		cfg.Addr = port
	} else if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	perMinute, err := parseOptionalIntEnv("RATE_LIMIT_PER_MINUTE")
	if err != nil {
		return ServerConfig{}, err
	}
	if perMinute != nil {
		cfg.RateLimitPerMinute = *perMinute
	}

	burst, err := parseOptionalIntEnv("RATE_LIMIT_BURST")
	if err != nil {
		return ServerConfig{}, err
	}
	if burst != nil {
		cfg.RateLimitBurst = *burst
	}

	return cfg, nil
}

// CompletionConfig 描述补全接口相关配置。
type CompletionConfig struct {
	APIKey              string         `toml:"-"`
	Endpoint            string         `toml:"endpoint"`
	Model               string         `toml:"model"`
	Timeout             time.Duration  `toml:"-"`
	ContextWindow       int            `toml:"context_window"`
	Temperature         float32        `toml:"temperature"`
	TopP                float32        `toml:"top_p"`
	MaxCompletionTokens int            `toml:"max_completion_tokens"`
	UserName            string         `toml:"user_name"`
	AssistantName       string         `toml:"assistant_name"`
	Denylist            []string       `toml:"denylist"`
	Extensions          map[string]any `toml:"extensions"`
}

// Enabled 表示是否提供了 API Key。缺少时请求仍会发出，由服务端拒绝。
func (c CompletionConfig) Enabled() bool {
	return c.APIKey != ""
}

// ClientConfig 转换为补全客户端配置。
func (c CompletionConfig) ClientConfig() completion.Config {
	cfg := completion.DefaultConfig()
	cfg.Endpoint = c.Endpoint
	cfg.APIKey = c.APIKey
	cfg.Model = c.Model
	cfg.Temperature = c.Temperature
	cfg.TopP = c.TopP
	cfg.MaxCompletionTokens = c.MaxCompletionTokens
	cfg.UserName = c.UserName
	cfg.AssistantName = c.AssistantName
	cfg.Timeout = c.Timeout
	if c.Denylist != nil {
		cfg.Filter.Denylist = append([]string(nil), c.Denylist...)
	}
	if len(c.Extensions) > 0 {
		cfg.Extensions = make(map[string]any, len(c.Extensions))
		for k, v := range c.Extensions {
			cfg.Extensions[k] = v
		}
	}
	return cfg
}

func defaultCompletionConfig() CompletionConfig {
	return CompletionConfig{
		Endpoint:            completion.DefaultEndpoint,
		Model:               completion.DefaultModel,
		ContextWindow:       chat.DefaultWindow,
		Temperature:         completion.DefaultTemperature,
		TopP:                completion.DefaultTopP,
		MaxCompletionTokens: completion.DefaultMaxTokens,
		UserName:            completion.DefaultUserName,
		AssistantName:       completion.DefaultAssistantName,
		Denylist:            append([]string(nil), completion.DefaultDenylist...),
	}
}

// completionFile 对应 TOML 文件中的 [completion] 段。
type completionFile struct {
	Completion CompletionConfig `toml:"completion"`
}

func loadCompletionFile(path string, cfg *CompletionConfig) error {
	file := completionFile{Completion: *cfg}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	*cfg = file.Completion
	return nil
}

func applyCompletionEnv(cfg *CompletionConfig) error {
	if key := firstEnv("COMPLETION_API_KEY", "API_KEY"); key != "" {
		cfg.APIKey = key
	}
	cfg.Endpoint = getEnvOrDefault("COMPLETION_URL", cfg.Endpoint)
	cfg.Model = getEnvOrDefault("COMPLETION_MODEL", cfg.Model)

	timeout, err := parseOptionalDurationEnv("COMPLETION_TIMEOUT")
	if err != nil {
		return err
	}
	if timeout != nil {
		if *timeout < 0 {
			return fmt.Errorf("invalid COMPLETION_TIMEOUT value %q: must not be negative", os.Getenv("COMPLETION_TIMEOUT"))
		}
		cfg.Timeout = *timeout
	}

	temperature, err := parseOptionalFloat32Env("COMPLETION_TEMPERATURE")
	if err != nil {
		return err
	}
	if temperature != nil {
		cfg.Temperature = *temperature
	}

	topP, err := parseOptionalFloat32Env("COMPLETION_TOP_P")
	if err != nil {
		return err
	}
	if topP != nil {
		cfg.TopP = *topP
	}

	maxTokens, err := parseOptionalIntEnv("COMPLETION_MAX_TOKENS")
	if err != nil {
		return err
	}
	if maxTokens != nil {
		cfg.MaxCompletionTokens = *maxTokens
	}

	window, err := parseOptionalIntEnv("CHAT_CONTEXT_WINDOW")
	if err != nil {
		return err
	}
	if window != nil {
		if *window < 0 {
			cfg.ContextWindow = 0
		} else {
			cfg.ContextWindow = *window
		}
	}

	return nil
}

// LogConfig 描述日志输出配置。
type LogConfig struct {
	Level   string
	Console bool
}

func loadLogConfig() (LogConfig, error) {
	level := strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info"))
	format := strings.ToLower(getEnvOrDefault("LOG_FORMAT", "json"))

	switch format {
	case "json", "console":
	default:
		return LogConfig{}, fmt.Errorf("invalid LOG_FORMAT value %q: want json or console", format)
	}

	return LogConfig{Level: level, Console: format == "console"}, nil
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			return value
		}
	}
	return ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}

func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
