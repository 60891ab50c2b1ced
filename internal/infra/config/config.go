package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Auth         AuthConfig         `yaml:"auth"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Conversation ConversationConfig `yaml:"conversation"`
	Models       ModelsConfig       `yaml:"models"`
	LLM          LLMConfig          `yaml:"llm"`
	Voice        VoiceConfig        `yaml:"voice"`
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
}

// ServerConfig holds WebSocket gateway settings.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	AllowedOrigins []string      `yaml:"allowed_origins,omitempty"` // websocket.Accept origin patterns
	SendQueueSize  int           `yaml:"send_queue_size"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	Type   string        `yaml:"type"` // "static" or ""
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single gateway auth token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// RateLimitConfig configures the per-IP limiter in front of the HTTP routes.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// ConversationConfig holds the scheduler defaults.
type ConversationConfig struct {
	DefaultRounds      int           `yaml:"default_rounds"`
	BatchSize          int           `yaml:"batch_size"`
	MaxResponseLength  int           `yaml:"max_response_length"`
	ContextWindow      int           `yaml:"context_window"`
	TurnTimeout        time.Duration `yaml:"turn_timeout"`
	DefaultPersonality string        `yaml:"default_personality"`
	SessionTTL         time.Duration `yaml:"session_ttl"`   // 0 keeps idle sessions forever
	ReapSchedule       string        `yaml:"reap_schedule"` // cron expression or duration
}

// ModelsConfig is the provider/model catalogue.
type ModelsConfig struct {
	Default   string                `yaml:"default"`
	Providers []ModelProviderConfig `yaml:"providers"`
}

// ModelProviderConfig holds one provider family and the models it serves.
type ModelProviderConfig struct {
	Name     string           `yaml:"name"` // openai, anthropic, deepseek, llama, mixtral
	APIKey   string           `yaml:"api_key,omitempty"`
	Endpoint string           `yaml:"endpoint,omitempty"`
	Models   []string         `yaml:"models"`
	Features ProviderFeatures `yaml:"features"`
}

// ProviderFeatures advertises optional client capabilities per provider.
type ProviderFeatures struct {
	VoiceInput bool `yaml:"voice_input" json:"voice_input"`
	Streaming  bool `yaml:"streaming" json:"streaming"`
}

// Provider returns the provider config by name.
func (m ModelsConfig) Provider(name string) (ModelProviderConfig, bool) {
	for _, p := range m.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ModelProviderConfig{}, false
}

// LLMConfig holds provider call settings.
type LLMConfig struct {
	MaxTokens      int                  `yaml:"max_tokens"`
	Temperature    float64              `yaml:"temperature"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Pool           PoolConfig           `yaml:"pool"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// VoiceConfig holds speech-to-text settings.
type VoiceConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Model         string `yaml:"model"`
	MaxAudioBytes int    `yaml:"max_audio_bytes"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          "127.0.0.1:5000",
			SendQueueSize: 64,
			WriteTimeout:  5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 120,
			Burst:             20,
		},
		Conversation: ConversationConfig{
			DefaultRounds:      10,
			BatchSize:          3,
			MaxResponseLength:  2000,
			ContextWindow:      4,
			TurnTimeout:        120 * time.Second,
			DefaultPersonality: "SARCASTIC_NETIZEN",
			SessionTTL:         time.Hour,
			ReapSchedule:       "10m",
		},
		Models: ModelsConfig{
			Default:   "gpt-4o-mini",
			Providers: defaultModelProviders(),
		},
		LLM: LLMConfig{
			MaxTokens:   1024,
			Temperature: 0.7,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
			Pool: PoolConfig{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Voice: VoiceConfig{
			Enabled:       true,
			Model:         "whisper-1",
			MaxAudioBytes: 10 << 20,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

func defaultModelProviders() []ModelProviderConfig {
	return []ModelProviderConfig{
		{
			Name: "openai",
			Models: []string{
				"gpt-4o-mini",
				"gpt-4-0125-preview",
				"gpt-4-1106-preview",
				"gpt-4",
				"gpt-3.5-turbo-0125",
				"gpt-3.5-turbo-1106",
				"gpt-3.5-turbo",
			},
			Features: ProviderFeatures{VoiceInput: true, Streaming: true},
		},
		{
			Name:     "anthropic",
			Models:   []string{"claude-3-opus", "claude-3-sonnet", "claude-2.1"},
			Features: ProviderFeatures{VoiceInput: true, Streaming: true},
		},
		{
			Name:     "deepseek",
			Models:   []string{"deepseek-r1", "deepseek-chat", "deepseek-coder"},
			Features: ProviderFeatures{VoiceInput: false, Streaming: true},
		},
		{
			Name:     "llama",
			Models:   []string{"llama-2-70b-chat", "llama-2-13b-chat", "llama-2-7b-chat"},
			Features: ProviderFeatures{VoiceInput: false, Streaming: true},
		},
		{
			Name:     "mixtral",
			Models:   []string{"mixtral-8x7b"},
			Features: ProviderFeatures{VoiceInput: false, Streaming: true},
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file is not an error: defaults plus env overrides are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		data = nil
	}

	if data != nil {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("CHATSIM_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// providerEnv names the credential variables read for each provider.
var providerEnv = map[string]struct{ key, endpoint string }{
	"openai":    {key: "OPENAI_API_KEY"},
	"anthropic": {key: "ANTHROPIC_API_KEY"},
	"deepseek":  {key: "DEEPSEEK_API_KEY"},
	"llama":     {key: "LLAMA_API_KEY", endpoint: "LLAMA_API_ENDPOINT"},
	"mixtral":   {key: "MIXTRAL_API_KEY", endpoint: "MIXTRAL_API_ENDPOINT"},
}

// ApplyEnvOverrides maps CHATSIM_* and provider credential env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHATSIM_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("CHATSIM_SERVER_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitAndTrim(v, ",")
	}
	if v := os.Getenv("CHATSIM_AUTH_TOKEN"); v != "" {
		cfg.Auth.Type = "static"
		cfg.Auth.Tokens = append(cfg.Auth.Tokens, TokenConfig{Token: v, Name: "env"})
	}
	if v := os.Getenv("CHATSIM_RATE_LIMIT_ENABLED"); v != "" {
		cfg.RateLimit.Enabled = v == "true"
	}
	if v := os.Getenv("CHATSIM_RATE_LIMIT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimit.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("CHATSIM_CONVERSATION_TURN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Conversation.TurnTimeout = d
		}
	}
	if v := os.Getenv("CHATSIM_CONVERSATION_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.Conversation.SessionTTL = d
		}
	}
	if v := os.Getenv("CHATSIM_CONVERSATION_DEFAULT_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Conversation.DefaultRounds = n
		}
	}
	if v := os.Getenv("CHATSIM_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CHATSIM_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("CHATSIM_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("CHATSIM_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("CHATSIM_VOICE_ENABLED"); v != "" {
		cfg.Voice.Enabled = v == "true"
	}

	if v := os.Getenv("DEFAULT_MODEL"); v != "" {
		cfg.Models.Default = v
	}
	for i := range cfg.Models.Providers {
		p := &cfg.Models.Providers[i]
		names, ok := providerEnv[p.Name]
		if !ok {
			continue
		}
		if v := os.Getenv(names.key); v != "" {
			p.APIKey = v
		}
		if names.endpoint == "" {
			continue
		}
		if v := os.Getenv(names.endpoint); v != "" {
			p.Endpoint = v
		}
	}
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// decryptSecrets finds "enc:..." values in provider API keys and auth tokens and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.Models.Providers {
		key := cfg.Models.Providers[i].APIKey
		if strings.HasPrefix(key, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(key, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("provider %s api_key: %w", cfg.Models.Providers[i].Name, err)
			}
			cfg.Models.Providers[i].APIKey = decrypted
		}
	}

	for i := range cfg.Auth.Tokens {
		tok := cfg.Auth.Tokens[i].Token
		if strings.HasPrefix(tok, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(tok, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("auth token %s: %w", cfg.Auth.Tokens[i].Name, err)
			}
			cfg.Auth.Tokens[i].Token = decrypted
		}
	}

	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
