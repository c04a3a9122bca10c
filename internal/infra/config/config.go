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

	"assistbot/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Weather  WeatherConfig  `yaml:"weather"`
	Search   SearchConfig   `yaml:"search"`
	Clock    ClockConfig    `yaml:"clock"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
}

// TelegramConfig holds Telegram Bot API settings.
type TelegramConfig struct {
	Token         string        `yaml:"token"`
	BaseURL       string        `yaml:"base_url"`
	PollTimeout   time.Duration `yaml:"poll_timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	// PerChatPerMin caps messages accepted from one chat; 0 disables.
	PerChatPerMin int `yaml:"per_chat_per_min"`
	PerChatBurst  int `yaml:"per_chat_burst"`
}

// WeatherConfig holds OpenWeatherMap settings.
type WeatherConfig struct {
	APIKey  string               `yaml:"api_key"`
	BaseURL string               `yaml:"base_url"`
	Units   string               `yaml:"units"`
	Lang    string               `yaml:"lang"`
	Timeout time.Duration        `yaml:"timeout"`
	Breaker CircuitBreakerConfig `yaml:"breaker"`
}

// CircuitBreakerConfig configures circuit breaking on an upstream API.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32 `yaml:"max_failures"`
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration `yaml:"timeout"`
	// Interval is the cyclic period of the closed state for clearing failure counts.
	Interval time.Duration `yaml:"interval"`
}

// SearchConfig holds headless-browser search settings.
type SearchConfig struct {
	EngineURL       string        `yaml:"engine_url"`
	ResultSelector  string        `yaml:"result_selector"`
	TitleSelector   string        `yaml:"title_selector"`
	SnippetSelector string        `yaml:"snippet_selector"`
	LinkSelector    string        `yaml:"link_selector"`
	MaxResults      int           `yaml:"max_results"`
	UserAgent       string        `yaml:"user_agent"`
	NavTimeout      time.Duration `yaml:"nav_timeout"`
	LaunchTimeout   time.Duration `yaml:"launch_timeout"`
	// ResultWait bounds how long a loaded page may take to render the result
	// selector before the query is treated as having no results.
	ResultWait time.Duration `yaml:"result_wait"`
	Headless   bool          `yaml:"headless"`
	// RemoteURL is a CDP WebSocket endpoint; when set no local Chrome is launched.
	RemoteURL  string `yaml:"remote_url"`
	ExecPath   string `yaml:"exec_path"`
	ProfileDir string `yaml:"profile_dir"`
	// RatePerSecond throttles queries against the search engine; 0 disables.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// ClockConfig controls the time reply.
type ClockConfig struct {
	Timezone string `yaml:"timezone"`
	Format   string `yaml:"format"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"`
	ServiceName string `yaml:"service_name"`
}

// defaultProfileDir returns the browser profile directory under the user cache dir.
// Falls back to "./.browser-profile" if the cache dir cannot be determined.
func defaultProfileDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "./.browser-profile"
	}
	return filepath.Join(dir, "assistbot", "browser")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Telegram: TelegramConfig{
			BaseURL:       "https://api.telegram.org",
			PollTimeout:   30 * time.Second,
			MaxConcurrent: 16,
			PerChatPerMin: 30,
			PerChatBurst:  5,
		},
		Weather: WeatherConfig{
			BaseURL: "http://api.openweathermap.org/data/2.5/weather",
			Units:   "metric",
			Lang:    "ru",
			Timeout: 10 * time.Second,
			Breaker: CircuitBreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Search: SearchConfig{
			EngineURL:       "https://www.google.com/search",
			ResultSelector:  "div.g",
			TitleSelector:   "h3",
			SnippetSelector: ".VwiC3b",
			LinkSelector:    "a",
			MaxResults:      3,
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
			NavTimeout:      60 * time.Second,
			LaunchTimeout:   60 * time.Second,
			ResultWait:      60 * time.Second,
			Headless:        true,
			ProfileDir:      defaultProfileDir(),
			RatePerSecond:   2,
			Burst:           4,
		},
		Clock: ClockConfig{
			Timezone: "Local",
			Format:   "15:04:05",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:     false,
			Exporter:    "noop",
			ServiceName: "assistbot",
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
			return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, "read: "+err.Error())
		}
	} else {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, "resolve path: "+err.Error())
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, err.Error())
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, "parse: "+err.Error())
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("ASSISTBOT_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps ASSISTBOT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ASSISTBOT_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("ASSISTBOT_TELEGRAM_BASE_URL"); v != "" {
		cfg.Telegram.BaseURL = v
	}
	if v := os.Getenv("ASSISTBOT_TELEGRAM_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Telegram.MaxConcurrent = n
		}
	}
	if v := os.Getenv("ASSISTBOT_WEATHER_API_KEY"); v != "" {
		cfg.Weather.APIKey = v
	}
	if v := os.Getenv("ASSISTBOT_WEATHER_BASE_URL"); v != "" {
		cfg.Weather.BaseURL = v
	}
	if v := os.Getenv("ASSISTBOT_WEATHER_LANG"); v != "" {
		cfg.Weather.Lang = v
	}
	if v := os.Getenv("ASSISTBOT_WEATHER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Weather.Timeout = d
		}
	}
	if v := os.Getenv("ASSISTBOT_SEARCH_ENGINE_URL"); v != "" {
		cfg.Search.EngineURL = v
	}
	if v := os.Getenv("ASSISTBOT_SEARCH_REMOTE_URL"); v != "" {
		cfg.Search.RemoteURL = v
	}
	if v := os.Getenv("ASSISTBOT_SEARCH_EXEC_PATH"); v != "" {
		cfg.Search.ExecPath = v
	}
	if v := os.Getenv("ASSISTBOT_SEARCH_PROFILE_DIR"); v != "" {
		cfg.Search.ProfileDir = v
	}
	if v := os.Getenv("ASSISTBOT_SEARCH_HEADLESS"); v == "false" {
		cfg.Search.Headless = false
	}
	if v := os.Getenv("ASSISTBOT_SEARCH_NAV_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Search.NavTimeout = d
		}
	}
	if v := os.Getenv("ASSISTBOT_SEARCH_RATE_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.Search.RatePerSecond = f
		}
	}
	if v := os.Getenv("ASSISTBOT_CLOCK_TIMEZONE"); v != "" {
		cfg.Clock.Timezone = v
	}
	if v := os.Getenv("ASSISTBOT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("ASSISTBOT_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("ASSISTBOT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("ASSISTBOT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// decryptSecrets replaces every "enc:"-prefixed secret with its plaintext.
func decryptSecrets(cfg *Config, passphrase string) error {
	secrets := []struct {
		name  string
		field *string
	}{
		{"telegram.token", &cfg.Telegram.Token},
		{"weather.api_key", &cfg.Weather.APIKey},
	}
	for _, s := range secrets {
		if !strings.HasPrefix(*s.field, "enc:") {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(*s.field, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		*s.field = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", domain.NewDomainError("config.EncryptValue", domain.ErrEncryption, "generate salt: "+err.Error())
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", domain.NewDomainError("config.EncryptValue", domain.ErrEncryption, err.Error())
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", domain.NewDomainError("config.EncryptValue", domain.ErrEncryption, "generate nonce: "+err.Error())
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue. Every failure
// wraps domain.ErrDecryption.
func DecryptValue(encrypted, passphrase string) (string, error) {
	fail := func(detail string) (string, error) {
		return "", domain.NewDomainError("config.DecryptValue", domain.ErrDecryption, detail)
	}

	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return fail("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return fail("decode salt: " + err.Error())
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return fail("decode ciphertext: " + err.Error())
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return fail(err.Error())
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return fail("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fail("wrong passphrase or corrupted value")
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

// validatePermissions rejects config files writable by group or others,
// since they carry the bot token.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
