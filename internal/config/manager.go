package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"tiktok-extractor/pkg/models"
)

// EnvPrefix prefixes environment overrides, e.g. TTX_API_APP_VERSION
const EnvPrefix = "TTX"

// Manager manages application configuration
type Manager struct {
	config *models.Config
	viper  *viper.Viper
	logger zerolog.Logger
	// createDefault writes a default config file when none is found
	createDefault bool
}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{
		config:        &models.Config{},
		viper:         viper.New(),
		logger:        zerolog.New(os.Stdout).With().Timestamp().Logger(),
		createDefault: true,
	}
}

// Load loads configuration from file and environment
func (m *Manager) Load(configPath string) (*models.Config, error) {
	// Set default values
	m.setDefaults()

	// Configure viper
	m.viper.SetConfigName("config")
	m.viper.SetConfigType("yaml")

	if configPath != "" {
		m.viper.AddConfigPath(configPath)
	} else {
		// Default config paths
		m.viper.AddConfigPath(".")
		m.viper.AddConfigPath("./config")
		m.viper.AddConfigPath("$HOME/.tiktok-extractor")
		m.viper.AddConfigPath("/etc/tiktok-extractor")
	}

	// Enable environment variable support
	m.viper.SetEnvPrefix(EnvPrefix)
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.viper.AutomaticEnv()

	// Read configuration
	if err := m.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if m.createDefault {
			dir := configPath
			if dir == "" {
				dir = "./config"
			}
			if err := WriteDefault(dir); err != nil {
				m.logger.Warn().Msgf("Failed to create default config: %v", err)
			} else {
				m.logger.Info().Msgf("Created default config file at: %s", filepath.Join(dir, "config.yaml"))
			}
		}
	}

	// Unmarshal configuration
	if err := m.viper.Unmarshal(m.config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := Validate(m.config); err != nil {
		return nil, err
	}

	// Ensure directories exist
	if err := m.ensureDirectories(); err != nil {
		return nil, fmt.Errorf("error ensuring directories: %w", err)
	}

	// Configure logger
	m.configureLogger()

	return m.config, nil
}

// Save saves the current settings to configPath/config.yaml
func (m *Manager) Save(configPath string) error {
	if err := os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	configFile := filepath.Join(configPath, "config.yaml")
	if err := m.viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("error saving config: %w", err)
	}

	return nil
}

// GetConfig returns the current configuration
func (m *Manager) GetConfig() *models.Config {
	return m.config
}

// UpdateConfig updates specific configuration values
func (m *Manager) UpdateConfig(updates map[string]interface{}) error {
	for key, value := range updates {
		m.viper.Set(key, value)
	}

	if err := m.viper.Unmarshal(m.config); err != nil {
		return err
	}
	return Validate(m.config)
}

// Settings returns every setting as a nested map, for display
func (m *Manager) Settings() map[string]interface{} {
	return m.viper.AllSettings()
}

// setDefaults sets default configuration values
func (m *Manager) setDefaults() {
	// Server defaults
	m.viper.SetDefault("server.host", "0.0.0.0")
	m.viper.SetDefault("server.port", 8080)
	m.viper.SetDefault("server.read_timeout", 30)
	m.viper.SetDefault("server.write_timeout", 30)

	// Download defaults
	m.viper.SetDefault("download.timeout", 300)
	m.viper.SetDefault("download.save_path", "./downloads")
	m.viper.SetDefault("download.create_folder", true)
	m.viper.SetDefault("download.file_naming", "{platform}_{uploader}_{title}_{id}")

	// Database defaults
	m.viper.SetDefault("database.type", "sqlite")
	m.viper.SetDefault("database.path", "./data/tiktok-extractor.db")

	// Log defaults
	m.viper.SetDefault("log.level", "info")
	m.viper.SetDefault("log.format", "text")
	m.viper.SetDefault("log.output", "stdout")

	// HTTP defaults
	m.viper.SetDefault("http.timeout", 30)
	m.viper.SetDefault("http.proxy", "")
	m.viper.SetDefault("http.user_agent", "")
	m.viper.SetDefault("http.tls_fingerprint", "")
	m.viper.SetDefault("http.requests_per_second", 0)
	m.viper.SetDefault("http.burst", 1)

	// API defaults. Both halves of the version override must be set together.
	m.viper.SetDefault("api.app_version", "")
	m.viper.SetDefault("api.manifest_app_version", "")

	// Platform defaults
	m.viper.SetDefault("platforms.tiktok.enabled", true)
	m.viper.SetDefault("platforms.tiktok.cookie", "")
	m.viper.SetDefault("platforms.tiktok.cookie_file", "")
	m.viper.SetDefault("platforms.douyin.enabled", true)
	m.viper.SetDefault("platforms.douyin.cookie", "")
	m.viper.SetDefault("platforms.douyin.cookie_file", "")

	m.viper.SetDefault("subtitles.enabled", true)
	m.viper.SetDefault("pagination.page_size", 20)

	// Browser defaults
	m.viper.SetDefault("browser.enabled", false)
	m.viper.SetDefault("browser.exec_path", "")
	m.viper.SetDefault("browser.page_timeout", 12)

	// Rate limit defaults
	m.viper.SetDefault("rate_limit.enabled", true)
	m.viper.SetDefault("rate_limit.requests_per_second", 10)
	m.viper.SetDefault("rate_limit.burst", 30)
	m.viper.SetDefault("rate_limit.max_concurrent", 100)
	m.viper.SetDefault("rate_limit.whitelisted_ips", []string{"127.0.0.1", "::1"})

	m.viper.SetDefault("metrics.enabled", true)

	// Auth defaults
	m.viper.SetDefault("auth.enabled", false)
	m.viper.SetDefault("auth.jwt_secret", "")
	m.viper.SetDefault("auth.token_ttl", 86400)
	m.viper.SetDefault("auth.api_keys", []string{})
}

// DefaultConfig is the content of a freshly created config file
const DefaultConfig = `# TikTok extractor configuration

server:
  host: 0.0.0.0
  port: 8080
  read_timeout: 30
  write_timeout: 30

download:
  timeout: 300
  save_path: ./downloads
  create_folder: true
  file_naming: "{platform}_{uploader}_{title}_{id}"

database:
  type: sqlite
  path: ./data/tiktok-extractor.db

log:
  level: info
  format: text
  output: stdout

http:
  timeout: 30
  proxy: ""              # http://, https:// or socks5:// proxy URL
  user_agent: ""
  tls_fingerprint: ""    # "randomized" to vary the TLS client hello
  requests_per_second: 0 # 0 disables outbound throttling
  burst: 1

api:
  # Pin a mobile app version instead of negotiating one. Set both or neither.
  app_version: ""
  manifest_app_version: ""

platforms:
  tiktok:
    enabled: true
    cookie: ""
    cookie_file: ""
  douyin:
    enabled: true
    cookie: ""
    cookie_file: ""

subtitles:
  enabled: true

pagination:
  page_size: 20

browser:
  enabled: false
  exec_path: ""
  page_timeout: 12

rate_limit:
  enabled: true
  requests_per_second: 10
  burst: 30
  max_concurrent: 100
  whitelisted_ips:
    - "127.0.0.1"
    - "::1"

metrics:
  enabled: true

auth:
  # Require an API key or token on /extract, /batch and record changes.
  # Hash keys with "tiktok-extractor auth hash-key".
  enabled: false
  jwt_secret: ""
  token_ttl: 86400 # seconds
  api_keys: []
`

// WriteDefault writes DefaultConfig to dir/config.yaml unless the file exists
func WriteDefault(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	configFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file %s already exists", configFile)
	}

	if err := os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
		return fmt.Errorf("error writing default config: %w", err)
	}
	return nil
}

// Validate rejects settings the extractors cannot work with
func Validate(config *models.Config) error {
	if (config.API.AppVersion == "") != (config.API.ManifestAppVersion == "") {
		return fmt.Errorf("api.app_version and api.manifest_app_version must be set together")
	}
	if config.HTTP.TLSFingerprint != "" && config.HTTP.TLSFingerprint != "randomized" {
		return fmt.Errorf("unknown http.tls_fingerprint %q", config.HTTP.TLSFingerprint)
	}
	if config.Pagination.PageSize < 0 {
		return fmt.Errorf("pagination.page_size must not be negative")
	}
	if config.Auth.Enabled {
		if len(config.Auth.APIKeys) == 0 {
			return fmt.Errorf("auth.enabled requires at least one entry in auth.api_keys")
		}
		if config.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.enabled requires auth.jwt_secret")
		}
	}
	return nil
}

// ensureDirectories ensures all required directories exist
func (m *Manager) ensureDirectories() error {
	dirs := []string{
		m.config.Download.SavePath,
		filepath.Dir(m.config.Database.Path),
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating directory %s: %w", dir, err)
		}
	}

	return nil
}

// configureLogger configures the logger based on settings
func (m *Manager) configureLogger() {
	// Set log level
	level, err := zerolog.ParseLevel(m.config.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Set log output
	var out io.Writer = os.Stdout
	switch m.config.Log.Output {
	case "", "stdout":
	case "stderr":
		out = os.Stderr
	default:
		file, err := os.OpenFile(m.config.Log.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			out = file
		} else {
			m.logger.Warn().Err(err).Msg("Failed to open log file, logging to stdout")
		}
	}

	// Set log format
	if m.config.Log.Format != "json" {
		out = zerolog.ConsoleWriter{Out: out, NoColor: out != os.Stdout && out != os.Stderr}
	}

	m.logger = zerolog.New(out).With().Timestamp().Logger()
}

// GetLogger returns the logger instance
func (m *Manager) GetLogger() zerolog.Logger {
	return m.logger
}
