package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/wuwenbin0122/kbagent/internal/utils"
)

const (
	// CredentialEnvVar names the secret the model API requires.
	CredentialEnvVar = "GROQ_API_KEY"
	// EnvFileHint is where users are told to put the credential.
	EnvFileHint = ".env file"

	defaultAPIBase      = "https://api.groq.com/openai/v1"
	defaultModel        = "llama-3.3-70b-versatile"
	defaultTemperature  = 0.7
	defaultMaxTokens    = 1024
	defaultDocumentsDir = "documents"
	defaultServerAddr   = ":8501"
	defaultAppConfig    = "config/app.yaml"
)

var ErrMissingCredential = errors.New(CredentialEnvVar + " is missing: add it to your " + EnvFileHint)

type Config struct {
	ServerAddr     string
	DocumentsDir   string
	GroqAPIBaseURL string
	GroqAPIKey     string
	GroqModel      string
	Temperature    float64
	MaxTokens      int
	HTTPTimeout    time.Duration
	SessionSecret  string
	SessionTTL     time.Duration
	WatchDocuments bool
	Logging        utils.LoggingConfig
}

// fileSettings is the optional YAML overlay. Secrets are deliberately absent.
type fileSettings struct {
	APIBase      string   `yaml:"api_base"`
	Model        string   `yaml:"model"`
	Temperature  *float64 `yaml:"temperature"`
	MaxTokens    int      `yaml:"max_tokens"`
	DocumentsDir string   `yaml:"documents_dir"`
	ServerAddr   string   `yaml:"server_addr"`
}

var (
	cfg     *Config
	loadErr error
	once    sync.Once
)

// Load reads config/.env and .env once, then builds the process configuration.
// The returned error is non-nil when a required setting, such as the credential, is absent.
func Load() (*Config, error) {
	once.Do(func() {
		if err := loadEnvFiles("config/.env", ".env"); err != nil {
			loadErr = fmt.Errorf("load env files: %w", err)
			return
		}

		cfg, loadErr = build()
	})

	return cfg, loadErr
}

func loadEnvFiles(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			var pathErr *fs.PathError
			if errors.As(err, &pathErr) {
				// missing env files are fine, variables may come from the environment
				continue
			}
			return err
		}
	}

	return nil
}

func build() (*Config, error) {
	settings, err := readFileSettings(utils.EnvOrDefault("APP_CONFIG_FILE", defaultAppConfig))
	if err != nil {
		return nil, err
	}

	apiBase := firstNonEmpty(os.Getenv("GROQ_API_BASE"), settings.APIBase, defaultAPIBase)
	model := firstNonEmpty(os.Getenv("GROQ_MODEL"), settings.Model, defaultModel)
	docsDir := firstNonEmpty(os.Getenv("DOCUMENTS_DIR"), settings.DocumentsDir, defaultDocumentsDir)
	addr := firstNonEmpty(os.Getenv("SERVER_ADDR"), settings.ServerAddr, defaultServerAddr)

	temperature := defaultTemperature
	if settings.Temperature != nil {
		temperature = *settings.Temperature
	}
	temperature = utils.ParseFloat(os.Getenv("GROQ_TEMPERATURE"), temperature)

	maxTokens := defaultMaxTokens
	if settings.MaxTokens > 0 {
		maxTokens = settings.MaxTokens
	}
	maxTokens = utils.ParsePositiveInt(os.Getenv("GROQ_MAX_TOKENS"), maxTokens)

	secret := strings.TrimSpace(os.Getenv("SESSION_SECRET"))
	if secret == "" {
		secret = uuid.NewString() + uuid.NewString()
	}

	c := &Config{
		ServerAddr:     addr,
		DocumentsDir:   docsDir,
		GroqAPIBaseURL: strings.TrimRight(apiBase, "/"),
		GroqAPIKey:     strings.TrimSpace(os.Getenv(CredentialEnvVar)),
		GroqModel:      model,
		Temperature:    temperature,
		MaxTokens:      maxTokens,
		HTTPTimeout:    utils.ParseDuration(os.Getenv("GROQ_HTTP_TIMEOUT"), 120*time.Second),
		SessionSecret:  secret,
		SessionTTL:     utils.ParseDuration(os.Getenv("SESSION_TTL"), 12*time.Hour),
		WatchDocuments: utils.ParseBool(os.Getenv("WATCH_DOCUMENTS"), true),
		Logging:        utils.LoadLoggingConfig(),
	}

	return c, c.validate()
}

func readFileSettings(path string) (fileSettings, error) {
	var settings fileSettings

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return settings, nil
		}
		return settings, fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("parse %s: %w", path, err)
	}

	return settings, nil
}

// HasCredential reports whether the model API key is present.
func (c *Config) HasCredential() bool {
	return c != nil && c.GroqAPIKey != ""
}

func (c *Config) validate() error {
	if c.GroqAPIKey == "" {
		return ErrMissingCredential
	}

	if c.MaxTokens <= 0 {
		return fmt.Errorf("GROQ_MAX_TOKENS must be positive, got %d", c.MaxTokens)
	}

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
