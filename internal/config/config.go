package config

import (
	_ "embed"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Retrieval      Retrieval      `yaml:"retrieval"`
	Classification Classification `yaml:"classification"`
	Embedding      Embedding      `yaml:"embedding"`
	Concurrency    Concurrency    `yaml:"concurrency"`
	Analytics      Analytics      `yaml:"analytics"`
	Impact         Impact         `yaml:"impact"`
	Output         Output         `yaml:"output"`
	Server         Server         `yaml:"server"`
	Logging        Logging        `yaml:"logging"`
}

type Retrieval struct {
	LexicalTopN       int         `yaml:"lexical_top_n"`
	MinParagraphChars int         `yaml:"min_paragraph_chars"`
	Screening         RoundBudget `yaml:"screening"`
	Verification      RoundBudget `yaml:"verification"`
}

// RoundBudget is the evidence budget for one classification round.
type RoundBudget struct {
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`
}

type Classification struct {
	Provider              string  `yaml:"provider"`
	OllamaURL             string  `yaml:"ollama_url"`
	BaseURL               string  `yaml:"base_url"`
	APIKeyEnv             string  `yaml:"api_key_env"`
	ScreeningModel        string  `yaml:"screening_model"`
	VerificationModel     string  `yaml:"verification_model"`
	ScreeningMaxTokens    int     `yaml:"screening_max_tokens"`
	VerificationMaxTokens int     `yaml:"verification_max_tokens"`
	TimeoutSeconds        int     `yaml:"timeout_seconds"`
	MaxAttempts           int     `yaml:"max_attempts"`
	BackoffMillis         int     `yaml:"backoff_ms"`
	RequestsPerSecond     float64 `yaml:"requests_per_second"`
	Burst                 int     `yaml:"burst"`
	IncludeDeprioritized  bool    `yaml:"include_deprioritized"`

	// ModelRates overrides requests_per_second and burst for single models.
	ModelRates map[string]ModelRate `yaml:"model_rates"`
}

// ModelRate is a token bucket for one model.
type ModelRate struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type Embedding struct {
	Provider         string `yaml:"provider"`
	Model            string `yaml:"model"`
	CacheTTLMinutes  int    `yaml:"cache_ttl_minutes"`
	RedisAddr        string `yaml:"redis_addr"`
	RedisPasswordEnv string `yaml:"redis_password_env"`
}

type Concurrency struct {
	Workers       int `yaml:"workers"`
	ExternalCalls int `yaml:"external_calls"`
}

type Analytics struct {
	RepeatOffenderThreshold int    `yaml:"repeat_offender_threshold"`
	ReportDir               string `yaml:"report_dir"`
	Minio                   Minio  `yaml:"minio"`
}

type Minio struct {
	Enabled      bool   `yaml:"enabled"`
	Endpoint     string `yaml:"endpoint"`
	Bucket       string `yaml:"bucket"`
	AccessKeyEnv string `yaml:"access_key_env"`
	SecretKeyEnv string `yaml:"secret_key_env"`
	UseSSL       bool   `yaml:"use_ssl"`
}

type Impact struct {
	MaxDocumentChars int `yaml:"max_document_chars"`
	MaxTokens        int `yaml:"max_tokens"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigDir returns the XDG config directory for citefidelity.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "citefidelity")
}

// DataDir returns the XDG data directory for citefidelity.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "citefidelity")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/citefidelity/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", eris.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", eris.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'citefidelity init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "reading config")
	}
	return parse(data)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg, err := parse(nil)
	if err != nil {
		panic(err)
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Retrieval: Retrieval{
			LexicalTopN:       20,
			MinParagraphChars: 20,
			Screening:         RoundBudget{TopK: 5, MinScore: 0.7},
			Verification:      RoundBudget{TopK: 15, MinScore: 0.5},
		},
		Classification: Classification{
			Provider:              "openai",
			OllamaURL:             "http://localhost:11434",
			APIKeyEnv:             "OPENAI_API_KEY",
			ScreeningModel:        "gpt-4o-mini",
			VerificationModel:     "gpt-4o",
			ScreeningMaxTokens:    600,
			VerificationMaxTokens: 2000,
			TimeoutSeconds:        90,
			MaxAttempts:           3,
			BackoffMillis:         500,
			RequestsPerSecond:     2,
			Burst:                 4,
		},
		Embedding: Embedding{
			Provider:         "openai",
			Model:            "text-embedding-3-small",
			CacheTTLMinutes:  60,
			RedisPasswordEnv: "REDIS_PASSWORD",
		},
		Concurrency: Concurrency{Workers: 8, ExternalCalls: 4},
		Analytics: Analytics{
			RepeatOffenderThreshold: 2,
			Minio: Minio{
				Bucket:       "citefidelity-reports",
				AccessKeyEnv: "MINIO_ACCESS_KEY",
				SecretKeyEnv: "MINIO_SECRET_KEY",
			},
		},
		Impact:  Impact{MaxDocumentChars: 24000, MaxTokens: 3000},
		Server:  Server{Port: 8000, AllowedOrigins: []string{"http://localhost:5173"}},
		Logging: Logging{Level: "info", Format: "console"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, eris.Wrap(err, "parsing config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Retrieval.Screening.TopK <= 0 || c.Retrieval.Verification.TopK <= 0 {
		return eris.New("retrieval top_k must be positive")
	}
	for _, s := range []float64{c.Retrieval.Screening.MinScore, c.Retrieval.Verification.MinScore} {
		if s < 0 || s > 1 {
			return eris.Errorf("retrieval min_score %.2f outside [0,1]", s)
		}
	}
	if c.Concurrency.Workers <= 0 || c.Concurrency.ExternalCalls <= 0 {
		return eris.New("concurrency workers and external_calls must be positive")
	}
	if c.Classification.MaxAttempts <= 0 {
		return eris.New("classification max_attempts must be positive")
	}
	for model, r := range c.Classification.ModelRates {
		if r.RequestsPerSecond < 0 || r.Burst < 0 {
			return eris.Errorf("model_rates for %s must not be negative", model)
		}
	}
	if c.Analytics.RepeatOffenderThreshold <= 0 {
		return eris.New("analytics repeat_offender_threshold must be positive")
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// GetReportDir returns where analytics reports are written.
func (c *Config) GetReportDir() string {
	if c.Analytics.ReportDir != "" {
		return c.Analytics.ReportDir
	}
	return filepath.Join(c.GetDataDir(), "reports")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
