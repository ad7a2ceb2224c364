package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "CITEFIDELITY"

// Overrides layers environment variables and explicitly set CLI flags
// on top of values read from the YAML file.
type Overrides struct {
	v *viper.Viper
}

// NewOverrides returns an override layer reading CITEFIDELITY_* variables,
// e.g. CITEFIDELITY_CONCURRENCY_WORKERS for concurrency.workers.
func NewOverrides() *Overrides {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Overrides{v: v}
}

// BindFlag binds a flag to a config key. Only flags the user changed win
// over the file.
func (o *Overrides) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return nil
	}
	return o.v.BindPFlag(key, flag)
}

// Apply copies every set override onto cfg and re-validates it.
func (o *Overrides) Apply(cfg *Config) error {
	str := func(key string, dst *string) {
		if o.v.IsSet(key) {
			*dst = o.v.GetString(key)
		}
	}
	num := func(key string, dst *int) {
		if o.v.IsSet(key) {
			*dst = o.v.GetInt(key)
		}
	}
	float := func(key string, dst *float64) {
		if o.v.IsSet(key) {
			*dst = o.v.GetFloat64(key)
		}
	}

	str("classification.provider", &cfg.Classification.Provider)
	str("classification.base_url", &cfg.Classification.BaseURL)
	str("classification.screening_model", &cfg.Classification.ScreeningModel)
	str("classification.verification_model", &cfg.Classification.VerificationModel)
	num("classification.max_attempts", &cfg.Classification.MaxAttempts)
	float("classification.requests_per_second", &cfg.Classification.RequestsPerSecond)

	str("embedding.provider", &cfg.Embedding.Provider)
	str("embedding.model", &cfg.Embedding.Model)
	str("embedding.redis_addr", &cfg.Embedding.RedisAddr)

	num("concurrency.workers", &cfg.Concurrency.Workers)
	num("concurrency.external_calls", &cfg.Concurrency.ExternalCalls)

	num("retrieval.lexical_top_n", &cfg.Retrieval.LexicalTopN)
	num("analytics.repeat_offender_threshold", &cfg.Analytics.RepeatOffenderThreshold)
	str("analytics.report_dir", &cfg.Analytics.ReportDir)

	str("output.data_dir", &cfg.Output.DataDir)
	str("logging.level", &cfg.Logging.Level)
	str("logging.format", &cfg.Logging.Format)
	num("server.port", &cfg.Server.Port)

	return cfg.Validate()
}
