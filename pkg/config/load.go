package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces environment overrides, e.g. CATALOG_STATE_DIR
const EnvPrefix = "CATALOG"

// Load reads the YAML config file at path and layers environment overrides on top.
// Defaults are not applied here; call Validate afterwards.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(&cfg, newEnv())
	return &cfg, nil
}

// LoadDefaults returns an empty config with environment overrides applied,
// for running without a config file. Validate fills in the built-in platforms.
func LoadDefaults() *AppConfig {
	cfg := &AppConfig{}
	ApplyEnvOverrides(cfg, newEnv())
	return cfg
}

func newEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AllowEmptyEnv(false)
	v.AutomaticEnv()
	return v
}

// ApplyEnvOverrides copies the supported environment settings onto cfg.
// Only a handful of deployment-specific keys are overridable.
func ApplyEnvOverrides(cfg *AppConfig, v *viper.Viper) {
	if s := v.GetString("state_dir"); s != "" {
		cfg.StateDir = s
	}
	if s := v.GetString("output_base_dir"); s != "" {
		cfg.OutputBaseDir = s
	}
	if s := v.GetString("log_level"); s != "" {
		cfg.LogLevel = s
	}
	if s := v.GetString("metrics_addr"); s != "" {
		cfg.MetricsAddr = s
	}
	if s := v.GetString("user_agent"); s != "" {
		cfg.DefaultUserAgent = s
	}
	if s := v.GetString("discount_policy"); s != "" {
		cfg.DiscountPolicy = s
	}
	if v.IsSet("max_retries") {
		cfg.MaxRetries = v.GetInt("max_retries")
	}
	if v.IsSet("request_timeout") {
		if d := v.GetDuration("request_timeout"); d > 0 {
			cfg.RequestTimeout = d
		}
	}
}
