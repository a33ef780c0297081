// Package config loads the application configuration and the backtest
// scenario definition.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// App is the application configuration, loaded from cambist.yaml with
// CAMBIST_* environment overrides.
type App struct {
	LogLevel      string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	DataFile      string `mapstructure:"data_file" validate:"required"`
	BaseNumeraire string `mapstructure:"base_numeraire" validate:"required"`
	ScenarioFile  string `mapstructure:"scenario_file" validate:"required"`
	Store         struct {
		Driver string `mapstructure:"driver" validate:"required,oneof=sqlite postgres"`
		DSN    string `mapstructure:"dsn" validate:"required"`
	} `mapstructure:"store"`
	CheckpointDir string `mapstructure:"checkpoint_dir"`
	MetricsAddr   string `mapstructure:"metrics_addr"`
}

// Load reads the application config. An empty path falls back to
// cambist.yaml in the working directory or ./configs.
func Load(path string) (*App, error) {
	v := viper.New()
	v.SetDefault("log_level", "info")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "cambist.db")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cambist")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}
	v.SetEnvPrefix("CAMBIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var app App
	if err := v.Unmarshal(&app); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validator.New().Struct(&app); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &app, nil
}
