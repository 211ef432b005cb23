package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config is the top-level configuration structure.
type Config struct {
	Application *Application `mapstructure:"application"`
	Logger      *Logger      `mapstructure:"logger"`
	Tenants     *Tenants     `mapstructure:"tenants"`
}

var AppConfig = &Config{
	Application: ApplicationConfig,
	Logger:      LoggerConfig,
	Tenants:     TenantsConfig,
}

// Setup reads the yaml config file into AppConfig.
func Setup(configYml string) error {
	v := viper.New()
	v.SetConfigFile(configYml)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", configYml, err)
	}

	if err := v.Unmarshal(AppConfig); err != nil {
		return fmt.Errorf("parse config file %s: %w", configYml, err)
	}

	return nil
}
