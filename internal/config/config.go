package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Generation struct {
		BaseURL       string        `mapstructure:"base_url"`
		APIKey        string        `mapstructure:"api_key"`
		PlanningModel string        `mapstructure:"planning_model"`
		WritingModel  string        `mapstructure:"writing_model"`
		ReviewModel   string        `mapstructure:"review_model"`
		Temperature   float64       `mapstructure:"temperature"`
		MaxTokens     int           `mapstructure:"max_tokens"`
		Timeout       time.Duration `mapstructure:"timeout"`
		MaxAttempts   int           `mapstructure:"max_attempts"`
	} `mapstructure:"generation"`
	Workflow struct {
		AutoFix           bool          `mapstructure:"auto_fix"`
		StrictSchema      bool          `mapstructure:"strict_schema"`
		Chapter1MinClues  int           `mapstructure:"ch1_min_clues"`
		MinExposures      int           `mapstructure:"min_exposures"`
		EventHistoryLimit int           `mapstructure:"event_history_limit"`
		HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
		ActivityTTL       time.Duration `mapstructure:"activity_ttl"`
	} `mapstructure:"workflow"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// LoadConfig loads the configuration from a file and the environment. When
// configFile is non-empty that exact file is used, otherwise config.yaml is
// searched in the working directory and ./config.
func LoadConfig(configFile string) (*Config, error) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}
	viper.AutomaticEnv()

	viper.SetDefault("workflow.auto_fix", true)
	viper.SetDefault("workflow.event_history_limit", 200)
	viper.SetDefault("workflow.heartbeat_interval", 15*time.Second)
	viper.SetDefault("workflow.activity_ttl", 30*time.Minute)

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine, everything can come from env vars.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.Generation.APIKey == "" {
		config.Generation.APIKey = viper.GetString("DEEPSEEK_API_KEY")
	}

	return &config, nil
}
