package config

import (
	"context"
	"fmt"
	"os"

	"github.com/jcorwin/helmsman/pkg/secrets"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is an immutable value: components receive a snapshot per
// cycle and never see mid-cycle edits. Mutations go through Store and
// always replace the whole value.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Provider ProviderConfig `mapstructure:"provider"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	GCP      GCPConfig      `mapstructure:"gcp"`
}

type ServerConfig struct {
	Port          int    `mapstructure:"port"`
	SessionSecret string `mapstructure:"session_secret"`
}

type ExchangeConfig struct {
	APIKey       string `mapstructure:"api_key"`
	APISecret    string `mapstructure:"api_secret"`
	ForwardURL   string `mapstructure:"forward_url"`
	ForwardStyle string `mapstructure:"forward_style"` // "query" or "path"
}

// HasCredentials reports whether signed calls are possible. This is
// the session gate's authorization check.
func (e ExchangeConfig) HasCredentials() bool {
	return e.APIKey != "" && e.APISecret != ""
}

type ProviderConfig struct {
	Name  string            `mapstructure:"name"`
	Model string            `mapstructure:"model"`
	Keys  map[string]string `mapstructure:"keys"`
}

// Key returns the API key for the selected provider.
func (p ProviderConfig) Key() string {
	return p.Keys[p.Name]
}

type TradingConfig struct {
	Symbol             string  `mapstructure:"symbol"`
	Leverage           int     `mapstructure:"leverage"`
	RiskPercent        float64 `mapstructure:"risk_percent"`
	AutoTrade          bool    `mapstructure:"auto_trade"`
	IntervalMinutes    int     `mapstructure:"interval_minutes"`
	Live               bool    `mapstructure:"live"`
	MarketPollSeconds  int     `mapstructure:"market_poll_seconds"`
	AccountSyncSeconds int     `mapstructure:"account_sync_seconds"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/helmsman")
	}

	v.SetEnvPrefix("HELMSMAN")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		ctx := context.Background()
		logger := logrus.New()
		if err := loadSecretsFromGCP(ctx, &config, logger); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.session_secret", "")

	v.SetDefault("exchange.forward_url", "")
	v.SetDefault("exchange.forward_style", "query")

	v.SetDefault("provider.name", "openai")
	v.SetDefault("provider.model", "")

	v.SetDefault("trading.symbol", "BTCUSDT")
	v.SetDefault("trading.leverage", 5)
	v.SetDefault("trading.risk_percent", 2.0)
	v.SetDefault("trading.auto_trade", false)
	v.SetDefault("trading.interval_minutes", 5)
	v.SetDefault("trading.live", false)
	v.SetDefault("trading.market_poll_seconds", 10)
	v.SetDefault("trading.account_sync_seconds", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.credentials_file", "")

	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.exchange_api_key", secretNames.ExchangeAPIKey)
	v.SetDefault("gcp.secret_names.exchange_api_secret", secretNames.ExchangeAPISecret)
	v.SetDefault("gcp.secret_names.openai_key", secretNames.OpenAIKey)
	v.SetDefault("gcp.secret_names.deepseek_key", secretNames.DeepSeekKey)
	v.SetDefault("gcp.secret_names.gemini_key", secretNames.GeminiKey)
	v.SetDefault("gcp.secret_names.session_secret", secretNames.SessionSecret)
}

func overrideFromEnv(config *Config) {
	if apiKey := os.Getenv("MEXC_API_KEY"); apiKey != "" {
		config.Exchange.APIKey = apiKey
	}
	if apiSecret := os.Getenv("MEXC_API_SECRET"); apiSecret != "" {
		config.Exchange.APISecret = apiSecret
	}
	if forward := os.Getenv("FORWARD_URL"); forward != "" {
		config.Exchange.ForwardURL = forward
	}

	if config.Provider.Keys == nil {
		config.Provider.Keys = make(map[string]string)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		config.Provider.Keys["openai"] = key
	}
	if key := os.Getenv("DEEPSEEK_API_KEY"); key != "" {
		config.Provider.Keys["deepseek"] = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		config.Provider.Keys["gemini"] = key
	}

	if secret := os.Getenv("SESSION_SECRET"); secret != "" {
		config.Server.SessionSecret = secret
	}

	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
}

func loadSecretsFromGCP(ctx context.Context, config *Config, logger *logrus.Logger) error {
	secretManager, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, config.GCP.CredentialsFile, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer secretManager.Close()

	// Only load secrets that are not already set
	if config.Exchange.APIKey == "" {
		config.Exchange.APIKey = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.ExchangeAPIKey, "")
	}
	if config.Exchange.APISecret == "" {
		config.Exchange.APISecret = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.ExchangeAPISecret, "")
	}

	if config.Provider.Keys == nil {
		config.Provider.Keys = make(map[string]string)
	}
	if config.Provider.Keys["openai"] == "" {
		config.Provider.Keys["openai"] = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.OpenAIKey, "")
	}
	if config.Provider.Keys["deepseek"] == "" {
		config.Provider.Keys["deepseek"] = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.DeepSeekKey, "")
	}
	if config.Provider.Keys["gemini"] == "" {
		config.Provider.Keys["gemini"] = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.GeminiKey, "")
	}

	if config.Server.SessionSecret == "" {
		config.Server.SessionSecret = secretManager.GetSecretWithDefault(ctx,
			config.GCP.SecretNames.SessionSecret, "")
	}

	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}
