package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppName is used for the config file name and the environment prefix.
const AppName = "emobot"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Discord    DiscordConfig    `mapstructure:"discord"`
	Inference  InferenceConfig  `mapstructure:"inference"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	APIToken        string        `mapstructure:"api_token"`
	APITokenFile    string        `mapstructure:"api_token_file"`
	PIDFile         string        `mapstructure:"pid_file"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MCPStdio        bool          `mapstructure:"mcp_stdio"`
}

type StorageConfig struct {
	DSN string `mapstructure:"dsn"`
}

type DiscordConfig struct {
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"token_file"`
	GuildID   string `mapstructure:"guild_id"`
	BaseURL   string `mapstructure:"base_url"`
}

type InferenceConfig struct {
	Provider         string        `mapstructure:"provider"`
	Model            string        `mapstructure:"model"`
	Timeout          time.Duration `mapstructure:"timeout"`
	GeminiAPIKey     string        `mapstructure:"gemini_api_key"`
	GeminiAPIKeyFile string        `mapstructure:"gemini_api_key_file"`
	OllamaBaseURL    string        `mapstructure:"ollama_base_url"`
}

type EnrichmentConfig struct {
	Period         time.Duration `mapstructure:"period"`
	Concurrency    int           `mapstructure:"concurrency"`
	CycleTimeout   time.Duration `mapstructure:"cycle_timeout"`
	Threshold      float64       `mapstructure:"threshold"`
	BufferCapacity int           `mapstructure:"buffer_capacity"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Listen:          "127.0.0.1:4100",
			PIDFile:         filepath.Join(defaultDataDir(), AppName+".pid"),
			ShutdownTimeout: 10 * time.Second,
		},
		Discord: DiscordConfig{
			BaseURL: "https://discord.com/api/v10",
		},
		Inference: InferenceConfig{
			Provider:      "auto",
			Timeout:       60 * time.Second,
			OllamaBaseURL: "http://localhost:11434",
		},
		Enrichment: EnrichmentConfig{
			Period:         24 * time.Hour,
			Concurrency:    4,
			CycleTimeout:   time.Hour,
			Threshold:      0.3,
			BufferCapacity: 50,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "state", AppName)
}

// InitViper creates a *viper.Viper with defaults registered, the config file
// read and EMOBOT_* environment variables bound.
//
// Precedence (highest to lowest):
//  1. Environment variables (EMOBOT_STORAGE_DSN, EMOBOT_DISCORD_TOKEN, ...)
//  2. The config file: configFile when set, otherwise emobot.yaml in the
//     working directory
//  3. Built-in defaults
func InitViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	setViperDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing default file is fine; an explicit one must exist.
		if configFile != "" || !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix(strings.ToUpper(AppName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers every key so AutomaticEnv and Unmarshal see it,
// including the secrets that have no default value.
func setViperDefaults(v *viper.Viper) {
	d := defaults()
	for _, s := range specs {
		v.SetDefault(s.key, s.extract(d))
	}
}

// Load reads, resolves and validates the configuration. Missing required
// settings are reported together in one error.
func Load(configFile string) (Config, error) {
	v, err := InitViper(configFile)
	if err != nil {
		return Config{}, err
	}
	return loadFrom(v)
}

func loadFrom(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := resolveSecrets(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read decodes the configuration and resolves secret files without
// validating it.
func Read(configFile string) (Config, error) {
	v, err := InitViper(configFile)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := resolveSecrets(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadClient reads the configuration for commands that only talk to a
// running server. Only the API token is required.
func LoadClient(configFile string) (Config, error) {
	cfg, err := Read(configFile)
	if err != nil {
		return Config{}, err
	}
	if cfg.Server.APIToken == "" {
		return Config{}, fmt.Errorf("missing required config: server.api_token (%s)", envName("server.api_token"))
	}
	return cfg, nil
}

// FilePath returns the file config set writes to.
func FilePath(configFile string) string {
	if configFile != "" {
		return configFile
	}
	return AppName + ".yaml"
}

// resolveSecrets replaces inline secrets with the contents of their *_file
// counterparts when those are set.
func resolveSecrets(cfg *Config) error {
	for _, s := range []struct {
		name  string
		value *string
		file  string
	}{
		{"server.api_token", &cfg.Server.APIToken, cfg.Server.APITokenFile},
		{"discord.token", &cfg.Discord.Token, cfg.Discord.TokenFile},
		{"inference.gemini_api_key", &cfg.Inference.GeminiAPIKey, cfg.Inference.GeminiAPIKeyFile},
	} {
		if strings.TrimSpace(s.file) == "" {
			*s.value = strings.TrimSpace(*s.value)
			continue
		}
		secret, err := LoadSecret(SecretSource{Name: s.name, Value: *s.value, File: s.file})
		if err != nil {
			return err
		}
		*s.value = secret
	}
	return nil
}

// Validate checks required settings and value ranges.
func (c Config) Validate() error {
	var missing []string
	require := func(key, val string) {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, fmt.Sprintf("%s (%s)", key, envName(key)))
		}
	}
	require("storage.dsn", c.Storage.DSN)
	require("discord.token", c.Discord.Token)
	require("discord.guild_id", c.Discord.GuildID)
	require("server.api_token", c.Server.APIToken)

	provider := strings.ToLower(strings.TrimSpace(c.Inference.Provider))
	switch provider {
	case "gemini":
		require("inference.gemini_api_key", c.Inference.GeminiAPIKey)
	case "ollama", "auto", "":
	default:
		return fmt.Errorf("invalid inference.provider %q: must be one of auto, gemini, ollama", c.Inference.Provider)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	if c.Enrichment.Period <= 0 {
		return fmt.Errorf("enrichment.period must be positive, got %s", c.Enrichment.Period)
	}
	if c.Enrichment.Concurrency < 1 {
		return fmt.Errorf("enrichment.concurrency must be at least 1, got %d", c.Enrichment.Concurrency)
	}
	if c.Enrichment.Threshold < 0 || c.Enrichment.Threshold > 1 {
		return fmt.Errorf("enrichment.threshold must be within [0, 1], got %v", c.Enrichment.Threshold)
	}
	if c.Inference.Timeout <= 0 {
		return fmt.Errorf("inference.timeout must be positive, got %s", c.Inference.Timeout)
	}
	return nil
}

func envName(key string) string {
	return strings.ToUpper(AppName) + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
