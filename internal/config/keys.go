package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	secret  bool
	extract func(cfg Config) any
}

var specs = []keySpec{
	{key: "server.listen", typ: kString, extract: func(c Config) any { return c.Server.Listen }},
	{key: "server.api_token", typ: kString, secret: true, extract: func(c Config) any { return c.Server.APIToken }},
	{key: "server.api_token_file", typ: kString, extract: func(c Config) any { return c.Server.APITokenFile }},
	{key: "server.pid_file", typ: kString, extract: func(c Config) any { return c.Server.PIDFile }},
	{key: "server.shutdown_timeout", typ: kDuration, extract: func(c Config) any { return c.Server.ShutdownTimeout }},
	{key: "server.mcp_stdio", typ: kBool, extract: func(c Config) any { return c.Server.MCPStdio }},
	{key: "storage.dsn", typ: kString, secret: true, extract: func(c Config) any { return c.Storage.DSN }},
	{key: "discord.token", typ: kString, secret: true, extract: func(c Config) any { return c.Discord.Token }},
	{key: "discord.token_file", typ: kString, extract: func(c Config) any { return c.Discord.TokenFile }},
	{key: "discord.guild_id", typ: kString, extract: func(c Config) any { return c.Discord.GuildID }},
	{key: "discord.base_url", typ: kString, extract: func(c Config) any { return c.Discord.BaseURL }},
	{key: "inference.provider", typ: kString, extract: func(c Config) any { return c.Inference.Provider }},
	{key: "inference.model", typ: kString, extract: func(c Config) any { return c.Inference.Model }},
	{key: "inference.timeout", typ: kDuration, extract: func(c Config) any { return c.Inference.Timeout }},
	{key: "inference.gemini_api_key", typ: kString, secret: true, extract: func(c Config) any { return c.Inference.GeminiAPIKey }},
	{key: "inference.gemini_api_key_file", typ: kString, extract: func(c Config) any { return c.Inference.GeminiAPIKeyFile }},
	{key: "inference.ollama_base_url", typ: kString, extract: func(c Config) any { return c.Inference.OllamaBaseURL }},
	{key: "enrichment.period", typ: kDuration, extract: func(c Config) any { return c.Enrichment.Period }},
	{key: "enrichment.concurrency", typ: kInt, extract: func(c Config) any { return c.Enrichment.Concurrency }},
	{key: "enrichment.cycle_timeout", typ: kDuration, extract: func(c Config) any { return c.Enrichment.CycleTimeout }},
	{key: "enrichment.threshold", typ: kFloat, extract: func(c Config) any { return c.Enrichment.Threshold }},
	{key: "enrichment.buffer_capacity", typ: kInt, extract: func(c Config) any { return c.Enrichment.BufferCapacity }},
	{key: "log.level", typ: kString, extract: func(c Config) any { return c.Log.Level }},
	{key: "log.json", typ: kBool, extract: func(c Config) any { return c.Log.JSON }},
}

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs from cfg. Secret values are masked.
func ShowAll(cfg Config) []KeyInfo {
	result := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		value := fmt.Sprintf("%v", s.extract(cfg))
		if s.secret && value != "" {
			value = "********"
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: envName(s.key),
			Value:  value,
		})
	}
	return result
}

// ValidKeys returns the list of config keys that SetKey accepts.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}

// SetKey writes a non-secret key to the YAML config file at path, creating
// the file when it does not exist.
func SetKey(path, key, value string) error {
	var spec *keySpec
	for i := range specs {
		if specs[i].key == key {
			spec = &specs[i]
			break
		}
	}
	if spec == nil {
		return fmt.Errorf("unknown config key: %q", key)
	}
	if spec.secret {
		return fmt.Errorf("cannot set secret %q via config; use environment variable %s or %s_file", key, envName(key), key)
	}

	parsed, err := parseValue(spec.typ, value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	v.Set(key, parsed)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, err
		}
		return d.String(), nil
	default:
		return raw, nil
	}
}
