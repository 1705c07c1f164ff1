package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestShowAll_MasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Discord.Token = "super-secret"
	cfg.Discord.GuildID = "42"

	seen := map[string]KeyInfo{}
	for _, k := range ShowAll(cfg) {
		seen[k.Key] = k
	}

	if got := seen["discord.token"].Value; got != "********" {
		t.Errorf("discord.token shown as %q", got)
	}
	if got := seen["discord.guild_id"].Value; got != "42" {
		t.Errorf("discord.guild_id = %q, want 42", got)
	}
	if got := seen["storage.dsn"].Value; got != "" {
		t.Errorf("empty secret shown as %q", got)
	}
	if got := seen["enrichment.period"].EnvVar; got != "EMOBOT_ENRICHMENT_PERIOD" {
		t.Errorf("EnvVar = %q", got)
	}
}

func TestValidKeys_ExcludesSecrets(t *testing.T) {
	for _, k := range ValidKeys() {
		switch k {
		case "storage.dsn", "discord.token", "server.api_token", "inference.gemini_api_key":
			t.Errorf("secret key %q listed as settable", k)
		}
	}
}

func TestSetKey_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emobot.yaml")

	if err := SetKey(path, "enrichment.period", "6h"); err != nil {
		t.Fatalf("SetKey period: %v", err)
	}
	if err := SetKey(path, "enrichment.concurrency", "2"); err != nil {
		t.Fatalf("SetKey concurrency: %v", err)
	}

	v, err := InitViper(path)
	if err != nil {
		t.Fatalf("InitViper: %v", err)
	}
	if got := v.GetDuration("enrichment.period"); got != 6*time.Hour {
		t.Errorf("period = %s, want 6h", got)
	}
	if got := v.GetInt("enrichment.concurrency"); got != 2 {
		t.Errorf("concurrency = %d, want 2", got)
	}
}

func TestSetKey_Rejects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emobot.yaml")

	tests := []struct {
		key, value, want string
	}{
		{"nope.key", "x", "unknown config key"},
		{"discord.token", "x", "cannot set secret"},
		{"enrichment.concurrency", "many", "invalid value"},
		{"enrichment.period", "daily", "invalid value"},
	}
	for _, tt := range tests {
		err := SetKey(path, tt.key, tt.value)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("SetKey(%q, %q) error = %v, want %q", tt.key, tt.value, err, tt.want)
		}
	}
}
