package config

import (
	"log/slog"
	"strings"
	"testing"
)

func testProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"openai": {
			Endpoint:     "https://api.openai.com/v1",
			DefaultModel: "gpt-4o",
			Models:       []string{"gpt-4o", "gpt-4o-mini"},
		},
		"deepseek": {
			Endpoint: "https://api.deepseek.com/v1",
			Models:   []string{"deepseek-chat"},
			Thinking: true,
		},
	}
}

func TestResolvePreference(t *testing.T) {
	cfg := &Config{}
	cfg.LLM.DefaultProvider = "openai"
	cfg.LLM.Providers = testProviders()

	cases := []struct {
		pref              string
		wantName, wantMdl string
		wantErr           bool
	}{
		{"", "openai", "gpt-4o", false},
		{"auto", "openai", "gpt-4o", false},
		{"openai", "openai", "gpt-4o", false},
		{"openai:gpt-4o-mini", "openai", "gpt-4o-mini", false},
		{"deepseek", "deepseek", "deepseek-chat", false}, // first model when no default
		{"unknown", "", "", true},
	}
	for _, tc := range cases {
		name, _, model, err := cfg.ResolvePreference(tc.pref)
		if tc.wantErr {
			if err == nil {
				t.Errorf("pref %q: expected error", tc.pref)
			}
			continue
		}
		if err != nil {
			t.Errorf("pref %q: %v", tc.pref, err)
			continue
		}
		if name != tc.wantName || model != tc.wantMdl {
			t.Errorf("pref %q = (%s, %s), want (%s, %s)", tc.pref, name, model, tc.wantName, tc.wantMdl)
		}
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.LLM.DefaultProvider = "openai"
	cfg.LLM.Providers = testProviders()
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cfg.Server.Port = 0
	cfg.LLM.DefaultProvider = "missing"
	cfg.Scanners = []ScannerConfig{{Name: "empty"}}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	for _, want := range []string{"invalid server port", `"missing" not configured`, `"empty" has no command`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestGetLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"WARNING": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		cfg := &Config{}
		cfg.Log.Level = in
		if got := cfg.GetLogLevel(); got != want {
			t.Errorf("level %q = %v, want %v", in, got, want)
		}
	}
}
