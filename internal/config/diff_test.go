package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/chatrelay/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := validConfig()
	d := config.Diff(cfg, cfg)
	if d.Changed() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_LogLevelIsHot(t *testing.T) {
	t.Parallel()
	old := validConfig()
	new := validConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level alone must not require restart, got %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":1" }, "server"},
		{"origins", func(c *config.Config) { c.Server.AllowedOrigins = []string{"x"} }, "server"},
		{"llm model", func(c *config.Config) { c.Providers.LLM.Model = "other" }, "providers"},
		{"system prompt", func(c *config.Config) { c.Agent.SystemPrompt = "be terse" }, "agent.system_prompt"},
		{"turn timeout", func(c *config.Config) { c.Agent.TurnTimeout = 1 }, "agent"},
		{"memory", func(c *config.Config) { c.Memory.SQLitePath = "other.db" }, "memory"},
		{"realtime", func(c *config.Config) { c.Realtime.AppID = "app" }, "realtime"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := validConfig()
			new := validConfig()
			tt.mutate(new)

			d := config.Diff(old, new)
			if d.LogLevelChanged {
				t.Error("LogLevelChanged should be false")
			}
			if !slices.Contains(d.RestartRequired, tt.want) {
				t.Errorf("RestartRequired = %v, want it to contain %q", d.RestartRequired, tt.want)
			}
			if len(d.RestartRequired) != 1 {
				t.Errorf("RestartRequired = %v, want exactly one section", d.RestartRequired)
			}
		})
	}
}
