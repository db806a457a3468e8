package config

import (
	"os"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Jobs.Workers != 4 || cfg.Server.BasePath != "/v0" || cfg.Cache.TTLSeconds != 3600 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestFromYAMLKeepsDefaultsForMissingSections(t *testing.T) {
	cfg, err := FromYAML([]byte("log:\n  level: debug\n  format: json\ncache:\n  redis_url: redis://localhost:6379/0\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("log section not applied: %+v", cfg.Log)
	}
	if cfg.Cache.RedisURL == "" || cfg.Cache.TTLSeconds != 3600 {
		t.Fatalf("cache section not merged: %+v", cfg.Cache)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("server default lost: %+v", cfg.Server)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		yaml string
		want string
	}{
		"bad level":        {yaml: "log:\n  level: loud\n", want: "config.log.level"},
		"bad format":       {yaml: "log:\n  format: xml\n", want: "config.log.format"},
		"relative base":    {yaml: "server:\n  base_path: v0\n", want: "base_path"},
		"no workers":       {yaml: "jobs:\n  workers: 0\n", want: "config.jobs.workers"},
		"negative ttl":     {yaml: "cache:\n  ttl_seconds: -1\n", want: "ttl_seconds"},
		"webhook no url":   {yaml: "webhooks:\n  enabled: true\n", want: "config.webhooks.url"},
		"webhook no limit": {yaml: "webhooks:\n  enabled: true\n  url: http://x\n  timeout_seconds: 0\n", want: "timeout_seconds"},
		"broken yaml":      {yaml: "log: [", want: "invalid config yaml"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected missing config error")
	}
	cfg, err := LoadOptional(dir)
	if err != nil || cfg.Jobs.Workers != 4 {
		t.Fatalf("expected defaults, got %+v %v", cfg, err)
	}
	if err := os.WriteFile(Path(dir), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(dir); err != nil {
		t.Fatalf("load: %v", err)
	}
}
