package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mode != ModeStandalone {
		t.Fatalf("Mode = %v, want standalone", cfg.Mode)
	}
}

func TestLoadParsesYAMLAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intercom.yaml")
	contents := `
mode: daemon
machine:
  id: box1
  display_name: "Box One"
hub:
  url: "http://hub.internal:7700"
agent_launcher:
  max_mission_duration: 10m
`
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mode != ModeDaemon || cfg.Machine.ID != "box1" || cfg.Hub.URL != "http://hub.internal:7700" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestValidateRejectsMissingHubURLInDaemonMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = ModeDaemon
	cfg.Machine.ID = "box1"
	cfg.Hub.URL = ""

	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for missing hub.url")
	}
}

func TestApplyEnvOverridesSetsConsoleAndHubFields(t *testing.T) {
	t.Setenv("INTERCOM_CONSOLE_TOKEN", "tok-123")
	t.Setenv("INTERCOM_CONSOLE_GROUP_ID", "-100200300")
	t.Setenv("INTERCOM_HUB_URL", "http://example.invalid")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Telegram.Token != "tok-123" {
		t.Errorf("Telegram.Token = %q", cfg.Telegram.Token)
	}
	if cfg.Telegram.GroupID != -100200300 {
		t.Errorf("Telegram.GroupID = %d", cfg.Telegram.GroupID)
	}
	if cfg.Hub.URL != "http://example.invalid" {
		t.Errorf("Hub.URL = %q", cfg.Hub.URL)
	}
}

func TestLoadPolicyMissingFileDefaultsToAskOnce(t *testing.T) {
	p, err := LoadPolicy(filepath.Join(t.TempDir(), "missing-policy.yaml"))
	if err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}
	if p.Defaults.RequireApproval != "once" {
		t.Fatalf("Defaults.RequireApproval = %v, want once", p.Defaults.RequireApproval)
	}
}

func TestLoadPolicyParsesRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	contents := `
defaults:
  require_approval: once
rules:
  - from: "box1/*"
    to: "box2/*"
    type: chat
    approval: never
    label: "trusted pair chat"
`
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy() error = %v", err)
	}
	if len(p.Rules) != 1 || p.Rules[0].Label != "trusted pair chat" {
		t.Fatalf("unexpected rules: %+v", p.Rules)
	}
}
