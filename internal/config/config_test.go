package config

import "testing"

func TestAcpDefaults(t *testing.T) {
	defaults := GetDefaults()
	if defaults["acp.default_engine"] != "claude" {
		t.Fatalf("got default engine %v", defaults["acp.default_engine"])
	}
	if defaults["acp.resume_enabled"] != true {
		t.Fatalf("got resume_enabled %v", defaults["acp.resume_enabled"])
	}
	if defaults["acp.daemon.port"] != 0 {
		t.Fatalf("got daemon port %v", defaults["acp.daemon.port"])
	}
}

func TestIsKnownKeyAcpSection(t *testing.T) {
	for _, key := range []string{"acp", "acp.default_engine", "acp.claude_bin", "acp.codex_bin", "acp.resume_enabled", "acp.task_oracle_command", "acp.daemon.port"} {
		if !IsKnownKey(key) {
			t.Fatalf("expected %q to be a known key", key)
		}
	}
	if IsKnownKey("acp.bogus") {
		t.Fatalf("expected acp.bogus to be unknown")
	}
}

func TestLoadAppliesDefaultsWithoutConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Acp.ClaudeBin != "claude" {
		t.Fatalf("got claude_bin %q", cfg.Acp.ClaudeBin)
	}
	if cfg.Acp.CodexBin != "codex" {
		t.Fatalf("got codex_bin %q", cfg.Acp.CodexBin)
	}
	if !cfg.Acp.ResumeEnabled {
		t.Fatalf("expected resume_enabled default true")
	}
}
