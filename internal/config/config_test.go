package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

const testTarget = "0x1111111111111111111111111111111111111111"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMergesDefaults(t *testing.T) {
	path := writeConfig(t, `
mode = "copy"

[wallet]
private_key = "0xabc"

[copy]
target_addresses = ["`+testTarget+`"]
copy_factor = 1.5
poll_interval = "30s"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Copy.CopyFactor != 1.5 {
		t.Fatalf("copy_factor = %v, want 1.5", cfg.Copy.CopyFactor)
	}
	if cfg.Copy.PollInterval.Duration != 30*time.Second {
		t.Fatalf("poll_interval = %v, want 30s", cfg.Copy.PollInterval.Duration)
	}
	if cfg.Polymarket.DataAPIHost != "https://data-api.polymarket.com" {
		t.Fatalf("data_api_host default lost: %q", cfg.Polymarket.DataAPIHost)
	}
	if !cfg.Copy.DryRun {
		t.Fatalf("dry_run should default to true")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[copy]
target_addresses = ["`+testTarget+`"]
`)
	t.Setenv("POLYCOPY_COPY_DRY_RUN", "false")
	t.Setenv("POLYCOPY_COPY_MAX_SLIPPAGE_BPS", "120")
	t.Setenv("POLYCOPY_COPY_TARGET_ADDRESSES", "0x2222222222222222222222222222222222222222, 0x3333333333333333333333333333333333333333")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Copy.DryRun {
		t.Fatalf("dry_run env override not applied")
	}
	if cfg.Copy.MaxSlippageBps != 120 {
		t.Fatalf("max_slippage_bps = %d, want 120", cfg.Copy.MaxSlippageBps)
	}
	if len(cfg.Copy.TargetAddresses) != 2 {
		t.Fatalf("target addresses = %v", cfg.Copy.TargetAddresses)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Copy.ExecutionMode = "half"
	cfg.Copy.TargetAddresses = []string{"not-an-address"}
	cfg.Copy.TickLock = true

	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"unknown mode", "execution_mode", "not a hex address", "tick_lock requires redis"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestValidateRequiresWalletForCopyMode(t *testing.T) {
	cfg := Defaults()
	cfg.Copy.TargetAddresses = []string{testTarget}

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "wallet") {
		t.Fatalf("expected wallet error, got %v", err)
	}

	cfg.Mode = "server"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("server mode should not require a wallet: %v", err)
	}
}

func TestCopySettingsClamps(t *testing.T) {
	cfg := Defaults()
	cfg.Copy.TargetAddresses = []string{testTarget, strings.ToUpper(testTarget[:2]) + testTarget[2:], ""}
	cfg.Copy.CopyFactor = 9
	cfg.Copy.MaxSlippageBps = 2
	cfg.Copy.FixedSize = -3
	cfg.Copy.ExecutionMode = "FIXED"

	s := cfg.CopySettings()
	if s.CopyFactor != domain.CopyFactorMax {
		t.Fatalf("copy factor = %v, want %v", s.CopyFactor, domain.CopyFactorMax)
	}
	if s.MaxSlippageBps != domain.SlippageBpsMin {
		t.Fatalf("slippage = %d, want %d", s.MaxSlippageBps, domain.SlippageBpsMin)
	}
	if s.FixedSize != 0 {
		t.Fatalf("fixed size = %v, want 0", s.FixedSize)
	}
	if s.ExecutionMode != domain.ExecutionModeFixed {
		t.Fatalf("execution mode = %q", s.ExecutionMode)
	}
	if len(s.TargetAddresses) != 1 {
		t.Fatalf("addresses not deduplicated: %v", s.TargetAddresses)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Polymarket.ApiSecret = "secret"
	cfg.Copy.TargetAddresses = []string{testTarget}

	out := RedactedConfig(&cfg)
	if out.Wallet.PrivateKey != redacted || out.Polymarket.ApiSecret != redacted {
		t.Fatalf("secrets not redacted: %+v", out.Wallet)
	}
	out.Copy.TargetAddresses[0] = "changed"
	if cfg.Copy.TargetAddresses[0] != testTarget {
		t.Fatalf("redacted copy aliases the original slice")
	}
	if cfg.Wallet.PrivateKey != "0xdeadbeef" {
		t.Fatalf("original config mutated")
	}
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.toml"))
	if err != nil {
		t.Fatalf("Load example: %v", err)
	}
	def := Defaults()
	cfg.Copy.TargetAddresses = nil

	sections := []struct {
		name      string
		got, want any
	}{
		{"polymarket", cfg.Polymarket, def.Polymarket},
		{"copy", cfg.Copy, def.Copy},
		{"retry", cfg.Retry, def.Retry},
		{"supabase", cfg.Supabase, def.Supabase},
		{"redis", cfg.Redis, def.Redis},
		{"s3", cfg.S3, def.S3},
		{"server", cfg.Server, def.Server},
		{"notify", cfg.Notify, def.Notify},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.got, s.want) {
			t.Errorf("[%s] = %+v, want %+v", s.name, s.got, s.want)
		}
	}
}
