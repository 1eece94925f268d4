package internal

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if !cfg.Library.Watch {
		t.Error("library watch should default to on")
	}
	if cfg.Migration.AutoConsent {
		t.Error("migration should not run without consent by default")
	}
}

func TestLibraryConfig_RootRequired(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Library.Root = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty library root should fail validation")
	}
}

func TestLibraryConfig_NegativePairWindow(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Library.PairWindow = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative pair window should fail validation")
	}
}

func TestDataConfig_DirRequired(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Data.Dir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty data dir should fail validation")
	}
}

func TestHTTPConfig_PortRange(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.App.HTTP.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("out of range port should fail validation")
	}
}

func TestConfig_Resolve(t *testing.T) {
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Library.Root = filepath.Join(dir, "lib")
	cfg.Data.Dir = filepath.Join(dir, "data")

	if err := cfg.Resolve(); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := filepath.Join(dir, "data", "settings.db"); cfg.SQLite.Path != want {
		t.Errorf("sqlite path = %q, want %q", cfg.SQLite.Path, want)
	}
	if want := filepath.Join(dir, "data", "general_chats.json"); cfg.Data.GeneralChatsPath() != want {
		t.Errorf("general chats = %q, want %q", cfg.Data.GeneralChatsPath(), want)
	}
}

func TestConfig_ResolveRelative(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SQLite.Path = "/var/lib/marginalia.db"
	if err := cfg.Resolve(); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !filepath.IsAbs(cfg.Library.Root) || !filepath.IsAbs(cfg.Data.Dir) {
		t.Errorf("paths not absolute: %q %q", cfg.Library.Root, cfg.Data.Dir)
	}
	if cfg.SQLite.Path != "/var/lib/marginalia.db" {
		t.Errorf("explicit sqlite path overwritten: %q", cfg.SQLite.Path)
	}
}
