package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRegistry_ExplicitMissingPathIsFatal(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	_, err := loadRegistry(logger, appOptions{configPath: filepath.Join(t.TempDir(), "nope.json")})
	if err == nil {
		t.Fatal("expected an error for a missing explicit config path")
	}
}

func TestLoadRegistry_ValidExplicitPathBuildsRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	doc := `[{"name":"a","token":"tok-a","base_url":"https://a.example.com","key_type":"AUTH_TOKEN","preferred":true}]`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	registry, err := loadRegistry(logger, appOptions{configPath: path})
	if err != nil {
		t.Fatalf("loadRegistry: %v", err)
	}
	if registry.PreferredName() != "a" {
		t.Fatalf("PreferredName() = %q, want a", registry.PreferredName())
	}
}

func TestLoadRegistry_DemotesDuplicatePreferred(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	doc := `[
		{"name":"a","token":"tok-a","base_url":"https://a.example.com","key_type":"AUTH_TOKEN","preferred":true},
		{"name":"b","token":"tok-b","base_url":"https://b.example.com","key_type":"AUTH_TOKEN","preferred":true}
	]`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	registry, err := loadRegistry(logger, appOptions{configPath: path})
	if err != nil {
		t.Fatalf("loadRegistry: %v", err)
	}
	if registry.PreferredName() != "a" {
		t.Fatalf("PreferredName() = %q, want a (first preferred wins)", registry.PreferredName())
	}
}

func TestBuildApp_WiresGatewayAndSweeper(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	doc := `[{"name":"a","token":"tok-a","base_url":"https://a.example.com","key_type":"AUTH_TOKEN","preferred":true}]`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	a, err := buildApp(appOptions{configPath: path, port: 18080, rateLimit: 5})
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	if a.gateway == nil {
		t.Error("expected a gateway server")
	}
	if a.sweeper == nil {
		t.Error("expected a maintenance sweeper")
	}
}
