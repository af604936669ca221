package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "STORE_DRIVER", "BASE_CURRENCY", "FX_PROVIDER", "DATABASE_URL", "GCP_PROJECT"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.Port != "8080" || cfg.StoreDriver != DriverMemory || cfg.BaseCurrency != "USD" || cfg.FXProvider != FXProviderERAPI {
		t.Errorf("FromEnv() = %+v", cfg)
	}
	if cfg.AnalyticsEnabled() {
		t.Error("AnalyticsEnabled() = true without GCP_PROJECT")
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/ledger?sslmode=disable")
	t.Setenv("BASE_CURRENCY", " eur ")
	t.Setenv("FX_PROVIDER", "CBR")
	t.Setenv("GCP_PROJECT", "proj")
	t.Setenv("SCHEDULE_FX", "@hourly")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.StoreDriver != DriverPostgres || cfg.BaseCurrency != "EUR" || cfg.FXProvider != FXProviderCBR || cfg.ScheduleFX != "@hourly" {
		t.Errorf("FromEnv() = %+v", cfg)
	}
	if !cfg.AnalyticsEnabled() {
		t.Error("AnalyticsEnabled() = false with GCP_PROJECT set")
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "postgres without url", env: map[string]string{"STORE_DRIVER": "postgres", "DATABASE_URL": ""}},
		{name: "unknown driver", env: map[string]string{"STORE_DRIVER": "dynamo"}},
		{name: "unknown provider", env: map[string]string{"FX_PROVIDER": "ecb"}},
		{name: "bad base", env: map[string]string{"BASE_CURRENCY": "EURO"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := FromEnv(); err == nil {
				t.Error("FromEnv() error = nil, want error")
			}
		})
	}
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT=9191\nLOG_FORMAT=json\n"), 0o600); err != nil {
		t.Fatalf("writing .env: %v", err)
	}
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(wd)

	// godotenv never overrides variables already set, so clear them first.
	t.Setenv("PORT", "")
	os.Unsetenv("PORT")
	t.Setenv("LOG_FORMAT", "")
	os.Unsetenv("LOG_FORMAT")
	defer os.Unsetenv("PORT")
	defer os.Unsetenv("LOG_FORMAT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "9191" || cfg.LogFormat != "json" {
		t.Errorf("Load() = port %q format %q, want values from .env", cfg.Port, cfg.LogFormat)
	}
}
