package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadDefaultsWhenNoPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if !reflect.DeepEqual(cfg, want) {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadOverridesFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pgcron.yaml")
	body := `
database_name: analytics
connect_timeout_ms: 5000
job_store:
  backend: postgres
  postgres:
    host: db.internal
    port: 6543
    database: analytics
    user: cron
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseName != "analytics" {
		t.Errorf("expected database_name analytics, got %q", cfg.DatabaseName)
	}
	if cfg.ConnectTimeoutMS != 5000 {
		t.Errorf("expected connect_timeout_ms 5000, got %d", cfg.ConnectTimeoutMS)
	}
	if cfg.JobStore.Backend != BackendPostgres {
		t.Errorf("expected postgres backend, got %q", cfg.JobStore.Backend)
	}
	if cfg.JobStore.Postgres.Host != "db.internal" || cfg.JobStore.Postgres.Port != 6543 {
		t.Errorf("expected postgres host/port overridden, got %+v", cfg.JobStore.Postgres)
	}
	// Fields untouched by the YAML fragment keep their defaults.
	if cfg.MaxWaitMS != Default().MaxWaitMS {
		t.Errorf("expected max_wait_ms to keep its default, got %d", cfg.MaxWaitMS)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}

func TestEnvOverridesApplyAfterFile(t *testing.T) {
	t.Setenv("PGCRON_DATABASE_NAME", "from-env")
	t.Setenv("PGCRON_SQLITE_PATH", "/tmp/env.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseName != "from-env" {
		t.Errorf("expected env override to win, got %q", cfg.DatabaseName)
	}
	if cfg.JobStore.SQLite.Path != "/tmp/env.db" {
		t.Errorf("expected sqlite path overridden from env, got %q", cfg.JobStore.SQLite.Path)
	}
}

func TestIsSuperuser(t *testing.T) {
	cfg := Default()
	if !cfg.IsSuperuser("postgres") {
		t.Errorf("expected postgres to be a superuser identity by default")
	}
	if cfg.IsSuperuser("alice") {
		t.Errorf("expected alice not to be a superuser identity by default")
	}
}

func TestSuperuserIdentitiesEnvOverride(t *testing.T) {
	t.Setenv("PGCRON_SUPERUSER_IDENTITIES", "alice,bob")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.IsSuperuser("alice") || !cfg.IsSuperuser("bob") {
		t.Errorf("expected alice and bob to be superuser identities, got %v", cfg.SuperuserIdentities)
	}
	if cfg.IsSuperuser("postgres") {
		t.Errorf("expected env override to replace the default roster, got %v", cfg.SuperuserIdentities)
	}
}
