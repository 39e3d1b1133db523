package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"simjur/internal/auth"
	"simjur/internal/config"
	"simjur/internal/encryption"
	"simjur/internal/simjur"
)

const adminPassword = "Kopi-Tubruk-88"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfig("test-instance", dir)
	cfg.Vault = config.VaultConfig{Type: "memory", Name: "docs", Encrypted: true}
	cfg.Encryption.Type = "test"
	t.Setenv(encryption.PassphraseEnv, "unused")
	t.Setenv(EnvSendGridKey, "")
	return cfg
}

func TestNewApp_RequiresMigrations(t *testing.T) {
	cfg := testConfig(t)

	a, err := NewApp(context.Background(), cfg, []byte(strings.Repeat("s", 32)))
	if err == nil {
		a.Close()
		t.Fatal("NewApp() on an unmigrated database expected error")
	}
	if !strings.Contains(err.Error(), "simjur migrate") {
		t.Errorf("error = %v, want hint to run migrate", err)
	}
}

func TestMigrate(t *testing.T) {
	cfg := testConfig(t)

	if err := MigrationStatus(cfg.Database); err == nil {
		t.Error("MigrationStatus() on a fresh database expected error")
	}
	version, err := Migrate(cfg.Database)
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if version == 0 {
		t.Error("Migrate() version = 0")
	}
	if err := MigrationStatus(cfg.Database); err != nil {
		t.Errorf("MigrationStatus() after Migrate error = %v", err)
	}
}

func TestApp_CloseReleasesClients(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.Revoker = "redis"
	cfg.Redis.Addr = "localhost:6379"
	if _, err := Migrate(cfg.Database); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	a, err := NewApp(context.Background(), cfg, []byte(strings.Repeat("s", 32)))
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	var owned bool
	for _, c := range a.closers {
		if _, ok := c.(*auth.RedisRevoker); ok {
			owned = true
		}
	}
	if !owned {
		t.Errorf("closers = %T, want the redis revoker among them", a.closers)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestApp_ServesAPI(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	if _, err := Migrate(cfg.Database); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	users, err := NewUserAdmin(cfg.Database)
	if err != nil {
		t.Fatalf("NewUserAdmin() error = %v", err)
	}
	if _, err := users.CreateUser(ctx, auth.NewUser{
		Username: "admin",
		Name:     "Admin Jurusan",
		Email:    "admin@kampus.ac.id",
		Role:     "admin",
		Password: "Teh-Manis-2024",
	}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := users.SetPassword(ctx, "admin", adminPassword); err != nil {
		t.Fatalf("SetPassword() error = %v", err)
	}
	users.Close()

	a, err := NewApp(ctx, cfg, []byte(strings.Repeat("s", 32)))
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	defer a.Close()

	srv := a.Server()

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", rec.Code)
	}

	body := `{"username":"admin","password":"` + adminPassword + `"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /v1/auth/login = %d: %s", rec.Code, rec.Body.String())
	}

	var session auth.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("decoding session: %v", err)
	}
	if session.Token == "" {
		t.Fatal("login returned an empty token")
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/proposals", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /v1/proposals = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestNewSessionKeeper(t *testing.T) {
	cfg := config.NewConfig("i1", t.TempDir())
	cfg.Session.StatePath = filepath.Join(t.TempDir(), "session.toml")

	client, lc := NewSessionKeeper(cfg.Session, simjur.NewNopLogger(), nil)
	if client == nil || lc == nil {
		t.Fatal("NewSessionKeeper() returned nil")
	}
	if _, err := lc.Token(); err != nil {
		t.Errorf("Token() on an empty state file error = %v", err)
	}
}
