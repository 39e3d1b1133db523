package app

import (
	"context"
	"fmt"

	"simjur/internal/auth"
	"simjur/internal/config"
	"simjur/internal/database"
	"simjur/internal/database/migrations"
	"simjur/internal/encryption"
	"simjur/internal/model"
	"simjur/internal/session"
	"simjur/internal/simjur"
)

// Migrate applies pending schema migrations and returns the schema version.
func Migrate(cfg config.DatabaseConfig) (uint, error) {
	db, err := database.NewDatabaseFromConfig(cfg)
	if err != nil {
		return 0, fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return 0, fmt.Errorf("migrating: %w", err)
	}
	return migrations.LatestVersion(db.Dialect())
}

// MigrationStatus reports whether the schema is current. A nil error means
// no migrations are pending.
func MigrationStatus(cfg config.DatabaseConfig) error {
	db, err := database.NewDatabaseFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	defer db.Close()
	return db.CheckMigrations()
}

// UserAdmin manages accounts from the command line without a running server.
type UserAdmin struct {
	db  *database.SQLDatabase
	svc *auth.Service
}

// NewUserAdmin opens the configured database for account management. The
// caller must call Close.
func NewUserAdmin(cfg config.DatabaseConfig) (*UserAdmin, error) {
	db, err := OpenDatabase(cfg)
	if err != nil {
		return nil, err
	}
	clock := simjur.RealClock{}
	// account management never issues tokens
	svc := auth.NewService(db, nil, auth.NewMemoryRevoker(clock), simjur.NewNopLogger(), clock, simjur.UUIDGenerator{})
	return &UserAdmin{db: db, svc: svc}, nil
}

func (u *UserAdmin) CreateUser(ctx context.Context, in auth.NewUser) (*model.User, error) {
	return u.svc.CreateUser(ctx, in)
}

func (u *UserAdmin) SetPassword(ctx context.Context, username, password string) error {
	return u.svc.SetPassword(ctx, username, password)
}

func (u *UserAdmin) Close() error {
	return u.db.Close()
}

// InitVaultKeys generates the vault key pair protected by passphrase.
func InitVaultKeys(cfg config.EncryptionConfig, passphrase string) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if err := enc.Setup(passphrase); err != nil {
		return fmt.Errorf("generating keys: %w", err)
	}
	return nil
}

// NewSessionKeeper builds the API client and the background token refresher
// from the session config. Both share one state file.
func NewSessionKeeper(cfg config.SessionConfig, logger simjur.Logger, onExpired func()) (*session.Client, *session.Lifecycle) {
	store := session.NewFileStore(cfg.StatePath)
	client := session.NewClient(cfg.ServerURL, nil, store)

	opts := []session.Option{session.WithOnExpired(onExpired)}
	if cfg.Interval.Duration > 0 {
		opts = append(opts, session.WithInterval(cfg.Interval.Duration))
	}
	if cfg.Horizon.Duration > 0 {
		opts = append(opts, session.WithHorizon(cfg.Horizon.Duration))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, session.WithMaxRetries(cfg.MaxRetries))
	}
	return client, session.NewLifecycle(store, client, logger, simjur.RealClock{}, opts...)
}
