package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"simjur/internal/api"
	"simjur/internal/auth"
	"simjur/internal/config"
	"simjur/internal/database"
	"simjur/internal/encryption"
	"simjur/internal/notify"
	"simjur/internal/simjur"
	"simjur/internal/vault"
)

// App wires the SIMJUR services from config for the CLI. The caller must
// call Close when done.
type App struct {
	cfg     *config.Config
	logger  simjur.Logger
	db      *database.SQLDatabase
	vault   simjur.Vault
	hub     *notify.Hub
	push    *notify.PushManager
	auth    *auth.Service
	limiter *auth.LoginLimiter

	proposals *simjur.Proposals
	documents *simjur.Documents
	workflow  *simjur.Workflow

	closers []io.Closer
	logFile *os.File
}

// NewApp creates a fully wired App. secret signs session tokens and must
// not be empty.
func NewApp(ctx context.Context, cfg *config.Config, secret []byte) (*App, error) {
	a := &App{cfg: cfg}
	if err := a.init(ctx, secret); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, secret []byte) error {
	cfg := a.cfg
	logger, logFile, err := newLogger(cfg.LogDir, cfg.InstanceID, cfg.Rollbar)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	a.logFile = logFile
	a.logger = &slogAdapter{l: logger}

	a.db, err = OpenDatabase(cfg.Database)
	if err != nil {
		return err
	}

	a.vault, err = a.openVault(ctx)
	if err != nil {
		return err
	}

	clock := simjur.RealClock{}
	ids := simjur.UUIDGenerator{}

	sinks, push, err := a.notifiers()
	if err != nil {
		return err
	}
	a.hub = notify.NewHub(ids, clock, a.logger, notify.WithSinks(sinks...))
	a.push = notify.NewPushManager(a.db, push, a.logger, clock)

	tokens, err := auth.NewTokenManager(secret, cfg.Auth.TokenTTL.Duration, cfg.Auth.RefreshWindow.Duration, clock, ids)
	if err != nil {
		return fmt.Errorf("creating token manager: %w", err)
	}
	revoker, err := auth.NewRevokerFromConfig(cfg.Auth, cfg.Redis, clock)
	if err != nil {
		return fmt.Errorf("creating revoker: %w", err)
	}
	if c, ok := revoker.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	a.auth = auth.NewService(a.db, tokens, revoker, a.logger, clock, ids)
	a.limiter = auth.NewLoginLimiter(cfg.Auth.LoginRate, cfg.Auth.LoginBurst, clock)

	a.workflow = simjur.NewWorkflow(a.db, a.hub, a.logger, clock, simjur.WithResubmission(cfg.Workflow.AllowResubmit))
	a.documents = simjur.NewDocuments(a.db, a.vault, a.hub, a.logger, clock)
	a.proposals = simjur.NewProposals(a.db, a.documents, a.hub, a.logger, clock)

	return nil
}

// OpenDatabase opens the configured database and checks that its schema
// is current.
func OpenDatabase(cfg config.DatabaseConfig) (*database.SQLDatabase, error) {
	db, err := database.NewDatabaseFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date (run `simjur migrate`): %w", err)
	}
	return db, nil
}

// openVault creates the configured vault, sealed with the age keys when
// vault.encrypted is set. A backend holding a client is closed by Close.
func (a *App) openVault(ctx context.Context) (simjur.Vault, error) {
	cfg := a.cfg
	v, err := vault.NewVaultFromConfig(ctx, cfg.Vault)
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	if err := v.ValidateSetup(ctx); err != nil {
		return nil, fmt.Errorf("vault %s not ready: %w", cfg.Vault.Name, err)
	}
	if !cfg.Vault.Encrypted {
		return v, nil
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	if !enc.IsConfigured() {
		return nil, fmt.Errorf("vault is encrypted but no keys exist (run `simjur vault init`)")
	}
	dec, err := encryption.UnlockFromEnv(enc)
	if err != nil {
		return nil, fmt.Errorf("unlocking vault keys: %w", err)
	}
	return vault.NewEncryptedVault(v, enc, dec), nil
}

// notifiers builds the hub sinks and the push deliverer from the notify
// config.
func (a *App) notifiers() ([]notify.Sink, notify.Deliverer, error) {
	var sinks []notify.Sink
	var push notify.Deliverer = notify.LogDeliverer{Logger: a.logger}

	kc := a.cfg.Notify.Kafka
	if len(kc.Brokers) > 0 {
		producer, err := notify.NewKafkaProducer(kc.Brokers, kc.Topic, kc.MaxAttempts)
		if err != nil {
			return nil, nil, fmt.Errorf("creating notification producer: %w", err)
		}
		a.closers = append(a.closers, producer)
		sinks = append(sinks, notify.NewKafkaSink(producer))

		if kc.PushTopic != "" {
			pushProducer, err := notify.NewKafkaProducer(kc.Brokers, kc.PushTopic, kc.MaxAttempts)
			if err != nil {
				return nil, nil, fmt.Errorf("creating push producer: %w", err)
			}
			a.closers = append(a.closers, pushProducer)
			push = notify.NewKafkaDeliverer(pushProducer)
		}
	}

	sg := a.cfg.Notify.SendGrid
	if key := SendGridKey(); key != "" && sg.FromEmail != "" {
		sinks = append(sinks, notify.NewEmailSink(key, "", sg.FromName, sg.FromEmail, a.db))
	}
	return sinks, push, nil
}

// Server returns the HTTP API bound to the configured address.
func (a *App) Server() api.Server {
	return api.NewServer(&api.Options{
		Address:        a.cfg.Server.Address,
		Debug:          a.cfg.Server.Debug,
		DisableReqLogs: a.cfg.Server.DisableRequestLogs,
		MaxUploadBytes: a.cfg.Server.MaxUploadBytes,
		Auth:           a.auth,
		Limiter:        a.limiter,
		Proposals:      a.proposals,
		Documents:      a.documents,
		Workflow:       a.workflow,
		Hub:            a.hub,
		Push:           a.push,
		Logger:         a.logger,
	})
}

// Logger returns the application logger.
func (a *App) Logger() simjur.Logger { return a.logger }

// Close drains notification sinks and releases every resource.
func (a *App) Close() error {
	var firstErr error

	if a.hub != nil {
		a.hub.Close()
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing %T: %w", c, err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}
	flushRollbar()
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
