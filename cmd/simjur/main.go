package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"simjur/internal/app"
	"simjur/internal/auth"
	"simjur/internal/config"
	"simjur/internal/simjur"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var readPasswordFunc = term.ReadPassword // mockable

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	pwd, err := readPasswordFunc(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		return "", errors.New("password must not be empty")
	}
	return string(pwd), nil
}

// promptNewPassword asks twice and requires both entries to match.
func promptNewPassword() (string, error) {
	pwd, err := promptPassword("New password: ")
	if err != nil {
		return "", err
	}
	again, err := promptPassword("Repeat password: ")
	if err != nil {
		return "", err
	}
	if pwd != again {
		return "", errors.New("passwords do not match")
	}
	return pwd, nil
}

var rootCmd = &cobra.Command{
	Use:          "simjur",
	Short:        "Proposal approval portal",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return app.LoadDotEnv(".env")
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		instanceID := uuid.New().String()
		cfg := config.NewConfig(instanceID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Instance ID: %s\n", instanceID)
		fmt.Printf("Base Dir:    %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Instance ID:    %s\n", cfg.InstanceID)
		fmt.Printf("Base Dir:       %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:        %s\n", cfg.LogDir)
		fmt.Printf("Listen:         %s\n", cfg.Server.Address)
		fmt.Printf("Database:       %s\n", cfg.Database.Type)
		fmt.Printf("Vault:          %s (%s, encrypted=%t)\n", cfg.Vault.Name, cfg.Vault.Type, cfg.Vault.Encrypted)
		fmt.Printf("Token TTL:      %s\n", cfg.Auth.TokenTTL.Duration)
		fmt.Printf("Refresh Window: %s\n", cfg.Auth.RefreshWindow.Duration)
		fmt.Printf("Resubmission:   %t\n", cfg.Workflow.AllowResubmit)
		return nil
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		version, err := app.Migrate(cfg.Database)
		if err != nil {
			return err
		}
		fmt.Printf("Database at schema version %d\n", version)
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check for pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		if err := app.MigrationStatus(cfg.Database); err != nil {
			return err
		}
		fmt.Println("Database schema is up to date.")
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		secret, err := app.SecretKey()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.NewApp(ctx, cfg, []byte(secret))
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}
		defer a.Close()

		srv := a.Server()
		errCh := make(chan error, 1)
		go func() {
			a.Logger().Info("listening", "address", cfg.Server.Address)
			errCh <- srv.Start()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		a.Logger().Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Stop(shutdownCtx)
	},
}

// user command
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage portal accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add USERNAME",
	Short: "Create an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		role, _ := cmd.Flags().GetString("role")

		cfg, err := readConfig()
		if err != nil {
			return err
		}
		pwd, err := promptNewPassword()
		if err != nil {
			return err
		}

		users, err := app.NewUserAdmin(cfg.Database)
		if err != nil {
			return err
		}
		defer users.Close()

		u, err := users.CreateUser(cmd.Context(), auth.NewUser{
			Username: args[0],
			Name:     name,
			Email:    email,
			Role:     role,
			Password: pwd,
		})
		if err != nil {
			var verr *simjur.ValidationError
			if errors.As(err, &verr) {
				for _, f := range verr.Fields {
					fmt.Fprintf(os.Stderr, "  %s: %s\n", f.Field, f.Error)
				}
			}
			return err
		}
		fmt.Printf("Created %s (%s) with id %s\n", u.Username, u.Role, u.ID)
		return nil
	},
}

var userPasswdCmd = &cobra.Command{
	Use:   "passwd USERNAME",
	Short: "Reset an account's password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		pwd, err := promptNewPassword()
		if err != nil {
			return err
		}

		users, err := app.NewUserAdmin(cfg.Database)
		if err != nil {
			return err
		}
		defer users.Close()

		if err := users.SetPassword(cmd.Context(), args[0], pwd); err != nil {
			return err
		}
		fmt.Printf("Password updated for %s\n", args[0])
		return nil
	},
}

// vault command
var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage the document vault",
}

var vaultInitCmd = &cobra.Command{
	Use:     "init",
	Aliases: []string{"keygen"},
	Short:   "Generate the vault encryption keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		pwd, err := promptNewPassword()
		if err != nil {
			return err
		}
		if err := app.InitVaultKeys(cfg.Encryption, pwd); err != nil {
			return err
		}
		fmt.Printf("Keys written to %s and %s\n", cfg.Encryption.PublicKeyPath, cfg.Encryption.PrivateKeyPath)
		fmt.Println("Set vault.encrypted = true to seal new uploads.")
		return nil
	},
}

// session command
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage the local API session",
}

var sessionLoginCmd = &cobra.Command{
	Use:   "login USERNAME",
	Short: "Log in and store the session token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		pwd, err := promptPassword("Password: ")
		if err != nil {
			return err
		}

		client, _ := app.NewSessionKeeper(cfg.Session, simjur.NewNopLogger(), nil)
		s, err := client.Login(cmd.Context(), args[0], pwd)
		if err != nil {
			return err
		}
		fmt.Printf("Logged in as %s (%s), token expires %s\n", s.User.Username, s.User.Role, s.ExpiresAt.Local().Format(time.DateTime))
		return nil
	},
}

var sessionMeCmd = &cobra.Command{
	Use:   "me",
	Short: "Show the logged-in account",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		client, _ := app.NewSessionKeeper(cfg.Session, simjur.NewNopLogger(), nil)
		u, err := client.Me(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s  %s  %s\n", u.Username, u.Name, u.Email, u.Role)
		return nil
	},
}

var sessionLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke and forget the session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		client, _ := app.NewSessionKeeper(cfg.Session, simjur.NewNopLogger(), nil)
		if err := client.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}

var sessionWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the session token fresh until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		username, _ := cmd.Flags().GetString("username")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		expired := make(chan struct{})
		var once sync.Once
		client, lc := app.NewSessionKeeper(cfg.Session, app.NewConsoleLogger(cfg.InstanceID), func() {
			once.Do(func() { close(expired) })
		})
		if username != "" {
			pwd, err := promptPassword("Password: ")
			if err != nil {
				return err
			}
			if _, err := client.Login(ctx, username, pwd); err != nil {
				return err
			}
		}
		lc.Start(ctx)
		defer lc.Stop()

		select {
		case <-ctx.Done():
			return nil
		case <-expired:
			return errors.New("session expired, run `simjur session login` again")
		}
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	migrateCmd.AddCommand(migrateStatusCmd)

	userCmd.AddCommand(userAddCmd)
	userAddCmd.Flags().String("name", "", "Display name")
	userAddCmd.Flags().String("email", "", "E-mail address for notifications")
	userAddCmd.Flags().String("role", "", "One of admin, kajur, sekjur, pengaju")
	userAddCmd.MarkFlagRequired("name")
	userAddCmd.MarkFlagRequired("role")
	userCmd.AddCommand(userPasswdCmd)

	vaultCmd.AddCommand(vaultInitCmd)

	sessionCmd.AddCommand(sessionLoginCmd)
	sessionCmd.AddCommand(sessionMeCmd)
	sessionCmd.AddCommand(sessionLogoutCmd)
	sessionCmd.AddCommand(sessionWatchCmd)
	sessionWatchCmd.Flags().StringP("username", "u", "", "Log in as USERNAME before watching")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(vaultCmd)
	rootCmd.AddCommand(sessionCmd)
}
