package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/directchat/internal/auth"
	"github.com/Tyrowin/directchat/internal/registry"
	"github.com/Tyrowin/directchat/internal/server"
	"github.com/Tyrowin/directchat/internal/store"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// overrides holds command-line values that take precedence over the
// environment.
type overrides struct {
	port    string
	dataDir string
}

func (o *overrides) bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.port, "port", "", "listen address, overrides SERVER_PORT")
	fs.StringVar(&o.dataDir, "data-dir", "", "user store directory, overrides DATA_DIR")
}

func (o *overrides) apply(cfg *server.Config) {
	if o.port != "" {
		cfg.Port = o.port
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
}

func newRootCommand() *cobra.Command {
	opts := &overrides{}

	cmd := &cobra.Command{
		Use:           "directchat",
		Short:         "Direct-message relay server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.bind(cmd.PersistentFlags())

	cmd.AddCommand(
		newServeCommand(opts),
		newUserCommand(opts),
	)
	return cmd
}

func loadConfig(opts *overrides) (*server.Config, *slog.Logger, error) {
	cfg, err := server.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	opts.apply(cfg)
	return cfg, logs.GetLoggerFromString(cfg.LogLevel), nil
}

func newServeCommand(opts *overrides) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, log)
		},
	}
}

// serve runs the relay until SIGINT or SIGTERM, then shuts down the HTTP
// server and the hub in that order.
func serve(parent context.Context, cfg *server.Config, log *slog.Logger) error {
	if cfg.RequireToken && cfg.TokenSecret == "" {
		cfg.TokenSecret = uuid.NewString()
		log.Warn("TOKEN_SECRET not set; using an ephemeral secret, tokens will not survive a restart")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	users, err := store.Open(cfg.DataDir, log)
	if err != nil {
		return err
	}
	defer func() { _ = users.Close() }()

	tokens := auth.NewTokens(cfg.TokenSecret, cfg.TokenTTL)
	accounts := auth.NewService(users, tokens, log)
	hub := server.NewHub(cfg, registry.New(), tokens, log)
	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(hub, accounts, log))

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartServer(httpServer, log)
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	shutdownErr := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, log)
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		return errors.Join(shutdownErr, fmt.Errorf("hub shutdown: %w", err))
	}
	return shutdownErr
}

func newUserCommand(opts *overrides) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage relay accounts",
	}

	var password string
	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Create an account in the user store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.DataDir == "" {
				return errors.New("user add needs a persistent store; set DATA_DIR or --data-dir")
			}

			users, err := store.Open(cfg.DataDir, log)
			if err != nil {
				return err
			}
			defer func() { _ = users.Close() }()

			if err := auth.NewService(users, nil, log).Register(args[0], password); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "user %s created\n", args[0])
			return nil
		},
	}
	add.Flags().StringVar(&password, "password", "", "account password")
	_ = add.MarkFlagRequired("password")

	cmd.AddCommand(add)
	return cmd
}
