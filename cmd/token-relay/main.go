package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/brizzai/token-relay/internal/auth"
	"github.com/brizzai/token-relay/internal/auth/providers"
	"github.com/brizzai/token-relay/internal/config"
	"github.com/brizzai/token-relay/internal/logger"
	"github.com/brizzai/token-relay/internal/metrics"
	"github.com/brizzai/token-relay/internal/server"
	"github.com/brizzai/token-relay/internal/session"
	"github.com/brizzai/token-relay/internal/storage"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func main() {
	Execute()
}

// newRootCmd builds the command tree; serve is also the default action
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "token-relay",
		Short: "OAuth2 relay storing Google Drive tokens for the WhatsApp bot",
		Long: `token-relay sends users to Google's consent screen and stores the resulting
access and refresh tokens, keyed by the user id the bot passed to /authorize/{user_id}.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	// Place version check in PreRun to ensure flags are parsed first
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			pterm.Info.Println(config.GetVersionInfo())
			os.Exit(0)
		}
	}

	config.InitFlags(rootCmd.PersistentFlags())
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Show version information")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "config",
			Short: "Print the effective configuration with secrets masked",
			RunE:  printConfig,
		},
	)
	return rootCmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	defer func() {
		if r := recover(); r != nil {
			pterm.Error.Printf("\nCaught panic: %v\n", r)
			pterm.Error.Printf("%s\n", debug.Stack())
			os.Exit(2)
		}
	}()

	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	if err := logger.InitLogger(&cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting token relay", zap.String("version", config.GetVersionInfo()))

	var srv *server.Server
	app := fx.New(
		fx.Supply(cfg),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.GetLogger().Named("fx")}
		}),
		config.Module,
		metrics.Module,
		session.Module,
		storage.Module,
		providers.Module,
		auth.Module,
		server.Module,
		fx.Populate(&srv),
	)
	if err := app.Err(); err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancelStart := context.WithTimeout(ctx, app.StartTimeout())
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	serveErr := srv.Start(ctx)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		logger.Error("Failed to stop application cleanly", zap.Error(err))
	}

	return serveErr
}

func printConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
