package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/agenthub/backend/internal/config"
	"github.com/zhouzirui/agenthub/backend/internal/logging"
)

type rootFlags struct {
	addr    string
	agents  string
	verbose bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "agenthub",
		Short: "Conversational agent hub backend",
		Long: `Serve the agent hub HTTP API.

Configuration comes from the environment (and a .env file when present);
flags override the matching variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := logging.Init(flags.verbose); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			// Load .env file
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				logging.Named("main").Warn("failed to load .env file, continuing with system environment", zap.Error(err))
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logging.Sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	root.PersistentFlags().StringVar(&flags.addr, "addr", "", "listen address, overrides PORT")
	root.PersistentFlags().StringVar(&flags.agents, "agents", "", "agent catalog YAML file, overrides AGENT_CATALOG_FILE")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newUserCmd(flags))
	return root
}

func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if flags.addr != "" {
		cfg.Server.Addr = flags.addr
	}
	if flags.agents != "" {
		cfg.Chat.AgentCatalog = flags.agents
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.Named("main")

	app, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           app.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("agent hub backend listening",
		zap.String("addr", cfg.Server.Addr),
		zap.Bool("resumable_streams", cfg.Store.Resumable()))
	if err := runServer(ctx, srv); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
