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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/statisticsnorway/blueprint/config"
	"github.com/statisticsnorway/blueprint/internal/api"
	"github.com/statisticsnorway/blueprint/internal/gitio"
	"github.com/statisticsnorway/blueprint/internal/graph"
	"github.com/statisticsnorway/blueprint/internal/hook"
	"github.com/statisticsnorway/blueprint/internal/ingest"
	"github.com/statisticsnorway/blueprint/internal/lineage"
	"github.com/statisticsnorway/blueprint/internal/processor"
)

func newServeCmd(opts *options) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver and lineage API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (default :10190)")
	return cmd
}

// services are the components shared by the commands.
type services struct {
	db       *graph.DB
	store    *gitio.Store
	pipeline *ingest.Pipeline
}

func openServices(cfg *config.Config, logger *zap.Logger) (*services, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	db, err := graph.Open(cfg.DBPath, graph.WithLogger(logger.Named("graph")))
	if err != nil {
		return nil, err
	}
	store, err := gitio.NewStore(gitio.StoreConfig{
		Dir:      cfg.ReposDir,
		MaxOpen:  cfg.MaxOpenRepos,
		Username: cfg.GitUsername,
		Password: cfg.GitPassword,
	}, gitio.WithLogger(logger.Named("store")))
	if err != nil {
		db.Close()
		return nil, err
	}
	proc := newProcessor(cfg, logger)
	return &services{
		db:       db,
		store:    store,
		pipeline: ingest.New(proc, db, ingest.WithLogger(logger.Named("ingest"))),
	}, nil
}

func newProcessor(cfg *config.Config, logger *zap.Logger) *processor.Processor {
	return processor.New(
		processor.WithExtension(cfg.NotebookExt),
		processor.WithIgnoredFolders(cfg.Ignore...),
		processor.WithLogger(logger.Named("processor")),
	)
}

func serve(cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("blueprint starting",
		zap.String("listen", cfg.Listen),
		zap.String("db", cfg.DBPath),
		zap.String("repos", cfg.ReposDir),
		zap.Int("workers", cfg.Workers),
		zap.Duration("hook_timeout", cfg.HookTimeout),
		zap.Duration("request_timeout", cfg.RequestTimeout),
		zap.Strings("ignore", cfg.Ignore),
		zap.String("version", cfg.Version))

	svc, err := openServices(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.db.Close()

	dispatcher := hook.NewDispatcher(cfg.Workers, svc.store, svc.pipeline,
		hook.WithLogger(logger.Named("hook")))
	handler := api.NewHandler(
		lineage.New(svc.db, svc.store),
		svc.db,
		dispatcher,
		hook.NewVerifier(cfg.HookSecret),
		api.WithLogger(logger.Named("api")),
		api.WithVersion(cfg.Version),
		api.WithHookTimeout(cfg.HookTimeout),
	)

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      api.WithDefaults(api.NewRouter(handler), logger.Named("http"), cfg.RequestTimeout),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
		close(done)
	}()

	logger.Info("listening", zap.String("addr", cfg.Listen))
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	<-done

	// Jobs outlive their requests; let them finish before closing the graph.
	dispatcher.Wait()
	logger.Info("blueprint stopped")
	return nil
}
