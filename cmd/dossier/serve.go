// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dossier-dev/dossier/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dossier HTTP server",
		Long:  "Load configuration, wire the ingestion pipeline and retrieval engine, and serve the HTTP API until interrupted.",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")
	_ = viper.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := wireApp(cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		ListenAddr:  cfg.Server.Listen,
		CORSOrigins: cfg.Server.CORSOrigins,
		UploadDir:   cfg.UploadDir(),
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	services := &server.Services{
		Ingest:   app.Pipeline,
		Index:    app.Store,
		Embedder: app.Embedder,
		TopK:     cfg.Search.TopK,
	}
	if app.Answerer != nil {
		services.Answerer = app.Answerer
	} else {
		slog.Warn("answer collaborator not configured, chat endpoint disabled")
	}
	srv.RegisterServices(services)

	if err := os.MkdirAll(cfg.UploadDir(), 0o755); err != nil {
		return fmt.Errorf("creating upload directory: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting dossier", "listen", cfg.Server.Listen, "data_dir", cfg.DataDir)
	return srv.Start(ctx)
}
