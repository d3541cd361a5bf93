package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/harshavardhanjagdale/inboxsense/internal/auth"
	"github.com/harshavardhanjagdale/inboxsense/internal/classifier"
	"github.com/harshavardhanjagdale/inboxsense/internal/crypto"
	"github.com/harshavardhanjagdale/inboxsense/internal/gmail"
	"github.com/harshavardhanjagdale/inboxsense/internal/ingest"
	"github.com/harshavardhanjagdale/inboxsense/internal/server"
	"github.com/harshavardhanjagdale/inboxsense/internal/storage"
	"github.com/harshavardhanjagdale/inboxsense/pkg/config"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", "config.yaml"))
	}

	// Initialize crypto keyring from the process-wide secret
	keyring := crypto.NewKeyringFromHex(cfg.Encryption.Key, logger)

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage(keyring, logger)
	} else {
		logger.Info("Using PostgreSQL storage")
		dbConfig := storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}
		store, err = storage.NewPostgresStorage(dbConfig, keyring, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	// Initialize credential lifecycle manager and Gmail client factory
	authManager := auth.NewManager(cfg.Google, store, logger)
	mailFactory := gmail.NewFactory(logger)

	// Initialize ingestion pipeline
	pipeline := ingest.NewPipeline(authManager, func(ctx context.Context, cred *auth.Credential) (ingest.Mailbox, error) {
		return mailFactory.ForCredential(ctx, cred)
	}, logger)

	// Initialize classifier with storage
	clf := classifier.NewGPTClassifier(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.Model,
		cfg.OpenAI.MaxTokens,
		store,
		logger,
	)

	// Start the HTTP server
	srv := server.New(authManager, pipeline, clf, mailFactory, store, logger, cfg.Server.IsDevelopment())
	if err := srv.ListenAndServe(cfg.Server.Port); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
}
