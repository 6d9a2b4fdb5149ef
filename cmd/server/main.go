package main

import (
	"context"
	"log"

	"mentorChat/config"
	"mentorChat/pkg/api"
	"mentorChat/pkg/app"
	"mentorChat/pkg/repository"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	logger, err := config.SetupLogger(cfg)
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	db, err := config.SetupDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("successfully connected to database")

	firebaseApp, err := config.SetupFirebase(ctx, cfg)
	if err != nil {
		return err
	}

	firestore, err := firebaseApp.Firestore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := firestore.Close(); err != nil {
			logger.Warn("unable to close firestore client", zap.Error(err))
		}
	}()

	auth, err := firebaseApp.Auth(ctx)
	if err != nil {
		return err
	}

	storage := repository.NewStorage(db, firestore, logger)

	userService := api.NewUserService(storage, logger)
	chatService := api.NewChatService(storage, cfg.MessageWindow, logger)
	inboxService := api.NewInboxService(storage, storage, logger)

	server := app.NewServer(chi.NewRouter(), cfg.ServerUrl, userService, chatService, inboxService, auth, logger)

	return server.Run()
}
