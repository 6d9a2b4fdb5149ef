package config

import (
	"context"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

func SetupFirebase(ctx context.Context, cfg Config) (*firebase.App, error) {
	var firebaseConfig *firebase.Config
	if cfg.ProjectId != "" {
		firebaseConfig = &firebase.Config{ProjectID: cfg.ProjectId}
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	return firebase.NewApp(ctx, firebaseConfig, opts...)
}
