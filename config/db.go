package config

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4/pgxpool"
)

func SetupDatabase(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseUrl == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	return pgxpool.Connect(ctx, cfg.DatabaseUrl)
}
