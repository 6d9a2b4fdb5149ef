package repository

import (
	"fmt"

	"mentorChat/pkg/api"

	"cloud.google.com/go/firestore"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Storage interface {
	api.ChatRepository
	api.UserRepository
}

// storage keeps conversations and messages in Firestore and user accounts and
// connections in Postgres.
type storage struct {
	db     *pgxpool.Pool
	client *firestore.Client
	logger *zap.Logger
}

func NewStorage(db *pgxpool.Pool, client *firestore.Client, logger *zap.Logger) Storage {
	return &storage{db: db, client: client, logger: logger}
}

// notFoundOr maps a Firestore NotFound status onto api.ErrNotFound.
func notFoundOr(err error, what string) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s: %w", what, api.ErrNotFound)
	}
	return err
}
