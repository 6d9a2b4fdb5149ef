package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mentorChat/pkg/api"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Server struct {
	router       *chi.Mux
	addr         string
	userService  api.UserService
	chatService  api.ChatService
	inboxService api.InboxService
	verifier     api.TokenVerifier
	logger       *zap.Logger
}

func NewServer(router *chi.Mux, addr string, userService api.UserService, chatService api.ChatService, inboxService api.InboxService, verifier api.TokenVerifier, logger *zap.Logger) *Server {
	return &Server{
		router:       router,
		addr:         addr,
		userService:  userService,
		chatService:  chatService,
		inboxService: inboxService,
		verifier:     verifier,
		logger:       logger,
	}
}

func (s *Server) Run() error {
	// Server run context
	serverCtx, serverStopCtx := context.WithCancel(context.Background())
	defer serverStopCtx()

	hub := api.NewHub(s.logger)
	go hub.Run(serverCtx)

	// run function that initializes the routes
	r := s.Routes(hub)

	server := &http.Server{Addr: s.addr, Handler: r}

	// Listen for syscall signals for process to interrupt/quit
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig

		// Shutdown signal with grace period of 30 seconds
		shutdownCtx, cancelFunc := context.WithTimeout(serverCtx, 30*time.Second)

		// Cancels shutdownCtx if shutdown occurs before timeout
		defer cancelFunc()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				s.logger.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		// Trigger graceful shutdown
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("shutting down server", zap.Error(err))
		}
		serverStopCtx()
	}()

	s.logger.Info("listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	<-serverCtx.Done()
	return nil
}
