package app

import (
	"mentorChat/pkg/api"
	myMiddleware "mentorChat/pkg/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func (s *Server) Routes(hub *api.Hub) *chi.Mux {
	r := s.router
	r.Use(cors.Handler(cors.Options{
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(myMiddleware.FirebaseConfig(s.verifier))

	r.Route("/chat", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(myMiddleware.Authenticator)
			r.Post("/conversation", s.ResolveConversation())
			r.Get("/conversation", s.GetConversations())
			r.Get("/conversation/{conversationId}", s.GetConversation())
			r.Get("/conversation/{conversationId}/messages", s.GetMessages())
			r.Post("/conversation/{conversationId}/messages", s.SendMessage(hub))
			r.Post("/conversation/{conversationId}/read", s.MarkConversationAsRead())
			r.Get("/connections", s.GetConnections())
			r.Get("/users", s.GetContacts())
			r.Get("/profile/{userId}", s.GetProfile())
			r.Patch("/profile", s.UpdateProfile())
		})

		// The socket authenticates in-band.
		r.Get("/ws", s.ServeWs(hub))
	})

	return r
}
