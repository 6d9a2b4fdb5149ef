package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"mentorChat/pkg/api"
	myMiddleware "mentorChat/pkg/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	maxBodyBytes = 1 << 20

	// Time allowed for the first snapshot of a live query on one-shot reads.
	firstSnapshotWait = 15 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8092,
	WriteBufferSize: 8092,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type resolveRequest struct {
	PeerId string `json:"peerId"`
}

type sendRequest struct {
	Content    string `json:"content"`
	Attachment string `json:"attachment,omitempty"`
}

type errorResponse struct {
	Error  string   `json:"error"`
	Failed []string `json:"failed,omitempty"`
}

func (s *Server) ResolveConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, _ := myMiddleware.UserIdFrom(r.Context())

		var request resolveRequest
		if !s.decode(w, r, &request) {
			return
		}

		conversationId, err := s.chatService.ResolveOrCreate(r.Context(), uid, request.PeerId)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, map[string]string{"id": conversationId})
	}
}

func (s *Server) GetConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, _ := myMiddleware.UserIdFrom(r.Context())

		subscription := s.inboxService.SubscribeConversations(r.Context(), uid)
		defer subscription.Unsubscribe()

		writeFirstSnapshot(s, w, r, subscription.Wait)
	}
}

func (s *Server) GetConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, _ := myMiddleware.UserIdFrom(r.Context())
		conversationId := chi.URLParam(r, "conversationId")

		conversation, err := s.chatService.GetConversation(r.Context(), uid, conversationId)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, conversation)
	}
}

func (s *Server) GetMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, _ := myMiddleware.UserIdFrom(r.Context())
		conversationId := chi.URLParam(r, "conversationId")

		if _, err := s.chatService.GetConversation(r.Context(), uid, conversationId); err != nil {
			s.writeError(w, err)
			return
		}

		subscription := s.chatService.SubscribeMessages(r.Context(), conversationId)
		defer subscription.Unsubscribe()

		writeFirstSnapshot(s, w, r, subscription.Wait)
	}
}

func (s *Server) SendMessage(hub *api.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, _ := myMiddleware.UserIdFrom(r.Context())
		conversationId := chi.URLParam(r, "conversationId")

		var request sendRequest
		if !s.decode(w, r, &request) {
			return
		}
		content := strings.TrimSpace(request.Content)
		if content == "" {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Message is empty."})
			return
		}

		conversation, err := s.chatService.GetConversation(r.Context(), uid, conversationId)
		if err != nil {
			s.writeError(w, err)
			return
		}

		message, err := s.chatService.Send(r.Context(), api.NewMessage{
			ConversationId: conversationId,
			SenderId:       uid,
			Content:        content,
			Attachment:     request.Attachment,
		})
		if err != nil {
			s.writeError(w, err)
			return
		}

		if hub != nil {
			hub.Notify(r.Context(), api.OutgoingEvent{
				RequestType:    api.NewMessageNotice,
				ConversationId: conversationId,
				Message:        &message,
				Participants:   conversation.Participants,
			})
		}

		s.writeJSON(w, http.StatusCreated, message)
	}
}

func (s *Server) MarkConversationAsRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, _ := myMiddleware.UserIdFrom(r.Context())
		conversationId := chi.URLParam(r, "conversationId")

		var request resolveRequest
		if r.ContentLength != 0 && !s.decode(w, r, &request) {
			return
		}

		peerId := request.PeerId
		if peerId == "" {
			conversation, err := s.chatService.GetConversation(r.Context(), uid, conversationId)
			if err != nil {
				s.writeError(w, err)
				return
			}
			peerId, _ = conversation.OtherParticipant(uid)
		}

		if err := s.chatService.MarkRead(r.Context(), conversationId, uid, peerId); err != nil {
			s.writeError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) GetConnections() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, _ := myMiddleware.UserIdFrom(r.Context())

		connections, err := s.userService.GetConnections(r.Context(), uid)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, connections)
	}
}

func (s *Server) GetContacts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")

		users, err := s.userService.SearchProfiles(r.Context(), query)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, users)
	}
}

func (s *Server) GetProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userId := chi.URLParam(r, "userId")

		profile, err := s.userService.GetProfile(r.Context(), userId)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, profile)
	}
}

func (s *Server) UpdateProfile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, _ := myMiddleware.UserIdFrom(r.Context())

		patchJSON, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Could not read request body."})
			return
		}

		profile, err := s.userService.UpdateProfile(r.Context(), uid, patchJSON)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, profile)
	}
}

func (s *Server) ServeWs(hub *api.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := r.URL.Query().Get("uid")
		if uid == "" {
			http.Error(w, "uid in query param required", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("upgrading websocket", zap.Error(err))
			return
		}

		s.logger.Debug("connected to websocket", zap.String("userId", uid))
		client := api.NewClient(hub, conn, make(chan []byte, 256), uid, s.chatService, s.inboxService, s.verifier, s.logger)
		if !client.Hub.Register(client) {
			s.logger.Debug("hub stopped, dropping websocket", zap.String("userId", uid))
			_ = conn.Close()
			return
		}

		// Allow collection of memory referenced by the caller by doing all work in
		// new goroutines.
		go client.WritePump()
		go client.ReadPump()
	}
}

// writeFirstSnapshot answers a one-shot read from the first settled snapshot
// of a live query.
func writeFirstSnapshot[T any](s *Server, w http.ResponseWriter, r *http.Request, wait func(ctx context.Context) (api.Snapshot[T], error)) {
	ctx, cancel := context.WithTimeout(r.Context(), firstSnapshotWait)
	defer cancel()

	snapshot, err := wait(ctx)
	if err != nil {
		s.writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "Timed out waiting for data."})
		return
	}
	if snapshot.State == api.Failed {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: snapshot.Error})
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot.Data)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		s.logger.Debug("unable to unmarshal request body", zap.Error(err))
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Malformed request body."})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var partial *api.PartialWriteFailure
	response := errorResponse{Error: api.ErrorMessage(err)}
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, api.ErrInvalidParticipants):
		status = http.StatusBadRequest
	case errors.Is(err, api.ErrInvalidPatch):
		status = http.StatusBadRequest
		response.Error = err.Error()
	case errors.Is(err, api.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &partial):
		response.Failed = partial.Failed
	case errors.Is(err, api.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
		s.logger.Error("store unavailable", zap.Error(err))
	default:
		response.Error = err.Error()
		status = http.StatusBadRequest
	}

	s.writeJSON(w, status, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("unable to encode response", zap.Error(err))
	}
}
