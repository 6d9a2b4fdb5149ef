package api

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

const DefaultMessageWindow = 100

type ChatService interface {
	ResolveOrCreate(ctx context.Context, userA string, userB string) (string, error)
	GetConversation(ctx context.Context, userId string, conversationId string) (Conversation, error)
	Send(ctx context.Context, message NewMessage) (Message, error)
	SubscribeMessages(ctx context.Context, conversationId string) *Subscription[[]Message]
	MarkRead(ctx context.Context, conversationId string, readerId string, peerId string) error
}

type ChatRepository interface {
	GetConversation(ctx context.Context, conversationId string) (Conversation, error)
	FindConversation(ctx context.Context, userA string, userB string) (Conversation, error)
	CreateConversation(ctx context.Context, conversation Conversation) (string, error)
	AddMessage(ctx context.Context, conversation Conversation, recipientId string, message NewMessage) (Message, error)
	ResetUnreadCount(ctx context.Context, conversationId string, userId string) error
	GetUnreadMessageIds(ctx context.Context, conversationId string, senderId string) ([]string, error)
	MarkMessagesRead(ctx context.Context, conversationId string, messageIds []string) ([]string, error)
	WatchMessages(ctx context.Context, conversationId string, limit int) Iterator[[]Message]
	WatchConversations(ctx context.Context, userId string) Iterator[[]Conversation]
}

type chatService struct {
	storage       ChatRepository
	messageWindow int
	logger        *zap.Logger
}

func NewChatService(storage ChatRepository, messageWindow int, logger *zap.Logger) ChatService {
	if messageWindow <= 0 {
		messageWindow = DefaultMessageWindow
	}
	return &chatService{storage: storage, messageWindow: messageWindow, logger: logger}
}

// ResolveOrCreate returns the id of the conversation between userA and userB,
// creating it on first contact. The answer does not depend on argument order.
func (c *chatService) ResolveOrCreate(ctx context.Context, userA string, userB string) (string, error) {
	if userA == "" || userB == "" || userA == userB {
		return "", fmt.Errorf("%w: %q and %q", ErrInvalidParticipants, userA, userB)
	}

	conversation, err := c.storage.FindConversation(ctx, userA, userB)
	if err == nil {
		return conversation.Id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		c.logger.Error("finding conversation", zap.String("userA", userA), zap.String("userB", userB), zap.Error(err))
		return "", storeError("find conversation", err)
	}

	id, err := c.storage.CreateConversation(ctx, Conversation{
		Id:           ConversationKey(userA, userB),
		Participants: []string{userA, userB},
		UnreadCount:  map[string]int{userA: 0, userB: 0},
	})
	if err != nil {
		c.logger.Error("creating conversation", zap.String("userA", userA), zap.String("userB", userB), zap.Error(err))
		return "", storeError("create conversation", err)
	}

	c.logger.Info("resolved conversation", zap.String("conversationId", id))
	return id, nil
}

// GetConversation only returns conversations userId takes part in; any other
// conversation is reported as not found.
func (c *chatService) GetConversation(ctx context.Context, userId string, conversationId string) (Conversation, error) {
	if conversationId == "" {
		return Conversation{}, fmt.Errorf("conversation id is empty: %w", ErrNotFound)
	}

	conversation, err := c.storage.GetConversation(ctx, conversationId)
	if err != nil {
		return Conversation{}, storeError("get conversation", err)
	}
	if !conversation.HasParticipant(userId) {
		return Conversation{}, fmt.Errorf("conversation %s: %w", conversationId, ErrNotFound)
	}

	return conversation, nil
}
