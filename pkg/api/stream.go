package api

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Send appends a message to its conversation and bumps the recipient's unread
// counter. Content is stored as given; rejecting blank messages is up to the
// caller.
func (c *chatService) Send(ctx context.Context, message NewMessage) (Message, error) {
	if message.ConversationId == "" {
		return Message{}, fmt.Errorf("conversation id is empty: %w", ErrNotFound)
	}

	conversation, err := c.storage.GetConversation(ctx, message.ConversationId)
	if err != nil {
		c.logger.Error("loading conversation for send", zap.String("conversationId", message.ConversationId), zap.Error(err))
		return Message{}, storeError("get conversation", err)
	}

	recipientId, ok := conversation.OtherParticipant(message.SenderId)
	if !ok {
		return Message{}, fmt.Errorf("%w: %q is not part of conversation %s", ErrInvalidParticipants, message.SenderId, conversation.Id)
	}

	sent, err := c.storage.AddMessage(ctx, conversation, recipientId, message)
	if err != nil {
		c.logger.Error("adding message", zap.String("conversationId", conversation.Id), zap.Error(err))
		return Message{}, storeError("add message", err)
	}

	c.logger.Debug("message sent",
		zap.String("conversationId", conversation.Id),
		zap.String("messageId", sent.Id),
		zap.String("recipientId", recipientId))

	return sent, nil
}

// SubscribeMessages streams the most recent messages of a conversation in
// ascending timestamp order. Observing the stream never marks anything read.
func (c *chatService) SubscribeMessages(ctx context.Context, conversationId string) *Subscription[[]Message] {
	if conversationId == "" {
		return idleSubscription[[]Message]()
	}

	logger := c.logger.With(zap.String("conversationId", conversationId))
	return subscribe(ctx, func(ctx context.Context) Iterator[[]Message] {
		return mapIterator(c.storage.WatchMessages(ctx, conversationId, c.messageWindow), func(messages []Message) ([]Message, error) {
			return orderMessages(messages, c.messageWindow), nil
		})
	}, logger)
}

// orderMessages sorts by timestamp, keeping store order for equal timestamps,
// and keeps the newest limit messages.
func orderMessages(messages []Message, limit int) []Message {
	ordered := make([]Message, len(messages))
	copy(ordered, messages)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}
