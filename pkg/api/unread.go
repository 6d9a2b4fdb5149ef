package api

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// MarkRead clears readerId's unread counter and flags every unread message
// from peerId as read. reader and peer must be the conversation's two
// participants, otherwise the conversation is reported as not found. The
// counter reset and the message updates are attempted independently; message
// ids that could not be updated are returned in a *PartialWriteFailure.
func (c *chatService) MarkRead(ctx context.Context, conversationId string, readerId string, peerId string) error {
	if conversationId == "" {
		return fmt.Errorf("conversation id is empty: %w", ErrNotFound)
	}
	if readerId == "" || peerId == "" || readerId == peerId {
		return fmt.Errorf("%w: reader %q, peer %q", ErrInvalidParticipants, readerId, peerId)
	}

	conversation, err := c.storage.GetConversation(ctx, conversationId)
	if err != nil {
		return storeError("get conversation", err)
	}
	if otherId, ok := conversation.OtherParticipant(readerId); !ok || otherId != peerId {
		return fmt.Errorf("conversation %s: %w", conversationId, ErrNotFound)
	}

	logger := c.logger.With(zap.String("conversationId", conversationId), zap.String("readerId", readerId))

	resetErr := c.storage.ResetUnreadCount(ctx, conversationId, readerId)
	if resetErr != nil {
		if errors.Is(resetErr, ErrNotFound) {
			return resetErr
		}
		logger.Error("resetting unread count", zap.Error(resetErr))
	}

	messageIds, err := c.storage.GetUnreadMessageIds(ctx, conversationId, peerId)
	if err != nil {
		logger.Error("listing unread messages", zap.Error(err))
		if resetErr != nil {
			return storeError("reset unread count", resetErr)
		}
		return storeError("list unread messages", err)
	}

	if len(messageIds) > 0 {
		failed, err := c.storage.MarkMessagesRead(ctx, conversationId, messageIds)
		if len(failed) > 0 {
			if err == nil {
				err = errors.New("message update rejected")
			}
			logger.Warn("some messages were not marked read", zap.Strings("messageIds", failed), zap.Error(err))
			return &PartialWriteFailure{
				ConversationId: conversationId,
				Failed:         failed,
				Marked:         len(messageIds) - len(failed),
				Err:            storeError("mark messages read", err),
			}
		}
		if err != nil {
			logger.Error("marking messages read", zap.Error(err))
			return storeError("mark messages read", err)
		}
	}

	if resetErr != nil {
		return storeError("reset unread count", resetErr)
	}

	logger.Debug("conversation marked read", zap.Int("messages", len(messageIds)))
	return nil
}
