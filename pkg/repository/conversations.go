package repository

import (
	"context"
	"fmt"

	"mentorChat/pkg/api"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"

	// Firestore rejects batches with more writes than this.
	maxBatchWrites = 500
)

func (s *storage) conversations() *firestore.CollectionRef {
	return s.client.Collection(conversationsCollection)
}

func (s *storage) GetConversation(ctx context.Context, conversationId string) (api.Conversation, error) {
	conversationSnap, err := s.conversations().Doc(conversationId).Get(ctx)
	if err != nil {
		return api.Conversation{}, notFoundOr(err, "conversation "+conversationId)
	}
	return toConversation(conversationSnap)
}

// FindConversation looks the pair up by its key first. Conversations created
// before pair keys were introduced carry generated ids, so it then scans the
// conversations userA takes part in.
func (s *storage) FindConversation(ctx context.Context, userA string, userB string) (api.Conversation, error) {
	key := api.ConversationKey(userA, userB)
	conversationSnap, err := s.conversations().Doc(key).Get(ctx)
	if err == nil {
		conversation, err := toConversation(conversationSnap)
		if err != nil {
			return api.Conversation{}, err
		}
		if !conversation.HasParticipant(userA) || !conversation.HasParticipant(userB) {
			return api.Conversation{}, fmt.Errorf("conversation %s holds participants %v", key, conversation.Participants)
		}
		return conversation, nil
	}
	if status.Code(err) != codes.NotFound {
		return api.Conversation{}, err
	}

	iter := s.conversations().Where("participants", "array-contains", userA).Documents(ctx)
	defer iter.Stop()
	for {
		conversationSnap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return api.Conversation{}, err
		}

		conversation, err := toConversation(conversationSnap)
		if err != nil {
			s.logger.Warn("skipping undecodable conversation", zap.String("conversationId", conversationSnap.Ref.ID), zap.Error(err))
			continue
		}
		if len(conversation.Participants) == 2 && conversation.HasParticipant(userB) {
			return conversation, nil
		}
	}

	return api.Conversation{}, fmt.Errorf("conversation %s: %w", key, api.ErrNotFound)
}

// CreateConversation creates the conversation document unless one with the
// same id already exists, in which case the existing id is returned.
func (s *storage) CreateConversation(ctx context.Context, conversation api.Conversation) (string, error) {
	conversationRef := s.conversations().Doc(conversation.Id)
	_, err := conversationRef.Create(ctx, map[string]interface{}{
		"participants":         conversation.Participants,
		"lastMessage":          nil,
		"lastMessageTimestamp": firestore.ServerTimestamp,
		"unreadCount":          conversation.UnreadCount,
		"createdAt":            firestore.ServerTimestamp,
	})
	if status.Code(err) == codes.AlreadyExists {
		s.logger.Info("conversation already created", zap.String("conversationId", conversationRef.ID))
		return conversationRef.ID, nil
	}
	if err != nil {
		return "", err
	}

	s.logger.Info("created conversation", zap.String("conversationId", conversationRef.ID))
	return conversationRef.ID, nil
}

// AddMessage writes the message and the conversation summary in one batch.
func (s *storage) AddMessage(ctx context.Context, conversation api.Conversation, recipientId string, message api.NewMessage) (api.Message, error) {
	conversationRef := s.conversations().Doc(conversation.Id)
	messageRef := conversationRef.Collection(messagesCollection).NewDoc()

	messageData := map[string]interface{}{
		"conversationId": conversation.Id,
		"senderId":       message.SenderId,
		"content":        message.Content,
		"timestamp":      firestore.ServerTimestamp,
		"isRead":         false,
	}
	if message.Attachment != "" {
		messageData["attachment"] = message.Attachment
	}

	batch := s.client.Batch()
	batch.Create(messageRef, messageData)
	batch.Update(conversationRef, []firestore.Update{
		{Path: "lastMessage", Value: message.Content},
		{Path: "lastMessageTimestamp", Value: firestore.ServerTimestamp},
		{FieldPath: firestore.FieldPath{"unreadCount", recipientId}, Value: firestore.Increment(1)},
	})

	results, err := batch.Commit(ctx)
	if err != nil {
		return api.Message{}, notFoundOr(err, "conversation "+conversation.Id)
	}

	s.logger.Debug("created message document", zap.String("messageId", messageRef.ID))
	return api.Message{
		Id:             messageRef.ID,
		ConversationId: conversation.Id,
		SenderId:       message.SenderId,
		Content:        message.Content,
		Attachment:     message.Attachment,
		Timestamp:      results[0].UpdateTime,
		IsRead:         false,
	}, nil
}

func (s *storage) ResetUnreadCount(ctx context.Context, conversationId string, userId string) error {
	_, err := s.conversations().Doc(conversationId).Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{"unreadCount", userId}, Value: 0},
	})
	if err != nil {
		return notFoundOr(err, "conversation "+conversationId)
	}
	return nil
}

func (s *storage) GetUnreadMessageIds(ctx context.Context, conversationId string, senderId string) ([]string, error) {
	query := s.conversations().Doc(conversationId).Collection(messagesCollection).
		Where("senderId", "==", senderId).
		Where("isRead", "==", false)

	messageSnaps, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}

	messageIds := make([]string, 0, len(messageSnaps))
	for _, messageSnap := range messageSnaps {
		messageIds = append(messageIds, messageSnap.Ref.ID)
	}
	return messageIds, nil
}

// MarkMessagesRead flips isRead in batches. Each batch is atomic; the ids of
// batches that failed are returned along with the last error.
func (s *storage) MarkMessagesRead(ctx context.Context, conversationId string, messageIds []string) ([]string, error) {
	messages := s.conversations().Doc(conversationId).Collection(messagesCollection)

	var failed []string
	var lastErr error
	for _, chunk := range chunkIds(messageIds, maxBatchWrites) {
		batch := s.client.Batch()
		for _, messageId := range chunk {
			batch.Update(messages.Doc(messageId), []firestore.Update{{Path: "isRead", Value: true}})
		}
		if _, err := batch.Commit(ctx); err != nil {
			s.logger.Warn("marking message batch read", zap.String("conversationId", conversationId), zap.Int("messages", len(chunk)), zap.Error(err))
			failed = append(failed, chunk...)
			lastErr = err
		}
	}
	return failed, lastErr
}

// WatchMessages listens to the newest limit messages of a conversation.
func (s *storage) WatchMessages(ctx context.Context, conversationId string, limit int) api.Iterator[[]api.Message] {
	query := s.conversations().Doc(conversationId).Collection(messagesCollection).
		OrderBy("timestamp", firestore.Desc).
		Limit(limit)

	return &snapshotIterator[api.Message]{
		snapshots: query.Snapshots(ctx),
		decode:    toMessage,
		reverse:   true,
		logger:    s.logger,
	}
}

func (s *storage) WatchConversations(ctx context.Context, userId string) api.Iterator[[]api.Conversation] {
	query := s.conversations().Where("participants", "array-contains", userId)

	return &snapshotIterator[api.Conversation]{
		snapshots: query.Snapshots(ctx),
		decode:    toConversation,
		logger:    s.logger,
	}
}

// snapshotIterator decodes every result set of a Firestore live query.
type snapshotIterator[T any] struct {
	snapshots *firestore.QuerySnapshotIterator
	decode    func(*firestore.DocumentSnapshot) (T, error)
	reverse   bool
	logger    *zap.Logger
}

func (it *snapshotIterator[T]) Next() ([]T, error) {
	querySnap, err := it.snapshots.Next()
	if err != nil {
		return nil, err
	}

	docs, err := querySnap.Documents.GetAll()
	if err != nil {
		return nil, err
	}

	items := make([]T, 0, len(docs))
	for _, doc := range docs {
		item, err := it.decode(doc)
		if err != nil {
			it.logger.Warn("skipping undecodable document", zap.String("path", doc.Ref.Path), zap.Error(err))
			continue
		}
		items = append(items, item)
	}

	if it.reverse {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}
	return items, nil
}

func (it *snapshotIterator[T]) Stop() {
	it.snapshots.Stop()
}

func toConversation(conversationSnap *firestore.DocumentSnapshot) (api.Conversation, error) {
	var conversation api.Conversation
	if err := conversationSnap.DataTo(&conversation); err != nil {
		return api.Conversation{}, err
	}
	conversation.Id = conversationSnap.Ref.ID
	if conversation.UnreadCount == nil {
		conversation.UnreadCount = map[string]int{}
	}
	for uid, count := range conversation.UnreadCount {
		if count < 0 {
			conversation.UnreadCount[uid] = 0
		}
	}
	return conversation, nil
}

func toMessage(messageSnap *firestore.DocumentSnapshot) (api.Message, error) {
	var message api.Message
	if err := messageSnap.DataTo(&message); err != nil {
		return api.Message{}, err
	}
	message.Id = messageSnap.Ref.ID
	return message, nil
}

func chunkIds(ids []string, size int) [][]string {
	var chunks [][]string
	for len(ids) > size {
		chunks = append(chunks, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		chunks = append(chunks, ids)
	}
	return chunks
}
