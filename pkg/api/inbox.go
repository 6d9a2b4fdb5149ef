package api

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

type InboxService interface {
	SubscribeConversations(ctx context.Context, userId string) *Subscription[[]ConversationSummary]
}

type inboxService struct {
	storage ChatRepository
	users   UserRepository
	logger  *zap.Logger
}

func NewInboxService(storage ChatRepository, users UserRepository, logger *zap.Logger) InboxService {
	return &inboxService{storage: storage, users: users, logger: logger}
}

// SubscribeConversations streams every conversation userId takes part in,
// newest activity first, each with the other participant's current profile.
func (i *inboxService) SubscribeConversations(ctx context.Context, userId string) *Subscription[[]ConversationSummary] {
	if userId == "" {
		return idleSubscription[[]ConversationSummary]()
	}

	logger := i.logger.With(zap.String("userId", userId))
	return subscribe(ctx, func(ctx context.Context) Iterator[[]ConversationSummary] {
		return mapIterator(i.storage.WatchConversations(ctx, userId), func(conversations []Conversation) ([]ConversationSummary, error) {
			return i.summarize(ctx, userId, conversations, logger), nil
		})
	}, logger)
}

// summarize looks up every other participant's profile in one query. A
// profile that is missing or cannot be loaded leaves OtherUser nil.
func (i *inboxService) summarize(ctx context.Context, userId string, conversations []Conversation, logger *zap.Logger) []ConversationSummary {
	var otherIds []string
	seen := make(map[string]bool, len(conversations))
	for _, conversation := range conversations {
		if otherId, ok := conversation.OtherParticipant(userId); ok && !seen[otherId] {
			seen[otherId] = true
			otherIds = append(otherIds, otherId)
		}
	}

	profiles := make(map[string]ProfileSnapshot, len(otherIds))
	if len(otherIds) > 0 {
		models, err := i.users.GetProfilesByIds(ctx, otherIds)
		if err != nil {
			logger.Warn("fetching profile snapshots", zap.Strings("userIds", otherIds), zap.Error(err))
		}
		for _, model := range models {
			profiles[model.UID] = model.ConvertToSnapshot()
		}
	}

	summaries := make([]ConversationSummary, 0, len(conversations))
	for _, conversation := range conversations {
		summary := ConversationSummary{Conversation: conversation, Unread: conversation.UnreadFor(userId)}
		if otherId, ok := conversation.OtherParticipant(userId); ok {
			if snapshot, found := profiles[otherId]; found {
				summary.OtherUser = &snapshot
			}
		}
		summaries = append(summaries, summary)
	}

	sort.SliceStable(summaries, func(a, b int) bool {
		return summaries[a].LastMessageTimestamp.After(summaries[b].LastMessageTimestamp)
	})
	return summaries
}
