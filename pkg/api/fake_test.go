package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
)

// fakeChatStore is an in-memory ChatRepository with store-assigned,
// strictly increasing timestamps.
type fakeChatStore struct {
	mu            sync.Mutex
	now           time.Time
	conversations map[string]*Conversation
	messages      map[string][]*Message
	nextMessage   int
	watchers      map[chan struct{}]bool
	createCalls   int

	failFind  error
	failGet   error
	failReset error
	failList  error
	failWatch error
	failMark  map[string]bool
}

func newFakeChatStore() *fakeChatStore {
	return &fakeChatStore{
		now:           time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		watchers:      make(map[chan struct{}]bool),
		failMark:      make(map[string]bool),
	}
}

func (f *fakeChatStore) tick() time.Time {
	f.now = f.now.Add(time.Second)
	return f.now
}

func (f *fakeChatStore) changed() {
	for watcher := range f.watchers {
		select {
		case watcher <- struct{}{}:
		default:
		}
	}
}

func (f *fakeChatStore) copyConversation(c *Conversation) Conversation {
	conversation := *c
	conversation.Participants = append([]string(nil), c.Participants...)
	conversation.UnreadCount = make(map[string]int, len(c.UnreadCount))
	for uid, n := range c.UnreadCount {
		conversation.UnreadCount[uid] = n
	}
	return conversation
}

// seed stores a conversation as if it had been created earlier.
func (f *fakeChatStore) seed(conversation Conversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if conversation.UnreadCount == nil {
		conversation.UnreadCount = map[string]int{}
	}
	f.conversations[conversation.Id] = &conversation
}

func (f *fakeChatStore) conversation(t *testing.T, id string) Conversation {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conversations[id]
	if !ok {
		t.Fatalf("conversation %s does not exist", id)
	}
	return f.copyConversation(c)
}

func (f *fakeChatStore) message(t *testing.T, conversationId, messageId string) Message {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages[conversationId] {
		if m.Id == messageId {
			return *m
		}
	}
	t.Fatalf("message %s does not exist", messageId)
	return Message{}
}

func (f *fakeChatStore) GetConversation(_ context.Context, conversationId string) (Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet != nil {
		return Conversation{}, f.failGet
	}
	c, ok := f.conversations[conversationId]
	if !ok {
		return Conversation{}, fmt.Errorf("conversation %s: %w", conversationId, ErrNotFound)
	}
	return f.copyConversation(c), nil
}

func (f *fakeChatStore) FindConversation(_ context.Context, userA string, userB string) (Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFind != nil {
		return Conversation{}, f.failFind
	}
	key := ConversationKey(userA, userB)
	if c, ok := f.conversations[key]; ok {
		if !c.HasParticipant(userA) || !c.HasParticipant(userB) {
			return Conversation{}, fmt.Errorf("conversation %s holds participants %v", key, c.Participants)
		}
		return f.copyConversation(c), nil
	}
	for _, c := range f.conversations {
		if len(c.Participants) == 2 && c.HasParticipant(userA) && c.HasParticipant(userB) {
			return f.copyConversation(c), nil
		}
	}
	return Conversation{}, ErrNotFound
}

func (f *fakeChatStore) CreateConversation(_ context.Context, conversation Conversation) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if _, ok := f.conversations[conversation.Id]; ok {
		return conversation.Id, nil
	}
	now := f.tick()
	conversation.CreatedAt = now
	conversation.LastMessageTimestamp = now
	f.conversations[conversation.Id] = &conversation
	f.changed()
	return conversation.Id, nil
}

func (f *fakeChatStore) AddMessage(_ context.Context, conversation Conversation, recipientId string, message NewMessage) (Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conversations[conversation.Id]
	if !ok {
		return Message{}, ErrNotFound
	}

	f.nextMessage++
	now := f.tick()
	stored := &Message{
		Id:             fmt.Sprintf("m%d", f.nextMessage),
		ConversationId: conversation.Id,
		SenderId:       message.SenderId,
		Content:        message.Content,
		Attachment:     message.Attachment,
		Timestamp:      now,
	}
	f.messages[conversation.Id] = append(f.messages[conversation.Id], stored)

	content := message.Content
	c.LastMessage = &content
	c.LastMessageTimestamp = now
	c.UnreadCount[recipientId]++
	f.changed()
	return *stored, nil
}

func (f *fakeChatStore) ResetUnreadCount(_ context.Context, conversationId string, userId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conversations[conversationId]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationId, ErrNotFound)
	}
	if f.failReset != nil {
		return f.failReset
	}
	c.UnreadCount[userId] = 0
	f.changed()
	return nil
}

func (f *fakeChatStore) GetUnreadMessageIds(_ context.Context, conversationId string, senderId string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList != nil {
		return nil, f.failList
	}
	var ids []string
	for _, m := range f.messages[conversationId] {
		if m.SenderId == senderId && !m.IsRead {
			ids = append(ids, m.Id)
		}
	}
	return ids, nil
}

func (f *fakeChatStore) MarkMessagesRead(_ context.Context, conversationId string, messageIds []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var failed []string
	for _, id := range messageIds {
		if f.failMark[id] {
			failed = append(failed, id)
			continue
		}
		for _, m := range f.messages[conversationId] {
			if m.Id == id {
				m.IsRead = true
			}
		}
	}
	f.changed()
	if len(failed) > 0 {
		return failed, errors.New("write rejected")
	}
	return nil, nil
}

// WatchMessages returns every message in insertion order; windowing is left
// to the caller.
func (f *fakeChatStore) WatchMessages(ctx context.Context, conversationId string, _ int) Iterator[[]Message] {
	return newFakeIterator(ctx, f, func() ([]Message, error) {
		if f.failWatch != nil {
			return nil, f.failWatch
		}
		messages := make([]Message, 0, len(f.messages[conversationId]))
		for _, m := range f.messages[conversationId] {
			messages = append(messages, *m)
		}
		return messages, nil
	})
}

func (f *fakeChatStore) WatchConversations(ctx context.Context, userId string) Iterator[[]Conversation] {
	return newFakeIterator(ctx, f, func() ([]Conversation, error) {
		if f.failWatch != nil {
			return nil, f.failWatch
		}
		ids := make([]string, 0, len(f.conversations))
		for id := range f.conversations {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		var conversations []Conversation
		for _, id := range ids {
			if c := f.conversations[id]; c.HasParticipant(userId) {
				conversations = append(conversations, f.copyConversation(c))
			}
		}
		return conversations, nil
	})
}

type fakeIterator[T any] struct {
	ctx     context.Context
	store   *fakeChatStore
	notify  chan struct{}
	fetch   func() (T, error)
	started bool
}

func newFakeIterator[T any](ctx context.Context, store *fakeChatStore, fetch func() (T, error)) *fakeIterator[T] {
	notify := make(chan struct{}, 1)
	store.mu.Lock()
	store.watchers[notify] = true
	store.mu.Unlock()
	return &fakeIterator[T]{ctx: ctx, store: store, notify: notify, fetch: fetch}
}

func (it *fakeIterator[T]) Next() (T, error) {
	if it.started {
		select {
		case <-it.ctx.Done():
			var zero T
			return zero, it.ctx.Err()
		case <-it.notify:
		}
	}
	it.started = true

	it.store.mu.Lock()
	defer it.store.mu.Unlock()
	return it.fetch()
}

func (it *fakeIterator[T]) Stop() {
	it.store.mu.Lock()
	delete(it.store.watchers, it.notify)
	it.store.mu.Unlock()
}

// blockingIterator never yields a result until its context is cancelled.
type blockingIterator[T any] struct {
	ctx     context.Context
	stopped chan struct{}
}

func (it *blockingIterator[T]) Next() (T, error) {
	<-it.ctx.Done()
	var zero T
	return zero, it.ctx.Err()
}

func (it *blockingIterator[T]) Stop() {
	close(it.stopped)
}

type fakeUsers struct {
	mu          sync.Mutex
	profiles    map[string]*ProfileModel
	connections map[string][]*ConnectionModel
	failProfile map[string]error
	failBatch   error
	batchCalls  int
	updated     map[string]ProfileEdit
}

func newFakeUsers(profiles ...*ProfileModel) *fakeUsers {
	users := &fakeUsers{
		profiles:    make(map[string]*ProfileModel),
		connections: make(map[string][]*ConnectionModel),
		failProfile: make(map[string]error),
		updated:     make(map[string]ProfileEdit),
	}
	for _, profile := range profiles {
		users.profiles[profile.UID] = profile
	}
	return users
}

func (f *fakeUsers) GetProfile(_ context.Context, userId string) (*ProfileModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failProfile[userId]; err != nil {
		return nil, err
	}
	profile, ok := f.profiles[userId]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userId, ErrNotFound)
	}
	copied := *profile
	return &copied, nil
}

// GetProfilesByIds leaves out unknown users and users with a failProfile
// entry, the way a query filtering on ids would.
func (f *fakeUsers) GetProfilesByIds(ctx context.Context, userIds []string) ([]*ProfileModel, error) {
	f.mu.Lock()
	f.batchCalls++
	failBatch := f.failBatch
	f.mu.Unlock()
	if failBatch != nil {
		return nil, failBatch
	}

	var profiles []*ProfileModel
	for _, id := range userIds {
		if profile, err := f.GetProfile(ctx, id); err == nil {
			profiles = append(profiles, profile)
		}
	}
	return profiles, nil
}

func (f *fakeUsers) profileBatches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batchCalls
}

func (f *fakeUsers) SearchProfiles(_ context.Context, query string) ([]*ProfileModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var profiles []*ProfileModel
	for _, profile := range f.profiles {
		if profile.Username == query {
			profiles = append(profiles, profile)
		}
	}
	return profiles, nil
}

func (f *fakeUsers) GetConnections(_ context.Context, userId string) ([]*ConnectionModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connections[userId], nil
}

func (f *fakeUsers) UpdateProfile(_ context.Context, userId string, edit ProfileEdit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[userId]
	if !ok {
		return ErrNotFound
	}
	profile.Bio = edit.Bio
	profile.Skills = edit.Skills
	profile.LearningGoals = edit.LearningGoals
	f.updated[userId] = edit
	return nil
}

func profile(uid, first, last, role string) *ProfileModel {
	return &ProfileModel{UID: uid, FirstName: &first, LastName: &last, Username: uid, Role: role}
}

type fakeVerifier map[string]string

func (f fakeVerifier) VerifyIDToken(_ context.Context, idToken string) (*auth.Token, error) {
	uid, ok := f[idToken]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return &auth.Token{UID: uid}, nil
}

func newTestChat(store *fakeChatStore) ChatService {
	return NewChatService(store, DefaultMessageWindow, zap.NewNop())
}

func waitSnapshot[T any](t *testing.T, subscription *Subscription[T]) Snapshot[T] {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snapshot, err := subscription.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return snapshot
}

// nextMatching reads updates until one satisfies match.
func nextMatching[T any](t *testing.T, subscription *Subscription[T], match func(Snapshot[T]) bool) Snapshot[T] {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case snapshot, ok := <-subscription.Updates():
			if !ok {
				t.Fatal("subscription ended before a matching snapshot arrived")
			}
			if match(snapshot) {
				return snapshot
			}
		case <-timeout:
			t.Fatalf("no matching snapshot; current: %+v", subscription.Current())
		}
	}
}
