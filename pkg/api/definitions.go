package api

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

type Conversation struct {
	Id                   string         `firestore:"-" json:"id"`
	Participants         []string       `firestore:"participants" json:"participants"`
	LastMessage          *string        `firestore:"lastMessage" json:"lastMessage"`
	LastMessageTimestamp time.Time      `firestore:"lastMessageTimestamp" json:"lastMessageTimestamp"`
	UnreadCount          map[string]int `firestore:"unreadCount" json:"unreadCount"`
	CreatedAt            time.Time      `firestore:"createdAt" json:"createdAt"`
}

func (c Conversation) HasParticipant(uid string) bool {
	for _, participant := range c.Participants {
		if participant == uid {
			return true
		}
	}
	return false
}

// OtherParticipant returns the participant that is not uid. The boolean is
// false when uid is not a member of the conversation.
func (c Conversation) OtherParticipant(uid string) (string, bool) {
	if !c.HasParticipant(uid) {
		return "", false
	}
	for _, participant := range c.Participants {
		if participant != uid {
			return participant, true
		}
	}
	return "", false
}

// UnreadFor never reports a negative count, whatever is stored.
func (c Conversation) UnreadFor(uid string) int {
	if n := c.UnreadCount[uid]; n > 0 {
		return n
	}
	return 0
}

type Message struct {
	Id             string    `firestore:"-" json:"id"`
	ConversationId string    `firestore:"conversationId" json:"conversationId"`
	SenderId       string    `firestore:"senderId" json:"senderId"`
	Content        string    `firestore:"content" json:"content"`
	Attachment     string    `firestore:"attachment,omitempty" json:"attachment,omitempty"`
	Timestamp      time.Time `firestore:"timestamp" json:"timestamp"`
	IsRead         bool      `firestore:"isRead" json:"isRead"`
}

// NewMessage is what a sender supplies; everything else is assigned on write.
type NewMessage struct {
	ConversationId string `json:"conversationId"`
	SenderId       string `json:"senderId"`
	Content        string `json:"content"`
	Attachment     string `json:"attachment,omitempty"`
}

type ProfileSnapshot struct {
	Id           string  `json:"id"`
	Name         string  `json:"name"`
	ProfileImage *string `json:"profileImage"`
	Role         string  `json:"role"`
}

type ConversationSummary struct {
	Conversation
	OtherUser *ProfileSnapshot `json:"otherUser,omitempty"`
	Unread    int              `json:"unread"`
}

type Profile struct {
	ProfileSnapshot
	Email         string   `json:"email"`
	Bio           *string  `json:"bio"`
	Skills        []string `json:"skills"`
	LearningGoals []string `json:"learningGoals"`
}

type Connection struct {
	Peer        ProfileSnapshot `json:"peer"`
	ConnectedAt time.Time       `json:"connectedAt"`
}

// ProfileModel is a row of the user_account table.
type ProfileModel struct {
	UID           string    `db:"uid"`
	FirstName     *string   `db:"first_name"`
	LastName      *string   `db:"last_name"`
	Username      string    `db:"username"`
	Email         string    `db:"email"`
	PhotoUrl      *string   `db:"photo_url"`
	Role          string    `db:"role"`
	Bio           *string   `db:"bio"`
	Skills        []string  `db:"skills"`
	LearningGoals []string  `db:"learning_goals"`
	LastActivity  time.Time `db:"last_activity"`
}

func (u *ProfileModel) DisplayName() string {
	var parts []string
	if u.FirstName != nil && *u.FirstName != "" {
		parts = append(parts, *u.FirstName)
	}
	if u.LastName != nil && *u.LastName != "" {
		parts = append(parts, *u.LastName)
	}
	if len(parts) == 0 {
		return u.Username
	}
	return strings.Join(parts, " ")
}

func (u *ProfileModel) ConvertToSnapshot() ProfileSnapshot {
	return ProfileSnapshot{
		Id:           u.UID,
		Name:         u.DisplayName(),
		ProfileImage: u.PhotoUrl,
		Role:         u.Role,
	}
}

func (u *ProfileModel) ConvertToProfile() Profile {
	skills := u.Skills
	if skills == nil {
		skills = []string{}
	}
	goals := u.LearningGoals
	if goals == nil {
		goals = []string{}
	}
	return Profile{
		ProfileSnapshot: u.ConvertToSnapshot(),
		Email:           u.Email,
		Bio:             u.Bio,
		Skills:          skills,
		LearningGoals:   goals,
	}
}

// ConversationKey is the document id of the conversation between a and b.
// It does not depend on argument order. Each id is prefixed with its length,
// so no two distinct pairs share a key.
func ConversationKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strconv.Itoa(len(pair[0])) + ":" + pair[0] + "_" + strconv.Itoa(len(pair[1])) + ":" + pair[1]
}
