// Copyright 2013 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Time allowed for the peer to send its ID token.
	authWait = 30 * time.Second
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Incoming request types.
const (
	Authenticate           = 1
	OpenConversation       = 2
	SubscribeMessages      = 3
	SubscribeConversations = 4
	Unsubscribe            = 5
	SendMessage            = 6
	MarkRead               = 7
)

// Outgoing event types.
const (
	Authenticated         = 101
	ConversationOpened    = 102
	MessagesSnapshot      = 103
	ConversationsSnapshot = 104
	Unsubscribed          = 105
	MessageSent           = 106
	ReadMarked            = 107
	NewMessageNotice      = 108
	EventError            = 199
)

type IncomingEvent struct {
	RequestType    int         `json:"requestType"`
	Token          string      `json:"token,omitempty"`
	ConversationId string      `json:"conversationId,omitempty"`
	PeerId         string      `json:"peerId,omitempty"`
	SubscriptionId string      `json:"subscriptionId,omitempty"`
	Message        *NewMessage `json:"message,omitempty"`
}

type OutgoingEvent struct {
	RequestType    int         `json:"requestType"`
	ConversationId string      `json:"conversationId,omitempty"`
	SubscriptionId string      `json:"subscriptionId,omitempty"`
	Message        *Message    `json:"message,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	Loading        bool        `json:"loading,omitempty"`
	Error          string      `json:"error,omitempty"`
	Participants   []string    `json:"-"`
	Client         *Client     `json:"-"`
}

type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// Client is a middleman between the ws connection and the Hub.
type Client struct {
	Hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	// Closed when either pump shuts down; pending writes give up.
	closing   chan struct{}
	closeOnce sync.Once

	// ID of the user
	id string

	chatService  ChatService
	inboxService InboxService
	verifier     TokenVerifier
	logger       *zap.Logger

	// Whether the Client has sent over a valid auth token
	isAuthenticated bool

	// Live subscriptions by id, only touched from the read goroutine.
	subscriptions map[string]func()
	forwarders    sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, send chan []byte, id string, chatService ChatService, inboxService InboxService, verifier TokenVerifier, logger *zap.Logger) *Client {
	return &Client{
		Hub:           hub,
		conn:          conn,
		send:          send,
		closing:       make(chan struct{}),
		id:            id,
		chatService:   chatService,
		inboxService:  inboxService,
		verifier:      verifier,
		logger:        logger.With(zap.String("userId", id)),
		subscriptions: make(map[string]func()),
	}
}

// ReadPump pumps messages from the ws connection to the Hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		c.shutdown()
		c.Hub.Unregister(c)
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("could not close network connection", zap.Error(err))
		}
	}()
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("unable to set read deadline", zap.Error(err))
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// If user does not authenticate within allotted time then disconnect Client
	disconnectTimer := time.AfterFunc(authWait, func() {
		c.logger.Info("client did not authenticate in time")
		_ = c.conn.Close()
	})
	defer disconnectTimer.Stop()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		message = bytes.TrimSpace(bytes.Replace(message, newline, space, -1))

		var incomingEvent IncomingEvent
		if err := json.Unmarshal(message, &incomingEvent); err != nil {
			c.logger.Debug("could not process message", zap.Error(err))
			c.reply(OutgoingEvent{RequestType: EventError, Error: "Malformed request."})
			continue
		}

		wasAuthenticated := c.isAuthenticated
		if !c.handle(ctx, incomingEvent) {
			return
		}
		if !wasAuthenticated && c.isAuthenticated {
			disconnectTimer.Stop()
		}
	}
}

// handle dispatches one request. It returns false when the connection should
// be dropped.
func (c *Client) handle(ctx context.Context, event IncomingEvent) bool {
	if !c.isAuthenticated {
		if event.RequestType != Authenticate {
			c.reply(OutgoingEvent{RequestType: EventError, Error: "Authenticate first."})
			return true
		}
		token, err := c.verifier.VerifyIDToken(ctx, event.Token)
		if err != nil {
			c.reply(OutgoingEvent{RequestType: EventError, Error: "Token not valid."})
			return false
		}
		if token.UID != c.id {
			c.reply(OutgoingEvent{RequestType: EventError, Error: "Token does not match client uid."})
			return false
		}
		c.isAuthenticated = true
		c.reply(OutgoingEvent{RequestType: Authenticated})
		return true
	}

	switch event.RequestType {
	case Authenticate:
		c.reply(OutgoingEvent{RequestType: Authenticated})
	case OpenConversation:
		conversationId, err := c.chatService.ResolveOrCreate(ctx, c.id, event.PeerId)
		if err != nil {
			c.replyError(event, err)
			return true
		}
		c.reply(OutgoingEvent{RequestType: ConversationOpened, ConversationId: conversationId})
	case SubscribeMessages:
		if _, err := c.chatService.GetConversation(ctx, c.id, event.ConversationId); err != nil {
			c.replyError(event, err)
			return true
		}
		subscription := c.chatService.SubscribeMessages(ctx, event.ConversationId)
		c.track(forward(c, subscription, MessagesSnapshot, event.ConversationId))
	case SubscribeConversations:
		subscription := c.inboxService.SubscribeConversations(ctx, c.id)
		c.track(forward(c, subscription, ConversationsSnapshot, ""))
	case Unsubscribe:
		if stop, ok := c.subscriptions[event.SubscriptionId]; ok {
			delete(c.subscriptions, event.SubscriptionId)
			stop()
		}
		c.reply(OutgoingEvent{RequestType: Unsubscribed, SubscriptionId: event.SubscriptionId})
	case SendMessage:
		c.sendMessage(ctx, event)
	case MarkRead:
		peerId := event.PeerId
		if peerId == "" {
			conversation, err := c.chatService.GetConversation(ctx, c.id, event.ConversationId)
			if err != nil {
				c.replyError(event, err)
				return true
			}
			peerId, _ = conversation.OtherParticipant(c.id)
		}
		if err := c.chatService.MarkRead(ctx, event.ConversationId, c.id, peerId); err != nil {
			c.replyError(event, err)
			return true
		}
		c.reply(OutgoingEvent{RequestType: ReadMarked, ConversationId: event.ConversationId})
	default:
		c.reply(OutgoingEvent{RequestType: EventError, Error: "Unknown request type."})
	}
	return true
}

func (c *Client) sendMessage(ctx context.Context, event IncomingEvent) {
	if event.Message == nil || strings.TrimSpace(event.Message.Content) == "" {
		c.reply(OutgoingEvent{RequestType: EventError, ConversationId: event.ConversationId, Error: "Message is empty."})
		return
	}

	newMessage := *event.Message
	newMessage.SenderId = c.id
	newMessage.Content = strings.TrimSpace(newMessage.Content)
	if event.ConversationId != "" {
		newMessage.ConversationId = event.ConversationId
	}

	conversation, err := c.chatService.GetConversation(ctx, c.id, newMessage.ConversationId)
	if err != nil {
		c.replyError(event, err)
		return
	}

	sent, err := c.chatService.Send(ctx, newMessage)
	if err != nil {
		c.replyError(event, err)
		return
	}

	c.reply(OutgoingEvent{RequestType: MessageSent, ConversationId: sent.ConversationId, Message: &sent})
	c.Hub.Notify(ctx, OutgoingEvent{
		RequestType:    NewMessageNotice,
		ConversationId: sent.ConversationId,
		Message:        &sent,
		Participants:   conversation.Participants,
		Client:         c,
	})
}

// forward relays every snapshot of subscription to the socket until the
// subscription ends. It returns the subscription id and its stop function.
func forward[T any](c *Client, subscription *Subscription[T], eventType int, conversationId string) (string, func()) {
	subscriptionId := uuid.NewString()
	c.forwarders.Add(1)
	go func() {
		defer c.forwarders.Done()
		for snapshot := range subscription.Updates() {
			c.reply(OutgoingEvent{
				RequestType:    eventType,
				ConversationId: conversationId,
				SubscriptionId: subscriptionId,
				Data:           snapshot.Data,
				Loading:        snapshot.Loading,
				Error:          snapshot.Error,
			})
		}
	}()
	return subscriptionId, subscription.Unsubscribe
}

func (c *Client) track(subscriptionId string, stop func()) {
	c.subscriptions[subscriptionId] = stop
}

// shutdown stops every live subscription and waits for their forwarders, so
// nothing writes to c.send once the hub closes it.
func (c *Client) shutdown() {
	c.stopWriting()
	for subscriptionId, stop := range c.subscriptions {
		stop()
		delete(c.subscriptions, subscriptionId)
	}
	c.forwarders.Wait()
}

func (c *Client) stopWriting() {
	c.closeOnce.Do(func() { close(c.closing) })
}

func (c *Client) replyError(event IncomingEvent, err error) {
	if !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInvalidParticipants) {
		c.logger.Warn("request failed", zap.Int("requestType", event.RequestType), zap.Error(err))
	}
	c.reply(OutgoingEvent{
		RequestType:    EventError,
		ConversationId: event.ConversationId,
		SubscriptionId: event.SubscriptionId,
		Error:          ErrorMessage(err),
	})
}

func (c *Client) reply(event OutgoingEvent) {
	message, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("could not encode outgoing event", zap.Error(err))
		return
	}
	select {
	case c.send <- message:
	case <-c.closing:
	}
}

// WritePump pumps messages from the Hub to the ws connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.stopWriting()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			// Add queued events to the current ws message.
			n := len(c.send)
			for i := 0; i < n; i++ {
				_, _ = w.Write(newline)
				_, _ = w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
