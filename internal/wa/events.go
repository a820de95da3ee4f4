package wa

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"

	"github.com/mvalverde/chatmux/internal/client"
	"github.com/mvalverde/chatmux/internal/model"
	"github.com/mvalverde/chatmux/internal/relay"
)

// protoCacheLimit caps retained message payloads per chat. Older payloads
// lose lazy media download, nothing else.
const protoCacheLimit = 500

func (c *Client) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		c.logger.Info("whatsapp connected")
		c.emit(client.Event{Kind: client.EventAuthenticated})
		if c.wm.Store.ID != nil {
			c.emit(client.Event{Kind: client.EventUserInfo, Payload: client.UserInfo{
				Identifier:  c.wm.Store.ID.User,
				DisplayName: c.wm.Store.PushName,
			}})
		}
		c.emit(client.Event{Kind: client.EventReady})

	case *events.Message:
		c.handleMessage(evt)

	case *events.Receipt:
		c.handleReceipt(evt)

	case *events.HistorySync:
		c.handleHistorySync(evt.Data)

	case *events.Picture:
		c.handlePicture(evt)

	case *events.LoggedOut:
		c.logger.Warn("whatsapp logged out", zap.String("reason", evt.Reason.String()))
		c.emit(client.Event{Kind: client.EventAuthFailure, Payload: evt.Reason.String()})

	case *events.Disconnected:
		c.logger.Warn("whatsapp disconnected")
		c.emit(client.Event{Kind: client.EventDisconnected})
	}
}

func (c *Client) handleMessage(evt *events.Message) {
	msg := parseLiveMessage(evt)

	c.mu.Lock()
	entry := c.entryLocked(msg.ChatID)
	entry.remember(msg, evt.Message)
	if !msg.FromMe {
		entry.lastInboundID = msg.ID
		entry.lastInboundSender = evt.Info.Sender
	}
	c.mu.Unlock()

	c.emit(client.Event{Kind: client.EventMessage, Payload: &msg})
}

func (c *Client) handleReceipt(evt *events.Receipt) {
	level := receiptLevel(evt.Type)
	if level == 0 {
		return
	}
	for _, id := range evt.MessageIDs {
		c.emit(client.Event{Kind: client.EventMessageAck, Payload: client.Ack{
			ChatID:    evt.Chat.String(),
			MessageID: id,
			Level:     level,
		}})
	}
}

// handleHistorySync folds one history batch into the chat index and emits a
// fresh chat snapshot.
func (c *Client) handleHistorySync(data *waHistorySync.HistorySync) {
	if data == nil {
		return
	}

	c.mu.Lock()
	for _, conv := range data.GetConversations() {
		chatID := conv.GetID()
		if chatID == "" {
			continue
		}
		entry := c.entryLocked(chatID)
		if name := conv.GetName(); name != "" {
			entry.chat.Name = name
		} else if name := conv.GetDisplayName(); name != "" && entry.chat.Name == "" {
			entry.chat.Name = name
		}
		entry.chat.UnreadCount = int(conv.GetUnreadCount())
		entry.chat.Archived = conv.GetArchived()
		if ts := int64(conv.GetConversationTimestamp()); ts > entry.chat.LastTimestamp {
			entry.chat.LastTimestamp = ts
		}

		for _, hm := range conv.GetMessages() {
			wmsg := hm.GetMessage()
			if wmsg == nil || wmsg.GetMessage() == nil {
				continue
			}
			msg := parseHistoryMessage(chatID, wmsg)
			entry.remember(msg, wmsg.GetMessage())
			if msg.Timestamp >= entry.chat.LastTimestamp {
				entry.chat.LastMessage = msg.Body
				entry.chat.LastTimestamp = msg.Timestamp
				entry.chat.LastMessageFromMe = msg.FromMe
				entry.chat.LastMessageAck = msg.Ack
			}
		}
	}
	snapshot := make([]model.Chat, 0, len(c.chats))
	for _, entry := range c.chats {
		snapshot = append(snapshot, entry.chat)
	}
	c.mu.Unlock()

	c.logger.Debug("history sync applied",
		zap.Int("conversations", len(data.GetConversations())),
		zap.Int("chats", len(snapshot)))
	c.emit(client.Event{Kind: client.EventChats, Payload: snapshot})
}

// handlePicture fetches the changed profile picture URL and patches the chat.
// The fetch is a network call, so it runs off the event goroutine.
func (c *Client) handlePicture(evt *events.Picture) {
	if evt.Remove {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		info, err := c.wm.GetProfilePictureInfo(ctx, evt.JID, &whatsmeow.GetProfilePictureParams{})
		if err != nil || info == nil || info.URL == "" {
			c.logger.Debug("profile picture unavailable",
				zap.String("jid", evt.JID.String()), zap.Error(err))
			return
		}

		chatID := evt.JID.String()
		c.mu.Lock()
		c.entryLocked(chatID).chat.ProfilePicURL = info.URL
		c.mu.Unlock()

		c.emit(client.Event{Kind: client.EventChatUpdate, Payload: relay.ChatUpdateData{
			ChatID:        chatID,
			ProfilePicURL: info.URL,
		}})
	}()
}

// entryLocked returns the chat's index entry, creating it on first sight.
// Caller holds c.mu.
func (c *Client) entryLocked(chatID string) *chatEntry {
	if entry := c.lookupLocked(chatID); entry != nil {
		return entry
	}
	entry := &chatEntry{
		chat:   model.Chat{ID: chatID, IsGroup: isGroupJID(chatID)},
		protos: make(map[string]*waE2E.Message),
	}
	c.chats[chatID] = entry
	return entry
}

// remember appends a message to the entry, deduplicating by id, and keeps
// the list in timestamp order.
func (e *chatEntry) remember(msg model.Message, payload *waE2E.Message) {
	for i := range e.msgs {
		if e.msgs[i].ID == msg.ID {
			return
		}
	}
	pos := len(e.msgs)
	for pos > 0 && e.msgs[pos-1].Timestamp > msg.Timestamp {
		pos--
	}
	e.msgs = append(e.msgs, model.Message{})
	copy(e.msgs[pos+1:], e.msgs[pos:])
	e.msgs[pos] = msg

	if msg.HasMedia && payload != nil && len(e.protos) < protoCacheLimit {
		e.protos[msg.ID] = payload
	}
}
