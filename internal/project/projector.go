// Package project maintains the authoritative, UI-ready ordering of an
// account's chat list: unread chats first, then recency, re-applied after
// every mutation.
package project

import (
	"sort"

	"github.com/mvalverde/chatmux/internal/model"
	"github.com/mvalverde/chatmux/internal/relay"
)

// Projector derives the sorted chat list from raw snapshots and incremental
// patches. Not safe for concurrent use; owned by one session loop.
type Projector struct {
	chats      []model.Chat
	emptyRetry bool // one re-fetch already scheduled for an empty snapshot
}

// New creates an empty projector.
func New() *Projector {
	return &Projector{}
}

// Len returns the number of projected chats.
func (p *Projector) Len() int { return len(p.chats) }

// Chats returns a copy of the chat list in projected order.
func (p *Projector) Chats() []model.Chat {
	out := make([]model.Chat, len(p.chats))
	copy(out, p.chats)
	return out
}

// Replace installs a full chat snapshot.
func (p *Projector) Replace(chats []model.Chat) {
	p.chats = make([]model.Chat, len(chats))
	copy(p.chats, chats)
	p.resort()
}

// NoteEmptySnapshot records that a full fetch returned zero chats and reports
// whether the caller should schedule a re-fetch. Exactly one retry per
// session: the first empty snapshot usually means the client's local store
// has not hydrated yet, but a second empty result is a real "no chats" state.
func (p *Projector) NoteEmptySnapshot() bool {
	if p.emptyRetry {
		return false
	}
	p.emptyRetry = true
	return true
}

// ApplyUpdate patches only the fields present in the payload onto the chat
// matching by raw id. Reports whether a chat changed.
func (p *Projector) ApplyUpdate(u relay.ChatUpdateData) bool {
	for i := range p.chats {
		if p.chats[i].ID != u.ChatID {
			continue
		}
		if u.ProfilePicURL != "" {
			p.chats[i].ProfilePicURL = u.ProfilePicURL
		}
		if u.Name != "" {
			p.chats[i].Name = u.Name
		}
		if u.Archived != nil {
			p.chats[i].Archived = *u.Archived
		}
		p.resort()
		return true
	}
	return false
}

// ApplyAck updates lastMessageAck on the chat matching by normalized id, and
// only when the preview line is an own message; acks for inbound messages
// don't apply to it.
func (p *Projector) ApplyAck(chatID string, ack int) bool {
	for i := range p.chats {
		if !model.SameChat(p.chats[i].ID, chatID) {
			continue
		}
		if !p.chats[i].LastMessageFromMe {
			return false
		}
		if ack > p.chats[i].LastMessageAck {
			p.chats[i].LastMessageAck = ack
		}
		p.resort()
		return true
	}
	return false
}

// Bump folds a new message into the chat preview, creating the chat entry if
// this is the first message seen for it. Inbound messages raise the unread
// count; own sends do not.
func (p *Projector) Bump(msg model.Message) {
	for i := range p.chats {
		if !model.SameChat(p.chats[i].ID, msg.ChatID) {
			continue
		}
		if msg.Timestamp >= p.chats[i].LastTimestamp {
			p.chats[i].LastMessage = msg.Body
			p.chats[i].LastTimestamp = msg.Timestamp
			p.chats[i].LastMessageFromMe = msg.FromMe
			p.chats[i].LastMessageAck = msg.Ack
		}
		if !msg.FromMe {
			p.chats[i].UnreadCount++
		}
		p.resort()
		return
	}

	c := model.Chat{
		ID:                msg.ChatID,
		Name:              msg.Author,
		LastMessage:       msg.Body,
		LastTimestamp:     msg.Timestamp,
		LastMessageFromMe: msg.FromMe,
		LastMessageAck:    msg.Ack,
	}
	if !msg.FromMe {
		c.UnreadCount = 1
	}
	p.chats = append(p.chats, c)
	p.resort()
}

// ZeroUnread optimistically clears the unread count (mark_read). Reports
// whether the chat was found.
func (p *Projector) ZeroUnread(chatID string) bool {
	for i := range p.chats {
		if model.SameChat(p.chats[i].ID, chatID) {
			p.chats[i].UnreadCount = 0
			p.resort()
			return true
		}
	}
	return false
}

// Remove drops a chat by raw id (explicit chat deletion).
func (p *Projector) Remove(chatID string) bool {
	for i := range p.chats {
		if p.chats[i].ID == chatID {
			p.chats = append(p.chats[:i], p.chats[i+1:]...)
			return true
		}
	}
	return false
}

// resort re-applies the sort contract: unread before read, recency within
// each group. Stable so equal keys keep their relative order.
func (p *Projector) resort() {
	sort.SliceStable(p.chats, func(i, j int) bool {
		iu, ju := p.chats[i].UnreadCount > 0, p.chats[j].UnreadCount > 0
		if iu != ju {
			return iu
		}
		return p.chats[i].LastTimestamp > p.chats[j].LastTimestamp
	})
}
