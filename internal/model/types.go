package model

import "strings"

// Ack levels for an outgoing message.
const (
	AckPending   = 0
	AckSent      = 1
	AckDelivered = 2
	AckRead      = 3
)

// TempIDPrefix marks optimistic message ids not yet confirmed by the account
// client.
const TempIDPrefix = "temp_"

// Chat is a conversation thread visible to one account.
type Chat struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	IsGroup           bool   `json:"isGroup"`
	UnreadCount       int    `json:"unreadCount"`
	LastMessage       string `json:"lastMessage"`
	LastTimestamp     int64  `json:"lastTimestamp"`
	LastMessageFromMe bool   `json:"lastMessageFromMe"`
	LastMessageAck    int    `json:"lastMessageAck"`
	ProfilePicURL     string `json:"profilePicUrl,omitempty"`
	Archived          bool   `json:"archived,omitempty"`
}

// Message is one chat message, historical or live. Timestamp is in seconds.
type Message struct {
	ID           string     `json:"id"`
	ChatID       string     `json:"chatId"`
	Author       string     `json:"author,omitempty"`
	FromMe       bool       `json:"fromMe"`
	Body         string     `json:"body"`
	Timestamp    int64      `json:"timestamp"`
	Type         string     `json:"type"`
	HasMedia     bool       `json:"hasMedia,omitempty"`
	Media        *Media     `json:"media,omitempty"`
	Ack          int        `json:"ack"`
	OriginalBody string     `json:"originalBody,omitempty"`
	QuotedMsg    *QuotedMsg `json:"quotedMsg,omitempty"`
	Failed       bool       `json:"failed,omitempty"`
}

// QuotedMsg is a flattened snapshot of a quoted message, never a live
// reference to the original entry.
type QuotedMsg struct {
	ID     string `json:"id"`
	Body   string `json:"body"`
	Author string `json:"author,omitempty"`
	FromMe bool   `json:"fromMe"`
}

// Media holds lazily downloaded message media. Data marshals as base64.
type Media struct {
	Mimetype string `json:"mimetype"`
	Data     []byte `json:"data"`
	Filename string `json:"filename,omitempty"`
}

// IsTempID reports whether id is an optimistic placeholder id.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// NormalizeChatID strips the protocol suffix ("12345@c.us" -> "12345").
// The bare identifier is the canonical join key wherever chats and messages
// are correlated, because the same chat can appear with or without a suffix
// in different event payloads.
func NormalizeChatID(id string) string {
	if i := strings.IndexByte(id, '@'); i >= 0 {
		return id[:i]
	}
	return id
}

// SameChat reports whether two chat ids refer to the same chat after
// normalization.
func SameChat(a, b string) bool {
	return NormalizeChatID(a) == NormalizeChatID(b)
}
