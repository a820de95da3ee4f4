// Package client defines the capability contract every account driver
// (WhatsApp browser-automation, Telegram MTProto, fakes in tests) must
// satisfy. Sessions only ever talk to this interface.
package client

import (
	"context"
	"errors"

	"github.com/mvalverde/chatmux/internal/model"
)

// EventKind enumerates events a driver can emit upstream.
type EventKind string

const (
	EventQR             EventKind = "qr"
	EventAuthenticated  EventKind = "authenticated"
	EventReady          EventKind = "ready"
	EventMessage        EventKind = "message"
	EventMessageAck     EventKind = "message_ack"
	EventChats          EventKind = "chats"
	EventChatUpdate     EventKind = "chat_update"
	EventPasswordNeeded EventKind = "password_needed"
	EventAuthFailure    EventKind = "auth_failure"
	EventDisconnected   EventKind = "disconnected"
	EventUserInfo       EventKind = "user_info"
)

// Event is one upstream driver event. The concrete payload type depends on
// Kind: string QR code, *model.Message, []model.Chat, Ack, *PasswordRequest,
// UserInfo, or error text.
type Event struct {
	Kind    EventKind
	Payload any
}

// Ack is the payload for EventMessageAck.
type Ack struct {
	ChatID    string
	MessageID string
	Level     int
}

// UserInfo is the payload for EventUserInfo.
type UserInfo struct {
	Identifier  string
	DisplayName string
}

// PasswordRequest suspends a driver's auth flow until the supervisor supplies
// a 2FA secret. The driver blocks its own auth call on Submit/Cancel; the
// session owns the deadline and must eventually call one of the two.
type PasswordRequest struct {
	Hint   string
	Submit func(secret string)
	Cancel func(reason error)
}

// ErrPasswordTimeout is passed to PasswordRequest.Cancel when no secret
// arrives inside the configured window.
var ErrPasswordTimeout = errors.New("2fa password wait timed out")

// ErrPasswordSuperseded is passed to PasswordRequest.Cancel when the driver
// issues a fresh prompt while an older one is still suspended.
var ErrPasswordSuperseded = errors.New("2fa prompt superseded by a newer one")

// Handler receives driver events. Drivers call it from their own goroutines;
// it must not block.
type Handler func(Event)

// Client is one live connection to a chat account. All methods taking a
// context may block on network calls; everything else reports through events.
type Client interface {
	// SetEventHandler registers the upstream event sink. Must be called
	// before Connect.
	SetEventHandler(Handler)

	// Connect starts the connection. For unpaired accounts this begins the
	// QR flow (EventQR per code, EventAuthenticated on scan); for restored
	// logins it goes straight to EventAuthenticated then EventReady.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down without invalidating credentials.
	Disconnect()

	// Logout invalidates stored credentials.
	Logout(ctx context.Context) error

	// SendMessage delivers one message and returns the server-assigned id.
	SendMessage(ctx context.Context, chatID string, body string, quoted *model.QuotedMsg, media *model.Media) (string, error)

	// GetChats returns the account's current chat snapshot.
	GetChats(ctx context.Context) ([]model.Chat, error)

	// FetchMessages returns up to limit recent messages for a chat.
	FetchMessages(ctx context.Context, chatID string, limit int) ([]model.Message, error)

	// DownloadMedia fetches the media attached to a message.
	DownloadMedia(ctx context.Context, chatID, messageID string) (*model.Media, error)

	// MarkRead marks a chat as seen remotely.
	MarkRead(ctx context.Context, chatID string) error

	// DeleteMessage deletes a message, optionally for everyone.
	DeleteMessage(ctx context.Context, chatID, messageID string, everyone bool) error
}
