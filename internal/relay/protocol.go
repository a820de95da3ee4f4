package relay

import (
	"sync"

	"github.com/mvalverde/chatmux/internal/model"
)

// Command names accepted from the UI. These match the browser-side socket
// protocol, so several carry their historical wa_/tg_ prefixes.
const (
	CmdSendMessage   = "sendMessage"
	CmdMarkRead      = "mark_read"
	CmdChatHistory   = "get_chat_history"
	CmdForceSync     = "force_sync_chats"
	CmdDownloadMedia = "download_media"
	CmdPassword      = "tg_password"
	CmdDeleteMessage = "deleteMessage"
)

// Event names produced to the UI.
const (
	EvtStatus       = "status"
	EvtQR           = "qr"
	EvtAuth         = "authenticated"
	EvtReady        = "ready"
	EvtChats        = "wa_chats"
	EvtChatUpdate   = "wa_chat_update"
	EvtUserInfo     = "wa_user_info"
	EvtLoading      = "wa_loading"
	EvtChatHistory  = "wa_chat_history"
	EvtNewMessage   = "newMessage"
	EvtMediaLoaded  = "media_loaded"
	EvtMessageAck   = "wa_message_ack"
	Evt2FARequired  = "tg_2fa_required"
	EvtError        = "wa_error"
)

// Namespace is the bus prefix relay events are published under. The gateway
// strips it before emitting to the room.
const Namespace = "relay."

// Command is one typed command routed to an account session. Reply, when
// non-nil, must be called exactly once; wrap with ReplyOnce before handing
// the command off.
type Command struct {
	AccountID string
	Name      string
	Data      any
	Reply     func(Result)
}

// Result is the tagged outcome of a request/response command.
type Result struct {
	Status    string `json:"status"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Success builds a success result carrying the confirmed message id.
func Success(messageID string) Result {
	return Result{Status: "success", MessageID: messageID}
}

// Failure builds an error result from a stringified cause.
func Failure(reason string) Result {
	return Result{Status: "error", Error: reason}
}

// ReplyOnce wraps fn so repeated calls after the first are dropped. A nil fn
// yields a usable no-op, so fire-and-forget commands need no nil checks.
func ReplyOnce(fn func(Result)) func(Result) {
	var once sync.Once
	return func(r Result) {
		if fn == nil {
			return
		}
		once.Do(func() { fn(r) })
	}
}

// SendMessageData is the payload for CmdSendMessage.
type SendMessageData struct {
	ChatID          string        `json:"chatId"`
	Body            string        `json:"body"`
	QuotedMessageID string        `json:"quotedMessageId,omitempty"`
	QuotedBody      string        `json:"quotedBody,omitempty"`
	TargetLang      string        `json:"targetLang,omitempty"`
	Media           *model.Media  `json:"media,omitempty"`
}

// MarkReadData is the payload for CmdMarkRead.
type MarkReadData struct {
	ChatID string `json:"chatId"`
}

// ChatHistoryData is the payload for CmdChatHistory.
type ChatHistoryData struct {
	ChatID string `json:"chatId"`
	Limit  int    `json:"limit,omitempty"`
}

// DownloadMediaData is the payload for CmdDownloadMedia.
type DownloadMediaData struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

// PasswordData is the payload for CmdPassword (2FA secret).
type PasswordData struct {
	Secret string `json:"secret"`
}

// DeleteMessageData is the payload for CmdDeleteMessage.
type DeleteMessageData struct {
	ChatID   string `json:"chatId"`
	MsgID    string `json:"msgId"`
	Everyone bool   `json:"everyone,omitempty"`
}

// QRData is the payload for EvtQR. Code is the raw pairing payload ("CONNECTED"
// once pairing is no longer needed); PNG is a data URI rendering for the UI.
type QRData struct {
	Code string `json:"code"`
	PNG  string `json:"png,omitempty"`
}

// ChatHistoryResult is the payload for EvtChatHistory, correlated by chat.
type ChatHistoryResult struct {
	ChatID   string          `json:"chatId"`
	Messages []model.Message `json:"messages"`
}

// MediaLoadedResult is the payload for EvtMediaLoaded, correlated by
// chat + message id so the UI can attach it to the right placeholder.
type MediaLoadedResult struct {
	ChatID    string       `json:"chatId"`
	MessageID string       `json:"messageId"`
	Media     *model.Media `json:"media,omitempty"`
}

// AckData is the payload for EvtMessageAck.
type AckData struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Ack       int    `json:"ack"`
}

// ChatUpdateData is the payload for EvtChatUpdate. Only non-zero fields are
// applied to the matching chat.
type ChatUpdateData struct {
	ChatID        string `json:"chatId"`
	ProfilePicURL string `json:"profilePicUrl,omitempty"`
	Name          string `json:"name,omitempty"`
	Archived      *bool  `json:"archived,omitempty"`
}

// UserInfoData is the payload for EvtUserInfo once the account identity is
// known post-auth.
type UserInfoData struct {
	AccountIdentifier string `json:"accountIdentifier"`
	DisplayName       string `json:"displayName,omitempty"`
}

// ErrorData is the payload for EvtError.
type ErrorData struct {
	Message string `json:"message"`
}
