package wa

import (
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/mvalverde/chatmux/internal/model"
)

// parseLiveMessage normalizes a live whatsmeow message event.
func parseLiveMessage(evt *events.Message) model.Message {
	msg := model.Message{
		ID:        evt.Info.ID,
		ChatID:    evt.Info.Chat.String(),
		Author:    evt.Info.PushName,
		FromMe:    evt.Info.IsFromMe,
		Body:      extractTextBody(evt.Message),
		Timestamp: evt.Info.Timestamp.Unix(),
		Type:      detectMessageType(evt.Message),
		QuotedMsg: extractQuoted(evt.Message),
	}
	msg.HasMedia = msg.Type != "text" && msg.Type != "unknown"
	if msg.FromMe {
		msg.Ack = model.AckSent
	}
	return msg
}

// parseHistoryMessage normalizes one history sync message.
func parseHistoryMessage(chatID string, wmsg *waWeb.WebMessageInfo) model.Message {
	payload := wmsg.GetMessage()
	msg := model.Message{
		ID:        wmsg.GetKey().GetID(),
		ChatID:    chatID,
		Author:    wmsg.GetPushName(),
		FromMe:    wmsg.GetKey().GetFromMe(),
		Body:      extractTextBody(payload),
		Timestamp: int64(wmsg.GetMessageTimestamp()),
		Type:      detectMessageType(payload),
		QuotedMsg: extractQuoted(payload),
	}
	msg.HasMedia = msg.Type != "text" && msg.Type != "unknown"
	if msg.FromMe {
		msg.Ack = historyAck(wmsg.GetStatus())
	}
	return msg
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetCaption()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}

// extractQuoted flattens a quoted reference into a standalone snapshot.
func extractQuoted(msg *waE2E.Message) *model.QuotedMsg {
	if msg == nil {
		return nil
	}
	ext := msg.GetExtendedTextMessage()
	if ext == nil {
		return nil
	}
	ci := ext.GetContextInfo()
	if ci == nil || ci.GetStanzaID() == "" {
		return nil
	}
	return &model.QuotedMsg{
		ID:     ci.GetStanzaID(),
		Body:   extractTextBody(ci.GetQuotedMessage()),
		Author: ci.GetParticipant(),
	}
}

// receiptLevel maps a receipt type onto the ack ladder. Unmapped receipt
// types (a.o. sender receipts) return 0 and are ignored.
func receiptLevel(t events.ReceiptType) int {
	switch t {
	case events.ReceiptTypeDelivered:
		return model.AckDelivered
	case events.ReceiptTypeRead, events.ReceiptTypeReadSelf:
		return model.AckRead
	default:
		return 0
	}
}

// historyAck maps a stored message status onto the ack ladder.
func historyAck(s waWeb.WebMessageInfo_Status) int {
	switch s {
	case waWeb.WebMessageInfo_READ:
		return model.AckRead
	case waWeb.WebMessageInfo_DELIVERY_ACK:
		return model.AckDelivered
	default:
		return model.AckSent
	}
}

func isGroupJID(chatID string) bool {
	return strings.HasSuffix(chatID, "@"+types.GroupServer)
}

func mediaMimetype(msg *waE2E.Message) string {
	switch {
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetMimetype()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetMimetype()
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage().GetMimetype()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetMimetype()
	case msg.GetStickerMessage() != nil:
		return msg.GetStickerMessage().GetMimetype()
	default:
		return "application/octet-stream"
	}
}

func mediaFilename(msg *waE2E.Message) string {
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetFileName()
	}
	return ""
}
