// Package wa is the WhatsApp account driver, backed by whatsmeow with a
// per-account sqlite credential store.
package wa

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mvalverde/chatmux/internal/client"
	"github.com/mvalverde/chatmux/internal/model"
)

// sessionDBFile is the credential store inside the account's data dir.
const sessionDBFile = "session.db"

// Driver constructs WhatsApp clients.
type Driver struct{}

// New opens the account's credential store and builds an unconnected client.
func (Driver) New(accountID, dataDir string, logger *zap.Logger) (client.Client, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("ChatMux", [3]uint32{0, 1, 0})

	ctx := context.Background()
	dbPath := filepath.Join(dataDir, sessionDBFile)
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath), nil)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	return &Client{
		wm:        whatsmeow.NewClient(deviceStore, nil),
		container: container,
		logger:    logger,
		chats:     make(map[string]*chatEntry),
	}, nil
}

// chatEntry is the driver's local view of one conversation, hydrated from
// history sync and live messages. Message payload protos are retained so
// media stays downloadable after the fact.
type chatEntry struct {
	chat              model.Chat
	msgs              []model.Message
	protos            map[string]*waE2E.Message
	lastInboundID     string
	lastInboundSender types.JID
}

// Client is one live WhatsApp connection.
type Client struct {
	wm        *whatsmeow.Client
	container *sqlstore.Container
	logger    *zap.Logger

	handler client.Handler

	mu    sync.Mutex
	chats map[string]*chatEntry
}

func (c *Client) SetEventHandler(h client.Handler) {
	c.handler = h
}

func (c *Client) emit(evt client.Event) {
	if c.handler != nil {
		c.handler(evt)
	}
}

// Connect starts the connection. Unpaired accounts go through the QR channel
// first; the channel must be requested before the socket dial.
func (c *Client) Connect(ctx context.Context) error {
	c.wm.AddEventHandler(c.handleEvent)

	if c.wm.Store.ID == nil {
		qrChan, err := c.wm.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("get QR channel: %w", err)
		}
		if err := c.wm.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		go c.pumpQR(qrChan)
		return nil
	}

	if err := c.wm.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

func (c *Client) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			c.emit(client.Event{Kind: client.EventQR, Payload: item.Code})
		case "success":
			// events.Connected carries the rest of the auth flow.
			return
		case "timeout":
			c.emit(client.Event{Kind: client.EventAuthFailure, Payload: "QR code timeout"})
			return
		default:
			if item.Error != nil {
				c.emit(client.Event{Kind: client.EventAuthFailure, Payload: item.Error.Error()})
				return
			}
		}
	}
}

func (c *Client) Disconnect() {
	c.wm.Disconnect()
}

func (c *Client) Logout(ctx context.Context) error {
	return c.wm.Logout(ctx)
}

func (c *Client) SendMessage(ctx context.Context, chatID, body string, quoted *model.QuotedMsg, media *model.Media) (string, error) {
	to, err := c.resolveJID(chatID)
	if err != nil {
		return "", err
	}

	msg, err := c.buildMessage(ctx, body, quoted, media)
	if err != nil {
		return "", err
	}

	resp, err := c.wm.SendMessage(ctx, to, msg)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

func (c *Client) buildMessage(ctx context.Context, body string, quoted *model.QuotedMsg, media *model.Media) (*waE2E.Message, error) {
	if media != nil {
		return c.buildMediaMessage(ctx, body, media)
	}
	if quoted != nil {
		return &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text: proto.String(body),
				ContextInfo: &waE2E.ContextInfo{
					StanzaID:      proto.String(quoted.ID),
					Participant:   proto.String(quoted.Author),
					QuotedMessage: &waE2E.Message{Conversation: proto.String(quoted.Body)},
				},
			},
		}, nil
	}
	return &waE2E.Message{Conversation: proto.String(body)}, nil
}

func (c *Client) buildMediaMessage(ctx context.Context, caption string, media *model.Media) (*waE2E.Message, error) {
	kind := whatsmeow.MediaDocument
	if strings.HasPrefix(media.Mimetype, "image/") {
		kind = whatsmeow.MediaImage
	}
	up, err := c.wm.Upload(ctx, media.Data, kind)
	if err != nil {
		return nil, fmt.Errorf("upload media: %w", err)
	}

	if kind == whatsmeow.MediaImage {
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(media.Mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}, nil
	}
	return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
		Caption:       proto.String(caption),
		FileName:      proto.String(media.Filename),
		Mimetype:      proto.String(media.Mimetype),
		URL:           proto.String(up.URL),
		DirectPath:    proto.String(up.DirectPath),
		MediaKey:      up.MediaKey,
		FileEncSHA256: up.FileEncSHA256,
		FileSHA256:    up.FileSHA256,
		FileLength:    proto.Uint64(up.FileLength),
	}}, nil
}

// GetChats returns the current chat snapshot from the driver's local index.
// Right after pairing the index may still be empty; it fills as history sync
// batches arrive.
func (c *Client) GetChats(ctx context.Context) ([]model.Chat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Chat, 0, len(c.chats))
	for _, entry := range c.chats {
		out = append(out, entry.chat)
	}
	return out, nil
}

func (c *Client) FetchMessages(ctx context.Context, chatID string, limit int) ([]model.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.lookupLocked(chatID)
	if entry == nil {
		return nil, nil
	}
	msgs := entry.msgs
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (c *Client) DownloadMedia(ctx context.Context, chatID, messageID string) (*model.Media, error) {
	c.mu.Lock()
	entry := c.lookupLocked(chatID)
	var payload *waE2E.Message
	if entry != nil {
		payload = entry.protos[messageID]
	}
	c.mu.Unlock()

	if payload == nil {
		return nil, fmt.Errorf("no downloadable payload for message %s", messageID)
	}
	data, err := c.wm.DownloadAny(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	return &model.Media{
		Mimetype: mediaMimetype(payload),
		Data:     data,
		Filename: mediaFilename(payload),
	}, nil
}

func (c *Client) MarkRead(ctx context.Context, chatID string) error {
	to, err := c.resolveJID(chatID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	entry := c.lookupLocked(chatID)
	var id string
	var sender types.JID
	if entry != nil {
		id = entry.lastInboundID
		sender = entry.lastInboundSender
	}
	c.mu.Unlock()
	if id == "" {
		return nil
	}
	return c.wm.MarkRead(ctx, []types.MessageID{id}, time.Now(), to, sender)
}

func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID string, everyone bool) error {
	to, err := c.resolveJID(chatID)
	if err != nil {
		return err
	}
	if !everyone {
		// Local-only deletion has no wire operation; the view layer already
		// dropped the entry.
		return nil
	}
	_, err = c.wm.SendMessage(ctx, to, c.wm.BuildRevoke(to, types.EmptyJID, messageID))
	if err != nil {
		return fmt.Errorf("revoke message: %w", err)
	}
	return nil
}

// lookupLocked finds the entry for a chat id, tolerating suffixed and bare
// forms. Caller holds c.mu.
func (c *Client) lookupLocked(chatID string) *chatEntry {
	if entry, ok := c.chats[chatID]; ok {
		return entry
	}
	for jid, entry := range c.chats {
		if model.SameChat(jid, chatID) {
			return entry
		}
	}
	return nil
}

func (c *Client) resolveJID(chatID string) (types.JID, error) {
	if !strings.ContainsRune(chatID, '@') {
		return types.NewJID(chatID, types.DefaultUserServer), nil
	}
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("parse JID %q: %w", chatID, err)
	}
	return jid, nil
}
