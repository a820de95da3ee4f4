package session

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/mvalverde/chatmux/internal/client"
	"github.com/mvalverde/chatmux/internal/model"
	"github.com/mvalverde/chatmux/internal/relay"
	"github.com/mvalverde/chatmux/internal/status"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// handleClientEvent folds one driver event into session state and relays it
// to the account's room. Always runs on the loop goroutine.
func (s *Session) handleClientEvent(ctx context.Context, evt client.Event) {
	switch evt.Kind {
	case client.EventQR:
		code, ok := evt.Payload.(string)
		if !ok {
			return
		}
		s.qr = code
		s.qrPNG = renderQR(code, s.logger)
		_ = s.machine.Transition(status.QRReady)
		s.publish(relay.EvtQR, relay.QRData{Code: code, PNG: s.qrPNG})

	case client.EventAuthenticated:
		s.qr = QRConnected
		s.qrPNG = ""
		s.clearPendingAuth()
		_ = s.machine.Transition(status.Authenticated)
		s.publish(relay.EvtAuth, nil)

	case client.EventReady:
		_ = s.machine.Transition(status.Connected)
		s.publish(relay.EvtReady, nil)
		s.syncChats(ctx)

	case client.EventMessage:
		msg, ok := evt.Payload.(*model.Message)
		if !ok || msg == nil {
			return
		}
		s.foldMessage(*msg)

	case client.EventMessageAck:
		ack, ok := evt.Payload.(client.Ack)
		if !ok {
			return
		}
		if th, found := s.threads.Lookup(ack.ChatID); found {
			th.ApplyAck(ack.MessageID, ack.Level)
		}
		s.projector.ApplyAck(ack.ChatID, ack.Level)
		s.publish(relay.EvtMessageAck, relay.AckData{
			ChatID:    ack.ChatID,
			MessageID: ack.MessageID,
			Ack:       ack.Level,
		})

	case client.EventChats:
		chats, ok := evt.Payload.([]model.Chat)
		if !ok {
			return
		}
		s.applyChatSnapshot(ctx, chats)

	case client.EventChatUpdate:
		update, ok := evt.Payload.(relay.ChatUpdateData)
		if !ok {
			return
		}
		if s.projector.ApplyUpdate(update) {
			s.publish(relay.EvtChatUpdate, update)
		}

	case client.EventPasswordNeeded:
		req, ok := evt.Payload.(*client.PasswordRequest)
		if !ok || req == nil {
			return
		}
		s.armPendingAuth(req)

	case client.EventAuthFailure:
		reason, _ := evt.Payload.(string)
		s.logger.Warn("auth failure", zap.String("reason", reason))
		_ = s.machine.Transition(status.Error)
		s.publish(relay.EvtError, relay.ErrorData{Message: "authentication failed: " + reason})

	case client.EventDisconnected:
		// Transient for most drivers (auto-reconnect); log only.
		s.logger.Warn("client disconnected")

	case client.EventUserInfo:
		info, ok := evt.Payload.(client.UserInfo)
		if !ok {
			return
		}
		s.identifier = info.Identifier
		if s.db != nil {
			if err := s.db.UpdateAccountIdentifier(s.accountID, info.Identifier); err != nil {
				s.logger.Warn("failed to persist account identifier", zap.Error(err))
			}
		}
		s.publish(relay.EvtUserInfo, relay.UserInfoData{
			AccountIdentifier: info.Identifier,
			DisplayName:       info.DisplayName,
		})
	}
}

// foldMessage runs one inbound message through the reconciliation engine and
// relays it if it changed the thread.
func (s *Session) foldMessage(msg model.Message) {
	if msg.FromMe && msg.OriginalBody == "" && s.db != nil {
		if orig, ok, err := s.db.GetOriginal(msg.ID); err == nil && ok {
			msg.OriginalBody = orig
		}
	}

	th := s.threads.Get(msg.ChatID)
	if !th.Fold(msg) {
		return
	}
	if final, ok := th.Get(msg.ID); ok {
		msg = final
	}
	s.projector.Bump(msg)
	s.publish(relay.EvtNewMessage, msg)
}

// applyChatSnapshot installs a full chat list, scheduling exactly one
// re-fetch when the first snapshot comes back empty.
func (s *Session) applyChatSnapshot(ctx context.Context, chats []model.Chat) {
	s.projector.Replace(chats)
	if len(chats) == 0 && s.projector.NoteEmptySnapshot() {
		delay := time.Duration(s.tunables.EmptyChatRetrySecs) * time.Second
		s.logger.Info("empty chat snapshot, scheduling one retry", zap.Duration("delay", delay))
		time.AfterFunc(delay, func() {
			s.post(func() { s.syncChats(ctx) })
		})
	}
	s.publish(relay.EvtChats, s.projector.Chats())
}

// syncChats refetches the chat list. Idempotent and safe in any state: a
// no-op without a live client.
func (s *Session) syncChats(ctx context.Context) {
	if s.cli == nil {
		return
	}
	cli := s.cli
	s.publish(relay.EvtLoading, map[string]bool{"loading": true})
	go func() {
		chats, err := cli.GetChats(ctx)
		s.post(func() {
			s.publish(relay.EvtLoading, map[string]bool{"loading": false})
			if err != nil {
				// Expected noise from automation-backed clients; recovered
				// by the next sync.
				s.logger.Warn("chat fetch failed", zap.Error(err))
				return
			}
			s.applyChatSnapshot(ctx, chats)
		})
	}()
}

// armPendingAuth stores the suspended 2FA request and starts its deadline.
func (s *Session) armPendingAuth(req *client.PasswordRequest) {
	if s.pendingAuth != nil {
		// A fresh prompt supersedes the old suspension.
		s.pendingAuth.timer.Stop()
		s.pendingAuth.req.Cancel(client.ErrPasswordSuperseded)
	}
	timeout := time.Duration(s.tunables.PasswordTimeoutSecs) * time.Second
	deadline := time.Now().Add(timeout)
	pa := &pendingAuth{req: req, deadline: deadline}
	pa.timer = time.AfterFunc(timeout, func() {
		s.post(func() { s.expirePendingAuth(pa) })
	})
	s.pendingAuth = pa
	s.publish(relay.Evt2FARequired, map[string]string{"hint": req.Hint})
}

// expirePendingAuth rejects a suspension whose window elapsed. The session
// must never leave the driver's auth call dangling.
func (s *Session) expirePendingAuth(pa *pendingAuth) {
	if s.pendingAuth != pa {
		return
	}
	s.pendingAuth = nil
	pa.req.Cancel(client.ErrPasswordTimeout)
	s.logger.Warn("2fa password wait timed out")
	_ = s.machine.Transition(status.Error)
	s.publish(relay.EvtError, relay.ErrorData{Message: "2FA password timed out"})
}

func (s *Session) clearPendingAuth() {
	if s.pendingAuth == nil {
		return
	}
	s.pendingAuth.timer.Stop()
	s.pendingAuth = nil
}

func renderQR(code string, logger *zap.Logger) string {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		logger.Warn("qr render failed", zap.Error(err))
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
