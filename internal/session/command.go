package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mvalverde/chatmux/internal/model"
	"github.com/mvalverde/chatmux/internal/reconcile"
	"github.com/mvalverde/chatmux/internal/relay"
	"go.uber.org/zap"
)

const defaultHistoryLimit = 50

// handleCommand executes one inbound UI command. Always runs on the loop
// goroutine; anything that can block goes to a side goroutine and posts its
// completion back.
func (s *Session) handleCommand(ctx context.Context, cmd relay.Command) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("command panicked", zap.String("command", cmd.Name), zap.Any("panic", r))
			cmd.Reply(relay.Failure(fmt.Sprint(r)))
		}
	}()

	switch cmd.Name {
	case relay.CmdSendMessage:
		data, ok := cmd.Data.(relay.SendMessageData)
		if !ok {
			cmd.Reply(relay.Failure("malformed sendMessage payload"))
			return
		}
		s.sendMessage(ctx, data, cmd.Reply)

	case relay.CmdMarkRead:
		data, ok := cmd.Data.(relay.MarkReadData)
		if !ok {
			return
		}
		s.markRead(ctx, data.ChatID)

	case relay.CmdChatHistory:
		data, ok := cmd.Data.(relay.ChatHistoryData)
		if !ok {
			return
		}
		s.fetchHistory(ctx, data)

	case relay.CmdForceSync:
		s.syncChats(ctx)

	case relay.CmdDownloadMedia:
		data, ok := cmd.Data.(relay.DownloadMediaData)
		if !ok {
			return
		}
		s.downloadMedia(ctx, data)

	case relay.CmdPassword:
		data, ok := cmd.Data.(relay.PasswordData)
		if !ok {
			return
		}
		s.submitPassword(data.Secret)

	case relay.CmdDeleteMessage:
		data, ok := cmd.Data.(relay.DeleteMessageData)
		if !ok {
			return
		}
		s.deleteMessage(ctx, data)

	default:
		s.logger.Warn("unknown command", zap.String("command", cmd.Name))
		cmd.Reply(relay.Failure("unknown command " + cmd.Name))
	}
}

// sendMessage creates the optimistic placeholder, hands the send to the
// client, and answers the reply callback exactly once.
func (s *Session) sendMessage(ctx context.Context, data relay.SendMessageData, reply func(relay.Result)) {
	if s.cli == nil {
		reply(relay.Failure("no live client"))
		return
	}

	body := data.Body
	originalBody := ""
	if data.TargetLang != "" && s.translator != nil {
		if translated := s.translator.Translate(ctx, body, data.TargetLang); translated != body {
			originalBody = body
			body = translated
		}
	}

	now := time.Now().Unix()
	tempID := fmt.Sprintf("%s%d_%s", model.TempIDPrefix, now, uuid.NewString()[:8])

	msg := model.Message{
		ID:           tempID,
		ChatID:       data.ChatID,
		FromMe:       true,
		Body:         body,
		Timestamp:    now,
		Type:         "text",
		Ack:          model.AckPending,
		OriginalBody: originalBody,
		QuotedMsg:    s.quotedSnapshot(data),
	}
	if data.Media != nil {
		msg.Type = "media"
		msg.HasMedia = true
		msg.Media = data.Media
	}

	th := s.threads.Get(data.ChatID)
	th.AppendOptimistic(msg)
	s.projector.Bump(msg)
	s.publish(relay.EvtNewMessage, msg)

	if originalBody != "" && s.db != nil {
		err := s.db.PutPendingOriginal(s.accountID, reconcile.Original{
			MessageID: tempID,
			ChatID:    data.ChatID,
			Body:      body,
			Original:  originalBody,
			Timestamp: now,
		})
		if err != nil {
			s.logger.Warn("failed to persist original text", zap.Error(err))
		}
	}

	cli := s.cli
	go func() {
		realID, err := cli.SendMessage(ctx, data.ChatID, body, msg.QuotedMsg, data.Media)
		s.post(func() {
			if err != nil {
				s.logger.Error("send failed", zap.String("chat", data.ChatID), zap.Error(err))
				if th.MarkFailed(tempID) {
					if failed, ok := th.Get(tempID); ok {
						s.publish(relay.EvtNewMessage, failed)
					}
				}
				reply(relay.Failure(err.Error()))
				return
			}
			if th.Promote(tempID, realID) {
				s.publish(relay.EvtMessageAck, relay.AckData{
					ChatID:    data.ChatID,
					MessageID: realID,
					Ack:       model.AckSent,
				})
			}
			if originalBody != "" && s.db != nil {
				if err := s.db.RekeyOriginal(tempID, realID); err != nil {
					s.logger.Warn("failed to rekey original", zap.Error(err))
				}
			}
			reply(relay.Success(realID))
		})
	}()
}

// quotedSnapshot flattens the quoted message into a value snapshot at send
// time; never a live reference.
func (s *Session) quotedSnapshot(data relay.SendMessageData) *model.QuotedMsg {
	if data.QuotedMessageID == "" {
		return nil
	}
	if th, ok := s.threads.Lookup(data.ChatID); ok {
		if q, found := th.Get(data.QuotedMessageID); found {
			return &model.QuotedMsg{ID: q.ID, Body: q.Body, Author: q.Author, FromMe: q.FromMe}
		}
	}
	return &model.QuotedMsg{ID: data.QuotedMessageID, Body: data.QuotedBody}
}

// markRead optimistically zeroes the unread count and asks the client to
// mark seen remotely. Remote failure is logged and tolerated: read-state
// drift is recovered by the next full sync.
func (s *Session) markRead(ctx context.Context, chatID string) {
	if s.projector.ZeroUnread(chatID) {
		s.publish(relay.EvtChats, s.projector.Chats())
	}
	if s.cli == nil {
		return
	}
	cli := s.cli
	go func() {
		if err := cli.MarkRead(ctx, chatID); err != nil {
			s.logger.Warn("remote mark read failed", zap.String("chat", chatID), zap.Error(err))
		}
	}()
}

// fetchHistory loads recent messages for one chat, merges them through the
// reconciliation engine, re-matches pending originals, and emits the result
// correlated by chat. Failures degrade to an empty history event.
func (s *Session) fetchHistory(ctx context.Context, data relay.ChatHistoryData) {
	limit := data.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if s.cli == nil {
		s.publish(relay.EvtChatHistory, relay.ChatHistoryResult{ChatID: data.ChatID, Messages: []model.Message{}})
		return
	}
	cli := s.cli
	go func() {
		msgs, err := cli.FetchMessages(ctx, data.ChatID, limit)
		s.post(func() {
			if err != nil {
				s.logger.Warn("history fetch failed", zap.String("chat", data.ChatID), zap.Error(err))
				s.publish(relay.EvtChatHistory, relay.ChatHistoryResult{ChatID: data.ChatID, Messages: []model.Message{}})
				return
			}
			s.mergeHistory(data.ChatID, msgs)
		})
	}()
}

func (s *Session) mergeHistory(chatID string, msgs []model.Message) {
	if s.db != nil {
		for i := range msgs {
			if !msgs[i].FromMe || msgs[i].OriginalBody != "" {
				continue
			}
			if orig, ok, err := s.db.GetOriginal(msgs[i].ID); err == nil && ok {
				msgs[i].OriginalBody = orig
			}
		}
	}

	th := s.threads.Get(chatID)
	th.MergeHistory(msgs)

	s.recoverOriginals(msgs, th)

	s.publish(relay.EvtChatHistory, relay.ChatHistoryResult{
		ChatID:   chatID,
		Messages: th.Messages(),
	})
}

// recoverOriginals opportunistically re-matches unmatched pre-translation
// entries against freshly loaded history.
func (s *Session) recoverOriginals(msgs []model.Message, th *reconcile.Thread) {
	if s.db == nil {
		return
	}
	pending, err := s.db.PendingOriginals(s.accountID)
	if err != nil || len(pending) == 0 {
		return
	}
	matches, _ := reconcile.RecoverOriginals(pending, msgs, s.tunables.FuzzyWindowSecs)
	for _, m := range matches {
		if err := s.db.MarkOriginalMatched(s.accountID, m.PendingID, m.RealID); err != nil {
			s.logger.Warn("failed to mark original matched", zap.Error(err))
			continue
		}
		th.SetOriginalBody(m.RealID, m.Original)
	}
}

// downloadMedia fetches message media and emits it correlated by
// chat + message id. Failure emits an empty payload, never an exception.
func (s *Session) downloadMedia(ctx context.Context, data relay.DownloadMediaData) {
	if s.cli == nil {
		return
	}
	cli := s.cli
	go func() {
		media, err := cli.DownloadMedia(ctx, data.ChatID, data.MessageID)
		s.post(func() {
			if err != nil {
				s.logger.Warn("media download failed",
					zap.String("chat", data.ChatID), zap.String("message", data.MessageID), zap.Error(err))
				s.publish(relay.EvtMediaLoaded, relay.MediaLoadedResult{ChatID: data.ChatID, MessageID: data.MessageID})
				return
			}
			if th, ok := s.threads.Lookup(data.ChatID); ok {
				th.AttachMedia(data.MessageID, media)
			}
			s.publish(relay.EvtMediaLoaded, relay.MediaLoadedResult{
				ChatID:    data.ChatID,
				MessageID: data.MessageID,
				Media:     media,
			})
		})
	}()
}

// submitPassword resolves the suspended 2FA wait.
func (s *Session) submitPassword(secret string) {
	pa := s.pendingAuth
	if pa == nil {
		s.logger.Warn("password submitted with no pending 2fa request")
		return
	}
	pa.timer.Stop()
	s.pendingAuth = nil
	pa.req.Submit(secret)
	// Outcome arrives as EventAuthenticated or EventAuthFailure.
}

// deleteMessage removes locally right away and fires the remote delete
// best-effort.
func (s *Session) deleteMessage(ctx context.Context, data relay.DeleteMessageData) {
	if th, ok := s.threads.Lookup(data.ChatID); ok {
		th.Remove(data.MsgID)
	}
	if s.cli == nil {
		return
	}
	cli := s.cli
	go func() {
		if err := cli.DeleteMessage(ctx, data.ChatID, data.MsgID, data.Everyone); err != nil {
			s.logger.Warn("remote delete failed", zap.String("message", data.MsgID), zap.Error(err))
		}
	}()
}
