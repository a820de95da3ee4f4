package gateway

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/mvalverde/chatmux/internal/relay"
)

// Socket actions that are handled by the gateway itself rather than relayed
// to a session.
const (
	actionJoin  = "join_service"
	actionLeave = "leave_service"

	// action2FASubmit is the older client name for CmdPassword.
	action2FASubmit = "2fa_submit"
)

// handleInbound routes one browser frame. Membership actions run here;
// everything else becomes a session command, answered with an "ack" frame
// correlated by the client-supplied ackId.
func (gw *Gateway) handleInbound(c *conn, msg inbound) {
	if msg.AccountID == "" {
		c.sendJSON(outbound{Event: relay.EvtError, AckID: msg.AckID,
			Data: relay.ErrorData{Message: "missing accountId"}})
		return
	}

	switch msg.Action {
	case actionJoin:
		gw.join(c, msg.AccountID)
		gw.replaySnapshot(c, msg.AccountID)
		return
	case actionLeave:
		gw.leave(c, msg.AccountID)
		return
	case action2FASubmit:
		msg.Action = relay.CmdPassword
	}

	data, err := decodeCommand(msg.Action, msg.Data)
	if err != nil {
		c.sendJSON(outbound{Event: relay.EvtError, AccountID: msg.AccountID, AckID: msg.AckID,
			Data: relay.ErrorData{Message: err.Error()}})
		return
	}

	s := gw.registry.Get(msg.AccountID)
	if s == nil {
		c.sendJSON(outbound{Event: relay.EvtError, AccountID: msg.AccountID, AckID: msg.AckID,
			Data: relay.ErrorData{Message: "unknown account"}})
		return
	}

	cmd := relay.Command{
		AccountID: msg.AccountID,
		Name:      msg.Action,
		Data:      data,
	}
	if msg.AckID != "" {
		accountID, ackID := msg.AccountID, msg.AckID
		cmd.Reply = func(res relay.Result) {
			c.sendJSON(outbound{Event: "ack", AccountID: accountID, AckID: ackID, Data: res})
		}
	}
	gw.logger.Debug("command dispatched",
		zap.String("account", msg.AccountID), zap.String("action", msg.Action))
	s.Dispatch(cmd)
}

// decodeCommand unmarshals the action's payload into its typed form.
func decodeCommand(action string, raw json.RawMessage) (any, error) {
	unmarshal := func(v any) error {
		if len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, v); err != nil {
			return errBadPayload{action: action, err: err}
		}
		return nil
	}

	switch action {
	case relay.CmdSendMessage:
		var v relay.SendMessageData
		return v, unmarshal(&v)
	case relay.CmdMarkRead:
		var v relay.MarkReadData
		return v, unmarshal(&v)
	case relay.CmdChatHistory:
		var v relay.ChatHistoryData
		return v, unmarshal(&v)
	case relay.CmdForceSync:
		return nil, nil
	case relay.CmdDownloadMedia:
		var v relay.DownloadMediaData
		return v, unmarshal(&v)
	case relay.CmdPassword:
		var v relay.PasswordData
		return v, unmarshal(&v)
	case relay.CmdDeleteMessage:
		var v relay.DeleteMessageData
		return v, unmarshal(&v)
	default:
		return nil, errUnknownAction(action)
	}
}

type errBadPayload struct {
	action string
	err    error
}

func (e errBadPayload) Error() string {
	return "bad payload for " + e.action + ": " + e.err.Error()
}

type errUnknownAction string

func (e errUnknownAction) Error() string {
	return "unknown action " + string(e)
}
