// Package reconcile merges optimistic locally-created messages with
// confirmed messages arriving out-of-order from the account client. It is
// the single matching authority: id match, content+timestamp fuzzy match and
// temp-id promotion all live here.
package reconcile

import (
	"sort"
	"strings"

	"github.com/mvalverde/chatmux/internal/model"
)

// Thread holds the reconciled message list for one chat, kept sorted by
// timestamp ascending. Not safe for concurrent use; each account session
// mutates its threads from its own loop only.
type Thread struct {
	chatID      string
	fuzzyWindow int64 // seconds
	msgs        []model.Message
}

// NewThread creates a thread for the given chat. fuzzyWindow is the maximum
// timestamp distance, in seconds, for content-based echo matching.
func NewThread(chatID string, fuzzyWindow int64) *Thread {
	return &Thread{chatID: chatID, fuzzyWindow: fuzzyWindow}
}

// ChatID returns the chat this thread belongs to.
func (t *Thread) ChatID() string { return t.chatID }

// Len returns the number of messages.
func (t *Thread) Len() int { return len(t.msgs) }

// Messages returns a copy of the message list in timestamp order.
func (t *Thread) Messages() []model.Message {
	out := make([]model.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Get returns the message with the given id.
func (t *Thread) Get(id string) (model.Message, bool) {
	for i := range t.msgs {
		if t.msgs[i].ID == id {
			return t.msgs[i], true
		}
	}
	return model.Message{}, false
}

// AppendOptimistic inserts a locally-created placeholder, keeping timestamp
// order.
func (t *Thread) AppendOptimistic(msg model.Message) {
	t.insertSorted(msg)
}

// Fold merges one inbound message into the thread and reports whether the
// list changed. Own-message echoes first try to replace a matching temp
// placeholder; everything else passes through the standard dedup.
func (t *Thread) Fold(msg model.Message) bool {
	if msg.FromMe {
		if i := t.findTempMatch(msg); i >= 0 {
			// The echo usually lacks translation metadata; keep what the
			// placeholder already carried.
			if msg.OriginalBody == "" {
				msg.OriginalBody = t.msgs[i].OriginalBody
			}
			if msg.QuotedMsg == nil {
				msg.QuotedMsg = t.msgs[i].QuotedMsg
			}
			t.msgs[i] = msg
			t.resort()
			return true
		}
	}

	// Standard dedup: same final id, or identical (timestamp, body) pair.
	for i := range t.msgs {
		if t.msgs[i].ID == msg.ID {
			return false
		}
		if t.msgs[i].Timestamp == msg.Timestamp && t.msgs[i].Body == msg.Body {
			return false
		}
	}

	t.insertSorted(msg)
	return true
}

// Promote rewrites a placeholder's id in place once the send callback
// resolves. A no-op (false) when the echo already replaced the placeholder.
func (t *Thread) Promote(tempID, realID string) bool {
	for i := range t.msgs {
		if t.msgs[i].ID == tempID {
			t.msgs[i].ID = realID
			if t.msgs[i].Ack < model.AckSent {
				t.msgs[i].Ack = model.AckSent
			}
			return true
		}
	}
	return false
}

// MarkFailed flags the current entry for id (temp or already promoted) as
// failed, keeping it visible for retry.
func (t *Thread) MarkFailed(id string) bool {
	for i := range t.msgs {
		if t.msgs[i].ID == id {
			t.msgs[i].Failed = true
			return true
		}
	}
	return false
}

// ApplyAck raises the ack level of a message; acks never regress.
func (t *Thread) ApplyAck(messageID string, ack int) bool {
	for i := range t.msgs {
		if t.msgs[i].ID == messageID {
			if ack > t.msgs[i].Ack {
				t.msgs[i].Ack = ack
			}
			return true
		}
	}
	return false
}

// SetOriginalBody fills the pre-translation text on an existing message.
func (t *Thread) SetOriginalBody(messageID, original string) bool {
	for i := range t.msgs {
		if t.msgs[i].ID == messageID {
			t.msgs[i].OriginalBody = original
			return true
		}
	}
	return false
}

// AttachMedia fills in the lazily downloaded media for a message.
func (t *Thread) AttachMedia(messageID string, media *model.Media) bool {
	for i := range t.msgs {
		if t.msgs[i].ID == messageID {
			t.msgs[i].Media = media
			t.msgs[i].HasMedia = true
			return true
		}
	}
	return false
}

// Remove deletes a message by id (explicit delete command, assumed to
// succeed optimistically).
func (t *Thread) Remove(messageID string) bool {
	for i := range t.msgs {
		if t.msgs[i].ID == messageID {
			t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
			return true
		}
	}
	return false
}

// MergeHistory folds a batch of history messages, returning how many were
// actually new. Temp placeholders get the same echo-matching treatment as
// live events, so history loaded after a restart re-converges.
func (t *Thread) MergeHistory(msgs []model.Message) int {
	added := 0
	for _, m := range msgs {
		if t.Fold(m) {
			added++
		}
	}
	return added
}

func (t *Thread) findTempMatch(msg model.Message) int {
	want := normalizeBody(msg.Body)
	for i := range t.msgs {
		if !model.IsTempID(t.msgs[i].ID) {
			continue
		}
		if normalizeBody(t.msgs[i].Body) != want {
			continue
		}
		if absDiff(t.msgs[i].Timestamp, msg.Timestamp) <= t.fuzzyWindow {
			return i
		}
	}
	return -1
}

func (t *Thread) insertSorted(msg model.Message) {
	i := sort.Search(len(t.msgs), func(i int) bool {
		return t.msgs[i].Timestamp > msg.Timestamp
	})
	t.msgs = append(t.msgs, model.Message{})
	copy(t.msgs[i+1:], t.msgs[i:])
	t.msgs[i] = msg
}

func (t *Thread) resort() {
	sort.SliceStable(t.msgs, func(i, j int) bool {
		return t.msgs[i].Timestamp < t.msgs[j].Timestamp
	})
}

// normalizeBody collapses whitespace so formatting differences between the
// optimistic body and the client's echo don't defeat matching.
func normalizeBody(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
