package reconcile

import "github.com/mvalverde/chatmux/internal/model"

// Original maps a sent message to its pre-translation source text.
// Translation is one-way, so the original must stay recoverable for display.
type Original struct {
	MessageID string // temp or real id at record time
	ChatID    string
	Body      string // translated body as actually sent
	Original  string
	Timestamp int64
}

// Match binds one pending original to the history message it recovered
// against.
type Match struct {
	PendingID string // the id the original was recorded under
	RealID    string
	Original  string
}

// RecoverOriginals re-matches pending originals against newly loaded history
// by (chat, body, timestamp) fuzzy equality. Each history message is claimed
// by at most one pending entry, so duplicate translated bodies bind to
// distinct messages. Returns the matches plus the still-unmatched remainder.
func RecoverOriginals(pending []Original, msgs []model.Message, window int64) ([]Match, []Original) {
	var matches []Match
	var remaining []Original
	claimed := make(map[string]bool)

	for _, p := range pending {
		realID := ""
		for _, m := range msgs {
			if claimed[m.ID] || !m.FromMe {
				continue
			}
			if !model.SameChat(m.ChatID, p.ChatID) {
				continue
			}
			if normalizeBody(m.Body) != normalizeBody(p.Body) {
				continue
			}
			if absDiff(m.Timestamp, p.Timestamp) > window {
				continue
			}
			realID = m.ID
			break
		}
		if realID != "" {
			claimed[realID] = true
			matches = append(matches, Match{PendingID: p.MessageID, RealID: realID, Original: p.Original})
		} else {
			remaining = append(remaining, p)
		}
	}
	return matches, remaining
}
