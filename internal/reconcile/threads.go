package reconcile

import "github.com/mvalverde/chatmux/internal/model"

// Threads is the per-account collection of chat threads, keyed by the
// normalized chat id so suffixed and bare ids land in the same thread.
type Threads struct {
	fuzzyWindow int64
	byChat      map[string]*Thread
}

// NewThreads creates an empty thread set.
func NewThreads(fuzzyWindow int64) *Threads {
	return &Threads{
		fuzzyWindow: fuzzyWindow,
		byChat:      make(map[string]*Thread),
	}
}

// Get returns the thread for chatID, creating it on first use.
func (ts *Threads) Get(chatID string) *Thread {
	key := model.NormalizeChatID(chatID)
	t, ok := ts.byChat[key]
	if !ok {
		t = NewThread(chatID, ts.fuzzyWindow)
		ts.byChat[key] = t
	}
	return t
}

// Lookup returns the thread for chatID without creating one.
func (ts *Threads) Lookup(chatID string) (*Thread, bool) {
	t, ok := ts.byChat[model.NormalizeChatID(chatID)]
	return t, ok
}
