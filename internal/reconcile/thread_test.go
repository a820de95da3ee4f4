package reconcile

import (
	"testing"

	"github.com/mvalverde/chatmux/internal/model"
)

const window = 120

func optimistic(id, body string, ts int64) model.Message {
	return model.Message{
		ID: id, ChatID: "12345@c.us", FromMe: true,
		Body: body, Timestamp: ts, Type: "text", Ack: model.AckPending,
	}
}

func echo(id, body string, ts int64) model.Message {
	return model.Message{
		ID: id, ChatID: "12345@c.us", FromMe: true,
		Body: body, Timestamp: ts, Type: "text", Ack: model.AckSent,
	}
}

func TestEchoReplacesPlaceholder(t *testing.T) {
	th := NewThread("12345@c.us", window)
	th.AppendOptimistic(optimistic("temp_1_x", "hello", 1000))

	if !th.Fold(echo("abc", "hello", 1005)) {
		t.Fatal("Fold() = false, want replacement to count as change")
	}

	msgs := th.Messages()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want exactly 1", len(msgs))
	}
	if msgs[0].ID != "abc" {
		t.Errorf("id = %q, want abc", msgs[0].ID)
	}
}

func TestFuzzyMatchBoundary(t *testing.T) {
	tests := []struct {
		name     string
		echoTS   int64
		wantLen  int
		wantTemp bool
	}{
		{"inside window replaces", 1120, 1, false},
		{"outside window inserts", 1121, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := NewThread("12345@c.us", window)
			th.AppendOptimistic(optimistic("temp_1_x", "hello", 1000))
			th.Fold(echo("abc", "hello", tt.echoTS))

			msgs := th.Messages()
			if len(msgs) != tt.wantLen {
				t.Fatalf("got %d messages, want %d", len(msgs), tt.wantLen)
			}
			_, hasTemp := th.Get("temp_1_x")
			if hasTemp != tt.wantTemp {
				t.Errorf("temp placeholder present = %v, want %v", hasTemp, tt.wantTemp)
			}
		})
	}
}

func TestEchoWhitespaceNormalization(t *testing.T) {
	th := NewThread("12345@c.us", window)
	th.AppendOptimistic(optimistic("temp_1_x", "hello  world", 1000))

	th.Fold(echo("abc", " hello world ", 1001))

	if th.Len() != 1 {
		t.Fatalf("got %d messages, want 1", th.Len())
	}
	if _, ok := th.Get("abc"); !ok {
		t.Error("echo did not replace whitespace-variant placeholder")
	}
}

func TestEchoPreservesOriginalBody(t *testing.T) {
	th := NewThread("12345@c.us", window)
	m := optimistic("temp_1_x", "bonjour", 1000)
	m.OriginalBody = "hello"
	m.QuotedMsg = &model.QuotedMsg{ID: "q1", Body: "earlier"}
	th.AppendOptimistic(m)

	th.Fold(echo("abc", "bonjour", 1003))

	got, ok := th.Get("abc")
	if !ok {
		t.Fatal("promoted message not found")
	}
	if got.OriginalBody != "hello" {
		t.Errorf("originalBody = %q, want hello (kept from placeholder)", got.OriginalBody)
	}
	if got.QuotedMsg == nil || got.QuotedMsg.ID != "q1" {
		t.Errorf("quotedMsg = %+v, want kept from placeholder", got.QuotedMsg)
	}
}

func TestStandardDedupByID(t *testing.T) {
	th := NewThread("12345@c.us", window)
	in := model.Message{ID: "m1", ChatID: "12345", Body: "hi", Timestamp: 500}
	if !th.Fold(in) {
		t.Fatal("first fold should insert")
	}
	if th.Fold(in) {
		t.Error("second fold of same id should be a no-op")
	}
	if th.Len() != 1 {
		t.Errorf("got %d messages, want 1", th.Len())
	}
}

func TestStandardDedupByTimestampBody(t *testing.T) {
	th := NewThread("12345@c.us", window)
	th.Fold(model.Message{ID: "m1", Body: "hi", Timestamp: 500})
	// Duplicate delivery through another code path, different id.
	if th.Fold(model.Message{ID: "m2", Body: "hi", Timestamp: 500}) {
		t.Error("identical (timestamp, body) should dedup without id match")
	}
	if th.Len() != 1 {
		t.Errorf("got %d messages, want 1", th.Len())
	}
}

func TestPromoteAfterCallback(t *testing.T) {
	th := NewThread("12345@c.us", window)
	th.AppendOptimistic(optimistic("temp_1_x", "hello", 1000))

	if !th.Promote("temp_1_x", "real1") {
		t.Fatal("Promote() = false, want placeholder rewritten")
	}
	got, ok := th.Get("real1")
	if !ok {
		t.Fatal("promoted message not found")
	}
	if got.Ack != model.AckSent {
		t.Errorf("ack = %d, want %d after promotion", got.Ack, model.AckSent)
	}

	// Echo arrives after promotion: dedup by id keeps a single entry.
	if th.Fold(echo("real1", "hello", 1002)) {
		t.Error("echo after promotion should dedup")
	}
	if th.Len() != 1 {
		t.Errorf("got %d messages, want 1", th.Len())
	}
}

func TestPromoteAfterEchoIsNoop(t *testing.T) {
	th := NewThread("12345@c.us", window)
	th.AppendOptimistic(optimistic("temp_1_x", "hello", 1000))
	th.Fold(echo("abc", "hello", 1005))

	// Callback resolves late; the temp id is gone already.
	if th.Promote("temp_1_x", "abc") {
		t.Error("Promote after echo replacement should be a no-op")
	}
	if th.Len() != 1 {
		t.Errorf("got %d messages, want 1", th.Len())
	}
}

func TestSendFailureKeepsMessage(t *testing.T) {
	th := NewThread("12345@c.us", window)
	m := optimistic("temp_1_x", "hello", 1000)
	m.QuotedMsg = &model.QuotedMsg{ID: "q1", Body: "earlier"}
	th.AppendOptimistic(m)

	if !th.MarkFailed("temp_1_x") {
		t.Fatal("MarkFailed() = false")
	}
	got, ok := th.Get("temp_1_x")
	if !ok {
		t.Fatal("failed message was dropped")
	}
	if !got.Failed {
		t.Error("failed flag not set")
	}
	if got.Body != "hello" || got.QuotedMsg == nil {
		t.Error("body/quotedMsg must stay retrievable for retry")
	}
}

func TestInsertKeepsTimestampOrder(t *testing.T) {
	th := NewThread("12345@c.us", window)
	th.Fold(model.Message{ID: "m3", Body: "c", Timestamp: 300})
	th.Fold(model.Message{ID: "m1", Body: "a", Timestamp: 100})
	th.Fold(model.Message{ID: "m2", Body: "b", Timestamp: 200})

	msgs := th.Messages()
	for i, want := range []string{"m1", "m2", "m3"} {
		if msgs[i].ID != want {
			t.Fatalf("msgs[%d].ID = %q, want %q", i, msgs[i].ID, want)
		}
	}
}

func TestApplyAckNeverRegresses(t *testing.T) {
	th := NewThread("12345@c.us", window)
	th.Fold(model.Message{ID: "m1", FromMe: true, Body: "x", Timestamp: 100, Ack: model.AckDelivered})

	th.ApplyAck("m1", model.AckSent)
	got, _ := th.Get("m1")
	if got.Ack != model.AckDelivered {
		t.Errorf("ack = %d, want %d (no regression)", got.Ack, model.AckDelivered)
	}

	th.ApplyAck("m1", model.AckRead)
	got, _ = th.Get("m1")
	if got.Ack != model.AckRead {
		t.Errorf("ack = %d, want %d", got.Ack, model.AckRead)
	}
}

func TestThreadsNormalizeChatKey(t *testing.T) {
	ts := NewThreads(window)
	a := ts.Get("12345@c.us")
	b := ts.Get("12345")
	if a != b {
		t.Error("suffixed and bare chat ids must share one thread")
	}
	if _, ok := ts.Lookup("12345@g.us"); !ok {
		t.Error("Lookup with another suffix should find the same thread")
	}
}

func TestRecoverOriginals(t *testing.T) {
	pending := []Original{
		{MessageID: "temp_1_x", ChatID: "X", Body: "bonjour", Original: "hello", Timestamp: 1000},
		{MessageID: "temp_2_y", ChatID: "X", Body: "adieu", Original: "bye", Timestamp: 1000},
	}
	history := []model.Message{
		{ID: "real1", ChatID: "X", Body: "bonjour", Timestamp: 1050, FromMe: true},
		{ID: "other", ChatID: "X", Body: "unrelated", Timestamp: 1050, FromMe: true},
		{ID: "notmine", ChatID: "X", Body: "adieu", Timestamp: 1010, FromMe: false},
	}

	matches, remaining := RecoverOriginals(pending, history, window)

	if len(matches) != 1 || matches[0].RealID != "real1" || matches[0].Original != "hello" {
		t.Errorf("matches = %+v, want real1 bound to hello", matches)
	}
	if matches[0].PendingID != "temp_1_x" {
		t.Errorf("PendingID = %q, want temp_1_x", matches[0].PendingID)
	}
	if len(remaining) != 1 || remaining[0].Original != "bye" {
		t.Errorf("remaining = %+v, want only the unmatched entry", remaining)
	}
}

func TestRecoverOriginalsDuplicateBodies(t *testing.T) {
	pending := []Original{
		{MessageID: "temp_1", ChatID: "X", Body: "bonjour", Original: "hello", Timestamp: 1000},
		{MessageID: "temp_2", ChatID: "X", Body: "bonjour", Original: "hello again", Timestamp: 1005},
	}
	history := []model.Message{
		{ID: "real1", ChatID: "X", Body: "bonjour", Timestamp: 1010, FromMe: true},
		{ID: "real2", ChatID: "X", Body: "bonjour", Timestamp: 1015, FromMe: true},
	}

	matches, remaining := RecoverOriginals(pending, history, window)

	if len(matches) != 2 {
		t.Fatalf("matches = %+v, want both pendings bound", matches)
	}
	if matches[0].RealID == matches[1].RealID {
		t.Errorf("both pendings claimed %q, want distinct messages", matches[0].RealID)
	}
	byPending := map[string]Match{}
	for _, m := range matches {
		byPending[m.PendingID] = m
	}
	if byPending["temp_1"].Original != "hello" || byPending["temp_2"].Original != "hello again" {
		t.Errorf("matches = %+v, want each pending keeping its own original", matches)
	}
	if len(remaining) != 0 {
		t.Errorf("remaining = %+v, want empty", remaining)
	}
}

func TestRecoverOriginalsWindow(t *testing.T) {
	pending := []Original{{MessageID: "temp_1", ChatID: "X", Body: "hola", Original: "hi", Timestamp: 1000}}
	history := []model.Message{{ID: "r1", ChatID: "X@c.us", Body: "hola", Timestamp: 1121, FromMe: true}}

	matches, remaining := RecoverOriginals(pending, history, window)
	if len(matches) != 0 {
		t.Errorf("matches = %v, want none outside the window", matches)
	}
	if len(remaining) != 1 {
		t.Errorf("remaining = %v, want the entry kept", remaining)
	}

	history[0].Timestamp = 1120
	matches, remaining = RecoverOriginals(pending, history, window)
	if len(matches) != 1 || matches[0].RealID != "r1" || matches[0].Original != "hi" {
		t.Errorf("matches = %v, want boundary timestamp to match", matches)
	}
	if len(remaining) != 0 {
		t.Errorf("remaining = %v, want empty", remaining)
	}
}
