// Package gateway bridges browser websockets to account sessions. Each
// socket joins the rooms of the accounts it wants to follow; joining replays
// the session's current snapshot, after which live relay events fan out to
// every room member.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mvalverde/chatmux/internal/bus"
	"github.com/mvalverde/chatmux/internal/registry"
	"github.com/mvalverde/chatmux/internal/relay"
	"github.com/mvalverde/chatmux/internal/session"
	"github.com/mvalverde/chatmux/internal/status"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second

	// Outbound queue per socket. A socket that cannot drain this is dropped.
	sendQueue = 256
)

// wire is the subset of *websocket.Conn the gateway uses. Tests substitute
// an in-memory implementation.
type wire interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// inbound is the envelope browsers send.
type inbound struct {
	Action    string          `json:"action"`
	AccountID string          `json:"accountId"`
	AckID     string          `json:"ackId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// outbound is the envelope browsers receive.
type outbound struct {
	Event     string `json:"event"`
	AccountID string `json:"accountId,omitempty"`
	AckID     string `json:"ackId,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// Gateway owns every connected socket and their room memberships.
type Gateway struct {
	registry *registry.Registry
	bus      *bus.Bus
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	rooms   map[string]map[*conn]struct{} // accountID -> members
	conns   map[*conn]struct{}
	unsub   func()
	stopped bool
}

type conn struct {
	gw   *Gateway
	wire wire
	send chan []byte
	done chan struct{}
	once sync.Once

	mu    sync.Mutex
	rooms map[string]struct{}
}

// New creates a gateway and attaches it to the event bus. Call Close on
// shutdown to detach and drop all sockets.
func New(reg *registry.Registry, b *bus.Bus, logger *zap.Logger) *Gateway {
	gw := &Gateway{
		registry: reg,
		bus:      b,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The HTTP layer enforces invite scoping; the socket itself is
			// origin-agnostic so the console can be served from anywhere.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		rooms: make(map[string]map[*conn]struct{}),
		conns: make(map[*conn]struct{}),
	}
	ch, unsub := b.Subscribe("", 512)
	gw.unsub = unsub
	go gw.fanout(ch)
	return gw
}

// ServeHTTP upgrades the request and runs the socket until it closes.
func (gw *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := gw.upgrader.Upgrade(w, r, nil)
	if err != nil {
		gw.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	gw.serve(ws)
}

// serve registers the socket and runs its pumps. Split from ServeHTTP so
// tests can drive a fake wire directly.
func (gw *Gateway) serve(w wire) {
	c := &conn{
		gw:    gw,
		wire:  w,
		send:  make(chan []byte, sendQueue),
		done:  make(chan struct{}),
		rooms: make(map[string]struct{}),
	}

	gw.mu.Lock()
	if gw.stopped {
		gw.mu.Unlock()
		_ = w.Close()
		return
	}
	gw.conns[c] = struct{}{}
	gw.mu.Unlock()

	go c.writePump()
	c.readPump()
}

// Close detaches from the bus and disconnects every socket.
func (gw *Gateway) Close() {
	gw.mu.Lock()
	if gw.stopped {
		gw.mu.Unlock()
		return
	}
	gw.stopped = true
	conns := make([]*conn, 0, len(gw.conns))
	for c := range gw.conns {
		conns = append(conns, c)
	}
	gw.mu.Unlock()

	gw.unsub()
	for _, c := range conns {
		c.close()
	}
}

// fanout routes bus events to every member of the event's account room.
func (gw *Gateway) fanout(ch <-chan bus.Event) {
	for evt := range ch {
		out, ok := translateEvent(evt)
		if !ok {
			continue
		}
		payload, err := json.Marshal(out)
		if err != nil {
			gw.logger.Error("event marshal failed", zap.String("kind", evt.Kind), zap.Error(err))
			continue
		}

		gw.mu.Lock()
		members := gw.rooms[evt.AccountID]
		targets := make([]*conn, 0, len(members))
		for c := range members {
			targets = append(targets, c)
		}
		gw.mu.Unlock()

		for _, c := range targets {
			c.enqueue(payload)
		}
	}
}

// translateEvent maps an internal bus event onto the browser envelope.
// Relay events keep their name minus the namespace; status machine events
// become "status".
func translateEvent(evt bus.Event) (outbound, bool) {
	switch {
	case evt.Kind == "session.status":
		change, ok := evt.Payload.(status.StatusChange)
		if !ok {
			return outbound{}, false
		}
		return outbound{
			Event:     relay.EvtStatus,
			AccountID: evt.AccountID,
			Data:      map[string]string{"status": string(change.To)},
		}, true
	case len(evt.Kind) > len(relay.Namespace) && evt.Kind[:len(relay.Namespace)] == relay.Namespace:
		return outbound{
			Event:     evt.Kind[len(relay.Namespace):],
			AccountID: evt.AccountID,
			Data:      evt.Payload,
		}, true
	default:
		return outbound{}, false
	}
}

func (gw *Gateway) join(c *conn, accountID string) {
	gw.mu.Lock()
	room, ok := gw.rooms[accountID]
	if !ok {
		room = make(map[*conn]struct{})
		gw.rooms[accountID] = room
	}
	room[c] = struct{}{}
	gw.mu.Unlock()

	c.mu.Lock()
	c.rooms[accountID] = struct{}{}
	c.mu.Unlock()
}

func (gw *Gateway) leave(c *conn, accountID string) {
	gw.mu.Lock()
	if room, ok := gw.rooms[accountID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(gw.rooms, accountID)
		}
	}
	gw.mu.Unlock()

	c.mu.Lock()
	delete(c.rooms, accountID)
	c.mu.Unlock()
}

func (gw *Gateway) drop(c *conn) {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	c.mu.Unlock()

	gw.mu.Lock()
	delete(gw.conns, c)
	for _, id := range rooms {
		if room, ok := gw.rooms[id]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(gw.rooms, id)
			}
		}
	}
	gw.mu.Unlock()
}

// replaySnapshot sends the session's current state to one socket so a late
// joiner renders without waiting for the next live event.
func (gw *Gateway) replaySnapshot(c *conn, accountID string) {
	s := gw.registry.Get(accountID)
	if s == nil {
		c.sendJSON(outbound{Event: relay.EvtError, AccountID: accountID,
			Data: relay.ErrorData{Message: "unknown account"}})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	snap := s.Snapshot(ctx)
	cancel()

	c.sendJSON(outbound{Event: relay.EvtStatus, AccountID: accountID,
		Data: map[string]string{"status": string(snap.Status)}})
	if snap.QR != nil && snap.QR.Code != session.QRConnected {
		c.sendJSON(outbound{Event: relay.EvtQR, AccountID: accountID, Data: snap.QR})
	}
	if snap.AccountIdentifier != "" {
		c.sendJSON(outbound{Event: relay.EvtUserInfo, AccountID: accountID,
			Data: relay.UserInfoData{AccountIdentifier: snap.AccountIdentifier}})
	}
	if snap.TwoFAPending {
		c.sendJSON(outbound{Event: relay.Evt2FARequired, AccountID: accountID})
	}
	c.sendJSON(outbound{Event: relay.EvtChats, AccountID: accountID, Data: snap.Chats})
}

func (c *conn) readPump() {
	defer c.close()
	_ = c.wire.SetReadDeadline(time.Now().Add(pongWait))
	c.wire.SetPongHandler(func(string) error {
		return c.wire.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.wire.ReadMessage()
		if err != nil {
			return
		}
		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.gw.logger.Warn("bad socket frame", zap.Error(err))
			continue
		}
		c.gw.handleInbound(c, msg)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.wire.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.wire.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.wire.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.wire.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues one frame, dropping the socket if its queue is full.
func (c *conn) enqueue(payload []byte) {
	select {
	case <-c.done:
	case c.send <- payload:
	default:
		c.gw.logger.Warn("slow socket dropped")
		c.close()
	}
}

func (c *conn) sendJSON(out outbound) {
	payload, err := json.Marshal(out)
	if err != nil {
		c.gw.logger.Error("frame marshal failed", zap.String("event", out.Event), zap.Error(err))
		return
	}
	c.enqueue(payload)
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.gw.drop(c)
		_ = c.wire.Close()
	})
}
