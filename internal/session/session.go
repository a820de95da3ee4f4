// Package session implements one live account session: the per-account state
// machine, the command/event relay against the account client, and the
// reconciled chat/message state served to late joiners. All session state is
// owned by a single loop goroutine; slow client calls run on side goroutines
// and post their completions back into the loop.
package session

import (
	"context"
	"time"

	"github.com/mvalverde/chatmux/internal/bus"
	"github.com/mvalverde/chatmux/internal/client"
	"github.com/mvalverde/chatmux/internal/config"
	"github.com/mvalverde/chatmux/internal/model"
	"github.com/mvalverde/chatmux/internal/project"
	"github.com/mvalverde/chatmux/internal/reconcile"
	"github.com/mvalverde/chatmux/internal/relay"
	"github.com/mvalverde/chatmux/internal/status"
	"github.com/mvalverde/chatmux/internal/store"
	"github.com/mvalverde/chatmux/internal/translate"
	"go.uber.org/zap"
)

// QRConnected is the qr sentinel meaning pairing is no longer needed.
const QRConnected = "CONNECTED"

// Params carries everything a session needs. DB and Translator may be nil
// (tests); NewClient is invoked once at startup and its error is fatal for
// the session (INIT_FAILED), not for the daemon.
type Params struct {
	AccountID   string
	AccountType client.AccountType
	Bus         *bus.Bus
	DB          *store.DB
	Translator  *translate.Translator
	Tunables    config.Tunables
	Logger      *zap.Logger
	NewClient   func() (client.Client, error)
}

// Session supervises one account connection.
type Session struct {
	accountID   string
	accountType client.AccountType
	machine     *status.Machine
	bus         *bus.Bus
	db          *store.DB
	translator  *translate.Translator
	tunables    config.Tunables
	logger      *zap.Logger
	newClient   func() (client.Client, error)

	cmds   chan relay.Command
	events chan client.Event
	ops    chan func()
	done   chan struct{}
	cancel context.CancelFunc

	// Loop-owned state below; never touched outside the loop goroutine.
	cli         client.Client
	threads     *reconcile.Threads
	projector   *project.Projector
	qr          string
	qrPNG       string
	identifier  string
	pendingAuth *pendingAuth
}

type pendingAuth struct {
	req      *client.PasswordRequest
	deadline time.Time
	timer    *time.Timer
}

// Snapshot is the replayable session state handed to a late-joining socket.
type Snapshot struct {
	AccountID         string        `json:"accountId"`
	Status            status.State  `json:"status"`
	QR                *relay.QRData `json:"qr,omitempty"`
	Chats             []model.Chat  `json:"chats"`
	AccountIdentifier string        `json:"accountIdentifier,omitempty"`
	TwoFAPending      bool          `json:"twoFAPending,omitempty"`
}

// New creates a session in INITIALIZING. Call Start to spin it up.
func New(p Params) *Session {
	return &Session{
		accountID:   p.AccountID,
		accountType: p.AccountType,
		machine:     status.NewMachine(p.AccountID, p.Bus),
		bus:         p.Bus,
		db:          p.DB,
		translator:  p.Translator,
		tunables:    p.Tunables,
		logger:      p.Logger.With(zap.String("account", p.AccountID), zap.String("type", string(p.AccountType))),
		newClient:   p.NewClient,
		cmds:        make(chan relay.Command, 64),
		events:      make(chan client.Event, 256),
		ops:         make(chan func(), 128),
		done:        make(chan struct{}),
		threads:     reconcile.NewThreads(p.Tunables.FuzzyWindowSecs),
		projector:   project.New(),
	}
}

// AccountID returns the account this session serves.
func (s *Session) AccountID() string { return s.accountID }

// Status returns the current state machine state.
func (s *Session) Status() status.State { return s.machine.Current() }

// Start launches the session loop and begins connecting the account client.
// A client construction failure is fatal for this session only (INIT_FAILED
// with an explicit retry affordance), never for the daemon.
func (s *Session) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	cli, err := s.newClient()
	if err != nil {
		s.logger.Error("client init failed", zap.Error(err))
		_ = s.machine.Transition(status.InitFailed)
		s.publish(relay.EvtError, relay.ErrorData{Message: "initialization failed: " + err.Error()})
		go s.loop(ctx)
		return
	}

	s.cli = cli
	cli.SetEventHandler(s.onClientEvent)
	go s.loop(ctx)

	go func() {
		if err := cli.Connect(ctx); err != nil {
			s.logger.Error("connect failed", zap.Error(err))
			s.post(func() {
				_ = s.machine.Transition(status.InitFailed)
				s.publish(relay.EvtError, relay.ErrorData{Message: "connect failed: " + err.Error()})
			})
		}
	}()
}

// Stop tears the session down without touching stored credentials.
func (s *Session) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

// Logout invalidates the account's credentials and stops the session. The
// driver call runs off the loop so a wedged client cannot stall other work.
func (s *Session) Logout(ctx context.Context) {
	done := make(chan struct{})
	s.post(func() {
		cli := s.cli
		if cli == nil {
			_ = s.machine.Transition(status.Disconnected)
			close(done)
			return
		}
		go func() {
			// Best effort; the row is being removed regardless.
			if err := cli.Logout(ctx); err != nil {
				s.logger.Warn("logout failed", zap.Error(err))
			}
			s.post(func() {
				_ = s.machine.Transition(status.Disconnected)
				close(done)
			})
		}()
	})
	select {
	case <-done:
	case <-s.done:
	case <-ctx.Done():
	}
	s.Stop()
}

// Dispatch routes one command into the session loop. Never blocks the
// caller; commands that cannot be accepted are answered with an error.
func (s *Session) Dispatch(cmd relay.Command) {
	cmd.Reply = relay.ReplyOnce(cmd.Reply)
	select {
	case <-s.done:
		cmd.Reply(relay.Failure("session not running"))
		return
	default:
	}
	select {
	case s.cmds <- cmd:
	case <-s.done:
		cmd.Reply(relay.Failure("session not running"))
	default:
		cmd.Reply(relay.Failure("session busy"))
	}
}

// Snapshot returns the current replayable state. Served through the loop so
// a joiner always observes a consistent view.
func (s *Session) Snapshot(ctx context.Context) Snapshot {
	ch := make(chan Snapshot, 1)
	op := func() { ch <- s.snapshot() }
	select {
	case s.ops <- op:
	case <-s.done:
		return Snapshot{AccountID: s.accountID, Status: s.machine.Current()}
	case <-ctx.Done():
		return Snapshot{AccountID: s.accountID, Status: s.machine.Current()}
	}
	select {
	case snap := <-ch:
		return snap
	case <-s.done:
		return Snapshot{AccountID: s.accountID, Status: s.machine.Current()}
	case <-ctx.Done():
		return Snapshot{AccountID: s.accountID, Status: s.machine.Current()}
	}
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		AccountID:         s.accountID,
		Status:            s.machine.Current(),
		Chats:             s.projector.Chats(),
		AccountIdentifier: s.identifier,
		TwoFAPending:      s.pendingAuth != nil,
	}
	if s.qr != "" {
		snap.QR = &relay.QRData{Code: s.qr, PNG: s.qrPNG}
	}
	return snap
}

func (s *Session) loop(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case cmd := <-s.cmds:
			s.handleCommand(ctx, cmd)
		case evt := <-s.events:
			s.handleClientEvent(ctx, evt)
		case op := <-s.ops:
			op()
		}
	}
}

func (s *Session) shutdown() {
	if s.pendingAuth != nil {
		s.pendingAuth.timer.Stop()
		s.pendingAuth.req.Cancel(client.ErrPasswordTimeout)
		s.pendingAuth = nil
	}
	if s.cli != nil {
		s.cli.Disconnect()
	}
	// Everything still queued gets a terminal answer.
	for {
		select {
		case cmd := <-s.cmds:
			cmd.Reply(relay.Failure("session stopped"))
		default:
			return
		}
	}
}

// onClientEvent is the driver's event sink. Runs on driver goroutines, so it
// only forwards into the loop; a full buffer drops the event rather than
// blocking the driver.
func (s *Session) onClientEvent(evt client.Event) {
	select {
	case s.events <- evt:
	case <-s.done:
	default:
		s.logger.Warn("event buffer full, dropping", zap.String("kind", string(evt.Kind)))
	}
}

// post schedules fn on the loop goroutine.
func (s *Session) post(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.done:
	}
}

func (s *Session) publish(event string, payload any) {
	s.bus.Publish(bus.Event{
		Kind:      relay.Namespace + event,
		AccountID: s.accountID,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
