// Package registry supervises the set of live account sessions: at most one
// session per account id, rehydrated from the account store at startup and
// mutated by the management API afterwards.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/mvalverde/chatmux/internal/bus"
	"github.com/mvalverde/chatmux/internal/client"
	"github.com/mvalverde/chatmux/internal/config"
	"github.com/mvalverde/chatmux/internal/paths"
	"github.com/mvalverde/chatmux/internal/session"
	"github.com/mvalverde/chatmux/internal/status"
	"github.com/mvalverde/chatmux/internal/store"
	"github.com/mvalverde/chatmux/internal/translate"
	"go.uber.org/zap"
)

// Params carries the shared collaborators every session is wired with.
type Params struct {
	Bus        *bus.Bus
	DB         *store.DB
	Drivers    *client.Drivers
	Translator *translate.Translator
	DataDir    string
	Tunables   config.Tunables
	Logger     *zap.Logger
}

// Registry owns the account-id to session mapping.
type Registry struct {
	p Params

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// New creates an empty registry.
func New(p Params) *Registry {
	return &Registry{
		p:        p,
		sessions: make(map[string]*session.Session),
	}
}

// Rehydrate spawns a session for every stored account. Individual spawn
// failures surface as INIT_FAILED sessions, not as a rehydration error.
func (r *Registry) Rehydrate(ctx context.Context) error {
	accounts, err := r.p.DB.ListAccounts()
	if err != nil {
		return fmt.Errorf("listing accounts: %w", err)
	}
	for _, a := range accounts {
		if _, err := r.Spawn(ctx, a.ID, client.AccountType(a.AccountType)); err != nil {
			r.p.Logger.Error("rehydrate skipped account",
				zap.String("account", a.ID), zap.Error(err))
		}
	}
	r.p.Logger.Info("sessions rehydrated", zap.Int("count", len(accounts)))
	return nil
}

// Spawn starts a session for an account. Returns the existing session if one
// is already live for the id.
func (r *Registry) Spawn(ctx context.Context, accountID string, accountType client.AccountType) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[accountID]; ok {
		return existing, nil
	}

	s := session.New(session.Params{
		AccountID:   accountID,
		AccountType: accountType,
		Bus:         r.p.Bus,
		DB:          r.p.DB,
		Translator:  r.p.Translator,
		Tunables:    r.p.Tunables,
		Logger:      r.p.Logger,
		NewClient:   r.clientFactory(accountID, accountType),
	})
	s.Start(ctx)
	r.sessions[accountID] = s
	return s, nil
}

// clientFactory binds the account's driver and data directory into the
// session's client constructor. Driver lookup and directory creation happen
// at call time so their failures land in the session as INIT_FAILED.
func (r *Registry) clientFactory(accountID string, accountType client.AccountType) func() (client.Client, error) {
	return func() (client.Client, error) {
		drv, err := r.p.Drivers.Get(accountType)
		if err != nil {
			return nil, err
		}
		if err := paths.EnsureAccountDir(r.p.DataDir, accountID); err != nil {
			return nil, fmt.Errorf("creating account dir: %w", err)
		}
		return drv.New(accountID, paths.AccountDir(r.p.DataDir, accountID), r.p.Logger)
	}
}

// Get returns the live session for an account, or nil.
func (r *Registry) Get(accountID string) *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[accountID]
}

// Stop stops an account's session without touching stored credentials.
func (r *Registry) Stop(accountID string) {
	r.mu.Lock()
	s := r.sessions[accountID]
	delete(r.sessions, accountID)
	r.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}

// Logout invalidates the account's remote credentials, stops the session and
// removes the account row. The row goes last so a crash mid-logout leaves a
// restartable account rather than an orphaned credential store.
func (r *Registry) Logout(ctx context.Context, accountID string) error {
	r.mu.Lock()
	s := r.sessions[accountID]
	delete(r.sessions, accountID)
	r.mu.Unlock()

	if s != nil {
		s.Logout(ctx)
	}
	if err := r.p.DB.DeleteAccount(accountID); err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	return nil
}

// Restart tears down and respawns an account's session. This is the retry
// path for INIT_FAILED sessions.
func (r *Registry) Restart(ctx context.Context, accountID string, accountType client.AccountType) (*session.Session, error) {
	r.Stop(accountID)
	return r.Spawn(ctx, accountID, accountType)
}

// StopAll stops every session. Used on daemon shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	sessions := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*session.Session)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	wg.Wait()
}

// Statuses returns the current state of every live session, keyed by
// account id.
func (r *Registry) Statuses() map[string]status.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]status.State, len(r.sessions))
	for id, s := range r.sessions {
		out[id] = s.Status()
	}
	return out
}
