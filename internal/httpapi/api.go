// Package httpapi exposes the management surface: account CRUD scoped by
// invitation code, admin invite issuance, translation, health, and the
// websocket mount.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mvalverde/chatmux/internal/gateway"
	"github.com/mvalverde/chatmux/internal/registry"
	"github.com/mvalverde/chatmux/internal/store"
	"github.com/mvalverde/chatmux/internal/translate"
)

// inviteHeader carries the caller's invitation code on account routes.
const inviteHeader = "X-Invite-Code"

// API wires the HTTP handlers to their collaborators.
type API struct {
	DB         *store.DB
	Registry   *registry.Registry
	Gateway    *gateway.Gateway
	Translator *translate.Translator
	AdminToken string
	Logger     *zap.Logger
	Router     *chi.Mux
}

// NewRouter builds the full route tree.
func NewRouter(db *store.DB, reg *registry.Registry, gw *gateway.Gateway, tr *translate.Translator, adminToken string, logger *zap.Logger) *chi.Mux {
	api := &API{
		DB:         db,
		Registry:   reg,
		Gateway:    gw,
		Translator: tr,
		AdminToken: adminToken,
		Logger:     logger,
		Router:     chi.NewRouter(),
	}
	r := api.Router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors)

	api.routes()
	return r
}

func (a *API) routes() {
	a.Router.Get("/api/health", a.handleHealth)
	a.Router.Post("/api/translate", a.handleTranslate)

	a.Router.Route("/api/admin", func(r chi.Router) {
		r.Use(a.requireAdmin)
		r.Post("/invites", a.handleCreateInvite)
		r.Get("/invites", a.handleListInvites)
	})

	a.Router.Route("/api/accounts", func(r chi.Router) {
		r.Use(a.requireInvite)
		r.Post("/", a.handleCreateAccount)
		r.Get("/", a.handleListAccounts)
		r.Get("/{id}", a.handleGetAccount)
		r.Patch("/{id}", a.handleRenameAccount)
		r.Delete("/{id}", a.handleDeleteAccount)
		r.Post("/{id}/restart", a.handleRestartAccount)
		r.Get("/{id}/qr", a.handleAccountQR)
	})

	a.Router.Get("/ws", a.Gateway.ServeHTTP)
}

// cors allows the console to be served from a different origin than the
// daemon.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+inviteHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.Logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)))
	})
}

// requireAdmin gates invite issuance on the configured admin token.
func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.AdminToken == "" || r.Header.Get("Authorization") != "Bearer "+a.AdminToken {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireInvite rejects account requests whose invitation code is unknown.
func (a *API) requireInvite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := r.Header.Get(inviteHeader)
		if code == "" {
			code = r.URL.Query().Get("invite")
		}
		if code == "" {
			writeError(w, http.StatusUnauthorized, "missing invitation code")
			return
		}
		ok, err := a.DB.InviteExists(code)
		if err != nil {
			a.Logger.Error("invite lookup failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "invite lookup failed")
			return
		}
		if !ok {
			writeError(w, http.StatusForbidden, "unknown invitation code")
			return
		}
		next.ServeHTTP(w, r.WithContext(withInvite(r.Context(), code)))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}
