package httpapi

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mvalverde/chatmux/internal/client"
	"github.com/mvalverde/chatmux/internal/session"
	"github.com/mvalverde/chatmux/internal/store"
)

type ctxKey int

const inviteKey ctxKey = 0

func withInvite(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, inviteKey, code)
}

func inviteFrom(ctx context.Context) string {
	code, _ := ctx.Value(inviteKey).(string)
	return code
}

// accountView is an account row plus its live session state.
type accountView struct {
	ID                string `json:"id"`
	AccountType       string `json:"accountType"`
	CustomName        string `json:"customName,omitempty"`
	AccountIdentifier string `json:"accountIdentifier,omitempty"`
	Status            string `json:"status"`
}

func (a *API) view(row store.Account) accountView {
	v := accountView{
		ID:                row.ID,
		AccountType:       row.AccountType,
		CustomName:        row.CustomName,
		AccountIdentifier: row.AccountIdentifier,
		Status:            "STOPPED",
	}
	if s := a.Registry.Get(row.ID); s != nil {
		v.Status = string(s.Status())
	}
	return v
}

// ownedAccount loads the account addressed by the route and verifies it
// belongs to the caller's invitation code. Writes the error response itself
// and returns nil when the caller may not proceed.
func (a *API) ownedAccount(w http.ResponseWriter, r *http.Request) *store.Account {
	row, err := a.DB.GetAccount(chi.URLParam(r, "id"))
	if err != nil {
		a.Logger.Error("account lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "account lookup failed")
		return nil
	}
	if row == nil || row.OwnerCode != inviteFrom(r.Context()) {
		writeError(w, http.StatusNotFound, "account not found")
		return nil
	}
	return row
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := a.Registry.Statuses()
	out := make(map[string]string, len(statuses))
	for id, st := range statuses {
		out[id] = string(st)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"time":     time.Now().Format(time.RFC3339),
		"sessions": out,
	})
}

func (a *API) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text       string `json:"text"`
		TargetLang string `json:"targetLang"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Text == "" || req.TargetLang == "" {
		writeError(w, http.StatusBadRequest, "text and targetLang are required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"translatedText": a.Translator.Translate(r.Context(), req.Text, req.TargetLang),
	})
}

func (a *API) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Note string `json:"note"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	code := uuid.NewString()
	if err := a.DB.CreateInvite(code, req.Note); err != nil {
		a.Logger.Error("invite create failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "invite create failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"code": code})
}

func (a *API) handleListInvites(w http.ResponseWriter, r *http.Request) {
	invites, err := a.DB.ListInvites()
	if err != nil {
		a.Logger.Error("invite list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "invite list failed")
		return
	}
	writeJSON(w, http.StatusOK, invites)
}

func (a *API) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountType string `json:"accountType"`
		CustomName  string `json:"customName"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	accountType := client.AccountType(req.AccountType)
	if accountType != client.TypeWhatsApp && accountType != client.TypeTelegram {
		writeError(w, http.StatusBadRequest, "accountType must be whatsapp or telegram")
		return
	}

	row := &store.Account{
		ID:          uuid.NewString(),
		AccountType: req.AccountType,
		OwnerCode:   inviteFrom(r.Context()),
		CustomName:  req.CustomName,
	}
	if err := a.DB.CreateAccount(row); err != nil {
		a.Logger.Error("account create failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "account create failed")
		return
	}
	if _, err := a.Registry.Spawn(context.Background(), row.ID, accountType); err != nil {
		a.Logger.Error("session spawn failed", zap.String("account", row.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusCreated, a.view(*row))
}

func (a *API) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	rows, err := a.DB.ListAccountsByOwner(inviteFrom(r.Context()))
	if err != nil {
		a.Logger.Error("account list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "account list failed")
		return
	}
	views := make([]accountView, 0, len(rows))
	for _, row := range rows {
		views = append(views, a.view(row))
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	row := a.ownedAccount(w, r)
	if row == nil {
		return
	}
	writeJSON(w, http.StatusOK, a.view(*row))
}

func (a *API) handleRenameAccount(w http.ResponseWriter, r *http.Request) {
	row := a.ownedAccount(w, r)
	if row == nil {
		return
	}
	var req struct {
		CustomName string `json:"customName"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.DB.UpdateAccountName(row.ID, req.CustomName); err != nil {
		a.Logger.Error("account rename failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "account rename failed")
		return
	}
	row.CustomName = req.CustomName
	writeJSON(w, http.StatusOK, a.view(*row))
}

func (a *API) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	row := a.ownedAccount(w, r)
	if row == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Registry.Logout(ctx, row.ID); err != nil {
		a.Logger.Error("account delete failed", zap.String("account", row.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "account delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleAccountQR serves the current pairing code as a PNG so the console can
// render it with a plain <img> tag.
func (a *API) handleAccountQR(w http.ResponseWriter, r *http.Request) {
	row := a.ownedAccount(w, r)
	if row == nil {
		return
	}
	s := a.Registry.Get(row.ID)
	if s == nil {
		writeError(w, http.StatusNotFound, "session not running")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	snap := s.Snapshot(ctx)
	if snap.QR == nil || snap.QR.Code == session.QRConnected || snap.QR.PNG == "" {
		writeError(w, http.StatusNotFound, "no pairing code available")
		return
	}
	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(snap.QR.PNG, "data:image/png;base64,"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "qr decode failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func (a *API) handleRestartAccount(w http.ResponseWriter, r *http.Request) {
	row := a.ownedAccount(w, r)
	if row == nil {
		return
	}
	s, err := a.Registry.Restart(context.Background(), row.ID, client.AccountType(row.AccountType))
	if err != nil {
		a.Logger.Error("account restart failed", zap.String("account", row.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "account restart failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(s.Status())})
}
