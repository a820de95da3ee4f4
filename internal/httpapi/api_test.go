package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/mvalverde/chatmux/internal/bus"
	"github.com/mvalverde/chatmux/internal/client"
	"github.com/mvalverde/chatmux/internal/config"
	"github.com/mvalverde/chatmux/internal/gateway"
	"github.com/mvalverde/chatmux/internal/model"
	"github.com/mvalverde/chatmux/internal/registry"
	"github.com/mvalverde/chatmux/internal/store"
	"github.com/mvalverde/chatmux/internal/translate"
)

type stubClient struct{}

func (stubClient) SetEventHandler(client.Handler)        {}
func (stubClient) Connect(ctx context.Context) error     { return nil }
func (stubClient) Disconnect()                           {}
func (stubClient) Logout(ctx context.Context) error      { return nil }
func (stubClient) MarkRead(ctx context.Context, chatID string) error { return nil }
func (stubClient) SendMessage(ctx context.Context, chatID, body string, quoted *model.QuotedMsg, media *model.Media) (string, error) {
	return "id", nil
}
func (stubClient) GetChats(ctx context.Context) ([]model.Chat, error) { return nil, nil }
func (stubClient) FetchMessages(ctx context.Context, chatID string, limit int) ([]model.Message, error) {
	return nil, nil
}
func (stubClient) DownloadMedia(ctx context.Context, chatID, messageID string) (*model.Media, error) {
	return nil, nil
}
func (stubClient) DeleteMessage(ctx context.Context, chatID, messageID string, everyone bool) error {
	return nil
}

type stubDriver struct{}

func (stubDriver) New(accountID, dataDir string, logger *zap.Logger) (client.Client, error) {
	return stubClient{}, nil
}

func testAPI(t *testing.T) (http.Handler, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	drivers := client.NewDrivers()
	drivers.Register(client.TypeWhatsApp, stubDriver{})
	reg := registry.New(registry.Params{
		Bus:     b,
		DB:      db,
		Drivers: drivers,
		DataDir: t.TempDir(),
		Tunables: config.Tunables{
			PasswordTimeoutSecs: 300,
			FuzzyWindowSecs:     120,
			EmptyChatRetrySecs:  1,
		},
		Logger: zap.NewNop(),
	})
	t.Cleanup(reg.StopAll)
	gw := gateway.New(reg, b, zap.NewNop())
	t.Cleanup(gw.Close)
	tr := translate.New("", zap.NewNop())

	return NewRouter(db, reg, gw, tr, "admin-secret", zap.NewNop()), db
}

func do(t *testing.T, h http.Handler, method, path string, headers map[string]string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func issueInvite(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/admin/invites",
		map[string]string{"Authorization": "Bearer admin-secret"},
		map[string]string{"note": "test"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("invite create = %d: %s", rec.Code, rec.Body)
	}
	var out map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	return out["code"]
}

func TestInviteGating(t *testing.T) {
	h, _ := testAPI(t)

	rec := do(t, h, http.MethodGet, "/api/accounts/", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no invite = %d, want 401", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/accounts/",
		map[string]string{inviteHeader: "bogus"}, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("bad invite = %d, want 403", rec.Code)
	}

	code := issueInvite(t, h)
	rec = do(t, h, http.MethodGet, "/api/accounts/",
		map[string]string{inviteHeader: code}, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("valid invite = %d, want 200", rec.Code)
	}
}

func TestAdminTokenGating(t *testing.T) {
	h, _ := testAPI(t)

	rec := do(t, h, http.MethodPost, "/api/admin/invites",
		map[string]string{"Authorization": "Bearer wrong"},
		map[string]string{})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", rec.Code)
	}
}

func TestAccountLifecycle(t *testing.T) {
	h, db := testAPI(t)
	code := issueInvite(t, h)
	auth := map[string]string{inviteHeader: code}

	rec := do(t, h, http.MethodPost, "/api/accounts/", auth,
		map[string]string{"accountType": "whatsapp", "customName": "Work"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body)
	}
	var created accountView
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || created.CustomName != "Work" {
		t.Fatalf("created = %+v", created)
	}
	if created.Status == "STOPPED" {
		t.Error("created account has no live session")
	}

	rec = do(t, h, http.MethodPatch, "/api/accounts/"+created.ID, auth,
		map[string]string{"customName": "Personal"})
	if rec.Code != http.StatusOK {
		t.Fatalf("rename = %d: %s", rec.Code, rec.Body)
	}
	row, err := db.GetAccount(created.ID)
	if err != nil || row == nil {
		t.Fatalf("row = %v, %v", row, err)
	}
	if row.CustomName != "Personal" {
		t.Errorf("customName = %q after rename", row.CustomName)
	}

	rec = do(t, h, http.MethodDelete, "/api/accounts/"+created.ID, auth, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete = %d: %s", rec.Code, rec.Body)
	}
	row, err = db.GetAccount(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if row != nil {
		t.Errorf("account row survived delete: %+v", row)
	}
}

func TestAccountOwnershipIsScoped(t *testing.T) {
	h, _ := testAPI(t)
	owner := issueInvite(t, h)
	stranger := issueInvite(t, h)

	rec := do(t, h, http.MethodPost, "/api/accounts/",
		map[string]string{inviteHeader: owner},
		map[string]string{"accountType": "whatsapp"})
	var created accountView
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	rec = do(t, h, http.MethodGet, "/api/accounts/"+created.ID,
		map[string]string{inviteHeader: stranger}, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign account read = %d, want 404", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/accounts/",
		map[string]string{inviteHeader: stranger}, nil)
	var listed []accountView
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed) != 0 {
		t.Errorf("stranger sees %d accounts, want 0", len(listed))
	}
}

func TestTranslateEndpoint(t *testing.T) {
	h, _ := testAPI(t)

	rec := do(t, h, http.MethodPost, "/api/translate", nil,
		map[string]string{"text": "hello", "targetLang": "es"})
	if rec.Code != http.StatusOK {
		t.Fatalf("translate = %d: %s", rec.Code, rec.Body)
	}
	var out map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out["translatedText"] == "" || out["translatedText"] == "hello" {
		t.Errorf("translatedText = %q", out["translatedText"])
	}

	rec = do(t, h, http.MethodPost, "/api/translate", nil,
		map[string]string{"text": "hello"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing lang = %d, want 400", rec.Code)
	}
}

func TestAccountQR(t *testing.T) {
	h, _ := testAPI(t)
	code := issueInvite(t, h)
	auth := map[string]string{inviteHeader: code}

	rec := do(t, h, http.MethodPost, "/api/accounts/", auth,
		map[string]string{"accountType": "whatsapp"})
	var created accountView
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	// The stub driver authenticates without pairing, so no code is pending.
	rec = do(t, h, http.MethodGet, "/api/accounts/"+created.ID+"/qr", auth, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("qr without pairing = %d, want 404", rec.Code)
	}
}

func TestHealthReportsSessions(t *testing.T) {
	h, _ := testAPI(t)
	code := issueInvite(t, h)

	do(t, h, http.MethodPost, "/api/accounts/",
		map[string]string{inviteHeader: code},
		map[string]string{"accountType": "whatsapp"})

	rec := do(t, h, http.MethodGet, "/api/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
	var out struct {
		OK       bool              `json:"ok"`
		Sessions map[string]string `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if !out.OK || len(out.Sessions) != 1 {
		t.Errorf("health = %+v", out)
	}
}
