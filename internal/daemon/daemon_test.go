package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mvalverde/chatmux/internal/bus"
	"github.com/mvalverde/chatmux/internal/client"
	"github.com/mvalverde/chatmux/internal/config"
	"github.com/mvalverde/chatmux/internal/gateway"
	"github.com/mvalverde/chatmux/internal/httpapi"
	"github.com/mvalverde/chatmux/internal/lock"
	"github.com/mvalverde/chatmux/internal/paths"
	"github.com/mvalverde/chatmux/internal/registry"
	"github.com/mvalverde/chatmux/internal/store"
	"github.com/mvalverde/chatmux/internal/translate"
)

func TestDaemonLifecycle(t *testing.T) {
	dataDir := t.TempDir()
	cfg := config.Defaults()
	cfg.DataDir = dataDir
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.AdminToken = "test-admin"

	if err := paths.EnsureDataDir(dataDir); err != nil {
		t.Fatal(err)
	}
	lk, err := lock.Acquire(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	db, err := store.Open(paths.AppDBPath(dataDir))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	logger := zap.NewNop()
	b := bus.New()
	drivers := client.NewDrivers()
	reg := registry.New(registry.Params{
		Bus:      b,
		DB:       db,
		Drivers:  drivers,
		DataDir:  dataDir,
		Tunables: cfg.Tunables,
		Logger:   logger,
	})
	defer reg.StopAll()
	gw := gateway.New(reg, b, logger)
	defer gw.Close()
	tr := translate.New("", logger)
	router := httpapi.NewRouter(db, reg, gw, tr, cfg.AdminToken, logger)

	srv, err := NewServer(cfg, router, logger)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
	}()

	// The listener is bound before Start, so the address is usable at once.
	resp, err := http.Get("http://" + srv.Addr() + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %d", resp.StatusCode)
	}
	var out struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if !out.OK {
		t.Error("health reported not ok")
	}
}

func TestSecondDaemonCannotShareDataDir(t *testing.T) {
	dataDir := t.TempDir()
	if err := paths.EnsureDataDir(dataDir); err != nil {
		t.Fatal(err)
	}

	lk, err := lock.Acquire(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	if _, err := lock.Acquire(dataDir); err == nil {
		t.Fatal("second lock acquisition succeeded")
	}
}
