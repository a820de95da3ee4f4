package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLayout(t *testing.T) {
	base := "/tmp/x"
	if got := AppDBPath(base); got != filepath.Join(base, "chatmux.db") {
		t.Errorf("AppDBPath = %q", got)
	}
	if got := SessionDBPath(base, "a1"); got != filepath.Join(base, "accounts", "a1", "session.db") {
		t.Errorf("SessionDBPath = %q", got)
	}
	if got := LogPath(base); got != filepath.Join(base, "logs", "chatmuxd.log") {
		t.Errorf("LogPath = %q", got)
	}
}

func TestEnsureDirs(t *testing.T) {
	base := filepath.Join(t.TempDir(), "data")
	if err := EnsureDataDir(base); err != nil {
		t.Fatal(err)
	}
	if err := EnsureAccountDir(base, "a1"); err != nil {
		t.Fatal(err)
	}

	for _, d := range []string{base, LogDir(base), AccountDir(base, "a1")} {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("stat %s: %v", d, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", d)
		}
		if perm := info.Mode().Perm(); perm != 0700 {
			t.Errorf("%s permission = %o, want 0700", d, perm)
		}
	}
}
