package store

import (
	"path/filepath"
	"testing"

	"github.com/mvalverde/chatmux/internal/reconcile"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAccountCRUD(t *testing.T) {
	db := testDB(t)

	a := &Account{ID: "a1", AccountType: "whatsapp", OwnerCode: "inv-1", CustomName: "Work"}
	if err := db.CreateAccount(a); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetAccount("a1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.CustomName != "Work" || got.AccountType != "whatsapp" {
		t.Fatalf("GetAccount = %+v", got)
	}

	if err := db.UpdateAccountName("a1", "Personal"); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateAccountIdentifier("a1", "5511999"); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetAccount("a1")
	if got.CustomName != "Personal" || got.AccountIdentifier != "5511999" {
		t.Errorf("after update: %+v", got)
	}

	if err := db.DeleteAccount("a1"); err != nil {
		t.Fatal(err)
	}
	got, _ = db.GetAccount("a1")
	if got != nil {
		t.Errorf("account still present after delete: %+v", got)
	}
}

func TestListAccountsByOwner(t *testing.T) {
	db := testDB(t)
	_ = db.CreateAccount(&Account{ID: "a1", AccountType: "whatsapp", OwnerCode: "inv-1"})
	_ = db.CreateAccount(&Account{ID: "a2", AccountType: "telegram", OwnerCode: "inv-1"})
	_ = db.CreateAccount(&Account{ID: "a3", AccountType: "whatsapp", OwnerCode: "inv-2"})

	mine, err := db.ListAccountsByOwner("inv-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 2 {
		t.Fatalf("got %d accounts, want 2", len(mine))
	}

	all, err := db.ListAccounts()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d accounts, want 3", len(all))
	}
}

func TestInvites(t *testing.T) {
	db := testDB(t)
	if err := db.CreateInvite("inv-1", "friend"); err != nil {
		t.Fatal(err)
	}

	ok, err := db.InviteExists("inv-1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("InviteExists(inv-1) = false")
	}
	ok, _ = db.InviteExists("nope")
	if ok {
		t.Error("InviteExists(nope) = true")
	}

	invites, err := db.ListInvites()
	if err != nil {
		t.Fatal(err)
	}
	if len(invites) != 1 || invites[0].Note != "friend" {
		t.Errorf("ListInvites = %+v", invites)
	}
}

func TestOriginalsLifecycle(t *testing.T) {
	db := testDB(t)

	o := reconcile.Original{MessageID: "temp_1_x", ChatID: "X", Body: "bonjour", Original: "hello", Timestamp: 1000}
	if err := db.PutPendingOriginal("a1", o); err != nil {
		t.Fatal(err)
	}

	pending, err := db.PendingOriginals("a1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Original != "hello" {
		t.Fatalf("PendingOriginals = %+v", pending)
	}

	if err := db.RekeyOriginal("temp_1_x", "real1"); err != nil {
		t.Fatal(err)
	}
	orig, ok, err := db.GetOriginal("real1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || orig != "hello" {
		t.Errorf("GetOriginal(real1) = %q, %v", orig, ok)
	}

	// Rekeyed entry is matched: no longer pending.
	pending, _ = db.PendingOriginals("a1")
	if len(pending) != 0 {
		t.Errorf("pending after rekey = %+v, want none", pending)
	}
}

func TestOriginalsRecoveryMatch(t *testing.T) {
	db := testDB(t)

	o := reconcile.Original{MessageID: "temp_2_y", ChatID: "X", Body: "hola", Original: "hi", Timestamp: 900}
	if err := db.PutPendingOriginal("a1", o); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOriginalMatched("a1", "temp_2_y", "real2"); err != nil {
		t.Fatal(err)
	}

	orig, ok, _ := db.GetOriginal("real2")
	if !ok || orig != "hi" {
		t.Errorf("GetOriginal(real2) = %q, %v", orig, ok)
	}
	pending, _ := db.PendingOriginals("a1")
	if len(pending) != 0 {
		t.Errorf("pending after match = %+v", pending)
	}
}

func TestDeleteOriginal(t *testing.T) {
	db := testDB(t)
	_ = db.PutPendingOriginal("a1", reconcile.Original{MessageID: "temp_3", ChatID: "X", Body: "b", Original: "o", Timestamp: 1})
	if err := db.DeleteOriginal("temp_3"); err != nil {
		t.Fatal(err)
	}
	_, ok, _ := db.GetOriginal("temp_3")
	if ok {
		t.Error("original still present after delete")
	}
}
