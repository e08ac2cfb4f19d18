package cluster

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alvarosanz/loadit/internal/wire"
)

func TestSessionStoreRoundTripsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s1, err := OpenSessionStore(dir, "hunter2")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s1.Add(Session{User: "alice", IsAdmin: true}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s1.Add(Session{User: "bob", Databases: []string{"db1"}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := OpenSessionStore(dir, "hunter2")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	alice, ok := s2.Get("alice")
	if !ok || !alice.IsAdmin {
		t.Fatalf("alice session not recovered correctly: %+v ok=%v", alice, ok)
	}
	bob, ok := s2.Get("bob")
	if !ok || len(bob.Databases) != 1 || bob.Databases[0] != "db1" {
		t.Fatalf("bob session not recovered correctly: %+v ok=%v", bob, ok)
	}
}

func TestSessionStoreRejectsWrongPassword(t *testing.T) {
	dir := t.TempDir()
	s1, err := OpenSessionStore(dir, "correct-horse")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s1.Close()

	if _, err := OpenSessionStore(dir, "wrong-password"); err == nil {
		t.Fatal("expected an error unlocking with the wrong password")
	}
}

func TestJWTRoundTrip(t *testing.T) {
	key := []byte("per-run-master-key")
	sess := Session{User: "alice", IsAdmin: true}

	token, err := IssueToken(key, sess, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := ParseToken(key, token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.User != "alice" || !got.IsAdmin {
		t.Fatalf("recovered session = %+v", got)
	}

	if _, err := ParseToken([]byte("wrong-key"), token); err == nil {
		t.Fatal("expected verification failure under the wrong key")
	}
}

func TestAuthorizeMatrix(t *testing.T) {
	admin := Session{User: "root", IsAdmin: true}
	plain := Session{User: "bob"}
	creator := Session{User: "carol", CreateAllowed: true}
	scoped := Session{User: "dave", Databases: []string{"db1"}}

	cases := []struct {
		sess    Session
		op      string
		db      string
		wantErr bool
	}{
		{admin, OpShutdown, "", false},
		{plain, OpShutdown, "", true},
		{plain, OpQuery, "", false},
		{plain, OpCreateDatabase, "", true},
		{creator, OpCreateDatabase, "", false},
		{scoped, OpNewBatch, "db1", false},
		{scoped, OpNewBatch, "db2", true},
		{plain, OpNewBatch, "db1", true},
	}
	for i, c := range cases {
		err := Authorize(c.sess, c.op, c.db)
		if (err != nil) != c.wantErr {
			t.Fatalf("case %d: Authorize(%+v, %q, %q) error = %v, wantErr %v", i, c.sess, c.op, c.db, err, c.wantErr)
		}
	}
}

func TestDispatchPolicyReadsPickLeastLoadedFreshReplica(t *testing.T) {
	nodes := map[string]Node{
		"nodeA": {Workers: map[string]int{"a1": 5}, Databases: map[string]string{"db1": "hash1"}},
		"nodeB": {Workers: map[string]int{"b1": 1}, Databases: map[string]string{"db1": "hash1"}},
		"nodeC": {Workers: map[string]int{"c1": 0}, Databases: map[string]string{"db1": "stale"}},
	}
	addr, err := DispatchPolicy(nodes, "nodeA", "db1", "hash1", OpQuery)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if addr != "b1" {
		t.Fatalf("dispatch picked %q, want b1 (least loaded fresh replica)", addr)
	}
}

func TestDispatchPolicyWritesGoToLocalNode(t *testing.T) {
	nodes := map[string]Node{
		"nodeA": {Workers: map[string]int{"a1": 3, "a2": 0}},
		"nodeB": {Workers: map[string]int{"b1": 0}},
	}
	addr, err := DispatchPolicy(nodes, "nodeA", "db1", "hash1", OpNewBatch)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if addr != "a2" {
		t.Fatalf("dispatch picked %q, want a2 (least loaded worker on the authoritative local node)", addr)
	}
}

func TestWorkerFSMTransitions(t *testing.T) {
	f := NewWorkerFSM()
	if err := f.Transition(WorkerServing); err != nil {
		t.Fatalf("idle->serving: %v", err)
	}
	if err := f.Transition(WorkerIdle); err == nil {
		t.Fatal("expected serving->idle to be illegal")
	}
	if err := f.Transition(WorkerReporting); err != nil {
		t.Fatalf("serving->reporting: %v", err)
	}
	if err := f.Transition(WorkerIdle); err != nil {
		t.Fatalf("reporting->idle: %v", err)
	}
	if err := f.Transition(WorkerShutdown); err != nil {
		t.Fatalf("idle->shutdown: %v", err)
	}
	if err := f.Transition(WorkerServing); err == nil {
		t.Fatal("expected shutdown to be terminal")
	}
}

func TestRequestFSMTransitions(t *testing.T) {
	f := NewRequestFSM()
	steps := []RequestState{RequestAuthorized, RequestRedirected, RequestWorkerReceived, RequestWorkerExecuted, RequestReleased}
	for _, s := range steps {
		if err := f.Transition(s); err != nil {
			t.Fatalf("transition to %s: %v", s, err)
		}
	}
	if !f.Terminal() {
		t.Fatal("expected Released to be terminal")
	}
}

func TestStaleDatabases(t *testing.T) {
	local := map[string]string{"db1": "h1", "db2": "h2"}

	// Non-update_only (explicit database list): any mismatch or absence is stale.
	remote := map[string]string{"db1": "h1"}
	if got := StaleDatabases(local, remote, false, false); len(got) != 1 || got[0] != "db2" {
		t.Fatalf("StaleDatabases = %v, want [db2]", got)
	}

	// update_only, peer not a backup: only databases the peer already has but with a differing hash.
	remote2 := map[string]string{"db1": "stale"}
	if got := StaleDatabases(local, remote2, true, false); len(got) != 1 || got[0] != "db1" {
		t.Fatalf("StaleDatabases (update_only) = %v, want [db1]", got)
	}

	// update_only, peer is a backup: missing databases are stale too.
	if got := StaleDatabases(local, remote2, true, true); len(got) != 2 {
		t.Fatalf("StaleDatabases (update_only, backup) = %v, want both databases", got)
	}
}

func TestSendRecvDatabaseRoundTrip(t *testing.T) {
	src := t.TempDir()
	mustWrite(t, filepath.Join(src, "##header.json"), "db-manifest")
	mustWrite(t, filepath.Join(src, "TABLE", "#header.json"), "table-manifest")
	mustWrite(t, filepath.Join(src, "TABLE", "NX.bin"), "field-bytes")

	dst := filepath.Join(t.TempDir(), "mirrored")
	mustWrite(t, filepath.Join(dst, "stale.bin"), "old-data")

	a, b := net.Pipe()
	sender, receiver := wire.NewConn(a), wire.NewConn(b)
	defer sender.Close()
	defer receiver.Close()

	done := make(chan error, 1)
	go func() { done <- SendDatabase(sender, src) }()

	if err := RecvDatabase(receiver, dst); err != nil {
		t.Fatalf("recv database: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("send database: %v", err)
	}

	for _, rel := range []string{"##header.json", filepath.Join("TABLE", "#header.json"), filepath.Join("TABLE", "NX.bin")} {
		if _, err := os.Stat(filepath.Join(dst, rel)); err != nil {
			t.Fatalf("expected %s to exist after replication: %v", rel, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dst, "stale.bin")); !os.IsNotExist(err) {
		t.Fatal("expected the stale pre-existing file to be removed by the atomic replace")
	}
	if _, err := os.Stat(dst + "_TEMP"); !os.IsNotExist(err) {
		t.Fatal("expected the _TEMP staging directory to be gone after a successful transfer")
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}
