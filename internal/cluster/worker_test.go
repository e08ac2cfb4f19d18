package cluster

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/alvarosanz/loadit/internal/wire"
)

func TestWorkerCreateAndListDatabase(t *testing.T) {
	root := t.TempDir()
	w := NewWorker(root, 64<<20, 256<<20)

	if resp := w.handle(Request{Op: OpCreateDatabase, Database: "db1"}); resp.Error != "" {
		t.Fatalf("create_database: %v", resp.Error)
	}
	if _, err := os.Stat(filepath.Join(root, "db1")); err != nil {
		t.Fatalf("expected db1 directory to exist: %v", err)
	}

	resp := w.handle(Request{Op: OpListDatabases})
	if resp.Error != "" {
		t.Fatalf("list_databases: %v", resp.Error)
	}
	if len(resp.Names) != 1 || resp.Names[0] != "db1" {
		t.Fatalf("list_databases = %v, want [db1]", resp.Names)
	}
}

func TestWorkerRemoveDatabaseDropsCache(t *testing.T) {
	root := t.TempDir()
	w := NewWorker(root, 64<<20, 256<<20)

	if resp := w.handle(Request{Op: OpCreateDatabase, Database: "db1"}); resp.Error != "" {
		t.Fatalf("create_database: %v", resp.Error)
	}
	if resp := w.handle(Request{Op: OpHeader, Database: "db1"}); resp.Error != "" {
		t.Fatalf("header: %v", resp.Error)
	}
	if _, ok := w.dbs["db1"]; !ok {
		t.Fatal("expected db1 to be cached after a header request")
	}

	if resp := w.handle(Request{Op: OpRemoveDatabase, Database: "db1"}); resp.Error != "" {
		t.Fatalf("remove_database: %v", resp.Error)
	}
	if _, ok := w.dbs["db1"]; ok {
		t.Fatal("expected db1 to be dropped from the open-handle cache")
	}
	if _, err := os.Stat(filepath.Join(root, "db1")); !os.IsNotExist(err) {
		t.Fatal("expected db1's directory to be removed")
	}
}

func TestWorkerHandleRejectsUnknownOp(t *testing.T) {
	w := NewWorker(t.TempDir(), 64<<20, 256<<20)
	resp := w.handle(Request{Op: "not_a_real_op"})
	if resp.Error == "" {
		t.Fatal("expected an error response for an unknown op")
	}
}

func TestWorkerHandleConnRoundTrip(t *testing.T) {
	w := NewWorker(t.TempDir(), 64<<20, 256<<20)

	a, b := net.Pipe()
	defer a.Close()
	client := wire.NewConn(a)
	go w.handleConn(wire.NewConn(b))

	if err := client.WriteJSON(Request{Op: OpCreateDatabase, Database: "db1"}); err != nil {
		t.Fatalf("write create_database: %v", err)
	}
	var resp Response
	if err := client.ReadJSON(&resp); err != nil {
		t.Fatalf("read create_database response: %v", err)
	}
	if resp.Error != "" {
		t.Fatalf("create_database: %v", resp.Error)
	}

	if err := client.WriteJSON(Request{Op: OpListDatabases}); err != nil {
		t.Fatalf("write list_databases: %v", err)
	}
	if err := client.ReadJSON(&resp); err != nil {
		t.Fatalf("read list_databases response: %v", err)
	}
	if len(resp.Names) != 1 || resp.Names[0] != "db1" {
		t.Fatalf("list_databases = %v, want [db1]", resp.Names)
	}
}
