package cluster

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alvarosanz/loadit/internal/ingest"
	"github.com/alvarosanz/loadit/internal/wire"
)

// generateTestTLS writes a short-lived self-signed certificate to a temp
// directory and returns its cert/key paths, for tests that need a real
// wire.ServerTLSConfig rather than mocking the transport.
func generateTestTLS(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "loadit-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")

	certOut, err := os.Create(certFile)
	if err != nil {
		t.Fatalf("create cert file: %v", err)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		t.Fatalf("encode cert: %v", err)
	}

	keyBytes, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	keyOut, err := os.Create(keyFile)
	if err != nil {
		t.Fatalf("create key file: %v", err)
	}
	defer keyOut.Close()
	if err := pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyBytes}); err != nil {
		t.Fatalf("encode key: %v", err)
	}

	return certFile, keyFile
}

func newTestCentral(t *testing.T, workerAddr string) (*Central, []byte) {
	t.Helper()

	sessions, err := OpenSessionStore(t.TempDir(), "hunter2")
	if err != nil {
		t.Fatalf("open session store: %v", err)
	}
	t.Cleanup(func() { sessions.Close() })
	if err := sessions.Add(Session{User: "alice"}); err != nil {
		t.Fatalf("add session: %v", err)
	}
	if err := sessions.Add(Session{User: "root", IsAdmin: true}); err != nil {
		t.Fatalf("add admin session: %v", err)
	}

	masterKey := []byte("test-master-key-32-bytes-long!!")

	nodes := NewNodeRegistry()
	nodes.Seed("local", false)
	if workerAddr != "" {
		nodes.RegisterWorker("local", workerAddr)
	}

	return NewCentral("local", nodes, sessions, masterKey, time.Hour), masterKey
}

func TestCentralDispatchesReadToWorker(t *testing.T) {
	root := t.TempDir()
	if _, err := ingest.Create(filepath.Join(root, "db1")); err != nil {
		t.Fatalf("create database: %v", err)
	}

	worker := NewWorker(root, 64<<20, 256<<20)
	certFile, keyFile := generateTestTLS(t)
	tlsCfg, err := wire.ServerTLSConfig(certFile, keyFile)
	if err != nil {
		t.Fatalf("server tls config: %v", err)
	}
	ln, err := wire.Listen("127.0.0.1:0", tlsCfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go worker.Serve(ln)

	central, masterKey := newTestCentral(t, ln.Addr().String())
	token, err := IssueToken(masterKey, Session{User: "alice"}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	_, clientSide := net.Pipe()
	defer clientSide.Close()
	client := wire.NewConn(clientSide)

	resp, relay := central.handle(client, Request{Op: OpListDatabases, Token: token})
	if resp.Error != "" {
		t.Fatalf("list_databases: %v", resp.Error)
	}
	if relay != nil {
		t.Fatal("expected no relay func for a non-attachment op")
	}
	found := false
	for _, name := range resp.Names {
		if name == "db1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("list_databases = %v, want db1 among them", resp.Names)
	}
}

func TestCentralRejectsIncompatibleClientVersion(t *testing.T) {
	central, masterKey := newTestCentral(t, "")
	token, err := IssueToken(masterKey, Session{User: "alice"}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	_, clientSide := net.Pipe()
	defer clientSide.Close()
	client := wire.NewConn(clientSide)

	resp, _ := central.handle(client, Request{Op: OpListDatabases, Token: token, ClientVersion: "v2.0.0"})
	if resp.Error == "" {
		t.Fatal("expected an error for a major-version-incompatible client")
	}
}

func TestCentralRejectsUnauthorizedOp(t *testing.T) {
	central, masterKey := newTestCentral(t, "")
	token, err := IssueToken(masterKey, Session{User: "alice"}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	_, clientSide := net.Pipe()
	defer clientSide.Close()
	client := wire.NewConn(clientSide)

	resp, _ := central.handle(client, Request{Op: OpShutdown, Token: token})
	if resp.Error == "" {
		t.Fatal("expected a non-admin session to be rejected for shutdown")
	}
}

func TestCentralSessionsAdminFlow(t *testing.T) {
	central, masterKey := newTestCentral(t, "")
	adminToken, err := IssueToken(masterKey, Session{User: "root", IsAdmin: true}, time.Hour)
	if err != nil {
		t.Fatalf("issue admin token: %v", err)
	}

	_, clientSide := net.Pipe()
	defer clientSide.Close()
	client := wire.NewConn(clientSide)

	newSess := Session{User: "bob", Databases: []string{"db1"}}
	resp, _ := central.handle(client, Request{Op: OpSessions, Token: adminToken, NewSession: &newSess})
	if resp.Error != "" {
		t.Fatalf("add session: %v", resp.Error)
	}
	if resp.Token == "" {
		t.Fatal("expected a signed token for the newly added session")
	}

	resp, _ = central.handle(client, Request{Op: OpSessions, Token: adminToken})
	if resp.Error != "" {
		t.Fatalf("list sessions: %v", resp.Error)
	}
	found := false
	for _, s := range resp.Sessions {
		if s.User == "bob" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected bob among sessions, got %+v", resp.Sessions)
	}

	resp, _ = central.handle(client, Request{Op: OpSessions, Token: adminToken, TargetUser: "bob", Remove: true})
	if resp.Error != "" {
		t.Fatalf("remove session: %v", resp.Error)
	}
}
