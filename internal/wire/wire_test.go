package wire

import (
	"bytes"
	"net"
	"sync"
	"testing"
)

func connPair(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	return NewConn(a), NewConn(b)
}

func TestFrameRoundTrip(t *testing.T) {
	client, server := connPair(t)
	defer client.Close()
	defer server.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := client.WriteFrame(TagBytes, []byte("hello")); err != nil {
			t.Errorf("write frame: %v", err)
		}
	}()

	f, err := server.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	wg.Wait()
	if f.Tag != TagBytes || string(f.Payload) != "hello" {
		t.Fatalf("frame = %+v, want {b hello}", f)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	client, server := connPair(t)
	defer client.Close()
	defer server.Close()

	type msg struct {
		RequestType string `json:"request_type"`
		N           int    `json:"n"`
	}

	go func() {
		_ = client.WriteJSON(msg{RequestType: "query", N: 3})
	}()

	var got msg
	if err := server.ReadJSON(&got); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if got.RequestType != "query" || got.N != 3 {
		t.Fatalf("got %+v", got)
	}
}

func TestExceptionFrameSurfacesAsError(t *testing.T) {
	client, server := connPair(t)
	defer client.Close()
	defer server.Close()

	go func() {
		_ = client.WriteException("database not found")
	}()

	_, err := server.ReadFrame()
	if err == nil {
		t.Fatal("expected an error reading an exception frame")
	}
}

func TestBulkTransferWithAck(t *testing.T) {
	client, server := connPair(t)
	defer client.Close()
	defer server.Close()

	payload := bytes.Repeat([]byte("x"), 1<<20)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := client.SendBulkWithAck(bytes.NewReader(payload), int64(len(payload))); err != nil {
			t.Errorf("send bulk: %v", err)
		}
	}()

	var out bytes.Buffer
	n, err := server.RecvBulkWithAck(&out)
	if err != nil {
		t.Fatalf("recv bulk: %v", err)
	}
	wg.Wait()
	if n != int64(len(payload)) || !bytes.Equal(out.Bytes(), payload) {
		t.Fatalf("bulk payload mismatch: got %d bytes", n)
	}
}

func TestHandshakeDerivesMatchingKeyAndSealsCredentials(t *testing.T) {
	client, server := connPair(t)
	defer client.Close()
	defer server.Close()

	credentials := []byte(`{"user":"alice","password":"s3cret"}`)

	var clientKey []byte
	var clientErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		clientKey, clientErr = HandshakeInitiator(client, credentials)
	}()

	serverKey, gotCredentials, err := HandshakeResponder(server)
	<-done
	if clientErr != nil {
		t.Fatalf("initiator: %v", clientErr)
	}
	if err != nil {
		t.Fatalf("responder: %v", err)
	}
	if !bytes.Equal(clientKey, serverKey) {
		t.Fatal("derived keys do not match")
	}
	if !bytes.Equal(gotCredentials, credentials) {
		t.Fatalf("recovered credentials = %q, want %q", gotCredentials, credentials)
	}
}
