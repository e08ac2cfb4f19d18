package wire

import (
	"crypto/tls"
	"net"

	"github.com/google/uuid"

	"github.com/alvarosanz/loadit/internal/loaditerr"
)

// ServerTLSConfig loads a node's own certificate for terminating inbound
// connections. spec.md's trust model is self-signed: nodes identify peers by
// the session/JWT layer above TLS, not by a shared CA.
func ServerTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindProtocol, "load TLS certificate", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// ClientTLSConfig builds a dial-side config that accepts a self-signed peer
// certificate: spec.md trusts the connection on the wire-protocol
// credential/JWT exchange, not on certificate-chain validation.
func ClientTLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed trust per spec.md 4.F
}

// Dial opens a TLS connection to addr and wraps it as a Conn.
func Dial(addr string, cfg *tls.Config) (*Conn, error) {
	raw, err := tls.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindProtocol, "dial tls", err)
	}
	return NewConn(raw), nil
}

// Listen starts a TLS listener on addr.
func Listen(addr string, cfg *tls.Config) (net.Listener, error) {
	ln, err := tls.Listen("tcp", addr, cfg)
	if err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindProtocol, "listen tls", err)
	}
	return ln, nil
}

// NewCorrelationID returns a fresh request-correlation identifier.
func NewCorrelationID() string {
	return uuid.NewString()
}
