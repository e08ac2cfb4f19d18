package wire

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/pem"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/alvarosanz/loadit/internal/loaditerr"
)

const pemPublicKeyType = "LOADIT ECDH PUBLIC KEY"

// hkdfInfo labels the single key this handshake derives, per spec.md's
// "secret-channel handshake" that envelopes exactly the first credential
// payload.
const hkdfInfo = "loadit credential envelope v1"

// GenerateHandshakeKey creates an ephemeral P-256 ECDH key pair for one
// handshake.
func GenerateHandshakeKey() (*ecdh.PrivateKey, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindProtocol, "generate ecdh key", err)
	}
	return priv, nil
}

// EncodePublicKeyPEM PEM-encodes pub for exchange over the wire.
func EncodePublicKeyPEM(pub *ecdh.PublicKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: pemPublicKeyType, Bytes: pub.Bytes()})
}

// DecodePublicKeyPEM parses a peer's PEM-encoded P-256 ECDH public key.
func DecodePublicKeyPEM(data []byte) (*ecdh.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, loaditerr.New(loaditerr.KindProtocol, "not a PEM block")
	}
	pub, err := ecdh.P256().NewPublicKey(block.Bytes)
	if err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindProtocol, "parse ecdh public key", err)
	}
	return pub, nil
}

// DeriveSharedKey computes the ECDH shared secret between priv and peerPub
// and stretches it via HKDF-SHA256 into a chacha20poly1305 key.
func DeriveSharedKey(priv *ecdh.PrivateKey, peerPub *ecdh.PublicKey) ([]byte, error) {
	secret, err := priv.ECDH(peerPub)
	if err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindProtocol, "compute ecdh shared secret", err)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo)).Read(key); err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindProtocol, "derive key via hkdf", err)
	}
	return key, nil
}

// SealCredentials AEAD-envelopes plaintext under key, prefixing the random
// nonce to the ciphertext.
func SealCredentials(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindProtocol, "build aead cipher", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindProtocol, "generate nonce", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// OpenCredentials reverses SealCredentials.
func OpenCredentials(key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindProtocol, "build aead cipher", err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, loaditerr.New(loaditerr.KindProtocol, "sealed credential payload too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindProtocol, "open sealed credential payload", err)
	}
	return plaintext, nil
}

// HandshakeInitiator runs the client side of the ECDH pre-handshake: send
// our public key, receive the peer's, derive the shared key, and seal
// credentials with it.
func HandshakeInitiator(c *Conn, credentials []byte) ([]byte, error) {
	priv, err := GenerateHandshakeKey()
	if err != nil {
		return nil, err
	}
	if err := c.WriteFrame(TagBytes, EncodePublicKeyPEM(priv.PublicKey())); err != nil {
		return nil, err
	}
	f, err := c.ReadFrame()
	if err != nil {
		return nil, err
	}
	peerPub, err := DecodePublicKeyPEM(f.Payload)
	if err != nil {
		return nil, err
	}
	key, err := DeriveSharedKey(priv, peerPub)
	if err != nil {
		return nil, err
	}
	sealed, err := SealCredentials(key, credentials)
	if err != nil {
		return nil, err
	}
	if err := c.WriteFrame(TagBytes, sealed); err != nil {
		return nil, err
	}
	return key, nil
}

// HandshakeResponder runs the server side: receive the peer's public key,
// send ours, derive the shared key, and open the sealed credential payload
// the peer sends next.
func HandshakeResponder(c *Conn) (key, credentials []byte, err error) {
	priv, err := GenerateHandshakeKey()
	if err != nil {
		return nil, nil, err
	}
	f, err := c.ReadFrame()
	if err != nil {
		return nil, nil, err
	}
	peerPub, err := DecodePublicKeyPEM(f.Payload)
	if err != nil {
		return nil, nil, err
	}
	if err := c.WriteFrame(TagBytes, EncodePublicKeyPEM(priv.PublicKey())); err != nil {
		return nil, nil, err
	}
	key, err = DeriveSharedKey(priv, peerPub)
	if err != nil {
		return nil, nil, err
	}
	credFrame, err := c.ReadFrame()
	if err != nil {
		return nil, nil, err
	}
	credentials, err = OpenCredentials(key, credFrame.Payload)
	if err != nil {
		return nil, nil, err
	}
	return key, credentials, nil
}
