// Package cluster implements spec.md §4.G: the central coordinator, workers,
// the session store, dispatch policy, replication, and the Worker/Request
// state machines.
package cluster

import (
	"database/sql"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"crypto/rand"
	"encoding/json"

	"github.com/alvarosanz/loadit/internal/loaditerr"
)

const sessionsDBFile = "sessions.db"

// scrypt cost parameters; N=2^15, r=8, p=1 is the library's "interactive"
// guidance, affordable here since this unlock happens once per central
// startup, not per request.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = chacha20poly1305.KeySize
)

// Session is spec.md's session record: {user, is_admin, create_allowed,
// databases}. A nil Databases means "all databases" (admins and
// create-allowed users with no explicit allowlist).
type Session struct {
	User          string   `json:"user"`
	IsAdmin       bool     `json:"is_admin"`
	CreateAllowed bool     `json:"create_allowed"`
	Databases     []string `json:"databases"`
}

// allows reports whether the session may touch database name.
func (s Session) allows(name string) bool {
	if s.IsAdmin || s.Databases == nil {
		return true
	}
	for _, d := range s.Databases {
		if d == name {
			return true
		}
	}
	return false
}

// SessionStore is the spec's encrypted-at-rest session table: each session
// is JSON-marshaled, AEAD-sealed under a key derived from the admin password
// via scrypt, and persisted as the single ciphertext blob in a one-row,
// one-table sqlite database — chosen so a crashed central mid-write can
// never leave a half-written session file; the transaction is all or
// nothing.
type SessionStore struct {
	db   *sql.DB
	key  []byte
	salt []byte

	sessions map[string]Session
}

// OpenSessionStore unlocks (or creates) the session store at
// dir/sessions.db under the admin-supplied password.
func OpenSessionStore(dir, password string) (*SessionStore, error) {
	path := dir + "/" + sessionsDBFile
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindIO, "open sessions database", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS store (id INTEGER PRIMARY KEY CHECK (id = 0), salt BLOB NOT NULL, sealed BLOB NOT NULL)`); err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindIO, "create sessions table", err)
	}

	store := &SessionStore{db: db, sessions: make(map[string]Session)}

	var salt, sealed []byte
	err = db.QueryRow(`SELECT salt, sealed FROM store WHERE id = 0`).Scan(&salt, &sealed)
	switch {
	case err == sql.ErrNoRows:
		salt = make([]byte, 16)
		if _, err := rand.Read(salt); err != nil {
			return nil, loaditerr.Wrap(loaditerr.KindIO, "generate session salt", err)
		}
		key, err := deriveKey(password, salt)
		if err != nil {
			return nil, err
		}
		store.key = key
		store.salt = salt
		if err := store.flush(); err != nil {
			return nil, err
		}
		return store, nil
	case err != nil:
		return nil, loaditerr.Wrap(loaditerr.KindIO, "read session store", err)
	}

	key, err := deriveKey(password, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := openAEAD(key, sealed)
	if err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindPermission, "unlock session store (wrong password?)", err)
	}
	var sessions map[string]Session
	if err := json.Unmarshal(plaintext, &sessions); err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindIntegrity, "decode session store", err)
	}
	store.key = key
	store.salt = salt
	store.sessions = sessions
	return store, nil
}

// Close releases the underlying sqlite handle.
func (s *SessionStore) Close() error { return s.db.Close() }

// Add registers or replaces a session record and persists the store.
func (s *SessionStore) Add(sess Session) error {
	s.sessions[sess.User] = sess
	return s.flush()
}

// Remove deletes a session record and persists the store.
func (s *SessionStore) Remove(user string) error {
	delete(s.sessions, user)
	return s.flush()
}

// Get returns the session for user, if any.
func (s *SessionStore) Get(user string) (Session, bool) {
	sess, ok := s.sessions[user]
	return sess, ok
}

// List returns every stored session.
func (s *SessionStore) List() []Session {
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

func (s *SessionStore) flush() error {
	plaintext, err := json.Marshal(s.sessions)
	if err != nil {
		return loaditerr.Wrap(loaditerr.KindIO, "marshal session store", err)
	}
	sealed, err := sealAEAD(s.key, plaintext)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO store (id, salt, sealed) VALUES (0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET sealed = excluded.sealed`, s.salt, sealed)
	if err != nil {
		return loaditerr.Wrap(loaditerr.KindIO, "persist session store", err)
	}
	return nil
}

func deriveKey(password string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindIO, "derive session store key", err)
	}
	return key, nil
}

func sealAEAD(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindIO, "build session store cipher", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, loaditerr.Wrap(loaditerr.KindIO, "generate session store nonce", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func openAEAD(key, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, loaditerr.New(loaditerr.KindIntegrity, "sealed session blob too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}
