// Package session is the device-local convenience cache: the sticky
// relay-mode preference, the last-known identity and the set of pubkeys
// that completed charity onboarding here. It has no authority over
// network truth and must never gate write authorization; that is always
// the signing capability's job.
package session

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/nbd-wtf/go-nostr"

	"github.com/Jacob-Jan/proof-of-heart/internal/relays"
)

const (
	keyRelayMode     = "relay_mode"
	keyCurrentPubkey = "current_pubkey"
	onboardedPrefix  = "onboarded:"
)

// Store is a small sqlite-backed key/value store.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the session database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("could not open session db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to session db: %w", err)
	}

	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS session (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("could not create session table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key string) (string, bool) {
	var value string
	err := s.db.QueryRow("SELECT value FROM session WHERE key = ?;", key).Scan(&value)
	if err != nil {
		return "", false
	}
	return value, true
}

func (s *Store) set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO session (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value;`, key, value)
	return err
}

func (s *Store) delete(key string) error {
	_, err := s.db.Exec("DELETE FROM session WHERE key = ?;", key)
	return err
}

// RelayMode returns the stored relay mode preference. Absent or malformed
// values fall back to auto; this implements relays.Preferences.
func (s *Store) RelayMode() string {
	value, ok := s.get(keyRelayMode)
	if !ok {
		return string(relays.ModeAuto)
	}
	return string(relays.ParseMode(value))
}

// SetRelayMode persists the relay mode preference.
func (s *Store) SetRelayMode(mode string) error {
	parsed := relays.ParseMode(mode)
	return s.set(keyRelayMode, string(parsed))
}

// RememberIdentity stores the visitor's last-known public key.
func (s *Store) RememberIdentity(pubkey string) error {
	if !nostr.IsValidPublicKey(pubkey) {
		return fmt.Errorf("session: invalid public key")
	}
	return s.set(keyCurrentPubkey, pubkey)
}

// CurrentIdentity returns the remembered public key, or "" when none is
// stored or the stored value is malformed.
func (s *Store) CurrentIdentity() string {
	value, ok := s.get(keyCurrentPubkey)
	if !ok || !nostr.IsValidPublicKey(value) {
		return ""
	}
	return value
}

// MarkOnboarded records that pubkey completed charity onboarding on this
// device.
func (s *Store) MarkOnboarded(pubkey string) error {
	if !nostr.IsValidPublicKey(pubkey) {
		return fmt.Errorf("session: invalid public key")
	}
	return s.set(onboardedPrefix+pubkey, "1")
}

// IsOnboarded reports whether pubkey was marked as onboarded here.
func (s *Store) IsOnboarded(pubkey string) bool {
	_, ok := s.get(onboardedPrefix + pubkey)
	return ok
}

// Forget removes the remembered identity and onboarding mark for pubkey.
func (s *Store) Forget(pubkey string) error {
	if current := s.CurrentIdentity(); current == pubkey {
		if err := s.delete(keyCurrentPubkey); err != nil {
			return err
		}
	}
	return s.delete(onboardedPrefix + pubkey)
}
