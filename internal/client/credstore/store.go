package credstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/clinicdesk/internal/client/models"
	"github.com/dmitrijs2005/clinicdesk/internal/client/repositories/kv"
	"github.com/dmitrijs2005/clinicdesk/internal/cryptox"
	"github.com/dmitrijs2005/clinicdesk/internal/logging"
)

// Session-tier keys.
const (
	KeyAccessToken    = "access_token"
	KeyTokenSource    = "token_source"
	KeyServiceAccount = "service_account_key"
	KeySessionUser    = "session_user"
)

// Durable-tier key families, suffixed with the user id.
const (
	EncryptedKeyPrefix  = "encrypted_key_"
	SpreadsheetIDPrefix = "spreadsheet_id_"
)

var (
	// ErrSourceConflict is returned when a token write comes from a different
	// path than the one that claimed the session.
	ErrSourceConflict = errors.New("token source conflict")

	// ErrEmptyValue is returned for writes that would replace a value with
	// nothing. Only ClearSession and Logout delete session data.
	ErrEmptyValue = errors.New("refusing to store empty value")

	// ErrSessionCleared is returned for a write that was started before the
	// session was last cleared.
	ErrSessionCleared = errors.New("session cleared since write began")
)

type Store struct {
	session kv.Repository
	durable kv.Repository
	log     logging.Logger

	mu     sync.RWMutex
	active *models.ServiceAccount
	epoch  uint64
}

// New returns a Store over the given tiers. A nil logger discards output.
func New(session, durable kv.Repository, log logging.Logger) *Store {
	if log == nil {
		log = logging.Discard()
	}
	return &Store{session: session, durable: durable, log: log.With("component", "credstore")}
}

// SetSessionToken saves tok in the session tier. The first token after a
// clear claims the session for its source; later writes from the other
// source fail with ErrSourceConflict.
func (s *Store) SetSessionToken(ctx context.Context, tok models.AccessToken) error {
	if tok.IsZero() || tok.Source == models.TokenSourceNone {
		return ErrEmptyValue
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setSessionTokenLocked(ctx, tok)
}

// Epoch identifies the current session. It changes every time the session
// is cleared.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// SetSessionTokenAt is SetSessionToken for a write that began at epoch. If
// the session has been cleared since, the token is dropped and
// ErrSessionCleared is returned.
func (s *Store) SetSessionTokenAt(ctx context.Context, tok models.AccessToken, epoch uint64) error {
	if tok.IsZero() || tok.Source == models.TokenSourceNone {
		return ErrEmptyValue
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		s.log.Debug(ctx, "dropped token from a cleared session", "source", tok.Source)
		return ErrSessionCleared
	}
	return s.setSessionTokenLocked(ctx, tok)
}

func (s *Store) setSessionTokenLocked(ctx context.Context, tok models.AccessToken) error {
	claimed, ok, err := s.session.Get(ctx, KeyTokenSource)
	if err != nil {
		return err
	}
	if ok && models.TokenSource(claimed) != tok.Source {
		s.log.Warn(ctx, "rejected token from inactive source", "claimed", claimed, "source", tok.Source)
		return fmt.Errorf("%w: session belongs to %s", ErrSourceConflict, claimed)
	}

	data, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	if !ok {
		if err := s.session.Set(ctx, KeyTokenSource, string(tok.Source)); err != nil {
			return err
		}
	}
	return s.session.Set(ctx, KeyAccessToken, string(data))
}

// SessionToken returns the saved access token, if any.
func (s *Store) SessionToken(ctx context.Context) (models.AccessToken, bool, error) {
	raw, ok, err := s.session.Get(ctx, KeyAccessToken)
	if err != nil || !ok {
		return models.AccessToken{}, false, err
	}
	var tok models.AccessToken
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return models.AccessToken{}, false, fmt.Errorf("decode session token: %w", err)
	}
	return tok, true, nil
}

// SessionSource reports which path claimed the session.
func (s *Store) SessionSource(ctx context.Context) (models.TokenSource, error) {
	v, _, err := s.session.Get(ctx, KeyTokenSource)
	return models.TokenSource(v), err
}

// SetSessionCredential saves the raw credential, base64(JSON) encoded, so a
// rebuilt orchestrator can recover it.
func (s *Store) SetSessionCredential(ctx context.Context, sa models.ServiceAccount) error {
	if sa.IsZero() {
		return ErrEmptyValue
	}
	data, err := json.Marshal(sa)
	if err != nil {
		return err
	}
	return s.session.Set(ctx, KeyServiceAccount, base64.StdEncoding.EncodeToString(data))
}

// SessionCredential returns the raw credential saved in the session tier.
func (s *Store) SessionCredential(ctx context.Context) (models.ServiceAccount, bool, error) {
	raw, ok, err := s.session.Get(ctx, KeyServiceAccount)
	if err != nil || !ok {
		return models.ServiceAccount{}, false, err
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return models.ServiceAccount{}, false, fmt.Errorf("decode session credential: %w", err)
	}
	var sa models.ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return models.ServiceAccount{}, false, fmt.Errorf("decode session credential: %w", err)
	}
	return sa, true, nil
}

// SetSessionUser records who is signed in for this process.
func (s *Store) SetSessionUser(ctx context.Context, uid string) error {
	if uid == "" {
		return ErrEmptyValue
	}
	return s.session.Set(ctx, KeySessionUser, uid)
}

func (s *Store) SessionUser(ctx context.Context) (string, bool, error) {
	return s.session.Get(ctx, KeySessionUser)
}

// ClearSession drops the session tier and the in-memory credential. The
// durable tier is left alone.
func (s *Store) ClearSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
	s.epoch++
	return s.session.Clear(ctx)
}

// Logout ends the session. The encrypted credential stays in the durable
// tier so the user can come back with their PIN.
func (s *Store) Logout(ctx context.Context) error {
	if err := s.ClearSession(ctx); err != nil {
		return err
	}
	s.log.Info(ctx, "session cleared")
	return nil
}

// PutEncrypted persists blob for uid in the durable tier.
func (s *Store) PutEncrypted(ctx context.Context, uid string, blob *cryptox.Blob) error {
	if uid == "" || blob == nil || len(blob.Ciphertext) == 0 {
		return ErrEmptyValue
	}
	data, err := blob.Marshal()
	if err != nil {
		return err
	}
	if err := s.durable.Set(ctx, EncryptedKeyPrefix+uid, data); err != nil {
		return err
	}
	s.log.Info(ctx, "encrypted credential stored", "user_id", uid)
	return nil
}

// GetEncrypted loads the blob stored for uid. A stored value that does not
// parse is still reported as present; decrypting it fails with
// cryptox.ErrInvalidPin, which leaves the user the PIN reset path.
func (s *Store) GetEncrypted(ctx context.Context, uid string) (*cryptox.Blob, bool, error) {
	raw, ok, err := s.durable.Get(ctx, EncryptedKeyPrefix+uid)
	if err != nil || !ok {
		return nil, false, err
	}
	blob, err := cryptox.ParseBlob(raw)
	if err != nil {
		s.log.Warn(ctx, "stored credential blob is malformed", "user_id", uid)
		return &cryptox.Blob{}, true, nil
	}
	return blob, true, nil
}

// HasEncrypted reports whether uid has a durable blob.
func (s *Store) HasEncrypted(ctx context.Context, uid string) (bool, error) {
	_, ok, err := s.durable.Get(ctx, EncryptedKeyPrefix+uid)
	return ok, err
}

// RemoveEncrypted deletes the durable blob for uid. Only an explicit PIN
// reset may call this.
func (s *Store) RemoveEncrypted(ctx context.Context, uid string) error {
	if err := s.durable.Delete(ctx, EncryptedKeyPrefix+uid); err != nil {
		return err
	}
	s.log.Info(ctx, "encrypted credential removed", "user_id", uid)
	return nil
}

// SetSpreadsheetID remembers the record-store location chosen by uid.
func (s *Store) SetSpreadsheetID(ctx context.Context, uid, id string) error {
	if uid == "" || id == "" {
		return ErrEmptyValue
	}
	return s.durable.Set(ctx, SpreadsheetIDPrefix+uid, id)
}

func (s *Store) SpreadsheetID(ctx context.Context, uid string) (string, bool, error) {
	return s.durable.Get(ctx, SpreadsheetIDPrefix+uid)
}

// HasActiveCredential reports whether a raw credential is held in memory,
// not merely in storage.
func (s *Store) HasActiveCredential() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active != nil
}

func (s *Store) ActiveCredential() (models.ServiceAccount, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return models.ServiceAccount{}, false
	}
	return *s.active, true
}

// SetActiveCredential holds sa in memory. A zero credential clears it.
func (s *Store) SetActiveCredential(sa models.ServiceAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sa.IsZero() {
		s.active = nil
		return
	}
	s.active = &sa
}

// RestoreActive loads the session-tier credential into memory when none is
// held. It reports whether a credential is held afterwards.
func (s *Store) RestoreActive(ctx context.Context) (bool, error) {
	s.mu.RLock()
	held, epoch := s.active != nil, s.epoch
	s.mu.RUnlock()
	if held {
		return true, nil
	}

	sa, ok, err := s.SessionCredential(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return false, nil
	}
	if s.active == nil {
		s.active = &sa
	}
	s.mu.Unlock()

	s.log.Info(ctx, "credential restored from session")
	return true, nil
}
