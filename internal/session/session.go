// Package session provides typed access to the persisted SDK session on top
// of a key/value ports.SessionStore.
package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tjfontaine/testernest-go/internal/core/domain"
	"github.com/tjfontaine/testernest-go/internal/core/ports"
)

// Persisted keys.
const (
	KeyBaseURL               = "base_url"
	KeyPublicKey             = "public_key"
	KeyAccessToken           = "access_token"
	KeyTesterID              = "tester_id"
	KeyIngestURL             = "ingest_url"
	KeySavedAt               = "saved_at"
	KeyConnectedTesterID     = "connected_tester_id"
	KeyConnectedPublicKey    = "connected_public_key"
	KeyConnectedSessionToken = "connected_session_token"
	KeyConnectedRefreshToken = "connected_refresh_token"
	KeyConnectedAt           = "connected_at"
	KeyAutoPromptShown       = "auto_prompt_shown"
)

// tokenScoped lists the keys derived from the current access token. They are
// dropped whenever the token is invalidated or its public key changes.
var tokenScoped = []string{
	KeyAccessToken,
	KeyIngestURL,
	KeyConnectedSessionToken,
	KeyConnectedRefreshToken,
	KeyConnectedAt,
}

var connectionKeys = []string{
	KeyConnectedTesterID,
	KeyConnectedPublicKey,
	KeyConnectedSessionToken,
	KeyConnectedRefreshToken,
	KeyConnectedAt,
	KeyTesterID,
	KeyAccessToken,
	KeyIngestURL,
}

// Store is the typed session facade. Read-modify-write sequences are
// serialized by an internal mutex; the backend provides atomicity of each
// individual mutation.
type Store struct {
	mu      sync.Mutex
	backend ports.SessionStore
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for saved_at and connected_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a session facade over backend.
func New(backend ports.SessionStore, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a single raw value, empty when absent.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	v, _, err := s.backend.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return v, nil
}

// State reads the full session view.
func (s *Store) State(ctx context.Context) (domain.SessionState, error) {
	var st domain.SessionState
	fields := []struct {
		key string
		dst *string
	}{
		{KeyBaseURL, &st.BaseURL},
		{KeyPublicKey, &st.PublicKey},
		{KeyAccessToken, &st.AccessToken},
		{KeyTesterID, &st.TesterID},
		{KeyIngestURL, &st.IngestURL},
		{KeyConnectedTesterID, &st.ConnectedTesterID},
	}
	for _, f := range fields {
		v, err := s.Get(ctx, f.key)
		if err != nil {
			return domain.SessionState{}, fmt.Errorf("failed to read session: %w", err)
		}
		*f.dst = v
	}
	st.Connected = strings.TrimSpace(st.ConnectedTesterID) != ""

	if raw, err := s.Get(ctx, KeyConnectedAt); err != nil {
		return domain.SessionState{}, fmt.Errorf("failed to read session: %w", err)
	} else if raw != "" {
		st.ConnectedAt, _ = strconv.ParseInt(raw, 10, 64)
	}
	return st, nil
}

// AccessToken returns the stored token, empty when not bootstrapped.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	return s.Get(ctx, KeyAccessToken)
}

// SaveConfig stores the base URL and public key together. A public key that
// differs from the stored one invalidates every token-scoped value.
func (s *Store) SaveConfig(ctx context.Context, baseURL, publicKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := ports.Mutation{Set: map[string]string{
		KeyBaseURL:   baseURL,
		KeyPublicKey: publicKey,
		KeySavedAt:   s.seconds(),
	}}
	if err := s.scopeToPublicKey(ctx, publicKey, &m); err != nil {
		return err
	}
	return s.apply(ctx, m)
}

// SetPublicKey replaces the public key, invalidating the token when it changes.
func (s *Store) SetPublicKey(ctx context.Context, publicKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := ports.Mutation{Set: map[string]string{KeyPublicKey: publicKey}}
	if err := s.scopeToPublicKey(ctx, publicKey, &m); err != nil {
		return err
	}
	return s.apply(ctx, m)
}

// SetBaseURL replaces the base URL.
func (s *Store) SetBaseURL(ctx context.Context, baseURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(ctx, ports.Mutation{Set: map[string]string{KeyBaseURL: baseURL}})
}

func (s *Store) scopeToPublicKey(ctx context.Context, publicKey string, m *ports.Mutation) error {
	current, err := s.Get(ctx, KeyPublicKey)
	if err != nil {
		return fmt.Errorf("failed to read public key: %w", err)
	}
	if current != "" && current != publicKey {
		m.Delete = append(m.Delete, tokenScoped...)
	}
	return nil
}

// StoreAuth persists a successful bootstrap or claim issued for publicKey.
// ingestURL must already be resolved to an absolute URL. A connected
// response also records the tester binding. When the stored public key no
// longer matches publicKey the response is dropped and
// domain.ErrPublicKeyChanged is returned.
func (s *Store) StoreAuth(ctx context.Context, publicKey string, resp *domain.AuthResponse, ingestURL string, connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Get(ctx, KeyPublicKey)
	if err != nil {
		return fmt.Errorf("failed to read public key: %w", err)
	}
	if current != publicKey {
		return domain.ErrPublicKeyChanged
	}

	now := s.seconds()
	set := map[string]string{
		KeyTesterID:    resp.TesterID,
		KeyAccessToken: resp.AccessToken,
		KeyIngestURL:   ingestURL,
		KeySavedAt:     now,
	}
	var del []string
	if connected {
		set[KeyConnectedTesterID] = resp.TesterID
		set[KeyConnectedPublicKey] = publicKey
		set[KeyConnectedAt] = now
		setOrDelete(set, &del, KeyConnectedSessionToken, resp.SessionToken)
		setOrDelete(set, &del, KeyConnectedRefreshToken, resp.RefreshToken)
	}
	return s.apply(ctx, ports.Mutation{Set: set, Delete: del})
}

func setOrDelete(set map[string]string, del *[]string, key, value string) {
	if value == "" {
		*del = append(*del, key)
		return
	}
	set[key] = value
}

// InvalidateToken drops the access token and the secrets derived from it.
// The tester binding itself is kept.
func (s *Store) InvalidateToken(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(ctx, ports.Mutation{Delete: tokenScoped})
}

// Disconnect forgets the connected tester together with the anonymous
// identity and token.
func (s *Store) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(ctx, ports.Mutation{Delete: connectionKeys})
}

// AutoPromptShown reports whether the connect prompt was already offered.
func (s *Store) AutoPromptShown(ctx context.Context) (bool, error) {
	v, err := s.Get(ctx, KeyAutoPromptShown)
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

// MarkAutoPromptShown records that the connect prompt was offered.
func (s *Store) MarkAutoPromptShown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(ctx, ports.Mutation{Set: map[string]string{KeyAutoPromptShown: "true"}})
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) apply(ctx context.Context, m ports.Mutation) error {
	if err := s.backend.Apply(ctx, m); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

func (s *Store) seconds() string {
	return strconv.FormatInt(s.now().Unix(), 10)
}
