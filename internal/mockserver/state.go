package mockserver

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/testernest-go/internal/core/domain"
)

// ReceivedEvent is an ingested event with the tester the token was issued to.
type ReceivedEvent struct {
	TesterID   string       `json:"testerId"`
	ReceivedAt time.Time    `json:"receivedAt"`
	Event      domain.Event `json:"event"`
}

// ConnectCode is a pending tester claim.
type ConnectCode struct {
	Code      string    `json:"connectCode"`
	TesterID  string    `json:"testerId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// State holds everything the mock server knows. It is safe for concurrent
// use.
type State struct {
	mu      sync.Mutex
	testers map[string]bool
	codes   map[string]ConnectCode
	events  []ReceivedEvent
	now     func() time.Time
}

// NewState creates an empty state.
func NewState() *State {
	return &State{
		testers: make(map[string]bool),
		codes:   make(map[string]ConnectCode),
		now:     time.Now,
	}
}

// Tester returns testerID when it was issued before, otherwise a new id.
func (s *State) Tester(testerID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if testerID != "" && s.testers[testerID] {
		return testerID
	}
	id := "tst_" + uuid.NewString()
	s.testers[id] = true
	return id
}

// AddConnectCode registers code for a human tester. A blank code is
// replaced by a random six digit code.
func (s *State) AddConnectCode(code string, ttl time.Duration) (ConnectCode, error) {
	if code == "" {
		generated, err := randomCode()
		if err != nil {
			return ConnectCode{}, err
		}
		code = generated
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cc := ConnectCode{
		Code:     code,
		TesterID: "tester_" + uuid.NewString(),
	}
	if ttl > 0 {
		cc.ExpiresAt = s.now().Add(ttl)
	}
	s.codes[code] = cc
	s.testers[cc.TesterID] = true
	return cc, nil
}

// ConsumeConnectCode removes and returns code if it exists and has not
// expired.
func (s *State) ConsumeConnectCode(code string) (ConnectCode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cc, ok := s.codes[code]
	if !ok {
		return ConnectCode{}, false
	}
	delete(s.codes, code)
	if !cc.ExpiresAt.IsZero() && s.now().After(cc.ExpiresAt) {
		return ConnectCode{}, false
	}
	return cc, true
}

// AddEvents stores a batch for testerID.
func (s *State) AddEvents(testerID string, events []domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	for _, e := range events {
		s.events = append(s.events, ReceivedEvent{TesterID: testerID, ReceivedAt: now, Event: e})
	}
}

// Events returns a copy of everything ingested so far.
func (s *State) Events() []ReceivedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ReceivedEvent{}, s.events...)
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate connect code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
