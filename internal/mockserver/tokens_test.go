package mockserver

import (
	"errors"
	"testing"
	"time"
)

func TestTokenIssuer_IssueAndValidate(t *testing.T) {
	issuer, err := NewTokenIssuer([]byte("secret"), DefaultIssuer, time.Minute)
	if err != nil {
		t.Fatalf("NewTokenIssuer() error = %v", err)
	}

	token, expiresIn, err := issuer.Issue("tst_1", "hash", true)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if expiresIn != 60 {
		t.Errorf("expiresIn = %d, want 60", expiresIn)
	}

	claims, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.Subject != "tst_1" || claims.KeyHash != "hash" || !claims.Connected {
		t.Errorf("claims = %+v", claims)
	}
}

func TestTokenIssuer_Rejects(t *testing.T) {
	issuer, _ := NewTokenIssuer([]byte("secret"), DefaultIssuer, time.Minute)
	other, _ := NewTokenIssuer([]byte("other"), DefaultIssuer, time.Minute)
	foreign, _ := NewTokenIssuer([]byte("secret"), "someone-else", time.Minute)

	otherToken, _, _ := other.Issue("tst_1", "", false)
	foreignToken, _, _ := foreign.Issue("tst_1", "", false)

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-jwt"},
		{name: "wrong secret", token: otherToken},
		{name: "wrong issuer", token: foreignToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := issuer.Validate(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Validate() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestTokenIssuer_Expiry(t *testing.T) {
	issuer, _ := NewTokenIssuer([]byte("secret"), DefaultIssuer, time.Minute)
	now := time.Now()
	issuer.now = func() time.Time { return now }

	token, _, err := issuer.Issue("tst_1", "", false)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	issuer.now = func() time.Time { return now.Add(2 * time.Minute) }
	if _, err := issuer.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate() after expiry error = %v, want ErrInvalidToken", err)
	}
}

func TestTokenIssuer_Revoke(t *testing.T) {
	issuer, _ := NewTokenIssuer([]byte("secret"), DefaultIssuer, 0)

	before, _, _ := issuer.Issue("tst_1", "", false)
	issuer.Revoke()
	after, _, _ := issuer.Issue("tst_1", "", false)

	if _, err := issuer.Validate(before); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("revoked token error = %v, want ErrInvalidToken", err)
	}
	if _, err := issuer.Validate(after); err != nil {
		t.Errorf("fresh token error = %v", err)
	}
}

func TestNewTokenIssuer_RequiresSecret(t *testing.T) {
	if _, err := NewTokenIssuer(nil, DefaultIssuer, time.Minute); err == nil {
		t.Error("expected error for empty secret")
	}
}
