package mockserver

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestKeyRegistry_Validate(t *testing.T) {
	good := "pk_live_123"
	registry := NewKeyRegistry([]string{"  " + strings.ToUpper(HashKey(good)) + " ", ""})

	tests := []struct {
		name      string
		registry  *KeyRegistry
		key       string
		wantError bool
	}{
		{name: "registered key", registry: registry, key: good},
		{name: "unknown key", registry: registry, key: "pk_other", wantError: true},
		{name: "blank key", registry: registry, key: "  ", wantError: true},
		{name: "open registry accepts any key", registry: NewKeyRegistry(nil), key: "anything"},
		{name: "open registry rejects blank", registry: NewKeyRegistry(nil), key: "", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := tt.registry.Validate(tt.key)
			if (err != nil) != tt.wantError {
				t.Fatalf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
			if err == nil && hash != HashKey(tt.key) {
				t.Errorf("Validate() hash = %s, want %s", hash, HashKey(tt.key))
			}
		})
	}
}

func TestGenerateKey(t *testing.T) {
	a, err := GenerateKey("pk_")
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	b, _ := GenerateKey("pk_")
	if !strings.HasPrefix(a, "pk_") || len(a) != len("pk_")+48 {
		t.Errorf("GenerateKey() = %q", a)
	}
	if a == b {
		t.Error("GenerateKey() returned the same key twice")
	}
}

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		want      string
		wantError bool
	}{
		{name: "bearer", header: "Bearer abc", want: "abc"},
		{name: "lowercase scheme", header: "bearer abc", want: "abc"},
		{name: "missing", header: "", wantError: true},
		{name: "no scheme", header: "abc", wantError: true},
		{name: "basic scheme", header: "Basic abc", wantError: true},
		{name: "empty token", header: "Bearer  ", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearer(req)
			if (err != nil) != tt.wantError {
				t.Fatalf("ExtractBearer() error = %v, wantError %v", err, tt.wantError)
			}
			if got != tt.want {
				t.Errorf("ExtractBearer() = %q, want %q", got, tt.want)
			}
		})
	}
}
