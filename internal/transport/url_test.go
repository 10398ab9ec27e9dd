package transport

import "testing"

func TestResolveURL(t *testing.T) {
	tests := []struct {
		base string
		path string
		want string
	}{
		{"https://example.com", "/api/v1/mobile/bootstrap", "https://example.com/api/v1/mobile/bootstrap"},
		{"https://example.com/", "/api/v1/mobile/bootstrap", "https://example.com/api/v1/mobile/bootstrap"},
		{"https://example.com//", "ingest", "https://example.com/ingest"},
		{"https://example.com", "https://ingest.example.com/batch", "https://ingest.example.com/batch"},
		{"https://example.com", "http://plain.example.com/batch", "http://plain.example.com/batch"},
	}

	for _, tt := range tests {
		t.Run(tt.base+"+"+tt.path, func(t *testing.T) {
			if got := ResolveURL(tt.base, tt.path); got != tt.want {
				t.Errorf("ResolveURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQueryParams(t *testing.T) {
	params := QueryParams("https://app.example.com/connect?connectCode=123456&publicKey=pk_1&empty=")
	if params["connectCode"] != "123456" {
		t.Errorf("connectCode = %q, want 123456", params["connectCode"])
	}
	if params["publicKey"] != "pk_1" {
		t.Errorf("publicKey = %q, want pk_1", params["publicKey"])
	}
	if v, ok := params["empty"]; !ok || v != "" {
		t.Errorf("empty = %q, %v, want empty, true", v, ok)
	}

	if got := QueryParams("%zz"); len(got) != 0 {
		t.Errorf("QueryParams(invalid) = %v, want empty", got)
	}
}

func TestLastPathSegment(t *testing.T) {
	tests := map[string]string{
		"https://example.com/connect/654321":  "654321",
		"https://example.com/connect/654321/": "654321",
		"testernest://connect/111222":         "111222",
		"123456":                              "123456",
		"":                                    "",
	}
	for in, want := range tests {
		if got := LastPathSegment(in); got != want {
			t.Errorf("LastPathSegment(%q) = %q, want %q", in, got, want)
		}
	}
}
