package domain

import "strings"

// DeviceContext describes the host application and device. It is resolved
// once per process and attached to every event and auth request.
type DeviceContext struct {
	PackageName string `json:"packageName"`
	AppVersion  string `json:"appVersion"`
	BuildNumber string `json:"buildNumber"`
	Platform    string `json:"platform"`
	DeviceModel string `json:"deviceModel"`
	OSVersion   string `json:"osVersion"`
}

// Event is a single telemetry event. Events are immutable once created;
// the device context is flattened into the event object on the wire.
type Event struct {
	Name       string  `json:"name"`
	Timestamp  int64   `json:"ts"`
	SessionID  string  `json:"sessionId"`
	TesterID   string  `json:"testerId,omitempty"`
	Screen     string  `json:"screen,omitempty"`
	Properties *Object `json:"properties,omitempty"`
	DeviceContext
}

// EventBatch is the body of a batch ingest request.
type EventBatch struct {
	Events []Event `json:"events"`
}

// BootstrapRequest is the body of the anonymous bootstrap exchange.
type BootstrapRequest struct {
	PublicKey  string `json:"publicKey"`
	Timestamp  int64  `json:"ts"`
	SDKVersion string `json:"sdkVersion"`
	TesterID   string `json:"testerId,omitempty"`
	DeviceContext
}

// ClaimRequest binds the current device session to a human tester.
type ClaimRequest struct {
	ConnectCode string `json:"connectCode"`
}

// AuthResponse is returned by both bootstrap and claim. Only TesterID and
// AccessToken are required.
type AuthResponse struct {
	TesterID     string `json:"testerId"`
	AccessToken  string `json:"accessToken"`
	IngestURL    string `json:"ingestUrl,omitempty"`
	ExpiresIn    *int64 `json:"expiresIn,omitempty"`
	SessionToken string `json:"sessionToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// SessionState is a read-only view of the persisted session.
type SessionState struct {
	BaseURL           string
	PublicKey         string
	AccessToken       string
	TesterID          string
	IngestURL         string
	Connected         bool
	ConnectedTesterID string
	ConnectedAt       int64
}

// Bootstrapped reports whether a non-blank access token is present.
func (s SessionState) Bootstrapped() bool {
	return strings.TrimSpace(s.AccessToken) != ""
}

// DebugSnapshot is the only diagnostic surface exposed to host code. It
// never carries secrets.
type DebugSnapshot struct {
	BaseURL          string `json:"baseUrl"`
	PublicKeyPresent bool   `json:"publicKeyPresent"`
	TesterIDPrefix   string `json:"testerIdPrefix,omitempty"`
	QueueLength      int    `json:"queueLength"`
	LastError        string `json:"lastError,omitempty"`
}
