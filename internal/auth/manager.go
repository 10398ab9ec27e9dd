// Package auth keeps a usable access token in the session: single-flight
// anonymous bootstrap, tester claim and disconnect.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/testernest-go/internal/core/domain"
	"github.com/tjfontaine/testernest-go/internal/core/ports"
	"github.com/tjfontaine/testernest-go/internal/diag"
	"github.com/tjfontaine/testernest-go/internal/session"
	"github.com/tjfontaine/testernest-go/internal/transport"
)

var connectCodePattern = regexp.MustCompile(`^\d{6}$`)

// Manager owns the bootstrap state machine. A nil error from
// EnsureBootstrapped means the session holds a non-blank access token.
type Manager struct {
	session    *session.Store
	transport  ports.Transport
	device     domain.DeviceContext
	sdkVersion string
	diag       *diag.Recorder
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time

	mu       sync.Mutex
	inFlight bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithDeviceContext sets the device context sent with bootstrap requests.
func WithDeviceContext(device domain.DeviceContext) Option {
	return func(m *Manager) {
		m.device = device
	}
}

// WithSDKVersion sets the SDK version reported to the service.
func WithSDKVersion(version string) Option {
	return func(m *Manager) {
		m.sdkVersion = version
	}
}

// WithDiagnostics sets the last-error recorder.
func WithDiagnostics(r *diag.Recorder) Option {
	return func(m *Manager) {
		m.diag = r
	}
}

// WithClock overrides the time source for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a bootstrap manager.
func NewManager(store *session.Store, t ports.Transport, opts ...Option) *Manager {
	m := &Manager{
		session:   store,
		transport: t,
		diag:      diag.NewRecorder(),
		logger:    slog.Default(),
		tracer:    otel.Tracer("github.com/tjfontaine/testernest-go/internal/auth"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureBootstrapped makes sure an access token exists, bootstrapping when
// there is none or when force is set. A call made while another bootstrap
// is running returns ErrBootstrapInFlight at once without any network call.
func (m *Manager) EnsureBootstrapped(ctx context.Context, force bool) error {
	st, err := m.session.State(ctx)
	if err != nil {
		m.diag.Record(err)
		return err
	}
	if blank(st.BaseURL) || blank(st.PublicKey) {
		m.diag.Record(domain.ErrMissingConfig)
		m.logger.Error("bootstrap skipped: missing baseUrl or publicKey")
		return domain.ErrMissingConfig
	}
	if !force && st.Bootstrapped() {
		return nil
	}

	if done, err := m.begin(ctx, force); done || err != nil {
		return err
	}
	defer m.end()

	return m.bootstrap(ctx, st)
}

// begin enters the critical section. done reports that a token appeared
// while waiting for the lock.
func (m *Manager) begin(ctx context.Context, force bool) (done bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !force {
		token, err := m.session.AccessToken(ctx)
		if err != nil {
			return false, err
		}
		if !blank(token) {
			return true, nil
		}
	}
	if m.inFlight {
		m.logger.Info("bootstrap already in progress; skipping")
		return false, domain.ErrBootstrapInFlight
	}
	m.inFlight = true
	return false, nil
}

func (m *Manager) end() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight = false
}

// InFlight reports whether a bootstrap exchange is running.
func (m *Manager) InFlight() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

func (m *Manager) bootstrap(ctx context.Context, st domain.SessionState) error {
	ctx, span := m.tracer.Start(ctx, "testernest.bootstrap")
	defer span.End()

	url := transport.ResolveURL(st.BaseURL, transport.BootstrapPath)
	req := domain.BootstrapRequest{
		PublicKey:     st.PublicKey,
		Timestamp:     m.now().Unix(),
		SDKVersion:    m.sdkVersion,
		TesterID:      st.TesterID,
		DeviceContext: m.device,
	}

	m.logger.Info("bootstrap ->",
		slog.String("url", url),
		slog.String("public_key_prefix", prefix(st.PublicKey, 6)),
	)
	result := m.transport.SendAuth(ctx, url, req, "")
	m.logger.Info("bootstrap <-",
		slog.Int("status", result.StatusCode),
		slog.String("body", result.BodyExcerpt),
	)
	span.SetAttributes(attribute.Int("http.status_code", result.StatusCode))

	if !result.Success {
		err := fmt.Errorf("bootstrap failed: %w", resultErr(result))
		m.fail(span, err)
		return err
	}
	if err := m.store(ctx, st, result.Response, false); err != nil {
		m.fail(span, err)
		return err
	}
	return nil
}

// Claim binds the session to a human tester with a six digit connect code.
// The code is validated before any network call.
func (m *Manager) Claim(ctx context.Context, code string) error {
	trimmed, err := ValidateConnectCode(code)
	if err != nil {
		m.diag.Record(err)
		m.logger.Error("claim failed", slog.String("error", err.Error()))
		return err
	}

	if err := m.EnsureBootstrapped(ctx, false); err != nil {
		return err
	}
	st, err := m.session.State(ctx)
	if err != nil {
		m.diag.Record(err)
		return err
	}
	if blank(st.AccessToken) {
		m.diag.Record(domain.ErrMissingToken)
		return domain.ErrMissingToken
	}

	ctx, span := m.tracer.Start(ctx, "testernest.claim")
	defer span.End()

	url := transport.ResolveURL(st.BaseURL, transport.ClaimPath)
	m.logger.Info("claim ->", slog.String("url", url))
	result := m.transport.SendAuth(ctx, url, domain.ClaimRequest{ConnectCode: trimmed}, st.AccessToken)
	m.logger.Info("claim <-", slog.Int("status", result.StatusCode))
	span.SetAttributes(attribute.Int("http.status_code", result.StatusCode))

	if !result.Success {
		err := fmt.Errorf("claim failed: %w", resultErr(result))
		m.logger.Error("claim failed",
			slog.Int("status", result.StatusCode),
			slog.String("body", result.BodyExcerpt),
		)
		m.fail(span, err)
		return err
	}
	if err := m.store(ctx, st, result.Response, true); err != nil {
		m.fail(span, err)
		return err
	}
	return nil
}

// Disconnect forgets the connected tester and the anonymous identity, then
// bootstraps a fresh anonymous session.
func (m *Manager) Disconnect(ctx context.Context) error {
	if err := m.session.Disconnect(ctx); err != nil {
		m.diag.Record(err)
		return err
	}
	return m.EnsureBootstrapped(ctx, true)
}

// InvalidateToken drops the current token after the ingest service
// rejected it and returns the number of such rejections so far.
func (m *Manager) InvalidateToken(ctx context.Context, bodyExcerpt string) (int, error) {
	count := m.diag.AuthFailure()
	if err := m.session.InvalidateToken(ctx); err != nil {
		m.diag.Record(err)
		return count, err
	}
	m.logger.Info("auth invalid; cleared token",
		slog.Int("auth_failures", count),
		slog.String("body", bodyExcerpt),
	)
	return count, nil
}

// store saves resp against the session state the request was built from.
func (m *Manager) store(ctx context.Context, st domain.SessionState, resp *domain.AuthResponse, connected bool) error {
	if resp == nil || blank(resp.AccessToken) {
		return domain.ErrMissingToken
	}
	ingest := resp.IngestURL
	if blank(ingest) {
		ingest = transport.EventsBatchPath
	}
	ingest = transport.ResolveURL(st.BaseURL, ingest)
	if err := m.session.StoreAuth(ctx, st.PublicKey, resp, ingest, connected); err != nil {
		if errors.Is(err, domain.ErrPublicKeyChanged) {
			m.logger.Info("auth response dropped: public key changed")
		}
		return fmt.Errorf("failed to store auth response: %w", err)
	}
	return nil
}

func (m *Manager) fail(span trace.Span, err error) {
	m.diag.Record(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// ValidateConnectCode trims code and checks that it is exactly six digits.
func ValidateConnectCode(code string) (string, error) {
	trimmed := strings.TrimSpace(code)
	if !connectCodePattern.MatchString(trimmed) {
		return "", domain.ErrInvalidConnectCode
	}
	return trimmed, nil
}

func resultErr(r ports.AuthResult) error {
	if r.Err != nil {
		return r.Err
	}
	return domain.ErrorFromStatus(r.StatusCode, fmt.Sprintf("HTTP %d", r.StatusCode))
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
