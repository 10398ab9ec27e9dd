// Package runtime provides the Client handle and its lifecycle: it wires the
// session store, event queue, transport, bootstrap manager, flush
// orchestrator and worker together.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/testernest-go/internal/auth"
	"github.com/tjfontaine/testernest-go/internal/core/domain"
	"github.com/tjfontaine/testernest-go/internal/core/ports"
	"github.com/tjfontaine/testernest-go/internal/diag"
	"github.com/tjfontaine/testernest-go/internal/flush"
	"github.com/tjfontaine/testernest-go/internal/queue"
	"github.com/tjfontaine/testernest-go/internal/redact"
	"github.com/tjfontaine/testernest-go/internal/retry"
	"github.com/tjfontaine/testernest-go/internal/scheduler"
	"github.com/tjfontaine/testernest-go/internal/session"
	"github.com/tjfontaine/testernest-go/internal/storage/memory"
	"github.com/tjfontaine/testernest-go/internal/transport"
)

const (
	// SDKVersion is sent with every bootstrap request.
	SDKVersion = "0.1.2-go"

	// DefaultBaseURL is used when Init is given a blank base URL.
	DefaultBaseURL = "https://myappcrew-tw.pages.dev"
)

// Lifecycle event names.
const (
	EventAppOpen       = "app_open"
	EventAppForeground = "app_foreground"
	EventAppBackground = "app_background"
	EventScreenView    = "screen_view"
)

var (
	// ErrNotInitialized is returned by synchronous operations called before Init.
	ErrNotInitialized = domain.NewError(domain.ErrorKindConfiguration, "client not initialized")

	// ErrClosed is returned for operations on a closed client.
	ErrClosed = domain.NewError(domain.ErrorKindConfiguration, "client closed")
)

// Client buffers events and delivers them in batches. All network work runs
// on a single worker goroutine; the public methods never block on I/O
// except the ones taking a context.
type Client struct {
	// Dependencies (injected via options)
	backend     ports.SessionStore
	transport   ports.Transport
	httpClient  *http.Client
	logger      *slog.Logger
	enableLogs  bool
	device      *domain.DeviceContext
	interval    time.Duration
	threshold   int
	batchSize   int
	retryDelays []time.Duration
	now         func() time.Time

	// Components
	session   *session.Store
	queue     *queue.Queue
	auth      *auth.Manager
	flusher   *flush.Orchestrator
	scheduler *scheduler.Scheduler
	diag      *diag.Recorder
	sessionID string

	initialized atomic.Bool

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
	screen string
	closed bool
}

// New creates a Client with the given options. Nothing runs until Init.
func New(opts ...Option) (*Client, error) {
	c := &Client{
		logger:    slog.Default(),
		interval:  scheduler.DefaultInterval,
		threshold: scheduler.DefaultThreshold,
		batchSize: flush.DefaultBatchSize,
		now:       time.Now,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			if c.backend != nil {
				_ = c.backend.Close()
			}
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if c.enableLogs {
		c.logger = slog.New(redact.NewHandler(c.logger.Handler()))
	} else {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.backend == nil {
		c.backend = memory.New()
	}
	if c.transport == nil {
		topts := []transport.ClientOption{
			transport.WithUserAgent(transport.DefaultUserAgent + "/" + SDKVersion),
			transport.WithLogger(c.logger),
		}
		if c.httpClient != nil {
			topts = append(topts, transport.WithHTTPClient(c.httpClient))
		}
		c.transport = transport.NewClient(topts...)
	}
	if c.device == nil {
		device := DetectDeviceContext()
		c.device = &device
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.sessionID = uuid.NewString()
	c.diag = diag.NewRecorder()
	c.queue = queue.New()
	c.session = session.New(c.backend, session.WithClock(c.now))
	c.auth = auth.NewManager(c.session, c.transport,
		auth.WithLogger(c.logger),
		auth.WithDeviceContext(*c.device),
		auth.WithSDKVersion(SDKVersion),
		auth.WithDiagnostics(c.diag),
		auth.WithClock(c.now),
	)
	c.flusher = flush.New(c.queue, c.session, c.auth, c.transport,
		flush.WithBatchSize(c.batchSize),
		flush.WithRetryPolicy(retry.New(c.retryDelays...)),
		flush.WithDiagnostics(c.diag),
		flush.WithLogger(c.logger),
	)
	c.scheduler = scheduler.New(
		scheduler.WithInterval(c.interval),
		scheduler.WithLogger(c.logger),
	)

	return c, nil
}

// Init saves the configuration, starts the worker and queues the initial
// bootstrap, the app_open event and an init flush. It may be called again
// to change the configuration.
func (c *Client) Init(ctx context.Context, publicKey, baseURL string) error {
	if c.isClosed() {
		return ErrClosed
	}
	publicKey = strings.TrimSpace(publicKey)
	if publicKey == "" {
		c.diag.Record(domain.ErrMissingConfig)
		return domain.ErrMissingConfig
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	if err := c.session.SaveConfig(ctx, baseURL, publicKey); err != nil {
		c.diag.Record(err)
		return fmt.Errorf("save config: %w", err)
	}
	c.initialized.Store(true)

	if c.scheduler.Start(c.ctx, c.tick) {
		c.logger.Info("scheduler started", slog.Duration("interval", c.interval))
	}
	c.logger.Info("initialized", slog.String("base_url", baseURL), slog.String("sdk_version", SDKVersion))

	c.scheduler.Submit(func(ctx context.Context) {
		if err := c.auth.EnsureBootstrapped(ctx, false); err != nil {
			c.logger.Info("initial bootstrap failed", slog.String("error", err.Error()))
		}
		c.LogEvent(EventAppOpen, nil)
		c.flush(ctx, flush.ReasonInit)
	})
	return nil
}

// IsInitialized reports whether Init has succeeded.
func (c *Client) IsInitialized() bool {
	return c.initialized.Load()
}

// LogEvent enqueues an event. Map properties are ordered by key.
func (c *Client) LogEvent(name string, properties map[string]any) {
	c.LogEventObject(name, domain.ObjectFromMap(properties))
}

// LogEventObject enqueues an event whose properties keep their insertion
// order.
func (c *Client) LogEventObject(name string, properties *domain.Object) {
	testerID, err := c.session.Get(c.ctx, session.KeyTesterID)
	if err != nil {
		c.logger.Debug("tester id unavailable", slog.String("error", err.Error()))
	}

	event := domain.Event{
		Name:          name,
		Timestamp:     c.now().Unix(),
		SessionID:     c.sessionID,
		TesterID:      testerID,
		Screen:        c.currentScreen(),
		Properties:    properties,
		DeviceContext: *c.device,
	}

	size := c.queue.Enqueue(event)
	if size >= c.threshold && c.scheduler.Started() {
		c.scheduler.Kick(func(ctx context.Context) {
			c.flush(ctx, flush.ReasonThreshold)
		})
	}
}

// FlushNow requests a flush on the worker and returns immediately.
func (c *Client) FlushNow() {
	c.submit(func(ctx context.Context) {
		c.flush(ctx, flush.ReasonManual)
	})
}

// Flush runs a flush on the worker and waits for it. It returns the number
// of events delivered.
func (c *Client) Flush(ctx context.Context) (int, error) {
	if !c.IsInitialized() {
		return 0, ErrNotInitialized
	}
	var (
		n   int
		err error
	)
	if doErr := c.scheduler.Do(ctx, func(ctx context.Context) {
		n, err = c.flusher.Flush(ctx, flush.ReasonManual)
	}); doErr != nil {
		return 0, doErr
	}
	return n, err
}

// SetCurrentScreen sets the screen attached to subsequent events. An empty
// screen clears it.
func (c *Client) SetCurrentScreen(screen string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.screen = screen
}

func (c *Client) currentScreen() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.screen
}

// ConnectTester validates a six digit code and claims it on the worker.
// Only validation errors are returned; claim failures are recorded in the
// debug snapshot.
func (c *Client) ConnectTester(code string) error {
	trimmed, err := auth.ValidateConnectCode(code)
	if err != nil {
		c.diag.Record(err)
		c.logger.Error("claim failed", slog.String("error", err.Error()))
		return err
	}
	c.submit(func(ctx context.Context) {
		_ = c.connect(ctx, trimmed)
	})
	return nil
}

// Connect claims code on the worker and waits for the result.
func (c *Client) Connect(ctx context.Context, code string) error {
	trimmed, err := auth.ValidateConnectCode(code)
	if err != nil {
		c.diag.Record(err)
		return err
	}
	if !c.IsInitialized() {
		return ErrNotInitialized
	}
	var claimErr error
	if err := c.scheduler.Do(ctx, func(ctx context.Context) {
		claimErr = c.connect(ctx, trimmed)
	}); err != nil {
		return err
	}
	return claimErr
}

func (c *Client) connect(ctx context.Context, code string) error {
	if err := c.auth.Claim(ctx, code); err != nil {
		return err
	}
	c.logger.Info("tester connected")
	c.flush(ctx, flush.ReasonClaim)
	return nil
}

// ConnectFromText accepts a bare six digit code or a connect URL. The code
// is taken from the connectCode, code or connect query parameter, falling
// back to the last path segment. A publicKey parameter, or a non-empty
// publicKeyOverride, replaces the stored public key first.
func (c *Client) ConnectFromText(input, publicKeyOverride string) error {
	code, publicKey := parseConnectText(input, publicKeyOverride)
	if publicKey != "" {
		if err := c.UpdatePublicKey(publicKey); err != nil {
			return err
		}
	}
	return c.ConnectTester(code)
}

// ConnectText is the synchronous form of ConnectFromText.
func (c *Client) ConnectText(ctx context.Context, input, publicKeyOverride string) error {
	code, publicKey := parseConnectText(input, publicKeyOverride)
	if publicKey != "" {
		if err := c.UpdatePublicKey(publicKey); err != nil {
			return err
		}
	}
	return c.Connect(ctx, code)
}

// parseConnectText extracts the connect code candidate and an optional
// public key from a bare code or a connect URL.
func parseConnectText(input, publicKeyOverride string) (code, publicKey string) {
	trimmed := strings.TrimSpace(input)
	isURL := strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://")
	if !isURL {
		return trimmed, strings.TrimSpace(publicKeyOverride)
	}

	params := transport.QueryParams(trimmed)
	publicKey = firstNonBlank(publicKeyOverride, params["publicKey"])
	code = firstNonBlank(params["connectCode"], params["code"], params["connect"])
	if _, err := auth.ValidateConnectCode(code); err != nil {
		code = transport.LastPathSegment(trimmed)
	}
	return code, publicKey
}

// DisconnectTester forgets the connected tester and re-bootstraps an
// anonymous session on the worker.
func (c *Client) DisconnectTester() {
	c.submit(func(ctx context.Context) {
		if err := c.auth.Disconnect(ctx); err != nil {
			c.logger.Info("re-bootstrap after disconnect failed", slog.String("error", err.Error()))
		}
	})
}

// Disconnect is the synchronous form of DisconnectTester.
func (c *Client) Disconnect(ctx context.Context) error {
	if !c.IsInitialized() {
		return ErrNotInitialized
	}
	var disconnectErr error
	if err := c.scheduler.Do(ctx, func(ctx context.Context) {
		disconnectErr = c.auth.Disconnect(ctx)
	}); err != nil {
		return err
	}
	return disconnectErr
}

// IsTesterConnected reports whether a tester claim is stored.
func (c *Client) IsTesterConnected() bool {
	st, err := c.session.State(c.ctx)
	if err != nil {
		return false
	}
	return st.Connected
}

// DebugSnapshot returns diagnostic state that is safe to show to users.
func (c *Client) DebugSnapshot() domain.DebugSnapshot {
	snap := domain.DebugSnapshot{
		QueueLength: c.queue.Size(),
		LastError:   c.diag.LastError(),
	}
	st, err := c.session.State(c.ctx)
	if err != nil {
		return snap
	}
	snap.BaseURL = st.BaseURL
	snap.PublicKeyPresent = strings.TrimSpace(st.PublicKey) != ""
	snap.TesterIDPrefix = prefix(st.TesterID, 6)
	return snap
}

// UpdatePublicKey stores a new public key. Tokens issued for the previous
// key are discarded.
func (c *Client) UpdatePublicKey(publicKey string) error {
	publicKey = strings.TrimSpace(publicKey)
	if publicKey == "" {
		return domain.ErrMissingConfig
	}
	if err := c.session.SetPublicKey(c.ctx, publicKey); err != nil {
		c.diag.Record(err)
		return fmt.Errorf("update public key: %w", err)
	}
	return nil
}

// UpdateBaseURL stores a new service base URL.
func (c *Client) UpdateBaseURL(baseURL string) error {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return domain.ErrMissingConfig
	}
	if err := c.session.SetBaseURL(c.ctx, baseURL); err != nil {
		c.diag.Record(err)
		return fmt.Errorf("update base url: %w", err)
	}
	return nil
}

// OnForeground records that the host application came to the foreground.
func (c *Client) OnForeground() {
	c.LogEvent(EventAppForeground, nil)
}

// OnBackground records that the host application went to the background
// and flushes.
func (c *Client) OnBackground() {
	c.LogEvent(EventAppBackground, nil)
	c.submit(func(ctx context.Context) {
		c.flush(ctx, flush.ReasonBackground)
	})
}

// OnScreenView sets the current screen and records a screen_view event.
func (c *Client) OnScreenView(screen string) {
	c.SetCurrentScreen(screen)
	c.LogEventObject(EventScreenView, domain.NewObject().Set("screen", domain.String(screen)))
}

// ShouldOfferConnectPrompt reports whether the host should offer the
// connect prompt: the client is initialized, no tester is connected and the
// prompt has not been shown before.
func (c *Client) ShouldOfferConnectPrompt() bool {
	if !c.IsInitialized() || c.IsTesterConnected() {
		return false
	}
	shown, err := c.session.AutoPromptShown(c.ctx)
	return err == nil && !shown
}

// MarkConnectPromptShown records that the connect prompt was shown.
func (c *Client) MarkConnectPromptShown() error {
	if err := c.session.MarkAutoPromptShown(c.ctx); err != nil {
		return fmt.Errorf("mark connect prompt shown: %w", err)
	}
	return nil
}

// Close stops the worker and releases the session store. Queued events that
// were not delivered are dropped.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.logger.Info("shutting down client", slog.Int("pending_events", c.queue.Size()))

	if err := c.scheduler.Stop(ctx); err != nil {
		c.logger.Error("failed to stop scheduler", slog.String("error", err.Error()))
	}
	c.cancel()

	if err := c.session.Close(); err != nil {
		c.logger.Error("failed to close session store", slog.String("error", err.Error()))
		return fmt.Errorf("close session store: %w", err)
	}
	return nil
}

func (c *Client) tick(ctx context.Context) {
	c.flush(ctx, flush.ReasonTimer)
}

func (c *Client) flush(ctx context.Context, reason string) {
	n, err := c.flusher.Flush(ctx, reason)
	switch {
	case err == nil:
		if n > 0 {
			c.logger.Debug("flush complete", slog.String("reason", reason), slog.Int("count", n))
		}
	case flush.IsDeferred(err):
		c.logger.Debug("flush deferred", slog.String("reason", reason))
	default:
		c.logger.Info("flush failed", slog.String("reason", reason), slog.String("error", err.Error()))
	}
}

func (c *Client) submit(fn scheduler.Task) {
	if !c.scheduler.Submit(fn) {
		c.logger.Debug("task dropped: client closed")
	}
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func prefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
