// Package flush drains the event queue to the ingest service, recovering
// from expired tokens and retrying transient failures.
package flush

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/testernest-go/internal/core/domain"
	"github.com/tjfontaine/testernest-go/internal/core/ports"
	"github.com/tjfontaine/testernest-go/internal/diag"
	"github.com/tjfontaine/testernest-go/internal/queue"
	"github.com/tjfontaine/testernest-go/internal/retry"
	"github.com/tjfontaine/testernest-go/internal/session"
	"github.com/tjfontaine/testernest-go/internal/transport"
)

// DefaultBatchSize is the maximum number of events sent per flush.
const DefaultBatchSize = 50

// Flush reasons, used for logging and tracing only.
const (
	ReasonInit       = "init"
	ReasonTimer      = "timer"
	ReasonThreshold  = "threshold"
	ReasonManual     = "manual"
	ReasonClaim      = "claim"
	ReasonBackground = "background"
)

// Authenticator is the part of the bootstrap manager the orchestrator needs.
type Authenticator interface {
	EnsureBootstrapped(ctx context.Context, force bool) error
	InvalidateToken(ctx context.Context, bodyExcerpt string) (int, error)
}

// Orchestrator sends one batch per Flush call. Events leave the queue only
// after the service acknowledged the batch that carried them.
type Orchestrator struct {
	queue     *queue.Queue
	session   *session.Store
	auth      Authenticator
	transport ports.Transport
	retry     retry.Policy
	batchSize int
	diag      *diag.Recorder
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBatchSize caps the number of events per batch.
func WithBatchSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithRetryPolicy sets the policy applied to non-auth send failures.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *Orchestrator) {
		o.retry = p
	}
}

// WithDiagnostics sets the last-error recorder.
func WithDiagnostics(r *diag.Recorder) Option {
	return func(o *Orchestrator) {
		o.diag = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates a flush orchestrator.
func New(q *queue.Queue, s *session.Store, a Authenticator, t ports.Transport, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		queue:     q,
		session:   s,
		auth:      a,
		transport: t,
		retry:     retry.New(),
		batchSize: DefaultBatchSize,
		diag:      diag.NewRecorder(),
		logger:    slog.Default(),
		tracer:    otel.Tracer("github.com/tjfontaine/testernest-go/internal/flush"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Flush sends the head of the queue and returns how many events were
// delivered. An empty queue is a no-op.
func (o *Orchestrator) Flush(ctx context.Context, reason string) (int, error) {
	if o.queue.Size() == 0 {
		return 0, nil
	}

	ctx, span := o.tracer.Start(ctx, "testernest.flush", trace.WithAttributes(attribute.String("flush.reason", reason)))
	defer span.End()

	if err := o.auth.EnsureBootstrapped(ctx, false); err != nil {
		o.logger.Debug("flush deferred", slog.String("reason", reason), slog.String("error", err.Error()))
		return 0, err
	}

	st, err := o.session.State(ctx)
	if err != nil {
		return 0, o.fail(span, err)
	}
	if strings.TrimSpace(st.AccessToken) == "" {
		return 0, o.fail(span, domain.ErrMissingToken)
	}
	ingest := st.IngestURL
	if strings.TrimSpace(ingest) == "" {
		ingest = transport.EventsBatchPath
	}
	ingest = transport.ResolveURL(st.BaseURL, ingest)

	batch := o.queue.PeekBatch(o.batchSize)
	if len(batch) == 0 {
		return 0, nil
	}
	span.SetAttributes(attribute.Int("flush.batch_size", len(batch)))

	result := o.send(ctx, reason, ingest, batch, st.AccessToken)
	var sendErr error

	switch {
	case isInvalidToken(result):
		o.logger.Info("batch rejected with invalid token; re-bootstrapping before retry")
		if _, err := o.auth.InvalidateToken(ctx, result.BodyExcerpt); err != nil {
			return 0, o.fail(span, err)
		}
		if err := o.auth.EnsureBootstrapped(ctx, true); err != nil {
			o.logger.Info("bootstrap failed; keeping queue for retry")
			sendErr = fmt.Errorf("re-bootstrap after invalid token failed: %w", err)
			break
		}
		token, err := o.session.AccessToken(ctx)
		if err != nil {
			return 0, o.fail(span, err)
		}
		if strings.TrimSpace(token) == "" {
			o.logger.Info("batch retry aborted: missing new access token")
			sendErr = domain.ErrMissingToken
			break
		}
		result = o.send(ctx, reason, ingest, batch, token)
		if result.Success {
			o.logger.Info("batch retry succeeded")
		} else {
			o.logger.Info("batch retry failed", slog.Int("status", result.StatusCode))
		}

	case !result.Success:
		result = retry.Do(ctx, o.retry, func(ctx context.Context) ports.BatchResult {
			return o.send(ctx, reason, ingest, batch, st.AccessToken)
		}, func(r ports.BatchResult) bool {
			return r.Success
		})
	}

	if sendErr == nil && result.Success {
		o.queue.RemoveFront(len(batch))
		return len(batch), nil
	}
	if sendErr == nil {
		sendErr = batchErr(result)
	}
	return 0, o.fail(span, sendErr)
}

func (o *Orchestrator) send(ctx context.Context, reason, url string, batch []domain.Event, token string) ports.BatchResult {
	o.logger.Info("batch ->",
		slog.String("url", url),
		slog.String("reason", reason),
		slog.Int("count", len(batch)),
	)
	result := o.transport.SendEventBatch(ctx, url, batch, token)

	remaining := o.queue.Size()
	if result.Success {
		remaining = max(remaining-len(batch), 0)
	}
	o.logger.Info("batch <-", slog.Int("status", result.StatusCode), slog.Int("remaining_queue", remaining))
	if !result.Success {
		o.logger.Error("batch failed",
			slog.Int("status", result.StatusCode),
			slog.String("body", result.BodyExcerpt),
		)
	}
	return result
}

func (o *Orchestrator) fail(span trace.Span, err error) error {
	o.diag.Record(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// isInvalidToken matches only a 401 whose body names an invalid token. A
// 403, or a 401 with any other body, is handled as a transient failure.
func isInvalidToken(r ports.BatchResult) bool {
	return r.StatusCode == http.StatusUnauthorized &&
		strings.Contains(strings.ToLower(r.BodyExcerpt), "invalid token")
}

func batchErr(r ports.BatchResult) error {
	if r.Err != nil {
		return r.Err
	}
	return domain.ErrorFromStatus(r.StatusCode, fmt.Sprintf("HTTP %d", r.StatusCode))
}

// IsDeferred reports whether err only means "try again on the next cycle"
// rather than a delivery failure.
func IsDeferred(err error) bool {
	return errors.Is(err, domain.ErrBootstrapInFlight)
}
