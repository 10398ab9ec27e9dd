package flush

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/tjfontaine/testernest-go/internal/auth"
	"github.com/tjfontaine/testernest-go/internal/core/domain"
	"github.com/tjfontaine/testernest-go/internal/core/ports"
	"github.com/tjfontaine/testernest-go/internal/diag"
	"github.com/tjfontaine/testernest-go/internal/queue"
	"github.com/tjfontaine/testernest-go/internal/retry"
	"github.com/tjfontaine/testernest-go/internal/session"
	"github.com/tjfontaine/testernest-go/internal/storage/memory"
	"github.com/tjfontaine/testernest-go/internal/testutil"
)

const baseURL = "https://api.example.test"

type fixture struct {
	queue     *queue.Queue
	session   *session.Store
	transport *testutil.FakeTransport
	diag      *diag.Recorder
	sleeps    int
	flusher   *Orchestrator
}

// newFixture builds an orchestrator over a session that already holds
// accessToken (none when empty).
func newFixture(t *testing.T, accessToken string) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	f := &fixture{
		queue:     queue.New(),
		session:   session.New(memory.New()),
		transport: &testutil.FakeTransport{},
		diag:      diag.NewRecorder(),
	}
	if err := f.session.SaveConfig(ctx, baseURL, "pk_test_123"); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}
	if accessToken != "" {
		resp := &domain.AuthResponse{TesterID: "tester-1", AccessToken: accessToken}
		if err := f.session.StoreAuth(ctx, "pk_test_123", resp, baseURL+"/api/v1/mobile/events/batch", false); err != nil {
			t.Fatalf("StoreAuth() error = %v", err)
		}
	}

	manager := auth.NewManager(f.session, f.transport, auth.WithDiagnostics(f.diag), auth.WithLogger(logger))
	policy := retry.Policy{
		Delays: []time.Duration{1, 1},
		Sleep: func(ctx context.Context, d time.Duration) error {
			f.sleeps++
			return nil
		},
	}
	f.flusher = New(f.queue, f.session, manager, f.transport,
		WithRetryPolicy(policy),
		WithDiagnostics(f.diag),
		WithLogger(logger),
	)
	return f
}

func (f *fixture) enqueue(n int) {
	for i := 0; i < n; i++ {
		f.queue.Enqueue(domain.Event{Name: fmt.Sprintf("event-%d", i), SessionID: "s1"})
	}
}

func TestFlush_EmptyQueueIsNoop(t *testing.T) {
	f := newFixture(t, "")

	sent, err := f.flusher.Flush(context.Background(), ReasonTimer)
	if sent != 0 || err != nil {
		t.Errorf("Flush() = %d, %v, want 0, nil", sent, err)
	}
	if len(f.transport.AuthCalls())+len(f.transport.BatchCalls()) != 0 {
		t.Error("empty queue must not touch the network")
	}
}

func TestFlush_InvalidTokenRecovery(t *testing.T) {
	f := newFixture(t, "bad_token")
	f.enqueue(1)
	f.transport.AuthFunc = func(call testutil.AuthCall) ports.AuthResult {
		return testutil.AuthOK("tester-2", "new_token")
	}
	f.transport.BatchFunc = func(call testutil.BatchCall) ports.BatchResult {
		if call.Bearer == "bad_token" {
			return testutil.BatchFailed(http.StatusUnauthorized, `{"error":"Invalid token"}`)
		}
		return testutil.BatchOK()
	}
	ctx := context.Background()

	sent, err := f.flusher.Flush(ctx, ReasonManual)
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if sent != 1 {
		t.Errorf("sent = %d, want 1", sent)
	}
	if n := len(f.transport.AuthCalls()); n != 1 {
		t.Errorf("bootstrap calls = %d, want 1", n)
	}
	batches := f.transport.BatchCalls()
	if len(batches) != 2 {
		t.Fatalf("batch calls = %d, want 2", len(batches))
	}
	if batches[1].Bearer != "new_token" {
		t.Errorf("retry bearer = %q, want new_token", batches[1].Bearer)
	}
	if batches[1].Events[0].Name != batches[0].Events[0].Name {
		t.Error("retry must resend the same batch")
	}
	if f.queue.Size() != 0 {
		t.Errorf("queue size = %d, want 0", f.queue.Size())
	}
	if tok, _ := f.session.AccessToken(ctx); tok != "new_token" {
		t.Errorf("stored token = %q, want new_token", tok)
	}
	if f.diag.AuthFailures() != 1 {
		t.Errorf("auth failures = %d, want 1", f.diag.AuthFailures())
	}
}

func TestFlush_InvalidTokenRebootstrapFails(t *testing.T) {
	tests := []struct {
		name    string
		auth    ports.AuthResult
		wantErr error
	}{
		{name: "bootstrap error", auth: testutil.AuthFailed(http.StatusInternalServerError, "HTTP 500")},
		{name: "blank token", auth: testutil.AuthOK("tester-2", ""), wantErr: domain.ErrMissingToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "bad_token")
			f.enqueue(1)
			f.transport.AuthFunc = func(call testutil.AuthCall) ports.AuthResult { return tt.auth }
			f.transport.BatchFunc = func(call testutil.BatchCall) ports.BatchResult {
				return testutil.BatchFailed(http.StatusUnauthorized, `{"error":"Invalid token"}`)
			}

			sent, err := f.flusher.Flush(context.Background(), ReasonTimer)
			if err == nil || sent != 0 {
				t.Fatalf("Flush() = %d, %v, want failure", sent, err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Flush() error = %v, want %v", err, tt.wantErr)
			}
			if n := len(f.transport.BatchCalls()); n != 1 {
				t.Errorf("batch calls = %d, want 1", n)
			}
			if f.queue.Size() != 1 {
				t.Errorf("queue size = %d, want 1", f.queue.Size())
			}
			if f.diag.LastError() == "" {
				t.Error("failure should be recorded")
			}
		})
	}
}

func TestFlush_NonInvalidTokenFailuresRetry(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "forbidden", status: http.StatusForbidden, body: `{"error":"Invalid token"}`},
		{name: "unauthorized other body", status: http.StatusUnauthorized, body: `{"error":"Missing header"}`},
		{name: "server error", status: http.StatusInternalServerError, body: ""},
		{name: "network", status: 0, body: "connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "tok")
			f.enqueue(3)
			f.transport.BatchFunc = func(call testutil.BatchCall) ports.BatchResult {
				return testutil.BatchFailed(tt.status, tt.body)
			}

			sent, err := f.flusher.Flush(context.Background(), ReasonTimer)
			if err == nil || sent != 0 {
				t.Fatalf("Flush() = %d, %v, want failure", sent, err)
			}
			// Initial send, then the retry policy's own three attempts.
			if n := len(f.transport.BatchCalls()); n != 4 {
				t.Errorf("batch calls = %d, want 4", n)
			}
			if f.sleeps != 2 {
				t.Errorf("sleeps = %d, want 2", f.sleeps)
			}
			if n := len(f.transport.AuthCalls()); n != 0 {
				t.Errorf("bootstrap calls = %d, want 0", n)
			}
			if f.queue.Size() != 3 {
				t.Errorf("queue size = %d, want 3", f.queue.Size())
			}
		})
	}
}

func TestFlush_TransientFailureRecovers(t *testing.T) {
	f := newFixture(t, "tok")
	f.enqueue(2)
	calls := 0
	f.transport.BatchFunc = func(call testutil.BatchCall) ports.BatchResult {
		calls++
		if calls < 3 {
			return testutil.BatchFailed(http.StatusServiceUnavailable, "")
		}
		return testutil.BatchOK()
	}

	sent, err := f.flusher.Flush(context.Background(), ReasonThreshold)
	if err != nil || sent != 2 {
		t.Fatalf("Flush() = %d, %v, want 2, nil", sent, err)
	}
	if f.queue.Size() != 0 {
		t.Errorf("queue size = %d, want 0", f.queue.Size())
	}
}

func TestFlush_BootstrapsWhenNoToken(t *testing.T) {
	f := newFixture(t, "")
	f.enqueue(1)
	f.transport.AuthFunc = func(call testutil.AuthCall) ports.AuthResult {
		res := testutil.AuthOK("tester-1", "fresh")
		res.Response.IngestURL = "https://ingest.example.test/v2/batch"
		return res
	}

	if _, err := f.flusher.Flush(context.Background(), ReasonInit); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	batches := f.transport.BatchCalls()
	if len(batches) != 1 {
		t.Fatalf("batch calls = %d, want 1", len(batches))
	}
	if batches[0].Endpoint != "https://ingest.example.test/v2/batch" {
		t.Errorf("endpoint = %q, want stored ingest URL", batches[0].Endpoint)
	}
	if batches[0].Bearer != "fresh" {
		t.Errorf("bearer = %q, want fresh", batches[0].Bearer)
	}
}

func TestFlush_BootstrapFailureKeepsQueue(t *testing.T) {
	f := newFixture(t, "")
	f.enqueue(1)
	f.transport.AuthFunc = func(call testutil.AuthCall) ports.AuthResult {
		return testutil.AuthFailed(0, "dial tcp: connection refused")
	}

	if _, err := f.flusher.Flush(context.Background(), ReasonTimer); err == nil {
		t.Fatal("Flush() should fail when bootstrap fails")
	}
	if n := len(f.transport.BatchCalls()); n != 0 {
		t.Errorf("batch calls = %d, want 0", n)
	}
	if f.queue.Size() != 1 {
		t.Errorf("queue size = %d, want 1", f.queue.Size())
	}
}

func TestFlush_SendsBoundedPrefix(t *testing.T) {
	f := newFixture(t, "tok")
	f.enqueue(60)

	sent, err := f.flusher.Flush(context.Background(), ReasonThreshold)
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if sent != DefaultBatchSize {
		t.Errorf("sent = %d, want %d", sent, DefaultBatchSize)
	}
	if f.queue.Size() != 10 {
		t.Errorf("queue size = %d, want 10", f.queue.Size())
	}
	if head := f.queue.PeekBatch(1)[0].Name; head != "event-50" {
		t.Errorf("head = %q, want event-50", head)
	}
}

func TestIsDeferred(t *testing.T) {
	if !IsDeferred(fmt.Errorf("flush: %w", domain.ErrBootstrapInFlight)) {
		t.Error("in-flight bootstrap should be deferred")
	}
	if IsDeferred(domain.ErrMissingConfig) {
		t.Error("missing config is not deferred")
	}
}
