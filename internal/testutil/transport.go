package testutil

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/tjfontaine/testernest-go/internal/core/domain"
	"github.com/tjfontaine/testernest-go/internal/core/ports"
)

// AuthCall records one SendAuth invocation.
type AuthCall struct {
	Endpoint string
	Body     any
	Bearer   string
}

// BatchCall records one SendEventBatch invocation.
type BatchCall struct {
	Endpoint string
	Events   []domain.Event
	Bearer   string
}

// FakeTransport is a scripted ports.Transport. Without a script, auth
// exchanges fail with status 0 and batches succeed.
type FakeTransport struct {
	mu         sync.Mutex
	AuthFunc   func(call AuthCall) ports.AuthResult
	BatchFunc  func(call BatchCall) ports.BatchResult
	authCalls  []AuthCall
	batchCalls []BatchCall
}

var _ ports.Transport = (*FakeTransport)(nil)

func (f *FakeTransport) SendAuth(ctx context.Context, endpoint string, body any, bearer string) ports.AuthResult {
	call := AuthCall{Endpoint: endpoint, Body: body, Bearer: bearer}
	f.mu.Lock()
	f.authCalls = append(f.authCalls, call)
	fn := f.AuthFunc
	f.mu.Unlock()

	if fn == nil {
		return AuthFailed(0, "no auth script")
	}
	return fn(call)
}

func (f *FakeTransport) SendEventBatch(ctx context.Context, endpoint string, events []domain.Event, bearer string) ports.BatchResult {
	call := BatchCall{Endpoint: endpoint, Events: append([]domain.Event(nil), events...), Bearer: bearer}
	f.mu.Lock()
	f.batchCalls = append(f.batchCalls, call)
	fn := f.BatchFunc
	f.mu.Unlock()

	if fn == nil {
		return BatchOK()
	}
	return fn(call)
}

// AuthCalls returns a copy of the recorded auth calls.
func (f *FakeTransport) AuthCalls() []AuthCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]AuthCall(nil), f.authCalls...)
}

// BatchCalls returns a copy of the recorded batch calls.
func (f *FakeTransport) BatchCalls() []BatchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]BatchCall(nil), f.batchCalls...)
}

// AuthOK is a successful auth result.
func AuthOK(testerID, accessToken string) ports.AuthResult {
	return ports.AuthResult{
		Success:    true,
		StatusCode: http.StatusOK,
		Response:   &domain.AuthResponse{TesterID: testerID, AccessToken: accessToken},
	}
}

// AuthFailed is a failed auth result with the given status.
func AuthFailed(status int, msg string) ports.AuthResult {
	return ports.AuthResult{
		StatusCode:  status,
		Err:         domain.ErrorFromStatus(status, msg),
		BodyExcerpt: msg,
	}
}

// BatchOK is a successful batch result.
func BatchOK() ports.BatchResult {
	return ports.BatchResult{Success: true, StatusCode: http.StatusOK}
}

// BatchFailed is a failed batch result classified the way the HTTP
// transport classifies status codes.
func BatchFailed(status int, body string) ports.BatchResult {
	return ports.BatchResult{
		IsAuthError: status == http.StatusUnauthorized || status == http.StatusForbidden,
		StatusCode:  status,
		Err:         domain.ErrorFromStatus(status, fmt.Sprintf("HTTP %d", status)),
		BodyExcerpt: body,
	}
}
