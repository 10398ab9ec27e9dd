package ports

import (
	"context"

	"github.com/tjfontaine/testernest-go/internal/core/domain"
)

// AuthResult is the outcome of a bootstrap or claim exchange.
type AuthResult struct {
	Success     bool
	Response    *domain.AuthResponse
	StatusCode  int
	Err         error
	BodyExcerpt string
}

// BatchResult is the outcome of a batch ingest exchange.
type BatchResult struct {
	Success     bool
	IsAuthError bool
	StatusCode  int
	Err         error
	BodyExcerpt string
}

// Transport performs the SDK's HTTP exchanges. It never retries and never
// returns transport failures as panics; every outcome is a result value.
type Transport interface {
	// SendAuth posts a single auth request body. bearer may be empty.
	SendAuth(ctx context.Context, endpoint string, body any, bearer string) AuthResult

	// SendEventBatch posts events as one batch.
	SendEventBatch(ctx context.Context, endpoint string, events []domain.Event, bearer string) BatchResult
}
