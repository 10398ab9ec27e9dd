package runtime

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tjfontaine/testernest-go/internal/config"
	"github.com/tjfontaine/testernest-go/internal/core/domain"
	"github.com/tjfontaine/testernest-go/internal/core/ports"
	"github.com/tjfontaine/testernest-go/internal/storage/memory"
	"github.com/tjfontaine/testernest-go/internal/storage/sqlite"
)

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithSQLite persists the session in a SQLite database at path.
func WithSQLite(path string) Option {
	return func(c *Client) error {
		store, err := sqlite.New(path)
		if err != nil {
			return fmt.Errorf("create sqlite session store: %w", err)
		}
		c.backend = store
		return nil
	}
}

// WithMemoryStore keeps the session in memory only (default).
func WithMemoryStore() Option {
	return func(c *Client) error {
		c.backend = memory.New()
		return nil
	}
}

// WithSessionStore uses a custom session backend.
func WithSessionStore(store ports.SessionStore) Option {
	return func(c *Client) error {
		if store == nil {
			return fmt.Errorf("session store is nil")
		}
		c.backend = store
		return nil
	}
}

// WithTransport replaces the HTTP transport.
func WithTransport(t ports.Transport) Option {
	return func(c *Client) error {
		if t == nil {
			return fmt.Errorf("transport is nil")
		}
		c.transport = t
		return nil
	}
}

// WithHTTPClient sets the HTTP client used by the default transport.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = httpClient
		return nil
	}
}

// WithLogger sets the logger and enables SDK logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		c.enableLogs = true
		return nil
	}
}

// WithEnableLogs turns SDK logging on or off. Logging is off by default.
func WithEnableLogs(enabled bool) Option {
	return func(c *Client) error {
		c.enableLogs = enabled
		return nil
	}
}

// WithDeviceContext overrides the detected device context.
func WithDeviceContext(device domain.DeviceContext) Option {
	return func(c *Client) error {
		c.device = &device
		return nil
	}
}

// WithFlushInterval sets the period of the timer-driven flush.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("flush interval must be positive, got %s", d)
		}
		c.interval = d
		return nil
	}
}

// WithThreshold sets the queue length that triggers an immediate flush.
func WithThreshold(n int) Option {
	return func(c *Client) error {
		if n <= 0 {
			return fmt.Errorf("threshold must be positive, got %d", n)
		}
		c.threshold = n
		return nil
	}
}

// WithBatchSize sets the maximum number of events sent per flush.
func WithBatchSize(n int) Option {
	return func(c *Client) error {
		if n <= 0 {
			return fmt.Errorf("batch size must be positive, got %d", n)
		}
		c.batchSize = n
		return nil
	}
}

// WithRetryDelays sets the waits between send attempts. No delays disables
// retries.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(c *Client) error {
		c.retryDelays = append([]time.Duration{}, delays...)
		return nil
	}
}

// WithClock sets the time source for event and session timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) error {
		c.now = now
		return nil
	}
}

// WithConfig applies the sdk and storage sections of a loaded config.
// sdk.enable_logs can turn logging on but never off, so it does not undo an
// earlier WithLogger or WithEnableLogs(true).
func WithConfig(cfg *config.Config) Option {
	return func(c *Client) error {
		if cfg == nil {
			return fmt.Errorf("config is nil")
		}
		c.enableLogs = c.enableLogs || cfg.SDK.EnableLogs
		if cfg.SDK.FlushInterval > 0 {
			c.interval = cfg.SDK.FlushInterval
		}
		if cfg.SDK.Threshold > 0 {
			c.threshold = cfg.SDK.Threshold
		}
		if cfg.SDK.BatchSize > 0 {
			c.batchSize = cfg.SDK.BatchSize
		}
		if cfg.SDK.RetryDelays != nil {
			c.retryDelays = append([]time.Duration{}, cfg.SDK.RetryDelays...)
		}
		if cfg.SDK.Timeout > 0 {
			c.httpClient = newHTTPClient(cfg.SDK.Timeout)
		}

		switch cfg.Storage.Type {
		case "", config.StorageMemory:
			return WithMemoryStore()(c)
		case config.StorageSQLite:
			return WithSQLite(cfg.Storage.SQLite.Path)(c)
		default:
			return fmt.Errorf("unsupported storage type %q", cfg.Storage.Type)
		}
	}
}
