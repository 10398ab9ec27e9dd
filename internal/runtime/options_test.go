package runtime

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjfontaine/testernest-go/internal/config"
	"github.com/tjfontaine/testernest-go/internal/storage/sqlite"
)

func TestWithConfig(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "session.db")

	tests := []struct {
		name    string
		cfg     *config.Config
		wantErr bool
		check   func(t *testing.T, c *Client)
	}{
		{
			name: "sqlite storage and tuning",
			cfg: &config.Config{
				SDK: config.SDKConfig{
					EnableLogs:    true,
					FlushInterval: 3 * time.Second,
					Threshold:     4,
					BatchSize:     7,
					RetryDelays:   []time.Duration{},
					Timeout:       2 * time.Second,
				},
				Storage: config.StorageConfig{Type: config.StorageSQLite, SQLite: config.SQLiteConfig{Path: dbPath}},
			},
			check: func(t *testing.T, c *Client) {
				if _, ok := c.backend.(*sqlite.Store); !ok {
					t.Errorf("backend = %T, want *sqlite.Store", c.backend)
				}
				if c.interval != 3*time.Second || c.threshold != 4 || c.batchSize != 7 {
					t.Errorf("tuning = %s/%d/%d", c.interval, c.threshold, c.batchSize)
				}
				if c.retryDelays == nil || len(c.retryDelays) != 0 {
					t.Errorf("retryDelays = %v, want empty", c.retryDelays)
				}
				if c.httpClient == nil || c.httpClient.Timeout != 2*time.Second {
					t.Errorf("httpClient = %+v", c.httpClient)
				}
				if !c.enableLogs {
					t.Error("enableLogs = false")
				}
			},
		},
		{
			name: "zero values keep defaults",
			cfg:  &config.Config{},
			check: func(t *testing.T, c *Client) {
				if c.threshold != 10 || c.batchSize != 50 || c.retryDelays != nil {
					t.Errorf("defaults changed: %d/%d/%v", c.threshold, c.batchSize, c.retryDelays)
				}
			},
		},
		{name: "nil config", cfg: nil, wantErr: true},
		{name: "unknown storage", cfg: &config.Config{Storage: config.StorageConfig{Type: "redis"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Client{threshold: 10, batchSize: 50}
			err := WithConfig(tt.cfg)(c)
			if (err != nil) != tt.wantErr {
				t.Fatalf("WithConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if c.backend != nil {
				defer c.backend.Close()
			}
			if tt.check != nil {
				tt.check(t, c)
			}
		})
	}
}

func TestWithConfig_KeepsExplicitLogger(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	c, err := New(WithLogger(logger), WithConfig(&config.Config{}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer c.Close(context.Background())

	if !c.enableLogs {
		t.Error("WithConfig disabled logging enabled by WithLogger")
	}
}

func TestDetectDeviceContext(t *testing.T) {
	dc := DetectDeviceContext()
	if dc.Platform != Platform || dc.DeviceModel == "" || dc.OSVersion == "" {
		t.Errorf("DetectDeviceContext() = %+v", dc)
	}
}
