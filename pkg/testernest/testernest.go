// Package testernest provides the public API for embedding the telemetry
// SDK in a Go application. This is the stable API for external consumers.
package testernest

import (
	"github.com/tjfontaine/testernest-go/internal/config"
	"github.com/tjfontaine/testernest-go/internal/core/domain"
	"github.com/tjfontaine/testernest-go/internal/runtime"
)

// Client buffers events and ships them in batches.
// See internal/runtime.Client for full documentation.
type Client = runtime.Client

// Option is a functional option for configuring a Client.
type Option = runtime.Option

// Data types exposed through the Client API.
type (
	DeviceContext = domain.DeviceContext
	DebugSnapshot = domain.DebugSnapshot
	Object        = domain.Object
	Value         = domain.Value
	Kind          = domain.Kind
	Error         = domain.Error
	ErrorKind     = domain.ErrorKind
	Config        = config.Config
)

// New creates a new Client with the given options.
// Example:
//
//	client, err := testernest.New(
//	    testernest.WithSQLite("./testernest.db"),
//	    testernest.WithEnableLogs(true),
//	)
//	if err != nil { ... }
//	defer client.Close(ctx)
//	_ = client.Init(ctx, "pk_live_...", "")
//	client.LogEvent("checkout", map[string]any{"items": 3})
var New = runtime.New

const (
	SDKVersion     = runtime.SDKVersion
	DefaultBaseURL = runtime.DefaultBaseURL
)

// Configuration options
var (
	// Storage
	WithSQLite       = runtime.WithSQLite
	WithMemoryStore  = runtime.WithMemoryStore
	WithSessionStore = runtime.WithSessionStore

	// Transport
	WithHTTPClient = runtime.WithHTTPClient
	WithTransport  = runtime.WithTransport

	// Logging
	WithLogger     = runtime.WithLogger
	WithEnableLogs = runtime.WithEnableLogs

	// Delivery tuning
	WithFlushInterval = runtime.WithFlushInterval
	WithThreshold     = runtime.WithThreshold
	WithBatchSize     = runtime.WithBatchSize
	WithRetryDelays   = runtime.WithRetryDelays

	// Advanced options
	WithDeviceContext = runtime.WithDeviceContext
	WithClock         = runtime.WithClock
	WithConfig        = runtime.WithConfig
)

// LoadConfig reads testernest.yaml (or path) and TESTERNEST_ environment
// overrides for use with WithConfig.
var LoadConfig = config.Load

// Property helpers
var (
	NewObject = domain.NewObject
	ValueOf   = domain.ValueOf
	String    = domain.String
	Int       = domain.Int
	Float     = domain.Float
	Bool      = domain.Bool
)

// Value kinds
const (
	KindNull   = domain.KindNull
	KindBool   = domain.KindBool
	KindNumber = domain.KindNumber
	KindString = domain.KindString
	KindObject = domain.KindObject
	KindList   = domain.KindList
)

// Errors
var (
	ErrMissingConfig      = domain.ErrMissingConfig
	ErrInvalidConnectCode = domain.ErrInvalidConnectCode
	ErrNotInitialized     = runtime.ErrNotInitialized
	ErrClosed             = runtime.ErrClosed
	IsKind                = domain.IsKind
)

// Error kinds
const (
	ErrorKindConfiguration = domain.ErrorKindConfiguration
	ErrorKindValidation    = domain.ErrorKindValidation
	ErrorKindAuth          = domain.ErrorKindAuth
	ErrorKindTransient     = domain.ErrorKindTransient
	ErrorKindConcurrency   = domain.ErrorKindConcurrency
)
