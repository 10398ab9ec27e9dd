// Package diag records the most recent SDK failure for the debug snapshot.
package diag

import (
	"sync"

	"github.com/tjfontaine/testernest-go/internal/redact"
)

// Recorder holds the last error message. Messages are redacted on the way
// in so the snapshot never carries secrets.
type Recorder struct {
	mu      sync.RWMutex
	last    string
	authErr int
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record stores err as the last error. A nil error is ignored.
func (r *Recorder) Record(err error) {
	if err == nil {
		return
	}
	r.RecordMessage(err.Error())
}

// RecordMessage stores msg as the last error.
func (r *Recorder) RecordMessage(msg string) {
	if msg == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = redact.String(msg)
}

// LastError returns the last recorded message, empty if none.
func (r *Recorder) LastError() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// AuthFailure increments and returns the auth failure counter.
func (r *Recorder) AuthFailure() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.authErr++
	return r.authErr
}

// AuthFailures returns the number of invalid-token responses seen.
func (r *Recorder) AuthFailures() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.authErr
}
