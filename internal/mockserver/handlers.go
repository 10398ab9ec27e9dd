package mockserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/testernest-go/internal/auth"
	"github.com/tjfontaine/testernest-go/internal/core/domain"
	"github.com/tjfontaine/testernest-go/internal/transport"
)

const maxBodyBytes = 1 << 20

// Error bodies. The SDK matches "Invalid token" to decide on re-bootstrap.
const (
	msgInvalidToken     = "Invalid token"
	msgMissingToken     = "Missing token"
	msgInvalidKey       = "Invalid public key"
	msgInvalidBody      = "Invalid request body"
	msgInvalidCode      = "Only 6-digit code supported"
	msgUnknownCode      = "Unknown connect code"
	msgTokenIssueFailed = "Failed to issue token"
)

type errorBody struct {
	Error string `json:"error"`
}

type batchAccepted struct {
	Accepted int `json:"accepted"`
}

type createCodeRequest struct {
	ConnectCode string `json:"connectCode"`
	TTLSeconds  int64  `json:"ttlSeconds"`
}

type eventsList struct {
	Events []ReceivedEvent `json:"events"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	var req domain.BootstrapRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	keyHash, err := s.keys.Validate(req.PublicKey)
	if err != nil {
		AddLogField(r.Context(), "error", err.Error())
		writeError(w, http.StatusUnauthorized, msgInvalidKey)
		return
	}

	testerID := s.state.Tester(req.TesterID)
	token, expiresIn, err := s.tokens.Issue(testerID, keyHash, false)
	if err != nil {
		s.logger.Error("failed to issue token", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, msgTokenIssueFailed)
		return
	}

	AddLogField(r.Context(), "tester_id", testerID)
	AddLogField(r.Context(), "sdk_version", req.SDKVersion)
	writeJSON(w, http.StatusOK, domain.AuthResponse{
		TesterID:    testerID,
		AccessToken: token,
		IngestURL:   transport.EventsBatchPath,
		ExpiresIn:   &expiresIn,
	})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authorize(w, r)
	if !ok {
		return
	}

	var req domain.ClaimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	code, err := auth.ValidateConnectCode(req.ConnectCode)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidCode)
		return
	}

	cc, ok := s.state.ConsumeConnectCode(code)
	if !ok {
		writeError(w, http.StatusNotFound, msgUnknownCode)
		return
	}

	token, expiresIn, err := s.tokens.Issue(cc.TesterID, claims.KeyHash, true)
	if err != nil {
		s.logger.Error("failed to issue token", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, msgTokenIssueFailed)
		return
	}

	AddLogField(r.Context(), "tester_id", cc.TesterID)
	writeJSON(w, http.StatusOK, domain.AuthResponse{
		TesterID:     cc.TesterID,
		AccessToken:  token,
		IngestURL:    transport.EventsBatchPath,
		ExpiresIn:    &expiresIn,
		SessionToken: uuid.NewString(),
		RefreshToken: uuid.NewString(),
	})
}

func (s *Server) handleEventsBatch(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authorize(w, r)
	if !ok {
		return
	}

	var batch domain.EventBatch
	if err := decodeJSON(w, r, &batch); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	s.state.AddEvents(claims.Subject, batch.Events)
	AddLogField(r.Context(), "tester_id", claims.Subject)
	writeJSON(w, http.StatusOK, batchAccepted{Accepted: len(batch.Events)})
}

func (s *Server) handleCreateConnectCode(w http.ResponseWriter, r *http.Request) {
	var req createCodeRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if req.ConnectCode != "" {
		if _, err := auth.ValidateConnectCode(req.ConnectCode); err != nil {
			writeError(w, http.StatusBadRequest, msgInvalidCode)
			return
		}
	}

	cc, err := s.state.AddConnectCode(req.ConnectCode, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		s.logger.Error("failed to create connect code", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, cc)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, eventsList{Events: s.state.Events()})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	s.tokens.Revoke()
	s.logger.Info("all access tokens revoked")
	w.WriteHeader(http.StatusNoContent)
}

// authorize validates the bearer token, writing the 401 response itself
// when it fails.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (*AccessClaims, bool) {
	raw, err := ExtractBearer(r)
	if err != nil {
		AddLogField(r.Context(), "error", err.Error())
		writeError(w, http.StatusUnauthorized, msgMissingToken)
		return nil, false
	}
	claims, err := s.tokens.Validate(raw)
	if err != nil {
		writeError(w, http.StatusUnauthorized, msgInvalidToken)
		return nil, false
	}
	return claims, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
