package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tillsync-io/tillsync/internal/crypto"
	"github.com/tillsync-io/tillsync/internal/errors"
	"github.com/tillsync-io/tillsync/internal/logging"
	"github.com/tillsync-io/tillsync/internal/models"
	syncpkg "github.com/tillsync-io/tillsync/internal/sync"
	"github.com/tillsync-io/tillsync/internal/sync/scheduler"
	"github.com/tillsync-io/tillsync/internal/uuid"
)

// writeJSON writes v as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", err, nil)
	}
}

// writeError writes the JSON error body for err with its mapped status.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]interface{}{
		"error": err.Error(),
		"code":  string(errors.CodeOf(err)),
	})
}

// statusFor maps an error code to its HTTP status.
func statusFor(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrNotFound:
		return http.StatusNotFound
	case errors.ErrInvalid, errors.ErrEmptyReceipt:
		return http.StatusBadRequest
	case errors.ErrSyncInProgress, errors.ErrItemInFlight, errors.ErrItemNotFailed, errors.ErrItemTerminal, errors.ErrDuplicate:
		return http.StatusConflict
	case errors.ErrSyncNotConfigured:
		return http.StatusPreconditionFailed
	case errors.ErrQueueFull:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
	})
}

// statusResponse joins the engine snapshot with the scheduler state.
type statusResponse struct {
	syncpkg.Status
	Scheduler scheduler.Status `json:"scheduler"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.orch.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status:    *status,
		Scheduler: s.sched.Status(),
	})
}

func (s *Server) handleCreateReceipt(w http.ResponseWriter, r *http.Request) {
	var receipt models.Receipt
	if err := json.NewDecoder(r.Body).Decode(&receipt); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalid, "invalid request body", err))
		return
	}

	if err := s.orch.SaveSaleReceipt(r.Context(), &receipt); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, &receipt)
}

func (s *Server) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var customer models.Customer
	if err := json.NewDecoder(r.Body).Decode(&customer); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalid, "invalid request body", err))
		return
	}

	if err := s.orch.SaveCustomer(r.Context(), &customer); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, &customer)
}

func (s *Server) handleQueueList(w http.ResponseWriter, r *http.Request) {
	status := models.QueueStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, errors.New(errors.ErrInvalid, "unknown status filter: "+string(status)))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, errors.New(errors.ErrInvalid, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	items, err := s.queue.List(r.Context(), status, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []*models.QueueItem{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleQueueRetry(w http.ResponseWriter, r *http.Request) {
	id := models.UUID(chi.URLParam(r, "id"))
	if err := uuid.Validate(id); err != nil {
		writeError(w, err)
		return
	}
	if err := s.queue.Retry(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"id":     id,
	})
}

func (s *Server) handleQueueRetryAll(w http.ResponseWriter, r *http.Request) {
	count, err := s.queue.RetryAllFailed(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"retried": count,
	})
}

func (s *Server) handleQueueCancel(w http.ResponseWriter, r *http.Request) {
	id := models.UUID(chi.URLParam(r, "id"))
	if err := uuid.Validate(id); err != nil {
		writeError(w, err)
		return
	}
	if err := s.queue.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"id":     id,
	})
}

func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	if s.orch.Syncing() {
		writeError(w, errors.New(errors.ErrSyncInProgress, "sync already in progress"))
		return
	}

	// wait=true runs inline and returns the full result; the default
	// fires the run in the background and returns immediately.
	if r.URL.Query().Get("wait") == "true" {
		result, err := s.orch.RunFullSync(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	go func() {
		if _, err := s.orch.RunFullSync(context.Background()); err != nil && !errors.Is(err, errors.ErrSyncInProgress) {
			logging.Error("Triggered sync failed", err, nil)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status": "started",
	})
}

func (s *Server) handleConnectivityCheck(w http.ResponseWriter, r *http.Request) {
	state := s.monitor.CheckNow(r.Context())
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleGetCredentials(w http.ResponseWriter, r *http.Request) {
	cred, err := s.creds.GetCredential()
	if err != nil {
		if errors.Is(err, errors.ErrSyncNotConfigured) {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"configured": false,
			})
			return
		}
		writeError(w, err)
		return
	}

	// The key and secret never leave the daemon.
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"configured": cred.IsEnabled,
		"base_url":   cred.BaseURL,
	})
}

func (s *Server) handleSetCredentials(w http.ResponseWriter, r *http.Request) {
	var request struct {
		BaseURL   string `json:"base_url"`
		APIKey    string `json:"api_key"`
		APISecret string `json:"api_secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalid, "invalid request body", err))
		return
	}

	if request.BaseURL == "" {
		writeError(w, errors.New(errors.ErrInvalid, "base_url is required"))
		return
	}
	if request.APIKey == "" {
		writeError(w, errors.New(errors.ErrInvalid, "api_key is required"))
		return
	}
	if request.APISecret == "" {
		writeError(w, errors.New(errors.ErrInvalid, "api_secret is required"))
		return
	}

	sealedKey, err := crypto.SealCredential(request.APIKey, s.machineID)
	if err != nil {
		writeError(w, err)
		return
	}
	sealedSecret, err := crypto.SealCredential(request.APISecret, s.machineID)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.creds.SetCredential(&models.Credential{
		BaseURL:            request.BaseURL,
		APIKeyEncrypted:    sealedKey,
		APISecretEncrypted: sealedSecret,
		IsEnabled:          true,
	}); err != nil {
		writeError(w, err)
		return
	}

	// Reconfigure the live client so the change takes effect without a
	// daemon restart.
	s.backend.Configure(request.BaseURL, request.APIKey, request.APISecret)
	logging.Info("Backend credentials updated", map[string]interface{}{
		"base_url": request.BaseURL,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "success",
		"base_url": request.BaseURL,
	})
}
