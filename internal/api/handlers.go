package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yegors/voice-commander/internal/audio"
	"github.com/yegors/voice-commander/internal/config"
	"github.com/yegors/voice-commander/internal/pipeline"
	"github.com/yegors/voice-commander/internal/settings"
	"github.com/yegors/voice-commander/internal/storage/sqlite"
	"github.com/yegors/voice-commander/pkg/logger"
)

// Pipeline is the controller surface exposed over HTTP
type Pipeline interface {
	Start(audio pipeline.AudioBuffer) (pipeline.TransactionID, error)
	Cancel(id pipeline.TransactionID) error
	Active() (pipeline.TransactionInfo, bool)
	Subscribe() *pipeline.Subscription
}

// SettingsStore reads and updates the delivery settings
type SettingsStore interface {
	Snapshot() pipeline.Snapshot
	Update(mutate func(*pipeline.Snapshot)) error
}

// HistoryStore queries finished commands
type HistoryStore interface {
	GetRecentCommands(limit int) ([]*sqlite.CommandRecord, error)
	GetCommandsByState(state string, limit int) ([]*sqlite.CommandRecord, error)
}

// Handler serves the HTTP API
type Handler struct {
	pipeline Pipeline
	settings SettingsStore
	history  HistoryStore // nil when storage is disabled
	config   *config.Config
	logger   *logger.Logger
	started  time.Time
}

// NewHandler creates a new API handler
func NewHandler(p Pipeline, s SettingsStore, history HistoryStore, config *config.Config, log *logger.Logger) *Handler {
	return &Handler{
		pipeline: p,
		settings: s,
		history:  history,
		config:   config,
		logger:   log.Named("api-handler"),
		started:  time.Now(),
	}
}

// StartCommandResponse is returned when a transaction was accepted
type StartCommandResponse struct {
	ID pipeline.TransactionID `json:"id"`
}

// ActiveCommandResponse describes the in-flight transaction, if any
type ActiveCommandResponse struct {
	Active      bool                      `json:"active"`
	Transaction *pipeline.TransactionInfo `json:"transaction,omitempty"`
}

// SettingsUpdate changes any subset of the delivery settings
type SettingsUpdate struct {
	EndpointURL  *string `json:"endpoint_url"`
	SendCommands *bool   `json:"send_commands"`
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// StartCommand accepts one recorded utterance. The body is raw 16-bit mono
// PCM (sample_rate query parameter, default 16000) or a WAV file when the
// content type is audio/wav.
func (h *Handler) StartCommand(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(h.config.Server.MaxUploadMB) << 20
	body := http.MaxBytesReader(w, r.Body, maxBytes)

	buf, err := h.readAudio(body, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, http.StatusRequestEntityTooLarge, "", fmt.Sprintf("audio exceeds %d MB", h.config.Server.MaxUploadMB))
			return
		}
		h.writeError(w, r, http.StatusBadRequest, "", err.Error())
		return
	}

	id, err := h.pipeline.Start(buf)
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		h.writeError(w, r, http.StatusConflict, string(pipeline.KindBusy), "a command is already being processed")
		return
	case errors.Is(err, pipeline.ErrClosed):
		h.writeError(w, r, http.StatusServiceUnavailable, "", "pipeline is shutting down")
		return
	case err != nil:
		h.writeError(w, r, http.StatusBadRequest, "", err.Error())
		return
	}

	h.logger.Info("Command accepted",
		logger.Uint64("transaction_id", uint64(id)),
		logger.Duration("audio", buf.Duration()))
	h.writeJSON(w, http.StatusAccepted, StartCommandResponse{ID: id})
}

func (h *Handler) readAudio(body io.Reader, r *http.Request) (pipeline.AudioBuffer, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "audio/wav" || mediaType == "audio/x-wav" || mediaType == "audio/wave" {
		return audio.SubmitWAV(body)
	}

	sampleRate := 0
	if v := r.URL.Query().Get("sample_rate"); v != "" {
		rate, err := strconv.Atoi(v)
		if err != nil || rate <= 0 {
			return pipeline.AudioBuffer{}, fmt.Errorf("invalid sample_rate %q", v)
		}
		sampleRate = rate
	}

	pcm, err := io.ReadAll(body)
	if err != nil {
		return pipeline.AudioBuffer{}, err
	}
	return audio.Submit(pcm, sampleRate)
}

// CancelCommand requests cancellation of the active transaction
func (h *Handler) CancelCommand(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "", "invalid transaction id")
		return
	}

	if err := h.pipeline.Cancel(pipeline.TransactionID(id)); err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			h.writeError(w, r, http.StatusNotFound, string(pipeline.KindNotFound), err.Error())
			return
		}
		h.writeError(w, r, http.StatusInternalServerError, "", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetActiveCommand returns the in-flight transaction
func (h *Handler) GetActiveCommand(w http.ResponseWriter, r *http.Request) {
	info, ok := h.pipeline.Active()
	resp := ActiveCommandResponse{Active: ok}
	if ok {
		resp.Transaction = &info
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetCommandHistory returns finished commands, newest first. Optional query
// parameters: limit, state.
func (h *Handler) GetCommandHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "", "command history is disabled")
		return
	}

	limit := h.config.Storage.HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.writeError(w, r, http.StatusBadRequest, "", "invalid limit")
			return
		}
		limit = n
	}

	var (
		records []*sqlite.CommandRecord
		err     error
	)
	if state := r.URL.Query().Get("state"); state != "" {
		records, err = h.history.GetCommandsByState(state, limit)
	} else {
		records, err = h.history.GetRecentCommands(limit)
	}
	if err != nil {
		h.logger.Error("Failed to query command history", logger.Error(err))
		h.writeError(w, r, http.StatusInternalServerError, "", "failed to query history")
		return
	}
	if records == nil {
		records = []*sqlite.CommandRecord{}
	}

	h.writeJSON(w, http.StatusOK, records)
}

// GetSettings returns the current delivery settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.settings.Snapshot())
}

// UpdateSettings replaces the fields present in the body. Transactions
// already running keep the snapshot they started with.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var update SettingsUpdate
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&update); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "", "invalid settings body: "+err.Error())
		return
	}
	if update.EndpointURL == nil && update.SendCommands == nil {
		h.writeError(w, r, http.StatusBadRequest, "", "nothing to update")
		return
	}

	err := h.settings.Update(func(snap *pipeline.Snapshot) {
		if update.EndpointURL != nil {
			snap.EndpointURL = *update.EndpointURL
		}
		if update.SendCommands != nil {
			snap.DeliveryEnabled = *update.SendCommands
		}
	})
	if err != nil {
		if errors.Is(err, settings.ErrInvalidSettings) {
			h.writeError(w, r, http.StatusBadRequest, "", err.Error())
			return
		}
		h.logger.Error("Failed to update settings", logger.Error(err))
		h.writeError(w, r, http.StatusInternalServerError, "", "failed to save settings")
		return
	}

	h.writeJSON(w, http.StatusOK, h.settings.Snapshot())
}

// GetHealth reports liveness and whether a command is in flight
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	_, busy := h.pipeline.Active()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"busy":            busy,
		"send_commands":   h.settings.Snapshot().DeliveryEnabled,
		"history_enabled": h.history != nil,
		"uptime":          time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to encode response", logger.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, kind, msg string) {
	h.logger.WithRequestID(middleware.GetReqID(r.Context())).Debug("Request rejected",
		logger.Int("status", status),
		logger.String("error", msg))
	h.writeJSON(w, status, ErrorResponse{Error: msg, Kind: kind})
}
