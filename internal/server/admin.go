package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nholik/watchdog-bridge/internal/calendar"
	"github.com/nholik/watchdog-bridge/internal/syncer"
	"github.com/nholik/watchdog-bridge/internal/syncstate"
	"github.com/rs/zerolog"
)

const apiKeyHeader = "X-API-Key"

// Admin is the set of administrative operations exposed over HTTP.
type Admin interface {
	Wipe(ctx context.Context) error
	// StartBackfill launches a backfill in the background. It fails with
	// syncer.ErrBackfillRunning while another backfill is in progress.
	StartBackfill(start, end calendar.Date) error
	States(ctx context.Context) ([]syncstate.SyncState, error)
}

type stateEntry struct {
	syncstate.SyncState
	Status syncstate.Status `json:"status"`
}

func registerAdminRoutes(mux *http.ServeMux, logger zerolog.Logger, admin Admin, apiKey string) {
	mux.Handle("POST /admin/wipe", requireKey(apiKey, wipeHandler(logger, admin)))
	mux.Handle("POST /admin/backfill", requireKey(apiKey, backfillHandler(logger, admin)))
	mux.Handle("GET /admin/state", requireKey(apiKey, stateHandler(admin)))
}

func requireKey(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(apiKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func wipeHandler(logger zerolog.Logger, admin Admin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := admin.Wipe(r.Context()); err != nil {
			logger.Error().Err(err).Msg("admin wipe failed")
			writeError(w, http.StatusInternalServerError, "wipe failed")
			return
		}
		logger.Warn().Msg("sync state wiped via admin endpoint")
		writeJSON(w, http.StatusOK, map[string]string{"status": "wiped"})
	}
}

func backfillHandler(logger zerolog.Logger, admin Admin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		start, err := calendar.Parse(query.Get("start"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start date")
			return
		}
		end, err := calendar.Parse(query.Get("end"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end date")
			return
		}
		if end.Before(start) {
			writeError(w, http.StatusBadRequest, "start is after end")
			return
		}

		if err := admin.StartBackfill(start, end); err != nil {
			if errors.Is(err, syncer.ErrBackfillRunning) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			logger.Error().Err(err).Msg("admin backfill failed to start")
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status": "started",
			"start":  start.String(),
			"end":    end.String(),
		})
	}
}

func stateHandler(admin Admin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		states, err := admin.States(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "list state failed")
			return
		}
		entries := make([]stateEntry, 0, len(states))
		for _, state := range states {
			entries = append(entries, stateEntry{SyncState: state, Status: state.Status()})
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
