package app

import (
	"encoding/json"
	"net/http"

	"github.com/semmidev/dbvault/internal/adapter/notifier"
	"github.com/semmidev/dbvault/internal/domain"
)

type jobReader interface {
	GetBackup(id string) (*domain.BackupJob, error)
	GetAllBackups(connectionID string) ([]domain.BackupJob, error)
}

// newHandler exposes job listings and the live progress stream.
func newHandler(jobs jobReader, hub *notifier.Hub, log domain.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/backups", func(w http.ResponseWriter, r *http.Request) {
		list, err := jobs.GetAllBackups(r.URL.Query().Get("connection_id"))
		if err != nil {
			log.Errorf("Failed to list backups: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, list)
	})

	mux.HandleFunc("GET /api/backups/{id}", func(w http.ResponseWriter, r *http.Request) {
		job, err := jobs.GetBackup(r.PathValue("id"))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if job == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": domain.ErrJobNotFound.Error()})
			return
		}
		writeJSON(w, http.StatusOK, job)
	})

	mux.Handle("GET /ws/progress", notifier.NewWebSocketHandler(hub, log))

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
