package health

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/mager/clave/config"
	"github.com/mager/clave/dataset"
)

// HealthHandler reports whether the server is up, whether catalog
// credentials are configured and the state of the latest run.
type HealthHandler struct {
	log   *zap.SugaredLogger
	cfg   config.Config
	store *dataset.Store
}

func (*HealthHandler) Pattern() string {
	return "/health"
}

// NewHealthHandler builds a new HealthHandler.
func NewHealthHandler(log *zap.SugaredLogger, cfg config.Config, store *dataset.Store) *HealthHandler {
	return &HealthHandler{
		log:   log,
		cfg:   cfg,
		store: store,
	}
}

type Response struct {
	Server  bool           `json:"server"`
	Spotify bool           `json:"spotify"`
	Run     dataset.Status `json:"run"`
	Error   string         `json:"error,omitempty"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var resp Response

	h.log.Info("health check")

	resp.Server = true

	// Credentials are only checked for presence here; the token call validates them.
	if h.cfg.Credentials().Validate() == nil {
		resp.Spotify = true
	}

	_, status, err := h.store.Latest()
	resp.Run = status
	if err != nil {
		resp.Error = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
