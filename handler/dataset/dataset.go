package dataset

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mager/clave/clave"
	"github.com/mager/clave/dataset"
)

// DatasetHandler serves the records of the latest finished run as JSON, or
// as CSV with ?format=csv.
type DatasetHandler struct {
	log   *zap.SugaredLogger
	store *dataset.Store
}

func (*DatasetHandler) Pattern() string {
	return "/dataset"
}

func NewDatasetHandler(log *zap.SugaredLogger, store *dataset.Store) *DatasetHandler {
	return &DatasetHandler{
		log:   log,
		store: store,
	}
}

type DatasetResponse struct {
	Status     dataset.Status      `json:"status"`
	FinishedAt time.Time           `json:"finished_at"`
	Records    []clave.TrackRecord `json:"records"`
	Skipped    []clave.Skip        `json:"skipped"`
}

type ErrorResponse struct {
	Status dataset.Status `json:"status"`
	Error  string         `json:"error"`
}

func (h *DatasetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res, status, ok := latest(w, h.store)
	if !ok {
		return
	}

	format := r.URL.Query().Get("format")
	h.log.Infow("get dataset", "format", format, "records", len(res.Records))

	switch format {
	case "", "json":
		resp := DatasetResponse{
			Status:     status,
			FinishedAt: res.FinishedAt,
			Records:    res.Records,
			Skipped:    res.Skipped,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="tracks.csv"`)
		if err := dataset.Build(res.Records).WriteCSV(w); err != nil {
			h.log.Errorw("error writing csv", "error", err)
		}
	default:
		writeError(w, http.StatusBadRequest, ErrorResponse{Status: status, Error: "unknown format " + format})
	}
}

// SummaryHandler serves per-genre track counts for the latest run.
type SummaryHandler struct {
	log   *zap.SugaredLogger
	store *dataset.Store
}

func (*SummaryHandler) Pattern() string {
	return "/dataset/summary"
}

func NewSummaryHandler(log *zap.SugaredLogger, store *dataset.Store) *SummaryHandler {
	return &SummaryHandler{
		log:   log,
		store: store,
	}
}

type SummaryResponse struct {
	Status     dataset.Status `json:"status"`
	FinishedAt time.Time      `json:"finished_at"`
	Skipped    int            `json:"skipped"`
	dataset.Summary
}

func (h *SummaryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	res, status, ok := latest(w, h.store)
	if !ok {
		return
	}

	h.log.Info("get dataset summary")

	resp := SummaryResponse{
		Status:     status,
		FinishedAt: res.FinishedAt,
		Skipped:    len(res.Skipped),
		Summary:    dataset.Summarize(res.Records),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// latest writes a 503 and reports false until a run has finished.
func latest(w http.ResponseWriter, store *dataset.Store) (*dataset.Result, dataset.Status, bool) {
	res, status, err := store.Latest()
	if res != nil {
		return res, status, true
	}

	resp := ErrorResponse{Status: status, Error: "no finished run yet"}
	if err != nil {
		resp.Error = err.Error()
	}
	writeError(w, http.StatusServiceUnavailable, resp)
	return nil, status, false
}

func writeError(w http.ResponseWriter, code int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
