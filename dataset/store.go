package dataset

import (
	"sync"
	"time"

	"github.com/mager/clave/clave"
)

// Result is everything one run produced.
type Result struct {
	ArtistIDs  *clave.ArtistIDs    `json:"artist_ids"`
	AlbumIDs   *clave.AlbumIDs     `json:"album_ids"`
	Records    []clave.TrackRecord `json:"records"`
	Skipped    []clave.Skip        `json:"skipped"`
	FinishedAt time.Time           `json:"finished_at"`
}

// Status is the state of the latest run.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Store holds the latest run for readers on other goroutines.
type Store struct {
	mu     sync.RWMutex
	status Status
	result *Result
	err    error
}

func NewStore() *Store {
	return &Store{status: StatusIdle}
}

func (s *Store) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusRunning
	s.err = nil
}

func (s *Store) Finish(r *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusDone
	s.result = r
}

// Fail keeps the previous result, if any, available to readers.
func (s *Store) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusFailed
	s.err = err
}

// Latest returns the last successful result (nil before one exists), the
// run status, and the last failure.
func (s *Store) Latest() (*Result, Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result, s.status, s.err
}

func ProvideStore() *Store {
	return NewStore()
}
