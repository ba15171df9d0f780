package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/mager/clave/clave"
	"github.com/mager/clave/config"
)

const collection = "tracks"

// Track is the document stored per genre and track.
type Track struct {
	Genre              string         `firestore:"genre"`
	Artist             string         `firestore:"artist"`
	AlbumID            string         `firestore:"albumID"`
	TrackID            string         `firestore:"trackID"`
	TrackName          string         `firestore:"trackName"`
	AlbumName          string         `firestore:"albumName"`
	Artists            []string       `firestore:"artists"`
	ReleaseDate        string         `firestore:"releaseDate"`
	Features           map[string]any `firestore:"features"`
	AvgSectionDuration *float64       `firestore:"avgSectionDuration"`
}

func toDoc(r clave.TrackRecord) Track {
	return Track{
		Genre:              r.Genre,
		Artist:             r.Artist,
		AlbumID:            string(r.AlbumID),
		TrackID:            string(r.TrackID),
		TrackName:          r.TrackName,
		AlbumName:          r.AlbumName,
		Artists:            r.Artists,
		ReleaseDate:        r.ReleaseDate,
		Features:           r.Features,
		AvgSectionDuration: r.AvgSectionDuration,
	}
}

// DocID keys a record by genre, since the same track may be labeled twice.
func DocID(r clave.TrackRecord) string {
	return r.Genre + "_" + string(r.TrackID)
}

// Store writes track records to a Firestore collection.
type Store struct {
	client *firestore.Client
	log    *zap.SugaredLogger
}

func NewStore(client *firestore.Client, log *zap.SugaredLogger) *Store {
	return &Store{client: client, log: log}
}

func (s *Store) Name() string { return "firestore" }

func (s *Store) Save(ctx context.Context, records []clave.TrackRecord) error {
	bw := s.client.BulkWriter(ctx)

	jobs := make([]*firestore.BulkWriterJob, 0, len(records))
	for _, r := range records {
		job, err := bw.Set(s.client.Collection(collection).Doc(DocID(r)), toDoc(r))
		if err != nil {
			bw.End()
			return fmt.Errorf("firestore: queue %s: %w", DocID(r), err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	var failed int
	var firstErr error
	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("firestore: write %s: %w", DocID(records[i]), err)
			}
		}
	}
	if firstErr != nil {
		s.log.Errorw("firestore writes failed", "failed", failed, "records", len(records))
		return firstErr
	}

	s.log.Infow("saved records to firestore", "records", len(records))
	return nil
}

// Count returns the number of documents stored for genre.
func (s *Store) Count(ctx context.Context, genre string) (int, error) {
	iter := s.client.Collection(collection).Where("genre", "==", genre).Documents(ctx)
	defer iter.Stop()

	var n int
	for {
		_, err := iter.Next()
		if err == iterator.Done {
			return n, nil
		}
		if err != nil {
			return 0, fmt.Errorf("firestore: count %s: %w", genre, err)
		}
		n++
	}
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ProvideDB provides a firestore store, or nil when no project is configured.
func ProvideDB(cfg config.Config, log *zap.SugaredLogger) (*Store, error) {
	if cfg.FirestoreProject == "" {
		return nil, nil
	}

	var opts []option.ClientOption
	if cfg.FirestoreCredentials != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FirestoreCredentials))
	}

	client, err := firestore.NewClient(context.Background(), cfg.FirestoreProject, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client: %w", err)
	}
	return NewStore(client, log), nil
}

var Options = ProvideDB
