package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/mager/clave/clave"
	"github.com/mager/clave/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS tracks (
	genre                TEXT NOT NULL,
	track_id             TEXT NOT NULL,
	artist               TEXT NOT NULL,
	album_id             TEXT NOT NULL,
	track_name           TEXT NOT NULL,
	album_name           TEXT NOT NULL,
	artists              TEXT[] NOT NULL,
	release_date         TEXT NOT NULL,
	features             JSONB NOT NULL,
	avg_section_duration DOUBLE PRECISION,
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (genre, track_id)
)`

const upsert = `
INSERT INTO tracks (genre, track_id, artist, album_id, track_name, album_name, artists, release_date, features, avg_section_duration)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (genre, track_id) DO UPDATE SET
	artist = EXCLUDED.artist,
	album_id = EXCLUDED.album_id,
	track_name = EXCLUDED.track_name,
	album_name = EXCLUDED.album_name,
	artists = EXCLUDED.artists,
	release_date = EXCLUDED.release_date,
	features = EXCLUDED.features,
	avg_section_duration = EXCLUDED.avg_section_duration,
	updated_at = now()`

// Store writes track records to Postgres.
type Store struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

// Open connects to url and makes sure the tracks table exists.
func Open(ctx context.Context, url string, logger *zap.SugaredLogger) (*Store, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		logger.Errorw("Failed to open database connection", "error", err)
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		logger.Errorw("Failed to ping database", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: create schema: %w", err)
	}

	return &Store{db: db, log: logger}, nil
}

func (s *Store) Name() string { return "postgres" }

// Save upserts all records in one transaction.
func (s *Store) Save(ctx context.Context, records []clave.TrackRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		features, err := json.Marshal(r.Features)
		if err != nil {
			return fmt.Errorf("database: encode features of %s: %w", r.TrackID, err)
		}
		var avg sql.NullFloat64
		if r.AvgSectionDuration != nil {
			avg = sql.NullFloat64{Float64: *r.AvgSectionDuration, Valid: true}
		}
		artists := r.Artists
		if artists == nil {
			artists = []string{}
		}

		if _, err := stmt.ExecContext(ctx,
			r.Genre, string(r.TrackID), r.Artist, string(r.AlbumID),
			r.TrackName, r.AlbumName, pq.Array(artists), r.ReleaseDate,
			features, avg,
		); err != nil {
			return fmt.Errorf("database: upsert %s: %w", r.TrackID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Infow("saved records to postgres", "records", len(records))
	return nil
}

// Count returns the number of stored rows for genre.
func (s *Store) Count(ctx context.Context, genre string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM tracks WHERE genre = $1`, genre).Scan(&n)
	return n, err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ProvideDatabase provides a postgres store, or nil when no database is configured.
func ProvideDatabase(logger *zap.SugaredLogger, cfg config.Config) (*Store, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}
	return Open(context.Background(), cfg.DatabaseURL, logger)
}

var Options = ProvideDatabase
