// Package pipeline runs one extraction: token, artists, albums, tracks, sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mager/clave/aggregator"
	"github.com/mager/clave/auth"
	"github.com/mager/clave/clave"
	"github.com/mager/clave/config"
	"github.com/mager/clave/database"
	"github.com/mager/clave/dataset"
	"github.com/mager/clave/firestore"
)

// TokenSource yields the bearer token for a run.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Builder is the staged aggregation a run drives.
type Builder interface {
	BuildArtistIDs(ctx context.Context, genres *clave.GenreArtists, token string) (*clave.ArtistIDs, []clave.Skip, error)
	BuildAlbumIDs(ctx context.Context, artists *clave.ArtistIDs, token string) (*clave.AlbumIDs, []clave.Skip, error)
	BuildTrackRecords(ctx context.Context, albums *clave.AlbumIDs, token string) ([]clave.TrackRecord, []clave.Skip, error)
}

// Sink persists the records of a finished run.
type Sink interface {
	Name() string
	Save(ctx context.Context, records []clave.TrackRecord) error
}

type Pipeline struct {
	log     *zap.SugaredLogger
	tokens  TokenSource
	builder Builder
	genres  *clave.GenreArtists
	sinks   []Sink
	store   *dataset.Store
}

func New(log *zap.SugaredLogger, tokens TokenSource, builder Builder, genres *clave.GenreArtists, store *dataset.Store, sinks ...Sink) *Pipeline {
	if store == nil {
		store = dataset.NewStore()
	}
	return &Pipeline{
		log:     log,
		tokens:  tokens,
		builder: builder,
		genres:  genres,
		sinks:   sinks,
		store:   store,
	}
}

// Run fetches a fresh token and rebuilds the whole tree. A token failure or a
// fatal stage error aborts the run. Sink errors are returned after every
// sink has been tried, and the result is still published.
func (p *Pipeline) Run(ctx context.Context) (*dataset.Result, error) {
	p.store.Start()
	res, err := p.run(ctx)
	if err != nil {
		p.store.Fail(err)
		p.log.Errorw("run failed", "error", err)
		return res, err
	}
	return res, nil
}

func (p *Pipeline) run(ctx context.Context) (*dataset.Result, error) {
	start := time.Now()

	token, err := p.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	res := &dataset.Result{}

	artists, skips, err := p.builder.BuildArtistIDs(ctx, p.genres, token)
	if err != nil {
		return nil, fmt.Errorf("pipeline: artists: %w", err)
	}
	res.ArtistIDs = artists
	res.Skipped = append(res.Skipped, skips...)

	albums, skips, err := p.builder.BuildAlbumIDs(ctx, artists, token)
	if err != nil {
		return nil, fmt.Errorf("pipeline: albums: %w", err)
	}
	res.AlbumIDs = albums
	res.Skipped = append(res.Skipped, skips...)

	records, skips, err := p.builder.BuildTrackRecords(ctx, albums, token)
	if err != nil {
		return nil, fmt.Errorf("pipeline: tracks: %w", err)
	}
	res.Records = records
	res.Skipped = append(res.Skipped, skips...)
	res.FinishedAt = time.Now()

	p.store.Finish(res)
	p.log.Infow("run finished",
		"genres", p.genres.Len(),
		"records", len(res.Records),
		"skipped", len(res.Skipped),
		"took", time.Since(start),
	)

	var errs []error
	for _, s := range p.sinks {
		if err := s.Save(ctx, res.Records); err != nil {
			p.log.Errorw("sink failed", "sink", s.Name(), "error", err)
			errs = append(errs, fmt.Errorf("pipeline: sink %s: %w", s.Name(), err))
			continue
		}
		p.log.Infow("sink saved", "sink", s.Name(), "records", len(res.Records))
	}
	return res, errors.Join(errs...)
}

// ProvideSinks collects the configured sinks. The CSV file is always
// written; Postgres and Firestore only when configured.
func ProvideSinks(cfg config.Config, db *database.Store, fs *firestore.Store) []Sink {
	sinks := []Sink{dataset.CSVSink{Path: cfg.OutputPath}}
	if db != nil {
		sinks = append(sinks, db)
	}
	if fs != nil {
		sinks = append(sinks, fs)
	}
	return sinks
}

func ProvidePipeline(
	log *zap.SugaredLogger,
	tokens *auth.TokenProvider,
	agg *aggregator.Aggregator,
	genres *clave.GenreArtists,
	store *dataset.Store,
	sinks []Sink,
) *Pipeline {
	return New(log, tokens, agg, genres, store, sinks...)
}
