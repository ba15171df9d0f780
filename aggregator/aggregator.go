// Package aggregator walks genre -> artist -> album -> track, issuing one
// catalog call per node and merging the projections into ordered results.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	spot "github.com/zmb3/spotify/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mager/clave/clave"
	"github.com/mager/clave/config"
	"github.com/mager/clave/parser"
	"github.com/mager/clave/spotify"
)

// albumTracksPageSize is the catalog maximum for an album's track listing.
const albumTracksPageSize = 50

// Caller is the catalog client the aggregator drives.
type Caller interface {
	Call(ctx context.Context, kind spotify.Kind, token string, params url.Values, id string) (any, error)
}

type Options struct {
	// PageSize caps the albums requested per artist. Only one page is ever
	// fetched, so artists with more albums are truncated.
	PageSize      int
	IncludeGroups string
	Market        string
	Match         MatchMode
	WithAnalysis  bool
	// Workers bounds concurrent artists or albums. 1 runs sequentially.
	Workers int
}

// Aggregator builds the artist, album and track stages of a run.
type Aggregator struct {
	client Caller
	opts   Options
	log    *zap.SugaredLogger
}

func New(client Caller, opts Options, log *zap.SugaredLogger) *Aggregator {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Aggregator{client: client, opts: opts, log: log}
}

type artistItem struct {
	genre, artist string
}

// BuildArtistIDs searches each artist and keeps the first hit. Artists
// whose search fails or comes back empty are skipped.
func (a *Aggregator) BuildArtistIDs(ctx context.Context, genres *clave.GenreArtists, token string) (*clave.ArtistIDs, []clave.Skip, error) {
	var items []artistItem
	for _, g := range genres.Keys() {
		artists, _ := genres.Get(g)
		for _, name := range artists {
			items = append(items, artistItem{g, name})
		}
	}

	ids := make([]spot.ID, len(items))
	skips := make([][]clave.Skip, len(items))

	err := a.each(ctx, len(items), func(ctx context.Context, i int) error {
		it := items[i]
		params := url.Values{
			"q":     {it.artist},
			"type":  {"artist"},
			"limit": {"1"},
		}
		if a.opts.Market != "" {
			params.Set("market", a.opts.Market)
		}

		result, err := a.client.Call(ctx, spotify.KindSearch, token, params, "")
		if err == nil {
			ids[i], err = parser.ParseSearch(result)
		}
		if err != nil {
			return a.skip(ctx, &skips[i], clave.Skip{Stage: string(spotify.KindSearch), Genre: it.genre, Artist: it.artist, Err: err})
		}

		a.log.Infow("found artist", "genre", it.genre, "artist", it.artist, "id", ids[i])
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	out := clave.NewOrderedMap[*clave.OrderedMap[clave.ArtistRef]]()
	for _, g := range genres.Keys() {
		out.Set(g, clave.NewOrderedMap[clave.ArtistRef]())
	}
	for i, it := range items {
		if ids[i] == "" {
			continue
		}
		byArtist, _ := out.Get(it.genre)
		byArtist.Set(it.artist, clave.ArtistRef{ID: ids[i]})
	}
	return out, flatten(skips), nil
}

type albumItem struct {
	genre, artist string
	id            spot.ID
}

// BuildAlbumIDs lists one page of albums per artist and keeps those whose
// first credited artist is the artist itself.
func (a *Aggregator) BuildAlbumIDs(ctx context.Context, artists *clave.ArtistIDs, token string) (*clave.AlbumIDs, []clave.Skip, error) {
	var items []albumItem
	_ = artists.Each(func(g string, byArtist *clave.OrderedMap[clave.ArtistRef]) error {
		return byArtist.Each(func(name string, ref clave.ArtistRef) error {
			items = append(items, albumItem{g, name, ref.ID})
			return nil
		})
	})

	albums := make([][]spot.ID, len(items))
	found := make([]bool, len(items))
	skips := make([][]clave.Skip, len(items))

	err := a.each(ctx, len(items), func(ctx context.Context, i int) error {
		it := items[i]
		params := url.Values{
			"limit":  {strconv.Itoa(a.opts.PageSize)},
			"offset": {"0"},
		}
		if a.opts.IncludeGroups != "" {
			params.Set("include_groups", a.opts.IncludeGroups)
		}
		if a.opts.Market != "" {
			params.Set("market", a.opts.Market)
		}

		result, err := a.client.Call(ctx, spotify.KindArtistAlbums, token, params, string(it.id))
		var (
			refs  []parser.AlbumRef
			total int
		)
		if err == nil {
			refs, total, err = parser.ParseAlbums(result)
		}
		if err != nil {
			return a.skip(ctx, &skips[i], clave.Skip{Stage: string(spotify.KindArtistAlbums), Genre: it.genre, Artist: it.artist, Entity: string(it.id), Err: err})
		}
		if total > len(refs) {
			a.log.Warnw("album listing truncated to one page",
				"genre", it.genre,
				"artist", it.artist,
				"page_size", a.opts.PageSize,
				"total", total,
			)
		}

		kept := make([]spot.ID, 0, len(refs))
		for _, ref := range refs {
			if primaryArtist(a.opts.Match, ref, it.artist, it.id) {
				kept = append(kept, ref.ID)
			}
		}
		albums[i] = kept
		found[i] = true

		a.log.Infow("listed albums",
			"genre", it.genre,
			"artist", it.artist,
			"listed", len(refs),
			"kept", len(kept),
		)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	out := clave.NewOrderedMap[*clave.OrderedMap[[]spot.ID]]()
	for _, g := range artists.Keys() {
		out.Set(g, clave.NewOrderedMap[[]spot.ID]())
	}
	for i, it := range items {
		if !found[i] {
			continue
		}
		byArtist, _ := out.Get(it.genre)
		byArtist.Set(it.artist, albums[i])
	}
	return out, flatten(skips), nil
}

// BuildTrackRecords lists each album's tracks and fetches the track and its
// audio features, plus the analysis when enabled. A track that fails any
// required lookup is skipped.
func (a *Aggregator) BuildTrackRecords(ctx context.Context, albums *clave.AlbumIDs, token string) ([]clave.TrackRecord, []clave.Skip, error) {
	var items []albumItem
	_ = albums.Each(func(g string, byArtist *clave.OrderedMap[[]spot.ID]) error {
		return byArtist.Each(func(name string, ids []spot.ID) error {
			for _, id := range ids {
				items = append(items, albumItem{g, name, id})
			}
			return nil
		})
	})

	records := make([][]clave.TrackRecord, len(items))
	skips := make([][]clave.Skip, len(items))

	err := a.each(ctx, len(items), func(ctx context.Context, i int) error {
		it := items[i]
		params := url.Values{
			"limit":  {strconv.Itoa(albumTracksPageSize)},
			"offset": {"0"},
		}
		if a.opts.Market != "" {
			params.Set("market", a.opts.Market)
		}

		result, err := a.client.Call(ctx, spotify.KindAlbumTracks, token, params, string(it.id))
		var trackIDs []spot.ID
		if err == nil {
			trackIDs, err = parser.ParseAlbumTracks(result)
		}
		if err != nil {
			return a.skip(ctx, &skips[i], clave.Skip{Stage: string(spotify.KindAlbumTracks), Genre: it.genre, Artist: it.artist, Entity: string(it.id), Err: err})
		}

		for _, trackID := range trackIDs {
			rec, err := a.trackRecord(ctx, it, trackID, token, &skips[i])
			if err != nil {
				return err
			}
			if rec != nil {
				records[i] = append(records[i], *rec)
			}
		}
		a.log.Infow("collected album tracks",
			"genre", it.genre,
			"artist", it.artist,
			"album", it.id,
			"tracks", len(records[i]),
		)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var out []clave.TrackRecord
	for _, r := range records {
		out = append(out, r...)
	}
	return out, flatten(skips), nil
}

// trackRecord returns nil with no error when the track was skipped.
func (a *Aggregator) trackRecord(ctx context.Context, it albumItem, trackID spot.ID, token string, skips *[]clave.Skip) (*clave.TrackRecord, error) {
	skip := func(kind spotify.Kind, err error) error {
		return a.skip(ctx, skips, clave.Skip{Stage: string(kind), Genre: it.genre, Artist: it.artist, Entity: string(trackID), Err: err})
	}

	result, err := a.client.Call(ctx, spotify.KindTrack, token, nil, string(trackID))
	var info parser.TrackInfo
	if err == nil {
		info, err = parser.ParseTrack(result)
	}
	if err != nil {
		return nil, skip(spotify.KindTrack, err)
	}

	result, err = a.client.Call(ctx, spotify.KindAudioFeatures, token, nil, string(trackID))
	var features map[string]any
	if err == nil {
		features, err = parser.ParseAudioFeatures(result)
	}
	if err != nil {
		return nil, skip(spotify.KindAudioFeatures, err)
	}

	rec := &clave.TrackRecord{
		Genre:       it.genre,
		Artist:      it.artist,
		AlbumID:     it.id,
		TrackID:     trackID,
		TrackName:   info.TrackName,
		AlbumName:   info.AlbumName,
		Artists:     info.Artists,
		ReleaseDate: info.ReleaseDate,
		Features:    features,
	}

	if a.opts.WithAnalysis {
		// A missing analysis only drops the derived column.
		result, err = a.client.Call(ctx, spotify.KindAudioAnalysis, token, nil, string(trackID))
		var avg float64
		if err == nil {
			avg, err = parser.ParseAnalysis(result)
		}
		if err != nil {
			if err := skip(spotify.KindAudioAnalysis, err); err != nil {
				return nil, err
			}
		} else {
			rec.AvgSectionDuration = &avg
		}
	}
	return rec, nil
}

// skip records s and logs it, or returns the error when it must abort the run.
func (a *Aggregator) skip(ctx context.Context, skips *[]clave.Skip, s clave.Skip) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if Fatal(s.Err) {
		return fmt.Errorf("aggregator: %s: %w", s.Stage, s.Err)
	}
	a.log.Warnw("skipping entity",
		"stage", s.Stage,
		"genre", s.Genre,
		"artist", s.Artist,
		"entity", s.Entity,
		"error", s.Err,
	)
	*skips = append(*skips, s)
	return nil
}

// each runs fn for 0..n-1, sequentially or on a bounded errgroup. Each index
// owns its result slot, so output order never depends on scheduling.
func (a *Aggregator) each(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	if a.opts.Workers <= 1 {
		for i := 0; i < n; i++ {
			if err := fn(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			return fn(gctx, i)
		})
	}
	return g.Wait()
}

// Fatal reports whether err aborts a run instead of skipping one entity:
// a rejected token, a programming error, or cancellation.
func Fatal(err error) bool {
	return errors.Is(err, spotify.ErrUnauthorized) ||
		errors.Is(err, spotify.ErrInvalidRequestKind) ||
		errors.Is(err, spotify.ErrMissingIdentifier) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func flatten(skips [][]clave.Skip) []clave.Skip {
	var out []clave.Skip
	for _, s := range skips {
		out = append(out, s...)
	}
	return out
}

func ProvideAggregator(cfg config.Config, client *spotify.Client, log *zap.SugaredLogger) *Aggregator {
	match := MatchNormalized
	if cfg.MatchExact {
		match = MatchExact
	}
	return New(client, Options{
		PageSize:      cfg.AlbumPageSize,
		IncludeGroups: cfg.IncludeGroups,
		Market:        cfg.Market,
		Match:         match,
		WithAnalysis:  cfg.WithAnalysis,
		Workers:       cfg.Workers,
	}, log)
}
