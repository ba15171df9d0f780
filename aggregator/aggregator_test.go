package aggregator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	spot "github.com/zmb3/spotify/v2"

	"github.com/mager/clave/clave"
	"github.com/mager/clave/logger"
	"github.com/mager/clave/parser"
	"github.com/mager/clave/spotify"
)

type MockCaller struct {
	mock.Mock
}

func (m *MockCaller) Call(ctx context.Context, kind spotify.Kind, token string, params url.Values, id string) (any, error) {
	args := m.Called(ctx, kind, token, params, id)
	return args.Get(0), args.Error(1)
}

func tree(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func genres(t *testing.T, s string) *clave.GenreArtists {
	t.Helper()
	g := clave.NewOrderedMap[[]string]()
	require.NoError(t, json.Unmarshal([]byte(s), g))
	return g
}

func jsonOf(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

// TestPipelineStages drives the artist and album stages against a fake
// catalog over HTTP.
func TestPipelineStages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Test Artist", r.URL.Query().Get("q"))
		assert.Equal(t, "artist", r.URL.Query().Get("type"))
		w.Write([]byte(`{"artists":{"items":[{"id":"A1","name":"Test Artist"}]}}`))
	})
	mux.HandleFunc("/artists/A1/albums", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"total":2,"items":[
			{"id":"AL1","artists":[{"name":"Test Artist"}]},
			{"id":"AL2","artists":[{"name":"Other"}]}
		]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := spotify.NewClient(srv.URL, srv.Client(), spotify.ClientOptions{}, nil)
	agg := New(client, Options{PageSize: 20}, nil)
	ctx := context.Background()

	artists, skips, err := agg.BuildArtistIDs(ctx, genres(t, `{"salsa":["Test Artist"]}`), "tok")
	require.NoError(t, err)
	assert.Empty(t, skips)
	assert.JSONEq(t, `{"salsa":{"Test Artist":{"id":"A1"}}}`, jsonOf(t, artists))

	albums, skips, err := agg.BuildAlbumIDs(ctx, artists, "tok")
	require.NoError(t, err)
	assert.Empty(t, skips)
	assert.JSONEq(t, `{"salsa":{"Test Artist":["AL1"]}}`, jsonOf(t, albums))
}

func TestBuildArtistIDs(t *testing.T) {
	log, recorded := logger.NewTestLogger()
	m := new(MockCaller)

	search := func(q string) any {
		return mock.MatchedBy(func(p url.Values) bool { return p.Get("q") == q })
	}
	m.On("Call", mock.Anything, spotify.KindSearch, "tok", search("Marc Anthony"), "").
		Return(tree(t, `{"artists":{"items":[{"id":"MA"}]}}`), nil)
	m.On("Call", mock.Anything, spotify.KindSearch, "tok", search("Nobody"), "").
		Return(tree(t, `{"artists":{"items":[]}}`), nil)
	m.On("Call", mock.Anything, spotify.KindSearch, "tok", search("Romeo Santos"), "").
		Return(tree(t, `{"artists":{"items":[{"id":"RS"}]}}`), nil)

	agg := New(m, Options{}, log)
	out, skips, err := agg.BuildArtistIDs(context.Background(),
		genres(t, `{"salsa":["Marc Anthony","Nobody"],"bachata":["Romeo Santos"]}`), "tok")

	require.NoError(t, err)
	assert.Equal(t, []string{"salsa", "bachata"}, out.Keys())
	assert.Equal(t, `{"salsa":{"Marc Anthony":{"id":"MA"}},"bachata":{"Romeo Santos":{"id":"RS"}}}`, jsonOf(t, out))

	require.Len(t, skips, 1)
	assert.Equal(t, "Nobody", skips[0].Artist)
	assert.ErrorIs(t, skips[0].Err, parser.ErrEmptyResult)
	assert.Equal(t, 1, recorded.FilterMessage("skipping entity").Len())
	m.AssertExpectations(t)
}

func TestBuildArtistIDsAbortsOnUnauthorized(t *testing.T) {
	m := new(MockCaller)
	m.On("Call", mock.Anything, spotify.KindSearch, "tok", mock.Anything, "").
		Return(nil, &spotify.APIError{Kind: spotify.KindSearch, Status: http.StatusUnauthorized})

	agg := New(m, Options{}, nil)
	_, _, err := agg.BuildArtistIDs(context.Background(), genres(t, `{"salsa":["A","B"]}`), "tok")

	assert.ErrorIs(t, err, spotify.ErrUnauthorized)
	m.AssertNumberOfCalls(t, "Call", 1)
}

func TestBuildAlbumIDsFiltering(t *testing.T) {
	artists := clave.NewOrderedMap[*clave.OrderedMap[clave.ArtistRef]]()
	byArtist := clave.NewOrderedMap[clave.ArtistRef]()
	byArtist.Set("Oscar D'León", clave.ArtistRef{ID: "OD"})
	artists.Set("salsa", byArtist)

	listing := tree(t, `{"total":5,"items":[
		{"id":"AL1","artists":[{"id":"OD","name":"Oscar D’León"}]},
		{"id":"AL2","artists":[{"name":"OSCAR D'LEON"}]},
		{"id":"AL3","artists":[{"id":"XX","name":"Oscar D'León"}]},
		{"id":"AL4","artists":[{"name":"Celia Cruz"},{"name":"Oscar D'León"}]},
		{"id":"AL5","artists":[]}
	]}`)

	tests := []struct {
		name string
		mode MatchMode
		want []spot.ID
	}{
		{"normalized", MatchNormalized, []spot.ID{"AL1", "AL2"}},
		{"exact", MatchExact, []spot.ID{"AL3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := new(MockCaller)
			m.On("Call", mock.Anything, spotify.KindArtistAlbums, "tok", mock.MatchedBy(func(p url.Values) bool {
				return p.Get("limit") == "5" && p.Get("offset") == "0" && p.Get("include_groups") == "album"
			}), "OD").Return(listing, nil)

			log, recorded := logger.NewTestLogger()
			agg := New(m, Options{PageSize: 5, IncludeGroups: "album", Match: tt.mode}, log)
			out, skips, err := agg.BuildAlbumIDs(context.Background(), artists, "tok")

			require.NoError(t, err)
			assert.Empty(t, skips)
			byArtist, ok := out.Get("salsa")
			require.True(t, ok)
			got, ok := byArtist.Get("Oscar D'León")
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
			assert.Zero(t, recorded.FilterMessage("album listing truncated to one page").Len())
		})
	}
}

func TestBuildAlbumIDsTruncationAndSkips(t *testing.T) {
	artists := clave.NewOrderedMap[*clave.OrderedMap[clave.ArtistRef]]()
	byArtist := clave.NewOrderedMap[clave.ArtistRef]()
	byArtist.Set("Prolific", clave.ArtistRef{ID: "P"})
	byArtist.Set("Gone", clave.ArtistRef{ID: "G"})
	artists.Set("salsa", byArtist)

	m := new(MockCaller)
	m.On("Call", mock.Anything, spotify.KindArtistAlbums, "tok", mock.Anything, "P").
		Return(tree(t, `{"total":80,"items":[{"id":"AL1","artists":[{"id":"P","name":"Prolific"}]}]}`), nil)
	m.On("Call", mock.Anything, spotify.KindArtistAlbums, "tok", mock.Anything, "G").
		Return(nil, &spotify.APIError{Kind: spotify.KindArtistAlbums, Status: http.StatusNotFound})

	log, recorded := logger.NewTestLogger()
	agg := New(m, Options{PageSize: 1}, log)
	out, skips, err := agg.BuildAlbumIDs(context.Background(), artists, "tok")

	require.NoError(t, err)
	assert.Equal(t, `{"salsa":{"Prolific":["AL1"]}}`, jsonOf(t, out))
	require.Len(t, skips, 1)
	assert.Equal(t, "G", skips[0].Entity)
	assert.Equal(t, 1, recorded.FilterMessage("album listing truncated to one page").Len())
}

func TestBuildTrackRecords(t *testing.T) {
	albums := clave.NewOrderedMap[*clave.OrderedMap[[]spot.ID]]()
	salsa := clave.NewOrderedMap[[]spot.ID]()
	salsa.Set("Test Artist", []spot.ID{"AL1"})
	albums.Set("salsa", salsa)
	bachata := clave.NewOrderedMap[[]spot.ID]()
	bachata.Set("Aventura", []spot.ID{"AL9"})
	albums.Set("bachata", bachata)

	m := new(MockCaller)
	m.On("Call", mock.Anything, spotify.KindAlbumTracks, "tok", mock.Anything, "AL1").
		Return(tree(t, `{"items":[{"id":"T1"},{"id":"T2"},{"id":"T3"}]}`), nil)
	m.On("Call", mock.Anything, spotify.KindAlbumTracks, "tok", mock.Anything, "AL9").
		Return(tree(t, `{"items":[{"id":"T9"}]}`), nil)

	track := func(name string) any {
		return tree(t, `{"name":"`+name+`","album":{"name":"Album","release_date":"2001-05-01","artists":[{"name":"Test Artist"}]}}`)
	}
	features := tree(t, `{"danceability":0.7,"tempo":180.5,"uri":"spotify:track:x","type":"audio_features"}`)

	m.On("Call", mock.Anything, spotify.KindTrack, "tok", url.Values(nil), "T1").Return(track("One"), nil)
	m.On("Call", mock.Anything, spotify.KindAudioFeatures, "tok", url.Values(nil), "T1").Return(features, nil)
	// T2 has a malformed track body and is skipped.
	m.On("Call", mock.Anything, spotify.KindTrack, "tok", url.Values(nil), "T2").Return(tree(t, `{"name":"Two"}`), nil)
	m.On("Call", mock.Anything, spotify.KindTrack, "tok", url.Values(nil), "T3").Return(track("Three"), nil)
	m.On("Call", mock.Anything, spotify.KindAudioFeatures, "tok", url.Values(nil), "T3").Return(features, nil)
	m.On("Call", mock.Anything, spotify.KindTrack, "tok", url.Values(nil), "T9").Return(track("Nine"), nil)
	m.On("Call", mock.Anything, spotify.KindAudioFeatures, "tok", url.Values(nil), "T9").Return(features, nil)

	agg := New(m, Options{}, nil)
	records, skips, err := agg.BuildTrackRecords(context.Background(), albums, "tok")

	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []spot.ID{"T1", "T3", "T9"}, []spot.ID{records[0].TrackID, records[1].TrackID, records[2].TrackID})
	assert.Equal(t, "salsa", records[0].Genre)
	assert.Equal(t, "bachata", records[2].Genre)
	assert.Equal(t, spot.ID("AL1"), records[0].AlbumID)
	assert.Equal(t, "One", records[0].TrackName)
	assert.Equal(t, []string{"Test Artist"}, records[0].Artists)
	assert.Equal(t, map[string]any{"danceability": 0.7, "tempo": 180.5}, records[0].Features)
	assert.Nil(t, records[0].AvgSectionDuration)

	require.Len(t, skips, 1)
	assert.Equal(t, "T2", skips[0].Entity)
	assert.Equal(t, string(spotify.KindTrack), skips[0].Stage)
	assert.ErrorIs(t, skips[0].Err, parser.ErrMissingField)
	m.AssertNotCalled(t, "Call", mock.Anything, spotify.KindAudioFeatures, "tok", url.Values(nil), "T2")
}

func TestBuildTrackRecordsWithAnalysis(t *testing.T) {
	albums := clave.NewOrderedMap[*clave.OrderedMap[[]spot.ID]]()
	byArtist := clave.NewOrderedMap[[]spot.ID]()
	byArtist.Set("Test Artist", []spot.ID{"AL1"})
	albums.Set("salsa", byArtist)

	m := new(MockCaller)
	m.On("Call", mock.Anything, spotify.KindAlbumTracks, "tok", mock.Anything, "AL1").
		Return(tree(t, `{"items":[{"id":"T1"},{"id":"T2"}]}`), nil)
	for _, id := range []string{"T1", "T2"} {
		m.On("Call", mock.Anything, spotify.KindTrack, "tok", url.Values(nil), id).
			Return(tree(t, `{"name":"n","album":{"name":"a","release_date":"2001","artists":[]}}`), nil)
		m.On("Call", mock.Anything, spotify.KindAudioFeatures, "tok", url.Values(nil), id).
			Return(tree(t, `{"energy":0.5}`), nil)
	}
	m.On("Call", mock.Anything, spotify.KindAudioAnalysis, "tok", url.Values(nil), "T1").
		Return(tree(t, `{"sections":[{"duration":10},{"duration":20}]}`), nil)
	m.On("Call", mock.Anything, spotify.KindAudioAnalysis, "tok", url.Values(nil), "T2").
		Return(tree(t, `{"sections":[]}`), nil)

	agg := New(m, Options{WithAnalysis: true}, nil)
	records, skips, err := agg.BuildTrackRecords(context.Background(), albums, "tok")

	require.NoError(t, err)
	require.Len(t, records, 2)
	require.NotNil(t, records[0].AvgSectionDuration)
	assert.Equal(t, 15.0, *records[0].AvgSectionDuration)
	assert.Nil(t, records[1].AvgSectionDuration)

	require.Len(t, skips, 1)
	assert.Equal(t, string(spotify.KindAudioAnalysis), skips[0].Stage)
}

func TestWorkersPreserveOrder(t *testing.T) {
	m := new(MockCaller)
	names := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	for _, n := range names {
		n := n
		m.On("Call", mock.Anything, spotify.KindSearch, "tok", mock.MatchedBy(func(p url.Values) bool { return p.Get("q") == n }), "").
			Return(tree(t, `{"artists":{"items":[{"id":"id-`+n+`"}]}}`), nil)
	}

	agg := New(m, Options{Workers: 4}, nil)
	out, skips, err := agg.BuildArtistIDs(context.Background(),
		genres(t, `{"salsa":["A","B","C","D"],"bachata":["E","F","G","H"]}`), "tok")

	require.NoError(t, err)
	assert.Empty(t, skips)
	salsa, _ := out.Get("salsa")
	bachata, _ := out.Get("bachata")
	assert.Equal(t, []string{"A", "B", "C", "D"}, salsa.Keys())
	assert.Equal(t, []string{"E", "F", "G", "H"}, bachata.Keys())
	ref, _ := bachata.Get("G")
	assert.Equal(t, spot.ID("id-G"), ref.ID)
}

func TestCanceledContextAborts(t *testing.T) {
	m := new(MockCaller)
	m.On("Call", mock.Anything, spotify.KindSearch, "tok", mock.Anything, "").
		Return(nil, context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	agg := New(m, Options{}, nil)
	_, _, err := agg.BuildArtistIDs(ctx, genres(t, `{"salsa":["A"]}`), "tok")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, normalizeName("Oscar D'León"), normalizeName("oscar  d’leon"))
	assert.Equal(t, "celia cruz", normalizeName("Celia Cruz"))
	assert.NotEqual(t, normalizeName("Aventura"), normalizeName("Ventura"))
}
