package clave

import (
	"encoding/json"
	"errors"
	"fmt"

	spot "github.com/zmb3/spotify/v2"
)

// Credentials are the client credentials registered with Spotify.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Validate reports whether both halves of the credentials are present.
func (c Credentials) Validate() error {
	if c.ClientID == "" {
		return errors.New("missing client id")
	}
	if c.ClientSecret == "" {
		return errors.New("missing client secret")
	}
	return nil
}

// GenreArtists is the operator input: genre -> artist names.
type GenreArtists = OrderedMap[[]string]

// ArtistRef is the catalog identity of a searched artist.
type ArtistRef struct {
	ID spot.ID `json:"id"`
}

// ArtistIDs maps genre -> artist name -> catalog reference.
type ArtistIDs = OrderedMap[*OrderedMap[ArtistRef]]

// AlbumIDs maps genre -> artist name -> album ids.
type AlbumIDs = OrderedMap[*OrderedMap[[]spot.ID]]

// TrackRecord is one row of the training dataset.
type TrackRecord struct {
	Genre       string   `json:"genre"`
	Artist      string   `json:"artist"`
	AlbumID     spot.ID  `json:"album_id"`
	TrackID     spot.ID  `json:"track_id"`
	TrackName   string   `json:"track_name"`
	AlbumName   string   `json:"album_name"`
	Artists     []string `json:"artists"`
	ReleaseDate string   `json:"release_date"`

	// Features holds the audio-feature scalars as returned by the catalog,
	// minus the link fields.
	// Example: {"danceability": 0.585, "energy": 0.842, "tempo": 118.211}
	Features map[string]any `json:"features"`

	// AvgSectionDuration is the mean duration in seconds of the track's
	// analysis sections. Nil when analysis was not requested or failed.
	AvgSectionDuration *float64 `json:"avg_section_duration,omitempty"`
}

// Skip records an entity that was dropped from a run and why.
type Skip struct {
	Stage  string `json:"stage"`
	Genre  string `json:"genre"`
	Artist string `json:"artist"`
	Entity string `json:"entity,omitempty"`
	Err    error  `json:"-"`
}

func (s Skip) String() string {
	if s.Entity == "" {
		return fmt.Sprintf("%s %s/%s: %v", s.Stage, s.Genre, s.Artist, s.Err)
	}
	return fmt.Sprintf("%s %s/%s/%s: %v", s.Stage, s.Genre, s.Artist, s.Entity, s.Err)
}

// MarshalJSON includes the error text, which the error value itself does not carry.
func (s Skip) MarshalJSON() ([]byte, error) {
	type alias Skip
	var msg string
	if s.Err != nil {
		msg = s.Err.Error()
	}
	return json.Marshal(struct {
		alias
		Error string `json:"error"`
	}{alias(s), msg})
}
