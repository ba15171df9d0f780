// Package parser projects generic catalog responses onto the few fields the
// dataset needs. Every projection is pure and checks each path it reads.
package parser

import (
	"errors"
	"fmt"
	"strings"

	spot "github.com/zmb3/spotify/v2"

	"github.com/mager/clave/spotify"
)

var (
	ErrEmptyResult  = errors.New("parser: empty result")
	ErrMissingField = errors.New("parser: missing field")
)

// FieldError names the path that was absent or of the wrong shape.
type FieldError struct {
	Path string
	Want string
}

func (e *FieldError) Error() string {
	if e.Want == "" {
		return fmt.Sprintf("parser: missing field %q", e.Path)
	}
	return fmt.Sprintf("parser: field %q is not %s", e.Path, e.Want)
}

func (e *FieldError) Unwrap() error { return ErrMissingField }

// excludedFeatures are link and type fields that carry no signal.
var excludedFeatures = map[string]struct{}{
	"uri":          {},
	"track_href":   {},
	"analysis_url": {},
	"type":         {},
}

// TrackInfo is the projection of a track lookup.
type TrackInfo struct {
	TrackName   string   `json:"track_name"`
	AlbumName   string   `json:"album_name"`
	Artists     []string `json:"artists"`
	ReleaseDate string   `json:"release_date"`
}

// AlbumRef is one entry of an artist's album listing.
type AlbumRef struct {
	ID              spot.ID
	FirstArtistID   spot.ID
	FirstArtistName string
}

// ParseSearch returns the id of the first artist in a search result.
func ParseSearch(result any) (spot.ID, error) {
	return ParseSearchCategory(result, "artists")
}

// ParseSearchCategory returns the id of the first item in category
// ("artists", "albums", "tracks", ...).
func ParseSearchCategory(result any, category string) (spot.ID, error) {
	root, err := object(result, "")
	if err != nil {
		return "", err
	}
	cat, err := field[map[string]any](root, category, category, "an object")
	if err != nil {
		return "", err
	}
	items, err := field[[]any](cat, category+".items", "items", "a list")
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", fmt.Errorf("%w: no %s", ErrEmptyResult, category)
	}
	first, err := object(items[0], category+".items[0]")
	if err != nil {
		return "", err
	}
	return entityID(first, category+".items[0]")
}

// ParseAudioFeatures copies every feature except the excluded link fields.
// Unknown keys pass through unchanged.
func ParseAudioFeatures(result any) (map[string]any, error) {
	root, err := object(result, "")
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(root))
	for k, v := range root {
		if _, skip := excludedFeatures[k]; skip {
			continue
		}
		out[k] = v
	}
	return out, nil
}

// ParseTrack extracts the track name and the album's name, release date and
// artist names. Any missing path fails the whole record.
func ParseTrack(result any) (TrackInfo, error) {
	var info TrackInfo

	root, err := object(result, "")
	if err != nil {
		return info, err
	}
	if info.TrackName, err = field[string](root, "name", "name", "a string"); err != nil {
		return info, err
	}
	album, err := field[map[string]any](root, "album", "album", "an object")
	if err != nil {
		return info, err
	}
	if info.AlbumName, err = field[string](album, "album.name", "name", "a string"); err != nil {
		return info, err
	}
	if info.ReleaseDate, err = field[string](album, "album.release_date", "release_date", "a string"); err != nil {
		return info, err
	}
	if info.Artists, err = artistNames(album, "album.artists"); err != nil {
		return info, err
	}
	return info, nil
}

// ParseAlbums reads one page of an artist's albums along with the listing's
// reported total, which may exceed the page.
func ParseAlbums(result any) ([]AlbumRef, int, error) {
	root, err := object(result, "")
	if err != nil {
		return nil, 0, err
	}
	items, err := field[[]any](root, "items", "items", "a list")
	if err != nil {
		return nil, 0, err
	}

	total := len(items)
	if t, ok := root["total"].(float64); ok {
		total = int(t)
	}

	albums := make([]AlbumRef, 0, len(items))
	for i, it := range items {
		path := fmt.Sprintf("items[%d]", i)
		album, err := object(it, path)
		if err != nil {
			return nil, 0, err
		}
		id, err := entityID(album, path)
		if err != nil {
			return nil, 0, err
		}
		ref := AlbumRef{ID: id}

		// An unnamed credit leaves FirstArtistName empty.
		if names, err := artistNames(album, path+".artists"); err == nil {
			ref.FirstArtistName = spotify.FirstArtist(names)
		}
		if artists, _ := album["artists"].([]any); len(artists) > 0 {
			if first, ok := artists[0].(map[string]any); ok {
				ref.FirstArtistID, _ = entityID(first, path+".artists[0]")
			}
		}
		albums = append(albums, ref)
	}
	return albums, total, nil
}

// ParseAlbumTracks returns the track ids of one page of an album's tracks.
func ParseAlbumTracks(result any) ([]spot.ID, error) {
	root, err := object(result, "")
	if err != nil {
		return nil, err
	}
	items, err := field[[]any](root, "items", "items", "a list")
	if err != nil {
		return nil, err
	}

	ids := make([]spot.ID, 0, len(items))
	for i, it := range items {
		path := fmt.Sprintf("items[%d]", i)
		track, err := object(it, path)
		if err != nil {
			return nil, err
		}
		id, err := entityID(track, path)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ParseAnalysis returns the mean duration in seconds of the analysis sections.
func ParseAnalysis(result any) (float64, error) {
	root, err := object(result, "")
	if err != nil {
		return 0, err
	}
	sections, err := field[[]any](root, "sections", "sections", "a list")
	if err != nil {
		return 0, err
	}
	if len(sections) == 0 {
		return 0, fmt.Errorf("%w: no sections", ErrEmptyResult)
	}

	var total float64
	for i, s := range sections {
		path := fmt.Sprintf("sections[%d]", i)
		section, err := object(s, path)
		if err != nil {
			return 0, err
		}
		d, err := field[float64](section, path+".duration", "duration", "a number")
		if err != nil {
			return 0, err
		}
		total += d
	}
	return total / float64(len(sections)), nil
}

func object(v any, path string) (map[string]any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		if path == "" {
			path = "$"
		}
		if v == nil {
			return nil, &FieldError{Path: path}
		}
		return nil, &FieldError{Path: path, Want: "an object"}
	}
	return obj, nil
}

func field[T any](obj map[string]any, path, key, want string) (T, error) {
	var zero T
	raw, ok := obj[key]
	if !ok || raw == nil {
		return zero, &FieldError{Path: path}
	}
	v, ok := raw.(T)
	if !ok {
		return zero, &FieldError{Path: path, Want: want}
	}
	return v, nil
}

// entityID reads "id", falling back to the id embedded in "uri".
func entityID(obj map[string]any, path string) (spot.ID, error) {
	if id, ok := obj["id"].(string); ok && id != "" {
		return spot.ID(id), nil
	}
	if uri, ok := obj["uri"].(string); ok {
		if id := spotify.ExtractID(spot.URI(uri)); id != "" {
			return id, nil
		}
	}
	return "", &FieldError{Path: strings.TrimPrefix(path+".id", ".")}
}

func artistNames(obj map[string]any, path string) ([]string, error) {
	artists, err := field[[]any](obj, path, "artists", "a list")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(artists))
	for i, a := range artists {
		p := fmt.Sprintf("%s[%d]", path, i)
		artist, err := object(a, p)
		if err != nil {
			return nil, err
		}
		name, err := field[string](artist, p+".name", "name", "a string")
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}
