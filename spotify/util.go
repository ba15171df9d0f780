package spotify

import (
	"strings"

	spot "github.com/zmb3/spotify/v2"
)

// FirstArtist returns the first credited artist name, or "" when there is none.
func FirstArtist(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// ConcatArtists returns a comma-separated list of artist names
func ConcatArtists(names []string) string {
	return strings.Join(names, ", ")
}

// ExtractID returns the id part of a catalog URI such as
// "spotify:artist:4Z8W4fKeB5YxbusRsdQVPb". It returns "" for malformed URIs.
func ExtractID(uri spot.URI) spot.ID {
	parts := strings.Split(string(uri), ":")
	if len(parts) != 3 || parts[0] != "spotify" {
		return ""
	}
	return spot.ID(parts[2])
}
