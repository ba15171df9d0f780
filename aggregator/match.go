package aggregator

import (
	"strings"
	"unicode"

	spot "github.com/zmb3/spotify/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/mager/clave/parser"
)

// MatchMode selects how an album's first artist is compared with the queried artist.
type MatchMode int

const (
	// MatchNormalized compares catalog ids when both are known, and
	// otherwise names folded for case, diacritics and apostrophe variants.
	MatchNormalized MatchMode = iota
	// MatchExact requires byte-equal names.
	MatchExact
)

var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "`", "'")

// normalizeName folds s so that "Oscar D’León" and "oscar d'leon" compare equal.
func normalizeName(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = apostrophes.Replace(out)
	return strings.Join(strings.Fields(cases.Fold().String(out)), " ")
}

// primaryArtist reports whether album is credited first to the queried artist.
func primaryArtist(mode MatchMode, album parser.AlbumRef, name string, id spot.ID) bool {
	if mode == MatchExact {
		return album.FirstArtistName == name
	}
	if album.FirstArtistID != "" && id != "" {
		return album.FirstArtistID == id
	}
	if album.FirstArtistName == "" {
		return false
	}
	return normalizeName(album.FirstArtistName) == normalizeName(name)
}
