// Package dataset turns track records into the row-oriented training table.
package dataset

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"golang.org/x/exp/maps"

	"github.com/mager/clave/clave"
	"github.com/mager/clave/spotify"
)

// BaseColumns lead every table; feature columns follow in sorted order.
var BaseColumns = []string{
	"genre",
	"artist",
	"album_id",
	"track_id",
	"track_name",
	"album_name",
	"artists",
	"release_date",
}

const avgSectionColumn = "avg_section_duration"

type Table struct {
	Columns []string
	Rows    [][]string
}

// Build lays records out as rows. Feature keys missing from a record leave
// an empty cell.
func Build(records []clave.TrackRecord) Table {
	featureSet := make(map[string]struct{})
	withAnalysis := false
	for _, r := range records {
		for k := range r.Features {
			featureSet[k] = struct{}{}
		}
		if r.AvgSectionDuration != nil {
			withAnalysis = true
		}
	}
	features := maps.Keys(featureSet)
	sort.Strings(features)

	columns := append(append([]string{}, BaseColumns...), features...)
	if withAnalysis {
		columns = append(columns, avgSectionColumn)
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		row := []string{
			r.Genre,
			r.Artist,
			string(r.AlbumID),
			string(r.TrackID),
			r.TrackName,
			r.AlbumName,
			spotify.ConcatArtists(r.Artists),
			r.ReleaseDate,
		}
		for _, f := range features {
			row = append(row, cell(r.Features[f]))
		}
		if withAnalysis {
			var v string
			if r.AvgSectionDuration != nil {
				v = strconv.FormatFloat(*r.AvgSectionDuration, 'f', -1, 64)
			}
			row = append(row, v)
		}
		rows = append(rows, row)
	}

	return Table{Columns: columns, Rows: rows}
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// WriteCSV writes the header and all rows.
func (t Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

// CSVSink writes each run's table to Path, replacing the previous file.
type CSVSink struct {
	Path string
}

func (s CSVSink) Name() string { return "csv" }

func (s CSVSink) Save(_ context.Context, records []clave.TrackRecord) error {
	if dir := filepath.Dir(s.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	tmp := s.Path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := Build(records).WriteCSV(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("dataset: write %s: %w", s.Path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.Path)
}

// Summary counts tracks per genre.
type Summary struct {
	Genres []GenreCount `json:"genres"`
	Tracks int          `json:"tracks"`
}

type GenreCount struct {
	Genre  string `json:"genre"`
	Tracks int    `json:"tracks"`
}

func Summarize(records []clave.TrackRecord) Summary {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.Genre]++
	}

	genres := maps.Keys(counts)
	sort.Strings(genres)

	s := Summary{Tracks: len(records), Genres: make([]GenreCount, 0, len(genres))}
	for _, g := range genres {
		s.Genres = append(s.Genres, GenreCount{Genre: g, Tracks: counts[g]})
	}
	return s
}
