package database

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mager/clave/clave"
	"github.com/mager/clave/config"
	"github.com/mager/clave/logger"
)

func TestProvideDatabaseDisabled(t *testing.T) {
	log, _ := logger.NewTestLogger()
	store, err := ProvideDatabase(log, config.Config{})
	assert.NoError(t, err)
	assert.Nil(t, store)
}

func TestStoreSave(t *testing.T) {
	url := os.Getenv("CLAVE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CLAVE_TEST_DATABASE_URL not set")
	}

	log, _ := logger.NewTestLogger()
	ctx := context.Background()
	store, err := Open(ctx, url, log)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.db.ExecContext(ctx, `DELETE FROM tracks WHERE genre = 'clave-test'`)
	require.NoError(t, err)

	avg := 9.5
	records := []clave.TrackRecord{
		{Genre: "clave-test", TrackID: "T1", Artist: "A", AlbumID: "AL1", TrackName: "One", AlbumName: "Al", Artists: []string{"A"}, ReleaseDate: "2001", Features: map[string]any{"tempo": 120.0}},
		{Genre: "clave-test", TrackID: "T2", Artist: "A", AlbumID: "AL1", TrackName: "Two", AlbumName: "Al", ReleaseDate: "2001", AvgSectionDuration: &avg},
	}
	require.NoError(t, store.Save(ctx, records))
	// Saving again updates in place.
	require.NoError(t, store.Save(ctx, records))

	n, err := store.Count(ctx, "clave-test")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
