package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	spotifyauth "github.com/zmb3/spotify/v2/auth"

	"github.com/mager/clave/clave"
)

type Config struct {
	SpotifyID       string `split_words:"true"`
	SpotifySecret   string `split_words:"true"`
	SpotifyTokenURL string `split_words:"true"`
	SpotifyAPIURL   string `envconfig:"SPOTIFY_API_URL" default:"https://api.spotify.com/v1"`

	GenresFile    string `split_words:"true" default:"genres.json"`
	AlbumPageSize int    `split_words:"true" default:"50"`
	IncludeGroups string `split_words:"true" default:"album"`
	Market        string
	MatchExact    bool `split_words:"true"`
	WithAnalysis  bool `split_words:"true"`
	Workers       int  `default:"1"`

	// RateLimit is requests per second against the catalog; 0 disables throttling.
	RateLimit     float64       `split_words:"true" default:"4"`
	RateBurst     int           `split_words:"true" default:"1"`
	MaxRetries    int           `split_words:"true" default:"3"`
	RetryCooldown time.Duration `split_words:"true" default:"500ms"`
	RetryExponent float64       `split_words:"true" default:"2"`
	HTTPTimeout   time.Duration `split_words:"true" default:"30s"`

	OutputPath       string `split_words:"true" default:"tracks.csv"`
	DatabaseURL      string `split_words:"true"`
	FirestoreProject string `split_words:"true"`

	// FirestoreCredentials is a service account file; empty uses the default credentials.
	FirestoreCredentials string `split_words:"true"`

	Serve bool
	Addr  string `default:":8080"`
}

// Credentials returns the Spotify client credentials.
func (c Config) Credentials() clave.Credentials {
	return clave.Credentials{ClientID: c.SpotifyID, ClientSecret: c.SpotifySecret}
}

func (c Config) Validate() error {
	if err := c.Credentials().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.AlbumPageSize < 1 || c.AlbumPageSize > 50 {
		return fmt.Errorf("config: album page size %d outside 1..50", c.AlbumPageSize)
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be at least 1, got %d", c.Workers)
	}
	if c.RateLimit < 0 {
		return errors.New("config: rate limit must not be negative")
	}
	return nil
}

// Load reads a .env file when present and then the CLAVE_* environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("clave", &cfg); err != nil {
		return Config{}, err
	}
	if cfg.SpotifyTokenURL == "" {
		cfg.SpotifyTokenURL = spotifyauth.TokenURL
	}
	return cfg, cfg.Validate()
}

// LoadGenres reads the genre -> artist names file, keeping its order.
func LoadGenres(path string) (*clave.GenreArtists, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read genres: %w", err)
	}

	genres := clave.NewOrderedMap[[]string]()
	if err := json.Unmarshal(data, genres); err != nil {
		return nil, fmt.Errorf("config: parse genres %s: %w", path, err)
	}
	if genres.Len() == 0 {
		return nil, fmt.Errorf("config: %s lists no genres", path)
	}
	return genres, nil
}

func ProvideConfig() (Config, error) {
	return Load()
}

// ProvideGenres loads the configured genres file.
func ProvideGenres(cfg Config) (*clave.GenreArtists, error) {
	return LoadGenres(cfg.GenresFile)
}

var Options = ProvideConfig
