package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mager/clave/config"
)

const DefaultBaseURL = "https://api.spotify.com/v1"

var (
	ErrInvalidRequestKind = errors.New("spotify: invalid request kind")
	ErrMissingIdentifier  = errors.New("spotify: missing identifier")
	// ErrUnauthorized matches an APIError with status 401: the token itself was rejected.
	ErrUnauthorized = errors.New("spotify: unauthorized")
)

// Kind is a catalog endpoint category.
type Kind string

const (
	KindSearch        Kind = "search"
	KindArtist        Kind = "artist"
	KindArtistAlbums  Kind = "artist-albums"
	KindAlbumTracks   Kind = "album-tracks"
	KindTrack         Kind = "track"
	KindAudioFeatures Kind = "audio-features"
	KindAudioAnalysis Kind = "audio-analysis"
)

// templates maps each kind to its path below the base URL. {id} is
// substituted with the escaped entity id.
var templates = map[Kind]string{
	KindSearch:        "/search",
	KindArtist:        "/artists/{id}",
	KindArtistAlbums:  "/artists/{id}/albums",
	KindAlbumTracks:   "/albums/{id}/tracks",
	KindTrack:         "/tracks/{id}",
	KindAudioFeatures: "/audio-features/{id}",
	KindAudioAnalysis: "/audio-analysis/{id}",
}

// Kinds returns every supported kind.
func Kinds() []Kind {
	return []Kind{KindSearch, KindArtist, KindArtistAlbums, KindAlbumTracks, KindTrack, KindAudioFeatures, KindAudioAnalysis}
}

func (k Kind) Valid() bool {
	_, ok := templates[k]
	return ok
}

// NeedsID reports whether the kind's template embeds an entity id.
func (k Kind) NeedsID() bool {
	return strings.Contains(templates[k], "{id}")
}

// APIError is a non-2xx response from the catalog.
type APIError struct {
	Kind       Kind
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("spotify: %s: status %d", e.Kind, e.Status)
	}
	return fmt.Sprintf("spotify: %s: status %d: %s", e.Kind, e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// Temporary reports whether the request may succeed if repeated.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// ClientOptions tune throttling and retries.
type ClientOptions struct {
	// RateLimit is requests per second; 0 disables throttling.
	RateLimit     float64
	RateBurst     int
	MaxRetries    int
	RetryCooldown time.Duration
	RetryExponent float64
}

// Client issues GET requests against the catalog. It holds no token: every
// call is given one explicitly.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	opts       ClientOptions
	log        *zap.SugaredLogger
}

func NewClient(baseURL string, httpClient *http.Client, opts ClientOptions, log *zap.SugaredLogger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.RetryExponent <= 0 {
		opts.RetryExponent = 1
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		limiter:    limiter,
		opts:       opts,
		log:        log,
	}
}

// URL builds the request URL for kind. It fails before any I/O on an
// unknown kind or a missing id.
func (c *Client) URL(kind Kind, params url.Values, id string) (string, error) {
	tmpl, ok := templates[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidRequestKind, string(kind))
	}
	if kind.NeedsID() {
		if id == "" {
			return "", fmt.Errorf("%w: %s", ErrMissingIdentifier, kind)
		}
		tmpl = strings.ReplaceAll(tmpl, "{id}", url.PathEscape(id))
	}

	u := c.baseURL + tmpl
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u, nil
}

// Call fetches kind and returns the decoded body as a generic tree of
// map[string]any and []any. Transport failures, 429 and 5xx are retried.
func (c *Client) Call(ctx context.Context, kind Kind, token string, params url.Values, id string) (any, error) {
	u, err := c.URL(kind, params, id)
	if err != nil {
		return nil, err
	}

	for try := 0; ; try++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		result, err := c.do(ctx, kind, token, u)
		if err == nil {
			return result, nil
		}
		if try >= c.opts.MaxRetries || !retryable(ctx, err) {
			return nil, err
		}

		wait := c.backoff(try, err)
		c.log.Warnw("retrying spotify request",
			"kind", kind,
			"try", try+1,
			"max_retries", c.opts.MaxRetries,
			"wait", wait,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) do(ctx context.Context, kind Kind, token, u string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("spotify: %s: %w", kind, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("spotify: %s: read body: %w", kind, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			Kind:       kind,
			Status:     resp.StatusCode,
			Message:    errorMessage(body),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("spotify: %s: decode body: %w", kind, err)
	}
	return v, nil
}

func (c *Client) backoff(try int, err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter
	}
	cooldown := float64(c.opts.RetryCooldown) * math.Pow(c.opts.RetryExponent, float64(try))
	return time.Duration(cooldown)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	// A body that fails to decode is not retried.
	var syntaxErr *json.SyntaxError
	return !errors.As(err, &syntaxErr)
}

// errorMessage pulls the message out of the catalog's error envelope:
// {"error": {"status": 404, "message": "..."}}.
func errorMessage(body []byte) string {
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil || len(env.Error) == 0 {
		return strings.TrimSpace(string(body))
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Error, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	var s string
	if err := json.Unmarshal(env.Error, &s); err == nil {
		return s
	}
	return string(env.Error)
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func ProvideSpotify(cfg config.Config, httpClient *http.Client, log *zap.SugaredLogger) *Client {
	log.Infow("setting up spotify client",
		"base_url", cfg.SpotifyAPIURL,
		"rate_limit", cfg.RateLimit,
		"max_retries", cfg.MaxRetries,
	)

	return NewClient(cfg.SpotifyAPIURL, httpClient, ClientOptions{
		RateLimit:     cfg.RateLimit,
		RateBurst:     cfg.RateBurst,
		MaxRetries:    cfg.MaxRetries,
		RetryCooldown: cfg.RetryCooldown,
		RetryExponent: cfg.RetryExponent,
	}, log)
}

// ProvideHTTPClient provides the shared outbound HTTP client.
func ProvideHTTPClient(cfg config.Config) *http.Client {
	return &http.Client{Timeout: cfg.HTTPTimeout}
}

var Options = ProvideSpotify
