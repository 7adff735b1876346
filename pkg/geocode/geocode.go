// Package geocode resolves free-text place names to candidate cities with
// IANA timezone identifiers, using the Google Geocoding and Timezone APIs.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/maypok86/otter/v2"
)

// ErrUnavailable is returned when the lookup service cannot be reached or is
// not configured. Callers surface it as "no data" and do not retry; the
// retry policy lives here, in the adapter.
var ErrUnavailable = errors.New("lookup service unavailable")

// Candidate is one possible resolution of a place name. Order is preserved
// from the API and used as the disambiguation numbering upstream.
type Candidate struct {
	DisplayName string `json:"display_name"`
	TimezoneID  string `json:"timezone_id"`
}

// HTTPClient interface for making HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client handles place-name lookups against the Google Maps APIs.
type Client struct {
	apiKey      string
	httpClient  HTTPClient
	cache       *otter.Cache[string, []Candidate]
	logger      *slog.Logger
	geocodeURL  string
	timezoneURL string
}

const (
	defaultGeocodeURL  = "https://maps.googleapis.com/maps/api/geocode/json"
	defaultTimezoneURL = "https://maps.googleapis.com/maps/api/timezone/json"

	// maxCandidates caps how many geocoding results are offered for
	// disambiguation; each one costs a Timezone API call.
	maxCandidates = 5
)

// NewClient creates a lookup client. A nil httpClient falls back to
// http.DefaultClient, a nil logger to slog.Default.
func NewClient(apiKey string, httpClient HTTPClient, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiKey:     apiKey,
		httpClient: httpClient,
		cache: otter.Must(&otter.Options[string, []Candidate]{
			MaximumSize:      10_000,
			ExpiryCalculator: otter.ExpiryWriting[string, []Candidate](24 * time.Hour),
		}),
		logger:      logger,
		geocodeURL:  defaultGeocodeURL,
		timezoneURL: defaultTimezoneURL,
	}
}

// Lookup resolves a place name to zero or more candidates, each carrying a
// display name and an IANA timezone id. An empty slice means the place is
// unknown; ErrUnavailable means the service could not be asked. Successful
// lookups are cached for a day keyed by the normalized name.
func (c *Client) Lookup(ctx context.Context, place string) ([]Candidate, error) {
	if c.apiKey == "" {
		c.logger.Warn("maps API key not configured - lookup disabled", "place", place)
		return nil, fmt.Errorf("%w: API key not configured", ErrUnavailable)
	}

	key := strings.ToLower(strings.TrimSpace(place))
	if key == "" {
		return nil, nil
	}
	if cached, ok := c.cache.GetIfPresent(key); ok {
		c.logger.Debug("lookup cache hit", "place", key, "candidates", len(cached))
		return cached, nil
	}

	results, err := c.geocode(ctx, place)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(results))
	for _, r := range results {
		tz, err := c.timezoneFor(ctx, r.lat, r.lng)
		if err != nil {
			// One bad candidate must not sink the rest.
			c.logger.Warn("timezone lookup failed for candidate", "place", r.address, "error", err)
			continue
		}
		candidates = append(candidates, Candidate{DisplayName: r.address, TimezoneID: tz})
	}

	c.cache.Set(key, candidates)
	c.logger.Debug("lookup resolved", "place", key, "candidates", len(candidates))
	return candidates, nil
}

type geocodeResult struct {
	address string
	lat     float64
	lng     float64
}

func (c *Client) geocode(ctx context.Context, place string) ([]geocodeResult, error) {
	apiURL := c.geocodeURL + "?address=" + url.QueryEscape(place) + "&key=" + url.QueryEscape(c.apiKey)

	var result struct {
		Results []struct {
			Geometry struct {
				Location struct {
					Lat float64 `json:"lat"`
					Lng float64 `json:"lng"`
				} `json:"location"`
			} `json:"geometry"`
			FormattedAddress string `json:"formatted_address"`
		} `json:"results"`
		Status string `json:"status"`
	}
	if err := c.fetchJSON(ctx, apiURL, &result); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	switch result.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: geocoding status %s", ErrUnavailable, result.Status)
	}

	out := make([]geocodeResult, 0, maxCandidates)
	for _, r := range result.Results {
		if len(out) == maxCandidates {
			break
		}
		out = append(out, geocodeResult{
			address: r.FormattedAddress,
			lat:     r.Geometry.Location.Lat,
			lng:     r.Geometry.Location.Lng,
		})
	}
	return out, nil
}

func (c *Client) timezoneFor(ctx context.Context, lat, lng float64) (string, error) {
	apiURL := fmt.Sprintf("%s?location=%f,%f&timestamp=%d&key=%s",
		c.timezoneURL, lat, lng, time.Now().Unix(), url.QueryEscape(c.apiKey))

	var result struct {
		TimeZoneID   string `json:"timeZoneId"`
		Status       string `json:"status"`
		ErrorMessage string `json:"error_message"`
	}
	if err := c.fetchJSON(ctx, apiURL, &result); err != nil {
		return "", err
	}
	if result.Status != "OK" {
		if result.ErrorMessage != "" {
			return "", fmt.Errorf("timezone API failed: %s", result.ErrorMessage)
		}
		return "", fmt.Errorf("timezone API failed with status: %s", result.Status)
	}
	return result.TimeZoneID, nil
}

// fetchJSON performs a GET with exponential backoff and jitter and decodes
// the body into out. Rate limits and server errors are retryable.
func (c *Client) fetchJSON(ctx context.Context, apiURL string, out any) error {
	var body []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, http.NoBody)
			if err != nil {
				return err
			}
			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Debug("failed to close response body", "error", closeErr)
				}
			}()
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}
			body, err = io.ReadAll(resp.Body)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.FullJitterBackoffDelay),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("retrying maps API request", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("request failed after retries: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing maps API response: %w", err)
	}
	return nil
}
