package netatmo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/co2light/co2light/internal/oauth"
)

// Public endpoints of the Netatmo API.
const (
	// DefaultBaseURL is the production Netatmo API host.
	DefaultBaseURL = "https://api.netatmo.com"
	// AuthorizeURL is the OAuth2 authorization page.
	AuthorizeURL = DefaultBaseURL + "/oauth2/authorize"
	// TokenURL is the OAuth2 token endpoint.
	TokenURL = DefaultBaseURL + "/oauth2/token"
	// ScopeReadHomeCoach is the minimal scope for reading home coach data.
	ScopeReadHomeCoach = "read_homecoach"

	// callTimeout bounds a single sensor read.
	callTimeout = 10 * time.Second

	// maxResponseBytes bounds how much of a vendor response is read.
	maxResponseBytes = 1 << 20
)

var (
	// ErrNotAuthorized is returned before the OAuth flow has completed.
	ErrNotAuthorized = errors.New("netatmo: not authorized yet")
	// ErrNoData is returned when the vendor reports no usable sensor data.
	ErrNoData = errors.New("netatmo: no sensor data")
)

// Reading is one CO2 measurement from the home coach.
type Reading struct {
	// CO2 is the concentration in parts per million.
	CO2 float64
	// Time is the measurement instant reported by the station.
	Time time.Time
}

// homeCoachResponse mirrors the fields of the gethomecoachsdata payload
// the daemon actually consumes.
type homeCoachResponse struct {
	Status string `json:"status"`
	Body   struct {
		Devices []struct {
			ID            string `json:"_id"`
			StationName   string `json:"station_name"`
			Reachable     bool   `json:"reachable"`
			DashboardData struct {
				TimeUTC     int64   `json:"time_utc"`
				CO2         float64 `json:"CO2"`
				Temperature float64 `json:"Temperature"`
				Humidity    float64 `json:"Humidity"`
			} `json:"dashboard_data"`
		} `json:"devices"`
	} `json:"body"`
}

// Client reads home coach measurements for a single configured station.
type Client struct {
	// baseURL is the API host, overridable for tests.
	baseURL string
	// deviceMAC selects the station to sample.
	deviceMAC string
	// tokens supplies the bearer token for resource calls.
	tokens *oauth.Store
	// httpClient performs the resource calls.
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API host, used by tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithHTTPClient overrides the HTTP client used for resource calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient creates a sensor client bound to one station.
func NewClient(tokens *oauth.Store, deviceMAC string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		deviceMAC:  deviceMAC,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: callTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// LatestReading fetches the most recent CO2 measurement of the station.
func (c *Client) LatestReading(ctx context.Context) (*Reading, error) {
	token, ok := c.tokens.AccessToken()
	if !ok {
		return nil, ErrNotAuthorized
	}

	endpoint := fmt.Sprintf("%s/api/gethomecoachsdata?device_id=%s", c.baseURL, url.QueryEscape(c.deviceMAC))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build sensor request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sensor request: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read sensor response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sensor request failed: status=%d", resp.StatusCode)
	}

	var parsed homeCoachResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode sensor response: %w", err)
	}

	if parsed.Status != "ok" || len(parsed.Body.Devices) == 0 {
		return nil, ErrNoData
	}

	dashboard := parsed.Body.Devices[0].DashboardData

	return &Reading{
		CO2:  dashboard.CO2,
		Time: time.Unix(dashboard.TimeUTC, 0),
	}, nil
}
