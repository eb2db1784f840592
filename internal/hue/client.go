package hue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/co2light/co2light/internal/logger"
	"github.com/co2light/co2light/internal/oauth"
)

// Public endpoints of the Hue remote API.
const (
	// DefaultBaseURL is the production Hue remote API host.
	DefaultBaseURL = "https://api.meethue.com"
	// AuthorizeURL is the OAuth2 authorization page.
	AuthorizeURL = DefaultBaseURL + "/v2/oauth2/authorize"
	// TokenURL is the OAuth2 token endpoint. Token calls authenticate with
	// HTTP basic auth, not form credentials.
	TokenURL = DefaultBaseURL + "/v2/oauth2/token"

	// callTimeout bounds a single remote API call.
	callTimeout = 10 * time.Second

	// maxResponseBytes bounds how much of a vendor response is read.
	maxResponseBytes = 1 << 20
)

var (
	// ErrNotAuthorized is returned before the OAuth flow has completed.
	ErrNotAuthorized = errors.New("hue: not authorized yet")
	// errRegistrationRejected is returned when whitelist creation yields no username.
	errRegistrationRejected = errors.New("hue: whitelist registration returned no username")
)

// GroupState is an immediate lighting state pushed to a light group.
type GroupState struct {
	// On switches the group on or off.
	On bool `json:"on"`
	// Brightness is the group brightness, 1-254.
	Brightness uint8 `json:"bri"`
	// XY is the CIE color point.
	XY [2]float64 `json:"xy"`
}

// SmartScene is one entry of the vendor's smart scene list.
type SmartScene struct {
	// ID is the scene identifier used for activation.
	ID string
	// Name is the human-readable scene name.
	Name string
}

// smartSceneList mirrors the clip v2 smart scene collection payload.
type smartSceneList struct {
	Errors []json.RawMessage `json:"errors"`
	Data   []struct {
		ID       string `json:"id"`
		Metadata struct {
			Name string `json:"name"`
		} `json:"metadata"`
	} `json:"data"`
}

// whitelistResponse mirrors the bridge whitelist creation payload.
type whitelistResponse []struct {
	Success struct {
		Username string `json:"username"`
	} `json:"success"`
}

// Client drives lights through the Hue remote API. Group and scene calls
// require a bridge application key ("username") besides the bearer token;
// the key is created once through the remote link-button flow and cached
// for the process lifetime.
type Client struct {
	// baseURL is the API host, overridable for tests.
	baseURL string
	// deviceType identifies this application during whitelist registration.
	deviceType string
	// tokens supplies the bearer token for all calls.
	tokens *oauth.Store
	// httpClient performs the remote calls.
	httpClient *http.Client

	// mu guards username.
	mu sync.Mutex
	// username is the cached bridge application key, empty until registered.
	username string
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

// WithHTTPClient overrides the HTTP client used for remote calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient creates a lighting client.
func NewClient(tokens *oauth.Store, deviceType string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		deviceType: deviceType,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: callTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Register performs the one-time remote link-button press and whitelist
// user creation, caching the returned application key. Safe to call again,
// repeated registrations simply mint another key.
func (c *Client) Register(ctx context.Context) error {
	// Press the virtual link button so the bridge accepts a new whitelist user.
	if _, err := c.do(ctx, http.MethodPut, "/route/api/0/config", map[string]any{"linkbutton": true}, false); err != nil {
		return fmt.Errorf("press link button: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/route/api/", map[string]any{"devicetype": c.deviceType}, false)
	if err != nil {
		return fmt.Errorf("create whitelist user: %w", err)
	}

	var parsed whitelistResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("decode whitelist response: %w", err)
	}

	if len(parsed) == 0 || parsed[0].Success.Username == "" {
		return errRegistrationRejected
	}

	c.mu.Lock()
	c.username = parsed[0].Success.Username
	c.mu.Unlock()

	logger.Info(ctx, "Registered whitelist user on Hue bridge")

	return nil
}

// SetGroupState pushes an immediate lighting state to a light group.
func (c *Client) SetGroupState(ctx context.Context, groupID string, state GroupState) error {
	username, err := c.ensureRegistered(ctx)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/route/api/%s/groups/%s/action", username, groupID)
	if _, err := c.do(ctx, http.MethodPut, path, state, false); err != nil {
		return fmt.Errorf("set group state: %w", err)
	}

	return nil
}

// SmartScenes lists the vendor's smart scenes.
func (c *Client) SmartScenes(ctx context.Context) ([]SmartScene, error) {
	if _, err := c.ensureRegistered(ctx); err != nil {
		return nil, err
	}

	body, err := c.do(ctx, http.MethodGet, "/route/clip/v2/resource/smart_scene", nil, true)
	if err != nil {
		return nil, fmt.Errorf("list smart scenes: %w", err)
	}

	var parsed smartSceneList
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode smart scenes: %w", err)
	}

	scenes := make([]SmartScene, 0, len(parsed.Data))
	for _, entry := range parsed.Data {
		scenes = append(scenes, SmartScene{ID: entry.ID, Name: entry.Metadata.Name})
	}

	return scenes, nil
}

// ActivateSmartScene recalls the given smart scene.
func (c *Client) ActivateSmartScene(ctx context.Context, sceneID string) error {
	if _, err := c.ensureRegistered(ctx); err != nil {
		return err
	}

	payload := map[string]any{
		"auto_dynamic": true,
		"recall":       map[string]any{"action": "activate"},
	}

	path := "/route/clip/v2/resource/smart_scene/" + sceneID
	if _, err := c.do(ctx, http.MethodPut, path, payload, true); err != nil {
		return fmt.Errorf("activate smart scene: %w", err)
	}

	return nil
}

// ensureRegistered returns the cached application key, registering first if needed.
func (c *Client) ensureRegistered(ctx context.Context) (string, error) {
	c.mu.Lock()
	username := c.username
	c.mu.Unlock()

	if username != "" {
		return username, nil
	}

	if err := c.Register(ctx); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.username, nil
}

// do performs one authorized remote API call and returns the response body.
// withAppKey adds the hue-application-key header required by clip v2 routes.
func (c *Client) do(ctx context.Context, method, path string, payload any, withAppKey bool) ([]byte, error) {
	token, ok := c.tokens.AccessToken()
	if !ok {
		return nil, ErrNotAuthorized
	}

	var reqBody io.Reader

	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}

		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if withAppKey {
		c.mu.Lock()
		req.Header.Set("hue-application-key", c.username)
		c.mu.Unlock()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: status=%d", method, path, resp.StatusCode)
	}

	return body, nil
}
