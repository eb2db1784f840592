package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/co2light/co2light/internal/logger"
	"github.com/co2light/co2light/internal/metrics"
)

// Credential is a full set of bearer credentials for one vendor.
// The three fields are only ever assigned together from a single
// exchange or refresh response.
type Credential struct {
	// AccessToken is the short-lived bearer token for resource calls.
	AccessToken string
	// RefreshToken obtains a new access token without user interaction.
	RefreshToken string
	// ExpiresAt is the absolute instant the access token stops being valid.
	ExpiresAt time.Time
}

// Endpoint describes one vendor's OAuth2 endpoints and client registration.
type Endpoint struct {
	// AuthorizeURL is the vendor's authorization page.
	AuthorizeURL string
	// TokenURL is the vendor's code-exchange and refresh endpoint.
	TokenURL string
	// ClientID is the registered client identifier.
	ClientID string
	// ClientSecret is the registered client secret.
	ClientSecret string
	// Scope is the minimal scope requested during authorization, may be empty.
	Scope string
	// RedirectURL is the callback address codes are delivered to.
	RedirectURL string
	// BasicAuth selects HTTP basic authentication for token calls.
	// When false, client credentials and the redirect URL travel in the form
	// body instead, as Netatmo expects.
	BasicAuth bool
}

const (
	// DefaultExpirySkew is the safety margin before the actual expiry instant,
	// so in-flight use of a token does not race its expiry.
	DefaultExpirySkew = 30 * time.Second

	// tokenCallTimeout bounds a single token endpoint call.
	tokenCallTimeout = 10 * time.Second

	// maxResponseBytes bounds how much of a vendor response is read.
	maxResponseBytes = 1 << 20
)

// errVendorRejected marks a non-2xx token endpoint response, as opposed to a
// transport failure. The distinction only matters for logging: a rejection
// usually means the grant is gone and re-authorization is needed.
var errVendorRejected = errors.New("vendor rejected token request")

// tokenResponse is the parsed body of a successful token endpoint call.
type tokenResponse struct {
	// AccessToken is the issued bearer token.
	AccessToken string `json:"access_token"`
	// RefreshToken is the issued refresh token.
	RefreshToken string `json:"refresh_token"`
	// ExpiresIn is the token lifetime in seconds.
	ExpiresIn int64 `json:"expires_in"`
}

// Store owns one vendor's credential for the process lifetime.
// All mutation happens under its lock, including the refresh network call,
// so a token-expiry tick and an in-flight alert sequence can never race a
// refresh-and-assign against a token read.
type Store struct {
	// name identifies the vendor in logs and metrics.
	name string
	// endpoint holds the vendor's OAuth endpoints and client registration.
	endpoint Endpoint
	// httpClient performs token endpoint calls.
	httpClient *http.Client
	// now supplies the current instant, injectable for tests.
	now func() time.Time
	// state is the anti-forgery value embedded in the authorization URL.
	state string

	// mu guards cred.
	mu sync.Mutex
	// cred is the current credential, empty until the first exchange.
	cred Credential
}

// Option configures a Store.
type Option func(*Store)

// WithHTTPClient overrides the HTTP client used for token calls.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Store) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// WithNow overrides the time source, used by tests to simulate expiry.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a token store for the given vendor endpoint.
// The anti-forgery state value is random per process: the original constant
// value was a CSRF gap, and a per-flow value would need flow storage this
// single-user service does not have.
func NewStore(name string, endpoint Endpoint, opts ...Option) *Store {
	s := &Store{
		name:       name,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: tokenCallTimeout},
		now:        time.Now,
		state:      randomState(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the vendor name the store was created with.
func (s *Store) Name() string {
	return s.name
}

// AuthorizationURL builds the vendor authorization page URL.
// Deterministic for the process lifetime and free of side effects.
func (s *Store) AuthorizationURL() string {
	query := url.Values{}
	query.Set("client_id", s.endpoint.ClientID)
	query.Set("redirect_uri", s.endpoint.RedirectURL)
	query.Set("response_type", "code")
	query.Set("state", s.state)

	if s.endpoint.Scope != "" {
		query.Set("scope", s.endpoint.Scope)
	}

	return s.endpoint.AuthorizeURL + "?" + query.Encode()
}

// VerifyState reports whether a callback-supplied state value matches the
// one embedded in the authorization URL.
func (s *Store) VerifyState(state string) bool {
	return state != "" && state == s.state
}

// ExchangeCode performs a single authorization-code exchange.
// On success the credential is assigned atomically and true is returned;
// any failure leaves the existing credential untouched.
// Each issued code is single-use, which the vendor enforces.
func (s *Store) ExchangeCode(ctx context.Context, code string) bool {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)

	ok := s.obtain(ctx, form)

	outcome := metrics.OutcomeFailure
	if ok {
		outcome = metrics.OutcomeSuccess
	}

	metrics.TokenExchanges.WithLabelValues(s.name, outcome).Inc()

	return ok
}

// Refresh obtains a new access token using the stored refresh token.
// On failure the stale credential stays in place: a transient vendor outage
// must not force the user through re-authorization.
func (s *Store) Refresh(ctx context.Context) bool {
	s.mu.Lock()
	refreshToken := s.cred.RefreshToken
	s.mu.Unlock()

	if refreshToken == "" {
		logger.Warnf(ctx, "%s: refresh requested but no credential is stored", s.name)
		return false
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	ok := s.obtain(ctx, form)

	outcome := metrics.OutcomeFailure
	if ok {
		outcome = metrics.OutcomeSuccess
	}

	metrics.TokenRefreshes.WithLabelValues(s.name, outcome).Inc()

	return ok
}

// IsExpiring reports whether a credential exists and its expiry is closer
// than the skew to the provided instant.
func (s *Store) IsExpiring(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cred.AccessToken == "" {
		return false
	}

	return s.cred.ExpiresAt.Sub(now) < DefaultExpirySkew
}

// EnsureFresh refreshes the credential if it is about to expire.
// Returns true when the token is usable afterwards. Calling it twice in
// immediate succession performs at most one network refresh, since the
// first success pushes the expiry past the skew.
func (s *Store) EnsureFresh(ctx context.Context, now time.Time) bool {
	if !s.IsExpiring(now) {
		return true
	}

	logger.Infof(ctx, "%s: token is expiring, refreshing", s.name)

	return s.Refresh(ctx)
}

// AccessToken returns the current access token, false if none is stored.
func (s *Store) AccessToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cred.AccessToken, s.cred.AccessToken != ""
}

// obtain performs a token endpoint call and assigns the credential on success.
func (s *Store) obtain(ctx context.Context, form url.Values) bool {
	resp, err := s.tokenRequest(ctx, form)
	if err != nil {
		if errors.Is(err, errVendorRejected) {
			logger.ErrorKV(ctx, "Token request rejected by vendor", "vendor", s.name, "error", err)
		} else {
			logger.ErrorKV(ctx, "Token request failed in transit", "vendor", s.name, "error", err)
		}

		return false
	}

	s.mu.Lock()
	s.cred = Credential{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    s.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
	s.mu.Unlock()

	logger.InfoKV(ctx, "Token obtained", "vendor", s.name, "expires_in", resp.ExpiresIn)

	return true
}

// tokenRequest posts the form to the vendor token endpoint and parses the response.
func (s *Store) tokenRequest(ctx context.Context, form url.Values) (*tokenResponse, error) {
	if !s.endpoint.BasicAuth {
		form.Set("client_id", s.endpoint.ClientID)
		form.Set("client_secret", s.endpoint.ClientSecret)
		form.Set("redirect_uri", s.endpoint.RedirectURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if s.endpoint.BasicAuth {
		req.SetBasicAuth(s.endpoint.ClientID, s.endpoint.ClientSecret)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status=%d", errVendorRejected, resp.StatusCode)
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}

	return &parsed, nil
}

// randomState produces a hex-encoded random anti-forgery value.
func randomState() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process cannot do anything useful.
		panic(fmt.Sprintf("generate state value: %v", err))
	}

	return hex.EncodeToString(buf)
}
