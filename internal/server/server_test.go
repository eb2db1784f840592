package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/co2light/co2light/internal/oauth"
)

// newStores builds two token stores backed by a fake token endpoint that
// can be flipped between accepting and rejecting exchanges.
func newStores(t *testing.T, accept *bool) (*oauth.Store, *oauth.Store) {
	t.Helper()

	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !*accept {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		_, _ = w.Write([]byte(`{"access_token":"A","refresh_token":"R","expires_in":600}`))
	}))
	t.Cleanup(endpoint.Close)

	netatmo := oauth.NewStore("netatmo", oauth.Endpoint{
		AuthorizeURL: "https://api.netatmo.com/oauth2/authorize",
		TokenURL:     endpoint.URL,
		ClientID:     "id",
		RedirectURL:  "http://localhost:3005" + NetatmoCallbackPath,
	})
	hue := oauth.NewStore("hue", oauth.Endpoint{
		AuthorizeURL: "https://api.meethue.com/v2/oauth2/authorize",
		TokenURL:     endpoint.URL,
		ClientID:     "id",
		RedirectURL:  "http://localhost:3005" + HueCallbackPath,
		BasicAuth:    true,
	})

	return netatmo, hue
}

// stateOf extracts the anti-forgery state value from a store's authorization URL.
func stateOf(t *testing.T, store *oauth.Store) string {
	t.Helper()

	parsed, err := url.Parse(store.AuthorizationURL())
	require.NoError(t, err)

	return parsed.Query().Get("state")
}

// TestCallbackSuccess verifies a valid code and state complete the flow.
func TestCallbackSuccess(t *testing.T) {
	t.Parallel()

	accept := true
	netatmo, hue := newStores(t, &accept)
	router := New(":0", netatmo, hue).Router()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		NetatmoCallbackPath+"?code=issued-code&state="+stateOf(t, netatmo), nil)

	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body["success"])

	_, ok := netatmo.AccessToken()
	require.True(t, ok)
}

// TestCallbackRejectedExchange verifies a vendor rejection surfaces as success=false.
func TestCallbackRejectedExchange(t *testing.T) {
	t.Parallel()

	accept := false
	netatmo, hue := newStores(t, &accept)
	router := New(":0", netatmo, hue).Router()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		HueCallbackPath+"?code=stale-code&state="+stateOf(t, hue), nil)

	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body["success"])
}

// TestCallbackBadState verifies forged callbacks are refused before any exchange.
func TestCallbackBadState(t *testing.T) {
	t.Parallel()

	accept := true
	netatmo, hue := newStores(t, &accept)
	router := New(":0", netatmo, hue).Router()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, NetatmoCallbackPath+"?code=issued-code&state=123456", nil)

	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	_, ok := netatmo.AccessToken()
	require.False(t, ok)
}

// TestCallbackMissingCode verifies callbacks without a code are rejected.
func TestCallbackMissingCode(t *testing.T) {
	t.Parallel()

	accept := true
	netatmo, hue := newStores(t, &accept)
	router := New(":0", netatmo, hue).Router()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, NetatmoCallbackPath, nil)

	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestPing verifies the liveness probe.
func TestPing(t *testing.T) {
	t.Parallel()

	accept := true
	netatmo, hue := newStores(t, &accept)
	router := New(":0", netatmo, hue).Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "pong", rec.Body.String())
}

// TestMetricsExposed verifies the prometheus endpoint answers.
func TestMetricsExposed(t *testing.T) {
	t.Parallel()

	accept := true
	netatmo, hue := newStores(t, &accept)
	router := New(":0", netatmo, hue).Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Body.String())
}

// TestRunStopsOnCancel verifies the server shuts down with the context.
func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	accept := true
	netatmo, hue := newStores(t, &accept)
	srv := New("127.0.0.1:0", netatmo, hue)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
