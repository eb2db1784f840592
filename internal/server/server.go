package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/co2light/co2light/internal/logger"
	"github.com/co2light/co2light/internal/oauth"
)

// Route paths of the two OAuth redirect callbacks. The vendor client
// registrations point at these exact paths.
const (
	// NetatmoCallbackPath receives the Netatmo authorization code.
	NetatmoCallbackPath = "/netatmo_callback"
	// HueCallbackPath receives the Hue authorization code.
	HueCallbackPath = "/philipsHue_callback"

	// shutdownTimeout bounds the graceful HTTP shutdown.
	shutdownTimeout = 5 * time.Second
)

// Server is the inbound boundary of the daemon: the OAuth redirect
// callbacks, a liveness probe and the metrics endpoint.
type Server struct {
	// listenAddress is the bind address.
	listenAddress string
	// netatmo is the vendor-A token store completing its flow here.
	netatmo *oauth.Store
	// hue is the vendor-B token store completing its flow here.
	hue *oauth.Store
}

// New creates the callback server over the two token stores.
func New(listenAddress string, netatmo, hue *oauth.Store) *Server {
	return &Server{
		listenAddress: listenAddress,
		netatmo:       netatmo,
		hue:           hue,
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc(NetatmoCallbackPath, s.callbackHandler(s.netatmo)).Methods(http.MethodGet)
	r.HandleFunc(HueCallbackPath, s.callbackHandler(s.hue)).Methods(http.MethodGet)
	r.HandleFunc("/ping", pingHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx = logger.WithName(ctx, "server")

	srv := &http.Server{
		Addr:              s.listenAddress,
		Handler:           handlers.LoggingHandler(os.Stdout, s.Router()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Closed after Shutdown finishes so we block until the listener is gone.
	done := make(chan struct{})

	go func() {
		defer close(done)

		<-ctx.Done()
		logger.Info(ctx, "Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.InfoKV(ctx, "HTTP server listening", "listen_address", s.listenAddress)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	<-done
	logger.Info(ctx, "HTTP server stopped")

	return nil
}

// callbackHandler completes one vendor's authorization-code flow.
// The exchange result is surfaced as a JSON success flag to whatever
// browser window the vendor redirected here.
func (s *Server) callbackHandler(store *oauth.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		query := r.URL.Query()

		code := query.Get("code")
		if code == "" {
			http.Error(w, "missing code parameter", http.StatusBadRequest)
			return
		}

		if !store.VerifyState(query.Get("state")) {
			logger.WarnKV(ctx, "Callback with bad state value", "vendor", store.Name())
			http.Error(w, "state mismatch", http.StatusForbidden)

			return
		}

		success := store.ExchangeCode(ctx, code)

		status := http.StatusOK
		if !success {
			status = http.StatusBadGateway
		}

		writeJSON(w, status, map[string]bool{"success": success})
	}
}

// pingHandler answers the liveness probe.
func pingHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("pong"))
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(body)
}
