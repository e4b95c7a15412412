// Package server provides HTTP server wiring and lifecycle management.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/open-wecom/kfsync/internal/platform/config"
	tlspkg "github.com/open-wecom/kfsync/internal/platform/http/tls"
	"github.com/open-wecom/kfsync/internal/platform/logutil"
)

// Server wraps the HTTP server, its router, and TLS lifecycle.
type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server

	// challengeServer is the plain-HTTP listener for ACME HTTP-01 challenges
	// and HTTPS redirects. Nil except in acme mode.
	challengeServer *http.Server
}

// New creates a server. mount is called once with the root router to attach
// application routes; transport middleware is already installed.
func New(cfg *config.Config, logger *slog.Logger, mount func(chi.Router)) *Server {
	logger = logutil.NoopIfNil(logger)

	s := &Server{cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(accessLog(logger))
	r.Use(chimw.Recoverer)
	mount(r)

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the listener. It blocks until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting server",
		"addr", s.cfg.ListenAddr,
		"tls_mode", s.cfg.TLS.Mode,
	)

	switch s.cfg.TLS.Mode {
	case "off":
		return s.httpServer.ListenAndServe()

	case "acme":
		return s.startACME()

	case "static", "selfsigned":
		manager := tlspkg.NewManager(&s.cfg.TLS, s.logger)
		tlsConfig, err := manager.GetTLSConfig(s.listenHost())
		if err != nil {
			return fmt.Errorf("failed to configure TLS: %w", err)
		}
		s.httpServer.TLSConfig = tlsConfig

		// Certs are in TLSConfig.Certificates; empty paths make
		// ListenAndServeTLS use them.
		return s.httpServer.ListenAndServeTLS("", "")

	default:
		return fmt.Errorf("%w: %s", tlspkg.ErrInvalidTLSMode, s.cfg.TLS.Mode)
	}
}

// startACME runs two listeners: a plain-HTTP one for HTTP-01 challenges and
// HTTPS redirects, and the TLS listener for the application router.
func (s *Server) startACME() error {
	httpAddr := s.cfg.TLS.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":80"
	}

	acmeMgr := tlspkg.NewACMEManager(&s.cfg.TLS.ACME, s.logger)

	challengeMux := http.NewServeMux()
	challengeMux.Handle("/.well-known/acme-challenge/", acmeMgr.ChallengeHandler())
	challengeMux.Handle("/", httpsRedirectHandler())

	s.challengeServer = &http.Server{
		Addr:         httpAddr,
		Handler:      challengeMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	challengeListener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return fmt.Errorf("challenge listener bind failed on %s: %w", httpAddr, err)
	}

	closeChallengeServer := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if shutdownErr := s.challengeServer.Shutdown(shutdownCtx); shutdownErr != nil && !errors.Is(shutdownErr, http.ErrServerClosed) {
			_ = s.challengeServer.Close()
		}
	}

	challengeErrCh := make(chan error, 1)
	go func() {
		challengeErrCh <- s.challengeServer.Serve(challengeListener)
	}()

	// Init loads existing certs (fast path) or contacts the ACME server. The
	// challenge listener must already be serving at this point.
	if initErr := acmeMgr.Init(context.Background()); initErr != nil {
		closeChallengeServer()
		return fmt.Errorf("ACME initialization failed: %w", initErr)
	}

	s.httpServer.TLSConfig = acmeMgr.GetTLSConfig()

	tlsListener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		closeChallengeServer()
		return fmt.Errorf("listener bind failed on %s: %w", s.cfg.ListenAddr, err)
	}

	tlsErrCh := make(chan error, 1)
	go func() {
		tlsErrCh <- s.httpServer.ServeTLS(tlsListener, "", "")
	}()

	s.logger.Info("starting ACME server",
		"http_addr", httpAddr,
		"https_addr", s.cfg.ListenAddr,
		"domain", s.cfg.TLS.ACME.Domain,
	)

	select {
	case tlsErr := <-tlsErrCh:
		closeChallengeServer()
		return tlsErr
	case challengeErr := <-challengeErrCh:
		if errors.Is(challengeErr, http.ErrServerClosed) {
			return <-tlsErrCh
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return fmt.Errorf("challenge server exited unexpectedly: %w", challengeErr)
	}
}

// httpsRedirectHandler issues HTTP 308 Permanent Redirect to the HTTPS
// equivalent of the request URL.
func httpsRedirectHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		http.Redirect(w, r, "https://"+host+r.URL.RequestURI(), http.StatusPermanentRedirect)
	})
}

// listenHost returns the host part of ListenAddr for certificate SANs.
func (s *Server) listenHost() string {
	host, _, err := net.SplitHostPort(s.cfg.ListenAddr)
	if err != nil || host == "" {
		return "localhost"
	}
	return host
}

// Shutdown gracefully shuts down the listener(s).
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var challengeErr error
	if s.challengeServer != nil {
		challengeErr = s.challengeServer.Shutdown(ctx)
	}

	return errors.Join(challengeErr, s.httpServer.Shutdown(ctx))
}
