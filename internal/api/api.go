// Package api provides the HTTP server for DocFinder.
//
// It exposes the chat endpoint that advances a patient conversation, the
// Twilio WhatsApp webhook, and a health check.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/DocFinder/internal/models"
	"github.com/BTreeMap/DocFinder/internal/store"
	"github.com/BTreeMap/DocFinder/internal/twiliowhatsapp"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// RequestIDHeader carries the per-request identifier.
const RequestIDHeader = "X-Request-ID"

// Advancer advances one patient conversation.
type Advancer interface {
	Advance(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error)
}

// PatientFinder resolves an inbound phone number to a patient.
type PatientFinder interface {
	FindPatientByPhone(ctx context.Context, phone string) (*models.Patient, error)
}

// SignatureValidator checks inbound webhook signatures.
type SignatureValidator interface {
	Validate(r *http.Request) bool
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.opts.Addr = addr
		}
	}
}

// WithTwilio registers the WhatsApp webhook.
func WithTwilio(sender twiliowhatsapp.Sender, validator SignatureValidator, patients PatientFinder, dedup store.DedupRepo) Option {
	return func(s *Server) {
		s.sender = sender
		s.validator = validator
		s.patients = patients
		s.dedup = dedup
	}
}

// WithHealthCheck adds a named dependency check to GET /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		s.checks = append(s.checks, namedCheck{name: name, check: check})
	}
}

type namedCheck struct {
	name  string
	check HealthCheck
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	opts       Opts
	controller Advancer
	sender     twiliowhatsapp.Sender
	validator  SignatureValidator
	patients   PatientFinder
	dedup      store.DedupRepo
	checks     []namedCheck
}

// NewServer creates a Server around controller.
func NewServer(controller Advancer, opts ...Option) *Server {
	s := &Server{
		opts:       Opts{Addr: DefaultAddr},
		controller: controller,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with request-id middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", s.chatHandler)
	mux.HandleFunc("/health", s.healthHandler)
	if s.sender != nil && s.patients != nil {
		mux.HandleFunc("/twilio/whatsapp", s.twilioWebhookHandler)
		slog.Debug("Server.Handler: Twilio webhook registered")
	}
	return withRequestID(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: shutdown failed", "error", err)
		return err
	}
	return nil
}

type requestIDKey struct{}

// withRequestID echoes an inbound X-Request-ID or assigns a new one.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestID returns the request identifier stored by the middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
