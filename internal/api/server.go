package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/advisorhq/advisor/internal/corpus"
	"github.com/advisorhq/advisor/internal/index"
	"github.com/advisorhq/advisor/internal/message"
	"github.com/advisorhq/advisor/internal/pipeline"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger     *slog.Logger
	Pipeline   *pipeline.Pipeline // Required
	Messages   *message.Store     // Required
	Corpus     *corpus.Repository // Required
	Index      *index.Index       // Required
	TrustProxy bool               // Trust X-Real-IP/X-Forwarded-For headers (behind reverse proxy)
	RateLimit  float64            // Token refill rate per IP per second (0 = default 1)
	RateBurst  int                // Rate limiter burst size per IP (0 = default 20)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if cfg.Messages == nil {
		return nil, errors.New("message store is required")
	}
	if cfg.Corpus == nil {
		return nil, errors.New("corpus repository is required")
	}
	if cfg.Index == nil {
		return nil, errors.New("index is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &chatHandler{
		pipeline: cfg.Pipeline,
		messages: cfg.Messages,
		logger:   logger,
	}
	ah := &adviceHandler{corpus: cfg.Corpus, logger: logger}
	mh := &messageHandler{messages: cfg.Messages, logger: logger}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", ch.serve)

	mux.HandleFunc("GET /api/advice", ah.browse)
	mux.HandleFunc("GET /api/advice/categories", ah.categories)

	mux.HandleFunc("GET /api/messages", mh.list)
	mux.HandleFunc("GET /api/messages/{id}", mh.get)
	mux.HandleFunc("POST /api/messages/{id}/feedback", mh.feedback)

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 1.0
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 20
	}
	rl := newRateLimiter(limit, burst)

	// Middleware stack, outermost first:
	//   Recovery → Logging → RateLimit → Routes
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the middleware stack.
	hh := &healthHandler{corpus: cfg.Corpus, index: cfg.Index}
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /healthz", hh.healthz)
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
