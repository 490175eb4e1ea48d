package httptransport

import (
	"log/slog"
	"net/http"
	"time"
)

// ServerConfig contains tunables for the HTTP server.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// AllowedOrigin enables CORS for a single browser origin when set.
	AllowedOrigin string
}

// DefaultServerConfig returns the timeouts the services run with.
func DefaultServerConfig(address string) ServerConfig {
	return ServerConfig{
		Address:      address,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates *http.Server with provided handler wrapped in the
// standard middleware chain: request id, request log, panic recovery and CORS.
func NewServer(cfg ServerConfig, handler http.Handler, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &http.Server{
		Addr:         cfg.Address,
		Handler:      Chain(handler, cfg.AllowedOrigin, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
}

// Chain applies the middleware stack to next, outermost first.
func Chain(next http.Handler, allowedOrigin string, logger *slog.Logger) http.Handler {
	h := next
	if allowedOrigin != "" {
		h = CORS(allowedOrigin, h)
	}
	h = Recover(logger, h)
	h = RequestLog(logger, h)
	return RequestID(h)
}
