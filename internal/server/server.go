package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Server wraps the configured HTTP server.
type Server struct {
	http *http.Server
}

func NewServer(addr string, api *API, apiKey string, logger *slog.Logger) *Server {
	router := NewRouter(api, apiKey, logger)

	s := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		// Create blocks on the image pull, which can take minutes on a
		// cold host.
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Server{http: s}
}

// NewRouter assembles the gin engine with the middleware chain and routes.
func NewRouter(api *API, apiKey string, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(logger))
	router.Use(LoggingMiddleware(logger))
	router.Use(AuthMiddleware(apiKey))
	api.RegisterRoutes(router)
	return router
}

func (s *Server) Run() error {
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
