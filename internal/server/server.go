// Package server exposes the chat service over HTTP, websocket and SSE.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/junction/internal/chat"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Chat          *chat.Service
	Port          int
	SessionBuffer int
	Out           io.Writer
}

// NewRouter builds the gin engine serving every route.
func NewRouter(svc *chat.Service, sessionBuffer int) *gin.Engine {
	if sessionBuffer <= 0 {
		sessionBuffer = 64
	}
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, &handlers{chat: svc, buffer: sessionBuffer})
	return router
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Chat == nil {
		return fmt.Errorf("server: chat service is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           NewRouter(opts.Chat, opts.SessionBuffer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Junction listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
