// Package dashboard serves the local HTTP status API: read-only views of
// watched pipelines, merge requests and chains, plus endpoints to register
// new watches.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/signalbox/internal/remote"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	DB *gorm.DB
	// Remote resolves URLs and states of newly registered watches.
	Remote remote.Client
	Port   int
	Out    io.Writer
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("dashboard: db is required")
	}
	if opts.Remote == nil {
		return fmt.Errorf("dashboard: remote client is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8085
	}

	gin.SetMode(gin.ReleaseMode)
	router := newRouter(opts.DB, opts.Remote)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Status API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// newRouter builds the gin engine with every route registered.
func newRouter(gdb *gorm.DB, rc remote.Client) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, gdb, rc)
	return router
}
