// Package bridge is the local HTTP surface the UI talks to. It forwards
// operations to the dispatcher and fans relay events out over websocket
// and server-sent events.
package bridge

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/roadmap-manager/roadmap/internal/config"
	"github.com/roadmap-manager/roadmap/internal/dispatch"
	"github.com/roadmap-manager/roadmap/internal/document"
	"github.com/roadmap-manager/roadmap/internal/models"
	"github.com/roadmap-manager/roadmap/internal/relay"
	"github.com/roadmap-manager/roadmap/internal/supervisor"
)

const defaultHeartbeat = 15 * time.Second

// Dispatcher is the subset of *dispatch.Dispatcher the bridge uses.
type Dispatcher interface {
	Navigate(ctx context.Context, prompt, sessionID string, model *relay.Model) error
	ModalPrompt(ctx context.Context, prompt, sessionID string, model *relay.Model) error
	Sessions(ctx context.Context) ([]dispatch.Session, error)
	Models() []config.ModelConfig
}

// Service reports supervisor state.
type Service interface {
	Status() supervisor.Status
}

// History lists recorded runs.
type History interface {
	RecentOperations(limit int) ([]models.OperationRun, error)
	RecentServiceRuns(limit int) ([]models.ServiceRun, error)
}

// Deps are the components routes are served from. Service and History
// are optional.
type Deps struct {
	Hub        *Hub
	Dispatcher Dispatcher
	Document   *document.Store
	Service    Service
	History    History
	Heartbeat  time.Duration // SSE heartbeat interval
}

// StartOpts holds configuration for the bridge server.
type StartOpts struct {
	Deps
	Host string
	Port int
	Out  io.Writer
}

// NewRouter builds the gin engine with every bridge route.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.Hub == nil {
		return nil, fmt.Errorf("bridge: hub is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("bridge: dispatcher is required")
	}
	if deps.Document == nil {
		return nil, fmt.Errorf("bridge: document store is required")
	}
	if deps.Heartbeat <= 0 {
		deps.Heartbeat = defaultHeartbeat
	}

	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, deps)
	return router, nil
}

// Start serves the bridge until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Port <= 0 {
		opts.Port = 1430
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts.Deps)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Bridge listening at http://%s\n", addr)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("bridge: %w", err)
	}
	return nil
}
