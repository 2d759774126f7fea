package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RouterConfig wires the handlers served by NewRouter.
type RouterConfig struct {
	Status     *StatusHandler
	Logger     *slog.Logger
	Middleware []gin.HandlerFunc
}

// NewRouter builds the gin engine serving the operations endpoints.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(cfg.Logger))
	for _, mw := range cfg.Middleware {
		if mw != nil {
			router.Use(mw)
		}
	}

	if cfg.Status != nil {
		router.GET("/healthz", cfg.Status.Health)
		router.GET("/runs/latest", cfg.Status.LatestRun)
	}
	return router
}

// NewServer wraps handler in an http.Server listening on addr.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
