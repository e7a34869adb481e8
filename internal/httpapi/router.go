// Package httpapi serves the exchange's read-only admin surface:
// health, Prometheus metrics, and per-instrument book snapshots. It
// never accepts orders; all trading flows through internal/ingress.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/nexusfix/exchange/internal/config"
	"github.com/nexusfix/exchange/internal/engine"
)

// Server owns the admin HTTP surface's listener lifecycle.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// Params is the fx.In bundle for NewServer.
type Params struct {
	fx.In

	Config    *config.Config
	Engine    *engine.Engine
	Registry  *prometheus.Registry
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

// Module wires the admin HTTP server into the fx graph.
var Module = fx.Options(
	fx.Invoke(NewServer),
)

// NewServer builds the gin router and registers Start/Stop lifecycle
// hooks; it does not bind its listener until OnStart fires.
func NewServer(p Params) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	router.GET("/healthz", healthHandler)
	router.GET("/metrics", gin.WrapH(gzhttp.GzipHandler(promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{}))))
	router.GET("/instruments", instrumentsHandler(p.Engine))
	router.GET("/instruments/:symbol/snapshot", snapshotHandler(p.Engine, p.Config.Engine.SnapshotDepth))
	router.GET("/accounts/:id", accountHandler(p.Engine))

	addr := fmt.Sprintf("%s:%d", p.Config.Admin.Host, p.Config.Admin.Port)
	s := &Server{
		httpServer: &http.Server{Addr: addr, Handler: router},
		logger:     p.Logger,
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.logger.Info("admin http listening", zap.String("addr", addr))
			go func() {
				if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					s.logger.Error("admin http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return s.httpServer.Shutdown(ctx)
		},
	})

	return s
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func instrumentsHandler(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"instruments": eng.Instruments()})
	}
}

func snapshotHandler(eng *engine.Engine, defaultDepth int) gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := engine.InstrumentID(c.Param("symbol"))
		depth := defaultDepth
		if v := c.Query("depth"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				depth = n
			}
		}
		bids, asks, ok := eng.SnapshotBook(symbol, depth)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown instrument"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"symbol": symbol, "bids": bids, "asks": asks})
	}
}

func accountHandler(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := engine.AccountID(c.Param("id"))
		bankroll, ok := eng.Ledger().Snapshot(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown account"})
			return
		}
		c.JSON(http.StatusOK, bankroll)
	}
}
