package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"venue-execution-engine/engine/config"
	"venue-execution-engine/engine/internal/execution"
	"venue-execution-engine/engine/internal/logger"
	"venue-execution-engine/engine/internal/marketdata"
	"venue-execution-engine/engine/internal/models"
	"venue-execution-engine/engine/internal/orchestrator"
	"venue-execution-engine/engine/internal/portfolio"
	"venue-execution-engine/engine/internal/risk"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// RiskControl is the risk gate as seen by operators
type RiskControl interface {
	State() risk.State
	Snapshot() risk.Metrics
	Stopped() bool
	TriggerEmergencyStop(reason string)
	ManualOverride(reason string)
}

// VenueControl is the orchestrator as seen by operators
type VenueControl interface {
	Statuses() []orchestrator.VenueStatus
	ActiveVenue() string
	Prices(asset string) (marketdata.Consolidated, bool)
	Halt(reason string)
	Resume()
	Halted() bool
	Revive(ctx context.Context, id string) error
}

// Trader submits and inspects orders
type Trader interface {
	Submit(ctx context.Context, req models.TradeRequest) (execution.Order, error)
	Order(id string) (execution.Order, bool)
	GetAllOrders() []execution.Order
	Close(ctx context.Context, id string) (float64, error)
}

// PerformanceSource lists per-strategy results
type PerformanceSource interface {
	GetEntries() []portfolio.Performance
}

// Services is everything the ops API reads or drives
type Services struct {
	Risk        RiskControl
	Venues      VenueControl
	Trader      Trader
	Performance PerformanceSource
}

// Server is the operator HTTP surface
type Server struct {
	cfg    config.APIConfig
	router *gin.Engine
	svc    Services
	log    *logger.Logger
}

func NewServer(cfg config.APIConfig, svc Services, log *logger.Logger) *Server {
	s := &Server{
		cfg: cfg,
		svc: svc,
		log: log.Named("api"),
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(s.log.Zap(), time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.log.Zap(), true))
	s.router = router
	s.registerRoutes()
	return s
}

// Router returns the gin engine; used by tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/logs", s.getLogs)

		r := v1.Group("/risk")
		r.GET("/state", s.getRiskState)
		r.GET("/metrics", s.getRiskMetrics)
		r.POST("/emergency-stop", s.emergencyStop)
		r.POST("/override", s.override)

		v := v1.Group("/venues")
		v.GET("", s.listVenues)
		v.POST("/:id/revive", s.reviveVenue)

		v1.GET("/prices/:asset", s.getPrices)
		v1.GET("/performance", s.getPerformance)

		t := v1.Group("/trades")
		t.POST("", s.submitTrade)
		t.GET("", s.listTrades)
		t.GET("/:id", s.getTrade)
		t.POST("/:id/close", s.closeTrade)
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("Ops API listening on %s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.log.Info("Ops API stopped")
		return nil
	}
}
