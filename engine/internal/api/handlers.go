package api

import (
	"errors"
	"net/http"

	"venue-execution-engine/engine/internal/execution"
	"venue-execution-engine/engine/internal/models"
	"venue-execution-engine/engine/internal/orchestrator"
	"venue-execution-engine/engine/internal/risk"
	"venue-execution-engine/engine/internal/venue"

	"github.com/gin-gonic/gin"
)

type reasonRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) healthCheck(c *gin.Context) {
	status := "ok"
	if s.svc.Risk.Stopped() || s.svc.Venues.Halted() {
		status = "halted"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        status,
		"activeVenue":   s.svc.Venues.ActiveVenue(),
		"emergencyStop": s.svc.Risk.Stopped(),
	})
}

func (s *Server) getLogs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entries": s.log.GetEntries()})
}

func (s *Server) getRiskState(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Risk.State())
}

func (s *Server) getRiskMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Risk.Snapshot())
}

func (s *Server) emergencyStop(c *gin.Context) {
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.svc.Risk.TriggerEmergencyStop(req.Reason)
	s.svc.Venues.Halt(req.Reason)
	s.log.Warnf("Emergency stop requested by operator: %s", req.Reason)
	c.JSON(http.StatusOK, gin.H{"emergencyStop": true})
}

func (s *Server) override(c *gin.Context) {
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.svc.Risk.ManualOverride(req.Reason)
	s.svc.Venues.Resume()
	s.log.Warnf("Manual override by operator: %s", req.Reason)
	c.JSON(http.StatusOK, gin.H{"emergencyStop": false})
}

func (s *Server) listVenues(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active": s.svc.Venues.ActiveVenue(),
		"venues": s.svc.Venues.Statuses(),
	})
}

func (s *Server) reviveVenue(c *gin.Context) {
	id := c.Param("id")
	if err := s.svc.Venues.Revive(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"venue": id, "revived": true})
}

func (s *Server) getPrices(c *gin.Context) {
	prices, ok := s.svc.Venues.Prices(c.Param("asset"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no prices for asset"})
		return
	}
	c.JSON(http.StatusOK, prices)
}

func (s *Server) getPerformance(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": s.svc.Performance.GetEntries()})
}

func (s *Server) submitTrade(c *gin.Context) {
	var req models.TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := s.svc.Trader.Submit(c.Request.Context(), req)
	var rej *risk.Rejection
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"order": order})
	case errors.As(err, &rej):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": rej.Reason, "order": order})
	case order.ID == "":
		s.writeError(c, err)
	default:
		s.log.Errorf("Trade %s failed: %v", order.ID, err)
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "order": order})
	}
}

func (s *Server) listTrades(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"orders": s.svc.Trader.GetAllOrders()})
}

func (s *Server) getTrade(c *gin.Context) {
	order, ok := s.svc.Trader.Order(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (s *Server) closeTrade(c *gin.Context) {
	price, err := s.svc.Trader.Close(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "soldFor": price})
}

func (s *Server) writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, execution.ErrInvalidRequest), errors.Is(err, venue.ErrInvalidTrade):
		return http.StatusBadRequest
	case errors.Is(err, venue.ErrProtocolTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, execution.ErrUnknownOrder), errors.Is(err, orchestrator.ErrUnknownVenue),
		errors.Is(err, venue.ErrUnknownContract):
		return http.StatusNotFound
	case errors.Is(err, execution.ErrNotOpen), errors.Is(err, execution.ErrDuplicateOrder):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrNoVenuesAvailable), errors.Is(err, venue.ErrUnavailable),
		errors.Is(err, risk.ErrEmergencyStop):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
