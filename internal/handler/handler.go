// Package handler exposes the forwarding core over HTTP: trigger endpoints
// for cycles and single transactions, record lookups, and liveness.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pos-forwarder/internal/forwarder"
	"pos-forwarder/internal/repository"
)

// Pinger reports backend connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type pingerFunc func(ctx context.Context) error

func (fn pingerFunc) Ping(ctx context.Context) error { return fn(ctx) }

// PingerFunc adapts a function to Pinger.
func PingerFunc(fn func(ctx context.Context) error) Pinger { return pingerFunc(fn) }

// Handler carries the HTTP dependencies.
type Handler struct {
	forwarder *forwarder.Forwarder
	records   repository.ForwardingRecordRepository
	database  Pinger
	redis     Pinger
}

// New builds a Handler.
func New(fwd *forwarder.Forwarder, records repository.ForwardingRecordRepository, database, redis Pinger) *Handler {
	return &Handler{
		forwarder: fwd,
		records:   records,
		database:  database,
		redis:     redis,
	}
}

// Register mounts the routes on the router.
func (h *Handler) Register(router *gin.Engine) {
	router.POST("/forwarding/run", h.RunCycle)
	router.POST("/forwarding/transactions/:id", h.ForwardTransaction)
	router.GET("/forwarding/records/:submission", h.RecordsBySubmission)
	router.GET("/health", h.Health)
}

// RunCycle triggers one forwarding cycle.
func (h *Handler) RunCycle(c *gin.Context) {
	result, err := h.forwarder.ProcessUnforwarded(c.Request.Context())
	if err != nil {
		if errors.Is(err, forwarder.ErrEndpointNotConfigured) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ForwardTransaction forwards a single transaction immediately.
func (h *Handler) ForwardTransaction(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "transaction id must be numeric"})
		return
	}

	result, err := h.forwarder.ForwardImmediately(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, forwarder.ErrEndpointNotConfigured):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		case errors.Is(err, forwarder.ErrNotForwardable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

// RecordsBySubmission lists forwarding records for a submission UUID.
func (h *Handler) RecordsBySubmission(c *gin.Context) {
	submission := c.Param("submission")
	if submission == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "submission uuid is required"})
		return
	}

	records, err := h.records.ListBySubmission(c.Request.Context(), submission)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"submission_uuid": submission, "records": records})
}

// Health reports liveness and backend connectivity.
func (h *Handler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	status := http.StatusOK
	services := gin.H{}

	if err := h.database.Ping(ctx); err != nil {
		services["database"] = "error"
		status = http.StatusServiceUnavailable
	} else {
		services["database"] = "ok"
	}
	if err := h.redis.Ping(ctx); err != nil {
		services["redis"] = "error"
		status = http.StatusServiceUnavailable
	} else {
		services["redis"] = "ok"
	}

	c.JSON(status, gin.H{"status": statusWord(status), "services": services})
}

func statusWord(status int) string {
	if status == http.StatusOK {
		return "ok"
	}
	return "degraded"
}
