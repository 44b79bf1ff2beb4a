package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"staffplanner/internal/engine"
)

// respondError maps engine errors to status codes. Conflict bodies carry the violated
// dates and rates so callers can decide whether to retry with force.
func respondError(c *gin.Context, log *zap.Logger, op string, err error) {
	var (
		validation *engine.ValidationError
		notFound   *engine.NotFoundError
		overlap    *engine.OverlapConflictError
		capacity   *engine.CapacityExceededError
	)

	switch {
	case errors.As(err, &validation):
		log.Warn(op+": invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"field":   validation.Field,
			"message": validation.Error(),
		})
	case errors.As(err, &notFound):
		log.Warn(op+": not found", zap.Error(err))
		c.JSON(http.StatusNotFound, gin.H{
			"error":    "not_found",
			"resource": notFound.Resource,
			"id":       notFound.ID,
		})
	case errors.As(err, &overlap):
		log.Info(op+": overlap conflict", zap.String("employee_id", overlap.EmployeeID))
		c.JSON(http.StatusConflict, gin.H{
			"error":       "overlap_conflict",
			"message":     overlap.Error(),
			"employee_id": overlap.EmployeeID,
			"overlaps":    overlap.Overlaps,
		})
	case errors.As(err, &capacity):
		log.Info(op+": capacity exceeded", zap.String("employee_id", capacity.EmployeeID))
		c.JSON(http.StatusConflict, gin.H{
			"error":            "capacity_exceeded",
			"message":          capacity.Error(),
			"employee_id":      capacity.EmployeeID,
			"utilization_rate": capacity.UtilizationRate,
			"violations":       capacity.Violations,
		})
	case errors.Is(err, engine.ErrCapacityReadOnly):
		log.Warn(op+": capacity is read-only", zap.Error(err))
		c.JSON(http.StatusNotImplemented, gin.H{"error": "capacity_read_only", "message": err.Error()})
	case errors.Is(err, engine.ErrConcurrencyConflict):
		log.Warn(op+": concurrency conflict", zap.Error(err))
		c.JSON(http.StatusConflict, gin.H{
			"error":     "concurrency_conflict",
			"message":   "the allocation changed concurrently, retry the request",
			"retryable": true,
		})
	default:
		log.Error(op+": failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func badJSON(c *gin.Context, log *zap.Logger, op string, err error) {
	log.Warn(op+": malformed body", zap.Error(err))
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
}
