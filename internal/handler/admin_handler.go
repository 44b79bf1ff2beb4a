package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"staffplanner/pkg/outbox"
)

// OutboxAdmin is the outbox maintenance surface of the Postgres driver.
type OutboxAdmin interface {
	GetFailedEvents(ctx context.Context, limit int) ([]*outbox.Event, error)
	ReplayFailedEvents(ctx context.Context, ids []int64) (int64, error)
}

type AdminHandler struct {
	outbox OutboxAdmin
	logger *zap.Logger
}

func NewAdminHandler(outbox OutboxAdmin, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		outbox: outbox,
		logger: logger,
	}
}

// ListFailedEvents 列出失败的事件
// GET /admin/outbox/failed?limit=100
func (h *AdminHandler) ListFailedEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}

	events, err := h.outbox.GetFailedEvents(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list failed events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}
	if events == nil {
		events = []*outbox.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// ReplayFailedEvents 重放失败的事件，可用 id 参数指定
// POST /admin/outbox/replay?id=1&id=2
func (h *AdminHandler) ReplayFailedEvents(c *gin.Context) {
	var ids []int64
	for _, raw := range c.QueryArray("id") {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id parameter", "id": raw})
			return
		}
		ids = append(ids, id)
	}

	count, err := h.outbox.ReplayFailedEvents(c.Request.Context(), ids)
	if err != nil {
		h.logger.Error("Failed to replay events", zap.Int64s("ids", ids), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to replay events"})
		return
	}

	h.logger.Info("Outbox events queued for replay", zap.Int64("count", count))
	c.JSON(http.StatusOK, gin.H{
		"status":   "replayed",
		"replayed": count,
	})
}
