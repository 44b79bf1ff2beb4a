package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"staffplanner/internal/engine"
	"staffplanner/internal/model"
	"staffplanner/pkg/logger"
)

type PlannerHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

func NewPlannerHandler(eng *engine.Engine, logger *zap.Logger) *PlannerHandler {
	return &PlannerHandler{engine: eng, logger: logger}
}

func (h *PlannerHandler) log(c *gin.Context) *zap.Logger {
	return logger.WithTrace(c.Request.Context(), h.logger)
}

func forceParam(c *gin.Context) bool {
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))
	return force
}

// CreateAllocation handles POST /allocations?force=
func (h *PlannerHandler) CreateAllocation(c *gin.Context) {
	log := h.log(c)
	var req allocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c, log, "CreateAllocation", err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		respondError(c, log, "CreateAllocation", err)
		return
	}

	result, err := h.engine.CreateAllocation(c.Request.Context(), in, forceParam(c))
	if err != nil {
		respondError(c, log, "CreateAllocation", err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// UpdateAllocation handles PATCH /allocations/:id?force=
func (h *PlannerHandler) UpdateAllocation(c *gin.Context) {
	log := h.log(c)
	var req allocationPatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c, log, "UpdateAllocation", err)
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		respondError(c, log, "UpdateAllocation", err)
		return
	}

	result, err := h.engine.UpdateAllocation(c.Request.Context(), c.Param("id"), patch, forceParam(c))
	if err != nil {
		respondError(c, log, "UpdateAllocation", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RemoveAllocation handles DELETE /allocations/:id
func (h *PlannerHandler) RemoveAllocation(c *gin.Context) {
	removed, err := h.engine.RemoveAllocation(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log(c), "RemoveAllocation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"allocation": removed})
}

// CheckConflicts handles POST /conflicts/check
func (h *PlannerHandler) CheckConflicts(c *gin.Context) {
	log := h.log(c)
	var req conflictCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c, log, "CheckConflicts", err)
		return
	}
	q, err := req.toQuery()
	if err != nil {
		respondError(c, log, "CheckConflicts", err)
		return
	}

	report, err := h.engine.CheckConflicts(c.Request.Context(), q)
	if err != nil {
		respondError(c, log, "CheckConflicts", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ValidateCapacity handles POST /capacity/validate
func (h *PlannerHandler) ValidateCapacity(c *gin.Context) {
	log := h.log(c)
	var req capacityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c, log, "ValidateCapacity", err)
		return
	}
	r, err := req.toRequest()
	if err != nil {
		respondError(c, log, "ValidateCapacity", err)
		return
	}

	result, err := h.engine.ValidateCapacity(c.Request.Context(), r)
	if err != nil {
		respondError(c, log, "ValidateCapacity", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ResolveConflict handles POST /conflicts/:id/resolve. A resolution blocked by remaining
// conflicts is not an error: it answers 200 with state failed.
func (h *PlannerHandler) ResolveConflict(c *gin.Context) {
	log := h.log(c)
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c, log, "ResolveConflict", err)
		return
	}
	res, err := req.toResolution(c.Param("id"))
	if err != nil {
		respondError(c, log, "ResolveConflict", err)
		return
	}

	result, err := h.engine.ResolveConflict(c.Request.Context(), res)
	if err != nil {
		respondError(c, log, "ResolveConflict", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// AutoResolve handles POST /conflicts/auto-resolve
func (h *PlannerHandler) AutoResolve(c *gin.Context) {
	log := h.log(c)
	var req autoResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c, log, "AutoResolve", err)
		return
	}
	ctx := c.Request.Context()

	var conflicts []model.Conflict
	if len(req.ConflictIDs) > 0 {
		loaded, err := h.engine.RecordedConflicts(ctx, req.ConflictIDs)
		if err != nil {
			respondError(c, log, "AutoResolve", err)
			return
		}
		conflicts = loaded
	} else {
		q, err := conflictCheckRequest{EmployeeID: req.EmployeeID, StartDate: req.StartDate, EndDate: req.EndDate}.toQuery()
		if err != nil {
			respondError(c, log, "AutoResolve", err)
			return
		}
		report, err := h.engine.CheckConflicts(ctx, q)
		if err != nil {
			respondError(c, log, "AutoResolve", err)
			return
		}
		conflicts = report.Conflicts
	}

	outcomes := h.engine.AutoResolve(ctx, conflicts)
	resolved := 0
	for _, o := range outcomes {
		if o.Result != nil && o.Result.State == model.StateResolved {
			resolved++
		}
	}
	log.Info("AutoResolve finished", zap.Int("conflicts", len(conflicts)), zap.Int("resolved", resolved))
	c.JSON(http.StatusOK, gin.H{
		"resolved": resolved,
		"outcomes": outcomes,
	})
}

// SetCapacity handles PUT /employees/:id/capacity/:date
func (h *PlannerHandler) SetCapacity(c *gin.Context) {
	log := h.log(c)
	var req capacityOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badJSON(c, log, "SetCapacity", err)
		return
	}
	if req.AvailableHours == nil {
		respondError(c, log, "SetCapacity", &engine.ValidationError{Field: "available_hours", Message: "is required"})
		return
	}
	day, err := parseDate("date", c.Param("date"))
	if err != nil {
		respondError(c, log, "SetCapacity", err)
		return
	}

	override, err := h.engine.SetCapacityOverride(c.Request.Context(), c.Param("id"), day, *req.AvailableHours)
	if err != nil {
		respondError(c, log, "SetCapacity", err)
		return
	}
	c.JSON(http.StatusOK, override)
}

// ResolutionHistory handles GET /conflicts/:id/resolutions
func (h *PlannerHandler) ResolutionHistory(c *gin.Context) {
	records, err := h.engine.ResolutionHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log(c), "ResolutionHistory", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolutions": records})
}

// Utilization handles GET /utilization?start=&end=&department=
func (h *PlannerHandler) Utilization(c *gin.Context) {
	log := h.log(c)
	start, err := parseDate("start", c.Query("start"))
	if err != nil {
		respondError(c, log, "Utilization", err)
		return
	}
	end, err := parseDate("end", c.Query("end"))
	if err != nil {
		respondError(c, log, "Utilization", err)
		return
	}

	began := time.Now()
	summary, err := h.engine.GetUtilizationSummary(c.Request.Context(), start, end, c.Query("department"))
	if err != nil {
		respondError(c, log, "Utilization", err)
		return
	}
	log.Debug("Utilization computed",
		zap.Int("employees", summary.TotalEmployees),
		zap.Duration("latency", time.Since(began)))
	c.JSON(http.StatusOK, summary)
}
