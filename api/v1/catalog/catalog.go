package catalog

import (
	"errors"
	"net/http"
	"time"

	"servicecatalog-cron/models"
	v1 "servicecatalog-cron/services/v1"

	"github.com/gin-gonic/gin"
)

// Handler serves the service catalog and enrollment endpoints.
type Handler struct {
	catalog   *v1.Catalog
	scheduler *v1.Scheduler
	metrics   v1.RunMetrics
}

func NewHandler(catalog *v1.Catalog, scheduler *v1.Scheduler, metrics v1.RunMetrics) *Handler {
	return &Handler{catalog: catalog, scheduler: scheduler, metrics: metrics}
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	services := rg.Group("/services")
	{
		services.GET("", h.ListServices)
		services.POST("", h.SubmitService)
		services.GET("/:id", h.GetService)
		services.POST("/:id/activate", h.ActivateService)
		services.PUT("/:id/scripts/:os", h.UpdateScript)
		services.POST("/:id/scripts/:os/approve", h.ApproveScript)
		services.GET("/:id/next-run", h.NextRun)
		services.GET("/:id/enrollments", h.ListEnrollments)
		services.POST("/:id/enrollments", h.Enroll)
	}

	enrollments := rg.Group("/enrollments")
	{
		enrollments.GET("/:id", h.GetEnrollment)
		enrollments.POST("/:id/run", h.RunNow)
		enrollments.GET("/:id/metrics", h.Metrics)
	}

	rg.POST("/tickets/preview", h.PreviewTicket)
}

func (h *Handler) ListServices(c *gin.Context) {
	services, err := h.catalog.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, services)
}

func (h *Handler) SubmitService(c *gin.Context) {
	var def models.ServiceDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	created, err := h.catalog.Submit(c.Request.Context(), def)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) GetService(c *gin.Context) {
	def, err := h.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

func (h *Handler) ActivateService(c *gin.Context) {
	def, err := h.catalog.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

type scriptRequest struct {
	Body string `json:"body"`
}

func (h *Handler) UpdateScript(c *gin.Context) {
	var req scriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	def, err := h.catalog.UpdateScript(c.Request.Context(), c.Param("id"), models.OS(c.Param("os")), req.Body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

type approveRequest struct {
	Approver string `json:"approver"`
}

func (h *Handler) ApproveScript(c *gin.Context) {
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	def, err := h.catalog.ApproveScript(c.Request.Context(), c.Param("id"), models.OS(c.Param("os")), req.Approver)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

func (h *Handler) NextRun(c *gin.Context) {
	p, err := h.catalog.Policy(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "service has no health check"})
		return
	}
	after := time.Now().UTC()
	if raw := c.Query("after"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "after must be RFC3339"})
			return
		}
		after = t
	}
	next, err := v1.NextDueTime(p, after)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"after":    after,
		"next":     next,
		"timezone": p.Location().String(),
		"local":    next.In(p.Location()).Format(time.RFC3339),
	})
}

func (h *Handler) ListEnrollments(c *gin.Context) {
	enrollments, err := h.catalog.Enrollments(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if enrollments == nil {
		enrollments = []models.Enrollment{}
	}
	c.JSON(http.StatusOK, enrollments)
}

func (h *Handler) Enroll(c *gin.Context) {
	var e models.Enrollment
	if err := c.ShouldBindJSON(&e); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e.ServiceID = c.Param("id")
	created, err := h.catalog.Enroll(c.Request.Context(), e)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) GetEnrollment(c *gin.Context) {
	report, err := h.catalog.Report(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) RunNow(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler not running"})
		return
	}
	run, tr, err := h.scheduler.CheckNow(c.Request.Context(), c.Param("id"))
	if err != nil && !errors.Is(err, v1.ErrExecution) {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run":     run,
		"state":   tr.State,
		"intents": tr.Intents,
	})
}

func (h *Handler) Metrics(c *gin.Context) {
	date := c.DefaultQuery("date", time.Now().UTC().Format("2006-01-02"))
	if _, err := time.Parse("2006-01-02", date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	counts, err := h.metrics.DailyCounts(c.Request.Context(), c.Param("id"), date)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "counts": counts})
}

type previewRequest struct {
	Template string             `json:"template"`
	Bindings *v1.TicketBindings `json:"bindings,omitempty"`
}

func (h *Handler) PreviewTicket(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	bindings := v1.ExampleBindings
	if req.Bindings != nil {
		bindings = *req.Bindings
	}
	c.JSON(http.StatusOK, gin.H{
		"rendered": v1.RenderTicket(req.Template, bindings),
		"tokens":   v1.TemplateTokens,
	})
}

func writeError(c *gin.Context, err error) {
	var verr *v1.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, v1.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, v1.ErrScriptNotApproved), errors.Is(err, v1.ErrPolicyDisabled), errors.Is(err, v1.ErrNoUpcomingRun):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
