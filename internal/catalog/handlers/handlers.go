package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gstripling00/prompt-system/internal/catalog/controller"
	"github.com/gstripling00/prompt-system/internal/catalog/service"
	"github.com/gstripling00/prompt-system/internal/common/constants"
	apperrors "github.com/gstripling00/prompt-system/internal/common/errors"
	"github.com/gstripling00/prompt-system/internal/common/logger"
	usagemodels "github.com/gstripling00/prompt-system/internal/usage/models"
	usageservice "github.com/gstripling00/prompt-system/internal/usage/service"
)

type Handlers struct {
	controller *controller.Controller
	logger     *logger.Logger
}

func NewHandlers(ctrl *controller.Controller, log *logger.Logger) *Handlers {
	return &Handlers{
		controller: ctrl,
		logger:     log.WithFields(zap.String("component", "catalog-handlers")),
	}
}

func RegisterRoutes(router *gin.Engine, ctrl *controller.Controller, log *logger.Logger) {
	handlers := NewHandlers(ctrl, log)
	router.GET("/health", handlers.httpHealth)

	api := router.Group("/api/v1")
	api.GET("/prompts", handlers.httpListPrompts)
	api.GET("/prompts/:id", handlers.httpGetPrompt)
	api.GET("/prompts/:id/history", handlers.httpPromptHistory)
	api.GET("/prompts/:id/usage", handlers.httpPromptUsage)
	api.GET("/prompts/:id/usage/events", handlers.httpPromptUsageEvents)
	api.GET("/batches", handlers.httpListBatches)
	api.POST("/batches", handlers.httpUploadBatch)
	api.GET("/ingestions", handlers.httpListIngestions)
	api.GET("/ingestions/:id", handlers.httpGetIngestion)
	api.GET("/alerts", handlers.httpListAlerts)
	api.POST("/usage", handlers.httpRecordUsage)
}

func (h *Handlers) httpHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) httpListPrompts(c *gin.Context) {
	includeInactive, _ := strconv.ParseBool(c.Query("include_inactive"))
	resp, err := h.controller.ListPrompts(c.Request.Context(), c.Query("phase"), includeInactive, queryInt(c, "limit"))
	if err != nil {
		h.fail(c, err, "failed to list prompts")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) httpGetPrompt(c *gin.Context) {
	resp, err := h.controller.GetPrompt(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "failed to get prompt")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) httpPromptHistory(c *gin.Context) {
	resp, err := h.controller.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "failed to get prompt history")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) httpPromptUsage(c *gin.Context) {
	resp, err := h.controller.UsageSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "failed to summarize usage")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) httpPromptUsageEvents(c *gin.Context) {
	resp, err := h.controller.UsageEvents(c.Request.Context(), c.Param("id"), queryInt(c, "limit"))
	if err != nil {
		h.fail(c, err, "failed to list usage events")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) httpListBatches(c *gin.Context) {
	resp, err := h.controller.ListBatches(c.Request.Context())
	if err != nil {
		h.fail(c, err, "failed to list batches")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) httpUploadBatch(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, constants.MaxBatchUploadBytes)
	header, err := c.FormFile("file")
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		h.fail(c, err, "failed to upload batch")
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, apperrors.Body(apperrors.ValidationError("file", "a batch file is required")))
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, apperrors.Body(apperrors.BadRequest("unreadable upload")))
		return
	}
	defer func() { _ = file.Close() }()

	resp, err := h.controller.UploadBatch(c.Request.Context(), header.Filename, file)
	if err != nil {
		h.fail(c, err, "failed to upload batch")
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

func (h *Handlers) httpListIngestions(c *gin.Context) {
	resp, err := h.controller.ListRuns(c.Request.Context(), queryInt(c, "limit"))
	if err != nil {
		h.fail(c, err, "failed to list ingestion runs")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) httpGetIngestion(c *gin.Context) {
	resp, err := h.controller.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err, "failed to get ingestion run")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) httpListAlerts(c *gin.Context) {
	openOnly, _ := strconv.ParseBool(c.Query("open"))
	resp, err := h.controller.ListAlerts(c.Request.Context(), openOnly, queryInt(c, "limit"))
	if err != nil {
		h.fail(c, err, "failed to list alerts")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) httpRecordUsage(c *gin.Context) {
	var event usagemodels.Event
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.Body(apperrors.BadRequest("invalid payload")))
		return
	}
	resp, err := h.controller.RecordUsage(c.Request.Context(), event)
	if err != nil {
		h.fail(c, err, "failed to record usage")
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

func (h *Handlers) fail(c *gin.Context, err error, message string) {
	appErr := toAppError(err, c.Param("id"), message)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		h.logger.WithContext(c.Request.Context()).Error(message, zap.Error(err))
	}
	c.JSON(appErr.HTTPStatus, apperrors.Body(appErr))
}

func toAppError(err error, id, message string) *apperrors.AppError {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, service.ErrPromptNotFound):
		return apperrors.NotFound("prompt", id)
	case errors.Is(err, controller.ErrRunNotFound):
		return apperrors.NotFound("ingestion run", id)
	case errors.Is(err, service.ErrInvalidPhase):
		return apperrors.ValidationError("phase", err.Error())
	case errors.Is(err, service.ErrInvalidBatch):
		return apperrors.ValidationError("file", err.Error())
	case errors.Is(err, usageservice.ErrInvalidEvent):
		return apperrors.BadRequest(err.Error())
	case errors.As(err, &maxBytes):
		return apperrors.BadRequest("batch file too large")
	default:
		return apperrors.InternalError(message, err)
	}
}

func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
