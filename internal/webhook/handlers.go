package webhook

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/gstripling00/prompt-system/internal/common/errors"
	"github.com/gstripling00/prompt-system/internal/common/logger"
)

type Handlers struct {
	service *Service
	logger  *logger.Logger
}

func RegisterRoutes(router *gin.Engine, svc *Service, log *logger.Logger) {
	h := &Handlers{service: svc, logger: log.WithFields(zap.String("component", "webhook-handlers"))}
	router.POST("/webhook", h.httpSearch)
}

func (h *Handlers) httpSearch(c *gin.Context) {
	var req Request
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, apperrors.Body(apperrors.BadRequest("invalid payload")))
			return
		}
	}
	resp, err := h.service.Search(c.Request.Context(), req)
	if errors.Is(err, ErrInvalidRequest) {
		c.JSON(http.StatusBadRequest, apperrors.Body(apperrors.BadRequest(err.Error())))
		return
	}
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Error("webhook search failed", zap.Error(err))
		appErr := apperrors.InternalError("failed to search prompts", err)
		c.JSON(appErr.HTTPStatus, apperrors.Body(appErr))
		return
	}
	c.JSON(http.StatusOK, resp)
}
