package trigger

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/gstripling00/prompt-system/internal/common/errors"
	"github.com/gstripling00/prompt-system/internal/common/logger"
	"github.com/gstripling00/prompt-system/internal/ingestion/models"
	"github.com/gstripling00/prompt-system/internal/landing"
)

const eventTypeFinalize = "OBJECT_FINALIZE"

// PushEnvelope is the body Pub/Sub sends to a push subscription.
type PushEnvelope struct {
	Message struct {
		Attributes map[string]string `json:"attributes"`
		Data       []byte            `json:"data"`
		MessageID  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// objectResource is the subset of the Cloud Storage object resource carried in Data.
type objectResource struct {
	Bucket     string `json:"bucket"`
	Name       string `json:"name"`
	Generation string `json:"generation"`
}

// ref extracts the finalized object, preferring the notification attributes.
func (e *PushEnvelope) ref() (models.BatchRef, string) {
	attrs := e.Message.Attributes
	ref := models.BatchRef{
		Bucket:     attrs["bucketId"],
		Name:       attrs["objectId"],
		Generation: attrs["objectGeneration"],
	}
	if ref.Name == "" && len(e.Message.Data) > 0 {
		var obj objectResource
		if err := json.Unmarshal(e.Message.Data, &obj); err == nil {
			ref = models.BatchRef{Bucket: obj.Bucket, Name: obj.Name, Generation: obj.Generation}
		}
	}
	eventType := attrs["eventType"]
	if eventType == "" {
		eventType = eventTypeFinalize
	}
	return ref, eventType
}

// PushHandlers serves the Cloud Storage notification push endpoint.
type PushHandlers struct {
	processor Processor
	matcher   landing.Matcher
	logger    *logger.Logger
}

// RegisterPushRoutes mounts POST /api/v1/triggers/gcs. The batch is processed once per
// request; a 5xx answer makes Pub/Sub redeliver it.
func RegisterPushRoutes(router *gin.Engine, processor Processor, matcher landing.Matcher, log *logger.Logger) {
	h := &PushHandlers{processor: processor, matcher: matcher, logger: log.WithComponent("gcs-push")}
	router.POST("/api/v1/triggers/gcs", h.httpPush)
}

func (h *PushHandlers) httpPush(c *gin.Context) {
	var envelope PushEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		c.JSON(http.StatusBadRequest, apperrors.Body(apperrors.BadRequest("invalid push envelope")))
		return
	}
	ref, eventType := envelope.ref()
	if eventType != eventTypeFinalize || ref.Name == "" || !h.matcher.Match(ref.Name) {
		h.logger.Debug("ignoring storage notification",
			zap.String("event_type", eventType), zap.String("object", ref.Name))
		c.Status(http.StatusNoContent)
		return
	}

	report, err := h.processor.Process(c.Request.Context(), ref)
	if err != nil {
		h.logger.WithError(err).Error("push-triggered ingestion failed",
			zap.String("object", ref.String()), zap.String("message_id", envelope.Message.MessageID))
		appErr := apperrors.ServiceUnavailable("ingestion", err)
		c.JSON(appErr.HTTPStatus, apperrors.Body(appErr))
		return
	}
	c.JSON(http.StatusOK, report)
}
