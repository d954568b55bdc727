// Package entity exposes the ingestion hook: callers notify the engine that
// a case, form, user or location document was saved, which registers pending
// repeat records for every matching repeater.
package entity

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hqmotech/forwarder/internal/dispatcher"
	"github.com/hqmotech/forwarder/internal/model"
	"github.com/hqmotech/forwarder/pkg/errors"
	"github.com/hqmotech/forwarder/pkg/httputil"
)

type Handler struct {
	sink dispatcher.EventSink
}

func NewHandler(sink dispatcher.EventSink) *Handler {
	return &Handler{sink: sink}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/entity-events", h.NotifySaved)
}

type entitySavedRequest struct {
	Domain   string `json:"domain" binding:"required"`
	EntityID string `json:"entity_id" binding:"required"`
	Kind     string `json:"kind" binding:"required,oneof=case form user location"`
}

func (h *Handler) NotifySaved(c *gin.Context) {
	var req entitySavedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid entity event", err))
		return
	}

	event := dispatcher.EntitySavedEvent{
		Domain:   req.Domain,
		EntityID: req.EntityID,
		Kind:     model.EntityKind(req.Kind),
	}
	if err := h.sink.EntitySaved(c.Request.Context(), event); err != nil {
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}
	c.JSON(http.StatusAccepted, httputil.Response{Success: true})
}
