package record

import (
	stderrors "errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hqmotech/forwarder/internal/model"
	"github.com/hqmotech/forwarder/internal/repository"
	recordsvc "github.com/hqmotech/forwarder/internal/service/record"
	"github.com/hqmotech/forwarder/pkg/errors"
	"github.com/hqmotech/forwarder/pkg/httputil"
)

type Handler struct {
	service *recordsvc.Service
}

func NewHandler(service *recordsvc.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	records := r.Group("/records")
	{
		records.GET("/:id", h.GetRecord)
		records.POST("/:id/retry", h.ForceRetry)
		records.POST("/:id/cancel", h.Cancel)
		records.POST("/:id/requeue", h.Requeue)
	}
	repeaters := r.Group("/repeaters")
	{
		repeaters.GET("/:id/records", h.ListRecords)
		repeaters.GET("/:id/record_counts", h.RecordCounts)
	}
}

func (h *Handler) GetRecord(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid record id", err))
		return
	}

	record, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, mapRepoError("record", err))
		return
	}
	httputil.RespondWithSuccess(c, record)
}

// ForceRetry attempts delivery now, ignoring next_check and the failure
// cache.
func (h *Handler) ForceRetry(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid record id", err))
		return
	}

	record, err := h.service.ForceRetry(c.Request.Context(), id)
	if stderrors.Is(err, recordsvc.ErrTerminalRecord) {
		httputil.RespondWithError(c, errors.Conflict("record is in a terminal state", err))
		return
	}
	if err != nil {
		httputil.RespondWithError(c, mapRepoError("record", err))
		return
	}
	httputil.RespondWithSuccess(c, record)
}

func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid record id", err))
		return
	}

	record, err := h.service.Cancel(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, mapRepoError("record", err))
		return
	}
	httputil.RespondWithSuccess(c, record)
}

func (h *Handler) Requeue(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid record id", err))
		return
	}

	record, err := h.service.Requeue(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, mapRepoError("record", err))
		return
	}
	httputil.RespondWithSuccess(c, record)
}

type listQuery struct {
	State  string `form:"state" binding:"omitempty,oneof=PENDING SUCCESS CANCELLED"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

func (h *Handler) ListRecords(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid repeater id", err))
		return
	}

	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid query parameters", err))
		return
	}
	if q.Limit == 0 {
		q.Limit = 100
	}

	records, err := h.service.ListByRepeater(c.Request.Context(), id, model.RecordState(q.State), q.Limit, q.Offset)
	if err != nil {
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, records)
}

func (h *Handler) RecordCounts(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid repeater id", err))
		return
	}

	counts, err := h.service.CountsByRepeater(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, counts)
}

func mapRepoError(resource string, err error) error {
	if stderrors.Is(err, repository.ErrNotFound) {
		return errors.NotFound(resource, err)
	}
	if stderrors.Is(err, repository.ErrConflict) {
		return errors.Conflict("concurrent update, retry", err)
	}
	return errors.Internal(err)
}
