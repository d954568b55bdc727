package repeater

import (
	stderrors "errors"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hqmotech/forwarder/internal/model"
	"github.com/hqmotech/forwarder/internal/registry"
	"github.com/hqmotech/forwarder/internal/repository"
	repeatersvc "github.com/hqmotech/forwarder/internal/service/repeater"
	"github.com/hqmotech/forwarder/pkg/errors"
	"github.com/hqmotech/forwarder/pkg/httputil"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("xmlns", validXMLNS)
	}
}

// validXMLNS accepts absolute-URI form namespaces, e.g.
// http://openrosa.org/formdesigner/F1355.
func validXMLNS(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	return err == nil && u.IsAbs()
}

type Handler struct {
	service *repeatersvc.Service
}

func NewHandler(service *repeatersvc.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	connections := r.Group("/connections")
	{
		connections.POST("", h.CreateConnection)
		connections.GET("", h.ListConnections)
	}
	repeaters := r.Group("/repeaters")
	{
		repeaters.POST("", h.CreateRepeater)
		repeaters.GET("", h.ListRepeaters)
		repeaters.GET("/:id", h.GetRepeater)
		repeaters.POST("/:id/pause", h.Pause)
		repeaters.POST("/:id/resume", h.Resume)
		repeaters.DELETE("/:id", h.Disable)
	}
}

type createConnectionRequest struct {
	Domain          string   `json:"domain" binding:"required"`
	Name            string   `json:"name" binding:"required"`
	URL             string   `json:"url" binding:"required,url"`
	AuthType        string   `json:"auth_type" binding:"omitempty,oneof=none basic bearer"`
	Username        string   `json:"username"`
	Password        string   `json:"password"`
	SkipCertVerify  bool     `json:"skip_cert_verify"`
	NotifyAddresses []string `json:"notify_addresses" binding:"omitempty,dive,email"`
}

func (h *Handler) CreateConnection(c *gin.Context) {
	var req createConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid request body", err))
		return
	}
	if req.AuthType == "" {
		req.AuthType = string(model.AuthTypeNone)
	}

	conn := &model.ConnectionSettings{
		Domain:          req.Domain,
		Name:            req.Name,
		URL:             req.URL,
		AuthType:        model.AuthType(req.AuthType),
		Username:        req.Username,
		SkipCertVerify:  req.SkipCertVerify,
		NotifyAddresses: pq.StringArray(req.NotifyAddresses),
	}
	if err := h.service.CreateConnection(c.Request.Context(), conn, req.Password); err != nil {
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, conn)
}

func (h *Handler) ListConnections(c *gin.Context) {
	domain := c.Query("domain")
	if domain == "" {
		httputil.RespondWithError(c, errors.BadRequest("domain is required", nil))
		return
	}

	conns, err := h.service.ListConnections(c.Request.Context(), domain)
	if err != nil {
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, conns)
}

type createRepeaterRequest struct {
	Domain               string   `json:"domain" binding:"required"`
	ConnectionID         string   `json:"connection_id" binding:"required,uuid"`
	Kind                 string   `json:"kind" binding:"required,oneof=case form short_form user location"`
	Format               string   `json:"format"`
	WhitelistedCaseTypes []string `json:"whitelisted_case_types"`
	WhitelistedFormXMLNS []string `json:"whitelisted_form_xmlns" binding:"omitempty,dive,xmlns"`
	BlacklistedUserIDs   []string `json:"blacklisted_user_ids"`
	IncludeAppIDParam    bool     `json:"include_app_id_param"`
	MaxAttempts          int      `json:"max_attempts" binding:"omitempty,min=1"`
}

func (h *Handler) CreateRepeater(c *gin.Context) {
	var req createRepeaterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid request body", err))
		return
	}

	repeater := &model.Repeater{
		Domain:               req.Domain,
		ConnectionID:         uuid.MustParse(req.ConnectionID),
		Kind:                 model.RepeaterKind(req.Kind),
		Format:               req.Format,
		WhitelistedCaseTypes: pq.StringArray(req.WhitelistedCaseTypes),
		WhitelistedFormXMLNS: pq.StringArray(req.WhitelistedFormXMLNS),
		BlacklistedUserIDs:   pq.StringArray(req.BlacklistedUserIDs),
		IncludeAppIDParam:    req.IncludeAppIDParam,
		MaxAttempts:          req.MaxAttempts,
	}
	if err := h.service.CreateRepeater(c.Request.Context(), repeater); err != nil {
		var unknownFormat *registry.UnknownFormatError
		if stderrors.As(err, &unknownFormat) {
			httputil.RespondWithError(c, errors.BadRequest(unknownFormat.Error(), err))
			return
		}
		if stderrors.Is(err, repository.ErrNotFound) {
			httputil.RespondWithError(c, errors.NotFound("connection settings", err))
			return
		}
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, repeater)
}

func (h *Handler) ListRepeaters(c *gin.Context) {
	domain := c.Query("domain")
	if domain == "" {
		httputil.RespondWithError(c, errors.BadRequest("domain is required", nil))
		return
	}

	repeaters, err := h.service.ListRepeaters(c.Request.Context(), domain)
	if err != nil {
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, repeaters)
}

func (h *Handler) GetRepeater(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid repeater id", err))
		return
	}

	repeater, err := h.service.GetRepeater(c.Request.Context(), id)
	if stderrors.Is(err, repository.ErrNotFound) {
		httputil.RespondWithError(c, errors.NotFound("repeater", err))
		return
	}
	if err != nil {
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, repeater)
}

func (h *Handler) Pause(c *gin.Context) {
	h.setPaused(c, true)
}

func (h *Handler) Resume(c *gin.Context) {
	h.setPaused(c, false)
}

func (h *Handler) setPaused(c *gin.Context, paused bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid repeater id", err))
		return
	}

	if err := h.service.SetPaused(c.Request.Context(), id, paused); err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			httputil.RespondWithError(c, errors.NotFound("repeater", err))
			return
		}
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"paused": paused})
}

func (h *Handler) Disable(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid repeater id", err))
		return
	}

	if err := h.service.Disable(c.Request.Context(), id); err != nil {
		if stderrors.Is(err, repository.ErrNotFound) {
			httputil.RespondWithError(c, errors.NotFound("repeater", err))
			return
		}
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"disabled": true})
}
