package request

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/roadside-api/internal/middleware"
	"github.com/jwalitptl/roadside-api/internal/model"
	"github.com/jwalitptl/roadside-api/internal/service/lifecycle"
	"github.com/jwalitptl/roadside-api/pkg/errors"
	"github.com/jwalitptl/roadside-api/pkg/httputil"
	"github.com/jwalitptl/roadside-api/pkg/validator"
)

type Handler struct {
	service *lifecycle.Service
	auth    *middleware.AuthMiddleware
}

func NewHandler(service *lifecycle.Service, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{service: service, auth: auth}
}

// RegisterRoutes expects r to be behind Authenticate. Role rules for the
// transitions live in the lifecycle so that refusals carry their reason.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	requests := r.Group("/requests")
	{
		requests.POST("", h.auth.RequireRole(model.RoleCustomer), h.CreateRequest)
		requests.GET("/:id", h.GetRequest)
		requests.POST("/:id/claim", h.Claim)
		requests.POST("/:id/assign", h.Assign)
		requests.POST("/:id/advance", h.Advance)
		requests.POST("/:id/complete", h.Complete)
		requests.POST("/:id/close", h.Close)
	}
}

func (h *Handler) CreateRequest(c *gin.Context) {
	var req model.CreateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest(validator.Message(err), err))
		return
	}

	identity, _ := middleware.IdentityFrom(c)
	created, err := h.service.Create(c.Request.Context(), identity, req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, created)
}

func (h *Handler) GetRequest(c *gin.Context) {
	identity, _ := middleware.IdentityFrom(c)
	req, err := h.service.Get(c.Request.Context(), identity, c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, req)
}

func (h *Handler) Claim(c *gin.Context) {
	identity, _ := middleware.IdentityFrom(c)
	h.respond(c)(h.service.Claim(c.Request.Context(), identity, c.Param("id")))
}

func (h *Handler) Assign(c *gin.Context) {
	var body model.AssignWorkerRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		httputil.RespondWithError(c, errors.BadRequest(validator.Message(err), err))
		return
	}
	identity, _ := middleware.IdentityFrom(c)
	h.respond(c)(h.service.Assign(c.Request.Context(), identity, c.Param("id"), body.WorkerID))
}

func (h *Handler) Advance(c *gin.Context) {
	var body model.AdvanceRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		httputil.RespondWithError(c, errors.BadRequest(validator.Message(err), err))
		return
	}
	identity, _ := middleware.IdentityFrom(c)
	h.respond(c)(h.service.Advance(c.Request.Context(), identity, c.Param("id"), body.SubStatus))
}

func (h *Handler) Complete(c *gin.Context) {
	identity, _ := middleware.IdentityFrom(c)
	h.respond(c)(h.service.Complete(c.Request.Context(), identity, c.Param("id")))
}

func (h *Handler) Close(c *gin.Context) {
	identity, _ := middleware.IdentityFrom(c)
	h.respond(c)(h.service.Close(c.Request.Context(), identity, c.Param("id")))
}

func (h *Handler) respond(c *gin.Context) func(*model.ServiceRequest, error) {
	return func(req *model.ServiceRequest, err error) {
		if err != nil {
			httputil.RespondWithError(c, err)
			return
		}
		httputil.RespondWithSuccess(c, http.StatusOK, req)
	}
}
