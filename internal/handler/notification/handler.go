package notification

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/roadside-api/internal/middleware"
	"github.com/jwalitptl/roadside-api/internal/model"
	"github.com/jwalitptl/roadside-api/internal/service/dispatch"
	notificationService "github.com/jwalitptl/roadside-api/internal/service/notification"
	"github.com/jwalitptl/roadside-api/pkg/errors"
	"github.com/jwalitptl/roadside-api/pkg/httputil"
	"github.com/jwalitptl/roadside-api/pkg/validator"
)

type Handler struct {
	gateway    *notificationService.Gateway
	dispatcher *dispatch.Dispatcher
}

func NewHandler(gateway *notificationService.Gateway, dispatcher *dispatch.Dispatcher) *Handler {
	return &Handler{gateway: gateway, dispatcher: dispatcher}
}

// RegisterRoutes mounts the catch-up routes. They check the bearer token
// themselves through the gateway.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications")
	{
		notifications.GET("/:userId", h.FetchBacklog)
		notifications.GET("/:userId/unread-count", h.UnreadCount)
		notifications.PATCH("/:id/read", h.MarkRead)
	}
}

// RegisterAdminRoutes mounts routes that need an authenticated admin.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/notifications", h.Send)
}

// FetchBacklog handles GET /notifications/:userId?since=<seq>&limit=<n>.
func (h *Handler) FetchBacklog(c *gin.Context) {
	userID := c.Param("userId")

	since, err := parseUint(c.Query("since"))
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("since must be a non-negative integer", err))
		return
	}
	limit, err := parseUint(c.Query("limit"))
	if err != nil {
		httputil.RespondWithError(c, errors.BadRequest("limit must be a non-negative integer", err))
		return
	}

	notifications, err := h.gateway.FetchBacklog(c.Request.Context(), userID, middleware.BearerToken(c), since, int(limit))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, notifications)
}

func (h *Handler) UnreadCount(c *gin.Context) {
	userID := c.Param("userId")
	count, err := h.gateway.UnreadCount(c.Request.Context(), userID, middleware.BearerToken(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, model.UnreadCountResponse{UserID: userID, Unread: count})
}

func (h *Handler) MarkRead(c *gin.Context) {
	id := c.Param("id")
	alreadyRead, err := h.gateway.MarkRead(c.Request.Context(), id, middleware.BearerToken(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusOK, model.MarkReadResponse{ID: id, Read: true, AlreadyRead: alreadyRead})
}

type sendRequest struct {
	RecipientIDs     []string               `json:"recipient_ids" binding:"required,min=1,dive,required"`
	Kind             model.NotificationKind `json:"kind"`
	Title            string                 `json:"title" binding:"required,max=200"`
	Body             string                 `json:"body" binding:"max=2000"`
	RelatedRequestID string                 `json:"related_request_id"`
}

// Send lets an admin notify arbitrary users, e.g. for service announcements.
func (h *Handler) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest(validator.Message(err), err))
		return
	}
	if req.Kind == "" {
		req.Kind = model.NotificationKindGeneric
	}
	if !req.Kind.Valid() {
		httputil.RespondWithError(c, errors.BadRequest("unknown notification kind", nil))
		return
	}

	sent, err := h.dispatcher.Notify(c.Request.Context(), req.RecipientIDs, req.Kind, model.Payload{
		Title:            req.Title,
		Body:             req.Body,
		RelatedRequestID: req.RelatedRequestID,
	})
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, http.StatusCreated, sent)
}

// parseUint accepts values that fit a signed 64-bit column.
func parseUint(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 63)
}
