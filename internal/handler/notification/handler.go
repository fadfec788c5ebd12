package notification

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/notification-service/internal/middleware"
	"github.com/jwalitptl/notification-service/internal/model"
	"github.com/jwalitptl/notification-service/internal/service/notification"
	"github.com/jwalitptl/notification-service/pkg/httputil"
	"github.com/jwalitptl/notification-service/pkg/keycodec"
)

type Handler struct {
	service notification.Service
}

func NewHandler(service notification.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the caller-facing routes. r must run the
// authentication middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications")
	{
		notifications.GET("", h.List)
		notifications.DELETE("", h.RemoveAll)
		notifications.GET("/unread-count", h.UnreadCount)
		notifications.PUT("/read-all", h.MarkAllRead)
		notifications.PUT("/:id/mark", h.Mark)
		notifications.PUT("/:id/read-state", h.SetReadState)
		notifications.DELETE("/:id", h.Remove)
	}
}

// RegisterInternalRoutes mounts the service-to-service routes.
func (h *Handler) RegisterInternalRoutes(r *gin.RouterGroup) {
	r.POST("/notify", h.Notify)
}

func (h *Handler) Notify(c *gin.Context) {
	var req model.NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(err)
		return
	}

	id, err := h.service.Notify(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		return
	}
	httputil.RespondWithStatus(c, http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) List(c *gin.Context) {
	var q model.ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.Error(err)
		return
	}

	items, err := h.service.List(c.Request.Context(), middleware.CallerOwner(c), keycodec.PageRequest{
		GT:      q.GT,
		LT:      q.LT,
		GTE:     q.GTE,
		LTE:     q.LTE,
		Limit:   q.PageLimit(),
		Reverse: q.Reverse,
	})
	if err != nil {
		c.Error(err)
		return
	}

	next := ""
	if len(items) > 0 {
		next = items[len(items)-1].Cursor
	} else {
		items = []*model.Notification{}
	}
	httputil.RespondWithPage(c, items, next)
}

func (h *Handler) UnreadCount(c *gin.Context) {
	counter, err := h.service.UnreadCount(c.Request.Context(), middleware.CallerOwner(c))
	if err != nil {
		c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, counter)
}

func (h *Handler) Mark(c *gin.Context) {
	var req model.MarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(err)
		return
	}
	if err := h.service.Mark(c.Request.Context(), middleware.CallerOwner(c), c.Param("id"), req.State); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) SetReadState(c *gin.Context) {
	var req model.ReadStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(err)
		return
	}
	if err := h.service.SetReadState(c.Request.Context(), middleware.CallerOwner(c), c.Param("id"), req.ReadState); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Remove(c *gin.Context) {
	if err := h.service.Remove(c.Request.Context(), middleware.CallerOwner(c), c.Param("id")); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) MarkAllRead(c *gin.Context) {
	n, err := h.service.MarkAllRead(c.Request.Context(), middleware.CallerOwner(c))
	if err != nil {
		c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"updated": n})
}

func (h *Handler) RemoveAll(c *gin.Context) {
	n, err := h.service.RemoveAll(c.Request.Context(), middleware.CallerOwner(c))
	if err != nil {
		c.Error(err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"removed": n})
}
