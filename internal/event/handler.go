package event

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/driftmark/lendcore/internal/respond"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) ListEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	events, err := h.service.ListForUser(c.Param("address"), c.Query("market_id"), limit, offset)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, events)
}

func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/users/:address/events", h.ListEvents)
}
