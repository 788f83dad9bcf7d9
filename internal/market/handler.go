package market

import (
	"github.com/gin-gonic/gin"

	"github.com/driftmark/lendcore/internal/respond"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) ListMarkets(c *gin.Context) {
	markets, err := h.service.GetActiveMarkets()
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, markets)
}

func (h *Handler) GetMarket(c *gin.Context) {
	market, err := h.service.GetMarket(c.Param("marketId"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, market)
}

func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	markets := router.Group("/markets")
	{
		markets.GET("", h.ListMarkets)
		markets.GET("/:marketId", h.GetMarket)
	}
}
