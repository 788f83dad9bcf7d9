package pricefeed

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/driftmark/lendcore/internal/errs"
	"github.com/driftmark/lendcore/internal/respond"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type setPriceRequest struct {
	Side   string          `json:"side" binding:"required"`
	Value  decimal.Decimal `json:"value"`
	Source string          `json:"source"`
}

func (h *Handler) GetPrices(c *gin.Context) {
	prices, err := h.service.GetPrices(c.Request.Context(), c.Param("marketId"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, prices)
}

func (h *Handler) SetPrice(c *gin.Context) {
	var req setPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, errs.Wrap(errs.CodeInvalidAmount, "invalid price payload", err))
		return
	}

	err := h.service.SetPrice(c.Request.Context(), c.Param("marketId"), Side(req.Side), req.Value, req.Source)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, gin.H{"market_id": c.Param("marketId"), "side": req.Side})
}

// RegisterRoutes wires the read path; RegisterOperatorRoutes wires the manual
// price update behind whatever middleware the caller supplies.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/markets/:marketId/prices", h.GetPrices)
}

func (h *Handler) RegisterOperatorRoutes(router *gin.RouterGroup) {
	router.POST("/markets/:marketId/prices", h.SetPrice)
}
