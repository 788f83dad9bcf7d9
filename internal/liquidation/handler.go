package liquidation

import (
	"github.com/gin-gonic/gin"

	"github.com/driftmark/lendcore/internal/respond"
)

// Handler exposes liquidation runs over HTTP
type Handler struct {
	service Service
}

// NewHandler creates a new liquidation handler
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RegisterOperatorRoutes registers liquidation endpoints on an
// operator-authenticated router group
func (h *Handler) RegisterOperatorRoutes(router *gin.RouterGroup) {
	router.POST("/markets/:marketId/liquidate", h.Liquidate)
}

type liquidateRequest struct {
	UserAddress string `json:"user_address"`
	Limit       int    `json:"limit"`
}

// Liquidate handles POST /markets/:marketId/liquidate
func (h *Handler) Liquidate(c *gin.Context) {
	var req liquidateRequest
	// Body is optional; an empty run scans the whole market.
	_ = c.ShouldBindJSON(&req)

	result, err := h.service.Run(c.Request.Context(), c.Param("marketId"), req.UserAddress, req.Limit)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, result)
}
