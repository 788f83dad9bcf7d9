package lending

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/driftmark/lendcore/internal/position"
	"github.com/driftmark/lendcore/internal/respond"
)

// Handler exposes the lending operations over HTTP
type Handler struct {
	service Service
}

// NewHandler creates a new lending handler
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the lending endpoints
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	markets := router.Group("/markets/:marketId")
	{
		markets.POST("/collateral/deposits", h.DepositCollateral)
		markets.POST("/collateral/withdrawals", h.WithdrawCollateral)
		markets.POST("/loans", h.Borrow)
		markets.POST("/loans/repayments", h.Repay)
		markets.GET("/loans/repay-quote", h.QuoteRepay)
		markets.POST("/supply", h.Supply)
		markets.POST("/supply/withdrawals", h.WithdrawSupply)
		markets.POST("/supply/yield", h.CollectYield)
		markets.GET("/positions/:address", h.GetPosition)
		markets.GET("/supply-positions/:address", h.GetSupplyPosition)
	}
}

func idempotencyKey(c *gin.Context) string {
	return c.GetHeader("Idempotency-Key")
}

// DepositCollateral handles POST /markets/:marketId/collateral/deposits
func (h *Handler) DepositCollateral(c *gin.Context) {
	var in DepositCollateralInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.BadRequest(c, err)
		return
	}
	in.MarketID = c.Param("marketId")
	in.IdempotencyKey = idempotencyKey(c)

	result, err := h.service.DepositCollateral(c.Request.Context(), in)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, result)
}

// Borrow handles POST /markets/:marketId/loans
func (h *Handler) Borrow(c *gin.Context) {
	var in BorrowInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.BadRequest(c, err)
		return
	}
	in.MarketID = c.Param("marketId")
	in.IdempotencyKey = idempotencyKey(c)

	result, err := h.service.Borrow(c.Request.Context(), in)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, result)
}

// Repay handles POST /markets/:marketId/loans/repayments
func (h *Handler) Repay(c *gin.Context) {
	var in RepayInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.BadRequest(c, err)
		return
	}
	in.MarketID = c.Param("marketId")
	in.IdempotencyKey = idempotencyKey(c)

	result, err := h.service.Repay(c.Request.Context(), in)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, result)
}

// QuoteRepay handles GET /markets/:marketId/loans/repay-quote
func (h *Handler) QuoteRepay(c *gin.Context) {
	requested := decimal.Zero
	if raw := c.Query("amount"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			respond.BadRequest(c, err)
			return
		}
		requested = parsed
	}

	quote, err := h.service.QuoteRepay(
		c.Request.Context(),
		c.Query("user_address"),
		c.Param("marketId"),
		position.RepayKind(c.DefaultQuery("kind", string(position.RepayKindRegular))),
		requested,
	)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, quote)
}

// WithdrawCollateral handles POST /markets/:marketId/collateral/withdrawals
func (h *Handler) WithdrawCollateral(c *gin.Context) {
	var in WithdrawCollateralInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.BadRequest(c, err)
		return
	}
	in.MarketID = c.Param("marketId")
	in.IdempotencyKey = idempotencyKey(c)

	result, err := h.service.WithdrawCollateral(c.Request.Context(), in)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, result)
}

// Supply handles POST /markets/:marketId/supply
func (h *Handler) Supply(c *gin.Context) {
	var in SupplyInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.BadRequest(c, err)
		return
	}
	in.MarketID = c.Param("marketId")
	in.IdempotencyKey = idempotencyKey(c)

	result, err := h.service.Supply(c.Request.Context(), in)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, result)
}

// WithdrawSupply handles POST /markets/:marketId/supply/withdrawals
func (h *Handler) WithdrawSupply(c *gin.Context) {
	var in WithdrawSupplyInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respond.BadRequest(c, err)
		return
	}
	in.MarketID = c.Param("marketId")
	in.IdempotencyKey = idempotencyKey(c)

	result, err := h.service.WithdrawSupply(c.Request.Context(), in)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, result)
}

// CollectYield handles POST /markets/:marketId/supply/yield
func (h *Handler) CollectYield(c *gin.Context) {
	var in CollectYieldInput
	// Body is optional; the caller is identified by user_address alone.
	_ = c.ShouldBindJSON(&in)
	in.MarketID = c.Param("marketId")
	in.IdempotencyKey = idempotencyKey(c)

	result, err := h.service.CollectYield(c.Request.Context(), in)
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, result)
}

// GetPosition handles GET /markets/:marketId/positions/:address
func (h *Handler) GetPosition(c *gin.Context) {
	view, err := h.service.GetPosition(c.Request.Context(), c.Param("address"), c.Param("marketId"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, view)
}

// GetSupplyPosition handles GET /markets/:marketId/supply-positions/:address
func (h *Handler) GetSupplyPosition(c *gin.Context) {
	view, err := h.service.GetSupplyPosition(c.Request.Context(), c.Param("address"), c.Param("marketId"))
	if err != nil {
		respond.Error(c, err)
		return
	}
	respond.OK(c, view)
}
