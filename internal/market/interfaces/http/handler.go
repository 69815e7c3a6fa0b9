package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/economyengine/internal/market/application"
	"github.com/wyfcoding/economyengine/internal/market/domain"
	"github.com/wyfcoding/economyengine/pkg/response"
)

// MarketHandler 市场 HTTP 处理器
type MarketHandler struct {
	svc *application.MarketService
}

func NewMarketHandler(svc *application.MarketService) *MarketHandler {
	return &MarketHandler{svc: svc}
}

// RegisterRoutes 注册路由
func (h *MarketHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/simulations/:id/markets/:kind")
	{
		api.GET("/offers", h.GetOffers)
		api.GET("/inventory", h.GetInventory)
		api.PUT("/prices", h.UpdatePrice)
	}
}

type updatePriceRequest struct {
	ItemName string          `json:"item_name" binding:"required"`
	Price    decimal.Decimal `json:"price"`
}

func (h *MarketHandler) GetOffers(c *gin.Context) {
	kind, err := domain.ParseKind(c.Param("kind"))
	if err != nil {
		response.Error(c, err)
		return
	}
	offers, err := h.svc.Offers(c.Request.Context(), c.Param("id"), kind)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"market": kind, "offers": offers})
}

func (h *MarketHandler) GetInventory(c *gin.Context) {
	kind, err := domain.ParseKind(c.Param("kind"))
	if err != nil {
		response.Error(c, err)
		return
	}
	lines, err := h.svc.Inventory(c.Request.Context(), c.Param("id"), kind)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"market": kind, "lines": lines})
}

// UpdatePrice 管理端改价
func (h *MarketHandler) UpdatePrice(c *gin.Context) {
	kind, err := domain.ParseKind(c.Param("kind"))
	if err != nil {
		response.Error(c, err)
		return
	}
	var req updatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.svc.UpdatePrice(c.Request.Context(), c.Param("id"), kind, req.ItemName, req.Price); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"item_name": req.ItemName, "price": req.Price})
}
