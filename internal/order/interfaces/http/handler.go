package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/economyengine/internal/order/application"
	"github.com/wyfcoding/economyengine/internal/order/domain"
	"github.com/wyfcoding/economyengine/pkg/response"
)

// OrderHandler HTTP 处理器
// 负责处理与订单相关的 HTTP 请求
type OrderHandler struct {
	svc *application.OrderService
}

// 创建 HTTP 处理器实例
func NewOrderHandler(svc *application.OrderService) *OrderHandler {
	return &OrderHandler{svc: svc}
}

// 注册路由
func (h *OrderHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/orders")
	{
		api.POST("", h.CreateOrder)                 // 创建订单
		api.GET("", h.ListOrders)                   // 订单列表
		api.GET("/:id", h.GetOrder)                 // 获取订单详情
		api.POST("/:id/pay", h.PayOrder)            // 支付订单
		api.POST("/:id/cancel", h.CancelOrder)      // 取消订单
		api.GET("/:id/collection", h.GetCollection) // 提货记录
	}
}

// CreateOrder 创建订单
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req application.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	dto, err := h.svc.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto)
}

// PayOrder 支付订单；库存不足时仍返回 200，can_fulfill=false
func (h *OrderHandler) PayOrder(c *gin.Context) {
	var req application.PayOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	res, err := h.svc.PayOrder(c.Request.Context(), c.Param("id"), req.CompanyName)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// CancelOrder 取消订单
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	dto, err := h.svc.CancelOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto)
}

// GetOrder 获取订单
func (h *OrderHandler) GetOrder(c *gin.Context) {
	dto, err := h.svc.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto)
}

// ListOrders 按模拟运行分页查询
func (h *OrderHandler) ListOrders(c *gin.Context) {
	simulationID := c.Query("simulation_id")
	if simulationID == "" {
		response.ErrorWithStatus(c, http.StatusBadRequest, "simulation_id is required", "")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	orders, total, err := h.svc.ListOrders(c.Request.Context(), simulationID, domain.OrderStatus(c.Query("status")), limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"orders": orders, "total": total})
}

func (h *OrderHandler) GetCollection(c *gin.Context) {
	dto, err := h.svc.GetCollection(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto)
}
