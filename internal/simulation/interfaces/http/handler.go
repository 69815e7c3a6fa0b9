// Package http 模拟生命周期与每日推进的 HTTP 接口
package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/economyengine/internal/simulation/application"
	"github.com/wyfcoding/economyengine/internal/simulation/domain"
	"github.com/wyfcoding/economyengine/pkg/response"
)

// Advancer 手动推进一个模拟日
type Advancer interface {
	Advance(ctx context.Context, simulationID string) (*application.AdvanceResult, error)
}

// SimulationHandler 模拟 HTTP 处理器
type SimulationHandler struct {
	svc      *application.SimulationService
	advancer Advancer
}

func NewSimulationHandler(svc *application.SimulationService, advancer Advancer) *SimulationHandler {
	return &SimulationHandler{svc: svc, advancer: advancer}
}

// RegisterRoutes 注册路由
func (h *SimulationHandler) RegisterRoutes(router *gin.RouterGroup) {
	api := router.Group("/api/v1/simulations")
	{
		api.POST("", h.StartSimulation)
		api.GET("/:id/clock", h.GetClock)
		api.POST("/:id/stop", h.StopSimulation)
		api.POST("/:id/advance", h.AdvanceDay)
		api.POST("/:id/recyclables", h.ReportRecyclable)
	}
}

func (h *SimulationHandler) StartSimulation(c *gin.Context) {
	var cmd application.StartSimulationCommand
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&cmd); err != nil {
			response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}
	dto, err := h.svc.StartSimulation(c.Request.Context(), cmd)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto)
}

func (h *SimulationHandler) GetClock(c *gin.Context) {
	dto, err := h.svc.Clock(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto)
}

func (h *SimulationHandler) StopSimulation(c *gin.Context) {
	dto, err := h.svc.StopSimulation(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto)
}

// AdvanceDay 不等调度器，立即推进一天
func (h *SimulationHandler) AdvanceDay(c *gin.Context) {
	res, err := h.advancer.Advance(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

func (h *SimulationHandler) ReportRecyclable(c *gin.Context) {
	var req domain.RecyclableGroup
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithStatus(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.svc.ReportRecyclable(c.Request.Context(), c.Param("id"), req); err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, req)
}
