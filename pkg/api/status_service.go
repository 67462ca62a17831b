package api

import (
	"bytes"
	"net/http"
	"net/netip"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/haolipeng/ibgp2d/pkg/controller"
	"github.com/haolipeng/ibgp2d/pkg/diffusion"
	"github.com/haolipeng/ibgp2d/pkg/filter"
	"github.com/haolipeng/ibgp2d/pkg/types"
)

const graphvizContentType = "text/vnd.graphviz; charset=utf-8"

// Response 响应结构体
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// StatsProvider 提供流水线运行状态
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// StatusService 只读的状态查询服务
type StatusService struct {
	ctrl  *controller.Controller
	stats StatsProvider
}

// NewStatusService stats可为nil
func NewStatusService(ctrl *controller.Controller, stats StatsProvider) *StatusService {
	return &StatusService{
		ctrl:  ctrl,
		stats: stats,
	}
}

// StatusView /status 的返回内容
type StatusView struct {
	RouterID  string                 `json:"router_id"`
	Vertices  int                    `json:"vertices"`
	Edges     int                    `json:"edges"`
	Neighbors int                    `json:"neighbors"`
	Pipeline  map[string]interface{} `json:"pipeline,omitempty"`
}

// AllowsView 下一跳查询结果
type AllowsView struct {
	Neighbor string `json:"neighbor"`
	Nexthop  string `json:"nexthop"`
	Allowed  bool   `json:"allowed"`
	Prefix   string `json:"prefix,omitempty"`
}

// ValidateRequest 策略验证请求
type ValidateRequest struct {
	Expression string `json:"expression"`
}

// GetStatus 本路由器与IGP图概况
func (s *StatusService) GetStatus(c echo.Context) error {
	vertices, edges := s.ctrl.GraphSize()
	view := StatusView{
		RouterID:  s.ctrl.Local().String(),
		Vertices:  vertices,
		Edges:     edges,
		Neighbors: len(s.ctrl.Filters().Neighbors()),
	}
	if s.stats != nil {
		view.Pipeline = s.stats.GetStats()
	}

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "ok",
		Data:    view,
	})
}

// GetGraph 以Graphviz格式返回IGP图，networks=true时画出网络节点
func (s *StatusService) GetGraph(c echo.Context) error {
	drawNetworks := false
	if v := c.QueryParam("networks"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return HandleError(c, NewBadRequestError("invalid networks parameter", err))
		}
		drawNetworks = b
	}

	var buf bytes.Buffer
	if err := s.ctrl.WriteGraphviz(&buf, drawNetworks); err != nil {
		return HandleError(c, NewInternalServerError(err))
	}
	return c.Blob(http.StatusOK, graphvizContentType, buf.Bytes())
}

// GetFilters 所有邻居当前的过滤器
func (s *StatusService) GetFilters(c echo.Context) error {
	snapshot := s.ctrl.Filters().Snapshot()

	logrus.WithFields(logrus.Fields{
		"neighbors": len(snapshot),
		"operation": "get_filters",
	}).Debug("Listing filters")

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "ok",
		Data:    snapshot,
	})
}

// GetFilter 单个邻居的过滤器
func (s *StatusService) GetFilter(c echo.Context) error {
	neighbor, err := types.ParseRouterID(c.Param("neighbor"))
	if err != nil {
		return HandleError(c, NewBadRequestError("invalid neighbor", err))
	}

	view, ok := s.lookup(neighbor)
	if !ok {
		return HandleError(c, NewNeighborNotFoundError(neighbor.String()))
	}
	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "ok",
		Data:    view,
	})
}

// Allows 查询某个下一跳能否向该邻居通告
func (s *StatusService) Allows(c echo.Context) error {
	neighbor, err := types.ParseRouterID(c.Param("neighbor"))
	if err != nil {
		return HandleError(c, NewBadRequestError("invalid neighbor", err))
	}
	nexthop, err := netip.ParseAddr(c.QueryParam("nexthop"))
	if err != nil {
		return HandleError(c, NewBadRequestError("invalid nexthop", err))
	}
	if _, ok := s.ctrl.Filters().FilterID(neighbor); !ok {
		return HandleError(c, NewNeighborNotFoundError(neighbor.String()))
	}

	view := AllowsView{
		Neighbor: neighbor.String(),
		Nexthop:  nexthop.String(),
	}
	if prefix, ok := s.ctrl.Filters().Allows(neighbor, nexthop); ok {
		view.Allowed = true
		view.Prefix = prefix.String()
	}
	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "ok",
		Data:    view,
	})
}

// ValidatePolicy 验证导出策略表达式
func (s *StatusService) ValidatePolicy(c echo.Context) error {
	var req ValidateRequest
	if err := c.Bind(&req); err != nil {
		return HandleError(c, NewBadRequestError("invalid request body", err))
	}
	if req.Expression == "" {
		return HandleError(c, NewBadRequestError("expression is required", nil))
	}

	if err := diffusion.ValidateExpression(req.Expression); err != nil {
		return HandleError(c, NewBadRequestError("policy validation failed", err))
	}
	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "policy is valid",
	})
}

func (s *StatusService) lookup(neighbor types.RouterID) (filter.NeighborFilter, bool) {
	for _, f := range s.ctrl.Filters().Snapshot() {
		if f.Neighbor == neighbor {
			return f, true
		}
	}
	return filter.NeighborFilter{}, false
}
