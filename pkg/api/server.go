package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/haolipeng/ibgp2d/pkg/config"
	"github.com/haolipeng/ibgp2d/pkg/metrics"
)

// Server HTTP 服务器
type Server struct {
	echo *echo.Echo
	addr string
}

// NewServer 创建一个新的 HTTP 服务器
func NewServer(cfg *config.Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	return &Server{
		echo: e,
		addr: cfg.APIAddress(),
	}
}

// Start 启动 HTTP 服务器，阻塞直到服务器关闭
func (s *Server) Start() error {
	logrus.Infof("Starting API server on %s", s.addr)
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 停止 HTTP 服务器
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// GetEcho 获取Echo实例
func (s *Server) GetEcho() *echo.Echo {
	return s.echo
}

// RegisterStatusService 注册状态查询服务
func (s *Server) RegisterStatusService(ss *StatusService) {
	s.echo.GET("/status", ss.GetStatus)                // 运行概况
	s.echo.GET("/graph", ss.GetGraph)                  // IGP图(Graphviz)
	s.echo.GET("/filters", ss.GetFilters)              // 所有邻居的过滤器
	s.echo.GET("/filters/:neighbor", ss.GetFilter)     // 指定邻居的过滤器
	s.echo.GET("/filters/:neighbor/allows", ss.Allows) // 下一跳查询
	s.echo.POST("/policy/validate", ss.ValidatePolicy) // 验证导出策略
}

// RegisterMetrics 注册prometheus指标
func (s *Server) RegisterMetrics(collector *metrics.Collector) {
	s.echo.GET("/metrics", echo.WrapHandler(collector.Handler()))
}
