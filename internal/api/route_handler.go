// internal/api/route_handler.go
// 航线画像查询接口
package api

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// parseRoute 校验并规范化 "JFK-LAX" 形式的航线参数
func parseRoute(c *gin.Context) (string, bool) {
	route := strings.ToUpper(strings.TrimSpace(c.Param("route")))
	parts := strings.SplitN(route, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		badRequest(c, "route must look like ORIGIN-DESTINATION")
		return "", false
	}
	return route, true
}

// getRouteProfile 返回航线缓存画像。
// 航线没见过时懒创建默认画像，所以正常情况下总有数据可回。
func (s *Server) getRouteProfile(c *gin.Context) {
	route, ok := parseRoute(c)
	if !ok {
		return
	}

	profile := s.profiles.GetRouteProfile(c.Request.Context(), route)
	if profile == nil {
		internalError(c, "profile store unavailable")
		return
	}

	success(c, profile)
}

// getRoutePerformance 返回航线的双源表现画像。
func (s *Server) getRoutePerformance(c *gin.Context) {
	route, ok := parseRoute(c)
	if !ok {
		return
	}

	perf := s.profiles.GetAPIPerformance(c.Request.Context(), route)
	if perf == nil {
		notFound(c, "no performance history for route")
		return
	}

	success(c, perf)
}
