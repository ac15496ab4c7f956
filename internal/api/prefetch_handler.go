// internal/api/prefetch_handler.go
// 预取候选查询与手动触发接口
package api

import (
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"
)

// getPrefetchCandidates 返回按优先级排序的预取候选航线
// GET /api/v1/prefetch/candidates?limit=20
func (s *Server) getPrefetchCandidates(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	candidates, err := s.prefetcher.Candidates(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("list prefetch candidates failed", slog.String("error", err.Error()))
		internalError(c, "failed to list prefetch candidates")
		return
	}

	success(c, gin.H{
		"count":      len(candidates),
		"candidates": candidates,
		"offPeak":    s.prefetcher.IsOffPeakHour(),
	})
}

// runPrefetchRequest 手动触发预取的载荷。
// force 跳过低峰时段限制，只给运维手动救火用。
type runPrefetchRequest struct {
	Limit int  `json:"limit"`
	Force bool `json:"force"`
}

// runPrefetch 手动触发一轮预取 (admin)
func (s *Server) runPrefetch(c *gin.Context) {
	var req runPrefetchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	if req.Limit < 0 {
		badRequest(c, "limit must be a non-negative integer")
		return
	}

	result, err := s.prefetcher.Execute(c.Request.Context(), req.Limit, req.Force, nil)
	if err != nil {
		s.logger.Error("prefetch run failed", slog.String("error", err.Error()))
		internalError(c, "prefetch run failed")
		return
	}

	success(c, result)
}
