// internal/api/event_handler.go
// 事件上报接口：搜索完成事件与双源比价事件
package api

import (
	"log/slog"
	"strings"

	"farecache/internal/store"

	"github.com/gin-gonic/gin"
)

// searchEventRequest 一次搜索完成后的上报载荷
type searchEventRequest struct {
	Origin        string   `json:"origin" binding:"required"`
	Destination   string   `json:"destination" binding:"required"`
	DepartureDate string   `json:"departureDate" binding:"required"`
	ReturnDate    string   `json:"returnDate"`
	CabinClass    string   `json:"cabinClass"`
	Passengers    int      `json:"passengers"`
	LowestPrice   float64  `json:"lowestPrice"`
	Currency      string   `json:"currency"`
	ResultCount   int      `json:"resultCount"`
	CacheHit      bool     `json:"cacheHit"`
	APICallsMade  []string `json:"apiCallsMade"`
	SessionID     string   `json:"sessionId"`
}

// logSearchEvent 记录一次搜索事件并触发画像后台重算
func (s *Server) logSearchEvent(c *gin.Context) {
	var req searchEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	origin := strings.ToUpper(strings.TrimSpace(req.Origin))
	destination := strings.ToUpper(strings.TrimSpace(req.Destination))
	if origin == "" || destination == "" {
		badRequest(c, "origin and destination are required")
		return
	}

	if req.CabinClass == "" {
		req.CabinClass = "economy"
	}
	if req.Passengers <= 0 {
		req.Passengers = 1
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	entry := &store.RouteSearchLog{
		Route:         store.RouteKey(origin, destination),
		Origin:        origin,
		Destination:   destination,
		DepartureDate: req.DepartureDate,
		ReturnDate:    req.ReturnDate,
		CabinClass:    req.CabinClass,
		Passengers:    req.Passengers,
		LowestPrice:   req.LowestPrice,
		Currency:      req.Currency,
		ResultCount:   req.ResultCount,
		CacheHit:      req.CacheHit,
		APICallsMade:  req.APICallsMade,
		SessionID:     req.SessionID,
	}

	if err := s.profiles.LogSearch(c.Request.Context(), entry); err != nil {
		s.logger.Error("log search event failed",
			slog.String("route", entry.Route),
			slog.String("error", err.Error()))
		internalError(c, "failed to record search event")
		return
	}

	success(c, gin.H{"route": entry.Route})
}

// comparisonEventRequest 一次双源比价完成后的上报载荷。
// 价格字段用指针区分"没返回价格"和"价格为 0"。
type comparisonEventRequest struct {
	Origin              string   `json:"origin" binding:"required"`
	Destination         string   `json:"destination" binding:"required"`
	AmadeusPrice        *float64 `json:"amadeusPrice"`
	DuffelPrice         *float64 `json:"duffelPrice"`
	AmadeusResponseTime float64  `json:"amadeusResponseTime"` // 毫秒
	DuffelResponseTime  float64  `json:"duffelResponseTime"`  // 毫秒
}

// logComparisonEvent 记录一次双源比价结果，更新表现画像 EMA
func (s *Server) logComparisonEvent(c *gin.Context) {
	var req comparisonEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	origin := strings.ToUpper(strings.TrimSpace(req.Origin))
	destination := strings.ToUpper(strings.TrimSpace(req.Destination))
	route := store.RouteKey(origin, destination)

	err := s.profiles.LogAPIPerformance(c.Request.Context(), route,
		req.AmadeusPrice, req.DuffelPrice,
		req.AmadeusResponseTime, req.DuffelResponseTime)
	if err != nil {
		s.logger.Error("log comparison event failed",
			slog.String("route", route),
			slog.String("error", err.Error()))
		internalError(c, "failed to record comparison event")
		return
	}

	success(c, gin.H{"route": route})
}
