// internal/api/predict_handler.go
// 缓存时长预测与 API 选择接口
package api

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const dateLayout = "2006-01-02"

// queryAirports 读取并规范化 origin/destination 查询参数
func queryAirports(c *gin.Context) (string, string, bool) {
	origin := strings.ToUpper(strings.TrimSpace(c.Query("origin")))
	destination := strings.ToUpper(strings.TrimSpace(c.Query("destination")))
	if origin == "" || destination == "" {
		badRequest(c, "origin and destination are required")
		return "", "", false
	}
	return origin, destination, true
}

// predictTTL 实时搜索结果的推荐缓存时长
// GET /api/v1/predict/ttl?origin=JFK&destination=LAX&departureDate=2026-04-01&cabinClass=economy
func (s *Server) predictTTL(c *gin.Context) {
	origin, destination, ok := queryAirports(c)
	if !ok {
		return
	}

	departure, err := time.Parse(dateLayout, c.Query("departureDate"))
	if err != nil {
		badRequest(c, "departureDate must be YYYY-MM-DD")
		return
	}

	cabinClass := c.DefaultQuery("cabinClass", "economy")

	prediction := s.ttl.PredictOptimalTTL(c.Request.Context(), origin, destination, cabinClass, departure)
	success(c, prediction)
}

// predictCalendar 日历视图的推荐缓存时长
// departureDate 可省略（日历通常给整月定价，内部按 30 天后估算）
func (s *Server) predictCalendar(c *gin.Context) {
	origin, destination, ok := queryAirports(c)
	if !ok {
		return
	}

	var departure *time.Time
	if raw := c.Query("departureDate"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			badRequest(c, "departureDate must be YYYY-MM-DD")
			return
		}
		departure = &parsed
	}

	prediction := s.calendar.PredictCalendarCacheTTL(c.Request.Context(), origin, destination, departure)
	success(c, prediction)
}

// selectAPIs 决定一次搜索调用哪些报价源
func (s *Server) selectAPIs(c *gin.Context) {
	origin, destination, ok := queryAirports(c)
	if !ok {
		return
	}

	departure := time.Now().AddDate(0, 0, 14)
	if raw := c.Query("departureDate"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			badRequest(c, "departureDate must be YYYY-MM-DD")
			return
		}
		departure = parsed
	}

	var returnDate *time.Time
	if raw := c.Query("returnDate"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			badRequest(c, "returnDate must be YYYY-MM-DD")
			return
		}
		returnDate = &parsed
	}

	cabinClass := c.DefaultQuery("cabinClass", "economy")

	decision := s.selector.SelectAPIs(c.Request.Context(), origin, destination, departure, returnDate, cabinClass)
	success(c, decision)
}
