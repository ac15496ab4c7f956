// Package season 把日历日期归类为出行旺/平/淡季，并识别假期窗口。
// 纯函数，无持久化状态。
//
// 假期窗口是固定的近似区间（复活节、感恩节等浮动假日不做精确推算）。
// 这是沿用下来的已知简化：改动假期附近的缓存行为有营收影响，
// 不要在没有产品确认的情况下"修正"这些区间。
package season

import (
	"fmt"
	"math"
	"time"
)

// Season 出行需求季节。
type Season string

const (
	SeasonHigh     Season = "high"     // 6-8 月、12 月
	SeasonShoulder Season = "shoulder" // 4-5 月、9-10 月
	SeasonLow      Season = "low"      // 其余月份
)

// Analysis 一次日期分析的结果。
type Analysis struct {
	Season          Season  `json:"season"`
	IsPeakWeekend   bool    `json:"isPeakWeekend"`
	IsHoliday       bool    `json:"isHoliday"`
	HolidayName     string  `json:"holidayName,omitempty"`
	CacheMultiplier float64 `json:"cacheMultiplier"`
	Reason          string  `json:"reason"`
}

// holidayWindow 固定的假期区间（月/日闭区间，可跨年）。
type holidayWindow struct {
	name                 string
	startMonth, startDay int
	endMonth, endDay     int
}

// 按声明顺序匹配，先中先得。
var holidayWindows = []holidayWindow{
	{"New Year", 12, 28, 1, 5},
	{"Christmas", 12, 20, 12, 26},
	{"Thanksgiving", 11, 20, 11, 27},
	{"Easter", 4, 1, 4, 14},
	{"Spring Break", 3, 10, 3, 24},
	{"Independence Day", 7, 1, 7, 7},
	{"Memorial Day", 5, 24, 5, 31},
	{"Labor Day", 9, 1, 9, 7},
}

const (
	holidayMultiplier = 0.5

	highWeekdayMultiplier     = 0.8
	highWeekendMultiplier     = 0.6
	shoulderWeekdayMultiplier = 1.0
	shoulderWeekendMultiplier = 0.75
	lowWeekdayMultiplier      = 1.2
	lowWeekendMultiplier      = 0.9

	// midweekBonus 旺季以外的周一至周四需求更平稳，可以缓存更久
	midweekBonus = 1.5
)

// AnalyzeDate 把日期归类为季节并给出缓存时长乘数。
// 假期窗口优先于月份归类，且强制 season=high、multiplier=0.5。
func AnalyzeDate(date time.Time) Analysis {
	peakWeekend := isPeakWeekend(date)

	if name, ok := matchHoliday(date); ok {
		return Analysis{
			Season:          SeasonHigh,
			IsPeakWeekend:   peakWeekend,
			IsHoliday:       true,
			HolidayName:     name,
			CacheMultiplier: holidayMultiplier,
			Reason:          fmt.Sprintf("%s travel window, prices move fast", name),
		}
	}

	s := classifyMonth(date.Month())
	multiplier := baseMultiplier(s, peakWeekend)
	reason := fmt.Sprintf("%s season", s)
	if peakWeekend {
		reason += ", peak weekend departure"
	} else if s != SeasonHigh {
		multiplier *= midweekBonus
		reason += ", midweek departure"
	}

	return Analysis{
		Season:          s,
		IsPeakWeekend:   peakWeekend,
		CacheMultiplier: multiplier,
		Reason:          reason,
	}
}

// CalendarTTL 日历视图（最低价日历）的基础缓存时长。
// base 60 分钟 × 季节乘数 × 距离起飞的时间因子，钳在 [30min, 24h]。
type CalendarTTL struct {
	TTLSeconds int    `json:"ttl"`
	Reason     string `json:"reason"`
}

const (
	calendarBaseTTL = time.Hour
	// CalendarMinTTL / CalendarMaxTTL 日历缓存时长上下限（秒）
	CalendarMinTTL = 1800
	CalendarMaxTTL = 86400
)

// CalculateCalendarCacheTTL 结合季节与临近程度推荐日历缓存时长。
func CalculateCalendarCacheTTL(departureDate time.Time, daysUntilDeparture int) CalendarTTL {
	analysis := AnalyzeDate(departureDate)

	ttl := calendarBaseTTL.Seconds() * analysis.CacheMultiplier
	reason := analysis.Reason

	switch {
	case daysUntilDeparture < 3:
		ttl *= 0.5
		reason += "; departure imminent"
	case daysUntilDeparture < 7:
		ttl *= 0.7
		reason += "; departure within a week"
	case daysUntilDeparture > 90:
		ttl *= 2.0
		reason += "; far-future departure"
	case daysUntilDeparture > 60:
		ttl *= 1.5
		reason += "; distant departure"
	}

	seconds := int(math.Round(ttl))
	if seconds < CalendarMinTTL {
		seconds = CalendarMinTTL
	}
	if seconds > CalendarMaxTTL {
		seconds = CalendarMaxTTL
	}

	return CalendarTTL{TTLSeconds: seconds, Reason: reason}
}

func matchHoliday(date time.Time) (string, bool) {
	m, d := int(date.Month()), date.Day()
	for _, w := range holidayWindows {
		if inWindow(m, d, w) {
			return w.name, true
		}
	}
	return "", false
}

func inWindow(month, day int, w holidayWindow) bool {
	start := w.startMonth*100 + w.startDay
	end := w.endMonth*100 + w.endDay
	v := month*100 + day
	if start <= end {
		return v >= start && v <= end
	}
	// 跨年窗口（如 12/28–1/5）
	return v >= start || v <= end
}

func classifyMonth(m time.Month) Season {
	switch m {
	case time.June, time.July, time.August, time.December:
		return SeasonHigh
	case time.April, time.May, time.September, time.October:
		return SeasonShoulder
	default:
		return SeasonLow
	}
}

func baseMultiplier(s Season, peakWeekend bool) float64 {
	switch s {
	case SeasonHigh:
		if peakWeekend {
			return highWeekendMultiplier
		}
		return highWeekdayMultiplier
	case SeasonShoulder:
		if peakWeekend {
			return shoulderWeekendMultiplier
		}
		return shoulderWeekdayMultiplier
	default:
		if peakWeekend {
			return lowWeekendMultiplier
		}
		return lowWeekdayMultiplier
	}
}

// isPeakWeekend 周五/周六/周日出发视为高峰。
func isPeakWeekend(date time.Time) bool {
	switch date.Weekday() {
	case time.Friday, time.Saturday, time.Sunday:
		return true
	default:
		return false
	}
}
