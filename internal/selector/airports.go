package selector

// DefaultDomesticAirports 美国国内主要机场。
// 可通过配置覆盖，这里只是没配时的兜底。
var DefaultDomesticAirports = []string{
	"ATL", "LAX", "ORD", "DFW", "DEN",
	"JFK", "SFO", "SEA", "LAS", "MCO",
	"EWR", "CLT", "PHX", "IAH", "MIA",
	"BOS", "MSP", "FLL", "DTW", "PHL",
	"LGA", "BWI", "SLC", "SAN", "IAD",
	"DCA", "MDW", "TPA", "PDX", "HNL",
	"STL", "HOU", "OAK", "AUS", "MSY",
}
