package server

// Route path constants
const (
	RouteSubmitLine = "/api/submit-line"

	RouteLivez   = "/livez"
	RouteMetrics = "/metrics"
)
