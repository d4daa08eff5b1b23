package server

// Route path constants
const (
	RouteHome      = "/"
	RouteLogin     = "/login"
	RouteCallback  = "/callback"
	RouteLogout    = "/logout"
	RouteProtected = "/protected"
	RouteHealth    = "/health"

	// API Routes
	RouteAPIMe = "/api/me"
)
