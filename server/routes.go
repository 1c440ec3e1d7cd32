package server

// Route path constants.
const (
	RouteHealth       = "/health"
	RouteOidcLogin    = "/auth/oidc/login"
	RouteOidcCallback = "/auth/oidc/callback"
	RouteRefresh      = "/auth/refresh"
	RouteLogout       = "/auth/logout"
	RouteAuthInfo     = "/auth/info"

	RouteBloodPressure = "/bloodpressure"
	RouteAdminAudit    = "/admin/audit"
)

func (s *Server) initRoutes() {
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())

	// Authentication flow
	s.RegisterRouteFunc("GET "+RouteOidcLogin, ChainMiddleware(s.OidcLoginHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteOidcCallback, ChainMiddleware(s.OidcCallbackHandler(), s.APIMiddleware()...))
	s.RegisterRouteFunc("POST "+RouteRefresh, ChainMiddleware(s.RefreshHandler(), s.APIMiddleware()...))

	// Authenticated routes
	s.RegisterRouteFunc("POST "+RouteLogout, ChainMiddleware(s.LogoutHandler(), s.AuthenticatedMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteAuthInfo, ChainMiddleware(s.AuthInfoHandler(), s.AuthenticatedMiddleware()...))
	s.RegisterRouteFunc("GET "+RouteBloodPressure, ChainMiddleware(s.BloodPressureHandler(), s.AuthenticatedMiddleware()...))

	// Admin routes
	s.RegisterRouteFunc("GET "+RouteAdminAudit, ChainMiddleware(s.AdminAuditHandler(), append(s.AuthenticatedMiddleware(), s.RequireRoles(RouteAdminAudit, "admin"))...))
}
