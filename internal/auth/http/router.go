package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/stockroom/internal/auth/metrics"
	"github.com/aussiebroadwan/stockroom/internal/auth/service"
	"github.com/aussiebroadwan/stockroom/internal/auth/store"
	"github.com/aussiebroadwan/stockroom/pkg/httpx"
	"github.com/aussiebroadwan/stockroom/pkg/jwtx"
	"github.com/aussiebroadwan/stockroom/pkg/slogx"
)

// Limits are the rate limit profiles applied per route group. A zero
// profile does not limit.
type Limits struct {
	Login    httpx.RateLimitConfig
	Strict   httpx.RateLimitConfig
	Moderate httpx.RateLimitConfig
	Public   httpx.RateLimitConfig
}

func DefaultLimits() Limits {
	return Limits{
		Login:    httpx.LoginLimit,
		Strict:   httpx.StrictLimit,
		Moderate: httpx.ModerateLimit,
		Public:   httpx.PublicLimit,
	}
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeyManager
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	store        store.Store

	Guard   service.Guard
	Metrics *metrics.Metrics
	Limits  Limits

	AuthService        *service.AuthService
	TokenService       *service.TokenService
	UserService        *service.UserService
	Resolver           *service.PermissionResolver
	MFAService         *service.MFAService
	LockoutService     *service.LockoutService
	Ledger             *service.LoginLedger
	RolesService       *service.RolesService
	BootstrapService   *service.BootstrapService
	KeyRotationService *service.KeyRotationService
}

func NewRouter(keys *jwtx.KeyManager, buildVersion string, st store.Store, logger *slog.Logger) *Router {
	return &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		store:        st,
		Limits:       DefaultLimits(),
		middlewares:  []httpx.Middleware{slogx.HTTPMiddleware(logger)},
	}
}

// ApplyRoutes registers every route. Set the service fields first.
func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerMe()
	r.registerMFA()
	r.registerUsers()
	r.registerRoles()
	r.registerKeyRotation()
	r.registerBootstrap()
	r.registerSystem()

	if r.Metrics != nil {
		// innermost, so the mux has set r.Pattern by the time it records
		r.middlewares = append(r.middlewares, r.Metrics.Instrument)
	}
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// secured requires a valid access token and, when given, every permission.
func (r *Router) secured(h http.HandlerFunc, limit httpx.RateLimitConfig, permissions ...string) http.Handler {
	mws := []httpx.Middleware{httpx.AuthnMiddleware(r.TokenService)}
	if len(permissions) > 0 {
		mws = append(mws, httpx.RequirePermissions(r.Guard, permissions...))
	}
	mws = append(mws, httpx.RateLimitByUser(limit))
	return httpx.Chain(h, mws...)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{
		AuthService:  r.AuthService,
		TokenService: r.TokenService,
		UserService:  r.UserService,
	}

	// throttled per address and submitted identifier
	r.Mux.Handle("POST /v1/auth/login",
		httpx.Chain(http.HandlerFunc(h.HandleLogin),
			httpx.RateLimitByIPAndJSONField(r.Limits.Login, "identifier"),
		),
	)
	r.Mux.Handle("POST /v1/auth/register",
		httpx.Chain(http.HandlerFunc(h.HandleRegister),
			httpx.RateLimitByIP(r.Limits.Strict),
		),
	)
	r.Mux.Handle("POST /v1/auth/refresh",
		httpx.Chain(http.HandlerFunc(h.HandleRefresh),
			httpx.RateLimitByIP(r.Limits.Strict),
		),
	)
	r.Mux.Handle("POST /v1/auth/logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout),
			httpx.RateLimitByIP(r.Limits.Moderate),
		),
	)
}

func (r *Router) registerMe() {
	h := &MeHandler{UserService: r.UserService, Resolver: r.Resolver}

	r.Mux.Handle("GET /v1/me", r.secured(h.HandleGet, r.Limits.Moderate))
	r.Mux.Handle("POST /v1/me/password", r.secured(h.HandleChangePassword, r.Limits.Strict))
}

func (r *Router) registerMFA() {
	h := &MFAHandler{MFAService: r.MFAService}

	// strict: codes are six digits
	r.Mux.Handle("POST /v1/mfa/enroll", r.secured(h.HandleEnroll, r.Limits.Strict))
	r.Mux.Handle("POST /v1/mfa/activate", r.secured(h.HandleActivate, r.Limits.Strict))
	r.Mux.Handle("POST /v1/mfa/disable", r.secured(h.HandleDisable, r.Limits.Strict))
}

func (r *Router) registerUsers() {
	h := &UsersHandler{
		UserService:    r.UserService,
		LockoutService: r.LockoutService,
		Ledger:         r.Ledger,
		RolesService:   r.RolesService,
	}
	lim := r.Limits.Moderate

	r.Mux.Handle("GET /v1/users/{id}", r.secured(h.HandleGet, lim, "users:read"))
	r.Mux.Handle("DELETE /v1/users/{id}", r.secured(h.HandleDelete, lim, "users:delete"))
	r.Mux.Handle("GET /v1/users/{id}/lock", r.secured(h.HandleLockStatus, lim, "users:read"))
	r.Mux.Handle("POST /v1/users/{id}/unlock", r.secured(h.HandleUnlock, lim, "users:update"))
	r.Mux.Handle("PUT /v1/users/{id}/active", r.secured(h.HandleSetActive, lim, "users:update"))
	r.Mux.Handle("GET /v1/users/{id}/login-attempts", r.secured(h.HandleLoginAttempts, lim, "users:read"))
	r.Mux.Handle("POST /v1/users/{id}/roles", r.secured(h.HandleAssignRole, lim, "roles:manage"))
	r.Mux.Handle("DELETE /v1/users/{id}/roles/{role}", r.secured(h.HandleUnassignRole, lim, "roles:manage"))
}

func (r *Router) registerRoles() {
	h := &RolesHandler{RolesService: r.RolesService}

	r.Mux.Handle("GET /v1/roles", r.secured(h.HandleList, r.Limits.Moderate, "roles:read"))
	r.Mux.Handle("GET /v1/roles/{name}", r.secured(h.HandleGet, r.Limits.Moderate, "roles:read"))
}

func (r *Router) registerKeyRotation() {
	// Ephemeral mode rotates in memory only; persistent mode survives
	// restarts.
	h := &KeyRotationHandler{KeyRotationService: r.KeyRotationService}

	r.Mux.Handle("POST /v1/keys/rotate", r.secured(h.HandleRotate, r.Limits.Moderate, "keys:manage"))
	r.Mux.Handle("GET /v1/keys", r.secured(h.HandleListKeys, r.Limits.Moderate, "keys:manage"))
	r.Mux.Handle("POST /v1/keys/{kid}/retire", r.secured(h.HandleRetireKey, r.Limits.Moderate, "keys:manage"))
}

func (r *Router) registerBootstrap() {
	r.Mux.Handle("POST /v1/bootstrap",
		httpx.Chain(&BootstrapHandler{BootstrapService: r.BootstrapService},
			httpx.RateLimitByIP(r.Limits.Strict),
		),
	)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /.well-known/jwks.json",
		httpx.Chain(JWKSHandler(r.keys.KeySet),
			httpx.RateLimitByIP(r.Limits.Public),
		),
	)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(r.Limits.Public),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.keys),
			httpx.RateLimitByIP(r.Limits.Public),
		),
	)
	if r.Metrics != nil {
		r.Mux.Handle("GET /metrics", r.Metrics.Handler())
	}
}
