package router

import (
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
)

// RouteRegistrar mounts routes on the versioned API group
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router mounts registrars under /api/<version>
type Router struct {
	engine     *gin.Engine
	apiVersion string
	middleware []gin.HandlerFunc
	registrars []RouteRegistrar
}

// RouterOption configures a Router
type RouterOption func(*Router)

// WithAPIVersion sets the version segment of the prefix
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// WithMiddleware adds middleware ahead of every API route
func WithMiddleware(mw ...gin.HandlerFunc) RouterOption {
	return func(r *Router) {
		r.middleware = append(r.middleware, mw...)
	}
}

// NewRouter creates a Router for engine, defaulting to v1
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{engine: engine, apiVersion: "v1"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register queues a registrar for Setup
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Prefix is the path every registrar is mounted under
func (r *Router) Prefix() string {
	return "/api/" + r.apiVersion
}

// Setup mounts every registrar
func (r *Router) Setup() {
	api := r.engine.Group(r.Prefix(), r.middleware...)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// ScopeCheck builds the handler that rejects keys lacking scope
type ScopeCheck func(scope string) gin.HandlerFunc

// Route is one endpoint and the API-key scope it requires
type Route struct {
	Method   string
	Path     string
	Scope    string
	handlers []gin.HandlerFunc
}

// DomainGroup collects the routes of one resource. Each route runs its scope
// check first, then the group middleware, then its handlers, so a key
// without the scope is refused before any lookup happens.
type DomainGroup struct {
	name       string
	prefix     string
	check      ScopeCheck
	middleware []gin.HandlerFunc
	routes     []Route
}

// NewDomainGroup creates a group. A nil check mounts routes unguarded.
func NewDomainGroup(name, prefix string, check ScopeCheck) *DomainGroup {
	return &DomainGroup{name: name, prefix: prefix, check: check}
}

// Use adds middleware that runs after the scope check
func (dg *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, middleware...)
	return dg
}

// Handle registers a route requiring scope
func (dg *DomainGroup) Handle(method, relPath, scope string, handlers ...gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, Route{Method: method, Path: relPath, Scope: scope, handlers: handlers})
	return dg
}

// GET registers a GET route
func (dg *DomainGroup) GET(relPath, scope string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle(http.MethodGet, relPath, scope, handlers...)
}

// POST registers a POST route
func (dg *DomainGroup) POST(relPath, scope string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle(http.MethodPost, relPath, scope, handlers...)
}

// PUT registers a PUT route
func (dg *DomainGroup) PUT(relPath, scope string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle(http.MethodPut, relPath, scope, handlers...)
}

// DELETE registers a DELETE route
func (dg *DomainGroup) DELETE(relPath, scope string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.Handle(http.MethodDelete, relPath, scope, handlers...)
}

// RegisterRoutes implements RouteRegistrar
func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(dg.prefix)
	for _, r := range dg.routes {
		chain := make([]gin.HandlerFunc, 0, len(dg.middleware)+len(r.handlers)+1)
		if dg.check != nil && r.Scope != "" {
			chain = append(chain, dg.check(r.Scope))
		}
		chain = append(chain, dg.middleware...)
		chain = append(chain, r.handlers...)
		group.Handle(r.Method, r.Path, chain...)
	}
}

// Name returns the group name
func (dg *DomainGroup) Name() string {
	return dg.name
}

// Routes lists the group's routes with paths joined to the group prefix
func (dg *DomainGroup) Routes() []Route {
	out := make([]Route, len(dg.routes))
	for i, r := range dg.routes {
		r.Path = path.Join(dg.prefix, r.Path)
		out[i] = r
	}
	return out
}
