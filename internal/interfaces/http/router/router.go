// Package router assembles the versioned route table of the billing API.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/schoolerp/backend/internal/interfaces/http/handler"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router mounts registrars under /api/<version>
type Router struct {
	engine     *gin.Engine
	apiVersion string
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a RouteRegistrar to be registered by Setup
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes with the engine
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// DomainGroup collects the routes of one area of the API under a prefix
type DomainGroup struct {
	name       string
	prefix     string
	routes     []routeDefinition
	middleware []gin.HandlerFunc
}

type routeDefinition struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewDomainGroup creates a new domain-specific route group
func NewDomainGroup(name, prefix string) *DomainGroup {
	return &DomainGroup{name: name, prefix: prefix}
}

// Use adds middleware to this group only
func (dg *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, middleware...)
	return dg
}

// GET registers a GET route
func (dg *DomainGroup) GET(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodGet, path, handlers)
}

// POST registers a POST route
func (dg *DomainGroup) POST(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodPost, path, handlers)
}

func (dg *DomainGroup) handle(method, path string, handlers []gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{method: method, path: path, handlers: handlers})
	return dg
}

// RegisterRoutes implements RouteRegistrar
func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(dg.prefix)
	if len(dg.middleware) > 0 {
		group.Use(dg.middleware...)
	}
	for _, route := range dg.routes {
		group.Handle(route.method, route.path, route.handlers...)
	}
}

// Name returns the group name
func (dg *DomainGroup) Name() string {
	return dg.name
}

// Prefix returns the group prefix
func (dg *DomainGroup) Prefix() string {
	return dg.prefix
}

// Handlers are the handlers served by the billing API. Health is optional.
type Handlers struct {
	Invoice *handler.InvoiceHandler
	Payment *handler.PaymentHandler
	Webhook *handler.WebhookHandler
	Catalog *handler.CatalogHandler
	Report  *handler.ReportHandler
	Health  *handler.HealthHandler
}

// BillingGroups builds the route table. Webhook routes get their own
// middleware since the caller is the gateway rather than staff.
func BillingGroups(h Handlers, webhookMiddleware ...gin.HandlerFunc) []*DomainGroup {
	invoices := NewDomainGroup("invoices", "/invoices").
		POST("", h.Invoice.Create).
		GET("", h.Invoice.List).
		POST("/from-fee-structure", h.Invoice.CreateFromFeeStructure).
		GET("/:id", h.Invoice.Get).
		POST("/:id/recompute", h.Invoice.Recompute).
		POST("/:id/cancel", h.Invoice.Cancel).
		GET("/:id/payments", h.Payment.ListForInvoice).
		POST("/:id/payments", h.Payment.Record).
		POST("/:id/gateway-payments", h.Payment.InitializeGateway)

	payments := NewDomainGroup("payments", "/payments").
		GET("/gateway/verify", h.Payment.Verify).
		GET("/:id", h.Payment.Get).
		POST("/:id/mark-failed", h.Payment.MarkFailed)

	webhooks := NewDomainGroup("webhooks", "/webhooks").
		Use(webhookMiddleware...).
		POST("/paystack", h.Webhook.Paystack)

	catalog := NewDomainGroup("catalog", "").
		GET("/fee-categories", h.Catalog.ListFeeCategories).
		POST("/fee-categories", h.Catalog.CreateFeeCategory).
		GET("/fee-structures", h.Catalog.ListFeeStructures).
		POST("/fee-structures", h.Catalog.CreateFeeStructure).
		GET("/expenses", h.Catalog.ListExpenses).
		POST("/expenses", h.Catalog.RecordExpense)

	reports := NewDomainGroup("reports", "/reports").
		GET("/finance-summary", h.Report.FinanceSummary).
		GET("/pending-balances", h.Report.PendingBalances)

	groups := []*DomainGroup{invoices, payments, webhooks, catalog, reports}
	if h.Health != nil {
		groups = append(groups, NewDomainGroup("health", "/health").GET("", h.Health.Check))
	}
	return groups
}

// Setup registers the billing route table on engine under /api/v1
func Setup(engine *gin.Engine, h Handlers, webhookMiddleware ...gin.HandlerFunc) *Router {
	r := NewRouter(engine)
	for _, g := range BillingGroups(h, webhookMiddleware...) {
		r.Register(g)
	}
	r.Setup()
	return r
}
