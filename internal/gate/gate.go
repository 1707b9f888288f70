// Package gate is the request-time access check: permission first, then
// feature entitlement, then add-on entitlement. Denials carry machine
// readable codes so clients can distinguish a role problem from a billing
// problem.
package gate

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	addondomain "github.com/stackforge/tenantry/internal/addon/domain"
	auditdomain "github.com/stackforge/tenantry/internal/audit/domain"
	"github.com/stackforge/tenantry/internal/authorization"
	"github.com/stackforge/tenantry/internal/config"
	featuredomain "github.com/stackforge/tenantry/internal/feature/domain"
	"github.com/stackforge/tenantry/internal/observability/metrics"
	"github.com/stackforge/tenantry/internal/ratelimit"
	"github.com/stackforge/tenantry/pkg/tenantctx"
)

const (
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeNoTenant           = "NO_TENANT"
	CodePermissionDenied   = "PERMISSION_DENIED"
	CodeFeatureNotEntitled = "FEATURE_NOT_ENTITLED"
)

// Requirement declares what a route needs. Zero-value fields skip their
// check.
type Requirement struct {
	Object string
	Action string

	Feature string

	Addon string
	// ExtraDeps extends the addon's own dependency list for this route.
	ExtraDeps []string
	// Grace decides how grace-state installs are treated. The default
	// allows reads and denies writes.
	Grace addondomain.GracePolicy
}

type Params struct {
	fx.In

	Authz       authorization.Service
	Features    featuredomain.Resolver
	Addons      addondomain.Resolver
	Audit       auditdomain.Service
	Denials     ratelimit.DenialWindow
	Entitlement *config.EntitlementConfigHolder
	Metrics     *metrics.Metrics
	Log         *zap.Logger
}

// Gate builds per-route middleware from requirements.
type Gate struct {
	authz       authorization.Service
	features    featuredomain.Resolver
	addons      addondomain.Resolver
	audit       auditdomain.Service
	denials     ratelimit.DenialWindow
	entitlement *config.EntitlementConfigHolder
	metrics     *metrics.Metrics
	log         *zap.Logger
}

func New(p Params) *Gate {
	return &Gate{
		authz:       p.Authz,
		features:    p.Features,
		addons:      p.Addons,
		audit:       p.Audit,
		denials:     p.Denials,
		entitlement: p.Entitlement,
		metrics:     p.Metrics,
		log:         p.Log.Named("gate"),
	}
}

// Require returns middleware enforcing the requirement. Checks run in a
// fixed order; the first failure decides the response code.
func (g *Gate) Require(req Requirement) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := tenantctx.IdentityFromContext(c.Request.Context())
		if !ok || identity.UserID == 0 {
			g.metrics.ObserveGateDecision("denied", CodeUnauthenticated)
			c.AbortWithStatusJSON(http.StatusUnauthorized, denialBody(CodeUnauthenticated, "", ""))
			return
		}

		// A user without a tenant gets a soft 200 so onboarding flows can
		// branch without treating it as an error.
		if !identity.HasTenant() {
			g.metrics.ObserveGateDecision("denied", CodeNoTenant)
			c.AbortWithStatusJSON(http.StatusOK, gin.H{
				"error":               gin.H{"type": CodeNoTenant},
				"requiresTenantSetup": true,
			})
			return
		}

		ctx := c.Request.Context()

		if req.Object != "" && req.Action != "" {
			actor := fmt.Sprintf("user:%s", identity.UserID.String())
			if err := g.authz.Authorize(ctx, actor, identity.TenantID.String(), req.Object, req.Action); err != nil {
				g.deny(c, CodePermissionDenied, "permission.denied", req, "")
				return
			}
		}

		if req.Feature != "" {
			enabled, err := g.features.IsEnabled(ctx, identity.TenantID, req.Feature)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, denialBody("INTERNAL", "", ""))
				return
			}
			if !enabled {
				g.deny(c, CodeFeatureNotEntitled, "entitlement.denied", req, "")
				return
			}
		}

		if req.Addon != "" {
			verdict, err := g.addons.Check(ctx, identity.TenantID, req.Addon, addondomain.CheckOptions{
				ExtraDependencies: req.ExtraDeps,
				Operation:         operationClass(c.Request.Method),
				Grace:             req.Grace,
			})
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, denialBody("INTERNAL", "", ""))
				return
			}
			if !verdict.Entitled {
				g.deny(c, string(verdict.Reason), "entitlement.denied", req, verdict.Dependency)
				return
			}
		}

		g.metrics.ObserveGateDecision("allowed", "")
		c.Next()
	}
}

func (g *Gate) deny(c *gin.Context, code, event string, req Requirement, dependency string) {
	g.metrics.ObserveGateDecision("denied", code)
	g.auditDenial(c, code, event, req, dependency)
	c.AbortWithStatusJSON(http.StatusForbidden, denialBody(code, req.Addon, dependency))
}

// auditDenial records one audit row per tenant, event and route inside
// the suppression window; a misbehaving client retrying in a loop does
// not flood the trail.
func (g *Gate) auditDenial(c *gin.Context, code, event string, req Requirement, dependency string) {
	ctx := c.Request.Context()
	tenantID, ok := tenantctx.TenantID(ctx)
	if !ok {
		return
	}

	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	key := fmt.Sprintf("%s:%s:%s", tenantID.String(), event, route)
	window := g.entitlement.Current().DenialAuditWindow
	if !g.denials.First(ctx, key, window) {
		return
	}

	metadata := map[string]any{
		"code":   code,
		"route":  route,
		"method": c.Request.Method,
	}
	if req.Feature != "" {
		metadata["feature"] = req.Feature
	}
	if req.Addon != "" {
		metadata["addon"] = req.Addon
	}
	if dependency != "" {
		metadata["dependency"] = dependency
	}
	if err := g.audit.Record(ctx, &tenantID, "", nil, event, "gate", &route, metadata); err != nil {
		g.log.Debug("denial audit failed", zap.Error(err))
	}
}

func operationClass(method string) addondomain.OperationClass {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return addondomain.OpRead
	default:
		return addondomain.OpWrite
	}
}

func denialBody(code, addon, dependency string) gin.H {
	detail := gin.H{"type": code}
	if addon != "" {
		detail["addon"] = addon
	}
	if dependency != "" {
		detail["dependency"] = dependency
	}
	return gin.H{"error": detail}
}
