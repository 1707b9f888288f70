package gate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
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

type fakeAuthz struct {
	err error
}

func (f *fakeAuthz) Authorize(context.Context, string, string, string, string) error {
	return f.err
}

type fakeFeatures struct {
	featuredomain.Resolver

	enabled map[string]bool
}

func (f *fakeFeatures) IsEnabled(_ context.Context, _ snowflake.ID, code string) (bool, error) {
	return f.enabled[code], nil
}

type fakeAddons struct {
	addondomain.Resolver

	verdict  *addondomain.Verdict
	lastOpts addondomain.CheckOptions
}

func (f *fakeAddons) Check(_ context.Context, _ snowflake.ID, _ string, opts addondomain.CheckOptions) (*addondomain.Verdict, error) {
	f.lastOpts = opts
	return f.verdict, nil
}

type auditEntry struct {
	action   string
	metadata map[string]any
}

type fakeAudit struct {
	auditdomain.Service

	entries []auditEntry
}

func (f *fakeAudit) Record(_ context.Context, _ *snowflake.ID, _ string, _ *string, action, _ string, _ *string, metadata map[string]any) error {
	f.entries = append(f.entries, auditEntry{action: action, metadata: metadata})
	return nil
}

type gateHarness struct {
	gate     *Gate
	authz    *fakeAuthz
	features *fakeFeatures
	addons   *fakeAddons
	audit    *fakeAudit
	node     *snowflake.Node
}

func newGateHarness(t *testing.T) *gateHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	h := &gateHarness{
		authz:    &fakeAuthz{},
		features: &fakeFeatures{enabled: map[string]bool{}},
		addons:   &fakeAddons{verdict: &addondomain.Verdict{Entitled: true}},
		audit:    &fakeAudit{},
		node:     node,
	}
	h.gate = New(Params{
		Authz:       h.authz,
		Features:    h.features,
		Addons:      h.addons,
		Audit:       h.audit,
		Denials:     ratelimit.NewLocalDenialWindow(),
		Entitlement: config.NewStaticEntitlementConfigHolder(config.EntitlementConfig{DenialAuditWindow: 5 * time.Minute}),
		Metrics:     m,
		Log:         zap.NewNop(),
	})
	return h
}

func (h *gateHarness) serve(t *testing.T, method string, req Requirement, identity *tenantctx.Identity) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	if identity != nil {
		id := *identity
		r.Use(func(c *gin.Context) {
			c.Request = c.Request.WithContext(tenantctx.WithIdentity(c.Request.Context(), id))
			c.Next()
		})
	}
	r.Handle(method, "/guarded", h.gate.Require(req), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": "ok"})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, "/guarded", nil))
	return w
}

func (h *gateHarness) identity() *tenantctx.Identity {
	return &tenantctx.Identity{
		UserID:      h.node.Generate(),
		TenantID:    h.node.Generate(),
		CountryCode: "US",
		Role:        "member",
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body struct {
		Error map[string]any `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

func TestRequireUnauthenticated(t *testing.T) {
	h := newGateHarness(t)

	w := h.serve(t, http.MethodGet, Requirement{Feature: "reports"}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, CodeUnauthenticated, decodeError(t, w)["type"])
}

func TestRequireNoTenantIsSoft200(t *testing.T) {
	h := newGateHarness(t)
	identity := h.identity()
	identity.TenantID = 0

	w := h.serve(t, http.MethodGet, Requirement{Feature: "reports"}, identity)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, CodeNoTenant, decodeError(t, w)["type"])
	require.Contains(t, w.Body.String(), `"requiresTenantSetup":true`)
}

func TestRequirePermissionBeforeEntitlement(t *testing.T) {
	h := newGateHarness(t)
	h.authz.err = authorization.ErrForbidden
	h.features.enabled["reports"] = true

	w := h.serve(t, http.MethodGet, Requirement{
		Object:  "subscription",
		Action:  "change",
		Feature: "reports",
	}, h.identity())
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, CodePermissionDenied, decodeError(t, w)["type"])
}

func TestRequireFeatureDenied(t *testing.T) {
	h := newGateHarness(t)

	w := h.serve(t, http.MethodGet, Requirement{Feature: "reports"}, h.identity())
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, CodeFeatureNotEntitled, decodeError(t, w)["type"])
}

func TestRequireAddonDenialCarriesDependency(t *testing.T) {
	h := newGateHarness(t)
	h.addons.verdict = &addondomain.Verdict{
		Entitled:   false,
		Reason:     addondomain.ReasonDependencyExpired,
		Dependency: "hrms",
	}

	w := h.serve(t, http.MethodGet, Requirement{Addon: "payroll"}, h.identity())
	require.Equal(t, http.StatusForbidden, w.Code)
	errBody := decodeError(t, w)
	require.Equal(t, string(addondomain.ReasonDependencyExpired), errBody["type"])
	require.Equal(t, "payroll", errBody["addon"])
	require.Equal(t, "hrms", errBody["dependency"])
}

func TestRequireAllowsWhenAllChecksPass(t *testing.T) {
	h := newGateHarness(t)
	h.features.enabled["reports"] = true

	w := h.serve(t, http.MethodGet, Requirement{
		Object:  "report",
		Action:  "view",
		Feature: "reports",
		Addon:   "hrms",
	}, h.identity())
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRequireMapsMethodToOperationClass(t *testing.T) {
	h := newGateHarness(t)

	h.serve(t, http.MethodGet, Requirement{Addon: "hrms"}, h.identity())
	require.Equal(t, addondomain.OpRead, h.addons.lastOpts.Operation)

	h.serve(t, http.MethodPost, Requirement{Addon: "hrms"}, h.identity())
	require.Equal(t, addondomain.OpWrite, h.addons.lastOpts.Operation)
}

func TestDenialAuditSuppressedWithinWindow(t *testing.T) {
	h := newGateHarness(t)
	identity := h.identity()

	for range 3 {
		w := h.serve(t, http.MethodGet, Requirement{Feature: "reports"}, identity)
		require.Equal(t, http.StatusForbidden, w.Code)
	}

	// Only the first denial inside the window reaches the audit trail.
	require.Len(t, h.audit.entries, 1)
	require.Equal(t, "entitlement.denied", h.audit.entries[0].action)
	require.Equal(t, "reports", h.audit.entries[0].metadata["feature"])
}

func TestDenialAuditKeyedByTenant(t *testing.T) {
	h := newGateHarness(t)

	h.serve(t, http.MethodGet, Requirement{Feature: "reports"}, h.identity())
	h.serve(t, http.MethodGet, Requirement{Feature: "reports"}, h.identity())

	// Distinct tenants each get their own audit row.
	require.Len(t, h.audit.entries, 2)
}
