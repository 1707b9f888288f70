package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	addondomain "github.com/stackforge/tenantry/internal/addon/domain"
	auditdomain "github.com/stackforge/tenantry/internal/audit/domain"
	"github.com/stackforge/tenantry/internal/authorization"
	featuredomain "github.com/stackforge/tenantry/internal/feature/domain"
	paymentdomain "github.com/stackforge/tenantry/internal/payment/domain"
	plandomain "github.com/stackforge/tenantry/internal/plan/domain"
	subscriptiondomain "github.com/stackforge/tenantry/internal/subscription/domain"
	tenantdomain "github.com/stackforge/tenantry/internal/tenant/domain"
)

type errorPayload struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	Dependency string `json:"dependency,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotFound       = errors.New("not_found")
	ErrInternal       = errors.New("internal_error")
)

// ErrorHandlingMiddleware maps domain errors pushed via AbortWithError to
// the wire taxonomy. Handlers never build error bodies themselves.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

type mapping struct {
	status int
	code   string
	msg    string
}

var errorTable = []struct {
	err error
	mapping
}{
	{ErrUnauthorized, mapping{http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized"}},
	{tenantdomain.ErrInvalidAPIKey, mapping{http.StatusUnauthorized, "UNAUTHORIZED", "invalid api key"}},
	{tenantdomain.ErrInvalidCredentials, mapping{http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials"}},

	{authorization.ErrForbidden, mapping{http.StatusForbidden, "PERMISSION_DENIED", "permission denied"}},
	{featuredomain.ErrFeatureNotEntitled, mapping{http.StatusForbidden, "FEATURE_NOT_ENTITLED", "feature not entitled"}},

	{plandomain.ErrPlanNotFound, mapping{http.StatusNotFound, "PLAN_NOT_FOUND", "plan not found"}},
	{plandomain.ErrPlanArchived, mapping{http.StatusNotFound, "PLAN_ARCHIVED", "plan archived"}},
	{plandomain.ErrPlanNotPublic, mapping{http.StatusNotFound, "PLAN_NOT_PUBLIC", "plan not available"}},
	{plandomain.ErrInvalidCycle, mapping{http.StatusBadRequest, "INVALID_BILLING_CYCLE", "invalid billing cycle"}},
	{plandomain.ErrInvalidCountry, mapping{http.StatusBadRequest, "INVALID_COUNTRY", "invalid country code"}},
	{plandomain.ErrCouponInvalid, mapping{http.StatusBadRequest, "COUPON_INVALID", "coupon not applicable"}},

	{subscriptiondomain.ErrNoSubscription, mapping{http.StatusNotFound, "NO_SUBSCRIPTION", "no subscription"}},
	{subscriptiondomain.ErrSubscriptionExists, mapping{http.StatusConflict, "SUBSCRIPTION_EXISTS", "subscription already exists"}},
	{subscriptiondomain.ErrInvalidSubscriptionStatus, mapping{http.StatusConflict, "INVALID_SUBSCRIPTION_STATUS", "subscription not in a valid state"}},
	{subscriptiondomain.ErrPlanCountryMismatch, mapping{http.StatusBadRequest, "PLAN_COUNTRY_MISMATCH", "plan belongs to a different country"}},
	{subscriptiondomain.ErrInvalidUpgrade, mapping{http.StatusBadRequest, "INVALID_UPGRADE", "not a valid upgrade"}},
	{subscriptiondomain.ErrInvalidDowngrade, mapping{http.StatusBadRequest, "INVALID_DOWNGRADE", "not a valid downgrade"}},
	{subscriptiondomain.ErrInvalidChangeAction, mapping{http.StatusBadRequest, "VALIDATION_ERROR", "action must be upgrade or downgrade"}},
	{subscriptiondomain.ErrNoPendingDowngrade, mapping{http.StatusConflict, "NO_PENDING_DOWNGRADE", "no downgrade scheduled"}},
	{subscriptiondomain.ErrNoPendingUpgrade, mapping{http.StatusConflict, "NO_PENDING_UPGRADE", "no pending upgrade"}},
	{subscriptiondomain.ErrPaymentNotFound, mapping{http.StatusNotFound, "PAYMENT_NOT_FOUND", "payment not found"}},
	{subscriptiondomain.ErrInvalidPaymentState, mapping{http.StatusConflict, "INVALID_PAYMENT_STATE", "payment not in a capturable state"}},
	{subscriptiondomain.ErrPaymentMismatch, mapping{http.StatusConflict, "PAYMENT_MISMATCH", "payment identifiers do not match"}},
	{subscriptiondomain.ErrPaymentAlreadyCaptured, mapping{http.StatusConflict, "PAYMENT_ALREADY_CAPTURED", "payment already captured"}},
	{subscriptiondomain.ErrSignatureRequired, mapping{http.StatusBadRequest, "SIGNATURE_REQUIRED", "payment signature required"}},

	{paymentdomain.ErrProviderNotFound, mapping{http.StatusNotFound, "PROVIDER_NOT_FOUND", "unknown payment provider"}},
	{paymentdomain.ErrInvalidSignature, mapping{http.StatusBadRequest, "INVALID_SIGNATURE", "signature verification failed"}},
	{paymentdomain.ErrInvalidWebhook, mapping{http.StatusBadRequest, "INVALID_WEBHOOK", "webhook payload invalid"}},

	{addondomain.ErrAddonNotFound, mapping{http.StatusNotFound, "ADDON_NOT_FOUND", "addon not found"}},
	{addondomain.ErrAddonNotPublished, mapping{http.StatusConflict, "ADDON_NOT_PUBLISHED", "addon not installable"}},
	{addondomain.ErrAddonAlreadyInstalled, mapping{http.StatusConflict, "ADDON_ALREADY_INSTALLED", "addon already installed"}},
	{addondomain.ErrAddonNotInstalled, mapping{http.StatusNotFound, "ADDON_NOT_INSTALLED", "addon not installed"}},
	{addondomain.ErrAddonDependencyMissing, mapping{http.StatusConflict, "ADDON_DEPENDENCY_MISSING", "required addon missing"}},
	{addondomain.ErrAddonDependencyExpired, mapping{http.StatusConflict, "ADDON_DEPENDENCY_EXPIRED", "required addon expired"}},

	{featuredomain.ErrFeatureNotFound, mapping{http.StatusNotFound, "FEATURE_NOT_FOUND", "feature not found"}},
	{featuredomain.ErrFeatureGlobalLocked, mapping{http.StatusConflict, "FEATURE_GLOBAL_LOCKED", "global features cannot be overridden"}},

	{tenantdomain.ErrTenantNotFound, mapping{http.StatusNotFound, "TENANT_NOT_FOUND", "tenant not found"}},
	{tenantdomain.ErrTenantNameRequired, mapping{http.StatusBadRequest, "VALIDATION_ERROR", "tenant name required"}},
	{tenantdomain.ErrInvalidCountryCode, mapping{http.StatusBadRequest, "VALIDATION_ERROR", "country code must be two letters"}},

	{auditdomain.ErrInvalidPageToken, mapping{http.StatusBadRequest, "INVALID_PAGE_TOKEN", "page token invalid"}},
	{auditdomain.ErrInvalidTimeRange, mapping{http.StatusBadRequest, "INVALID_TIME_RANGE", "time range invalid"}},

	{ErrInvalidRequest, mapping{http.StatusBadRequest, "VALIDATION_ERROR", "invalid request"}},
	{ErrNotFound, mapping{http.StatusNotFound, "NOT_FOUND", "not found"}},
}

func mapError(err error) (int, errorPayload) {
	for _, entry := range errorTable {
		if errors.Is(err, entry.err) {
			return entry.status, errorPayload{Type: entry.code, Message: entry.msg}
		}
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return http.StatusNotFound, errorPayload{Type: "NOT_FOUND", Message: "not found"}
	}
	return http.StatusInternalServerError, errorPayload{Type: "INTERNAL", Message: "internal server error"}
}
