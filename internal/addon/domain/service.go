package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrAddonNotFound          = errors.New("addon_not_found")
	ErrAddonNotPublished      = errors.New("addon_not_published")
	ErrAddonAlreadyInstalled  = errors.New("addon_already_installed")
	ErrAddonNotInstalled      = errors.New("addon_not_installed")
	ErrAddonDependencyMissing = errors.New("addon_dependency_missing")
	ErrAddonDependencyExpired = errors.New("addon_dependency_expired")
	ErrAddonExpired           = errors.New("addon_expired")
)

// DirectoryCapability is a virtual capability granted by either of the
// people-directory add-ons rather than an install of its own.
const DirectoryCapability = "directory"

// DirectoryProviders are the add-ons whose entitlement satisfies the
// directory capability.
var DirectoryProviders = []string{"hrms", "crm"}

// ReasonCode explains a verdict without entitlement.
type ReasonCode string

const (
	ReasonNotInstalled      ReasonCode = "ADDON_NOT_INSTALLED"
	ReasonExpired           ReasonCode = "ADDON_EXPIRED"
	ReasonTrialExpired      ReasonCode = "ADDON_TRIAL_EXPIRED"
	ReasonInGrace           ReasonCode = "ADDON_IN_GRACE"
	ReasonCancelled         ReasonCode = "ADDON_CANCELLED"
	ReasonDisabled          ReasonCode = "ADDON_DISABLED"
	ReasonDependencyMissing ReasonCode = "ADDON_DEPENDENCY_MISSING"
	ReasonDependencyExpired ReasonCode = "ADDON_DEPENDENCY_EXPIRED"
)

// Verdict is the resolver's answer for one capability check.
type Verdict struct {
	Entitled bool         `json:"entitled"`
	State    InstallState `json:"state,omitempty"`
	Reason   ReasonCode   `json:"reason,omitempty"`
	// Dependency names the addon in the chain that caused a dependency
	// verdict.
	Dependency string     `json:"dependency,omitempty"`
	ValidUntil *time.Time `json:"validUntil,omitempty"`
}

// OperationClass separates reads from writes for grace handling.
type OperationClass string

const (
	OpRead  OperationClass = "read"
	OpWrite OperationClass = "write"
)

// GracePolicy decides whether a grace-state install still grants the
// capability.
type GracePolicy string

const (
	// GraceAllowReads grants reads but not writes during grace. Default.
	GraceAllowReads GracePolicy = "allow_reads"
	GraceDeny       GracePolicy = "deny"
	GraceAllow      GracePolicy = "allow"
)

// Allows reports whether the policy grants the operation class while the
// install is in grace.
func (p GracePolicy) Allows(op OperationClass) bool {
	switch p {
	case GraceAllow:
		return true
	case GraceDeny:
		return false
	default:
		return op != OpWrite
	}
}

// CheckOptions tune a capability check.
type CheckOptions struct {
	// ExtraDependencies are checked in addition to the addon's own
	// dependency list. Callers use this for route-specific requirements.
	ExtraDependencies []string
	Operation         OperationClass
	Grace             GracePolicy
}

// Resolver answers add-on entitlement questions and manages installs.
type Resolver interface {
	// Check resolves one capability for a tenant. The dependency chain is
	// checked first; a failing dependency dominates the addon's own state.
	Check(ctx context.Context, tenantID snowflake.ID, code string, opts CheckOptions) (*Verdict, error)

	Install(ctx context.Context, tenantID snowflake.ID, code string) (*Install, error)
	Cancel(ctx context.Context, tenantID snowflake.ID, code string) (*Install, error)
	ListInstalls(ctx context.Context, tenantID snowflake.ID) ([]Install, error)
	ListCatalog(ctx context.Context) ([]Addon, error)

	// Sweep advances lapsed installs through grace to expired. Returns
	// the number of rows transitioned.
	Sweep(ctx context.Context) (int, error)
}
