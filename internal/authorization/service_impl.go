package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectStudent      = "student"
	ObjectFee          = "fee"
	ObjectCase         = "case"
	ObjectProperty     = "property"
	ObjectBilling      = "billing"
	ObjectAddon        = "addon"
	ObjectFeature      = "feature"
	ObjectAuditLog     = "audit_log"
	ObjectTenant       = "tenant"
	ObjectSubscription = "subscription"
)

const (
	ActionView   = "view"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"

	ActionBillingManage      = "billing.manage"
	ActionSubscriptionChange = "subscription.change"
	ActionSubscriptionCancel = "subscription.cancel"
	ActionAddonInstall       = "addon.install"
	ActionAddonCancel        = "addon.cancel"
	ActionFeatureOverride    = "feature.override"
	ActionAuditLogView       = "audit_log.view"
	ActionTenantManage       = "tenant.manage"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor, tenantID, object, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return ErrInvalidTenant
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, err := s.resolveActor(ctx, actor, tenantID)
	if err != nil {
		return err
	}

	dom := fmt.Sprintf("tenant:%s", tenantID)
	if err := s.ensureGrouping(subject, roleName, dom); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, dom, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor, tenantID string) (string, string, error) {
	if actor == "system" {
		return actor, "role:system", nil
	}
	if strings.HasPrefix(actor, "user:") {
		userIDRaw := strings.TrimPrefix(actor, "user:")
		userID, err := snowflake.ParseString(userIDRaw)
		if err != nil || userID == 0 {
			return "", "", ErrInvalidActor
		}
		parsedTenantID, err := snowflake.ParseString(tenantID)
		if err != nil || parsedTenantID == 0 {
			return "", "", ErrInvalidTenant
		}
		role, err := s.roleForUser(ctx, parsedTenantID, userID)
		if err != nil {
			return "", "", err
		}
		return actor, fmt.Sprintf("role:%s", strings.ToLower(role)), nil
	}
	return "", "", ErrInvalidActor
}

func (s *ServiceImpl) roleForUser(ctx context.Context, tenantID, userID snowflake.ID) (string, error) {
	var row struct {
		Role string `gorm:"column:role"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM tenant_members
		 WHERE tenant_id = ? AND user_id = ?
		 LIMIT 1`,
		tenantID,
		userID,
	).Scan(&row).Error; err != nil {
		return "", err
	}

	role := strings.TrimSpace(row.Role)
	if role == "" {
		return "", ErrForbidden
	}
	return role, nil
}

func (s *ServiceImpl) ensureGrouping(subject, roleName, dom string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", dom)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, dom)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, dom)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	crudObjects := []string{ObjectStudent, ObjectFee, ObjectCase, ObjectProperty}

	policies := [][]string{
		{"role:viewer", ObjectSubscription, ActionView},
		{"role:viewer", ObjectAddon, ActionView},
		{"role:viewer", ObjectFeature, ActionView},

		{"role:staff", ObjectSubscription, ActionView},
		{"role:staff", ObjectAddon, ActionView},
		{"role:staff", ObjectFeature, ActionView},

		{"role:admin", ObjectBilling, ActionBillingManage},
		{"role:admin", ObjectSubscription, ActionView},
		{"role:admin", ObjectSubscription, ActionSubscriptionChange},
		{"role:admin", ObjectAddon, ActionView},
		{"role:admin", ObjectAddon, ActionAddonInstall},
		{"role:admin", ObjectAddon, ActionAddonCancel},
		{"role:admin", ObjectFeature, ActionView},
		{"role:admin", ObjectFeature, ActionFeatureOverride},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},

		{"role:owner", ObjectBilling, ActionBillingManage},
		{"role:owner", ObjectSubscription, ActionView},
		{"role:owner", ObjectSubscription, ActionSubscriptionChange},
		{"role:owner", ObjectSubscription, ActionSubscriptionCancel},
		{"role:owner", ObjectAddon, ActionView},
		{"role:owner", ObjectAddon, ActionAddonInstall},
		{"role:owner", ObjectAddon, ActionAddonCancel},
		{"role:owner", ObjectFeature, ActionView},
		{"role:owner", ObjectFeature, ActionFeatureOverride},
		{"role:owner", ObjectAuditLog, ActionAuditLogView},
		{"role:owner", ObjectTenant, ActionTenantManage},

		{"role:system", ObjectSubscription, ActionSubscriptionCancel},
		{"role:system", ObjectSubscription, ActionSubscriptionChange},
		{"role:system", ObjectTenant, ActionTenantManage},
	}

	for _, role := range []string{"role:viewer", "role:staff", "role:admin", "role:owner", "role:system"} {
		for _, object := range crudObjects {
			policies = append(policies, []string{role, object, ActionView})
			if role == "role:viewer" {
				continue
			}
			policies = append(policies,
				[]string{role, object, ActionCreate},
				[]string{role, object, ActionUpdate})
			if role == "role:owner" || role == "role:admin" || role == "role:system" {
				policies = append(policies, []string{role, object, ActionDelete})
			}
		}
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
