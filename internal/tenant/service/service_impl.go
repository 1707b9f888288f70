package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stackforge/tenantry/internal/clock"
	"github.com/stackforge/tenantry/internal/tenant/domain"
	"github.com/stackforge/tenantry/pkg/tenantctx"
)

const apiKeySecretBytes = 24

type Params struct {
	fx.In

	DB    *gorm.DB
	Node  *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock
	Log   *zap.Logger
}

type serviceImpl struct {
	db    *gorm.DB
	node  *snowflake.Node
	repo  domain.Repository
	clock clock.Clock
	log   *zap.Logger
}

func New(p Params) domain.Service {
	return &serviceImpl{
		db:    p.DB,
		node:  p.Node,
		repo:  p.Repo,
		clock: p.Clock,
		log:   p.Log.Named("tenant.service"),
	}
}

func (s *serviceImpl) Get(ctx context.Context, id snowflake.ID) (*domain.Tenant, error) {
	tenant, err := s.repo.FindTenant(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, domain.ErrTenantNotFound
	}
	return tenant, nil
}

func (s *serviceImpl) Create(ctx context.Context, ownerUserID snowflake.ID, req domain.CreateTenantRequest) (*domain.Tenant, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrTenantNameRequired
	}
	country := strings.ToUpper(strings.TrimSpace(req.CountryCode))
	if len(country) != 2 {
		return nil, domain.ErrInvalidCountryCode
	}

	now := s.clock.Now()
	tenant := &domain.Tenant{
		ID:          s.node.Generate(),
		Name:        name,
		CountryCode: country,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.CreateTenant(ctx, tx, tenant); err != nil {
			return err
		}
		member := &domain.Member{
			ID:        s.node.Generate(),
			TenantID:  tenant.ID,
			UserID:    ownerUserID,
			Role:      "owner",
			CreatedAt: now,
		}
		return s.repo.CreateMember(ctx, tx, member)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("tenant created",
		zap.Int64("tenant_id", int64(tenant.ID)),
		zap.String("country", country))
	return tenant, nil
}

func (s *serviceImpl) ResolveAPIKey(ctx context.Context, rawKey string) (tenantctx.Identity, error) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return tenantctx.Identity{}, domain.ErrInvalidAPIKey
	}

	key, err := s.repo.FindAPIKeyByHash(ctx, s.db, domain.HashAPIKey(rawKey))
	if err != nil {
		return tenantctx.Identity{}, err
	}
	if key == nil {
		return tenantctx.Identity{}, domain.ErrInvalidAPIKey
	}
	now := s.clock.Now()
	if key.ExpiresAt != nil && now.After(*key.ExpiresAt) {
		return tenantctx.Identity{}, domain.ErrInvalidAPIKey
	}

	tenant, err := s.repo.FindTenant(ctx, s.db, key.TenantID)
	if err != nil {
		return tenantctx.Identity{}, err
	}
	if tenant == nil {
		return tenantctx.Identity{}, domain.ErrTenantNotFound
	}

	if err := s.repo.TouchAPIKey(ctx, s.db, key.ID, now); err != nil {
		s.log.Debug("api key touch failed", zap.Error(err))
	}

	return tenantctx.Identity{
		UserID:      key.UserID,
		TenantID:    tenant.ID,
		CountryCode: tenant.CountryCode,
		Role:        "owner",
	}, nil
}

func (s *serviceImpl) ResolveUser(ctx context.Context, userID snowflake.ID) (tenantctx.Identity, error) {
	user, err := s.repo.FindUser(ctx, s.db, userID)
	if err != nil {
		return tenantctx.Identity{}, err
	}
	if user == nil {
		return tenantctx.Identity{}, domain.ErrUserNotFound
	}

	identity := tenantctx.Identity{UserID: user.ID}

	member, err := s.repo.FindMembership(ctx, s.db, user.ID)
	if err != nil {
		return tenantctx.Identity{}, err
	}
	if member == nil {
		// Authenticated but not yet bound to a tenant. Callers get the
		// soft onboarding response instead of a hard failure.
		return identity, nil
	}

	tenant, err := s.repo.FindTenant(ctx, s.db, member.TenantID)
	if err != nil {
		return tenantctx.Identity{}, err
	}
	if tenant == nil {
		return identity, nil
	}

	identity.TenantID = tenant.ID
	identity.CountryCode = tenant.CountryCode
	identity.Role = member.Role
	return identity, nil
}

func (s *serviceImpl) IssueAPIKey(ctx context.Context, tenantID, userID snowflake.ID, name string) (string, *domain.APIKey, error) {
	secret := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", nil, err
	}

	id := s.node.Generate()
	plain := fmt.Sprintf("tk_%s_%s", id.String(), hex.EncodeToString(secret))

	now := s.clock.Now()
	key := &domain.APIKey{
		ID:        id,
		TenantID:  tenantID,
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		KeyHash:   domain.HashAPIKey(plain),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateAPIKey(ctx, s.db, key); err != nil {
		return "", nil, err
	}
	return plain, key, nil
}
