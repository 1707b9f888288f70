package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindTenant(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	CreateTenant(ctx context.Context, db *gorm.DB, tenant *Tenant) error

	FindUser(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	FindUserByEmail(ctx context.Context, db *gorm.DB, email string) (*User, error)
	CreateUser(ctx context.Context, db *gorm.DB, user *User) error

	FindMembership(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Member, error)
	CreateMember(ctx context.Context, db *gorm.DB, member *Member) error

	FindAPIKeyByHash(ctx context.Context, db *gorm.DB, hash string) (*APIKey, error)
	CreateAPIKey(ctx context.Context, db *gorm.DB, key *APIKey) error
	TouchAPIKey(ctx context.Context, db *gorm.DB, id snowflake.ID, usedAt time.Time) error
}
