// Package seed bootstraps a default organization and owner so a fresh
// install is usable without manual setup.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	identitydomain "github.com/tenantry/tenantry/internal/identity/domain"
	membershipdomain "github.com/tenantry/tenantry/internal/membership/domain"
	orgdomain "github.com/tenantry/tenantry/internal/organization/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultOrgName       = "Main"
	defaultOrgSlug       = "main"
	defaultOwnerExternal = "admin"
	defaultOwnerUsername = "admin"
	defaultOwnerEmail    = "admin@localhost"
)

// EnsureDefaultOrgAndOwner creates the default organization, its owner
// user, and the owner membership when no organization exists yet.
func EnsureDefaultOrgAndOwner(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var org orgdomain.Organization
		err := tx.WithContext(ctx).Where("slug = ?", defaultOrgSlug).First(&org).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		owner, err := ensureOwnerUser(ctx, tx, node)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		org = orgdomain.Organization{
			ID:          node.Generate(),
			Name:        defaultOrgName,
			Slug:        defaultOrgSlug,
			OwnerUserID: owner.ID,
			Metadata:    datatypes.JSONMap{},
		}
		if err := tx.WithContext(ctx).Create(&org).Error; err != nil {
			return err
		}

		membership := membershipdomain.OrganizationMembership{
			ID:        node.Generate(),
			OrgID:     org.ID,
			UserID:    &owner.ID,
			Username:  owner.Username,
			RoleCode:  membershipdomain.RoleOwner,
			InvitedAt: &now,
			JoinedAt:  &now,
			Metadata:  datatypes.JSONMap{},
		}
		return tx.WithContext(ctx).Create(&membership).Error
	})
}

func ensureOwnerUser(ctx context.Context, tx *gorm.DB, node *snowflake.Node) (*identitydomain.User, error) {
	var user identitydomain.User
	err := tx.WithContext(ctx).Where("external_id = ?", defaultOwnerExternal).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user = identitydomain.User{
		ID:         node.Generate(),
		ExternalID: defaultOwnerExternal,
		Username:   defaultOwnerUsername,
		Email:      defaultOwnerEmail,
		Metadata:   datatypes.JSONMap{},
	}
	if err := tx.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
