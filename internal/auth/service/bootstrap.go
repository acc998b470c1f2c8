package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
	"github.com/aussiebroadwan/stockroom/internal/auth/store"
	"github.com/aussiebroadwan/stockroom/pkg/idx"
	"github.com/aussiebroadwan/stockroom/pkg/slogx"
)

var (
	ErrBootstrapAlready      = errors.New("system already bootstrapped")
	ErrBootstrapUnauthorized = errors.New("unauthorized bootstrap attempt")
	ErrBootstrapDisabled     = errors.New("bootstrap not enabled")
)

// DefaultPermissions is the back office permission catalogue.
var DefaultPermissions = []string{
	"users:create", "users:read", "users:update", "users:delete",
	"roles:read", "roles:manage",
	"keys:manage",
	"products:create", "products:read", "products:update", "products:delete",
	"inventory:read", "inventory:adjust",
	"sales:create", "sales:read", "sales:cancel",
	"reports:read",
}

// DefaultRoles are seeded with the catalogue. The bypass role carries no
// explicit permissions.
func DefaultRoles(bypassRole, defaultRole string) []domain.RoleDefinition {
	return []domain.RoleDefinition{
		{Name: bypassRole, DisplayName: "Super administrator"},
		{
			Name:        "admin",
			DisplayName: "Administrator",
			Permissions: []string{
				"users:create", "users:read", "users:update",
				"roles:read",
				"products:create", "products:read", "products:update", "products:delete",
				"inventory:read", "inventory:adjust",
				"sales:read", "sales:cancel",
				"reports:read",
			},
		},
		{
			Name:        defaultRole,
			DisplayName: "Vendedor",
			Permissions: []string{"products:read", "inventory:read", "sales:create", "sales:read"},
		},
	}
}

// BootstrapService seeds an empty database once, guarded by a
// pre-configured token.
type BootstrapService struct {
	Store     store.Store
	Roles     *RolesService
	Passwords *PasswordPolicyService
	Token     string
	// BypassRole and DefaultRole name the seeded roles when the request
	// brings none.
	BypassRole  string
	DefaultRole string
	Clock       Clock
}

// IsBootstrapped is true once any user exists.
func (s *BootstrapService) IsBootstrapped(ctx context.Context) (bool, error) {
	empty, err := s.Store.Users().IsEmpty(ctx)
	if err != nil {
		return false, err
	}
	return !empty, nil
}

// Bootstrap creates the permission catalogue, the roles and the first
// administrator in one transaction.
func (s *BootstrapService) Bootstrap(ctx context.Context, token string, req domain.BootstrapData) (domain.User, error) {
	l := slogx.FromContext(ctx)

	// 1. Enabled and authorised
	if s.Token == "" {
		return domain.User{}, ErrBootstrapDisabled
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.Token)) != 1 {
		l.Warn("unauthorized bootstrap attempt")
		return domain.User{}, ErrBootstrapUnauthorized
	}

	// 2. Only once
	bootstrapped, err := s.IsBootstrapped(ctx)
	if err != nil {
		return domain.User{}, err
	}
	if bootstrapped {
		l.Warn("attempted bootstrap on already-bootstrapped system")
		return domain.User{}, ErrBootstrapAlready
	}

	// 3. Fill defaults and check the admin password
	req = s.withDefaults(req)
	hash, err := s.Passwords.hashIfAcceptable(ctx, s.Store, "", req.AdminPassword)
	if err != nil {
		return domain.User{}, err
	}

	now := s.Clock.Now()
	admin := domain.User{
		ID:                idx.NewAt(now).String(),
		Username:          strings.TrimSpace(req.AdminUsername),
		Email:             strings.ToLower(strings.TrimSpace(req.AdminEmail)),
		PasswordHash:      hash,
		PasswordChangedAt: now,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if admin.Username == "" || admin.Email == "" {
		return domain.User{}, fmt.Errorf("%w: admin username and email are required", ErrInvalidRequest)
	}

	// 4. Seed everything together
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		for _, name := range req.Permissions {
			if _, err := s.Roles.createPermission(ctx, tx, name, ""); err != nil {
				return fmt.Errorf("create permission %s: %w", name, err)
			}
		}
		for _, def := range req.Roles {
			if _, err := s.Roles.createRole(ctx, tx, def); err != nil {
				return fmt.Errorf("create role %s: %w", def.Name, err)
			}
		}
		if err := tx.Users().CreateUser(ctx, admin); err != nil {
			return fmt.Errorf("create admin user: %w", err)
		}
		if err := s.Passwords.Remember(ctx, tx, admin.ID, hash); err != nil {
			return fmt.Errorf("remember admin password: %w", err)
		}
		return assignRole(ctx, tx, admin.ID, req.AdminRole)
	})
	if err != nil {
		l.Error("bootstrap failed", "error", err)
		return domain.User{}, err
	}

	l.Info("system bootstrapped",
		"admin_user_id", admin.ID,
		"permissions", len(req.Permissions),
		"roles", len(req.Roles),
	)
	return admin, nil
}

func (s *BootstrapService) withDefaults(req domain.BootstrapData) domain.BootstrapData {
	bypass := s.BypassRole
	if bypass == "" {
		bypass = DefaultBypassRole
	}
	def := s.DefaultRole
	if def == "" {
		def = DefaultRole
	}
	if len(req.Permissions) == 0 {
		req.Permissions = DefaultPermissions
	}
	if len(req.Roles) == 0 {
		req.Roles = DefaultRoles(bypass, def)
	}
	if req.AdminRole == "" {
		req.AdminRole = bypass
	}
	return req
}
