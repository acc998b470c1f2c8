package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
	"github.com/aussiebroadwan/stockroom/internal/auth/store"
	"github.com/aussiebroadwan/stockroom/pkg/idx"
)

// RolesService administers the role and permission graph. Changes reach
// tokens on the next refresh.
type RolesService struct {
	Store store.Store
	Clock Clock
}

func (s *RolesService) ListRoles(ctx context.Context) ([]domain.Role, error) {
	return s.Store.Roles().ListRoles(ctx)
}

func (s *RolesService) GetRole(ctx context.Context, name string) (domain.Role, error) {
	return roleByName(ctx, s.Store, name)
}

func (s *RolesService) ListPermissions(ctx context.Context) ([]domain.Permission, error) {
	return s.Store.Roles().ListPermissions(ctx)
}

// CreatePermission adds a resource:action permission.
func (s *RolesService) CreatePermission(ctx context.Context, name, description string) (domain.Permission, error) {
	return s.createPermission(ctx, s.Store, name, description)
}

// CreateRole adds a role granting every listed permission. All permissions
// must exist already.
func (s *RolesService) CreateRole(ctx context.Context, def domain.RoleDefinition) (domain.Role, error) {
	var role domain.Role
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		role, err = s.createRole(ctx, tx, def)
		return err
	})
	return role, err
}

// Grant adds permission to role. Granting twice is a no-op.
func (s *RolesService) Grant(ctx context.Context, roleName, permission string) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		role, err := roleByName(ctx, tx, roleName)
		if err != nil {
			return err
		}
		p, err := permissionByName(ctx, tx, permission)
		if err != nil {
			return err
		}
		return tx.Roles().GrantPermission(ctx, role.ID, p.ID)
	})
}

func (s *RolesService) Revoke(ctx context.Context, roleName, permission string) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		role, err := roleByName(ctx, tx, roleName)
		if err != nil {
			return err
		}
		p, err := permissionByName(ctx, tx, permission)
		if err != nil {
			return err
		}
		return tx.Roles().RevokePermission(ctx, role.ID, p.ID)
	})
}

// Assign gives userID the named role. Assigning twice is a no-op.
func (s *RolesService) Assign(ctx context.Context, userID, roleName string) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		return assignRole(ctx, tx, userID, roleName)
	})
}

func (s *RolesService) Unassign(ctx context.Context, userID, roleName string) error {
	return s.Store.WithTx(ctx, func(tx store.Tx) error {
		role, err := roleByName(ctx, tx, roleName)
		if err != nil {
			return err
		}
		return tx.Roles().UnassignRole(ctx, userID, role.ID)
	})
}

func (s *RolesService) createPermission(ctx context.Context, st store.Store, name, description string) (domain.Permission, error) {
	now := s.Clock.Now()
	p, err := domain.NewPermission(idx.NewAt(now).String(), name, description, now)
	if err != nil {
		return domain.Permission{}, fmt.Errorf("%w: %q", ErrInvalidRequest, name)
	}
	if err := st.Roles().CreatePermission(ctx, p); err != nil {
		return domain.Permission{}, err
	}
	return p, nil
}

func (s *RolesService) createRole(ctx context.Context, st store.Store, def domain.RoleDefinition) (domain.Role, error) {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return domain.Role{}, fmt.Errorf("%w: role name is required", ErrInvalidRequest)
	}
	display := def.DisplayName
	if display == "" {
		display = name
	}

	now := s.Clock.Now()
	role := domain.Role{
		ID:          idx.NewAt(now).String(),
		Name:        name,
		DisplayName: display,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := st.Roles().CreateRole(ctx, role); err != nil {
		return domain.Role{}, err
	}

	for _, name := range def.Permissions {
		p, err := permissionByName(ctx, st, name)
		if err != nil {
			return domain.Role{}, err
		}
		if err := st.Roles().GrantPermission(ctx, role.ID, p.ID); err != nil {
			return domain.Role{}, err
		}
		role.Permissions = append(role.Permissions, p.Name)
	}
	return role, nil
}

func assignRole(ctx context.Context, st store.Store, userID, roleName string) error {
	role, err := roleByName(ctx, st, roleName)
	if err != nil {
		return err
	}
	return st.Roles().AssignRole(ctx, userID, role.ID)
}

func roleByName(ctx context.Context, st store.Store, name string) (domain.Role, error) {
	role, err := st.Roles().GetRoleByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Role{}, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
	}
	return role, err
}

func permissionByName(ctx context.Context, st store.Store, name string) (domain.Permission, error) {
	p, err := st.Roles().GetPermissionByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Permission{}, fmt.Errorf("%w: unknown permission %q", ErrInvalidRequest, name)
	}
	return p, err
}
