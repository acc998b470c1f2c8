package sqlstore

import (
	"context"
	"database/sql"
	"slices"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
)

type rolesRepo struct {
	conn
}

const roleColumns = `id, name, display_name, description, is_active, created_at, updated_at`

func scanRole(row scanner) (domain.Role, error) {
	var (
		r    domain.Role
		desc sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Name, &r.DisplayName, &desc, &r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return domain.Role{}, mapNotFound(err)
	}
	r.Description = desc.String
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

func (r *rolesRepo) CreateRole(ctx context.Context, role domain.Role) error {
	var desc *string
	if role.Description != "" {
		desc = &role.Description
	}
	_, err := r.exec(ctx,
		`INSERT INTO roles (id, name, display_name, description, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		role.ID, role.Name, role.DisplayName, nullString(desc), role.Active,
		utc(role.CreatedAt), utc(role.UpdatedAt))
	return r.mapWrite("create role", err)
}

func (r *rolesRepo) GetRoleByName(ctx context.Context, name string) (domain.Role, error) {
	role, err := scanRole(r.queryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = ?`, name))
	if err != nil {
		return domain.Role{}, err
	}
	role.Permissions, err = r.rolePermissions(ctx, role.ID)
	if err != nil {
		return domain.Role{}, err
	}
	return role, nil
}

func (r *rolesRepo) ListRoles(ctx context.Context) ([]domain.Role, error) {
	rows, err := r.query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	var roles []domain.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows must be closed first; sqlite runs on a single connection.
	for i := range roles {
		roles[i].Permissions, err = r.rolePermissions(ctx, roles[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return roles, nil
}

func (r *rolesRepo) rolePermissions(ctx context.Context, roleID string) ([]string, error) {
	rows, err := r.query(ctx,
		`SELECT p.name FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = ?
		ORDER BY p.name`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

const permissionColumns = `id, name, resource, action, description, created_at`

func scanPermission(row scanner) (domain.Permission, error) {
	var (
		p    domain.Permission
		desc sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &desc, &p.CreatedAt); err != nil {
		return domain.Permission{}, mapNotFound(err)
	}
	p.Description = desc.String
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func (r *rolesRepo) CreatePermission(ctx context.Context, p domain.Permission) error {
	var desc *string
	if p.Description != "" {
		desc = &p.Description
	}
	_, err := r.exec(ctx,
		`INSERT INTO permissions (id, name, resource, action, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Resource, p.Action, nullString(desc), utc(p.CreatedAt))
	return r.mapWrite("create permission", err)
}

func (r *rolesRepo) GetPermissionByName(ctx context.Context, name string) (domain.Permission, error) {
	return scanPermission(r.queryRow(ctx,
		`SELECT `+permissionColumns+` FROM permissions WHERE name = ?`, name))
}

func (r *rolesRepo) ListPermissions(ctx context.Context) ([]domain.Permission, error) {
	rows, err := r.query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []domain.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (r *rolesRepo) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	_, err := r.exec(ctx,
		`INSERT INTO role_permissions (role_id, permission_id) VALUES (?, ?)
		ON CONFLICT DO NOTHING`, roleID, permissionID)
	return r.mapWrite("grant permission", err)
}

func (r *rolesRepo) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	_, err := r.exec(ctx,
		`DELETE FROM role_permissions WHERE role_id = ? AND permission_id = ?`, roleID, permissionID)
	return err
}

func (r *rolesRepo) AssignRole(ctx context.Context, userID, roleID string) error {
	_, err := r.exec(ctx,
		`INSERT INTO user_roles (user_id, role_id) VALUES (?, ?)
		ON CONFLICT DO NOTHING`, userID, roleID)
	return r.mapWrite("assign role", err)
}

func (r *rolesRepo) UnassignRole(ctx context.Context, userID, roleID string) error {
	_, err := r.exec(ctx,
		`DELETE FROM user_roles WHERE user_id = ? AND role_id = ?`, userID, roleID)
	return err
}

func (r *rolesRepo) ResolveUserPermissions(ctx context.Context, userID string) (domain.ResolvedPermissions, error) {
	rows, err := r.query(ctx,
		`SELECT r.name, p.name
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id AND r.is_active = TRUE
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = ?`, userID)
	if err != nil {
		return domain.ResolvedPermissions{}, err
	}
	defer rows.Close()

	roles := map[string]struct{}{}
	perms := map[string]struct{}{}
	for rows.Next() {
		var (
			role string
			perm sql.NullString
		)
		if err := rows.Scan(&role, &perm); err != nil {
			return domain.ResolvedPermissions{}, err
		}
		roles[role] = struct{}{}
		if perm.Valid {
			perms[perm.String] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return domain.ResolvedPermissions{}, err
	}
	return domain.ResolvedPermissions{
		Roles:       sortedKeys(roles),
		Permissions: sortedKeys(perms),
	}, nil
}

func (r *rolesRepo) IsEmpty(ctx context.Context) (bool, error) {
	var n int64
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM roles`).Scan(&n); err != nil {
		return false, err
	}
	return n == 0, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
