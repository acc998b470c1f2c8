package domain

// BootstrapData seeds an empty database: the permission catalogue, roles, and
// the first administrator, who receives AdminRole.
type BootstrapData struct {
	AdminUsername string
	AdminEmail    string
	AdminPassword string
	AdminRole     string
	Permissions   []string
	Roles         []RoleDefinition
}
