package domain

import (
	"errors"
	"strings"
	"time"
)

var ErrInvalidPermissionName = errors.New("invalid_permission_name")

type Role struct {
	ID          string
	Name        string
	DisplayName string
	Description string
	Active      bool
	Permissions []string // permission names, sorted
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission is a resource:action capability.
type Permission struct {
	ID          string
	Name        string
	Resource    string
	Action      string
	Description string
	CreatedAt   time.Time
}

// ParsePermission splits "resource:action" and rejects anything else.
func ParsePermission(name string) (resource, action string, err error) {
	resource, action, ok := strings.Cut(strings.TrimSpace(name), ":")
	if !ok || resource == "" || action == "" || strings.ContainsAny(action, ": ") || strings.Contains(resource, " ") {
		return "", "", ErrInvalidPermissionName
	}
	return resource, action, nil
}

// NewPermission builds a Permission from its composite name.
func NewPermission(id, name, description string, now time.Time) (Permission, error) {
	resource, action, err := ParsePermission(name)
	if err != nil {
		return Permission{}, err
	}
	return Permission{
		ID:          id,
		Name:        resource + ":" + action,
		Resource:    resource,
		Action:      action,
		Description: description,
		CreatedAt:   now,
	}, nil
}

// ResolvedPermissions is the role and permission set of one user at one
// moment. Both slices are sorted and free of duplicates.
type ResolvedPermissions struct {
	Roles       []string
	Permissions []string
}

// RoleDefinition is a role as declared in bootstrap data.
type RoleDefinition struct {
	Name        string
	DisplayName string
	Permissions []string
}
