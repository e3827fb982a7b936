package rbac

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrDuplicateCode indicates a permission code already exists in the tenant.
	ErrDuplicateCode = errors.New("rbac: permission code already exists")
	// ErrPermissionInUse indicates a permission is still referenced by a live grant.
	ErrPermissionInUse = errors.New("rbac: permission in use")
	// ErrSystemPermission indicates an attempt to delete or edit a system permission.
	ErrSystemPermission = errors.New("rbac: system permission is immutable")
	// ErrInvalidCode indicates a malformed permission code.
	ErrInvalidCode = errors.New("rbac: invalid permission code")
	// ErrStoreUnavailable wraps a collector backing-store failure.
	ErrStoreUnavailable = errors.New("rbac: grant store unavailable")
)

// ValidateCode rejects permission codes outside [A-Za-z0-9_.] before any
// resolution work happens. The wildcard code is accepted.
func ValidateCode(code string) error {
	if code == WildcardCode {
		return nil
	}
	if code == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCode)
	}
	for _, c := range code {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '.':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidCode, code)
		}
	}
	return nil
}
