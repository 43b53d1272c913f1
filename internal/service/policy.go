package service

import (
	"github.com/exowa/exowa-api/internal/models"
	appErrors "github.com/exowa/exowa-api/pkg/errors"
)

// AuthorizationPolicy decides whether a caller may act on an owned
// resource. Admin roles bypass ownership; the EnforceOwnership switch
// keeps the legacy open behaviour reachable by configuration.
type AuthorizationPolicy struct {
	EnforceOwnership bool
}

// NewAuthorizationPolicy constructs a policy.
func NewAuthorizationPolicy(enforceOwnership bool) *AuthorizationPolicy {
	return &AuthorizationPolicy{EnforceOwnership: enforceOwnership}
}

// CanManage reports whether the caller may read or mutate a resource
// owned by ownerID.
func (p *AuthorizationPolicy) CanManage(claims *models.JWTClaims, ownerID string) error {
	if claims == nil {
		return appErrors.Clone(appErrors.ErrUnauthorized, "missing identity")
	}
	if claims.Role == models.RoleAdmin || claims.Role == models.RoleSubAdmin {
		return nil
	}
	if !p.EnforceOwnership {
		return nil
	}
	if claims.UserID != ownerID {
		return appErrors.Clone(appErrors.ErrForbidden, "resource belongs to another account")
	}
	return nil
}

// IsPrivileged reports whether the caller holds an administrative role.
func (p *AuthorizationPolicy) IsPrivileged(claims *models.JWTClaims) bool {
	return claims != nil && (claims.Role == models.RoleAdmin || claims.Role == models.RoleSubAdmin)
}
