package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/exowa/exowa-api/internal/middleware"
	"github.com/exowa/exowa-api/internal/models"
)

// currentClaims extracts the authenticated claims stored by the JWT
// middleware; nil when the route is unauthenticated.
func currentClaims(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}
