package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/classboard/classboard-api/internal/middleware"
	"github.com/classboard/classboard-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
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
