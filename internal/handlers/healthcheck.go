package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthCheck answers the gateway's liveness probe; no identity required.
func HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
