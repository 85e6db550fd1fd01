package router

import (
	"net/http"
	"os"

	"claw-companion/backend/pkg/validator"

	"github.com/gin-gonic/gin"
)

// AddOpenAPIValidation validates /api/v1 requests against the schema at
// schemaPath, or the embedded one when the path is empty, and serves it
// at /api/docs/openapi.yaml
func (r *Router) AddOpenAPIValidation(schemaPath string) {
	v, err := validator.NewOpenAPIValidator(schemaPath)
	if err != nil {
		r.Logger.Error("Failed to initialize OpenAPI validator", "error", err)
		return
	}
	r.Engine.Use(v.Middleware())

	schema := validator.EmbeddedSchema()
	if schemaPath != "" {
		if raw, err := os.ReadFile(schemaPath); err == nil {
			schema = raw
		}
	}
	r.Engine.GET("/api/docs/openapi.yaml", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/yaml", schema)
	})
	r.Logger.Info("OpenAPI validation enabled", "schema", schemaPath, "url", "/api/docs/openapi.yaml")
}
