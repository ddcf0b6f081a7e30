package handler

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"
)

var (
	//go:embed openapi.yaml
	openAPISpec []byte

	//go:embed swagger_ui.html
	swaggerPage []byte

	// openAPIETag changes only when the embedded document does.
	openAPIETag = func() string {
		sum := sha256.Sum256(openAPISpec)
		return `"` + hex.EncodeToString(sum[:8]) + `"`
	}()
)

// SwaggerSpec serves the embedded OpenAPI YAML with a strong ETag.
func SwaggerSpec(c *gin.Context) {
	c.Header("ETag", openAPIETag)
	if c.GetHeader("If-None-Match") == openAPIETag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, "application/x-yaml", openAPISpec)
}

// SwaggerUI serves a page that renders /swagger/spec.
func SwaggerUI(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", swaggerPage)
}
