package middleware

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// CacheConfig represents cache control configuration
type CacheConfig struct {
	MaxAge    int
	Private   bool
	NoStore   bool
	Immutable bool
	Vary      []string
}

// APICacheConfig keeps authenticated JSON out of every cache.
func APICacheConfig() CacheConfig {
	return CacheConfig{NoStore: true}
}

// StorageCacheConfig suits uploaded files, whose names are never reused.
func StorageCacheConfig() CacheConfig {
	return CacheConfig{MaxAge: 86400 * 30, Immutable: true}
}

// Cache adds cache control headers to responses
func Cache(config CacheConfig) gin.HandlerFunc {
	directives := make([]string, 0, 3)
	switch {
	case config.NoStore:
		directives = append(directives, "no-store")
	case config.Private:
		directives = append(directives, "private")
	default:
		directives = append(directives, "public")
	}
	if !config.NoStore && config.MaxAge > 0 {
		directives = append(directives, "max-age="+strconv.Itoa(config.MaxAge))
	}
	if config.Immutable {
		directives = append(directives, "immutable")
	}
	value := strings.Join(directives, ", ")

	return func(c *gin.Context) {
		c.Header("Cache-Control", value)
		if len(config.Vary) > 0 {
			c.Header("Vary", strings.Join(config.Vary, ", "))
		}
		c.Next()
	}
}
