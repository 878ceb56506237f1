package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

const (
	metaContextKey = "responseMeta"
	metaStartKey   = "responseMetaStart"
	cacheHitField  = "cache_hit"
	elapsedMsField = "processing_time_ms"
)

// WithResponseMeta opens a metadata map for the request. Handlers add fields
// with SetMeta and read the final map with ExtractMeta before responding.
func WithResponseMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(metaStartKey, time.Now())
		c.Set(metaContextKey, gin.H{})
		c.Next()
	}
}

// SetMeta stores one metadata field. Without WithResponseMeta the call is a no-op.
func SetMeta(c *gin.Context, key string, value interface{}) {
	if meta := metaOf(c); meta != nil {
		meta[key] = value
	}
}

// SetCacheHit records whether the payload was served from the dashboard cache.
func SetCacheHit(c *gin.Context, hit bool) {
	SetMeta(c, cacheHitField, hit)
}

// ExtractMeta returns the collected fields plus the time spent so far, or nil
// when the route did not opt into response metadata.
func ExtractMeta(c *gin.Context) map[string]interface{} {
	meta := metaOf(c)
	if meta == nil {
		return nil
	}
	if started, ok := c.Get(metaStartKey); ok {
		if at, ok := started.(time.Time); ok {
			meta[elapsedMsField] = time.Since(at).Milliseconds()
		}
	}
	return meta
}

func metaOf(c *gin.Context) gin.H {
	if c == nil {
		return nil
	}
	raw, ok := c.Get(metaContextKey)
	if !ok {
		return nil
	}
	meta, _ := raw.(gin.H)
	return meta
}
