// Package auth guards the /v1 API with static API keys.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	headerName = "X-API-Key"
	queryName  = "api_key"

	// ClientKey is the gin context key holding the fingerprint of the key
	// that authenticated the request.
	ClientKey = "api_client"
)

// Fingerprint identifies a key in logs without revealing it.
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}

func isWebSocket(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// APIKeyMiddleware accepts any of keys in the X-API-Key header. Several keys
// allow rotation. Browsers cannot set headers on WebSocket upgrades, so those
// may pass the key as ?api_key= instead. With no non-empty key,
// authentication is disabled.
func APIKeyMiddleware(keys ...string) gin.HandlerFunc {
	accepted := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			accepted = append(accepted, []byte(k))
		}
	}

	return func(c *gin.Context) {
		if len(accepted) == 0 {
			c.Next()
			return
		}

		provided := c.GetHeader(headerName)
		if provided == "" && isWebSocket(c.Request) {
			provided = c.Query(queryName)
		}
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing API key",
			})
			return
		}

		match := 0
		for _, k := range accepted {
			match |= subtle.ConstantTimeCompare([]byte(provided), k)
		}
		if match != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "invalid API key",
			})
			return
		}

		c.Set(ClientKey, Fingerprint(provided))
		c.Next()
	}
}
