package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestAPIKeyMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		keys   []string
		header string
		want   int
	}{
		{"disabled", nil, "", http.StatusOK},
		{"blank keys disable", []string{"", " "}, "", http.StatusOK},
		{"missing", []string{"secret"}, "", http.StatusUnauthorized},
		{"wrong", []string{"secret"}, "guess", http.StatusForbidden},
		{"valid", []string{"secret"}, "secret", http.StatusOK},
		{"rotated", []string{"old", "new"}, "old", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(APIKeyMiddleware(tt.keys...))
			r.GET("/v1/persons", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/v1/persons", nil)
			if tt.header != "" {
				req.Header.Set(headerName, tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAPIKeyQueryOnlyForWebSocket(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var client string
	r := gin.New()
	r.Use(APIKeyMiddleware("secret"))
	r.GET("/v1/ws", func(c *gin.Context) {
		client = c.GetString(ClientKey)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/ws?api_key=secret", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/ws?api_key=secret", nil)
	req.Header.Set("Upgrade", "websocket")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, Fingerprint("secret"), client)
	assert.Len(t, client, 8)
}
