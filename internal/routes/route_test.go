package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"ai_receptionist/internal/handlers"
	"ai_receptionist/internal/services"
)

func TestRegisterRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := handlers.NewAPIHandler(handlers.Dependencies{Calls: services.NewActiveCallRegistry(nil)})
	RegisterRoutes(r, api, handlers.NewEventHub(nil))

	tests := []struct {
		method string
		path   string
		code   int
	}{
		{"GET", "/health", http.StatusOK},
		{"GET", "/metrics", http.StatusOK},
		{"GET", "/api/calls/active", http.StatusOK},
		{"GET", "/api/messages", http.StatusServiceUnavailable},
		{"POST", "/api/calls/abc/answer", http.StatusServiceUnavailable},
		{"GET", "/api/events", http.StatusBadRequest}, // 非 WebSocket 握手
		{"GET", "/api/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

func TestMetricsExposeCollectors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, handlers.NewAPIHandler(handlers.Dependencies{}), nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, w.Body.String(), "receptionist_active_calls")
}
