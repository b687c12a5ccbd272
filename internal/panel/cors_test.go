package panel

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func TestSanitizeOriginsNormalizesAndDeduplicates(t *testing.T) {
	sanitized, err := sanitizeOrigins(zap.NewNop(), []string{
		"https://panel.example.com/",
		"HTTPS://panel.example.com",
		"chrome-extension://abcdefghijklmnop",
		"http://localhost:5173",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sanitized) != 3 {
		t.Fatalf("expected 3 origins after deduplication, got %v", sanitized)
	}
}

func TestSanitizeOriginsRejectsWildcard(t *testing.T) {
	_, err := sanitizeOrigins(zap.NewNop(), []string{"*"})
	if !errors.Is(err, errWildcardOrigin) {
		t.Fatalf("expected wildcard rejection, got %v", err)
	}
}

func TestSanitizeOriginsRejectsInvalid(t *testing.T) {
	for _, origin := range []string{
		"panel.example.com",
		"https://panel.example.com/app",
		"https://panel.example.com?q=1",
		"ftp://panel.example.com",
		"",
	} {
		if _, err := sanitizeOrigins(zap.NewNop(), []string{origin}); err == nil {
			t.Fatalf("expected rejection for %q", origin)
		}
	}
}

func TestConfigureCORSAllowsListedOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)

	middleware, err := ConfigureCORS(zap.NewNop(), []string{"https://panel.example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	router := gin.New()
	router.Use(middleware)
	router.GET("/panel/status", func(contextGin *gin.Context) {
		contextGin.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodGet, "/panel/status", nil)
	request.Header.Set("Origin", "https://panel.example.com")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Header().Get("Access-Control-Allow-Origin") != "https://panel.example.com" {
		t.Fatalf("expected origin allowed, headers: %v", recorder.Header())
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials allowed")
	}

	denied := httptest.NewRequest(http.MethodGet, "/panel/status", nil)
	denied.Header.Set("Origin", "https://evil.example.com")
	deniedRecorder := httptest.NewRecorder()
	router.ServeHTTP(deniedRecorder, denied)
	if deniedRecorder.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("expected unlisted origin denied")
	}
}
