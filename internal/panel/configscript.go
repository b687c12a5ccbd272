package panel

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// serveConfigScript emits a JavaScript payload that hydrates
// window.__MEE_PANEL_CONFIG for the hosted control-panel front-end.
func serveConfigScript(contextGin *gin.Context, configuration Config) {
	scheme := forwardedProto(contextGin.Request)
	host := contextGin.Request.Host
	if strings.TrimSpace(host) == "" {
		host = "localhost"
	}
	payload := struct {
		GoogleClientID string `json:"googleClientId"`
		AgentBaseURL   string `json:"agentBaseUrl"`
	}{
		GoogleClientID: configuration.GoogleClientID,
		AgentBaseURL:   fmt.Sprintf("%s://%s", scheme, host),
	}

	encoded, encodeErr := json.Marshal(payload)
	if encodeErr != nil {
		contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "panel.config_script.encode_failed",
		})
		return
	}

	script := fmt.Sprintf(`(function(){var config=Object.freeze(%s);window.__MEE_PANEL_CONFIG=config;})();`, string(encoded))

	contextGin.Header("Content-Type", "application/javascript; charset=utf-8")
	contextGin.Header("Cache-Control", "no-store, no-cache, must-revalidate, private")
	contextGin.Header("Pragma", "no-cache")
	contextGin.Header("X-Content-Type-Options", "nosniff")
	contextGin.String(http.StatusOK, script)
}

func forwardedProto(request *http.Request) string {
	if request == nil {
		return "http"
	}
	if headerValue := request.Header.Get("X-Forwarded-Proto"); headerValue != "" {
		return headerValue
	}
	if request.TLS != nil {
		return "https"
	}
	return "http"
}
