package panel

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mprlab/meeagent/internal/calendar"
	"github.com/mprlab/meeagent/internal/extract"
	"github.com/mprlab/meeagent/internal/googleauth"
	"github.com/mprlab/meeagent/internal/statestore"
)

// Density choices the panel may persist.
var allowedDensities = map[string]struct{}{
	"compact":     {},
	"comfortable": {},
	"spacious":    {},
}

const defaultDensity = "comfortable"

// Dependencies are the shared agent services the panel reads from. Only the
// auth service mutates token state; handlers invoke its four operations and
// render snapshots.
type Dependencies struct {
	Auth   *googleauth.Service
	Poller *extract.Poller
	Adder  *calendar.Adder
	State  statestore.Store
	Logger *zap.Logger
}

// MountPanelRoutes registers the localhost control-panel API consumed by the
// hosted front-end and the capture extension.
func MountPanelRoutes(router gin.IRouter, configuration Config, deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// Interactive consent is serialized: overlapping silent requests are an
	// accepted rough edge, but two simultaneous consent prompts is not.
	var interactiveGate sync.Mutex

	router.GET("/panel/config.js", func(contextGin *gin.Context) {
		serveConfigScript(contextGin, configuration)
	})

	router.POST("/panel/pair", func(contextGin *gin.Context) {
		var inbound struct {
			PairingCode string `json:"pairing_code"`
			ClientLabel string `json:"client_label"`
		}
		if err := contextGin.BindJSON(&inbound); err != nil || strings.TrimSpace(inbound.PairingCode) == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "panel.pair.invalid_json"})
			return
		}
		if configuration.PairingCode == "" ||
			subtle.ConstantTimeCompare([]byte(inbound.PairingCode), []byte(configuration.PairingCode)) != 1 {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "panel.pair.rejected"})
			return
		}
		clientLabel := strings.TrimSpace(inbound.ClientLabel)
		if clientLabel == "" {
			clientLabel = "panel"
		}
		sessionToken, expiresAt, mintErr := MintSessionJWT(clientLabel, configuration.SessionIssuer, configuration.SessionSigningKey, configuration.SessionTTL)
		if mintErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		writeSessionCookie(contextGin, configuration, sessionToken, expiresAt)
		contextGin.JSON(http.StatusOK, gin.H{"client_label": clientLabel, "expires": expiresAt})
	})

	router.POST("/panel/unpair", func(contextGin *gin.Context) {
		clearSessionCookie(contextGin, configuration)
		contextGin.Status(http.StatusNoContent)
	})

	protected := router.Group("/panel")
	protected.Use(RequireSession(configuration))

	protected.GET("/status", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, statusPayload(deps))
	})

	protected.POST("/connect", func(contextGin *gin.Context) {
		if !interactiveGate.TryLock() {
			contextGin.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "panel.connect.in_flight"})
			return
		}
		defer interactiveGate.Unlock()
		if _, connectErr := deps.Auth.EnsureToken(contextGin.Request.Context()); connectErr != nil {
			contextGin.JSON(http.StatusBadGateway, gin.H{"error": connectErr.Error(), "auth": publicAuthState(deps.Auth)})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"auth": publicAuthState(deps.Auth)})
	})

	protected.POST("/connect/silent", func(contextGin *gin.Context) {
		// Passive path: a silent miss is "not connected yet", not an error.
		if _, silentErr := deps.Auth.GetTokenSilent(contextGin.Request.Context()); silentErr != nil {
			contextGin.JSON(http.StatusOK, gin.H{"auth": publicAuthState(deps.Auth)})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"auth": publicAuthState(deps.Auth)})
	})

	protected.POST("/connect/interactive", func(contextGin *gin.Context) {
		if !interactiveGate.TryLock() {
			contextGin.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "panel.connect.in_flight"})
			return
		}
		defer interactiveGate.Unlock()
		if _, promptErr := deps.Auth.RequestTokenInteractive(contextGin.Request.Context()); promptErr != nil {
			contextGin.JSON(http.StatusBadGateway, gin.H{"error": promptErr.Error(), "auth": publicAuthState(deps.Auth)})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"auth": publicAuthState(deps.Auth)})
	})

	protected.POST("/revoke", func(contextGin *gin.Context) {
		deps.Auth.Revoke(contextGin.Request.Context())
		contextGin.JSON(http.StatusOK, gin.H{"auth": publicAuthState(deps.Auth)})
	})

	protected.GET("/events", func(contextGin *gin.Context) {
		snapshot := deps.Poller.Snapshot()
		payload := gin.H{
			"events":       extract.NormalizeEvents(snapshot.Data),
			"loading":      snapshot.Loading,
			"last_updated": snapshot.LastUpdated,
		}
		if snapshot.Data != nil {
			payload["degraded"] = snapshot.Data.Degraded
			payload["warnings"] = snapshot.Data.Warnings
		}
		if snapshot.Error != "" {
			payload["error"] = snapshot.Error
		}
		contextGin.JSON(http.StatusOK, payload)
	})

	protected.POST("/events/add", func(contextGin *gin.Context) {
		var inbound struct {
			Index      int    `json:"index"`
			CalendarID string `json:"calendarId"`
		}
		if err := contextGin.BindJSON(&inbound); err != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "panel.add.invalid_json"})
			return
		}
		event, found := eventAtIndex(deps.Poller, inbound.Index)
		if !found {
			contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "panel.add.no_such_event"})
			return
		}
		result, addErr := deps.Adder.Add(contextGin.Request.Context(), event, inbound.CalendarID)
		if addErr != nil {
			status, code := addFailure(addErr)
			logger.Warn("add to calendar failed",
				zap.String("code", "panel.add.failed"),
				zap.String("reason", code),
				zap.Error(addErr))
			contextGin.AbortWithStatusJSON(status, gin.H{"error": code})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"ok": true, "id": result.ID, "htmlLink": result.HTMLLink})
	})

	protected.GET("/events/:index/ics", func(contextGin *gin.Context) {
		index, parseErr := strconv.Atoi(contextGin.Param("index"))
		if parseErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "panel.ics.bad_index"})
			return
		}
		event, found := eventAtIndex(deps.Poller, index)
		if !found {
			contextGin.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "panel.ics.no_such_event"})
			return
		}
		document, buildErr := calendar.BuildICS(event, time.Now())
		if buildErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "panel.ics.build_failed"})
			return
		}
		contextGin.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", calendar.ICSFilename(event)))
		contextGin.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(document))
	})

	protected.GET("/settings/density", func(contextGin *gin.Context) {
		density, loadErr := deps.State.LoadSetting(contextGin.Request.Context(), statestore.DensityKey)
		if loadErr != nil || density == "" {
			density = defaultDensity
		}
		contextGin.JSON(http.StatusOK, gin.H{"density": density})
	})

	protected.PUT("/settings/density", func(contextGin *gin.Context) {
		var inbound struct {
			Density string `json:"density"`
		}
		if err := contextGin.BindJSON(&inbound); err != nil {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "panel.settings.invalid_json"})
			return
		}
		if _, known := allowedDensities[inbound.Density]; !known {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "panel.settings.unknown_density"})
			return
		}
		if saveErr := deps.State.SaveSetting(contextGin.Request.Context(), statestore.DensityKey, inbound.Density); saveErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"density": inbound.Density})
	})

	protected.GET("/activity", func(contextGin *gin.Context) {
		entries, listErr := deps.State.RecentActivity(contextGin.Request.Context())
		if listErr != nil {
			contextGin.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"entries": entries})
	})
}

// publicAuthState hides the bearer token from the panel payload; the agent
// makes the calls, so the UI only needs connectedness.
func publicAuthState(auth *googleauth.Service) gin.H {
	state := auth.State()
	payload := gin.H{
		"connected": state.Token != "",
		"loading":   state.Loading,
	}
	if state.AccountEmail != "" {
		payload["account_email"] = state.AccountEmail
	}
	if state.Error != "" {
		payload["error"] = state.Error
	}
	return payload
}

func statusPayload(deps Dependencies) gin.H {
	window, averageLatency := deps.Poller.HealthWindow()
	snapshot := deps.Poller.Snapshot()
	payload := gin.H{
		"auth":           publicAuthState(deps.Auth),
		"backend_online": deps.Poller.Online(),
		"health": gin.H{
			"window":     window,
			"average_ms": averageLatency.Milliseconds(),
		},
	}
	if snapshot.Data != nil {
		payload["degraded"] = snapshot.Data.Degraded
	}
	return payload
}

func eventAtIndex(poller *extract.Poller, index int) (extract.EventLite, bool) {
	events := extract.NormalizeEvents(poller.Snapshot().Data)
	if index < 0 || index >= len(events) {
		return extract.EventLite{}, false
	}
	return events[index], true
}

func addFailure(addErr error) (int, string) {
	switch {
	case errors.Is(addErr, calendar.ErrClientTimeout):
		return http.StatusGatewayTimeout, "CLIENT_TIMEOUT"
	case errors.Is(addErr, calendar.ErrTokenExpired):
		return http.StatusUnauthorized, "TOKEN_EXPIRED"
	case errors.Is(addErr, calendar.ErrMissingStart):
		return http.StatusBadRequest, "MISSING_START"
	default:
		return http.StatusBadGateway, addErr.Error()
	}
}
