package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mprlab/meeagent/internal/calendar"
	"github.com/mprlab/meeagent/internal/extract"
	"github.com/mprlab/meeagent/internal/googleauth"
	"github.com/mprlab/meeagent/internal/panel"
	"github.com/mprlab/meeagent/internal/statestore"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "meeagent",
		Short:   "Local agent that turns extracted email events into Google Calendar entries",
		PreRunE: prepareAgentConfig,
		RunE:    runAgent,
	}

	rootCmd.Flags().String("listen_addr", ":7343", "HTTP listen address for the panel API")
	rootCmd.Flags().String("extractor_api_base", "http://127.0.0.1:8089", "Base URL of the extraction backend")
	rootCmd.Flags().String("google_client_id", "", "Google OAuth client ID")
	rootCmd.Flags().String("google_client_secret", "", "Google OAuth client secret")
	rootCmd.Flags().StringSlice("google_scopes", []string{}, "OAuth scopes; empty uses the calendar defaults")
	rootCmd.Flags().String("oauth_redirect_addr", "127.0.0.1:7344", "Loopback address for the OAuth consent redirect")
	rootCmd.Flags().String("state_database_url", "", "State database URL (postgres:// or sqlite://; leave empty for in-memory state)")
	rootCmd.Flags().String("jwt_signing_key", "", "HS256 signing secret for panel session cookies")
	rootCmd.Flags().String("pairing_code", "", "Code the panel must present to obtain a session")
	rootCmd.Flags().Duration("session_ttl", 12*time.Hour, "Panel session cookie TTL")
	rootCmd.Flags().Duration("poll_interval", extract.DefaultPollInterval, "Extraction polling interval")
	rootCmd.Flags().Duration("health_interval", extract.DefaultHealthInterval, "Backend health probe interval")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for the hosted panel origin")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP cookies for local dev")

	_ = viper.BindPFlag("listen_addr", rootCmd.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("extractor_api_base", rootCmd.Flags().Lookup("extractor_api_base"))
	_ = viper.BindPFlag("google_client_id", rootCmd.Flags().Lookup("google_client_id"))
	_ = viper.BindPFlag("google_client_secret", rootCmd.Flags().Lookup("google_client_secret"))
	_ = viper.BindPFlag("google_scopes", rootCmd.Flags().Lookup("google_scopes"))
	_ = viper.BindPFlag("oauth_redirect_addr", rootCmd.Flags().Lookup("oauth_redirect_addr"))
	_ = viper.BindPFlag("state_database_url", rootCmd.Flags().Lookup("state_database_url"))
	_ = viper.BindPFlag("jwt_signing_key", rootCmd.Flags().Lookup("jwt_signing_key"))
	_ = viper.BindPFlag("pairing_code", rootCmd.Flags().Lookup("pairing_code"))
	_ = viper.BindPFlag("session_ttl", rootCmd.Flags().Lookup("session_ttl"))
	_ = viper.BindPFlag("poll_interval", rootCmd.Flags().Lookup("poll_interval"))
	_ = viper.BindPFlag("health_interval", rootCmd.Flags().Lookup("health_interval"))
	_ = viper.BindPFlag("enable_cors", rootCmd.Flags().Lookup("enable_cors"))
	_ = viper.BindPFlag("cors_allowed_origins", rootCmd.Flags().Lookup("cors_allowed_origins"))
	_ = viper.BindPFlag("dev_insecure_http", rootCmd.Flags().Lookup("dev_insecure_http"))

	viper.SetEnvPrefix("MEE")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	sessionCookieName = "mee_panel_session"
	sessionIssuer     = "mee-agent"

	configCodeMissingExtractorBase = "config.missing_extractor_api_base"
	configCodeMissingJWTSigningKey = "config.missing_jwt_signing_key"
	configCodeMissingPairingCode   = "config.missing_pairing_code"
	configCodeInvalidSessionTTL    = "config.invalid_session_ttl"
	configCodeInvalidPollInterval  = "config.invalid_poll_interval"
	configCodeUninitializedConf    = "config.uninitialized_agent_config"
)

// AgentConfig is the validated runtime configuration.
type AgentConfig struct {
	ListenAddr         string
	ExtractorAPIBase   string
	StateDatabaseURL   string
	PairingCode        string
	JWTSigningKey      []byte
	SessionTTL         time.Duration
	PollInterval       time.Duration
	HealthInterval     time.Duration
	EnableCORS         bool
	CORSAllowedOrigins []string
	DevInsecureHTTP    bool
	Google             googleauth.Config
}

type contextKey string

const agentConfigContextKey contextKey = "agentConfig"

func prepareAgentConfig(command *cobra.Command, arguments []string) error {
	agentConfig, loadErr := LoadAgentConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, agentConfigContextKey, agentConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

func LoadAgentConfig() (AgentConfig, error) {
	extractorAPIBase := viper.GetString("extractor_api_base")
	if extractorAPIBase == "" {
		return AgentConfig{}, configError(configCodeMissingExtractorBase, "extractor_api_base must be provided")
	}

	jwtSigningKey := viper.GetString("jwt_signing_key")
	if jwtSigningKey == "" {
		return AgentConfig{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}

	pairingCode := viper.GetString("pairing_code")
	if pairingCode == "" {
		return AgentConfig{}, configError(configCodeMissingPairingCode, "pairing_code must be provided")
	}

	sessionTTL := viper.GetDuration("session_ttl")
	if sessionTTL <= 0 {
		return AgentConfig{}, configError(configCodeInvalidSessionTTL, "session_ttl must be greater than zero")
	}

	pollInterval := viper.GetDuration("poll_interval")
	if pollInterval <= 0 {
		return AgentConfig{}, configError(configCodeInvalidPollInterval, "poll_interval must be greater than zero")
	}
	healthInterval := viper.GetDuration("health_interval")
	if healthInterval <= 0 {
		healthInterval = extract.DefaultHealthInterval
	}

	return AgentConfig{
		ListenAddr:         viper.GetString("listen_addr"),
		ExtractorAPIBase:   extractorAPIBase,
		StateDatabaseURL:   viper.GetString("state_database_url"),
		PairingCode:        pairingCode,
		JWTSigningKey:      []byte(jwtSigningKey),
		SessionTTL:         sessionTTL,
		PollInterval:       pollInterval,
		HealthInterval:     healthInterval,
		EnableCORS:         viper.GetBool("enable_cors"),
		CORSAllowedOrigins: viper.GetStringSlice("cors_allowed_origins"),
		DevInsecureHTTP:    viper.GetBool("dev_insecure_http"),
		Google: googleauth.Config{
			ClientID:     viper.GetString("google_client_id"),
			ClientSecret: viper.GetString("google_client_secret"),
			Scopes:       viper.GetStringSlice("google_scopes"),
			RedirectAddr: viper.GetString("oauth_redirect_addr"),
		},
	}, nil
}

func runAgent(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(agentConfigContextKey)
	}
	agentConfig, ok := contextValue.(AgentConfig)
	if !ok {
		return configError(configCodeUninitializedConf, "agent configuration not prepared; PreRunE must execute before RunE")
	}

	var stateStore statestore.Store
	if agentConfig.StateDatabaseURL != "" {
		persistentStore, storeErr := statestore.NewDatabaseStore(context.Background(), agentConfig.StateDatabaseURL)
		if storeErr != nil {
			return storeErr
		}
		stateStore = persistentStore
		logger.Info("using persistent state store", zap.String("driver", persistentStore.Driver()))
	} else {
		stateStore = statestore.NewMemoryStore()
		logger.Info("using in-memory state store")
	}

	clock := googleauth.NewSystemClock()
	metricsRecorder := googleauth.NewCounterMetrics()

	tokenStore := googleauth.NewTokenStore(stateStore, clock, googleauth.DefaultTokenBuffer, metricsRecorder, logger)
	discoveryLoader := googleauth.NewDiscoveryLoader(googleauth.GoogleDiscoveryURL, nil, logger)
	requesterFactory := googleauth.NewRequesterFactory(agentConfig.Google, discoveryLoader, tokenStore, logger)
	authService := googleauth.NewService(agentConfig.Google, requesterFactory, tokenStore, nil, clock, metricsRecorder, logger)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	authService.Init(runCtx)
	defer authService.Close()

	extractClient := extract.NewClient(agentConfig.ExtractorAPIBase, nil, logger)
	poller := extract.NewPoller(extractClient, agentConfig.PollInterval, agentConfig.HealthInterval, logger)
	go poller.Run(runCtx)

	calendarClient := calendar.NewClient(agentConfig.ExtractorAPIBase, nil, calendar.DefaultCreateTimeout, logger)
	adder := calendar.NewAdder(calendarClient, authService, stateStore, logger)

	sameSiteMode := http.SameSiteStrictMode
	if agentConfig.EnableCORS {
		sameSiteMode = http.SameSiteNoneMode
	}
	panelConfig := panel.Config{
		PairingCode:       agentConfig.PairingCode,
		SessionSigningKey: agentConfig.JWTSigningKey,
		SessionIssuer:     sessionIssuer,
		SessionCookieName: sessionCookieName,
		SessionTTL:        agentConfig.SessionTTL,
		SameSiteMode:      sameSiteMode,
		AllowInsecureHTTP: agentConfig.DevInsecureHTTP,
		GoogleClientID:    agentConfig.Google.ClientID,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if agentConfig.EnableCORS {
		corsMiddleware, corsErr := panel.ConfigureCORS(logger, agentConfig.CORSAllowedOrigins)
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	panel.MountPanelRoutes(router, panelConfig, panel.Dependencies{
		Auth:   authService,
		Poller: poller,
		Adder:  adder,
		State:  stateStore,
		Logger: logger,
	})

	server := &http.Server{
		Addr:              agentConfig.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		runCancel()
		graceCtx, graceCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", agentConfig.ListenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
